package signing

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/giantswarm/oidc-idp/storage"
)

// DefaultJWKSFetchTimeout bounds a single JWKS retrieval. On timeout the
// calling flow fails with a request-object or client-authentication error;
// there is no silent retry.
const DefaultJWKSFetchTimeout = 10 * time.Second

// KeyResolver resolves verification keys for a client's registered key
// material: an inline JWK Set document or a JWKS URI fetched through a
// caching jwk.Cache with auto-refresh.
type KeyResolver struct {
	cache      *jwk.Cache
	httpClient *http.Client

	mu         sync.Mutex
	registered map[string]bool
}

// NewKeyResolver creates a KeyResolver. The context bounds the lifetime of
// the background JWKS refresh; cancel it to stop refreshing.
func NewKeyResolver(ctx context.Context, fetchTimeout time.Duration) *KeyResolver {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultJWKSFetchTimeout
	}
	return &KeyResolver{
		cache:      jwk.NewCache(ctx),
		httpClient: &http.Client{Timeout: fetchTimeout},
		registered: make(map[string]bool),
	}
}

// ResolveClientKey resolves the verification key for a client, preferring
// inline registered keys over the JWKS URI. kid selects a key within the set;
// an empty kid is accepted only when the set holds exactly one key.
func (r *KeyResolver) ResolveClientKey(ctx context.Context, client *storage.Client, kid string) (any, error) {
	if client.JWKS != "" {
		set, err := jwk.Parse([]byte(client.JWKS))
		if err != nil {
			return nil, fmt.Errorf("failed to parse client JWKS: %w", err)
		}
		return lookupKey(set, kid)
	}

	if client.JWKSURI != "" {
		set, err := r.fetch(ctx, client.JWKSURI)
		if err != nil {
			return nil, err
		}
		return lookupKey(set, kid)
	}

	return nil, fmt.Errorf("client %s has no registered key material", client.ClientID)
}

// fetch returns the key set at jwksURI, registering the URI with the cache on
// first use. The cache honors standard HTTP caching and refreshes in the
// background; a fetch failure surfaces to the caller rather than serving a
// stale set past the cache's own invalidation.
func (r *KeyResolver) fetch(ctx context.Context, jwksURI string) (jwk.Set, error) {
	r.mu.Lock()
	if !r.registered[jwksURI] {
		if err := r.cache.Register(jwksURI, jwk.WithHTTPClient(r.httpClient)); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("failed to register JWKS URI: %w", err)
		}
		r.registered[jwksURI] = true
	}
	r.mu.Unlock()

	set, err := r.cache.Get(ctx, jwksURI)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	return set, nil
}

// lookupKey selects a key from the set by kid and extracts its raw form
// suitable for JWT verification.
func lookupKey(set jwk.Set, kid string) (any, error) {
	var key jwk.Key
	if kid != "" {
		k, found := set.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key ID %s not found in key set", kid)
		}
		key = k
	} else {
		if set.Len() != 1 {
			return nil, fmt.Errorf("key set holds %d keys, kid is required", set.Len())
		}
		k, ok := set.Key(0)
		if !ok {
			return nil, fmt.Errorf("key set is empty")
		}
		key = k
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to extract raw key: %w", err)
	}
	return raw, nil
}
