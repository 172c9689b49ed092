package redis

import (
	"context"
	"fmt"
	"time"

	redisgo "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oidc-idp/storage"
)

// luaRevokeAllIssuedFrom atomically deletes every token minted from an
// authorization code. The per-code index holds tagged members ("a:" for
// access tokens, "r:" for refresh tokens); each is mapped to its storage key
// and deleted, then the index itself is removed.
//
// KEYS[1] = issued-from set key
// ARGV[1] = access token key prefix
// ARGV[2] = refresh token key prefix
//
// Returns the number of token keys actually deleted.
var luaRevokeAllIssuedFrom = redisgo.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local revoked = 0
for _, tagged in ipairs(members) do
    local kind = string.sub(tagged, 1, 2)
    local token = string.sub(tagged, 3)
    local key
    if kind == 'a:' then
        key = ARGV[1] .. token
    elseif kind == 'r:' then
        key = ARGV[2] .. token
    end
    if key then
        revoked = revoked + redis.call('DEL', key)
    end
end
redis.call('DEL', KEYS[1])
return revoked
`)

// SaveAccessToken saves an access token record with a TTL derived from its
// expiry and links it to its originating code for cascading revocation.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	ttl := calculateTTL(token.ExpiresAt)
	if err := s.setJSON(ctx, s.accessTokenKey(token.Token), toAccessTokenJSON(token), ttl); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	if token.CodeID != "" {
		if err := s.linkIssuedFrom(ctx, token.CodeID, "a:"+token.Token); err != nil {
			return err
		}
	}

	return nil
}

// GetAccessToken retrieves an access token record
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	record, err := getAndUnmarshal(ctx, s, s.accessTokenKey(token), storage.ErrTokenNotFound, fromAccessTokenJSON)
	if err != nil {
		return nil, err
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, storage.ErrTokenExpired
	}
	return record, nil
}

// DeleteAccessToken removes an access token
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.accessTokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

// SaveRefreshToken saves a refresh token record and links it to its
// originating code. Refresh tokens carry no expiry, so the key has no TTL.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}

	if err := s.setJSON(ctx, s.refreshTokenKey(token.Token), toRefreshTokenJSON(token), 0); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	if token.CodeID != "" {
		if err := s.linkIssuedFrom(ctx, token.CodeID, "r:"+token.Token); err != nil {
			return err
		}
	}

	return nil
}

// GetRefreshToken retrieves a refresh token record
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	return getAndUnmarshal(ctx, s, s.refreshTokenKey(token), storage.ErrTokenNotFound, fromRefreshTokenJSON)
}

// DeleteRefreshToken removes a refresh token
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.refreshTokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// linkIssuedFrom records a tagged token value in the per-code index. The
// index outlives the code so a late replay still finds tokens to revoke.
func (s *Store) linkIssuedFrom(ctx context.Context, codeID, tagged string) error {
	key := s.issuedFromKey(codeID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, tagged)
	pipe.Expire(ctx, key, issuedFromRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index issued token: %w", err)
	}
	return nil
}

// ============================================================
// RevocationStore Implementation
// ============================================================

// RevokeAllIssuedFrom revokes every access and refresh token minted from the
// given authorization code. This is the containment action for code replay.
func (s *Store) RevokeAllIssuedFrom(ctx context.Context, codeID string) (int, error) {
	if codeID == "" {
		return 0, fmt.Errorf("codeID cannot be empty")
	}

	revoked, err := luaRevokeAllIssuedFrom.Run(ctx, s.client,
		[]string{s.issuedFromKey(codeID)},
		s.prefix+"access:",
		s.prefix+"refresh:",
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to revoke issued tokens: %w", err)
	}

	if revoked > 0 {
		s.logger.Warn("Revoked all tokens issued from authorization code",
			"code_prefix", safeTruncate(codeID, artifactLogLength),
			"tokens_revoked", revoked)
	}

	return revoked, nil
}

// GetTokensIssuedFrom retrieves the live token values minted from a code
func (s *Store) GetTokensIssuedFrom(ctx context.Context, codeID string) ([]string, error) {
	if codeID == "" {
		return nil, fmt.Errorf("codeID cannot be empty")
	}

	members, err := s.client.SMembers(ctx, s.issuedFromKey(codeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read issued token index: %w", err)
	}

	tokens := make([]string, 0, len(members))
	for _, tagged := range members {
		if len(tagged) < 2 {
			continue
		}
		kind, token := tagged[:2], tagged[2:]
		var key string
		switch kind {
		case "a:":
			key = s.accessTokenKey(token)
		case "r:":
			key = s.refreshTokenKey(token)
		default:
			continue
		}
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check token existence: %w", err)
		}
		if exists > 0 {
			tokens = append(tokens, token)
		}
	}

	return tokens, nil
}
