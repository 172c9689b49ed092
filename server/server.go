package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-idp/identity"
	"github.com/giantswarm/oidc-idp/instrumentation"
	"github.com/giantswarm/oidc-idp/security"
	"github.com/giantswarm/oidc-idp/signing"
	"github.com/giantswarm/oidc-idp/storage"
)

// safeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging artifact prefixes.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the authorization and token state machine together with
// its request/client security layer. It holds no mutable state beyond the
// lifetime of a single call; the only shared mutable resource is the store.
type Server struct {
	store       storage.Store
	backend     identity.Backend
	signer      *signing.Signer
	keyResolver *signing.KeyResolver

	// fetchClient retrieves request_uri documents; a single bounded call
	// per flow, no retry.
	fetchClient *http.Client

	Auditor                  *security.Auditor
	SecurityEventRateLimiter *security.RateLimiter
	Instrumentation          *instrumentation.Instrumentation
	Logger                   *slog.Logger
	Config                   *Config
}

// New creates a new provider engine.
func New(
	store storage.Store,
	backend identity.Backend,
	signer *signing.Signer,
	keyResolver *signing.KeyResolver,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("identity backend is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		store:       store,
		backend:     backend,
		signer:      signer,
		keyResolver: keyResolver,
		fetchClient: &http.Client{
			Timeout: time.Duration(config.RequestObjectFetchTimeout) * time.Second,
		},
		Config: config,
		Logger: logger,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetSecurityEventRateLimiter sets the rate limiter for security event
// logging. This prevents log flooding from repeated replay attempts.
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetRequestObjectFetchClient overrides the HTTP client used for request_uri
// retrieval (primarily for tests).
func (s *Server) SetRequestObjectFetchClient(c *http.Client) {
	if c != nil {
		s.fetchClient = c
	}
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// LookupClient fetches a registered client. Authorization endpoint requests
// name their client in the clear, before any authentication happens.
func (s *Server) LookupClient(ctx context.Context, clientID string) (*storage.Client, *Error) {
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil || client == nil {
		return nil, ErrInvalidRequest("unknown client_id")
	}
	return client, nil
}

// PublicJWKS returns the provider's public key set document for the jwks
// endpoint.
func (s *Server) PublicJWKS() ([]byte, error) {
	return s.signer.PublicJWKS()
}

// AuthenticateResourceOwner verifies resource-owner credentials against the
// identity backend and returns the subject identifier. Used by the HTTP layer
// to establish the end user before running an authorization decision.
func (s *Server) AuthenticateResourceOwner(ctx context.Context, username, password string) (string, error) {
	subject, err := s.backend.Authenticate(ctx, username, password, nil)
	if err != nil {
		return "", err
	}
	return subject.ID, nil
}

// allowSecurityEvent reports whether a security event for the given key may
// be logged, applying the flood-control limiter when configured.
func (s *Server) allowSecurityEvent(key string) bool {
	return s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(key)
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for codes and tokens.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
