package server

import (
	"log/slog"
)

// Config holds OIDC provider configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// IDTokenTTL is how long ID tokens are valid
	IDTokenTTL int64 // seconds, default: 3600 (1 hour)

	// IDTokenSigningAlg is the JWS algorithm for ID tokens.
	// Default: RS256. HS* algorithms sign with the audience client's secret.
	IDTokenSigningAlg string

	// ClockSkewGracePeriod is the grace period for artifact expiration
	// checks (in seconds). Prevents false expiration errors due to time
	// synchronization issues. Default: 5 seconds
	ClockSkewGracePeriod int64

	// RequestObjectFetchTimeout bounds the request_uri retrieval (in
	// seconds). On timeout the authorization fails with
	// invalid_request_object; there is no retry. Default: 10 seconds
	RequestObjectFetchTimeout int64

	// SupportedScopes lists the scopes the server grants at all.
	// If empty, all scopes are allowed.
	SupportedScopes []string

	// InteractionEndpoint is the path of the interactive login/consent
	// surface the authorization endpoint redirects to when the flow needs a
	// user-facing step. The UI itself is outside the core.
	// Default: "/login"
	InteractionEndpoint string

	// AllowPKCEPlain allows the 'plain' code_challenge_method for legacy
	// clients. PKCE itself is optional in this protocol profile; when a
	// code_challenge is supplied it is enforced at redemption.
	// Default: false
	AllowPKCEPlain bool

	// AllowInsecureHTTP permits a non-localhost http:// issuer.
	// WARNING: OAuth over HTTP exposes all artifacts to interception.
	// Default: false
	AllowInsecureHTTP bool
}

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)

	if config.IDTokenSigningAlg == "" {
		config.IDTokenSigningAlg = "RS256"
	}
	if config.InteractionEndpoint == "" {
		config.InteractionEndpoint = "/login"
	}

	if config.AllowPKCEPlain {
		logger.Warn("'plain' PKCE method is enabled (NOT RECOMMENDED)",
			"recommendation", "Use S256 only")
	}

	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.IDTokenTTL == 0 {
		config.IDTokenTTL = 3600 // 1 hour
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.RequestObjectFetchTimeout == 0 {
		config.RequestObjectFetchTimeout = 10
	}
}
