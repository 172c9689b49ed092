// Package storage defines interfaces for persisting OAuth clients, authorization
// codes, and access/refresh tokens. It supports various backend implementations
// including in-memory and Redis.
package storage

import (
	"context"
	"time"
)

// Client authentication methods registered at the token endpoint.
const (
	AuthMethodSecretBasic   = "client_secret_basic"
	AuthMethodSecretPost    = "client_secret_post"
	AuthMethodSecretJWT     = "client_secret_jwt"
	AuthMethodPrivateKeyJWT = "private_key_jwt"
)

// Client represents a registered OAuth client.
// Client records are created by registration (external to the core) and are
// read-only to the engine.
type Client struct {
	ClientID string

	// ClientSecretHash is the bcrypt hash of the shared secret, used to
	// verify client_secret_basic and client_secret_post authentication.
	ClientSecretHash string

	// ClientSecret is the raw shared secret. It is required for
	// client_secret_jwt authentication and HMAC-signed request objects,
	// where the secret itself is the MAC key. Stores may encrypt it at rest.
	ClientSecret string

	RedirectURIs []string

	// ResponseTypes is the set of response-type combinations fixed at
	// registration. Each entry is a space-normalized combination such as
	// "code", "token id_token", or "code id_token token". An authorization
	// request must match one entry exactly.
	ResponseTypes []string

	// TokenEndpointAuthMethod is one of the AuthMethod* constants.
	TokenEndpointAuthMethod string

	// RequestObjectSigningAlg is the JWS algorithm the client signs request
	// objects with ("none", "HS256".."HS512", "RS256".."RS512"). Empty means
	// the client does not send request objects.
	RequestObjectSigningAlg string

	// UserInfoSignedResponseAlg, when set, makes the userinfo endpoint
	// return a JWT signed with this algorithm instead of plain JSON.
	UserInfoSignedResponseAlg string

	// JWKSURI points at the client's published key set for private_key_jwt
	// and asymmetric request-object verification.
	JWKSURI string

	// JWKS holds the client's key set inline as a serialized JWK Set
	// document. Used when the client registered keys directly instead of a
	// JWKS URI.
	JWKS string

	// Scopes lists the scopes the client is entitled to. Empty means no
	// restriction.
	Scopes []string

	// Trusted clients skip the consent step and are exempt from silent
	// scope narrowing.
	Trusted bool

	ClientName string
	CreatedAt  time.Time
}

// AuthorizationCode represents an issued authorization code.
// Invariant: at most one redemption ever succeeds. A second redemption
// attempt fails and cascades revocation over every token minted from the code.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	Subject     string
	Scope       string
	RedirectURI string

	// Nonce from the authorization request, carried into the ID token
	// minted at redemption.
	Nonce string

	// IDTokenRequested records whether the original response type included
	// id_token, so redemption knows whether to mint one.
	IDTokenRequested bool

	// Claims carries the serialized claim constraints from the request
	// object, applied when assembling ID token and userinfo claims.
	Claims string

	CodeChallenge       string
	CodeChallengeMethod string

	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// AccessToken represents an issued access token. Its lifecycle is independent
// of the originating code once issued, but it remains revocable as a cascade
// side effect.
type AccessToken struct {
	Token    string
	ClientID string
	Subject  string
	Scope    string

	// CodeID is the authorization code this token was minted from, empty
	// for tokens from the password grant or the authorization endpoint's
	// implicit response.
	CodeID string

	// Claims carries the claim constraints granted at authorization time.
	Claims string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// RefreshToken represents an issued refresh token. Redemption yields a fresh
// token set without consuming the refresh token's own validity; it is revoked
// individually or via cascade.
type RefreshToken struct {
	Token    string
	ClientID string
	Subject  string
	Scope    string
	CodeID   string
	Claims   string

	// Nonce is retained so refreshed ID tokens carry the original nonce.
	Nonce string

	// IDTokenRequested records whether the originating grant included an ID
	// token, so the refresh grant knows whether to mint a fresh one.
	IDTokenRequested bool

	CreatedAt time.Time
}

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's shared secret against the
	// stored bcrypt hash.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes).
	ListClients(ctx context.Context) ([]*Client, error)
}

// CodeStore defines the interface for managing authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// AtomicCheckAndMarkCodeUsed atomically checks that a code is unused and
	// unexpired and marks it as used. Returns the code record if successful,
	// or an error if the code is not found, expired, or already used.
	// When the code was already used, the returned record is non-nil with
	// Used=true so the caller can trigger cascading revocation.
	// SECURITY: This operation MUST be atomic so that two concurrent
	// redemptions of the same code cannot both appear to succeed.
	AtomicCheckAndMarkCodeUsed(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore defines the interface for access and refresh tokens.
type TokenStore interface {
	// SaveAccessToken saves an access token record.
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token record.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes an access token.
	DeleteAccessToken(ctx context.Context, token string) error

	// SaveRefreshToken saves a refresh token record.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token record.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token.
	DeleteRefreshToken(ctx context.Context, token string) error
}

// RevocationStore supports cascading revocation of tokens minted from a
// single authorization code. Required for code replay containment.
type RevocationStore interface {
	// RevokeAllIssuedFrom revokes every access and refresh token minted
	// from the given authorization code. Returns the number of tokens
	// revoked.
	// SECURITY: This is the replay-detection containment policy. It MUST
	// NOT race with a fresh mint from the same code; implementations pair
	// it with AtomicCheckAndMarkCodeUsed on the same record.
	RevokeAllIssuedFrom(ctx context.Context, codeID string) (int, error)

	// GetTokensIssuedFrom retrieves the token values minted from a code
	// (for testing and forensics).
	GetTokensIssuedFrom(ctx context.Context, codeID string) ([]string, error)
}

// Store combines all storage interfaces a complete backend implements.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
	RevocationStore
}
