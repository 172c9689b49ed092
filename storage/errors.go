package storage

import "errors"

// Typed storage errors. Callers use errors.Is to distinguish conditions
// without string matching; the engine maps all of them onto generic wire
// errors so artifact existence never leaks.
var (
	// ErrClientNotFound is returned when a client ID is not registered.
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientCredentials is returned when a client secret does not
	// match the stored hash.
	ErrInvalidClientCredentials = errors.New("invalid client credentials")

	// ErrCodeNotFound is returned when an authorization code does not exist.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired is returned when an authorization code has expired.
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrCodeUsed is returned by AtomicCheckAndMarkCodeUsed when the code was
	// already consumed. The code record accompanies this error so the caller
	// can run replay containment.
	ErrCodeUsed = errors.New("authorization code already used")

	// ErrTokenNotFound is returned when an access or refresh token does not
	// exist or has been revoked.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned when a token exists but has expired.
	ErrTokenExpired = errors.New("token expired")
)
