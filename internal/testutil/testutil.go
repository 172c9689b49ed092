// Package testutil provides testing utilities and helpers for the oidc-idp
// library.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-idp/storage"
)

// GenerateTestRSAKey generates a 2048-bit RSA key for signing in tests
func GenerateTestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// GenerateTestClient creates a test client registered for the basic code flow
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                "test-client-id",
		ClientSecretHash:        "$2a$10$pSF5t0uI26If51jdKwpq/.8vnbd9EUkXOj0j49QstnSU1MeXMWq2C", // hash of "test"
		ClientSecret:            "test",
		RedirectURIs:            []string{"https://example.com/callback"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: storage.AuthMethodSecretBasic,
		ClientName:              "Test Client",
		Scopes:                  []string{"openid", "email", "profile"},
		CreatedAt:               time.Now(),
	}
}

// GenerateTestAuthorizationCode creates a test authorization code record
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(32),
		ClientID:    "test-client-id",
		Subject:     "test-user-123",
		Scope:       "openid email profile",
		RedirectURI: "https://example.com/callback",
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
		Used:        false,
	}
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for
// testing. Returns (challenge, verifier) where challenge is the S256 hash of
// the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// SignTestJWT signs a JWT with the given HMAC secret, for request objects and
// client assertions in tests
func SignTestJWT(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test JWT: %v", err)
	}
	return signed
}

// SignTestJWTRSA signs a JWT with the given RSA key
func SignTestJWTRSA(t *testing.T, claims jwt.MapClaims, key *rsa.PrivateKey, kid string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test JWT: %v", err)
	}
	return signed
}

// UnsignedTestJWT builds an alg=none JWT for clients registered with
// RequestObjectSigningAlg "none"
func UnsignedTestJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned test JWT: %v", err)
	}
	return signed
}

// NewMockHTTPServer creates a test HTTP server with the given handler
func NewMockHTTPServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}
