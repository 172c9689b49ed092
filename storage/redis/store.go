package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redisgo "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oidc-idp/security"
	"github.com/giantswarm/oidc-idp/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "oidc:"

	// artifactLogLength is the number of characters to include when logging
	// artifact identifiers
	artifactLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// issuedFromRetention is how long the per-code token index outlives the
	// code itself. The index must survive code expiry so a late replay still
	// finds the tokens to revoke.
	issuedFromRetention = 24 * time.Hour
)

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oidc:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Redis-backed implementation of all storage interfaces.
type Store struct {
	client *redisgo.Client
	prefix string
	logger *slog.Logger

	// encryptor protects client shared secrets at rest
	// Access must be synchronized via encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a new Redis-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := redisgo.NewClient(&redisgo.Options{
		Addr:      cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// NewWithClient creates a store around an existing Redis client. Used by
// tests that run against miniredis.
func NewWithClient(client *redisgo.Client, keyPrefix string) *Store {
	prefix := keyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		logger: slog.Default(),
	}
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	err := s.client.Close()
	s.logger.Info("Redis storage connection closed")
	return err
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the encryptor for protecting client shared secrets at
// rest. When set, Client.ClientSecret is encrypted before storing in Redis
// and decrypted when retrieved.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Client secret encryption at rest enabled for Redis storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe)
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + code
}

// accessTokenKey returns the key for an access token: {prefix}access:{token}
func (s *Store) accessTokenKey(token string) string {
	return s.prefix + "access:" + token
}

// refreshTokenKey returns the key for a refresh token: {prefix}refresh:{token}
func (s *Store) refreshTokenKey(token string) string {
	return s.prefix + "refresh:" + token
}

// issuedFromKey returns the key for the per-code token index:
// {prefix}issued:{codeID}
func (s *Store) issuedFromKey(codeID string) string {
	return s.prefix + "issued:" + codeID
}

// ============================================================
// JSON Serialization
// ============================================================

// clientJSON is the JSON representation of a registered client
type clientJSON struct {
	ClientID                  string   `json:"client_id"`
	ClientSecretHash          string   `json:"client_secret_hash,omitempty"`
	ClientSecret              string   `json:"client_secret,omitempty"`
	RedirectURIs              []string `json:"redirect_uris"`
	ResponseTypes             []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod   string   `json:"token_endpoint_auth_method,omitempty"`
	RequestObjectSigningAlg   string   `json:"request_object_signing_alg,omitempty"`
	UserInfoSignedResponseAlg string   `json:"userinfo_signed_response_alg,omitempty"`
	JWKSURI                   string   `json:"jwks_uri,omitempty"`
	JWKS                      string   `json:"jwks,omitempty"`
	Scopes                    []string `json:"scopes,omitempty"`
	Trusted                   bool     `json:"trusted,omitempty"`
	ClientName                string   `json:"client_name,omitempty"`
	CreatedAt                 int64    `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:                  client.ClientID,
		ClientSecretHash:          client.ClientSecretHash,
		ClientSecret:              client.ClientSecret,
		RedirectURIs:              client.RedirectURIs,
		ResponseTypes:             client.ResponseTypes,
		TokenEndpointAuthMethod:   client.TokenEndpointAuthMethod,
		RequestObjectSigningAlg:   client.RequestObjectSigningAlg,
		UserInfoSignedResponseAlg: client.UserInfoSignedResponseAlg,
		JWKSURI:                   client.JWKSURI,
		JWKS:                      client.JWKS,
		Scopes:                    client.Scopes,
		Trusted:                   client.Trusted,
		ClientName:                client.ClientName,
		CreatedAt:                 client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ClientID:                  j.ClientID,
		ClientSecretHash:          j.ClientSecretHash,
		ClientSecret:              j.ClientSecret,
		RedirectURIs:              j.RedirectURIs,
		ResponseTypes:             j.ResponseTypes,
		TokenEndpointAuthMethod:   j.TokenEndpointAuthMethod,
		RequestObjectSigningAlg:   j.RequestObjectSigningAlg,
		UserInfoSignedResponseAlg: j.UserInfoSignedResponseAlg,
		JWKSURI:                   j.JWKSURI,
		JWKS:                      j.JWKS,
		Scopes:                    j.Scopes,
		Trusted:                   j.Trusted,
		ClientName:                j.ClientName,
		CreatedAt:                 time.Unix(j.CreatedAt, 0),
	}
}

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code                string `json:"code"`
	ClientID            string `json:"client_id"`
	Subject             string `json:"subject"`
	Scope               string `json:"scope,omitempty"`
	RedirectURI         string `json:"redirect_uri,omitempty"`
	Nonce               string `json:"nonce,omitempty"`
	IDTokenRequested    bool   `json:"id_token_requested,omitempty"`
	Claims              string `json:"claims,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
	Used                bool   `json:"used"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		Subject:             code.Subject,
		Scope:               code.Scope,
		RedirectURI:         code.RedirectURI,
		Nonce:               code.Nonce,
		IDTokenRequested:    code.IDTokenRequested,
		Claims:              code.Claims,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
		Used:                code.Used,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		Subject:             j.Subject,
		Scope:               j.Scope,
		RedirectURI:         j.RedirectURI,
		Nonce:               j.Nonce,
		IDTokenRequested:    j.IDTokenRequested,
		Claims:              j.Claims,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Used:                j.Used,
	}
}

// accessTokenJSON is the JSON representation of an access token record
type accessTokenJSON struct {
	Token     string `json:"token"`
	ClientID  string `json:"client_id"`
	Subject   string `json:"subject"`
	Scope     string `json:"scope,omitempty"`
	CodeID    string `json:"code_id,omitempty"`
	Claims    string `json:"claims,omitempty"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func toAccessTokenJSON(t *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:     t.Token,
		ClientID:  t.ClientID,
		Subject:   t.Subject,
		Scope:     t.Scope,
		CodeID:    t.CodeID,
		Claims:    t.Claims,
		CreatedAt: t.CreatedAt.Unix(),
		ExpiresAt: t.ExpiresAt.Unix(),
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	if j == nil {
		return nil
	}
	return &storage.AccessToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		Subject:   j.Subject,
		Scope:     j.Scope,
		CodeID:    j.CodeID,
		Claims:    j.Claims,
		CreatedAt: time.Unix(j.CreatedAt, 0),
		ExpiresAt: time.Unix(j.ExpiresAt, 0),
	}
}

// refreshTokenJSON is the JSON representation of a refresh token record
type refreshTokenJSON struct {
	Token            string `json:"token"`
	ClientID         string `json:"client_id"`
	Subject          string `json:"subject"`
	Scope            string `json:"scope,omitempty"`
	CodeID           string `json:"code_id,omitempty"`
	Claims           string `json:"claims,omitempty"`
	Nonce            string `json:"nonce,omitempty"`
	IDTokenRequested bool   `json:"id_token_requested,omitempty"`
	CreatedAt        int64  `json:"created_at"`
}

func toRefreshTokenJSON(t *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		Token:            t.Token,
		ClientID:         t.ClientID,
		Subject:          t.Subject,
		Scope:            t.Scope,
		CodeID:           t.CodeID,
		Claims:           t.Claims,
		Nonce:            t.Nonce,
		IDTokenRequested: t.IDTokenRequested,
		CreatedAt:        t.CreatedAt.Unix(),
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	if j == nil {
		return nil
	}
	return &storage.RefreshToken{
		Token:            j.Token,
		ClientID:         j.ClientID,
		Subject:          j.Subject,
		Scope:            j.Scope,
		CodeID:           j.CodeID,
		Claims:           j.Claims,
		Nonce:            j.Nonce,
		IDTokenRequested: j.IDTokenRequested,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
	}
}

// ============================================================
// Helper methods
// ============================================================

// getAndUnmarshal fetches a key from Redis, unmarshals the JSON data, and
// converts it to the target type.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redisgo.Nil) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// setJSON marshals a value and stores it under key with the given TTL.
// A zero TTL stores the key without expiry.
func (s *Store) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 (no expiry) for zero expiry times and a minimal positive TTL
// for already-expired records so Redis drops them promptly.
func calculateTTL(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return time.Millisecond
	}
	return ttl
}

// safeTruncate safely truncates a string to n characters
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
