package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-idp/instrumentation"
	"github.com/giantswarm/oidc-idp/security"
	"github.com/giantswarm/oidc-idp/storage"
)

// artifactLogLength is the number of characters to include when logging
// artifact identifiers. Enough uniqueness for debugging while keeping logs
// secure.
const artifactLogLength = 8

// replayRetention is how long a consumed authorization code outlives its
// expiry. A replayed code must stay observable past its TTL so the
// redemption path can still revoke the tokens minted from it.
const replayRetention = 24 * time.Hour

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	// issuedFrom maps an authorization code to the token values minted from
	// it, the backbone of cascading revocation. Access tokens are tagged
	// "a:" and refresh tokens "r:".
	issuedFrom map[string][]string

	// encryptor protects client shared secrets at rest (optional)
	encryptor *security.Encryptor

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during collection)
	clientsCountAtomic       atomic.Int64
	codesCountAtomic         atomic.Int64
	accessTokensCountAtomic  atomic.Int64
	refreshTokensCountAtomic atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute is
// used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		issuedFrom:      make(map[string][]string),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEncryptor sets the encryptor for protecting client shared secrets at
// rest.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Client secret encryption at rest enabled for storage")
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.accessTokensCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client, encrypting its shared secret at rest
// when an encryptor is configured.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *client
	if s.encryptor != nil && s.encryptor.IsEnabled() && stored.ClientSecret != "" {
		enc, encErr := s.encryptor.Encrypt(stored.ClientSecret)
		if encErr != nil {
			err = fmt.Errorf("failed to encrypt client secret: %w", encErr)
			return err
		}
		stored.ClientSecret = enc
	}

	_, existed := s.clients[client.ClientID]
	s.clients[client.ClientID] = &stored
	if !existed {
		s.clientsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID, decrypting the shared secret when
// encryption at rest is configured.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	encryptor := s.encryptor
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	result := *client
	if encryptor != nil && encryptor.IsEnabled() && result.ClientSecret != "" {
		dec, decErr := encryptor.Decrypt(result.ClientSecret)
		if decErr != nil {
			err = fmt.Errorf("failed to decrypt client secret: %w", decErr)
			return nil, err
		}
		result.ClientSecret = dec
	}

	return &result, nil
}

// ValidateClientSecret validates a client's secret against the stored bcrypt
// hash. A dummy comparison runs for unknown clients so lookup failures are
// not distinguishable by timing.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// Pre-computed bcrypt hash of "test"; compared when the client does not
	// exist or has no hash, keeping the work constant
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	if err == nil && client.ClientSecretHash != "" {
		hashToCompare = client.ClientSecretHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil || bcryptErr != nil {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}

	return clients, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *code
	_, existed := s.codes[code.Code]
	s.codes[code.Code] = &stored
	if !existed {
		s.codesCountAtomic.Add(1)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", safeTruncate(code.Code, artifactLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it.
// Used codes remain visible so replay attempts can be detected; redemption
// goes through AtomicCheckAndMarkCodeUsed.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	if security.IsExpired(record.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}

	// Return a copy so callers cannot modify the stored record
	recordCopy := *record
	return &recordCopy, nil
}

// AtomicCheckAndMarkCodeUsed atomically checks that a code is unused and
// marks it as used. Only one concurrent redemption can succeed; every other
// one observes Used=true.
//
// The record is returned alongside ErrCodeUsed so the caller can run replay
// containment. The used check runs before the expiry check: a consumed code
// keeps reporting ErrCodeUsed after its expiry passes, so a late replay still
// reaches the containment path. For not-found and expired codes nil is
// returned to prevent information leakage.
func (s *Store) AtomicCheckAndMarkCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	// Write lock for the whole check-and-set
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}

	if record.Used {
		recordCopy := *record
		return &recordCopy, storage.ErrCodeUsed
	}

	if security.IsExpired(record.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}

	record.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", safeTruncate(code, artifactLogLength))

	recordCopy := *record
	return &recordCopy, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.codes[code]; existed {
		delete(s.codes, code)
		s.codesCountAtomic.Add(-1)
		s.logger.Debug("Deleted authorization code",
			"code_prefix", safeTruncate(code, artifactLogLength))
	}
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken saves an access token record and links it to its
// originating code for cascading revocation.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_access_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("invalid access token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *token
	_, existed := s.accessTokens[token.Token]
	s.accessTokens[token.Token] = &stored
	if !existed {
		s.accessTokensCountAtomic.Add(1)
	}
	if token.CodeID != "" {
		s.issuedFrom[token.CodeID] = append(s.issuedFrom[token.CodeID], "a:"+token.Token)
	}

	return nil
}

// GetAccessToken retrieves an access token record
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_access_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.accessTokens[token]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}
	if security.IsExpired(record.ExpiresAt) {
		err = storage.ErrTokenExpired
		return nil, err
	}

	recordCopy := *record
	return &recordCopy, nil
}

// DeleteAccessToken removes an access token
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteAccessTokenLocked(token)
	return nil
}

// SaveRefreshToken saves a refresh token record and links it to its
// originating code.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("invalid refresh token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *token
	_, existed := s.refreshTokens[token.Token]
	s.refreshTokens[token.Token] = &stored
	if !existed {
		s.refreshTokensCountAtomic.Add(1)
	}
	if token.CodeID != "" {
		s.issuedFrom[token.CodeID] = append(s.issuedFrom[token.CodeID], "r:"+token.Token)
	}

	return nil
}

// GetRefreshToken retrieves a refresh token record
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_refresh_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.refreshTokens[token]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	recordCopy := *record
	return &recordCopy, nil
}

// DeleteRefreshToken removes a refresh token
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteRefreshTokenLocked(token)
	return nil
}

func (s *Store) deleteAccessTokenLocked(token string) {
	if _, existed := s.accessTokens[token]; existed {
		delete(s.accessTokens, token)
		s.accessTokensCountAtomic.Add(-1)
	}
}

func (s *Store) deleteRefreshTokenLocked(token string) {
	if _, existed := s.refreshTokens[token]; existed {
		delete(s.refreshTokens, token)
		s.refreshTokensCountAtomic.Add(-1)
	}
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

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, tagged := range s.issuedFrom[codeID] {
		kind, token := tagged[:2], tagged[2:]
		switch kind {
		case "a:":
			if _, ok := s.accessTokens[token]; ok {
				s.deleteAccessTokenLocked(token)
				revoked++
			}
		case "r:":
			if _, ok := s.refreshTokens[token]; ok {
				s.deleteRefreshTokenLocked(token)
				revoked++
			}
		}
	}
	delete(s.issuedFrom, codeID)

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

	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]string, 0, len(s.issuedFrom[codeID]))
	for _, tagged := range s.issuedFrom[codeID] {
		kind, token := tagged[:2], tagged[2:]
		switch kind {
		case "a:":
			if _, ok := s.accessTokens[token]; ok {
				tokens = append(tokens, token)
			}
		case "r:":
			if _, ok := s.refreshTokens[token]; ok {
				tokens = append(tokens, token)
			}
		}
	}

	return tokens, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired codes and access tokens. Refresh tokens without an
// expiry live until revoked or deleted. Consumed codes are retained for
// replayRetention past their expiry so a late replay still finds the record
// and the token index it needs for cascading revocation.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for code, record := range s.codes {
		deadline := record.ExpiresAt
		if record.Used && !deadline.IsZero() {
			deadline = deadline.Add(replayRetention)
		}
		if security.IsExpired(deadline) {
			delete(s.codes, code)
			s.codesCountAtomic.Add(-1)
			delete(s.issuedFrom, code)
			cleaned++
		}
	}

	for token, record := range s.accessTokens {
		if security.IsExpired(record.ExpiresAt) {
			s.deleteAccessTokenLocked(token)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String("storage.operation", operation),
			attribute.String("storage.backend", "memory"),
		))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}

func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
