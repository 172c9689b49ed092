// Package mock provides a mock implementation of the storage interfaces for
// testing. Every operation delegates to an overridable function, with
// map-backed defaults, so tests can inject failures at any point while
// keeping normal behavior everywhere else.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-idp/storage"
)

// MockStore is a mock implementation of storage.Store for testing
type MockStore struct {
	mu            sync.RWMutex
	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	issuedFrom    map[string][]string

	SaveClientFunc         func(client *storage.Client) error
	GetClientFunc          func(clientID string) (*storage.Client, error)
	ValidateSecretFunc     func(clientID, clientSecret string) error
	ListClientsFunc        func() ([]*storage.Client, error)
	SaveCodeFunc           func(code *storage.AuthorizationCode) error
	GetCodeFunc            func(code string) (*storage.AuthorizationCode, error)
	CheckAndMarkFunc       func(code string) (*storage.AuthorizationCode, error)
	DeleteCodeFunc         func(code string) error
	SaveAccessTokenFunc    func(token *storage.AccessToken) error
	GetAccessTokenFunc     func(token string) (*storage.AccessToken, error)
	DeleteAccessTokenFunc  func(token string) error
	SaveRefreshTokenFunc   func(token *storage.RefreshToken) error
	GetRefreshTokenFunc    func(token string) (*storage.RefreshToken, error)
	DeleteRefreshTokenFunc func(token string) error
	RevokeIssuedFromFunc   func(codeID string) (int, error)

	CallCounts map[string]int
}

var _ storage.Store = (*MockStore)(nil)

// NewMockStore creates a new mock store with map-backed default behavior
func NewMockStore() *MockStore {
	m := &MockStore{
		clients:       make(map[string]*storage.Client),
		codes:         make(map[string]*storage.AuthorizationCode),
		accessTokens:  make(map[string]*storage.AccessToken),
		refreshTokens: make(map[string]*storage.RefreshToken),
		issuedFrom:    make(map[string][]string),
		CallCounts:    make(map[string]int),
	}

	m.SaveClientFunc = func(client *storage.Client) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.clients[client.ClientID] = client
		return nil
	}

	m.GetClientFunc = func(clientID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		client, ok := m.clients[clientID]
		if !ok {
			return nil, storage.ErrClientNotFound
		}
		return client, nil
	}

	m.ValidateSecretFunc = func(clientID, clientSecret string) error {
		// Pre-computed bcrypt hash of "test" so the comparison runs even for
		// unknown clients
		dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

		m.mu.RLock()
		client, ok := m.clients[clientID]
		m.mu.RUnlock()

		hashToCompare := dummyHash
		if ok && client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}

		bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

		if !ok || bcryptErr != nil {
			return storage.ErrInvalidClientCredentials
		}
		return nil
	}

	m.ListClientsFunc = func() ([]*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		clients := make([]*storage.Client, 0, len(m.clients))
		for _, client := range m.clients {
			clients = append(clients, client)
		}
		return clients, nil
	}

	m.SaveCodeFunc = func(code *storage.AuthorizationCode) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.codes[code.Code] = code
		return nil
	}

	m.GetCodeFunc = func(code string) (*storage.AuthorizationCode, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		record, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrCodeNotFound
		}
		if !record.ExpiresAt.IsZero() && time.Now().After(record.ExpiresAt) {
			return nil, storage.ErrCodeExpired
		}
		return record, nil
	}

	m.CheckAndMarkFunc = func(code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		record, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrCodeNotFound
		}
		// Used before expired, matching the real stores: replay detection
		// has no expiry carve-out.
		if record.Used {
			recordCopy := *record
			return &recordCopy, storage.ErrCodeUsed
		}
		if !record.ExpiresAt.IsZero() && time.Now().After(record.ExpiresAt) {
			return nil, storage.ErrCodeExpired
		}
		record.Used = true
		recordCopy := *record
		return &recordCopy, nil
	}

	m.DeleteCodeFunc = func(code string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.codes, code)
		return nil
	}

	m.SaveAccessTokenFunc = func(token *storage.AccessToken) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.accessTokens[token.Token] = token
		if token.CodeID != "" {
			m.issuedFrom[token.CodeID] = append(m.issuedFrom[token.CodeID], "a:"+token.Token)
		}
		return nil
	}

	m.GetAccessTokenFunc = func(token string) (*storage.AccessToken, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		record, ok := m.accessTokens[token]
		if !ok {
			return nil, storage.ErrTokenNotFound
		}
		if !record.ExpiresAt.IsZero() && time.Now().After(record.ExpiresAt) {
			return nil, storage.ErrTokenExpired
		}
		return record, nil
	}

	m.DeleteAccessTokenFunc = func(token string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.accessTokens, token)
		return nil
	}

	m.SaveRefreshTokenFunc = func(token *storage.RefreshToken) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.refreshTokens[token.Token] = token
		if token.CodeID != "" {
			m.issuedFrom[token.CodeID] = append(m.issuedFrom[token.CodeID], "r:"+token.Token)
		}
		return nil
	}

	m.GetRefreshTokenFunc = func(token string) (*storage.RefreshToken, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		record, ok := m.refreshTokens[token]
		if !ok {
			return nil, storage.ErrTokenNotFound
		}
		return record, nil
	}

	m.DeleteRefreshTokenFunc = func(token string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.refreshTokens, token)
		return nil
	}

	m.RevokeIssuedFromFunc = func(codeID string) (int, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		revoked := 0
		for _, tagged := range m.issuedFrom[codeID] {
			if len(tagged) < 2 {
				continue
			}
			kind, token := tagged[:2], tagged[2:]
			switch kind {
			case "a:":
				if _, ok := m.accessTokens[token]; ok {
					delete(m.accessTokens, token)
					revoked++
				}
			case "r:":
				if _, ok := m.refreshTokens[token]; ok {
					delete(m.refreshTokens, token)
					revoked++
				}
			}
		}
		delete(m.issuedFrom, codeID)
		return revoked, nil
	}

	return m
}

// SaveClient saves a registered client
func (m *MockStore) SaveClient(_ context.Context, client *storage.Client) error {
	m.countCall("SaveClient")
	return m.SaveClientFunc(client)
}

// GetClient retrieves a client by ID
func (m *MockStore) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	m.countCall("GetClient")
	return m.GetClientFunc(clientID)
}

// ValidateClientSecret validates a client's secret
func (m *MockStore) ValidateClientSecret(_ context.Context, clientID, clientSecret string) error {
	m.countCall("ValidateClientSecret")
	return m.ValidateSecretFunc(clientID, clientSecret)
}

// ListClients lists all registered clients
func (m *MockStore) ListClients(_ context.Context) ([]*storage.Client, error) {
	m.countCall("ListClients")
	return m.ListClientsFunc()
}

// SaveAuthorizationCode saves an issued authorization code
func (m *MockStore) SaveAuthorizationCode(_ context.Context, code *storage.AuthorizationCode) error {
	m.countCall("SaveAuthorizationCode")
	return m.SaveCodeFunc(code)
}

// GetAuthorizationCode retrieves an authorization code
func (m *MockStore) GetAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	m.countCall("GetAuthorizationCode")
	return m.GetCodeFunc(code)
}

// AtomicCheckAndMarkCodeUsed atomically marks a code as used
func (m *MockStore) AtomicCheckAndMarkCodeUsed(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	m.countCall("AtomicCheckAndMarkCodeUsed")
	return m.CheckAndMarkFunc(code)
}

// DeleteAuthorizationCode removes an authorization code
func (m *MockStore) DeleteAuthorizationCode(_ context.Context, code string) error {
	m.countCall("DeleteAuthorizationCode")
	return m.DeleteCodeFunc(code)
}

// SaveAccessToken saves an access token record
func (m *MockStore) SaveAccessToken(_ context.Context, token *storage.AccessToken) error {
	m.countCall("SaveAccessToken")
	return m.SaveAccessTokenFunc(token)
}

// GetAccessToken retrieves an access token record
func (m *MockStore) GetAccessToken(_ context.Context, token string) (*storage.AccessToken, error) {
	m.countCall("GetAccessToken")
	return m.GetAccessTokenFunc(token)
}

// DeleteAccessToken removes an access token
func (m *MockStore) DeleteAccessToken(_ context.Context, token string) error {
	m.countCall("DeleteAccessToken")
	return m.DeleteAccessTokenFunc(token)
}

// SaveRefreshToken saves a refresh token record
func (m *MockStore) SaveRefreshToken(_ context.Context, token *storage.RefreshToken) error {
	m.countCall("SaveRefreshToken")
	return m.SaveRefreshTokenFunc(token)
}

// GetRefreshToken retrieves a refresh token record
func (m *MockStore) GetRefreshToken(_ context.Context, token string) (*storage.RefreshToken, error) {
	m.countCall("GetRefreshToken")
	return m.GetRefreshTokenFunc(token)
}

// DeleteRefreshToken removes a refresh token
func (m *MockStore) DeleteRefreshToken(_ context.Context, token string) error {
	m.countCall("DeleteRefreshToken")
	return m.DeleteRefreshTokenFunc(token)
}

// RevokeAllIssuedFrom revokes every token minted from a code
func (m *MockStore) RevokeAllIssuedFrom(_ context.Context, codeID string) (int, error) {
	m.countCall("RevokeAllIssuedFrom")
	return m.RevokeIssuedFromFunc(codeID)
}

// GetTokensIssuedFrom retrieves the live token values minted from a code
func (m *MockStore) GetTokensIssuedFrom(_ context.Context, codeID string) ([]string, error) {
	m.countCall("GetTokensIssuedFrom")

	m.mu.RLock()
	defer m.mu.RUnlock()
	tokens := make([]string, 0, len(m.issuedFrom[codeID]))
	for _, tagged := range m.issuedFrom[codeID] {
		if len(tagged) < 2 {
			continue
		}
		kind, token := tagged[:2], tagged[2:]
		switch kind {
		case "a:":
			if _, ok := m.accessTokens[token]; ok {
				tokens = append(tokens, token)
			}
		case "r:":
			if _, ok := m.refreshTokens[token]; ok {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens, nil
}

// ResetCallCounts resets all call counters
func (m *MockStore) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts = make(map[string]int)
}

func (m *MockStore) countCall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[name]++
}

// MustHash returns the bcrypt hash of a secret, for test fixtures
func MustHash(secret string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt: %v", err))
	}
	return string(hash)
}
