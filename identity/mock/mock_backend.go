// Package mock provides a mock implementation of the identity Backend
// interface for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oidc-idp/identity"
)

// Backend is a mock identity backend. Subjects are registered up front with
// their password; Authenticate and Lookup behavior can be overridden per test
// via the function fields.
type Backend struct {
	// AuthenticateFunc overrides Authenticate when set.
	AuthenticateFunc func(ctx context.Context, username, password string, extra map[string]string) (*identity.Subject, error)

	// LookupFunc overrides Lookup when set.
	LookupFunc func(ctx context.Context, subjectID string) (*identity.Subject, error)

	// CallCounts tracks how many times each method was called.
	CallCounts map[string]int

	mu       sync.RWMutex
	subjects map[string]*subjectRecord
}

type subjectRecord struct {
	password string
	subject  *identity.Subject
}

// NewBackend creates an empty mock backend.
func NewBackend() *Backend {
	return &Backend{
		CallCounts: make(map[string]int),
		subjects:   make(map[string]*subjectRecord),
	}
}

// AddSubject registers a subject with the given password. The subject is
// keyed both by username (for Authenticate) and by its ID (for Lookup).
func (b *Backend) AddSubject(username, password string, subject *identity.Subject) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := &subjectRecord{password: password, subject: subject}
	b.subjects[username] = rec
	b.subjects[subject.ID] = rec
}

func (b *Backend) count(method string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCounts[method]++
}

// Authenticate implements identity.Backend.
func (b *Backend) Authenticate(ctx context.Context, username, password string, extra map[string]string) (*identity.Subject, error) {
	b.count("Authenticate")
	if b.AuthenticateFunc != nil {
		return b.AuthenticateFunc(ctx, username, password, extra)
	}

	b.mu.RLock()
	rec, ok := b.subjects[username]
	b.mu.RUnlock()
	if !ok || rec.password != password {
		return nil, identity.ErrInvalidCredentials
	}
	return rec.subject, nil
}

// Lookup implements identity.Backend.
func (b *Backend) Lookup(ctx context.Context, subjectID string) (*identity.Subject, error) {
	b.count("Lookup")
	if b.LookupFunc != nil {
		return b.LookupFunc(ctx, subjectID)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.subjects[subjectID]
	if !ok {
		return nil, identity.ErrInvalidCredentials
	}
	return rec.subject, nil
}

var _ identity.Backend = (*Backend)(nil)
