// Package identity defines the interface to the external identity backend that
// verifies resource-owner credentials. The core never stores or checks
// passwords itself; it forwards credential material to a Backend and consumes
// the returned Subject.
package identity

import (
	"context"
	"errors"
)

// ErrInvalidCredentials is returned by backends when the presented credential
// material does not identify a subject. The engine maps it to a generic
// access_denied or invalid_grant error without leaking backend detail.
var ErrInvalidCredentials = errors.New("invalid resource owner credentials")

// Backend verifies resource-owner credentials against a directory or identity
// store. Implementations are external collaborators; all calls are bounded by
// the request context.
type Backend interface {
	// Authenticate verifies a username/password pair. Extra carries any
	// non-standard credential parameters from the password grant; the
	// backend alone decides how to interpret them. Returns the
	// authenticated subject or ErrInvalidCredentials.
	Authenticate(ctx context.Context, username, password string, extra map[string]string) (*Subject, error)

	// Lookup fetches the identity claims for an already-authenticated
	// subject identifier, for ID token and userinfo assembly.
	Lookup(ctx context.Context, subjectID string) (*Subject, error)
}

// Subject represents an authenticated resource owner and the identity claims
// known about them at a point in time.
type Subject struct {
	// ID is the unique subject identifier ("sub" claim).
	ID string

	// Email is the subject's email address.
	Email string

	// EmailVerified indicates if the email is verified.
	EmailVerified bool

	// Name is the subject's full name.
	Name string

	// GivenName is the subject's first name.
	GivenName string

	// FamilyName is the subject's last name.
	FamilyName string

	// Picture is the URL of the subject's profile picture.
	Picture string

	// Locale is the subject's preferred locale.
	Locale string

	// Extra carries backend-specific claims beyond the standard profile
	// set, keyed by claim name.
	Extra map[string]any
}

// Claims flattens the subject into a claim map keyed by OIDC claim names.
// Scope filtering and claim-constraint matching happen in the engine, not
// here.
func (s *Subject) Claims() map[string]any {
	claims := map[string]any{
		"sub": s.ID,
	}
	if s.Email != "" {
		claims["email"] = s.Email
		claims["email_verified"] = s.EmailVerified
	}
	if s.Name != "" {
		claims["name"] = s.Name
	}
	if s.GivenName != "" {
		claims["given_name"] = s.GivenName
	}
	if s.FamilyName != "" {
		claims["family_name"] = s.FamilyName
	}
	if s.Picture != "" {
		claims["picture"] = s.Picture
	}
	if s.Locale != "" {
		claims["locale"] = s.Locale
	}
	for k, v := range s.Extra {
		claims[k] = v
	}
	return claims
}
