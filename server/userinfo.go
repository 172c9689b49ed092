package server

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-idp/security"
	"github.com/giantswarm/oidc-idp/signing"
	"github.com/giantswarm/oidc-idp/storage"
)

// Scopes with defined claim sets at the userinfo endpoint.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// profileClaims are the claims released by the profile scope.
var profileClaims = []string{"name", "given_name", "family_name", "picture", "locale"}

// emailClaims are the claims released by the email scope.
var emailClaims = []string{"email", "email_verified"}

// ValidateAccessToken resolves a bearer token to its stored record. Unknown,
// revoked, and expired tokens all produce the same generic error; expiry is
// checked with the configured clock-skew grace period.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*storage.AccessToken, *Error) {
	if token == "" {
		return nil, ErrInvalidToken("access token required")
	}

	record, err := s.store.GetAccessToken(ctx, token)
	if err != nil || record == nil {
		return nil, ErrInvalidToken("invalid or expired access token")
	}

	grace := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	if security.IsExpiredWithGracePeriod(record.ExpiresAt, grace) {
		return nil, ErrInvalidToken("invalid or expired access token")
	}

	return record, nil
}

// UserInfoResponse is the result of a userinfo call: either a plain claim
// set or, for clients registered with a signed-response algorithm, a JWT
// carrying the same claims.
type UserInfoResponse struct {
	Claims map[string]any
	JWT    string
}

// UserInfo resolves an access token to the subject's identity claims. The
// token must carry the openid scope; the released claim set is bounded by
// the token's scopes and extended by any granted claim constraints.
func (s *Server) UserInfo(ctx context.Context, token string) (*UserInfoResponse, *Error) {
	record, oErr := s.ValidateAccessToken(ctx, token)
	if oErr != nil {
		return nil, oErr
	}

	if !containsString(splitScope(record.Scope), ScopeOpenID) {
		return nil, ErrInsufficientScope("access token does not carry the openid scope")
	}

	subject, err := s.backend.Lookup(ctx, record.Subject)
	if err != nil {
		s.Logger.Error("Identity backend lookup failed", "subject_hash", safeTruncate(record.Subject, 8), "error", err)
		return nil, ErrServerError("identity backend unavailable")
	}

	resolved := subject.Claims()
	released := map[string]any{"sub": subject.ID}

	scopes := splitScope(record.Scope)
	if containsString(scopes, ScopeProfile) {
		copyClaims(released, resolved, profileClaims)
	}
	if containsString(scopes, ScopeEmail) {
		copyClaims(released, resolved, emailClaims)
	}

	claimsReq, err := DeserializeClaimsRequest(record.Claims)
	if err != nil {
		s.Logger.Error("Failed to decode stored claim constraints", "error", err)
		return nil, ErrServerError("failed to assemble claims")
	}
	if claimsReq != nil {
		released = filterClaims(resolved, claimsReq.UserInfo, released)
	}

	resp := &UserInfoResponse{Claims: released}

	// Clients may register for a signed userinfo response; the claim set is
	// then wrapped in a JWT with issuer and audience.
	client, err := s.store.GetClient(ctx, record.ClientID)
	if err == nil && client != nil && client.UserInfoSignedResponseAlg != "" {
		signed, sErr := s.signUserInfo(client, released)
		if sErr != nil {
			s.Logger.Error("Failed to sign userinfo response", "error", sErr)
			return nil, ErrServerError("failed to assemble claims")
		}
		resp.JWT = signed
	}

	return resp, nil
}

// signUserInfo wraps a released claim set in a JWT per the client's
// registered userinfo signing algorithm.
func (s *Server) signUserInfo(client *storage.Client, released map[string]any) (string, error) {
	claims := jwt.MapClaims{
		"iss": s.signer.Issuer(),
		"aud": client.ClientID,
	}
	for k, v := range released {
		claims[k] = v
	}

	alg := client.UserInfoSignedResponseAlg
	var secret []byte
	if signing.IsHMAC(alg) {
		secret = []byte(client.ClientSecret)
	}
	return s.signer.Sign(alg, claims, secret)
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}

func copyClaims(dst, src map[string]any, names []string) {
	for _, name := range names {
		if v, present := src[name]; present {
			dst[name] = v
		}
	}
}
