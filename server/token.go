package server

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oidc-idp/identity"
	"github.com/giantswarm/oidc-idp/security"
	"github.com/giantswarm/oidc-idp/storage"
)

// Supported grant types at the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypePassword          = "password"
)

// TokenRequest is a parsed token endpoint request. The client has already
// been authenticated when the engine sees it.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	Username     string
	Password     string

	// Extra carries additional credential parameters for the password grant,
	// passed through to the identity backend untouched.
	Extra map[string]string
}

// Exchange executes a token endpoint grant for an authenticated client and
// returns the minted token set.
func (s *Server) Exchange(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenSet, *Error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, client, req)
	case GrantTypeRefreshToken:
		return s.exchangeRefreshToken(ctx, client, req)
	case GrantTypePassword:
		return s.exchangePassword(ctx, client, req)
	case "":
		return nil, ErrInvalidRequest("grant_type is required")
	default:
		return nil, ErrUnsupportedGrantType("unsupported grant_type: " + req.GrantType)
	}
}

// exchangeAuthorizationCode redeems an authorization code for a token set.
// Redemption is single-use and atomic: the first concurrent redemption wins,
// every later one fails. A redemption attempt on an already-used code is
// treated as replay and revokes every token minted from that code.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenSet, *Error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	record, err := s.store.AtomicCheckAndMarkCodeUsed(ctx, req.Code)
	if err != nil {
		if record != nil && record.Used {
			s.handleCodeReplay(ctx, record)
		}
		// Unknown, expired, and replayed codes all surface the same error so
		// a caller cannot probe which artifacts exist.
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}

	if record.ClientID != client.ClientID {
		s.Logger.Warn("Authorization code redeemed by wrong client",
			"code_prefix", safeTruncate(req.Code, 8),
			"issued_to", record.ClientID,
			"redeemed_by", client.ClientID)
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}

	if record.RedirectURI != "" && req.RedirectURI != record.RedirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if err := s.validatePKCE(record.CodeChallenge, record.CodeChallengeMethod, req.CodeVerifier); err != nil {
		return nil, ErrInvalidGrant(err.Error())
	}

	set, oErr := s.mintTokenSet(ctx, client, record.Subject, record.Scope, record.Code,
		record.Claims, record.Nonce, record.IDTokenRequested, record.Code)
	if oErr != nil {
		return nil, oErr
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(record.Subject, client.ClientID, GrantTypeAuthorizationCode, record.Scope)
	}
	return set, nil
}

// exchangeRefreshToken redeems a refresh token for a fresh token set. The
// presented refresh token stays valid; redemption is repeatable until the
// token is revoked. The new set reproduces the shape of the original grant,
// including an ID token when the grant carried one.
func (s *Server) exchangeRefreshToken(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenSet, *Error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	record, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil || record == nil {
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	if record.ClientID != client.ClientID {
		s.Logger.Warn("Refresh token redeemed by wrong client",
			"token_prefix", safeTruncate(req.RefreshToken, 8),
			"issued_to", record.ClientID,
			"redeemed_by", client.ClientID)
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	scope := record.Scope
	if req.Scope != "" {
		if !isScopeSubset(req.Scope, record.Scope) {
			return nil, ErrInvalidScope("requested scope exceeds the original grant")
		}
		scope = req.Scope
	}

	set, oErr := s.mintTokenSet(ctx, client, record.Subject, scope, record.CodeID,
		record.Claims, record.Nonce, record.IDTokenRequested, "")
	if oErr != nil {
		return nil, oErr
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(record.Subject, client.ClientID, GrantTypeRefreshToken, scope)
	}
	return set, nil
}

// exchangePassword authenticates a resource owner directly against the
// identity backend and mints access and refresh tokens. No ID token is
// issued; the grant carries no authorization request to bind one to.
func (s *Server) exchangePassword(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenSet, *Error) {
	if req.Username == "" || req.Password == "" {
		return nil, ErrInvalidRequest("username and password are required")
	}

	subject, err := s.backend.Authenticate(ctx, req.Username, req.Password, req.Extra)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			if s.Auditor != nil && s.allowSecurityEvent("password_grant:"+client.ClientID) {
				s.Auditor.LogAuthFailure(req.Username, client.ClientID, "", "invalid resource owner credentials")
			}
			return nil, ErrInvalidGrant("invalid resource owner credentials")
		}
		s.Logger.Error("Identity backend error during password grant", "error", err)
		return nil, ErrServerError("authentication backend unavailable")
	}

	scope, emptied := s.narrowScope(client, req.Scope)
	if emptied {
		return nil, ErrInvalidScope("no requested scope is grantable to this client")
	}

	set, oErr := s.mintTokenSet(ctx, client, subject.ID, scope, "", "", "", false, "")
	if oErr != nil {
		return nil, oErr
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(subject.ID, client.ClientID, GrantTypePassword, scope)
	}
	return set, nil
}

// mintTokenSet mints the access/refresh pair plus an optional ID token and
// assembles the response body. codeForHash feeds c_hash and is only set when
// the set is minted directly at code redemption.
func (s *Server) mintTokenSet(ctx context.Context, client *storage.Client, subject, scope, codeID, serializedClaims, nonce string, withIDToken bool, codeForHash string) (*TokenSet, *Error) {
	access, err := s.mintAccessToken(ctx, client, subject, scope, codeID, serializedClaims)
	if err != nil {
		s.Logger.Error("Failed to mint access token", "error", err)
		return nil, ErrServerError("failed to issue tokens")
	}

	refresh, err := s.mintRefreshToken(ctx, client, subject, scope, codeID, serializedClaims, nonce, withIDToken)
	if err != nil {
		s.Logger.Error("Failed to mint refresh token", "error", err)
		return nil, ErrServerError("failed to issue tokens")
	}

	set := &TokenSet{
		AccessToken:  access.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(access.ExpiresAt).Seconds()),
		RefreshToken: refresh.Token,
		Scope:        scope,
	}

	if withIDToken {
		claimsReq, err := DeserializeClaimsRequest(serializedClaims)
		if err != nil {
			s.Logger.Error("Failed to decode stored claim constraints", "error", err)
			return nil, ErrServerError("failed to issue tokens")
		}
		idToken, err := s.mintIDToken(ctx, client, subject, nonce, access.Token, codeForHash, claimsReq)
		if err != nil {
			s.Logger.Error("Failed to mint ID token", "error", err)
			return nil, ErrServerError("failed to issue tokens")
		}
		set.IDToken = idToken
	}

	return set, nil
}

// handleCodeReplay contains a detected authorization code replay by revoking
// every token minted from the code and removing the code record.
func (s *Server) handleCodeReplay(ctx context.Context, record *storage.AuthorizationCode) {
	revoked, err := s.store.RevokeAllIssuedFrom(ctx, record.Code)
	if err != nil {
		s.Logger.Error("Cascading revocation failed after code replay",
			"code_prefix", safeTruncate(record.Code, 8), "error", err)
	}

	s.Logger.Warn("Authorization code replay detected",
		"code_prefix", safeTruncate(record.Code, 8),
		"client_id", record.ClientID,
		"tokens_revoked", revoked)

	if s.Auditor != nil && s.allowSecurityEvent(security.EventCodeReplayDetected+":"+record.ClientID) {
		s.Auditor.LogCodeReplay(record.Subject, record.ClientID, revoked)
	}

	if err := s.store.DeleteAuthorizationCode(ctx, record.Code); err != nil {
		s.Logger.Error("Failed to delete replayed authorization code", "error", err)
	}
}
