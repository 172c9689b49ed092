package server

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/oidc-idp/signing"
	"github.com/giantswarm/oidc-idp/storage"
)

// TokenSet is a freshly minted set of artifacts returned from the token
// endpoint or embedded in an authorization response.
type TokenSet struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// mintAccessToken creates and persists an opaque access token. codeID links
// the token to its originating authorization code for cascading revocation;
// it is empty for grants that do not involve a code.
func (s *Server) mintAccessToken(ctx context.Context, client *storage.Client, subject, scope, codeID, claims string) (*storage.AccessToken, error) {
	now := time.Now()
	token := &storage.AccessToken{
		Token:     generateRandomToken(),
		ClientID:  client.ClientID,
		Subject:   subject,
		Scope:     scope,
		CodeID:    codeID,
		Claims:    claims,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	if err := s.store.SaveAccessToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}
	return token, nil
}

// mintRefreshToken creates and persists a refresh token carrying enough of
// the original grant to reproduce its token set on redemption.
func (s *Server) mintRefreshToken(ctx context.Context, client *storage.Client, subject, scope, codeID, claims, nonce string, idTokenRequested bool) (*storage.RefreshToken, error) {
	token := &storage.RefreshToken{
		Token:            generateRandomToken(),
		ClientID:         client.ClientID,
		Subject:          subject,
		Scope:            scope,
		CodeID:           codeID,
		Claims:           claims,
		Nonce:            nonce,
		IDTokenRequested: idTokenRequested,
		CreatedAt:        time.Now(),
	}
	if err := s.store.SaveRefreshToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}
	return token, nil
}

// mintIDToken assembles and signs an ID token for the given subject and
// audience client. accessToken and code, when non-empty, produce at_hash and
// c_hash binding claims. Requested claim constraints are applied on top of
// the standard claim set.
func (s *Server) mintIDToken(ctx context.Context, client *storage.Client, subjectID, nonce, accessToken, code string, claimsReq *ClaimsRequest) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": s.signer.Issuer(),
		"sub": subjectID,
		"aud": client.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(s.Config.IDTokenTTL) * time.Second).Unix(),
		"jti": uuid.NewString(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	alg := s.Config.IDTokenSigningAlg
	if accessToken != "" {
		h, err := halfHash(alg, accessToken)
		if err != nil {
			return "", err
		}
		claims["at_hash"] = h
	}
	if code != "" {
		h, err := halfHash(alg, code)
		if err != nil {
			return "", err
		}
		claims["c_hash"] = h
	}

	if claimsReq != nil && len(claimsReq.IDToken) > 0 {
		subject, err := s.backend.Lookup(ctx, subjectID)
		if err != nil {
			return "", fmt.Errorf("subject lookup failed: %w", err)
		}
		for name, value := range filterClaims(subject.Claims(), claimsReq.IDToken, nil) {
			if _, reserved := claims[name]; !reserved {
				claims[name] = value
			}
		}
	}

	var secret []byte
	if signing.IsHMAC(alg) {
		if client.ClientSecret == "" {
			return "", fmt.Errorf("client has no shared secret for %s ID tokens", alg)
		}
		secret = []byte(client.ClientSecret)
	}
	return s.signer.Sign(alg, claims, secret)
}

// halfHash computes the OIDC token-binding hash: the left half of the hash
// matching the signing algorithm's bit size, base64url encoded without
// padding.
func halfHash(alg, value string) (string, error) {
	var digest []byte
	switch {
	case strings.HasSuffix(alg, "256"), alg == signing.AlgNone:
		h := sha256.Sum256([]byte(value))
		digest = h[:]
	case strings.HasSuffix(alg, "384"):
		h := sha512.Sum384([]byte(value))
		digest = h[:]
	case strings.HasSuffix(alg, "512"):
		h := sha512.Sum512([]byte(value))
		digest = h[:]
	default:
		return "", fmt.Errorf("cannot compute token hash for algorithm %s", alg)
	}
	return base64.RawURLEncoding.EncodeToString(digest[:len(digest)/2]), nil
}
