package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-idp/signing"
	"github.com/giantswarm/oidc-idp/storage"
)

// maxRequestObjectSize bounds the request_uri document size to prevent
// memory exhaustion from a hostile reference.
const maxRequestObjectSize = 256 * 1024

// AuthorizationRequest is the normalized, transient representation of an
// inbound authorization request after query parameters and any request
// object have been reconciled. It is constructed per call and never
// persisted.
type AuthorizationRequest struct {
	ClientID            string
	ResponseTypes       []string // normalized (sorted) component set
	Scope               string
	RedirectURI         string
	State               string
	Nonce               string
	Prompt              []string
	ResponseMode        string
	CodeChallenge       string
	CodeChallengeMethod string

	// Claims carries the per-claim constraints from the request object.
	Claims *ClaimsRequest
}

// ParseAuthorizationRequest builds an AuthorizationRequest from raw query
// parameters, processing an inline request object or request_uri reference
// when present. Claims inside the object take precedence over the query
// string; a client_id disagreement is a hard error.
func (s *Server) ParseAuthorizationRequest(ctx context.Context, client *storage.Client, params url.Values) (*AuthorizationRequest, *Error) {
	req := &AuthorizationRequest{
		ClientID:            params.Get("client_id"),
		ResponseTypes:       normalizeResponseTypes(params.Get("response_type")),
		Scope:               params.Get("scope"),
		RedirectURI:         params.Get("redirect_uri"),
		State:               params.Get("state"),
		Nonce:               params.Get("nonce"),
		Prompt:              strings.Fields(params.Get("prompt")),
		ResponseMode:        params.Get("response_mode"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	}

	requestJWT := params.Get("request")
	requestURI := params.Get("request_uri")

	if requestJWT == "" && requestURI == "" {
		return req, nil
	}
	if requestJWT != "" && requestURI != "" {
		return nil, ErrInvalidRequest("request and request_uri are mutually exclusive")
	}

	if requestURI != "" {
		fetched, err := s.fetchRequestObject(ctx, requestURI)
		if err != nil {
			s.auditRequestObjectRejected(client.ClientID, err.Error())
			return nil, ErrInvalidRequestObject("failed to retrieve request object")
		}
		requestJWT = fetched
	}

	claims, err := s.verifyRequestObject(ctx, client, requestJWT)
	if err != nil {
		s.auditRequestObjectRejected(client.ClientID, err.Error())
		return nil, ErrInvalidRequestObject("request object verification failed")
	}

	if oErr := applyRequestObjectClaims(req, client, claims); oErr != nil {
		s.auditRequestObjectRejected(client.ClientID, oErr.Description)
		return nil, oErr
	}

	return req, nil
}

// fetchRequestObject retrieves a request object by reference. The URI must
// carry a fragment holding base64url(SHA-256(body)); any fetch failure,
// malformed fragment, or hash mismatch is a hard error. One bounded call, no
// retry.
func (s *Server) fetchRequestObject(ctx context.Context, requestURI string) (string, error) {
	fetchURL, fragment, found := strings.Cut(requestURI, "#")
	if !found || fragment == "" {
		return "", fmt.Errorf("request_uri is missing its content-hash fragment")
	}
	if _, err := base64.RawURLEncoding.DecodeString(fragment); err != nil {
		return "", fmt.Errorf("request_uri fragment is not base64url: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid request_uri: %w", err)
	}

	resp, err := s.fetchClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request_uri fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request_uri fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestObjectSize+1))
	if err != nil {
		return "", fmt.Errorf("request_uri read failed: %w", err)
	}
	if len(body) > maxRequestObjectSize {
		return "", fmt.Errorf("request object exceeds %d bytes", maxRequestObjectSize)
	}

	hash := sha256.Sum256(body)
	computed := base64.RawURLEncoding.EncodeToString(hash[:])
	if subtle.ConstantTimeCompare([]byte(computed), []byte(fragment)) != 1 {
		return "", fmt.Errorf("request object content hash mismatch")
	}

	return string(body), nil
}

// verifyRequestObject checks the request object's signature against the
// client's registered request-object algorithm. The "none" algorithm is
// accepted only for clients explicitly registered for it; signature or
// structural failure is a hard error, never a silent fallback to query
// parameters.
func (s *Server) verifyRequestObject(ctx context.Context, client *storage.Client, rawJWT string) (jwt.MapClaims, error) {
	if client.RequestObjectSigningAlg == "" {
		return nil, fmt.Errorf("client is not registered for request objects")
	}

	alg, kid, err := signing.PeekHeader(rawJWT)
	if err != nil {
		return nil, err
	}
	if alg != client.RequestObjectSigningAlg {
		return nil, fmt.Errorf("request object alg %s does not match registered %s", alg, client.RequestObjectSigningAlg)
	}

	switch {
	case alg == signing.AlgNone:
		return signing.ParseUnsigned(rawJWT)

	case signing.IsHMAC(alg):
		if client.ClientSecret == "" {
			return nil, fmt.Errorf("client has no shared secret for HMAC verification")
		}
		return signing.VerifyHMAC(rawJWT, []byte(client.ClientSecret))

	case signing.IsRSA(alg):
		if s.keyResolver == nil {
			return nil, fmt.Errorf("no key resolver configured for asymmetric verification")
		}
		key, err := s.keyResolver.ResolveClientKey(ctx, client, kid)
		if err != nil {
			return nil, err
		}
		return signing.VerifyRSA(rawJWT, key)

	default:
		return nil, fmt.Errorf("unsupported request object algorithm: %s", alg)
	}
}

// applyRequestObjectClaims reconciles verified request-object claims onto the
// query-derived request. Object claims win; a client_id claim disagreeing
// with the query-string client is rejected to prevent request-object
// spoofing.
func applyRequestObjectClaims(req *AuthorizationRequest, client *storage.Client, claims jwt.MapClaims) *Error {
	if v, ok := claims["client_id"].(string); ok && v != "" {
		if v != client.ClientID {
			return ErrInvalidRequestObject("client_id in request object does not match the requesting client")
		}
	}

	if v, ok := claims["response_type"].(string); ok && v != "" {
		req.ResponseTypes = normalizeResponseTypes(v)
	}
	if v, ok := claims["scope"].(string); ok && v != "" {
		req.Scope = v
	}
	if v, ok := claims["redirect_uri"].(string); ok && v != "" {
		req.RedirectURI = v
	}
	if v, ok := claims["state"].(string); ok && v != "" {
		req.State = v
	}
	if v, ok := claims["nonce"].(string); ok && v != "" {
		req.Nonce = v
	}
	if v, ok := claims["prompt"].(string); ok && v != "" {
		req.Prompt = strings.Fields(v)
	}
	if v, ok := claims["response_mode"].(string); ok && v != "" {
		req.ResponseMode = v
	}

	if raw, present := claims["claims"]; present {
		cr, err := ParseClaimsRequest(raw)
		if err != nil {
			return ErrInvalidRequestObject("malformed claims member in request object")
		}
		req.Claims = cr
	}

	return nil
}

func (s *Server) auditRequestObjectRejected(clientID, reason string) {
	s.Logger.Debug("Request object rejected", "client_id", clientID, "reason", reason)
	if s.Auditor != nil {
		s.Auditor.LogRequestObjectRejected(clientID, reason)
	}
}
