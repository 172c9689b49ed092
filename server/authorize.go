package server

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/oidc-idp/security"
	"github.com/giantswarm/oidc-idp/storage"
)

// Prompt directives an authorization request may carry.
const (
	PromptNone    = "none"
	PromptLogin   = "login"
	PromptConsent = "consent"
)

// Response modes controlling the channel artifacts return on.
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
)

// AuthorizationResponse is the outcome of an authorization decision. The
// caller issues an HTTP redirect to RedirectURI; when Interactive is set the
// target is the login/consent surface rather than the client.
type AuthorizationResponse struct {
	RedirectURI string
	Interactive bool
}

// Authorize runs the authorization decision for a validated client.
// subjectID is the authenticated resource owner, or empty when no
// authentication has happened yet. Errors before the redirect URI is pinned
// down are returned synchronously; everything after travels back to the
// client on the response channel with the request's state echoed.
func (s *Server) Authorize(ctx context.Context, client *storage.Client, req *AuthorizationRequest, subjectID string) (*AuthorizationResponse, *Error) {
	redirectURI, err := resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		s.auditAuthorizationRejected(client.ClientID, err.Error())
		return nil, ErrInvalidRequest(err.Error())
	}

	// The redirect URI is trustworthy from here; response-type mismatch is
	// still a synchronous rejection because the response channel depends on
	// the requested combination.
	if err := validateResponseTypes(client, req.ResponseTypes); err != nil {
		s.auditAuthorizationRejected(client.ClientID, err.Error())
		return nil, ErrInvalidRequest(err.Error())
	}

	wantsCode := containsString(req.ResponseTypes, ResponseTypeCode)
	wantsToken := containsString(req.ResponseTypes, ResponseTypeToken)
	wantsIDToken := containsString(req.ResponseTypes, ResponseTypeIDToken)
	useFragment, oErr := resolveResponseChannel(req, wantsToken || wantsIDToken)
	if oErr != nil {
		return s.errorRedirect(client, redirectURI, false, req.State, oErr)
	}

	if oErr := validatePrompt(req.Prompt); oErr != nil {
		return s.errorRedirect(client, redirectURI, useFragment, req.State, oErr)
	}

	if wantsIDToken && req.Nonce == "" {
		return s.errorRedirect(client, redirectURI, useFragment, req.State,
			ErrInvalidRequest("nonce is required when requesting an id_token"))
	}

	scope, emptied := s.narrowScope(client, req.Scope)
	if emptied {
		return s.errorRedirect(client, redirectURI, useFragment, req.State,
			ErrInvalidScope("no requested scope is grantable to this client"))
	}

	// A fixed-value constraint on the subject claim demands that specific
	// end user; anyone else counts as not authenticated for this request.
	if subjectID != "" && !subjectMatchesConstraint(req.Claims, subjectID) {
		subjectID = ""
	}

	needsLogin := subjectID == "" || containsString(req.Prompt, PromptLogin)
	needsConsent := containsString(req.Prompt, PromptConsent) && !client.Trusted

	if containsString(req.Prompt, PromptNone) {
		if needsLogin || needsConsent {
			return s.errorRedirect(client, redirectURI, useFragment, req.State,
				ErrAccessDenied("interaction required but prompt=none"))
		}
	} else if needsLogin || needsConsent {
		return s.interactionRedirect(client, req, redirectURI, useFragment)
	}

	return s.issueAuthorizationResponse(ctx, client, req, subjectID, scope, redirectURI,
		useFragment, wantsCode, wantsToken, wantsIDToken)
}

// issueAuthorizationResponse mints the artifacts the response-type set calls
// for and renders them onto the response channel.
func (s *Server) issueAuthorizationResponse(ctx context.Context, client *storage.Client, req *AuthorizationRequest, subjectID, scope, redirectURI string, useFragment, wantsCode, wantsToken, wantsIDToken bool) (*AuthorizationResponse, *Error) {
	serializedClaims, err := req.Claims.Serialize()
	if err != nil {
		return s.errorRedirect(client, redirectURI, useFragment, req.State,
			ErrServerError("failed to record claim constraints"))
	}

	params := url.Values{}
	var codeValue, accessTokenValue string

	if wantsCode {
		now := time.Now()
		code := &storage.AuthorizationCode{
			Code:                generateRandomToken(),
			ClientID:            client.ClientID,
			Subject:             subjectID,
			Scope:               scope,
			RedirectURI:         req.RedirectURI,
			Nonce:               req.Nonce,
			IDTokenRequested:    wantsIDToken,
			Claims:              serializedClaims,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			CreatedAt:           now,
			ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
		}
		if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
			s.Logger.Error("Failed to save authorization code", "error", err)
			return s.errorRedirect(client, redirectURI, useFragment, req.State,
				ErrServerError("failed to issue authorization code"))
		}
		codeValue = code.Code
		params.Set("code", codeValue)

		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventAuthorizationCodeIssued,
				Subject:  subjectID,
				ClientID: client.ClientID,
				Details:  map[string]any{"scope": scope},
			})
		}
	}

	if wantsToken {
		access, err := s.mintAccessToken(ctx, client, subjectID, scope, "", serializedClaims)
		if err != nil {
			s.Logger.Error("Failed to mint access token", "error", err)
			return s.errorRedirect(client, redirectURI, useFragment, req.State,
				ErrServerError("failed to issue tokens"))
		}
		accessTokenValue = access.Token
		params.Set("access_token", accessTokenValue)
		params.Set("token_type", "Bearer")
		params.Set("expires_in", strconv.FormatInt(s.Config.AccessTokenTTL, 10))
	}

	if wantsIDToken {
		idToken, err := s.mintIDToken(ctx, client, subjectID, req.Nonce, accessTokenValue, codeValue, req.Claims)
		if err != nil {
			s.Logger.Error("Failed to mint ID token", "error", err)
			return s.errorRedirect(client, redirectURI, useFragment, req.State,
				ErrServerError("failed to issue tokens"))
		}
		params.Set("id_token", idToken)
	}

	if scope != req.Scope {
		params.Set("scope", scope)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}

	return &AuthorizationResponse{
		RedirectURI: buildRedirect(redirectURI, params, useFragment),
	}, nil
}

// resolveResponseChannel decides between the query and fragment channels.
// Pure code flows default to query, everything involving tokens uses the
// fragment; response_mode may force the fragment but never downgrade a token
// response onto the query string.
func resolveResponseChannel(req *AuthorizationRequest, hasTokens bool) (bool, *Error) {
	switch req.ResponseMode {
	case "":
		return hasTokens, nil
	case ResponseModeQuery:
		if hasTokens {
			return false, ErrInvalidRequest("response_mode=query is not allowed for token-bearing responses")
		}
		return false, nil
	case ResponseModeFragment:
		return true, nil
	default:
		return false, ErrInvalidRequest("unsupported response_mode: " + req.ResponseMode)
	}
}

// validatePrompt checks the prompt directive set: values must be known, and
// none excludes every other directive.
func validatePrompt(prompts []string) *Error {
	for _, p := range prompts {
		switch p {
		case PromptNone, PromptLogin, PromptConsent:
		default:
			return ErrInvalidRequest("unknown prompt value: " + p)
		}
	}
	if containsString(prompts, PromptNone) && len(prompts) > 1 {
		return ErrInvalidRequest("prompt=none cannot be combined with other prompt values")
	}
	return nil
}

// subjectMatchesConstraint evaluates a fixed-value constraint on the id_token
// sub claim against the authenticated subject.
func subjectMatchesConstraint(cr *ClaimsRequest, subjectID string) bool {
	if cr == nil {
		return true
	}
	constraint, present := cr.IDToken["sub"]
	if !present {
		return true
	}
	return constraint.Match(subjectID)
}

// interactionRedirect sends the flow to the login/consent surface with the
// full request encoded so it can be resumed after the user-facing step. The
// PKCE binding, response mode, and claim constraints must survive the round
// trip or the resumed flow silently loses them.
func (s *Server) interactionRedirect(client *storage.Client, req *AuthorizationRequest, redirectURI string, useFragment bool) (*AuthorizationResponse, *Error) {
	serializedClaims, err := req.Claims.Serialize()
	if err != nil {
		return s.errorRedirect(client, redirectURI, useFragment, req.State,
			ErrServerError("failed to record claim constraints"))
	}

	params := url.Values{}
	params.Set("client_id", req.ClientID)
	params.Set("response_type", strings.Join(req.ResponseTypes, " "))
	params.Set("redirect_uri", redirectURI)
	if req.Scope != "" {
		params.Set("scope", req.Scope)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	if req.Nonce != "" {
		params.Set("nonce", req.Nonce)
	}
	if len(req.Prompt) > 0 {
		params.Set("prompt", strings.Join(req.Prompt, " "))
	}
	if req.ResponseMode != "" {
		params.Set("response_mode", req.ResponseMode)
	}
	if req.CodeChallenge != "" {
		params.Set("code_challenge", req.CodeChallenge)
		if req.CodeChallengeMethod != "" {
			params.Set("code_challenge_method", req.CodeChallengeMethod)
		}
	}
	if serializedClaims != "" {
		params.Set("claims", serializedClaims)
	}
	return &AuthorizationResponse{
		RedirectURI: s.Config.InteractionEndpoint + "?" + params.Encode(),
		Interactive: true,
	}, nil
}

// FailAuthorization delivers a pre-decision failure, such as a rejected
// request object, back to the client on the response channel. The redirect
// target and state come from the plain query parameters since the request
// object never became trustworthy. Returns nil when no registered redirect
// target can be established; the caller then falls back to a synchronous
// error response.
func (s *Server) FailAuthorization(client *storage.Client, params url.Values, oErr *Error) *AuthorizationResponse {
	redirectURI, err := resolveRedirectURI(client, params.Get("redirect_uri"))
	if err != nil {
		return nil
	}

	responseTypes := normalizeResponseTypes(params.Get("response_type"))
	hasTokens := containsString(responseTypes, ResponseTypeToken) ||
		containsString(responseTypes, ResponseTypeIDToken)
	useFragment := hasTokens || params.Get("response_mode") == ResponseModeFragment

	resp, _ := s.errorRedirect(client, redirectURI, useFragment, params.Get("state"), oErr)
	return resp
}

// errorRedirect delivers a post-validation error back to the client on the
// response channel with the request's state echoed.
func (s *Server) errorRedirect(client *storage.Client, redirectURI string, useFragment bool, state string, oErr *Error) (*AuthorizationResponse, *Error) {
	s.auditAuthorizationRejected(client.ClientID, oErr.Description)

	params := url.Values{}
	params.Set("error", oErr.Code)
	if oErr.Description != "" {
		params.Set("error_description", oErr.Description)
	}
	if state != "" {
		params.Set("state", state)
	}
	return &AuthorizationResponse{
		RedirectURI: buildRedirect(redirectURI, params, useFragment),
	}, nil
}

// buildRedirect appends response parameters to a redirect URI on the chosen
// channel, preserving any query the registered URI already carries.
func buildRedirect(redirectURI string, params url.Values, useFragment bool) string {
	if useFragment {
		return redirectURI + "#" + params.Encode()
	}
	separator := "?"
	if strings.Contains(redirectURI, "?") {
		separator = "&"
	}
	return redirectURI + separator + params.Encode()
}

func (s *Server) auditAuthorizationRejected(clientID, reason string) {
	s.Logger.Debug("Authorization request rejected", "client_id", clientID, "reason", reason)
	if s.Auditor != nil && s.allowSecurityEvent("authz_reject:"+clientID) {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAuthorizationRejected,
			ClientID: clientID,
			Details:  map[string]any{"reason": reason},
		})
	}
}
