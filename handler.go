package oidc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-idp/instrumentation"
	"github.com/giantswarm/oidc-idp/security"
	"github.com/giantswarm/oidc-idp/server"
	"github.com/giantswarm/oidc-idp/signing"
	"github.com/giantswarm/oidc-idp/storage"
)

const tokenTypeBearer = "Bearer"

// Endpoint paths served by the handler.
const (
	PathAuthorize           = "/authorize"
	PathToken               = "/token"
	PathUserInfo            = "/userinfo"
	PathValidate            = "/validate"
	PathOpenIDConfiguration = "/.well-known/openid-configuration"
	PathJWKS                = "/jwks.json"
)

// tokenRequestParams are the form fields the token endpoint consumes itself.
// Everything else is passed to the identity backend as extra credential
// material for the password grant.
var tokenRequestParams = map[string]bool{
	"grant_type":            true,
	"code":                  true,
	"redirect_uri":          true,
	"code_verifier":         true,
	"refresh_token":         true,
	"scope":                 true,
	"username":              true,
	"password":              true,
	"client_id":             true,
	"client_secret":         true,
	"client_assertion":      true,
	"client_assertion_type": true,
}

// Handler is a thin HTTP adapter for the provider engine.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers all provider endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathAuthorize, h.ServeAuthorization)
	mux.HandleFunc(PathToken, h.ServeToken)
	mux.HandleFunc(PathUserInfo, h.ServeUserInfo)
	mux.HandleFunc(PathValidate, h.ServeTokenValidation)
	mux.HandleFunc(PathOpenIDConfiguration, h.ServeOpenIDConfiguration)
	mux.HandleFunc(PathJWKS, h.ServeJWKS)
}

// ServeAuthorization handles the authorization endpoint. The resource owner
// may authenticate inline with HTTP Basic credentials; without them the
// decision engine sends the flow to the interaction surface (or fails it for
// prompt=none).
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oidc.http.authorize")
		defer span.End()
	}

	var params url.Values
	switch r.Method {
	case http.MethodGet:
		params = r.URL.Query()
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			h.writeError(w, server.ErrorCodeInvalidRequest, "Malformed form body", http.StatusBadRequest)
			h.recordHTTPMetrics(r, "authorize", http.StatusBadRequest, startTime)
			return
		}
		params = r.PostForm
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	client, oErr := h.server.LookupClient(ctx, params.Get("client_id"))
	if oErr != nil {
		instrumentation.SetSpanError(span, oErr.Description)
		h.writeError(w, oErr.Code, oErr.Description, oErr.Status)
		h.recordHTTPMetrics(r, "authorize", oErr.Status, startTime)
		return
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ClientID))

	req, oErr := h.server.ParseAuthorizationRequest(ctx, client, params)
	if oErr != nil {
		instrumentation.SetSpanError(span, oErr.Description)
		// The query-string redirect target was registered independently of
		// the rejected request object, so the error travels back on the
		// response channel whenever that target resolves.
		if resp := h.server.FailAuthorization(client, params, oErr); resp != nil {
			security.SetSecurityHeaders(w, h.server.Config.Issuer)
			security.SetNoStoreHeaders(w)
			http.Redirect(w, r, resp.RedirectURI, http.StatusFound)
			h.recordHTTPMetrics(r, "authorize", http.StatusFound, startTime)
			return
		}
		h.writeError(w, oErr.Code, oErr.Description, oErr.Status)
		h.recordHTTPMetrics(r, "authorize", oErr.Status, startTime)
		return
	}

	subjectID := h.authenticateResourceOwner(r)

	resp, oErr := h.server.Authorize(ctx, client, req, subjectID)
	if oErr != nil {
		instrumentation.SetSpanError(span, oErr.Description)
		h.writeError(w, oErr.Code, oErr.Description, oErr.Status)
		h.recordHTTPMetrics(r, "authorize", oErr.Status, startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordAuthorizationMetrics(r, client.ClientID, resp)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStoreHeaders(w)
	http.Redirect(w, r, resp.RedirectURI, http.StatusFound)
	h.recordHTTPMetrics(r, "authorize", http.StatusFound, startTime)
}

// authenticateResourceOwner resolves inline HTTP Basic credentials to a
// subject identifier. Failed or absent credentials leave the request
// unauthenticated; the decision engine decides what that means for the flow.
func (h *Handler) authenticateResourceOwner(r *http.Request) string {
	username, password, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	subjectID, err := h.server.AuthenticateResourceOwner(r.Context(), username, password)
	if err != nil {
		h.logger.Debug("Inline resource owner authentication failed", "error", err)
		return ""
	}
	return subjectID
}

// ServeToken handles the token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oidc.http.token")
		defer span.End()
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrorCodeInvalidRequest, "Malformed form body", http.StatusBadRequest)
		h.recordHTTPMetrics(r, "token", http.StatusBadRequest, startTime)
		return
	}

	client, oErr := h.server.AuthenticateClient(ctx, r)
	if oErr != nil {
		instrumentation.SetSpanError(span, oErr.Description)
		h.writeError(w, oErr.Code, oErr.Description, oErr.Status)
		h.recordHTTPMetrics(r, "token", oErr.Status, startTime)
		return
	}

	req := h.buildTokenRequest(r)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
	)

	set, oErr := h.server.Exchange(ctx, client, req)
	if oErr != nil {
		instrumentation.SetSpanError(span, oErr.Description)
		h.writeError(w, oErr.Code, oErr.Description, oErr.Status)
		h.recordHTTPMetrics(r, "token", oErr.Status, startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordTokensIssued(ctx, client.ClientID, req.GrantType)
	}

	h.writeTokenResponse(w, set)
	h.recordHTTPMetrics(r, "token", http.StatusOK, startTime)
}

// buildTokenRequest maps the token endpoint form onto a TokenRequest,
// collecting unrecognized fields as extra credential material.
func (h *Handler) buildTokenRequest(r *http.Request) *server.TokenRequest {
	req := &server.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scope:        r.PostFormValue("scope"),
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
	}

	for key, values := range r.PostForm {
		if tokenRequestParams[key] || len(values) == 0 {
			continue
		}
		if req.Extra == nil {
			req.Extra = make(map[string]string)
		}
		req.Extra[key] = values[0]
	}

	return req
}

// ServeUserInfo handles the userinfo endpoint.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := h.extractBearerToken(w, r)
	if !ok {
		h.recordHTTPMetrics(r, "userinfo", http.StatusBadRequest, startTime)
		return
	}

	resp, oErr := h.server.UserInfo(ctx, token)
	if oErr != nil {
		h.writeBearerError(w, oErr)
		h.recordUserInfoMetrics(r, false)
		h.recordHTTPMetrics(r, "userinfo", oErr.Status, startTime)
		return
	}

	h.recordUserInfoMetrics(r, true)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetPrivateNoStoreHeaders(w)

	if resp.JWT != "" {
		w.Header().Set("Content-Type", "application/jwt")
		_, _ = w.Write([]byte(resp.JWT))
	} else {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp.Claims)
	}
	h.recordHTTPMetrics(r, "userinfo", http.StatusOK, startTime)
}

// ServeTokenValidation handles the token validation endpoint. The token
// arrives as an access_token query parameter. Invalid tokens produce a
// valid=false result rather than an error so callers cannot distinguish
// expired from unknown artifacts.
func (h *Handler) ServeTokenValidation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.URL.Query().Get("access_token")
	if token == "" {
		h.writeError(w, server.ErrorCodeInvalidRequest, "access_token parameter is required", http.StatusBadRequest)
		h.recordHTTPMetrics(r, "validate", http.StatusBadRequest, startTime)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStoreHeaders(w)
	w.Header().Set("Content-Type", "application/json")

	record, oErr := h.server.ValidateAccessToken(ctx, token)
	if oErr != nil {
		_ = json.NewEncoder(w).Encode(TokenValidationResponse{Valid: false})
		h.recordHTTPMetrics(r, "validate", http.StatusOK, startTime)
		return
	}

	expiresIn := int64(time.Until(record.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	_ = json.NewEncoder(w).Encode(TokenValidationResponse{
		Valid:     true,
		ExpiresIn: expiresIn,
		Scope:     record.Scope,
		ClientID:  record.ClientID,
		Subject:   record.Subject,
	})
	h.recordHTTPMetrics(r, "validate", http.StatusOK, startTime)
}

// ServeOpenIDConfiguration handles the OpenID Connect Discovery endpoint.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := strings.TrimSuffix(h.server.Config.Issuer, "/")
	metadata := ProviderMetadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + PathAuthorize,
		TokenEndpoint:         issuer + PathToken,
		UserInfoEndpoint:      issuer + PathUserInfo,
		JWKSURI:               issuer + PathJWKS,
		ScopesSupported:       h.server.Config.SupportedScopes,
		ResponseTypesSupported: []string{
			"code", "token", "id_token",
			"code id_token", "code token", "id_token token",
			"code id_token token",
		},
		ResponseModesSupported:           []string{"query", "fragment"},
		GrantTypesSupported:              []string{server.GrantTypeAuthorizationCode, server.GrantTypeRefreshToken, server.GrantTypePassword},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{h.server.Config.IDTokenSigningAlg},
		UserInfoSigningAlgValuesSupported: []string{
			signing.AlgRS256, signing.AlgHS256,
		},
		RequestObjectSigningAlgValuesSupported: signing.SupportedAlgorithms,
		TokenEndpointAuthMethodsSupported: []string{
			storage.AuthMethodSecretBasic,
			storage.AuthMethodSecretPost,
			storage.AuthMethodSecretJWT,
			storage.AuthMethodPrivateKeyJWT,
		},
		ClaimsParameterSupported:      true,
		RequestParameterSupported:     true,
		RequestURIParameterSupported:  true,
		CodeChallengeMethodsSupported: h.supportedCodeChallengeMethods(),
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_ = json.NewEncoder(w).Encode(metadata)
}

func (h *Handler) supportedCodeChallengeMethods() []string {
	methods := []string{server.PKCEMethodS256}
	if h.server.Config.AllowPKCEPlain {
		methods = append(methods, server.PKCEMethodPlain)
	}
	return methods
}

// ServeJWKS handles the provider key set endpoint.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jwks, err := h.server.PublicJWKS()
	if err != nil {
		h.logger.Error("Failed to serialize provider JWKS", "error", err)
		h.writeError(w, server.ErrorCodeServerError, "Failed to serve key set", http.StatusInternalServerError)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(jwks)
}

// extractBearerToken pulls the bearer token from the Authorization header.
// Writes an error with a WWW-Authenticate challenge and returns false when
// absent or malformed.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeBearerError(w, server.ErrInvalidToken("Missing Authorization header"))
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) {
		h.writeBearerError(w, server.ErrInvalidToken("Authorization header must use the Bearer scheme"))
		return "", false
	}

	return parts[1], true
}

// writeBearerError writes a bearer-token error with an RFC 6750 style
// WWW-Authenticate challenge. Malformed or absent tokens surface as 400,
// scope shortfalls as 403.
func (h *Handler) writeBearerError(w http.ResponseWriter, oErr *server.Error) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	w.Header().Set("WWW-Authenticate",
		tokenTypeBearer+` error="`+oErr.Code+`", error_description="`+oErr.Description+`"`)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oErr.Code,
		ErrorDescription: oErr.Description,
	})
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, set *server.TokenSet) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStoreHeaders(w)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStoreHeaders(w)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="token endpoint"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// recordHTTPMetrics records request count and duration when instrumentation
// is configured.
func (h *Handler) recordHTTPMetrics(r *http.Request, endpoint string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	h.server.Instrumentation.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, status, durationMs)
}

func (h *Handler) recordAuthorizationMetrics(r *http.Request, clientID string, resp *server.AuthorizationResponse) {
	if h.server.Instrumentation == nil {
		return
	}
	outcome := "granted"
	if resp.Interactive {
		outcome = "interaction"
	}
	h.server.Instrumentation.Metrics().RecordAuthorizationDecision(r.Context(), clientID, outcome)
}

func (h *Handler) recordUserInfoMetrics(r *http.Request, success bool) {
	if h.server.Instrumentation == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordUserInfoRequest(r.Context(), success)
}
