package oidc

// ProviderMetadata represents OpenID Connect Discovery metadata
// (OpenID Connect Discovery 1.0, RFC 8414 compatible).
type ProviderMetadata struct {
	// Issuer is the provider's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// UserInfoEndpoint is the URL of the userinfo endpoint
	UserInfoEndpoint string `json:"userinfo_endpoint,omitempty"`

	// JWKSURI is the URL of the provider's JWK Set document
	JWKSURI string `json:"jwks_uri"`

	// ScopesSupported lists the scopes the provider grants
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the response type combinations supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// ResponseModesSupported lists the response modes supported
	ResponseModesSupported []string `json:"response_modes_supported,omitempty"`

	// GrantTypesSupported lists the grant types supported
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// SubjectTypesSupported lists the subject identifier types supported
	SubjectTypesSupported []string `json:"subject_types_supported"`

	// IDTokenSigningAlgValuesSupported lists the JWS algorithms for ID tokens
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`

	// UserInfoSigningAlgValuesSupported lists the JWS algorithms for signed
	// userinfo responses
	UserInfoSigningAlgValuesSupported []string `json:"userinfo_signing_alg_values_supported,omitempty"`

	// RequestObjectSigningAlgValuesSupported lists the JWS algorithms accepted
	// on request objects
	RequestObjectSigningAlgValuesSupported []string `json:"request_object_signing_alg_values_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication
	// methods supported at the token endpoint
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// ClaimsParameterSupported indicates support for the claims request
	// parameter inside request objects
	ClaimsParameterSupported bool `json:"claims_parameter_supported"`

	// RequestParameterSupported indicates support for the request parameter
	RequestParameterSupported bool `json:"request_parameter_supported"`

	// RequestURIParameterSupported indicates support for request_uri
	RequestURIParameterSupported bool `json:"request_uri_parameter_supported"`

	// CodeChallengeMethodsSupported lists the PKCE methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenValidationResponse is the body returned by the token validation
// endpoint. Invalid tokens yield valid=false with every other field empty.
type TokenValidationResponse struct {
	Valid     bool   `json:"valid"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
}
