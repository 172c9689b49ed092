package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/giantswarm/oidc-idp/storage"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// Response type components a request may combine.
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
)

// validateHTTPSEnforcement ensures the provider runs over HTTPS outside
// localhost development. OAuth over HTTP exposes all artifacts and client
// credentials to interception.
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
		hostname := issuerURL.Hostname()
		if isLocalhostHostname(hostname) {
			return nil
		}
		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf(
				"issuer must use HTTPS in production (got http://%s); set AllowInsecureHTTP=true only for development",
				hostname)
		}
		s.Logger.Error("Running provider over HTTP",
			"issuer", s.Config.Issuer,
			"risk", "all artifacts exposed to network interception")
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}

// isLocalhostHostname checks if a hostname refers to the local machine,
// including the entire 127.0.0.0/8 range and IPv6 loopback.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}

	cleanHostname := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		cleanHostname = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(cleanHostname); ip != nil {
		return ip.IsLoopback()
	}

	return false
}

// resolveRedirectURI reconciles the requested redirect URI with the client's
// registration. An absent URI is acceptable only when the client registered
// exactly one. The returned URI is validated and safe to redirect to.
func resolveRedirectURI(client *storage.Client, requested string) (string, error) {
	if requested == "" {
		if len(client.RedirectURIs) != 1 {
			return "", fmt.Errorf("redirect_uri is required when multiple URIs are registered")
		}
		requested = client.RedirectURIs[0]
	}

	found := false
	for _, uri := range client.RedirectURIs {
		if uri == requested {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("redirect URI not registered for client")
	}

	parsed, err := url.Parse(requested)
	if err != nil {
		return "", fmt.Errorf("invalid redirect_uri format: %w", err)
	}
	// Redirect URIs must not carry fragments; the response channel owns the
	// fragment.
	if parsed.Fragment != "" {
		return "", fmt.Errorf("redirect_uri must not contain a fragment")
	}

	return requested, nil
}

// normalizeResponseTypes splits a response_type parameter into its sorted
// component set.
func normalizeResponseTypes(responseType string) []string {
	parts := strings.Fields(responseType)
	sort.Strings(parts)
	return parts
}

// responseTypesEqual reports whether two response-type combinations denote
// the same set, regardless of component order.
func responseTypesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// validateResponseTypes checks that the requested combination equals exactly
// one combination registered for the client. Registration fixes the full
// set; there is no subset or superset leniency.
func validateResponseTypes(client *storage.Client, requested []string) error {
	if len(requested) == 0 {
		return fmt.Errorf("response_type is required")
	}
	for _, rt := range requested {
		switch rt {
		case ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken:
		default:
			return fmt.Errorf("unknown response_type component: %s", rt)
		}
	}

	for _, registered := range client.ResponseTypes {
		if responseTypesEqual(requested, normalizeResponseTypes(registered)) {
			return nil
		}
	}
	return fmt.Errorf("response_type combination not registered for client")
}

// narrowScope intersects the requested scope with what the client is entitled
// to and what the server supports. Trusted clients keep their requested scope
// (bounded by server support). Returns the granted scope and whether
// narrowing removed everything usable.
func (s *Server) narrowScope(client *storage.Client, requested string) (string, bool) {
	requestedScopes := strings.Fields(requested)
	if len(requestedScopes) == 0 {
		return "", false
	}

	granted := make([]string, 0, len(requestedScopes))
	for _, scope := range requestedScopes {
		if len(s.Config.SupportedScopes) > 0 && !containsString(s.Config.SupportedScopes, scope) {
			continue
		}
		if !client.Trusted && len(client.Scopes) > 0 && !containsString(client.Scopes, scope) {
			continue
		}
		granted = append(granted, scope)
	}

	if len(granted) == 0 {
		return "", true
	}
	return strings.Join(granted, " "), false
}

// isScopeSubset reports whether every scope in sub also appears in super.
// Used to bound refresh-grant scope requests to the originally granted set.
func isScopeSubset(sub, super string) bool {
	superScopes := strings.Fields(super)
	for _, scope := range strings.Fields(sub) {
		if !containsString(superScopes, scope) {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// validatePKCE validates the PKCE code verifier against the challenge per
// RFC 7636. PKCE is optional in this protocol profile; a stored challenge
// makes verification mandatory at redemption.
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}

	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be %d-%d characters (RFC 7636)", MinCodeVerifierLength, MaxCodeVerifierLength)
	}

	// RFC 7636: code_verifier is restricted to [A-Za-z0-9-._~]
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computedChallenge string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])

	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("'%s' code_challenge_method is not allowed", PKCEMethodPlain)
		}
		computedChallenge = verifier

	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	// Constant-time comparison to prevent timing side channels.
	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}
