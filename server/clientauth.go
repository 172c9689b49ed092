package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-idp/signing"
	"github.com/giantswarm/oidc-idp/storage"
)

// clientAssertionTypeJWTBearer is the only client_assertion_type accepted at
// the token endpoint (RFC 7523).
const clientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ClientCredentials is the authentication material presented by a client on a
// token endpoint request, together with the method it implies.
type ClientCredentials struct {
	ClientID  string
	Secret    string
	Assertion string

	// Method is the detected authentication method, one of the
	// storage.AuthMethod* constants.
	Method string
}

// extractClientCredentials pulls client authentication material from the
// request and determines which method the client is attempting. Presenting
// more than one method is rejected outright (RFC 6749 section 2.3).
func extractClientCredentials(r *http.Request) (*ClientCredentials, *Error) {
	basicID, basicSecret, hasBasic := r.BasicAuth()
	bodyID := r.PostFormValue("client_id")
	bodySecret := r.PostFormValue("client_secret")
	assertion := r.PostFormValue("client_assertion")
	assertionType := r.PostFormValue("client_assertion_type")

	presented := 0
	if hasBasic {
		presented++
	}
	if bodySecret != "" {
		presented++
	}
	if assertion != "" {
		presented++
	}
	if presented == 0 {
		return nil, ErrInvalidClient("client authentication required")
	}
	if presented > 1 {
		return nil, ErrInvalidRequest("multiple client authentication methods presented")
	}

	switch {
	case hasBasic:
		return &ClientCredentials{
			ClientID: basicID,
			Secret:   basicSecret,
			Method:   storage.AuthMethodSecretBasic,
		}, nil

	case bodySecret != "":
		if bodyID == "" {
			return nil, ErrInvalidClient("client_id is required with client_secret")
		}
		return &ClientCredentials{
			ClientID: bodyID,
			Secret:   bodySecret,
			Method:   storage.AuthMethodSecretPost,
		}, nil

	default:
		if assertionType != clientAssertionTypeJWTBearer {
			return nil, ErrInvalidRequest("unsupported client_assertion_type")
		}
		alg, _, err := signing.PeekHeader(assertion)
		if err != nil {
			return nil, ErrInvalidClient("malformed client_assertion")
		}

		creds := &ClientCredentials{ClientID: bodyID, Assertion: assertion}
		switch {
		case signing.IsHMAC(alg):
			creds.Method = storage.AuthMethodSecretJWT
		case signing.IsRSA(alg):
			creds.Method = storage.AuthMethodPrivateKeyJWT
		default:
			return nil, ErrInvalidClient("unsupported client_assertion algorithm")
		}

		// Without a body client_id the assertion's issuer names the client.
		if creds.ClientID == "" {
			id, err := assertionIssuer(assertion)
			if err != nil {
				return nil, ErrInvalidClient("malformed client_assertion")
			}
			creds.ClientID = id
		}
		return creds, nil
	}
}

// assertionIssuer reads the iss claim from an unverified assertion so the
// client record can be loaded. The signature is verified afterwards against
// that record's key material.
func assertionIssuer(assertion string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(assertion, claims); err != nil {
		return "", err
	}
	iss, ok := claims["iss"].(string)
	if !ok || iss == "" {
		return "", fmt.Errorf("client_assertion has no issuer")
	}
	return iss, nil
}

// AuthenticateClient authenticates a token endpoint request. The client must
// use exactly the method fixed at registration; any other method fails with
// invalid_client regardless of whether the presented credentials would have
// been valid. Unknown clients and bad credentials produce the same generic
// error.
func (s *Server) AuthenticateClient(ctx context.Context, r *http.Request) (*storage.Client, *Error) {
	creds, oErr := extractClientCredentials(r)
	if oErr != nil {
		return nil, oErr
	}

	client, err := s.store.GetClient(ctx, creds.ClientID)
	if err != nil || client == nil {
		s.auditClientAuthFailure(creds.ClientID, creds.Method, "unknown client")
		return nil, ErrInvalidClient("client authentication failed")
	}

	if client.TokenEndpointAuthMethod != creds.Method {
		s.auditClientAuthFailure(client.ClientID, creds.Method,
			fmt.Sprintf("method mismatch: registered %s", client.TokenEndpointAuthMethod))
		return nil, ErrInvalidClient("client authentication failed")
	}

	switch creds.Method {
	case storage.AuthMethodSecretBasic, storage.AuthMethodSecretPost:
		if err := s.store.ValidateClientSecret(ctx, client.ClientID, creds.Secret); err != nil {
			s.auditClientAuthFailure(client.ClientID, creds.Method, "secret verification failed")
			return nil, ErrInvalidClient("client authentication failed")
		}

	case storage.AuthMethodSecretJWT:
		if client.ClientSecret == "" {
			s.auditClientAuthFailure(client.ClientID, creds.Method, "client has no shared secret")
			return nil, ErrInvalidClient("client authentication failed")
		}
		claims, err := signing.VerifyHMAC(creds.Assertion, []byte(client.ClientSecret))
		if err != nil {
			s.auditClientAuthFailure(client.ClientID, creds.Method, "assertion verification failed")
			return nil, ErrInvalidClient("client authentication failed")
		}
		if err := s.validateAssertionClaims(claims, client.ClientID); err != nil {
			s.auditClientAuthFailure(client.ClientID, creds.Method, err.Error())
			return nil, ErrInvalidClient("client authentication failed")
		}

	case storage.AuthMethodPrivateKeyJWT:
		if s.keyResolver == nil {
			return nil, ErrServerError("no key resolver configured")
		}
		_, kid, err := signing.PeekHeader(creds.Assertion)
		if err != nil {
			s.auditClientAuthFailure(client.ClientID, creds.Method, "malformed assertion")
			return nil, ErrInvalidClient("client authentication failed")
		}
		key, err := s.keyResolver.ResolveClientKey(ctx, client, kid)
		if err != nil {
			s.auditClientAuthFailure(client.ClientID, creds.Method, "key resolution failed")
			return nil, ErrInvalidClient("client authentication failed")
		}
		claims, err := signing.VerifyRSA(creds.Assertion, key)
		if err != nil {
			s.auditClientAuthFailure(client.ClientID, creds.Method, "assertion verification failed")
			return nil, ErrInvalidClient("client authentication failed")
		}
		if err := s.validateAssertionClaims(claims, client.ClientID); err != nil {
			s.auditClientAuthFailure(client.ClientID, creds.Method, err.Error())
			return nil, ErrInvalidClient("client authentication failed")
		}

	default:
		return nil, ErrInvalidClient("client authentication failed")
	}

	return client, nil
}

// validateAssertionClaims enforces the RFC 7523 claim profile on a verified
// client assertion: iss and sub must both name the client, the audience must
// include this server's token endpoint, and an expiry must be present. The
// bare issuer is not an acceptable audience; an assertion minted for another
// endpoint of this server must not authenticate at the token endpoint.
func (s *Server) validateAssertionClaims(claims jwt.MapClaims, clientID string) error {
	iss, _ := claims["iss"].(string)
	sub, _ := claims["sub"].(string)
	if iss != clientID || sub != clientID {
		return fmt.Errorf("assertion iss/sub do not name the client")
	}

	if _, present := claims["exp"]; !present {
		return fmt.Errorf("assertion has no expiry")
	}

	aud, err := claims.GetAudience()
	if err != nil || len(aud) == 0 {
		return fmt.Errorf("assertion has no audience")
	}
	tokenEndpoint := strings.TrimSuffix(s.Config.Issuer, "/") + "/token"
	for _, a := range aud {
		if a == tokenEndpoint {
			return nil
		}
	}
	return fmt.Errorf("assertion audience does not include the token endpoint")
}

func (s *Server) auditClientAuthFailure(clientID, method, reason string) {
	s.Logger.Debug("Client authentication failed",
		"client_id", clientID, "method", method, "reason", reason)
	if s.Auditor != nil && s.allowSecurityEvent("client_auth:"+clientID) {
		s.Auditor.LogClientAuthFailure(clientID, method, reason)
	}
}
