package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"testing"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-idp/internal/testutil"
	"github.com/giantswarm/oidc-idp/signing"
	"github.com/giantswarm/oidc-idp/storage"
)

func requestObjectClient(alg string) *storage.Client {
	client := testutil.GenerateTestClient()
	client.RequestObjectSigningAlg = alg
	return client
}

func baseQuery() url.Values {
	return url.Values{
		"client_id":     {"test-client-id"},
		"response_type": {"code"},
		"scope":         {"openid"},
		"redirect_uri":  {"https://example.com/callback"},
		"state":         {"query-state"},
	}
}

// hashedRequestURI appends the content-hash fragment a request_uri must carry.
func hashedRequestURI(base, body string) string {
	hash := sha256.Sum256([]byte(body))
	return base + "#" + base64.RawURLEncoding.EncodeToString(hash[:])
}

func TestParseAuthorizationRequest_QueryOnly(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	client := testutil.GenerateTestClient()

	req, oErr := srv.ParseAuthorizationRequest(context.Background(), client, baseQuery())
	if oErr != nil {
		t.Fatalf("ParseAuthorizationRequest() error = %v", oErr)
	}
	if req.ClientID != "test-client-id" {
		t.Errorf("ClientID = %q, want test-client-id", req.ClientID)
	}
	if len(req.ResponseTypes) != 1 || req.ResponseTypes[0] != "code" {
		t.Errorf("ResponseTypes = %v, want [code]", req.ResponseTypes)
	}
	if req.Scope != "openid" || req.State != "query-state" {
		t.Errorf("query parameters not carried over: %+v", req)
	}
	if req.Claims != nil {
		t.Error("Claims should be nil without a request object")
	}
}

func TestParseAuthorizationRequest_MutuallyExclusive(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	client := requestObjectClient(signing.AlgHS256)

	params := baseQuery()
	params.Set("request", "a.b.c")
	params.Set("request_uri", "https://rp.example.com/req#abc")

	_, oErr := srv.ParseAuthorizationRequest(context.Background(), client, params)
	if oErr == nil || oErr.Code != ErrorCodeInvalidRequest {
		t.Errorf("error = %v, want invalid_request", oErr)
	}
}

func TestParseAuthorizationRequest_InlineObject(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	client := requestObjectClient(signing.AlgHS256)

	object := testutil.SignTestJWT(t, jwtlib.MapClaims{
		"client_id":     "test-client-id",
		"response_type": "id_token code",
		"scope":         "openid email",
		"state":         "object-state",
		"nonce":         "object-nonce",
		"claims": map[string]any{
			"userinfo": map[string]any{
				"email": map[string]any{"essential": true},
			},
		},
	}, "test")

	params := baseQuery()
	params.Set("request", object)

	req, oErr := srv.ParseAuthorizationRequest(context.Background(), client, params)
	if oErr != nil {
		t.Fatalf("ParseAuthorizationRequest() error = %v", oErr)
	}

	// Object claims override the query string.
	if req.Scope != "openid email" {
		t.Errorf("Scope = %q, want the object's scope", req.Scope)
	}
	if req.State != "object-state" {
		t.Errorf("State = %q, want the object's state", req.State)
	}
	if req.Nonce != "object-nonce" {
		t.Errorf("Nonce = %q, want the object's nonce", req.Nonce)
	}
	want := normalizeResponseTypes("code id_token")
	if len(req.ResponseTypes) != len(want) {
		t.Fatalf("ResponseTypes = %v, want %v", req.ResponseTypes, want)
	}
	for i := range want {
		if req.ResponseTypes[i] != want[i] {
			t.Errorf("ResponseTypes = %v, want %v", req.ResponseTypes, want)
		}
	}
	if req.Claims == nil || !req.Claims.UserInfo["email"].Essential() {
		t.Error("claims member not parsed from the request object")
	}
}

func TestParseAuthorizationRequest_ObjectRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("client_id mismatch", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgHS256)
		object := testutil.SignTestJWT(t, jwtlib.MapClaims{"client_id": "other-client"}, "test")
		params := baseQuery()
		params.Set("request", object)
		_, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr == nil || oErr.Code != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %v, want invalid_request_object", oErr)
		}
	})

	t.Run("alg does not match registration", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgRS256)
		object := testutil.SignTestJWT(t, jwtlib.MapClaims{"scope": "openid"}, "test")
		params := baseQuery()
		params.Set("request", object)
		_, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr == nil || oErr.Code != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %v, want invalid_request_object", oErr)
		}
	})

	t.Run("client not registered for request objects", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := testutil.GenerateTestClient() // no RequestObjectSigningAlg
		object := testutil.SignTestJWT(t, jwtlib.MapClaims{"scope": "openid"}, "test")
		params := baseQuery()
		params.Set("request", object)
		_, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr == nil || oErr.Code != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %v, want invalid_request_object", oErr)
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgHS256)
		object := testutil.SignTestJWT(t, jwtlib.MapClaims{"scope": "openid"}, "wrong-secret")
		params := baseQuery()
		params.Set("request", object)
		_, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr == nil || oErr.Code != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %v, want invalid_request_object", oErr)
		}
	})

	t.Run("unsigned object only for clients registered for none", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		object := testutil.UnsignedTestJWT(t, jwtlib.MapClaims{"scope": "openid email"})
		params := baseQuery()
		params.Set("request", object)

		noneClient := requestObjectClient(signing.AlgNone)
		req, oErr := srv.ParseAuthorizationRequest(ctx, noneClient, params)
		if oErr != nil {
			t.Fatalf("unsigned object for a none-registered client error = %v", oErr)
		}
		if req.Scope != "openid email" {
			t.Errorf("Scope = %q, want the object's scope", req.Scope)
		}

		hmacClient := requestObjectClient(signing.AlgHS256)
		if _, oErr := srv.ParseAuthorizationRequest(ctx, hmacClient, params); oErr == nil {
			t.Error("unsigned object for an HS256-registered client should be rejected")
		}
	})

	t.Run("malformed claims member", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgHS256)
		object := testutil.SignTestJWT(t, jwtlib.MapClaims{
			"claims": map[string]any{
				"userinfo": map[string]any{
					"email": map[string]any{"essential": "not-a-bool"},
				},
			},
		}, "test")
		params := baseQuery()
		params.Set("request", object)
		_, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr == nil || oErr.Code != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %v, want invalid_request_object", oErr)
		}
	})
}

func TestFailAuthorization(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	client := testutil.GenerateTestClient()
	oErr := ErrInvalidRequestObject("request object verification failed")

	t.Run("registered redirect target", func(t *testing.T) {
		resp := srv.FailAuthorization(client, baseQuery(), oErr)
		if resp == nil {
			t.Fatal("a registered redirect_uri should deliver the error on the response channel")
		}
		parsed, err := url.Parse(resp.RedirectURI)
		if err != nil {
			t.Fatalf("failed to parse error redirect: %v", err)
		}
		q := parsed.Query()
		if q.Get("error") != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %q, want invalid_request_object", q.Get("error"))
		}
		if q.Get("state") != "query-state" {
			t.Errorf("state = %q, want the query string's state echoed", q.Get("state"))
		}
	})

	t.Run("token response types use the fragment", func(t *testing.T) {
		params := baseQuery()
		params.Set("response_type", "id_token token")
		resp := srv.FailAuthorization(client, params, oErr)
		if resp == nil {
			t.Fatal("a registered redirect_uri should deliver the error on the response channel")
		}
		_, fragment, found := strings.Cut(resp.RedirectURI, "#")
		if !found {
			t.Fatalf("redirect = %q, want the error in the fragment", resp.RedirectURI)
		}
		vals, err := url.ParseQuery(fragment)
		if err != nil {
			t.Fatalf("failed to parse fragment: %v", err)
		}
		if vals.Get("error") != ErrorCodeInvalidRequestObject || vals.Get("state") != "query-state" {
			t.Errorf("fragment = %q, want error and state carried", fragment)
		}
	})

	t.Run("unregistered redirect target", func(t *testing.T) {
		params := baseQuery()
		params.Set("redirect_uri", "https://attacker.example.com/callback")
		if resp := srv.FailAuthorization(client, params, oErr); resp != nil {
			t.Error("an unregistered redirect_uri must not receive the error")
		}
	})
}

func TestParseAuthorizationRequest_RequestURI(t *testing.T) {
	ctx := context.Background()

	object := func(t *testing.T) string {
		return testutil.SignTestJWT(t, jwtlib.MapClaims{
			"client_id": "test-client-id",
			"scope":     "openid email",
		}, "test")
	}

	t.Run("fetch with valid hash", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgHS256)
		body := object(t)
		ts := testutil.NewMockHTTPServer(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		defer ts.Close()

		params := baseQuery()
		params.Set("request_uri", hashedRequestURI(ts.URL, body))

		req, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr != nil {
			t.Fatalf("ParseAuthorizationRequest() error = %v", oErr)
		}
		if req.Scope != "openid email" {
			t.Errorf("Scope = %q, want the fetched object's scope", req.Scope)
		}
	})

	t.Run("missing hash fragment", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgHS256)
		body := object(t)
		ts := testutil.NewMockHTTPServer(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		defer ts.Close()

		params := baseQuery()
		params.Set("request_uri", ts.URL)

		_, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr == nil || oErr.Code != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %v, want invalid_request_object", oErr)
		}
	})

	t.Run("hash mismatch", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgHS256)
		body := object(t)
		ts := testutil.NewMockHTTPServer(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		defer ts.Close()

		params := baseQuery()
		params.Set("request_uri", hashedRequestURI(ts.URL, "tampered content"))

		_, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr == nil || oErr.Code != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %v, want invalid_request_object", oErr)
		}
	})

	t.Run("non-200 response", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgHS256)
		body := object(t)
		ts := testutil.NewMockHTTPServer(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusGone)
		})
		defer ts.Close()

		params := baseQuery()
		params.Set("request_uri", hashedRequestURI(ts.URL, body))

		_, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr == nil || oErr.Code != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %v, want invalid_request_object", oErr)
		}
	})

	t.Run("oversized document", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgHS256)
		huge := strings.Repeat("a", maxRequestObjectSize+1)
		ts := testutil.NewMockHTTPServer(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(huge))
		})
		defer ts.Close()

		params := baseQuery()
		params.Set("request_uri", hashedRequestURI(ts.URL, huge))

		_, oErr := srv.ParseAuthorizationRequest(ctx, client, params)
		if oErr == nil || oErr.Code != ErrorCodeInvalidRequestObject {
			t.Errorf("error = %v, want invalid_request_object", oErr)
		}
	})

	t.Run("fetch happens exactly once", func(t *testing.T) {
		srv, _, _ := newTestServer(t, nil)
		client := requestObjectClient(signing.AlgHS256)
		fetches := 0
		ts := testutil.NewMockHTTPServer(func(w http.ResponseWriter, r *http.Request) {
			fetches++
			http.Error(w, "boom", http.StatusInternalServerError)
		})
		defer ts.Close()

		params := baseQuery()
		params.Set("request_uri", hashedRequestURI(ts.URL, "whatever"))

		if _, oErr := srv.ParseAuthorizationRequest(ctx, client, params); oErr == nil {
			t.Fatal("failed fetch should reject the request")
		}
		if fetches != 1 {
			t.Errorf("request_uri fetched %d times, want exactly 1", fetches)
		}
	})
}
