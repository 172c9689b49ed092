package server

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-idp/internal/testutil"
	"github.com/giantswarm/oidc-idp/storage"
	storagemock "github.com/giantswarm/oidc-idp/storage/mock"
)

// seedAccessToken saves an access token for the test subject and returns it.
func seedAccessToken(t *testing.T, store *storagemock.MockStore, scope string, mutate func(*storage.AccessToken)) *storage.AccessToken {
	t.Helper()
	now := time.Now()
	token := &storage.AccessToken{
		Token:     testutil.GenerateRandomString(32),
		ClientID:  "test-client-id",
		Subject:   "test-user-123",
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if mutate != nil {
		mutate(token)
	}
	if err := store.SaveAccessToken(context.Background(), token); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}
	return token
}

func TestValidateAccessToken(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		token := seedAccessToken(t, store, "openid", nil)
		record, oErr := srv.ValidateAccessToken(ctx, token.Token)
		if oErr != nil {
			t.Fatalf("ValidateAccessToken() error = %v", oErr)
		}
		if record.Subject != "test-user-123" {
			t.Errorf("Subject = %q, want test-user-123", record.Subject)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		_, oErr := srv.ValidateAccessToken(ctx, "")
		if oErr == nil || oErr.Code != ErrorCodeInvalidToken {
			t.Errorf("error = %v, want invalid_token", oErr)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		_, oErr := srv.ValidateAccessToken(ctx, "no-such-token")
		if oErr == nil || oErr.Code != ErrorCodeInvalidToken {
			t.Fatalf("error = %v, want invalid_token", oErr)
		}
		if oErr.Description != "invalid or expired access token" {
			t.Errorf("unknown tokens must be indistinguishable from expired ones, got %q", oErr.Description)
		}
	})

	t.Run("expired beyond grace period", func(t *testing.T) {
		token := seedAccessToken(t, store, "openid", func(tok *storage.AccessToken) {
			tok.ExpiresAt = time.Now().Add(-time.Minute)
		})
		_, oErr := srv.ValidateAccessToken(ctx, token.Token)
		if oErr == nil || oErr.Code != ErrorCodeInvalidToken {
			t.Fatalf("error = %v, want invalid_token", oErr)
		}
		if oErr.Description != "invalid or expired access token" {
			t.Errorf("expired tokens must be indistinguishable from unknown ones, got %q", oErr.Description)
		}
	})

	t.Run("expired within grace period", func(t *testing.T) {
		// The store answers from a replica that has not yet dropped the
		// record; the engine applies the clock-skew grace itself.
		record := &storage.AccessToken{
			Token:     "grace-token",
			ClientID:  "test-client-id",
			Subject:   "test-user-123",
			Scope:     "openid",
			ExpiresAt: time.Now().Add(-2 * time.Second),
		}
		original := store.GetAccessTokenFunc
		store.GetAccessTokenFunc = func(string) (*storage.AccessToken, error) {
			return record, nil
		}
		defer func() { store.GetAccessTokenFunc = original }()

		if _, oErr := srv.ValidateAccessToken(ctx, "grace-token"); oErr != nil {
			t.Errorf("token within the clock-skew grace period should validate, got %v", oErr)
		}
	})
}

func TestUserInfo_ScopeRelease(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	ctx := context.Background()

	t.Run("missing openid scope", func(t *testing.T) {
		token := seedAccessToken(t, store, "email profile", nil)
		_, oErr := srv.UserInfo(ctx, token.Token)
		if oErr == nil || oErr.Code != ErrorCodeInsufficientScope {
			t.Errorf("error = %v, want insufficient_scope", oErr)
		}
	})

	t.Run("openid only releases sub", func(t *testing.T) {
		token := seedAccessToken(t, store, "openid", nil)
		resp, oErr := srv.UserInfo(ctx, token.Token)
		if oErr != nil {
			t.Fatalf("UserInfo() error = %v", oErr)
		}
		if resp.Claims["sub"] != "test-user-123" {
			t.Errorf("sub = %v, want test-user-123", resp.Claims["sub"])
		}
		if _, present := resp.Claims["email"]; present {
			t.Error("email must not be released without the email scope")
		}
		if _, present := resp.Claims["name"]; present {
			t.Error("name must not be released without the profile scope")
		}
	})

	t.Run("profile scope releases profile claims", func(t *testing.T) {
		token := seedAccessToken(t, store, "openid profile", nil)
		resp, oErr := srv.UserInfo(ctx, token.Token)
		if oErr != nil {
			t.Fatalf("UserInfo() error = %v", oErr)
		}
		if resp.Claims["name"] != "Alice Example" {
			t.Errorf("name = %v, want Alice Example", resp.Claims["name"])
		}
		if resp.Claims["given_name"] != "Alice" {
			t.Errorf("given_name = %v, want Alice", resp.Claims["given_name"])
		}
		if _, present := resp.Claims["email"]; present {
			t.Error("email must not be released without the email scope")
		}
	})

	t.Run("email scope releases email claims", func(t *testing.T) {
		token := seedAccessToken(t, store, "openid email", nil)
		resp, oErr := srv.UserInfo(ctx, token.Token)
		if oErr != nil {
			t.Fatalf("UserInfo() error = %v", oErr)
		}
		if resp.Claims["email"] != "alice@example.com" {
			t.Errorf("email = %v, want alice@example.com", resp.Claims["email"])
		}
		if resp.Claims["email_verified"] != true {
			t.Errorf("email_verified = %v, want true", resp.Claims["email_verified"])
		}
		if _, present := resp.Claims["name"]; present {
			t.Error("name must not be released without the profile scope")
		}
	})
}

func TestUserInfo_ClaimConstraints(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	ctx := context.Background()

	cr := &ClaimsRequest{
		UserInfo: map[string]ClaimConstraint{
			"email":  EssentialClaim(true),
			"locale": AnyClaim(),
		},
	}
	serialized, err := cr.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	token := seedAccessToken(t, store, "openid", func(tok *storage.AccessToken) {
		tok.Claims = serialized
	})

	resp, oErr := srv.UserInfo(ctx, token.Token)
	if oErr != nil {
		t.Fatalf("UserInfo() error = %v", oErr)
	}

	// The granted constraint releases email even without the email scope.
	if resp.Claims["email"] != "alice@example.com" {
		t.Errorf("email = %v, want released via claim constraint", resp.Claims["email"])
	}
	// The subject has no locale, so the requested claim is simply omitted.
	if _, present := resp.Claims["locale"]; present {
		t.Error("unresolvable claims should be omitted")
	}
	if resp.Claims["sub"] != "test-user-123" {
		t.Error("sub must always be released")
	}
}

func TestUserInfo_SignedResponse(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	client.UserInfoSignedResponseAlg = "RS256"
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	token := seedAccessToken(t, store, "openid email", nil)

	resp, oErr := srv.UserInfo(ctx, token.Token)
	if oErr != nil {
		t.Fatalf("UserInfo() error = %v", oErr)
	}
	if resp.JWT == "" {
		t.Fatal("signed-response client should receive a userinfo JWT")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.JWT, claims); err != nil {
		t.Fatalf("failed to parse userinfo JWT: %v", err)
	}
	if claims["iss"] != testIssuer {
		t.Errorf("iss = %v, want %s", claims["iss"], testIssuer)
	}
	if claims["aud"] != "test-client-id" {
		t.Errorf("aud = %v, want test-client-id", claims["aud"])
	}
	if claims["sub"] != "test-user-123" {
		t.Errorf("sub = %v, want test-user-123", claims["sub"])
	}
	if claims["email"] != "alice@example.com" {
		t.Errorf("email = %v, want the released claim inside the JWT", claims["email"])
	}
}

func TestUserInfo_PlainResponseHasNoJWT(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	ctx := context.Background()

	token := seedAccessToken(t, store, "openid", nil)
	resp, oErr := srv.UserInfo(ctx, token.Token)
	if oErr != nil {
		t.Fatalf("UserInfo() error = %v", oErr)
	}
	if resp.JWT != "" {
		t.Error("clients without a signed-response registration should get plain claims")
	}
}
