package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisgo "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-idp/internal/testutil"
	"github.com/giantswarm/oidc-idp/security"
	"github.com/giantswarm/oidc-idp/storage"
)

// newTestStore runs a miniredis server and wraps it in a Store.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisgo.NewClient(&redisgo.Options{Addr: mr.Addr()})
	s := NewWithClient(client, "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_ConnectsAndPings(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, DefaultKeyPrefix, s.prefix)
}

func TestClientRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	client.RequestObjectSigningAlg = "HS256"
	client.Trusted = true

	require.NoError(t, s.SaveClient(ctx, client))

	got, err := s.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.ClientID, got.ClientID)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, client.ResponseTypes, got.ResponseTypes)
	assert.Equal(t, "HS256", got.RequestObjectSigningAlg)
	assert.True(t, got.Trusted)
	assert.Equal(t, "test", got.ClientSecret)

	_, err = s.GetClient(ctx, "no-such-client")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestClientSecretEncryptionAtRest(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	require.NoError(t, err)
	enc, err := security.NewEncryptor(key)
	require.NoError(t, err)
	s.SetEncryptor(enc)

	client := testutil.GenerateTestClient()
	require.NoError(t, s.SaveClient(ctx, client))

	// The raw Redis value must not contain the plaintext secret.
	raw, err := mr.Get(s.clientKey(client.ClientID))
	require.NoError(t, err)
	assert.NotContains(t, raw, `"client_secret":"test"`)

	got, err := s.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "test", got.ClientSecret)
}

func TestValidateClientSecret(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	require.NoError(t, s.SaveClient(ctx, client))

	assert.NoError(t, s.ValidateClientSecret(ctx, client.ClientID, "test"))
	assert.ErrorIs(t, s.ValidateClientSecret(ctx, client.ClientID, "wrong"), storage.ErrInvalidClientCredentials)
	assert.ErrorIs(t, s.ValidateClientSecret(ctx, "no-such-client", "test"), storage.ErrInvalidClientCredentials)
}

func TestListClients(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		client := testutil.GenerateTestClient()
		client.ClientID = fmt.Sprintf("client-%d", i)
		require.NoError(t, s.SaveClient(ctx, client))
	}
	// A non-client key under the prefix must not disturb the scan.
	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 3)
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	// The code key carries a TTL matching its expiry.
	ttl := mr.TTL(s.codeKey(code.Code))
	assert.Greater(t, ttl, time.Duration(0))

	got, err := s.GetAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, code.Subject, got.Subject)
	assert.False(t, got.Used)

	require.NoError(t, s.DeleteAuthorizationCode(ctx, code.Code))
	_, err = s.GetAuthorizationCode(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrCodeNotFound)
}

func TestAtomicCheckAndMarkCodeUsed(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	code.Nonce = "n"
	code.IDTokenRequested = true
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	record, err := s.AtomicCheckAndMarkCodeUsed(ctx, code.Code)
	require.NoError(t, err)
	assert.True(t, record.Used)
	assert.Equal(t, "n", record.Nonce)
	assert.True(t, record.IDTokenRequested)

	// Replay returns the used record alongside ErrCodeUsed.
	record, err = s.AtomicCheckAndMarkCodeUsed(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrCodeUsed)
	require.NotNil(t, record)
	assert.True(t, record.Used)
	assert.Equal(t, code.ClientID, record.ClientID)

	_, err = s.AtomicCheckAndMarkCodeUsed(ctx, "no-such-code")
	assert.ErrorIs(t, err, storage.ErrCodeNotFound)
}

func TestAtomicCheckAndMarkCodeUsed_Expired(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// miniredis only drops keys on FastForward, so a record whose stored
	// expiry lies in the past is still present for the script to inspect.
	code := testutil.GenerateTestAuthorizationCode()
	code.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	_, err := s.AtomicCheckAndMarkCodeUsed(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrCodeExpired)

	_, err = s.GetAuthorizationCode(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrCodeExpired)
}

func TestAtomicCheckAndMarkCodeUsed_ReplayAfterExpiry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))
	_, err := s.AtomicCheckAndMarkCodeUsed(ctx, code.Code)
	require.NoError(t, err)

	// Age the consumed record past its expiry. The key survives because its
	// TTL extends issuedFromRetention beyond expires_at.
	code.Used = true
	code.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	record, err := s.AtomicCheckAndMarkCodeUsed(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrCodeUsed)
	require.NotNil(t, record)
	assert.True(t, record.Used)
}

func TestAtomicCheckAndMarkCodeUsed_PreservesTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	before := mr.TTL(s.codeKey(code.Code))
	_, err := s.AtomicCheckAndMarkCodeUsed(ctx, code.Code)
	require.NoError(t, err)

	after := mr.TTL(s.codeKey(code.Code))
	assert.Greater(t, after, time.Duration(0), "marking a code used must not drop its TTL")
	assert.LessOrEqual(t, after, before)
}

func TestAccessTokenLifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	token := &storage.AccessToken{
		Token:     "access-1",
		ClientID:  "test-client-id",
		Subject:   "test-user-123",
		Scope:     "openid email",
		CodeID:    "origin-code",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.SaveAccessToken(ctx, token))

	assert.Greater(t, mr.TTL(s.accessTokenKey("access-1")), time.Duration(0))

	got, err := s.GetAccessToken(ctx, "access-1")
	require.NoError(t, err)
	assert.Equal(t, "test-user-123", got.Subject)
	assert.Equal(t, "origin-code", got.CodeID)

	require.NoError(t, s.DeleteAccessToken(ctx, "access-1"))
	_, err = s.GetAccessToken(ctx, "access-1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestGetAccessToken_Expired(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	token := &storage.AccessToken{
		Token:     "stale",
		ClientID:  "test-client-id",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.SaveAccessToken(ctx, token))

	_, err := s.GetAccessToken(ctx, "stale")
	assert.ErrorIs(t, err, storage.ErrTokenExpired)
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	token := &storage.RefreshToken{
		Token:            "refresh-1",
		ClientID:         "test-client-id",
		Subject:          "test-user-123",
		Scope:            "openid",
		CodeID:           "origin-code",
		Nonce:            "n",
		IDTokenRequested: true,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, s.SaveRefreshToken(ctx, token))

	// Refresh tokens live until revoked; no TTL.
	assert.Equal(t, time.Duration(0), mr.TTL(s.refreshTokenKey("refresh-1")))

	got, err := s.GetRefreshToken(ctx, "refresh-1")
	require.NoError(t, err)
	assert.True(t, got.IDTokenRequested)
	assert.Equal(t, "n", got.Nonce)

	require.NoError(t, s.DeleteRefreshToken(ctx, "refresh-1"))
	_, err = s.GetRefreshToken(ctx, "refresh-1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRevokeAllIssuedFrom(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	const codeID = "origin-code"
	for i := 0; i < 2; i++ {
		require.NoError(t, s.SaveAccessToken(ctx, &storage.AccessToken{
			Token:     fmt.Sprintf("access-%d", i),
			ClientID:  "test-client-id",
			CodeID:    codeID,
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}))
	}
	require.NoError(t, s.SaveRefreshToken(ctx, &storage.RefreshToken{
		Token:     "refresh-0",
		ClientID:  "test-client-id",
		CodeID:    codeID,
		CreatedAt: now,
	}))
	require.NoError(t, s.SaveAccessToken(ctx, &storage.AccessToken{
		Token:     "unrelated",
		ClientID:  "test-client-id",
		CodeID:    "other-code",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	issued, err := s.GetTokensIssuedFrom(ctx, codeID)
	require.NoError(t, err)
	assert.Len(t, issued, 3)

	revoked, err := s.RevokeAllIssuedFrom(ctx, codeID)
	require.NoError(t, err)
	assert.Equal(t, 3, revoked)

	_, err = s.GetAccessToken(ctx, "access-0")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.GetRefreshToken(ctx, "refresh-0")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.GetAccessToken(ctx, "unrelated")
	assert.NoError(t, err)

	issued, err = s.GetTokensIssuedFrom(ctx, codeID)
	require.NoError(t, err)
	assert.Empty(t, issued)

	// Second revocation is a no-op.
	revoked, err = s.RevokeAllIssuedFrom(ctx, codeID)
	require.NoError(t, err)
	assert.Equal(t, 0, revoked)
}

func TestReplayDetectionOutlivesCodeExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))
	require.NoError(t, s.SaveAccessToken(ctx, &storage.AccessToken{
		Token:     "late-access",
		ClientID:  "test-client-id",
		CodeID:    code.Code,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	// Both the code record and the revocation index must survive past the
	// code's redeemable lifetime so a late replay still revokes.
	lifetime := time.Until(code.ExpiresAt)
	assert.Greater(t, mr.TTL(s.codeKey(code.Code)), lifetime,
		"code key must outlive the code's redeemable window")
	assert.Greater(t, mr.TTL(s.issuedFromKey(code.Code)), lifetime,
		"revocation index must outlive the code's redeemable window")
}

func TestCalculateTTL(t *testing.T) {
	assert.Equal(t, time.Duration(0), calculateTTL(time.Time{}))
	assert.Equal(t, time.Millisecond, calculateTTL(time.Now().Add(-time.Hour)))
	ttl := calculateTTL(time.Now().Add(time.Hour))
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}
