package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redisgo "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oidc-idp/storage"
)

// luaAtomicCheckAndMarkCodeUsed atomically checks that an authorization code
// is unused and marks it as used. Running as a Lua script makes the
// check-and-set a single step, so only one of any number of concurrent
// redemptions can succeed even with multiple provider instances sharing one
// Redis.
//
// The used check runs before the expiry check: a consumed code keeps
// reporting ALREADY_USED after its expiry passes, so a late replay still
// reaches the containment path.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - Original JSON data if the code was unused and is now marked used
//   - "NOT_FOUND" if the key does not exist
//   - "EXPIRED" if the code has expired
//   - "ALREADY_USED:<json>" if the code was already used (data returned so
//     the caller can run replay containment)
var luaAtomicCheckAndMarkCodeUsed = redisgo.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

if code.used then
    return 'ALREADY_USED:' .. data
end

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`)

// SaveAuthorizationCode saves an issued authorization code. The key TTL
// extends issuedFromRetention past the code's expiry; expiry itself is
// enforced logically against the stored expires_at, so a consumed code
// remains observable for replay detection after it can no longer be
// redeemed.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl > 0 {
		ttl += issuedFromRetention
	}
	if err := s.setJSON(ctx, s.codeKey(code.Code), toAuthorizationCodeJSON(code), ttl); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", safeTruncate(code.Code, artifactLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	record, err := getAndUnmarshal(ctx, s, s.codeKey(code), storage.ErrCodeNotFound, fromAuthorizationCodeJSON)
	if err != nil {
		return nil, err
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}
	return record, nil
}

// AtomicCheckAndMarkCodeUsed atomically checks that a code is unused and
// marks it as used via a Lua script. The record is returned alongside
// ErrCodeUsed so the caller can run replay containment.
func (s *Store) AtomicCheckAndMarkCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	result, err := luaAtomicCheckAndMarkCodeUsed.Run(ctx, s.client,
		[]string{s.codeKey(code)},
		time.Now().Unix(),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code check: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrCodeNotFound
	case result == "EXPIRED":
		return nil, storage.ErrCodeExpired
	case strings.HasPrefix(result, "ALREADY_USED:"):
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "ALREADY_USED:")), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal replayed code: %w", err)
		}
		return fromAuthorizationCodeJSON(&j), storage.ErrCodeUsed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	record := fromAuthorizationCodeJSON(&j)
	record.Used = true

	s.logger.Debug("Marked authorization code as used",
		"code_prefix", safeTruncate(code, artifactLogLength))
	return record, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, s.codeKey(code)).Err(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	s.logger.Debug("Deleted authorization code",
		"code_prefix", safeTruncate(code, artifactLogLength))
	return nil
}
