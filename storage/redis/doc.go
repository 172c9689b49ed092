// Package redis provides a Redis-backed implementation of the storage
// interfaces for production and multi-instance deployments.
//
// This package implements ClientStore, CodeStore, TokenStore, and
// RevocationStore using go-redis. Authorization code redemption and
// cascading revocation run as Lua scripts so the single-use invariant holds
// across provider instances sharing one Redis.
//
// Key layout (under the configured prefix, default "oidc:"):
//   - client:{clientID}    registered client (JSON)
//   - code:{code}          authorization code (JSON, TTL = code lifetime)
//   - access:{token}       access token record (JSON, TTL = token lifetime)
//   - refresh:{token}      refresh token record (JSON, no TTL)
//   - issued:{codeID}      set of tagged token values minted from the code
//
// Example usage:
//
//	store, err := redis.New(redis.Config{Address: "localhost:6379"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
package redis
