// Package storage provides interfaces and record types for OAuth artifact
// persistence.
//
// The storage package defines the core storage interfaces used throughout the
// oidc-idp library:
//   - ClientStore: registered OAuth clients (read-only to the engine)
//   - CodeStore: single-use authorization codes with atomic consumption
//   - TokenStore: access and refresh tokens
//   - RevocationStore: cascading revocation of tokens minted from a code
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/redis: Redis-backed distributed storage for production
package storage
