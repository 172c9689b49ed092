// Package memory provides an in-memory implementation of the storage
// interfaces.
//
// This package implements ClientStore, CodeStore, TokenStore, and
// RevocationStore using Go's built-in maps with mutex protection for thread
// safety. It is suitable for development, testing, and single-instance
// deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic single-use redemption of authorization codes
//   - Per-code token index for cascading revocation
//   - Automatic cleanup of expired codes and tokens
//   - Client secret encryption at rest via Encryptor
//
// For production deployments requiring persistence or multi-instance
// deployments, use the storage/redis package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, _ := server.New(store, backend, signer, resolver, config, logger)
package memory
