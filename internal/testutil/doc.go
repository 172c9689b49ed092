// Package testutil provides testing utilities and test fixtures for the
// oidc-idp library. It includes helpers for creating test data, signing test
// JWTs, and assertions.
package testutil
