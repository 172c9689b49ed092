// Package signing implements the cryptographic layer of the provider: JWT
// minting and verification under the HS256/384/512 and RS256/384/512
// families, plus the explicit "none" algorithm for clients registered to use
// it.
//
// Signing keys are resolved from three sources:
//   - the provider's own RSA key pair (ID tokens, signed userinfo responses)
//   - a client's shared secret used as an HMAC key
//   - a client's registered key material, either an inline JWK Set or a JWKS
//     URI fetched and cached via jwk.Cache
//
// Verification is pure and side-effect-free apart from the bounded JWKS
// fetch, and may be called concurrently.
package signing
