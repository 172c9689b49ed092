package signing

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWS algorithm names accepted by the provider.
const (
	AlgNone  = "none"
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
)

// SupportedAlgorithms lists every algorithm the provider can sign or verify.
var SupportedAlgorithms = []string{
	AlgNone,
	AlgHS256, AlgHS384, AlgHS512,
	AlgRS256, AlgRS384, AlgRS512,
}

// IsSupported reports whether alg is one of the supported JWS algorithms.
func IsSupported(alg string) bool {
	for _, a := range SupportedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// IsHMAC reports whether alg belongs to the HS family.
func IsHMAC(alg string) bool {
	return strings.HasPrefix(alg, "HS")
}

// IsRSA reports whether alg belongs to the RS family.
func IsRSA(alg string) bool {
	return strings.HasPrefix(alg, "RS")
}

// Signer mints JWTs on behalf of the provider. The RSA key pair signs RS*
// tokens (ID tokens, signed userinfo responses); HS* tokens are signed with a
// per-client shared secret passed at call time.
type Signer struct {
	issuer string
	key    *rsa.PrivateKey
	keyID  string
}

// NewSigner creates a Signer for the given issuer identifier and RSA key pair.
// keyID is published in the provider JWKS and stamped into RS* token headers
// so verifiers can select the right key.
func NewSigner(issuer string, key *rsa.PrivateKey, keyID string) (*Signer, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if key == nil {
		return nil, fmt.Errorf("RSA signing key is required")
	}
	if keyID == "" {
		return nil, fmt.Errorf("key ID is required")
	}
	return &Signer{issuer: issuer, key: key, keyID: keyID}, nil
}

// Issuer returns the issuer identifier stamped into minted tokens.
func (s *Signer) Issuer() string {
	return s.issuer
}

// KeyID returns the identifier of the provider's signing key.
func (s *Signer) KeyID() string {
	return s.keyID
}

// Sign mints a JWT with the given claims under alg. For HS* algorithms the
// secret is used as the MAC key; for RS* algorithms the provider key pair is
// used and the key ID is stamped into the header. The "none" algorithm
// produces an unsigned token and is only reachable for clients explicitly
// registered for it.
func (s *Signer) Sign(alg string, claims jwt.Claims, secret []byte) (string, error) {
	switch {
	case alg == AlgNone:
		token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
		return token.SignedString(jwt.UnsafeAllowNoneSignatureType)

	case IsHMAC(alg):
		if len(secret) == 0 {
			return "", fmt.Errorf("%s signing requires a shared secret", alg)
		}
		token := jwt.NewWithClaims(jwt.GetSigningMethod(alg), claims)
		return token.SignedString(secret)

	case IsRSA(alg):
		token := jwt.NewWithClaims(jwt.GetSigningMethod(alg), claims)
		token.Header["kid"] = s.keyID
		return token.SignedString(s.key)

	default:
		return "", fmt.Errorf("unsupported signing algorithm: %s", alg)
	}
}

// PublicJWKS serializes the provider's public key as a JWK Set document for
// the jwks endpoint.
func (s *Signer) PublicJWKS() ([]byte, error) {
	key, err := jwk.FromRaw(&s.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWK from public key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, s.keyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, AlgRS256); err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return json.Marshal(set)
}

// PeekHeader decodes a JWT header without verifying the signature. Used to
// learn the declared algorithm and key ID before selecting verification key
// material. The claims are NOT trustworthy until Verify succeeds.
func PeekHeader(tokenString string) (alg, kid string, err error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", "", fmt.Errorf("malformed JWT: %w", err)
	}
	alg, _ = token.Header["alg"].(string)
	kid, _ = token.Header["kid"].(string)
	if alg == "" {
		return "", "", fmt.Errorf("JWT header missing alg")
	}
	return alg, kid, nil
}

// VerifyHMAC verifies an HS*-signed JWT with the given shared secret and
// returns its claims. Only the HS family is accepted; any other declared
// algorithm fails closed.
func VerifyHMAC(tokenString string, secret []byte) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{AlgHS256, AlgHS384, AlgHS512}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRSA verifies an RS*-signed JWT against the given public key and
// returns its claims. Only the RS family is accepted.
func VerifyRSA(tokenString string, key any) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods([]string{AlgRS256, AlgRS384, AlgRS512}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseUnsigned parses a JWT carrying alg=none and returns its claims without
// any signature check. Callers MUST gate this on the client's registration
// explicitly allowing the "none" algorithm.
func ParseUnsigned(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, fmt.Errorf("malformed JWT: %w", err)
	}
	if alg, _ := token.Header["alg"].(string); alg != AlgNone {
		return nil, fmt.Errorf("token is signed (alg=%v), refusing unsigned parse", token.Header["alg"])
	}
	return claims, nil
}
