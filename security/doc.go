// Package security provides security-related functionality for the provider:
// audit logging with PII hashing, secrets encryption at rest, security-event
// rate limiting, clock-skew tolerant expiry checks, and secure response
// headers.
//
// The RateLimiter here exists to cap security-event logging so that repeated
// attack traffic (code replay, forged assertions) cannot flood the logs.
// Request-level rate limiting is deliberately out of scope for the core.
package security
