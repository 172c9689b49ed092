// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the
// oidc-idp library.
//
// This package enables observability across all library layers through:
// - Metrics: Counters, histograms, and gauges for monitoring provider operations
// - Traces: Distributed tracing for request flows across components
//
// # Quick Start
//
//	import "github.com/giantswarm/oidc-idp/instrumentation"
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-idp",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
// HTTP Layer:
//   - oidc.http.requests.total{method, endpoint, status} - Total HTTP requests
//   - oidc.http.request.duration{endpoint} - Request duration in milliseconds
//
// Flows:
//   - oidc.authorization.decisions{client_id, outcome} - Authorization decisions
//   - oidc.codes.issued{client_id} - Authorization codes issued
//   - oidc.tokens.issued{client_id, grant_type} - Token sets issued
//   - oidc.userinfo.requests{success} - Userinfo requests
//
// Security:
//   - oidc.code.replay_detected - Authorization code replay attempts
//   - oidc.cascade.revoked_tokens - Tokens revoked by replay containment
//   - oidc.client_auth.failures{method} - Client authentication failures
//   - oidc.request_object.rejected{client_id} - Request objects rejected
//   - oidc.pkce.validation_failed{method} - PKCE validation failures
//   - oidc.rate_limit.exceeded{limiter_type} - Rate limit violations
//
// Storage:
//   - storage.operation.total{operation, result} - Storage operations
//   - storage.operation.duration{operation} - Operation duration in milliseconds
//   - storage.clients.count, storage.codes.count,
//     storage.access_tokens.count, storage.refresh_tokens.count - Live artifact counts
//
// # Performance
//
// When instrumentation is not configured or disabled, no-op providers are used
// with zero overhead.
//
// # Security Considerations
//
// IMPORTANT: This package collects observability data, not credentials.
// Never log actual token values, authorization codes, client secrets, or PKCE
// verifiers in metrics or traces; only metadata (grant types, expiry times,
// validation results).
package instrumentation
