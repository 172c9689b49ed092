package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the provider
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Flow Metrics
	AuthorizationDecisions metric.Int64Counter
	CodesIssued            metric.Int64Counter
	TokensIssued           metric.Int64Counter
	UserInfoRequests       metric.Int64Counter

	// Security Metrics
	CodeReplayDetected     metric.Int64Counter
	CascadeRevokedTokens   metric.Int64Counter
	ClientAuthFailures     metric.Int64Counter
	RequestObjectsRejected metric.Int64Counter
	PKCEValidationFailed   metric.Int64Counter
	RateLimitExceeded      metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageClientsCount       metric.Int64ObservableGauge
	StorageCodesCount         metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.HTTPRequestsTotal, err = inst.httpMeter.Int64Counter(
		"oidc.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = inst.httpMeter.Float64Histogram(
		"oidc.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.AuthorizationDecisions, err = inst.serverMeter.Int64Counter(
		"oidc.authorization.decisions",
		metric.WithDescription("Number of authorization decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.decisions counter: %w", err)
	}

	m.CodesIssued, err = inst.serverMeter.Int64Counter(
		"oidc.codes.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.issued counter: %w", err)
	}

	m.TokensIssued, err = inst.serverMeter.Int64Counter(
		"oidc.tokens.issued",
		metric.WithDescription("Number of token sets issued by grant type"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.UserInfoRequests, err = inst.serverMeter.Int64Counter(
		"oidc.userinfo.requests",
		metric.WithDescription("Number of userinfo requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo.requests counter: %w", err)
	}

	m.CodeReplayDetected, err = inst.securityMeter.Int64Counter(
		"oidc.code.replay_detected",
		metric.WithDescription("Number of authorization code replay attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.replay_detected counter: %w", err)
	}

	m.CascadeRevokedTokens, err = inst.securityMeter.Int64Counter(
		"oidc.cascade.revoked_tokens",
		metric.WithDescription("Number of tokens revoked by replay containment"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cascade.revoked_tokens counter: %w", err)
	}

	m.ClientAuthFailures, err = inst.securityMeter.Int64Counter(
		"oidc.client_auth.failures",
		metric.WithDescription("Number of token-endpoint client authentication failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client_auth.failures counter: %w", err)
	}

	m.RequestObjectsRejected, err = inst.securityMeter.Int64Counter(
		"oidc.request_object.rejected",
		metric.WithDescription("Number of request objects that failed verification"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request_object.rejected counter: %w", err)
	}

	m.PKCEValidationFailed, err = inst.securityMeter.Int64Counter(
		"oidc.pkce.validation_failed",
		metric.WithDescription("Number of PKCE validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	m.RateLimitExceeded, err = inst.securityMeter.Int64Counter(
		"oidc.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.StorageOperationTotal, err = inst.storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = inst.storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageClientsCount, err = inst.storageMeter.Int64ObservableGauge(
		"storage.clients.count",
		metric.WithDescription("Number of registered clients in storage"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	m.StorageCodesCount, err = inst.storageMeter.Int64ObservableGauge(
		"storage.codes.count",
		metric.WithDescription("Number of live authorization codes in storage"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageAccessTokensCount, err = inst.storageMeter.Int64ObservableGauge(
		"storage.access_tokens.count",
		metric.WithDescription("Number of live access tokens in storage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.access_tokens.count gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = inst.storageMeter.Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Number of live refresh tokens in storage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	m.AuditEventsTotal, err = inst.securityMeter.Int64Counter(
		"oidc.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationDecision records the outcome of an authorization request
func (m *Metrics) RecordAuthorizationDecision(ctx context.Context, clientID, outcome string) {
	m.AuthorizationDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("outcome", outcome),
	))
}

// RecordCodeIssued records an authorization code issuance
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokensIssued records a token set issuance
func (m *Metrics) RecordTokensIssued(ctx context.Context, clientID, grantType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("grant_type", grantType),
	))
}

// RecordUserInfoRequest records a userinfo request
func (m *Metrics) RecordUserInfoRequest(ctx context.Context, success bool) {
	m.UserInfoRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordCodeReplay records a detected authorization code replay and how many
// tokens its containment revoked
func (m *Metrics) RecordCodeReplay(ctx context.Context, revoked int) {
	m.CodeReplayDetected.Add(ctx, 1)
	if revoked > 0 {
		m.CascadeRevokedTokens.Add(ctx, int64(revoked))
	}
}

// RecordClientAuthFailure records a client authentication failure
func (m *Metrics) RecordClientAuthFailure(ctx context.Context, method string) {
	m.ClientAuthFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordRequestObjectRejected records a rejected request object
func (m *Metrics) RecordRequestObjectRejected(ctx context.Context, clientID string) {
	m.RequestObjectsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
