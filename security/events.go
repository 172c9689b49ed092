package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a new access token is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a token set is reissued via the refresh grant
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked = "token_revoked"

	// EventCascadeRevocation is logged when all tokens minted from a code are revoked
	EventCascadeRevocation = "cascade_revocation" //nolint:gosec // G101: event type name, not a credential

	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventCodeReplayDetected is logged when a consumed authorization code is redeemed again
	EventCodeReplayDetected = "authorization_code_replay_detected"

	// EventAuthorizationRejected is logged when an authorization request fails validation
	EventAuthorizationRejected = "authorization_rejected"

	// Request object events

	// EventRequestObjectRejected is logged when a request object fails signature,
	// hash, or claim-consistency checks
	EventRequestObjectRejected = "request_object_rejected"

	// Client authentication events

	// EventClientAuthFailure is logged when token-endpoint client authentication fails,
	// including method-mismatch rejections
	EventClientAuthFailure = "client_auth_failure"

	// EventAuthFailure is logged when resource-owner authentication fails
	EventAuthFailure = "auth_failure"
)
