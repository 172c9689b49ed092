package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// It observes the engine's decisions; it never changes them.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a token set is issued
func (a *Auditor) LogTokenIssued(subject, clientID, grantType, scope string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogCodeReplay logs a redemption attempt on an already-consumed code
func (a *Auditor) LogCodeReplay(subject, clientID string, revoked int) {
	a.LogEvent(Event{
		Type:     EventCodeReplayDetected,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"severity":       "critical",
			"action":         "cascade_revocation",
			"tokens_revoked": revoked,
		},
	})
}

// LogClientAuthFailure logs a token-endpoint client authentication failure
func (a *Auditor) LogClientAuthFailure(clientID, method, reason string) {
	a.LogEvent(Event{
		Type:     EventClientAuthFailure,
		ClientID: clientID,
		Details: map[string]any{
			"method": method,
			"reason": reason,
		},
	})
}

// LogRequestObjectRejected logs a request object that failed verification
func (a *Auditor) LogRequestObjectRejected(clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventRequestObjectRejected,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAuthFailure logs a resource-owner authentication failure
func (a *Auditor) LogAuthFailure(subject, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
