package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for artifact
	// expiration checks. This prevents false expiration errors due to time
	// synchronization drift between systems. 5 seconds is a conservative
	// value that handles typical NTP drift.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks if an artifact is expired with the default clock skew
// grace period.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks if an artifact is expired with a custom
// clock skew grace period. A zero expiry means no expiration.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}

	// The artifact is only expired once it has been expired for longer than
	// the grace period.
	return time.Now().After(expiresAt.Add(gracePeriod))
}
