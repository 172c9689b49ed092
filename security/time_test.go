package security

import (
	"testing"
	"time"
)

func TestIsExpiredWithGracePeriod(t *testing.T) {
	now := time.Now()
	grace := 5 * time.Second

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"zero expiry never expires", time.Time{}, false},
		{"future expiry", now.Add(time.Hour), false},
		{"expired but within grace", now.Add(-2 * time.Second), false},
		{"expired beyond grace", now.Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredWithGracePeriod(tt.expiresAt, grace); got != tt.want {
				t.Errorf("IsExpiredWithGracePeriod() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiredUsesDefaultGrace(t *testing.T) {
	// One second past expiry sits inside the default 5 second grace.
	if IsExpired(time.Now().Add(-time.Second)) {
		t.Error("IsExpired() within the default grace period should be false")
	}
	if !IsExpired(time.Now().Add(-time.Minute)) {
		t.Error("IsExpired() beyond the default grace period should be true")
	}
}
