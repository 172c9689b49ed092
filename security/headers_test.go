package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	t.Run("https issuer", func(t *testing.T) {
		w := httptest.NewRecorder()
		SetSecurityHeaders(w, "https://idp.example.com")

		if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
			t.Errorf("X-Frame-Options = %q, want DENY", got)
		}
		if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
		}
		if w.Header().Get("Content-Security-Policy") == "" {
			t.Error("Content-Security-Policy should be set")
		}
		if got := w.Header().Get("Referrer-Policy"); got != "no-referrer" {
			t.Errorf("Referrer-Policy = %q, want no-referrer", got)
		}
		if w.Header().Get("Strict-Transport-Security") == "" {
			t.Error("HSTS should be set for an https issuer")
		}
	})

	t.Run("http issuer gets no HSTS", func(t *testing.T) {
		w := httptest.NewRecorder()
		SetSecurityHeaders(w, "http://localhost:8080")

		if w.Header().Get("Strict-Transport-Security") != "" {
			t.Error("HSTS must not be set for a plain http issuer")
		}
	})
}

func TestSetNoStoreHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetNoStoreHeaders(w)

	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := w.Header().Get("Pragma"); got != "no-cache" {
		t.Errorf("Pragma = %q, want no-cache", got)
	}
}

func TestSetPrivateNoStoreHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetPrivateNoStoreHeaders(w)

	if got := w.Header().Get("Cache-Control"); got != "no-store, private" {
		t.Errorf("Cache-Control = %q, want no-store, private", got)
	}
}
