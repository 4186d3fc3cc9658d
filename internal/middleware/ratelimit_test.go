package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 3; i++ {
		if !rl.Allow("key", 3, time.Minute) {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
	if rl.Allow("key", 3, time.Minute) {
		t.Error("fourth request should be limited")
	}
	// Other keys are independent.
	if !rl.Allow("other", 3, time.Minute) {
		t.Error("unrelated key limited")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter()

	if !rl.Allow("key", 1, 10*time.Millisecond) {
		t.Fatal("first request limited")
	}
	if rl.Allow("key", 1, 10*time.Millisecond) {
		t.Fatal("second request should be limited")
	}
	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("key", 1, 10*time.Millisecond) {
		t.Error("request after window should be allowed")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter()
	mw := RateLimit(rl, func(r *http.Request) string { return "fixed" }, 2, time.Minute)
	h := mw(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/subscribe", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/subscribe", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if got := RealIP(r); got != "10.0.0.1" {
		t.Errorf("RealIP = %q, want 10.0.0.1", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := RealIP(r); got != "203.0.113.7" {
		t.Errorf("RealIP with XFF = %q, want 203.0.113.7", got)
	}
}
