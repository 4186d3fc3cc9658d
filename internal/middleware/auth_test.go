package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireTokenValid(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}

	h := RequireToken(string(hash))(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRequireTokenRejectsWrongToken(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	h := RequireToken(string(hash))(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireTokenRejectsMissingHeader(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	h := RequireToken(string(hash))(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireTokenDisabledWithoutHash(t *testing.T) {
	h := RequireToken("")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
