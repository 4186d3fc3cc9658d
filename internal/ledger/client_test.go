package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtendSuccess(t *testing.T) {
	expiry := time.Date(2026, 9, 22, 0, 0, 0, 0, time.UTC)
	var gotDays int
	var gotAccount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/licenses/extend" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req extendRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotDays = req.DurationDays
		gotAccount = req.AccountID
		json.NewEncoder(w).Encode(extendResponse{
			Success:   true,
			Reference: "grant-77",
			ExpiresAt: &expiry,
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIToken: "tok"})
	grant, err := c.Extend(context.Background(), "alice", 30)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if gotAccount != "alice" || gotDays != 30 {
		t.Errorf("ledger received account=%q days=%d", gotAccount, gotDays)
	}
	if grant.Reference != "grant-77" {
		t.Errorf("reference = %q", grant.Reference)
	}
	if !grant.ExpiresAt.Equal(expiry) {
		t.Errorf("expires at = %v, want %v", grant.ExpiresAt, expiry)
	}
}

func TestExtendRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(extendResponse{Success: false, Error: "unknown account"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Extend(context.Background(), "ghost", 30); err == nil {
		t.Fatal("expected error for refused grant")
	}
}

func TestExtendLedgerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Extend(context.Background(), "alice", 30); err == nil {
		t.Fatal("expected error for ledger 500")
	}
}
