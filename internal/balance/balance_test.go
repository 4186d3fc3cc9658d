package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEVMBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "eth_getBalance" {
			t.Errorf("method = %q", req.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{"result": "0xde0b6b3a7640000"})
	}))
	defer srv.Close()

	p := NewEVMProvider(srv.URL)
	bal, err := p.Balance(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != "1000000000000000000" {
		t.Errorf("balance = %q, want 1 ether in wei", bal)
	}
}

func TestEVMBalanceRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "bad address"}})
	}))
	defer srv.Close()

	p := NewEVMProvider(srv.URL)
	if _, err := p.Balance(context.Background(), "nope"); err == nil {
		t.Fatal("expected rpc error")
	}
}

func TestNEARBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req nearRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Params.AccountID != "alice.near" {
			t.Errorf("account = %q", req.Params.AccountID)
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{"amount": "250000000000000000000000"}})
	}))
	defer srv.Close()

	p := NewNEARProvider(srv.URL)
	bal, err := p.Balance(context.Background(), "alice.near")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != "250000000000000000000000" {
		t.Errorf("balance = %q", bal)
	}
}
