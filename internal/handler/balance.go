package handler

import (
	"net/http"

	"github.com/rjcarver/chainbill/internal/balance"
)

type BalanceHandler struct {
	providers map[string]balance.Provider
}

func NewBalanceHandler(providers map[string]balance.Provider) *BalanceHandler {
	return &BalanceHandler{providers: providers}
}

type balanceResponse struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// Get returns the wallet balance for a chain and address. Display-only
// convenience; the billing core never reads balances.
func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	chain := r.URL.Query().Get("chain")
	address := r.URL.Query().Get("address")
	if chain == "" || address == "" {
		http.Error(w, "chain and address required", http.StatusBadRequest)
		return
	}

	provider, ok := h.providers[chain]
	if !ok {
		http.Error(w, "unsupported chain", http.StatusBadRequest)
		return
	}

	bal, err := provider.Balance(r.Context(), address)
	if err != nil {
		http.Error(w, "balance lookup failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Chain: chain, Address: address, Balance: bal})
}
