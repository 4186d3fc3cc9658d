package handler

import (
	"log/slog"
	"net/http"

	"github.com/rjcarver/chainbill/internal/billing"
)

type SweepHandler struct {
	sweeper *billing.Sweeper
	logger  *slog.Logger
}

func NewSweepHandler(sweeper *billing.Sweeper, logger *slog.Logger) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, logger: logger}
}

// Run executes one billing sweep and returns the run summary. Invoked by the
// external timer; the summary is for logging and observability only.
func (h *SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.logger.Error("sweep failed", "error", err)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
