package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjcarver/chainbill/internal/billing"
	"github.com/rjcarver/chainbill/internal/ledger"
	"github.com/rjcarver/chainbill/internal/model"
	"github.com/rjcarver/chainbill/internal/store"
	"github.com/rjcarver/chainbill/internal/swap"
)

// QuoteService allocates committed deposit quotes. Implemented by swap.Client.
type QuoteService interface {
	QuoteCommit(ctx context.Context, originAsset string, usdAmount decimal.Decimal, refundAddress string, deadline time.Time) (*swap.Quote, error)
}

// PaymentVerifier reports payment status for an intent. Implemented by swap.Client.
type PaymentVerifier interface {
	CheckPayment(ctx context.Context, intentID string, since time.Time) (swap.Outcome, error)
}

// Config holds the billing terms the handlers apply to new subscriptions.
type Config struct {
	MonthlyAmountUSD   decimal.Decimal
	LicenseDays        int
	DefaultOriginAsset string
	QuoteDeadline      time.Duration
}

type SubscriptionHandler struct {
	store    *store.SubscriptionStore
	quotes   QuoteService
	payments PaymentVerifier
	grantor  ledger.Grantor
	cfg      Config
	logger   *slog.Logger
}

func NewSubscriptionHandler(st *store.SubscriptionStore, quotes QuoteService, payments PaymentVerifier, grantor ledger.Grantor, cfg Config, logger *slog.Logger) *SubscriptionHandler {
	if cfg.QuoteDeadline == 0 {
		cfg.QuoteDeadline = time.Hour
	}
	return &SubscriptionHandler{
		store:    st,
		quotes:   quotes,
		payments: payments,
		grantor:  grantor,
		cfg:      cfg,
		logger:   logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type subscribeRequest struct {
	AccountID     string `json:"account_id"`
	SessionID     string `json:"session_id"`
	BillingDay    int    `json:"billing_day"`
	OriginAsset   string `json:"origin_asset"`
	RefundAddress string `json:"refund_address"`
}

type subscribeResponse struct {
	IntentID       string    `json:"intent_id"`
	PaymentURL     string    `json:"payment_url"`
	DepositAddress string    `json:"deposit_address"`
	MonthlyAmount  string    `json:"monthly_amount"`
	NextChargeDate time.Time `json:"next_charge_date"`
}

// Subscribe allocates a deposit address for a new subscription and persists
// the pending record. The caller funds the address afterwards; confirm or
// the next sweep completes the activation.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" && req.SessionID == "" {
		http.Error(w, "account_id or session_id required", http.StatusBadRequest)
		return
	}

	if req.AccountID != "" {
		existing, err := h.store.GetByAccount(req.AccountID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if existing != nil && existing.Status != model.StatusCancelled {
			http.Error(w, "subscription already exists", http.StatusConflict)
			return
		}
	}
	if req.SessionID != "" {
		existing, err := h.store.GetBySession(req.SessionID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if existing != nil && existing.Status != model.StatusCancelled {
			http.Error(w, "subscription already exists", http.StatusConflict)
			return
		}
	}

	now := time.Now().UTC()
	day := req.BillingDay
	if day == 0 {
		day = now.Day()
	}
	day = billing.ClampBillingDay(day)

	originAsset := req.OriginAsset
	if originAsset == "" {
		originAsset = h.cfg.DefaultOriginAsset
	}

	quote, err := h.quotes.QuoteCommit(r.Context(), originAsset, h.cfg.MonthlyAmountUSD, req.RefundAddress, now.Add(h.cfg.QuoteDeadline))
	if err != nil {
		if errors.Is(err, swap.ErrAssetSubstitution) {
			// Already alerted by the swap client; nothing here is usable.
			http.Error(w, "quote verification failed", http.StatusBadGateway)
			return
		}
		h.logger.Warn("quote commit failed", "error", err)
		http.Error(w, "settlement provider unavailable", http.StatusBadGateway)
		return
	}

	next := billing.NextChargeDate(now, day)
	sub := &model.Subscription{
		AccountID:        req.AccountID,
		IntentID:         quote.IntentID,
		DepositAddress:   &quote.DepositAddress,
		MonthlyAmountUSD: h.cfg.MonthlyAmountUSD,
		BillingDay:       day,
		Status:           model.StatusPending,
		NextChargeDate:   &next,
	}
	if req.SessionID != "" {
		sub.SessionID = &req.SessionID
	}

	if err := h.store.Save(sub); err != nil {
		h.logger.Error("persist subscription", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("subscription created",
		"subscription", sub.ID,
		"account", sub.AccountID,
		"intent", sub.IntentID,
		"billing_day", day,
	)

	writeJSON(w, http.StatusCreated, subscribeResponse{
		IntentID:       quote.IntentID,
		PaymentURL:     quote.PaymentURL,
		DepositAddress: quote.DepositAddress,
		MonthlyAmount:  h.cfg.MonthlyAmountUSD.String(),
		NextChargeDate: next,
	})
}

type confirmRequest struct {
	IntentID string `json:"intent_id"`
}

type confirmResponse struct {
	License struct {
		Days      int       `json:"days"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"license"`
}

// Confirm checks the intent for funds and activates the subscription. Safe
// to repeat: a second call after activation returns 409 without re-granting.
func (h *SubscriptionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IntentID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	sub, err := h.store.GetByIntentID(req.IntentID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}
	if sub.Status == model.StatusActive {
		http.Error(w, "already active", http.StatusConflict)
		return
	}
	if sub.Status == model.StatusCancelled {
		http.Error(w, "subscription cancelled", http.StatusConflict)
		return
	}
	if sub.AccountID == "" {
		http.Error(w, "no account linked", http.StatusConflict)
		return
	}

	outcome, err := h.payments.CheckPayment(r.Context(), sub.IntentID, sub.ChargeWindowStart())
	if err != nil {
		h.logger.Warn("payment check failed", "intent", sub.IntentID, "error", err)
		http.Error(w, "settlement provider unavailable", http.StatusBadGateway)
		return
	}
	if outcome != swap.OutcomeReceived {
		http.Error(w, "payment not received", http.StatusPaymentRequired)
		return
	}

	grant, err := h.grantor.Extend(r.Context(), sub.AccountID, h.cfg.LicenseDays)
	if err != nil {
		// Record stays pre-charge; the payment re-verifies as received on
		// the next confirm or sweep, so the grant is retried, not re-charged.
		h.logger.Error("license grant failed", "account", sub.AccountID, "error", err)
		http.Error(w, "license grant failed", http.StatusBadGateway)
		return
	}

	now := time.Now().UTC()
	next := billing.NextChargeDate(now, sub.BillingDay)
	sub.Status = model.StatusActive
	sub.RetryCount = 0
	sub.LastChargeDate = &now
	sub.NextChargeDate = &next
	if err := h.store.Save(sub); err != nil {
		h.logger.Error("persist confirmed subscription", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("subscription confirmed",
		"subscription", sub.ID,
		"account", sub.AccountID,
		"grant_reference", grant.Reference,
	)

	var resp confirmResponse
	resp.License.Days = h.cfg.LicenseDays
	resp.License.ExpiresAt = grant.ExpiresAt
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Status         string     `json:"status"`
	NextChargeDate *time.Time `json:"next_charge_date"`
	MonthlyAmount  string     `json:"monthly_amount"`
}

// Status returns the account's subscription state.
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id required", http.StatusBadRequest)
		return
	}

	sub, err := h.store.GetByAccount(accountID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:         sub.Status,
		NextChargeDate: sub.NextChargeDate,
		MonthlyAmount:  sub.MonthlyAmountUSD.String(),
	})
}

type cancelRequest struct {
	AccountID string `json:"account_id"`
}

type cancelResponse struct {
	CancelledAt time.Time `json:"cancelled_at"`
	ActiveUntil time.Time `json:"active_until"`
}

// Cancel flips the subscription to its terminal state. The license stays
// valid until its current expiry; the sweep never touches the record again.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	sub, err := h.store.GetByAccount(req.AccountID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}
	if sub.Status == model.StatusCancelled {
		http.Error(w, "already cancelled", http.StatusConflict)
		return
	}

	if _, err := h.store.UpdateStatus(req.AccountID, model.StatusCancelled, store.StatusUpdate{}); err != nil {
		h.logger.Error("cancel subscription", "account", req.AccountID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	activeUntil := now
	if sub.NextChargeDate != nil && sub.NextChargeDate.After(now) {
		activeUntil = *sub.NextChargeDate
	}

	h.logger.Info("subscription cancelled", "subscription", sub.ID, "account", req.AccountID)
	writeJSON(w, http.StatusOK, cancelResponse{CancelledAt: now, ActiveUntil: activeUntil})
}

type linkRequest struct {
	SessionID string `json:"session_id"`
	AccountID string `json:"account_id"`
}

// Link attaches an account to a subscription created under a session. The
// record can then activate once funded.
func (h *SubscriptionHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.AccountID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	sub, err := h.store.GetBySession(req.SessionID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}
	if sub.AccountID != "" {
		http.Error(w, "already linked", http.StatusConflict)
		return
	}

	existing, err := h.store.GetByAccount(req.AccountID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if existing != nil && existing.Status != model.StatusCancelled {
		http.Error(w, "account already subscribed", http.StatusConflict)
		return
	}

	sub.AccountID = req.AccountID
	if err := h.store.Save(sub); err != nil {
		h.logger.Error("link subscription", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("subscription linked", "subscription", sub.ID, "account", req.AccountID)
	writeJSON(w, http.StatusOK, map[string]string{
		"subscription_id": sub.ID,
		"status":          sub.Status,
	})
}
