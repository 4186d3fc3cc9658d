package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rjcarver/chainbill/internal/ledger"
	"github.com/rjcarver/chainbill/internal/model"
	"github.com/rjcarver/chainbill/internal/store"
	"github.com/rjcarver/chainbill/internal/swap"
)

// PaymentChecker reports whether an intent has received funds since a
// timestamp. Implemented by swap.Client.
type PaymentChecker interface {
	CheckPayment(ctx context.Context, intentID string, since time.Time) (swap.Outcome, error)
}

// RecordResult is the per-subscription outcome of one sweep pass.
type RecordResult struct {
	SubscriptionID string       `json:"subscriptionId"`
	AccountID      string       `json:"accountId"`
	IntentID       string       `json:"intentId"`
	Outcome        swap.Outcome `json:"outcome,omitempty"`
	Status         string       `json:"status"`
	Error          string       `json:"error,omitempty"`
}

// Summary aggregates a sweep run. Logged for observability, never persisted
// as subscription state.
type Summary struct {
	TotalProcessed int            `json:"totalProcessed"`
	Charged        int            `json:"charged"`
	Pending        int            `json:"pending"`
	PastDue        int            `json:"pastDue"`
	Cancelled      int            `json:"cancelled"`
	Errors         int            `json:"errors"`
	Results        []RecordResult `json:"results"`
}

// Sweeper runs one billing pass over all due subscriptions. Records carry no
// cross-record invariants, so each one is processed and persisted
// independently; a failing record is captured in the summary and the sweep
// continues.
type Sweeper struct {
	store       *store.SubscriptionStore
	payments    PaymentChecker
	grantor     ledger.Grantor
	licenseDays int
	logger      *slog.Logger
	now         func() time.Time
}

func NewSweeper(st *store.SubscriptionStore, payments PaymentChecker, grantor ledger.Grantor, licenseDays int, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:       st,
		payments:    payments,
		grantor:     grantor,
		licenseDays: licenseDays,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run processes every due subscription once and returns the aggregate
// summary. Only the initial due-list query can fail the run as a whole.
func (s *Sweeper) Run(ctx context.Context) (*Summary, error) {
	now := s.now()

	subs, err := s.store.ListDue(now)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	summary := &Summary{}
	for _, sub := range subs {
		res := s.processRecord(ctx, sub, now)
		summary.TotalProcessed++
		summary.Results = append(summary.Results, res)

		switch {
		case res.Error != "":
			summary.Errors++
		case res.Outcome == swap.OutcomeReceived:
			summary.Charged++
		case res.Outcome == swap.OutcomePending:
			summary.Pending++
		case res.Status == model.StatusCancelled:
			summary.Cancelled++
		case res.Status == model.StatusPastDue:
			summary.PastDue++
		}
	}

	s.logger.Info("sweep complete",
		"total", summary.TotalProcessed,
		"charged", summary.Charged,
		"pending", summary.Pending,
		"past_due", summary.PastDue,
		"cancelled", summary.Cancelled,
		"errors", summary.Errors,
	)
	return summary, nil
}

func (s *Sweeper) processRecord(ctx context.Context, sub *model.Subscription, now time.Time) RecordResult {
	res := RecordResult{
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
		IntentID:       sub.IntentID,
		Status:         sub.Status,
	}

	outcome, err := s.payments.CheckPayment(ctx, sub.IntentID, sub.ChargeWindowStart())
	if err != nil {
		// Transient provider failure: leave the record for the next sweep.
		res.Error = fmt.Sprintf("check payment: %v", err)
		s.logger.Warn("payment check failed", "subscription", sub.ID, "error", err)
		return res
	}
	res.Outcome = outcome

	d := Decide(sub.Status, sub.RetryCount, outcome)
	if !d.Changed {
		return res
	}

	if d.Charge {
		if sub.AccountID == "" {
			// Funded but never linked to an account; the grant has no
			// target. Hold the record until the link request arrives.
			res.Error = "payment received but no account linked"
			s.logger.Warn("unlinked subscription funded", "subscription", sub.ID, "intent", sub.IntentID)
			return res
		}

		grant, err := s.grantor.Extend(ctx, sub.AccountID, s.licenseDays)
		if err != nil {
			// Payment confirmed but the grant failed. The record keeps its
			// pre-charge state: the payment window re-derives the same
			// received outcome next sweep, so the grant is retried without
			// re-charging.
			res.Error = fmt.Sprintf("license grant: %v", err)
			s.logger.Error("license grant failed", "subscription", sub.ID, "account", sub.AccountID, "error", err)
			return res
		}

		sub.Status = model.StatusActive
		sub.RetryCount = 0
		sub.LastChargeDate = &now
		next := NextChargeDate(now, sub.BillingDay)
		sub.NextChargeDate = &next

		if err := s.store.Save(sub); err != nil {
			res.Error = fmt.Sprintf("persist charge: %v", err)
			s.logger.Error("persist charged subscription", "subscription", sub.ID, "error", err)
			return res
		}

		res.Status = sub.Status
		s.logger.Info("subscription charged",
			"subscription", sub.ID,
			"account", sub.AccountID,
			"grant_reference", grant.Reference,
			"next_charge", next,
		)
		return res
	}

	// Confirmed absence of payment: past_due or cancelled. The next charge
	// date is left alone so the very next sweep retries.
	sub.Status = d.Status
	sub.RetryCount = d.RetryCount
	if err := s.store.Save(sub); err != nil {
		res.Error = fmt.Sprintf("persist status: %v", err)
		s.logger.Error("persist subscription status", "subscription", sub.ID, "error", err)
		return res
	}

	res.Status = sub.Status
	s.logger.Info("subscription unpaid",
		"subscription", sub.ID,
		"account", sub.AccountID,
		"status", sub.Status,
		"retry_count", sub.RetryCount,
	)
	return res
}
