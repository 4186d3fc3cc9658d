// Package billing holds the recurring billing core: the pure charge decision
// logic, the billing-day projection, and the sweep runner that drives them
// over due subscriptions.
package billing

import (
	"github.com/rjcarver/chainbill/internal/model"
	"github.com/rjcarver/chainbill/internal/swap"
)

// MaxRetryAttempts is the number of consecutive unpaid periods tolerated
// before a subscription is cancelled.
const MaxRetryAttempts = 3

// Decision is the outcome of evaluating one due subscription against its
// payment status. Charge means the period was paid: the license is extended
// and the charge dates move. When Changed is false the record is left
// untouched for the next sweep.
type Decision struct {
	Status     string
	RetryCount int
	Charge     bool
	Changed    bool
}

// Decide maps (current status, retry count, payment outcome) to the next
// state. Cancelled is terminal and never changes. A pending verification
// result never advances the retry count; only a confirmed absence of payment
// does.
func Decide(status string, retryCount int, outcome swap.Outcome) Decision {
	if status == model.StatusCancelled {
		return Decision{Status: status, RetryCount: retryCount}
	}

	switch outcome {
	case swap.OutcomeReceived:
		return Decision{Status: model.StatusActive, RetryCount: 0, Charge: true, Changed: true}
	case swap.OutcomePending:
		return Decision{Status: status, RetryCount: retryCount}
	default: // OutcomeNone
		retryCount++
		if retryCount >= MaxRetryAttempts {
			return Decision{Status: model.StatusCancelled, RetryCount: retryCount, Changed: true}
		}
		return Decision{Status: model.StatusPastDue, RetryCount: retryCount, Changed: true}
	}
}
