package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription statuses. Cancelled is terminal: the sweep never touches a
// cancelled record again.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusCancelled = "cancelled"
)

type Subscription struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	SessionID        *string         `json:"session_id"`
	IntentID         string          `json:"intent_id"`
	DepositAddress   *string         `json:"deposit_address"`
	MonthlyAmountUSD decimal.Decimal `json:"monthly_amount_usd"`
	BillingDay       int             `json:"billing_day"`
	Status           string          `json:"status"`
	RetryCount       int             `json:"retry_count"`
	LastChargeDate   *time.Time      `json:"last_charge_date"`
	NextChargeDate   *time.Time      `json:"next_charge_date"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ChargeWindowStart returns the timestamp payments must postdate to count
// toward the current period: the previous charge, or creation time for a
// subscription that has never charged.
func (s *Subscription) ChargeWindowStart() time.Time {
	if s.LastChargeDate != nil {
		return *s.LastChargeDate
	}
	return s.CreatedAt
}
