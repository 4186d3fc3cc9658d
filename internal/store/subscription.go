package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rjcarver/chainbill/internal/model"
)

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var sessionID sql.NullString
	var depositAddress sql.NullString
	var amount string
	var lastCharge sql.NullTime
	var nextCharge sql.NullTime
	err := scanner.Scan(
		&sub.ID, &sub.AccountID, &sessionID, &sub.IntentID, &depositAddress,
		&amount, &sub.BillingDay, &sub.Status, &sub.RetryCount,
		&lastCharge, &nextCharge, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sessionID.Valid {
		sub.SessionID = &sessionID.String
	}
	if depositAddress.Valid {
		sub.DepositAddress = &depositAddress.String
	}
	sub.MonthlyAmountUSD, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse monthly amount %q: %w", amount, err)
	}
	if lastCharge.Valid {
		t := lastCharge.Time.UTC()
		sub.LastChargeDate = &t
	}
	if nextCharge.Valid {
		t := nextCharge.Time.UTC()
		sub.NextChargeDate = &t
	}
	return &sub, nil
}

const subscriptionCols = `id, account_id, session_id, intent_id, deposit_address, monthly_amount_usd, billing_day, status, retry_count, last_charge_date, next_charge_date, created_at, updated_at`

// Save upserts the whole record. Every mutation path goes through a full
// write so a partially-updated subscription is never persisted. The
// updated_at column is always refreshed; created_at is set on first insert.
func (s *SubscriptionStore) Save(sub *model.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO subscriptions (`+subscriptionCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   account_id = excluded.account_id,
		   session_id = excluded.session_id,
		   intent_id = excluded.intent_id,
		   deposit_address = excluded.deposit_address,
		   monthly_amount_usd = excluded.monthly_amount_usd,
		   billing_day = excluded.billing_day,
		   status = excluded.status,
		   retry_count = excluded.retry_count,
		   last_charge_date = excluded.last_charge_date,
		   next_charge_date = excluded.next_charge_date,
		   updated_at = excluded.updated_at`,
		sub.ID, sub.AccountID, nullString(sub.SessionID), sub.IntentID,
		nullString(sub.DepositAddress), sub.MonthlyAmountUSD.String(),
		sub.BillingDay, sub.Status, sub.RetryCount,
		nullTime(sub.LastChargeDate), nullTime(sub.NextChargeDate),
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// GetByAccount returns the most recent subscription for an account, or nil.
func (s *SubscriptionStore) GetByAccount(accountID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE account_id = ? ORDER BY created_at DESC LIMIT 1`,
		accountID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by account: %w", err)
	}
	return sub, nil
}

// GetByIntentID returns the subscription holding the given payment intent, or nil.
func (s *SubscriptionStore) GetByIntentID(intentID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE intent_id = ?`,
		intentID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by intent id: %w", err)
	}
	return sub, nil
}

// GetBySession returns the subscription created under a session before an
// account was linked, or nil.
func (s *SubscriptionStore) GetBySession(sessionID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`,
		sessionID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by session: %w", err)
	}
	return sub, nil
}

// ListDue returns all non-cancelled subscriptions whose next charge date has
// arrived. Records without a next charge date are never due.
func (s *SubscriptionStore) ListDue(now time.Time) ([]*model.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriptionCols+` FROM subscriptions
		 WHERE status != ? AND next_charge_date IS NOT NULL AND next_charge_date <= ?
		 ORDER BY next_charge_date`,
		model.StatusCancelled, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	return subs, nil
}

// StatusUpdate carries the optional fields of an UpdateStatus call. Nil
// fields keep their stored values.
type StatusUpdate struct {
	RetryCount     *int
	LastChargeDate *time.Time
	NextChargeDate *time.Time
	DepositAddress *string
}

// UpdateStatus transitions the account's subscription to a new status,
// merging any partial fields into the stored record and writing it back
// whole. Returns the updated record, or nil if the account has none.
func (s *SubscriptionStore) UpdateStatus(accountID, status string, update StatusUpdate) (*model.Subscription, error) {
	sub, err := s.GetByAccount(accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}

	sub.Status = status
	if update.RetryCount != nil {
		sub.RetryCount = *update.RetryCount
	}
	if update.LastChargeDate != nil {
		sub.LastChargeDate = update.LastChargeDate
	}
	if update.NextChargeDate != nil {
		sub.NextChargeDate = update.NextChargeDate
	}
	if update.DepositAddress != nil {
		sub.DepositAddress = update.DepositAddress
	}

	if err := s.Save(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
