package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjcarver/chainbill/internal/database"
	"github.com/rjcarver/chainbill/internal/model"
)

func setupTestStore(t *testing.T) *SubscriptionStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSubscriptionStore(db)
}

func testSubscription(accountID, intentID string) *model.Subscription {
	return &model.Subscription{
		AccountID:        accountID,
		IntentID:         intentID,
		MonthlyAmountUSD: decimal.RequireFromString("9.99"),
		BillingDay:       15,
		Status:           model.StatusPending,
	}
}

func TestSaveAssignsIDAndTimestamps(t *testing.T) {
	ss := setupTestStore(t)

	sub := testSubscription("alice", "intent-1")
	if err := ss.Save(sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	if sub.ID == "" {
		t.Error("expected generated id")
	}
	if sub.CreatedAt.IsZero() || sub.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestSaveUpsertsWholeRecord(t *testing.T) {
	ss := setupTestStore(t)

	sub := testSubscription("alice", "intent-1")
	if err := ss.Save(sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	firstUpdated := sub.UpdatedAt

	time.Sleep(5 * time.Millisecond)
	sub.Status = model.StatusActive
	sub.RetryCount = 0
	now := time.Now().UTC()
	sub.LastChargeDate = &now
	if err := ss.Save(sub); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := ss.GetByAccount("alice")
	if err != nil {
		t.Fatalf("get by account: %v", err)
	}
	if got.Status != model.StatusActive {
		t.Errorf("status = %q, want %q", got.Status, model.StatusActive)
	}
	if got.LastChargeDate == nil {
		t.Error("expected last charge date to persist")
	}
	if !got.UpdatedAt.After(firstUpdated) {
		t.Errorf("updated_at not refreshed: %v vs %v", got.UpdatedAt, firstUpdated)
	}
	if !got.MonthlyAmountUSD.Equal(decimal.RequireFromString("9.99")) {
		t.Errorf("amount = %s, want 9.99", got.MonthlyAmountUSD)
	}
}

func TestGetByIntentID(t *testing.T) {
	ss := setupTestStore(t)

	sub := testSubscription("alice", "intent-1")
	if err := ss.Save(sub); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := ss.GetByIntentID("intent-1")
	if err != nil {
		t.Fatalf("get by intent id: %v", err)
	}
	if got == nil || got.ID != sub.ID {
		t.Fatalf("expected subscription %q, got %+v", sub.ID, got)
	}

	missing, err := ss.GetByIntentID("intent-unknown")
	if err != nil {
		t.Fatalf("get missing intent: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown intent")
	}
}

func TestGetBySession(t *testing.T) {
	ss := setupTestStore(t)

	sess := "sess-42"
	sub := testSubscription("", "intent-1")
	sub.SessionID = &sess
	if err := ss.Save(sub); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := ss.GetBySession("sess-42")
	if err != nil {
		t.Fatalf("get by session: %v", err)
	}
	if got == nil || got.IntentID != "intent-1" {
		t.Fatalf("expected session-linked record, got %+v", got)
	}
	if got.AccountID != "" {
		t.Errorf("account id = %q, want empty", got.AccountID)
	}
}

func TestListDue(t *testing.T) {
	ss := setupTestStore(t)
	now := time.Now().UTC()

	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	due := testSubscription("alice", "intent-1")
	due.Status = model.StatusActive
	due.NextChargeDate = &past
	if err := ss.Save(due); err != nil {
		t.Fatalf("save due: %v", err)
	}

	notYet := testSubscription("bob", "intent-2")
	notYet.Status = model.StatusActive
	notYet.NextChargeDate = &future
	if err := ss.Save(notYet); err != nil {
		t.Fatalf("save future: %v", err)
	}

	cancelled := testSubscription("carol", "intent-3")
	cancelled.Status = model.StatusCancelled
	cancelled.NextChargeDate = &past
	if err := ss.Save(cancelled); err != nil {
		t.Fatalf("save cancelled: %v", err)
	}

	noDate := testSubscription("dave", "intent-4")
	if err := ss.Save(noDate); err != nil {
		t.Fatalf("save no date: %v", err)
	}

	subs, err := ss.ListDue(now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 due subscription, got %d", len(subs))
	}
	if subs[0].AccountID != "alice" {
		t.Errorf("due account = %q, want alice", subs[0].AccountID)
	}
}

func TestUpdateStatusMergesPartialFields(t *testing.T) {
	ss := setupTestStore(t)

	addr := "deposit-abc"
	sub := testSubscription("alice", "intent-1")
	sub.DepositAddress = &addr
	next := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	sub.NextChargeDate = &next
	if err := ss.Save(sub); err != nil {
		t.Fatalf("save: %v", err)
	}

	retries := 2
	updated, err := ss.UpdateStatus("alice", model.StatusPastDue, StatusUpdate{RetryCount: &retries})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != model.StatusPastDue {
		t.Errorf("status = %q, want %q", updated.Status, model.StatusPastDue)
	}
	if updated.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", updated.RetryCount)
	}
	// Unspecified fields survive the merge.
	if updated.DepositAddress == nil || *updated.DepositAddress != addr {
		t.Errorf("deposit address lost in merge: %+v", updated.DepositAddress)
	}
	if updated.NextChargeDate == nil || !updated.NextChargeDate.Equal(next) {
		t.Errorf("next charge date lost in merge: %+v", updated.NextChargeDate)
	}
}

func TestUpdateStatusUnknownAccount(t *testing.T) {
	ss := setupTestStore(t)

	sub, err := ss.UpdateStatus("nobody", model.StatusCancelled, StatusUpdate{})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if sub != nil {
		t.Error("expected nil for unknown account")
	}
}
