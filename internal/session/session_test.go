package session

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bookledger/internal/ledger"
	"bookledger/internal/models"

	apperrors "bookledger/pkg/errors"
)

const checkingAccount = "assets:checking"

func civilDate(s string) time.Time {
	t, err := models.ParseCivilDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedPurchase(store *ledger.MemStore, id, date, amt string) {
	store.SeedEntry(models.LedgerEntry{
		ID:    id,
		Date:  civilDate(date),
		Payee: "Payee " + id,
		Postings: []models.Posting{
			{ID: id + "-p1", AccountID: checkingAccount, Amount: amount(amt)},
			{ID: id + "-p2", AccountID: "expenses:misc", Amount: amount(amt).Neg()},
		},
	})
}

func januaryParams(endBalance string) StartParams {
	return StartParams{
		AccountID:             checkingAccount,
		StatementStart:        civilDate("2026-01-01"),
		StatementEnd:          civilDate("2026-01-31"),
		StatementStartBalance: amount("1000.00"),
		StatementEndBalance:   amount(endBalance),
	}
}

func newTestManager(store *ledger.MemStore) *Manager {
	return NewManager(store, nil)
}

func TestStartSession(t *testing.T) {
	store := ledger.NewMemStore()
	mgr := newTestManager(store)

	sess, err := mgr.Start(context.Background(), januaryParams("880.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if sess.ID == "" {
		t.Error("session ID not assigned")
	}
	if sess.Locked {
		t.Error("new session must start unlocked")
	}

	got, err := mgr.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !got.StatementEnd.Equal(civilDate("2026-01-31")) {
		t.Errorf("StatementEnd = %v", got.StatementEnd)
	}
}

func TestStartSessionInvalidRange(t *testing.T) {
	store := ledger.NewMemStore()
	mgr := newTestManager(store)

	params := januaryParams("880.00")
	params.StatementStart, params.StatementEnd = params.StatementEnd, params.StatementStart

	_, err := mgr.Start(context.Background(), params)
	if !apperrors.HasCode(err, apperrors.CodeInvalidDateRange) {
		t.Errorf("error = %v, want invalid date range", err)
	}
}

func TestStartSessionOverlap(t *testing.T) {
	store := ledger.NewMemStore()
	mgr := newTestManager(store)
	ctx := context.Background()

	if _, err := mgr.Start(ctx, januaryParams("880.00")); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	overlapping := StartParams{
		AccountID:             checkingAccount,
		StatementStart:        civilDate("2026-01-15"),
		StatementEnd:          civilDate("2026-02-15"),
		StatementStartBalance: amount("0"),
		StatementEndBalance:   amount("0"),
	}
	_, err := mgr.Start(ctx, overlapping)
	if !apperrors.HasCode(err, apperrors.CodeSessionOverlap) {
		t.Errorf("error = %v, want session overlap", err)
	}

	// A different account is free to cover the same period.
	overlapping.AccountID = "assets:savings"
	if _, err := mgr.Start(ctx, overlapping); err != nil {
		t.Errorf("Start() on other account error: %v", err)
	}
}

func TestStatusBalancedScenario(t *testing.T) {
	store := ledger.NewMemStore()
	seedPurchase(store, "rent", "2026-01-10", "-120.00")
	mgr := newTestManager(store)
	ctx := context.Background()

	// Statement: opening 1000.00, one 120.00 withdrawal, closing 880.00.
	sess, err := mgr.Start(ctx, januaryParams("880.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	status, err := mgr.Status(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if status.IsBalanced {
		t.Error("session balanced before anything was reconciled")
	}
	if status.UnreconciledCount != 1 {
		t.Errorf("UnreconciledCount = %d, want 1", status.UnreconciledCount)
	}

	if err := mgr.Reconcile(ctx, sess.ID, []string{"rent-p1"}); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	status, err = mgr.Status(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if got := status.ExpectedEndBalance.StringFixed(2); got != "880.00" {
		t.Errorf("ExpectedEndBalance = %s, want 880.00", got)
	}
	if got := status.Difference.StringFixed(2); got != "0.00" {
		t.Errorf("Difference = %s, want 0.00", got)
	}
	if !status.IsBalanced {
		t.Error("session should be balanced")
	}
	if status.ReconciledCount != 1 || status.UnreconciledCount != 0 {
		t.Errorf("counts = %d reconciled, %d unreconciled", status.ReconciledCount, status.UnreconciledCount)
	}
}

func TestStatusIgnoresOutOfWindowPostings(t *testing.T) {
	store := ledger.NewMemStore()
	seedPurchase(store, "rent", "2026-01-10", "-120.00")
	seedPurchase(store, "late", "2026-03-15", "-55.00")
	mgr := newTestManager(store)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, januaryParams("880.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// The March posting is reconciled by mistake; only the January one may
	// count towards the expected end balance.
	if err := mgr.Reconcile(ctx, sess.ID, []string{"rent-p1", "late-p1"}); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	status, err := mgr.Status(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if got := status.ReconciledAmount.StringFixed(2); got != "-120.00" {
		t.Errorf("ReconciledAmount = %s, want -120.00", got)
	}
	if got := status.ExpectedEndBalance.StringFixed(2); got != "880.00" {
		t.Errorf("ExpectedEndBalance = %s, want 880.00", got)
	}
	if !status.IsBalanced {
		t.Error("session should be balanced on the in-window posting alone")
	}
	if status.ReconciledCount != 1 {
		t.Errorf("ReconciledCount = %d, want 1", status.ReconciledCount)
	}
}

func TestStatusDifferenceSign(t *testing.T) {
	store := ledger.NewMemStore()
	seedPurchase(store, "rent", "2026-01-10", "-120.00")
	mgr := newTestManager(store)
	ctx := context.Background()

	// The statement claims 900.00 but the ledger only supports 880.00:
	// the difference reads 20.00 short.
	sess, err := mgr.Start(ctx, januaryParams("900.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := mgr.Reconcile(ctx, sess.ID, []string{"rent-p1"}); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	status, err := mgr.Status(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if got := status.Difference.StringFixed(2); got != "-20.00" {
		t.Errorf("Difference = %s, want -20.00", got)
	}
	if status.IsBalanced {
		t.Error("session must not be balanced with a 20.00 gap")
	}
}

func TestReconcileUnreconcileRoundTrip(t *testing.T) {
	store := ledger.NewMemStore()
	seedPurchase(store, "rent", "2026-01-10", "-120.00")
	mgr := newTestManager(store)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, januaryParams("880.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := mgr.Reconcile(ctx, sess.ID, []string{"rent-p1"}); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	entry, err := store.GetLedgerEntry(ctx, "rent")
	if err != nil {
		t.Fatalf("GetLedgerEntry() error: %v", err)
	}
	p, _ := entry.PostingFor(checkingAccount)
	if !p.Cleared || !p.Reconciled || p.SessionID != sess.ID {
		t.Errorf("after reconcile: %+v", p)
	}

	if err := mgr.Unreconcile(ctx, sess.ID, []string{"rent-p1"}); err != nil {
		t.Fatalf("Unreconcile() error: %v", err)
	}
	entry, err = store.GetLedgerEntry(ctx, "rent")
	if err != nil {
		t.Fatalf("GetLedgerEntry() error: %v", err)
	}
	p, _ = entry.PostingFor(checkingAccount)
	if p.Cleared || p.Reconciled || p.SessionID != "" {
		t.Errorf("after unreconcile: %+v", p)
	}
}

func TestReconcileUnknownPosting(t *testing.T) {
	store := ledger.NewMemStore()
	mgr := newTestManager(store)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, januaryParams("880.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	err = mgr.Reconcile(ctx, sess.ID, []string{"no-such-posting"})
	if !apperrors.HasCode(err, apperrors.CodePostingNotFound) {
		t.Errorf("error = %v, want posting not found", err)
	}
}

func TestLockRequiresBalance(t *testing.T) {
	store := ledger.NewMemStore()
	seedPurchase(store, "rent", "2026-01-10", "-120.00")
	mgr := newTestManager(store)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, januaryParams("880.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	err = mgr.Lock(ctx, sess.ID)
	if !apperrors.HasCode(err, apperrors.CodeNotBalanced) {
		t.Fatalf("error = %v, want not balanced", err)
	}

	if err := mgr.Reconcile(ctx, sess.ID, []string{"rent-p1"}); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if err := mgr.Lock(ctx, sess.ID); err != nil {
		t.Fatalf("Lock() after balancing error: %v", err)
	}

	got, err := mgr.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !got.Locked {
		t.Error("session not locked")
	}
}

func TestLockedSessionIsImmutable(t *testing.T) {
	store := ledger.NewMemStore()
	seedPurchase(store, "rent", "2026-01-10", "-120.00")
	mgr := newTestManager(store)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, januaryParams("880.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := mgr.Reconcile(ctx, sess.ID, []string{"rent-p1"}); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if err := mgr.Lock(ctx, sess.ID); err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	if err := mgr.Unreconcile(ctx, sess.ID, []string{"rent-p1"}); !apperrors.HasCode(err, apperrors.CodeSessionLocked) {
		t.Errorf("Unreconcile on locked session: error = %v, want session locked", err)
	}
	if err := mgr.Reconcile(ctx, sess.ID, []string{"rent-p1"}); !apperrors.HasCode(err, apperrors.CodeSessionLocked) {
		t.Errorf("Reconcile on locked session: error = %v, want session locked", err)
	}
	if err := mgr.Delete(ctx, sess.ID); !apperrors.HasCode(err, apperrors.CodeSessionLocked) {
		t.Errorf("Delete on locked session: error = %v, want session locked", err)
	}

	// Unlock reopens it.
	if err := mgr.Unlock(ctx, sess.ID); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if err := mgr.Unreconcile(ctx, sess.ID, []string{"rent-p1"}); err != nil {
		t.Errorf("Unreconcile after unlock error: %v", err)
	}
}

func TestLockedPostingsGuardedAcrossSessions(t *testing.T) {
	store := ledger.NewMemStore()
	seedPurchase(store, "rent", "2026-01-10", "-120.00")
	mgr := newTestManager(store)
	ctx := context.Background()

	jan, err := mgr.Start(ctx, januaryParams("880.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := mgr.Reconcile(ctx, jan.ID, []string{"rent-p1"}); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if err := mgr.Lock(ctx, jan.ID); err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	feb, err := mgr.Start(ctx, StartParams{
		AccountID:             checkingAccount,
		StatementStart:        civilDate("2026-02-01"),
		StatementEnd:          civilDate("2026-02-28"),
		StatementStartBalance: amount("880.00"),
		StatementEndBalance:   amount("880.00"),
	})
	if err != nil {
		t.Fatalf("Start() for February error: %v", err)
	}

	// The February session is open, but the posting belongs to the locked
	// January session and must not move through it.
	if err := mgr.Unreconcile(ctx, feb.ID, []string{"rent-p1"}); !apperrors.HasCode(err, apperrors.CodeSessionLocked) {
		t.Errorf("Unreconcile through other session: error = %v, want session locked", err)
	}
	if err := mgr.Reconcile(ctx, feb.ID, []string{"rent-p1"}); !apperrors.HasCode(err, apperrors.CodeSessionLocked) {
		t.Errorf("Reconcile through other session: error = %v, want session locked", err)
	}

	entry, err := store.GetLedgerEntry(ctx, "rent")
	if err != nil {
		t.Fatalf("GetLedgerEntry() error: %v", err)
	}
	p, _ := entry.PostingFor(checkingAccount)
	if !p.Cleared || !p.Reconciled || p.SessionID != jan.ID {
		t.Errorf("locked session's posting was mutated: %+v", p)
	}

	// Unlocking January releases the claim.
	if err := mgr.Unlock(ctx, jan.ID); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if err := mgr.Unreconcile(ctx, feb.ID, []string{"rent-p1"}); err != nil {
		t.Errorf("Unreconcile after unlock error: %v", err)
	}
}

func TestDeleteSessionReleasesPostings(t *testing.T) {
	store := ledger.NewMemStore()
	seedPurchase(store, "rent", "2026-01-10", "-120.00")
	mgr := newTestManager(store)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, januaryParams("880.00"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := mgr.Reconcile(ctx, sess.ID, []string{"rent-p1"}); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	if err := mgr.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if _, err := mgr.Get(ctx, sess.ID); !apperrors.HasCode(err, apperrors.CodeSessionNotFound) {
		t.Errorf("Get after delete: error = %v, want session not found", err)
	}

	entry, err := store.GetLedgerEntry(ctx, "rent")
	if err != nil {
		t.Fatalf("GetLedgerEntry() error: %v", err)
	}
	p, _ := entry.PostingFor(checkingAccount)
	if p.Cleared || p.Reconciled || p.SessionID != "" {
		t.Errorf("posting still flagged after session delete: %+v", p)
	}
}

func TestStatusUnknownSession(t *testing.T) {
	store := ledger.NewMemStore()
	mgr := newTestManager(store)

	_, err := mgr.Status(context.Background(), "no-such-session")
	if !apperrors.HasCode(err, apperrors.CodeSessionNotFound) {
		t.Errorf("error = %v, want session not found", err)
	}
}
