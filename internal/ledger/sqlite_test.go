package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookledger/internal/models"
	"bookledger/internal/rules"

	apperrors "bookledger/pkg/errors"
)

const checkingAccount = "assets:checking"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func civilDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseCivilDate(s)
	require.NoError(t, err)
	return d
}

func purchaseEntry(t *testing.T, id, date, payee, amt string) models.LedgerEntry {
	t.Helper()
	a := decimal.RequireFromString(amt)
	return models.LedgerEntry{
		ID:    id,
		Date:  civilDate(t, date),
		Payee: payee,
		Postings: []models.Posting{
			{ID: id + "-p1", AccountID: checkingAccount, Amount: a.Neg()},
			{ID: id + "-p2", AccountID: "expenses:misc", Amount: a},
		},
	}
}

func januarySession(t *testing.T, id string) models.ReconciliationSession {
	t.Helper()
	return models.ReconciliationSession{
		ID:                    id,
		AccountID:             checkingAccount,
		StatementStart:        civilDate(t, "2026-01-01"),
		StatementEnd:          civilDate(t, "2026-01-31"),
		StatementStartBalance: decimal.RequireFromString("1000.00"),
		StatementEndBalance:   decimal.RequireFromString("880.00"),
		CreatedAt:             time.Now().UTC(),
	}
}

func TestCreateAndGetTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := purchaseEntry(t, "e1", "2026-03-14", "Woolworths", "54.20")
	entry.OriginalDescription = "WOOLWORTHS 1234"
	require.NoError(t, store.CreateTransaction(ctx, entry))

	got, err := store.GetLedgerEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Woolworths", got.Payee)
	assert.Equal(t, "WOOLWORTHS 1234", got.OriginalDescription)
	assert.True(t, got.Date.Equal(civilDate(t, "2026-03-14")))
	require.Len(t, got.Postings, 2)
	assert.True(t, got.Postings[0].Amount.Equal(decimal.RequireFromString("-54.20")))
	assert.Equal(t, "e1", got.Postings[0].EntryID)
}

func TestGetLedgerEntryNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetLedgerEntry(context.Background(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEntryNotFound))
}

func TestFindLedgerEntriesWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, purchaseEntry(t, "jan", "2026-01-15", "A", "10")))
	require.NoError(t, store.CreateTransaction(ctx, purchaseEntry(t, "feb", "2026-02-15", "B", "20")))
	require.NoError(t, store.CreateTransaction(ctx, purchaseEntry(t, "mar", "2026-03-15", "C", "30")))

	window := models.DateRange{Start: civilDate(t, "2026-02-01"), End: civilDate(t, "2026-02-28")}
	entries, err := store.FindLedgerEntries(ctx, checkingAccount, window)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "feb", entries[0].ID)

	// Open window returns everything touching the account, date-ordered.
	entries, err = store.FindLedgerEntries(ctx, checkingAccount, models.DateRange{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "jan", entries[0].ID)
	assert.Equal(t, "mar", entries[2].ID)

	// A different account sees nothing.
	entries, err = store.FindLedgerEntries(ctx, "assets:savings", models.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteTransactionCascadesPostings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, purchaseEntry(t, "e1", "2026-03-14", "A", "10")))
	require.NoError(t, store.DeleteTransaction(ctx, "e1"))

	_, err := store.GetLedgerEntry(ctx, "e1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEntryNotFound))

	entries, err := store.FindLedgerEntries(ctx, checkingAccount, models.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMergeTransferIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	legA := models.LedgerEntry{
		ID:    "out",
		Date:  civilDate(t, "2026-02-01"),
		Payee: "Transfer to savings",
		Postings: []models.Posting{
			{ID: "out-p1", AccountID: checkingAccount, Amount: decimal.RequireFromString("-500")},
		},
	}
	legB := models.LedgerEntry{
		ID:    "in",
		Date:  civilDate(t, "2026-02-01"),
		Payee: "Transfer from checking",
		Postings: []models.Posting{
			{ID: "in-p1", AccountID: "assets:savings", Amount: decimal.RequireFromString("500")},
		},
	}
	require.NoError(t, store.CreateTransaction(ctx, legA))
	require.NoError(t, store.CreateTransaction(ctx, legB))

	merged := models.LedgerEntry{
		ID:    "merged",
		Date:  legA.Date,
		Payee: legA.Payee,
		Postings: []models.Posting{
			{ID: "m-p1", AccountID: checkingAccount, Amount: decimal.RequireFromString("-500")},
			{ID: "m-p2", AccountID: "assets:savings", Amount: decimal.RequireFromString("500")},
		},
	}
	require.NoError(t, store.MergeTransfer(ctx, merged, []string{"out", "in"}))

	_, err := store.GetLedgerEntry(ctx, "out")
	assert.Error(t, err)
	_, err = store.GetLedgerEntry(ctx, "in")
	assert.Error(t, err)

	got, err := store.GetLedgerEntry(ctx, "merged")
	require.NoError(t, err)
	assert.Len(t, got.Postings, 2)
	assert.True(t, got.PostingsBalance())
}

func TestUpdatePostingFlags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, purchaseEntry(t, "e1", "2026-01-10", "A", "120")))
	require.NoError(t, store.CreateSession(ctx, januarySession(t, "s1")))

	flags := models.PostingFlags{Cleared: true, Reconciled: true, SessionID: "s1"}
	require.NoError(t, store.UpdatePostingFlags(ctx, []string{"e1-p1"}, flags))

	got, err := store.GetLedgerEntry(ctx, "e1")
	require.NoError(t, err)
	p, ok := got.PostingFor(checkingAccount)
	require.True(t, ok)
	assert.True(t, p.Cleared)
	assert.True(t, p.Reconciled)
	assert.Equal(t, "s1", p.SessionID)

	// Clearing writes back a NULL session.
	require.NoError(t, store.UpdatePostingFlags(ctx, []string{"e1-p1"}, models.PostingFlags{}))
	got, err = store.GetLedgerEntry(ctx, "e1")
	require.NoError(t, err)
	p, _ = got.PostingFor(checkingAccount)
	assert.False(t, p.Cleared)
	assert.Empty(t, p.SessionID)

	err = store.UpdatePostingFlags(ctx, []string{"missing"}, flags)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePostingNotFound))
}

func TestGetPosting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, purchaseEntry(t, "e1", "2026-01-10", "A", "120")))

	p, err := store.GetPosting(ctx, "e1-p1")
	require.NoError(t, err)
	assert.Equal(t, "e1", p.EntryID)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("-120")))

	_, err = store.GetPosting(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodePostingNotFound))
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, januarySession(t, "s1")))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.Locked)
	assert.True(t, got.StatementStartBalance.Equal(decimal.RequireFromString("1000.00")))
	assert.True(t, got.StatementEnd.Equal(civilDate(t, "2026-01-31")))

	require.NoError(t, store.SetSessionLocked(ctx, "s1", true))
	got, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Locked)

	all, err := store.ListSessions(ctx, checkingAccount)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.GetSession(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeSessionNotFound))
}

func TestDeleteSessionReleasesPostings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, purchaseEntry(t, "e1", "2026-01-10", "A", "120")))
	require.NoError(t, store.CreateSession(ctx, januarySession(t, "s1")))
	flags := models.PostingFlags{Cleared: true, Reconciled: true, SessionID: "s1"}
	require.NoError(t, store.UpdatePostingFlags(ctx, []string{"e1-p1"}, flags))

	require.NoError(t, store.DeleteSession(ctx, "s1"))

	_, err := store.GetSession(ctx, "s1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeSessionNotFound))

	got, err := store.GetLedgerEntry(ctx, "e1")
	require.NoError(t, err)
	p, _ := got.PostingFor(checkingAccount)
	assert.False(t, p.Cleared)
	assert.False(t, p.Reconciled)
	assert.Empty(t, p.SessionID)
}

func TestSessionPostingsAndCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, purchaseEntry(t, "rent", "2026-01-10", "Landlord", "120")))
	require.NoError(t, store.CreateTransaction(ctx, purchaseEntry(t, "shop", "2026-01-20", "Woolworths", "54.20")))
	require.NoError(t, store.CreateSession(ctx, januarySession(t, "s1")))

	flags := models.PostingFlags{Cleared: true, Reconciled: true, SessionID: "s1"}
	require.NoError(t, store.UpdatePostingFlags(ctx, []string{"rent-p1"}, flags))

	postings, err := store.SessionPostings(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "rent-p1", postings[0].Posting.ID)
	assert.True(t, postings[0].EntryDate.Equal(civilDate(t, "2026-01-10")))

	window := models.DateRange{Start: civilDate(t, "2026-01-01"), End: civilDate(t, "2026-01-31")}
	count, err := store.CountUnreconciled(ctx, checkingAccount, window)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPayeeRuleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	all, err := store.GetAllRules()
	require.NoError(t, err)
	assert.Empty(t, all)

	rule := rules.PayeeRule{Mode: rules.ModeContains, MatchValue: "WOOLWORTHS", DefaultPayee: "Woolworths"}
	require.NoError(t, store.AddRule(ctx, rule))

	all, err = store.GetAllRules()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rules.ModeContains, all[0].Mode)
	assert.Equal(t, "Woolworths", all[0].DefaultPayee)
}
