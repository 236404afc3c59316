package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookledger/internal/models"

	apperrors "bookledger/pkg/errors"
)

func TestMemStoreUpdatePostingFlagsAtomic(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	store.SeedEntry(purchaseEntry(t, "rent", "2026-01-10", "Landlord", "120"))

	flags := models.PostingFlags{Cleared: true, Reconciled: true, SessionID: "s1"}
	err := store.UpdatePostingFlags(ctx, []string{"rent-p1", "missing"}, flags)
	require.True(t, apperrors.HasCode(err, apperrors.CodePostingNotFound))

	// The valid posting must come through the failed batch untouched.
	got, err := store.GetLedgerEntry(ctx, "rent")
	require.NoError(t, err)
	p, ok := got.PostingFor(checkingAccount)
	require.True(t, ok)
	assert.False(t, p.Cleared)
	assert.False(t, p.Reconciled)
	assert.Empty(t, p.SessionID)
}

func TestMemStoreGetPosting(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	store.SeedEntry(purchaseEntry(t, "rent", "2026-01-10", "Landlord", "120"))

	p, err := store.GetPosting(ctx, "rent-p1")
	require.NoError(t, err)
	assert.Equal(t, checkingAccount, p.AccountID)
	assert.Equal(t, "rent", p.EntryID)

	_, err = store.GetPosting(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodePostingNotFound))
}
