// Package ledger defines the narrow storage contract the matching core
// depends on, with a SQLite implementation and an in-memory implementation
// for tests. The core has no knowledge of the storage engine behind the
// Store interface; every mutating call executes atomically.
package ledger

import (
	"context"
	"time"

	"bookledger/internal/models"
)

// SessionPosting is a posting flagged by a reconciliation session together
// with the civil date of its owning transaction, which the session status
// computation windows on.
type SessionPosting struct {
	Posting   models.Posting
	EntryDate time.Time
}

// Store is the ledger storage contract consumed by the matching core,
// the reconciliation session manager and the transfer-merge workflow.
type Store interface {
	// FindLedgerEntries returns the entries with a posting touching the
	// account, optionally restricted to a civil-date window.
	FindLedgerEntries(ctx context.Context, accountID string, window models.DateRange) ([]models.LedgerEntry, error)

	// GetLedgerEntry returns one entry by id, or an entry_not_found error.
	GetLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error)

	// GetPosting returns one posting by id, or a posting_not_found error.
	GetPosting(ctx context.Context, id string) (models.Posting, error)

	// CreateTransaction stores a new entry with its postings.
	CreateTransaction(ctx context.Context, entry models.LedgerEntry) error

	// DeleteTransaction removes an entry and its postings.
	DeleteTransaction(ctx context.Context, id string) error

	// MergeTransfer atomically creates the merged entry and deletes the
	// source entries; one pair-commit is one storage transaction.
	MergeTransfer(ctx context.Context, merged models.LedgerEntry, dropIDs []string) error

	// UpdatePostingFlags replaces the reconciliation flags on the given
	// postings in a single storage transaction.
	UpdatePostingFlags(ctx context.Context, postingIDs []string, flags models.PostingFlags) error

	// CreateSession stores a new reconciliation session.
	CreateSession(ctx context.Context, session models.ReconciliationSession) error

	// GetSession returns one session by id, or a session_not_found error.
	GetSession(ctx context.Context, id string) (*models.ReconciliationSession, error)

	// ListSessions returns an account's sessions, newest first.
	ListSessions(ctx context.Context, accountID string) ([]models.ReconciliationSession, error)

	// SetSessionLocked flips the session lock flag.
	SetSessionLocked(ctx context.Context, id string, locked bool) error

	// DeleteSession unflags the session's postings and removes the session
	// record in one storage transaction, so deletion never leaves orphaned
	// reconciled flags.
	DeleteSession(ctx context.Context, id string) error

	// SessionPostings returns the postings flagged by a session with their
	// transaction dates.
	SessionPostings(ctx context.Context, sessionID string) ([]SessionPosting, error)

	// CountUnreconciled counts the account's postings inside the window
	// that are not reconciled.
	CountUnreconciled(ctx context.Context, accountID string, window models.DateRange) (int, error)

	Close() error
}
