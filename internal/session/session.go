// Package session implements the reconciliation session lifecycle: a
// bounded statement period against which individual postings are checked
// off until the running balance agrees with the statement's closing
// balance, at which point the session can be locked.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bookledger/internal/ledger"
	"bookledger/internal/models"
	"bookledger/pkg/logger"

	apperrors "bookledger/pkg/errors"
)

// Manager owns session state transitions. All mutation goes through the
// store; the manager enforces the lifecycle rules (no flag changes on a
// locked session, no lock until balanced, delete cascades unreconcile).
type Manager struct {
	store ledger.Store
	log   logger.Logger
}

// NewManager creates a session Manager.
func NewManager(store ledger.Store, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		store: store,
		log:   log.WithComponent("session"),
	}
}

// StartParams holds everything needed to open a session.
type StartParams struct {
	AccountID             string
	StatementStart        time.Time
	StatementEnd          time.Time
	StatementStartBalance decimal.Decimal
	StatementEndBalance   decimal.Decimal
}

// Start opens a new reconciliation session for the account. The statement
// window must be a valid range and must not overlap another open session
// on the same account.
func (m *Manager) Start(ctx context.Context, params StartParams) (*models.ReconciliationSession, error) {
	window := models.DateRange{Start: params.StatementStart, End: params.StatementEnd}
	if window.IsZero() {
		return nil, apperrors.New(apperrors.CategoryValidation, apperrors.CodeMissingField,
			"statement period is required").
			WithSuggestion("Provide both statement start and end dates")
	}
	if err := window.Validate(); err != nil {
		return nil, apperrors.InvalidDateRange(
			params.StatementStart.Format(models.CivilDateFormat),
			params.StatementEnd.Format(models.CivilDateFormat))
	}

	existing, err := m.store.ListSessions(ctx, params.AccountID)
	if err != nil {
		return nil, err
	}
	for _, other := range existing {
		if other.Locked {
			continue
		}
		if overlaps(window, other.Range()) {
			return nil, apperrors.New(apperrors.CategorySession, apperrors.CodeSessionOverlap,
				"statement period overlaps open session "+other.ID).
				WithSuggestion("Lock or delete the existing session before starting a new one").
				WithContext("existing_start", other.StatementStart.Format(models.CivilDateFormat)).
				WithContext("existing_end", other.StatementEnd.Format(models.CivilDateFormat))
		}
	}

	sess := models.ReconciliationSession{
		ID:                    uuid.NewString(),
		AccountID:             params.AccountID,
		StatementStart:        models.CivilDate(params.StatementStart),
		StatementEnd:          models.CivilDate(params.StatementEnd),
		StatementStartBalance: params.StatementStartBalance,
		StatementEndBalance:   params.StatementEndBalance,
		Locked:                false,
		CreatedAt:             time.Now().UTC(),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	m.log.WithFields(logger.Fields{
		"session": sess.ID,
		"account": sess.AccountID,
		"start":   sess.StatementStart.Format(models.CivilDateFormat),
		"end":     sess.StatementEnd.Format(models.CivilDateFormat),
	}).Info("reconciliation session started")

	return &sess, nil
}

// Get returns the session by ID.
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.ReconciliationSession, error) {
	return m.store.GetSession(ctx, sessionID)
}

// List returns all sessions for the account, newest first.
func (m *Manager) List(ctx context.Context, accountID string) ([]models.ReconciliationSession, error) {
	return m.store.ListSessions(ctx, accountID)
}

// Status recomputes the session's running state from the reconciled
// postings: expected end balance, difference to the statement, and the
// checked-off counts. Difference is expected minus statement, so a
// statement claiming more money than the ledger shows yields a negative
// difference.
func (m *Manager) Status(ctx context.Context, sessionID string) (*models.SessionStatus, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	postings, err := m.store.SessionPostings(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Only postings dated inside the statement period count towards the
	// expected end balance; a reconciled posting outside it is a user
	// mistake the status must surface, not absorb.
	window := sess.Range()
	reconciled := decimal.Zero
	count := 0
	for _, sp := range postings {
		if !sp.Posting.Reconciled {
			continue
		}
		if !window.Contains(sp.EntryDate) {
			continue
		}
		reconciled = reconciled.Add(sp.Posting.Amount)
		count++
	}

	unreconciled, err := m.store.CountUnreconciled(ctx, sess.AccountID, window)
	if err != nil {
		return nil, err
	}

	expected := sess.StatementStartBalance.Add(reconciled)
	difference := expected.Sub(sess.StatementEndBalance)

	status := &models.SessionStatus{
		SessionID:             sess.ID,
		StatementStartBalance: sess.StatementStartBalance,
		ReconciledAmount:      reconciled,
		ExpectedEndBalance:    expected,
		StatementEndBalance:   sess.StatementEndBalance,
		Difference:            difference,
		IsBalanced:            difference.Abs().LessThan(models.CentTolerance),
		Locked:                sess.Locked,
		ReconciledCount:       count,
		UnreconciledCount:     unreconciled,
	}
	return status, nil
}

// Reconcile marks the postings as cleared and reconciled under the
// session. Fails if this session is locked, or if any of the postings is
// currently claimed by a locked session.
func (m *Manager) Reconcile(ctx context.Context, sessionID string, postingIDs []string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Locked {
		return apperrors.SessionLocked(sessionID)
	}
	if err := m.checkPostingsUnlocked(ctx, postingIDs); err != nil {
		return err
	}
	flags := models.PostingFlags{Cleared: true, Reconciled: true, SessionID: sessionID}
	if err := m.store.UpdatePostingFlags(ctx, postingIDs, flags); err != nil {
		return err
	}
	m.log.WithFields(logger.Fields{
		"session":  sessionID,
		"postings": len(postingIDs),
	}).Info("postings reconciled")
	return nil
}

// Unreconcile clears the reconciliation flags on the postings, returning
// them to the unmatched pool. Fails if this session is locked, or if any
// of the postings is currently claimed by a locked session.
func (m *Manager) Unreconcile(ctx context.Context, sessionID string, postingIDs []string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Locked {
		return apperrors.SessionLocked(sessionID)
	}
	if err := m.checkPostingsUnlocked(ctx, postingIDs); err != nil {
		return err
	}
	flags := models.PostingFlags{Cleared: false, Reconciled: false, SessionID: ""}
	if err := m.store.UpdatePostingFlags(ctx, postingIDs, flags); err != nil {
		return err
	}
	m.log.WithFields(logger.Fields{
		"session":  sessionID,
		"postings": len(postingIDs),
	}).Info("postings unreconciled")
	return nil
}

// Lock finalizes a balanced session. A session whose difference is a cent
// or more cannot be locked.
func (m *Manager) Lock(ctx context.Context, sessionID string) error {
	status, err := m.Status(ctx, sessionID)
	if err != nil {
		return err
	}
	if status.Locked {
		return nil
	}
	if !status.IsBalanced {
		return apperrors.NotBalanced(sessionID, status.Difference.StringFixed(2))
	}
	if err := m.store.SetSessionLocked(ctx, sessionID, true); err != nil {
		return err
	}
	m.log.WithField("session", sessionID).Info("session locked")
	return nil
}

// Unlock reopens a locked session for further adjustment.
func (m *Manager) Unlock(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Locked {
		return nil
	}
	if err := m.store.SetSessionLocked(ctx, sessionID, false); err != nil {
		return err
	}
	m.log.WithField("session", sessionID).Info("session unlocked")
	return nil
}

// Delete removes the session and un-reconciles every posting it had
// claimed, in a single atomic store operation. A locked session must be
// unlocked first.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Locked {
		return apperrors.SessionLocked(sessionID)
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	m.log.WithField("session", sessionID).Info("session deleted, postings released")
	return nil
}

// checkPostingsUnlocked fails when any of the postings is claimed by a
// locked session. A locked session's flags only move through that session
// after an explicit unlock, never through another session's reconcile or
// unreconcile.
func (m *Manager) checkPostingsUnlocked(ctx context.Context, postingIDs []string) error {
	cleared := make(map[string]bool)
	for _, id := range postingIDs {
		p, err := m.store.GetPosting(ctx, id)
		if err != nil {
			return err
		}
		if p.SessionID == "" || cleared[p.SessionID] {
			continue
		}
		owner, err := m.store.GetSession(ctx, p.SessionID)
		if err != nil {
			return err
		}
		if owner.Locked {
			return apperrors.SessionLocked(owner.ID)
		}
		cleared[p.SessionID] = true
	}
	return nil
}

// overlaps reports whether two civil date ranges share at least one day.
func overlaps(a, b models.DateRange) bool {
	return !a.Start.After(b.End) && !b.Start.After(a.End)
}
