package ledger

import (
	"context"
	"sort"
	"sync"

	apperrors "bookledger/pkg/errors"

	"bookledger/internal/models"
	"bookledger/internal/rules"
)

// MemStore is an in-memory Store used by tests and as a reference
// implementation of the contract. It is safe for concurrent use.
type MemStore struct {
	mu       sync.Mutex
	entries  map[string]models.LedgerEntry
	sessions map[string]models.ReconciliationSession
	rules    []rules.PayeeRule
}

var (
	_ Store        = (*MemStore)(nil)
	_ rules.Lookup = (*MemStore)(nil)
)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		entries:  make(map[string]models.LedgerEntry),
		sessions: make(map[string]models.ReconciliationSession),
	}
}

// SeedEntry inserts an entry directly, bypassing validation. Test helper.
func (m *MemStore) SeedEntry(entry models.LedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = cloneEntry(entry)
}

// SeedRules replaces the rule set. Test helper.
func (m *MemStore) SeedRules(all []rules.PayeeRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]rules.PayeeRule(nil), all...)
}

func cloneEntry(entry models.LedgerEntry) models.LedgerEntry {
	out := entry
	out.Postings = append([]models.Posting(nil), entry.Postings...)
	for i := range out.Postings {
		out.Postings[i].EntryID = entry.ID
	}
	return out
}

// FindLedgerEntries returns entries touching the account in the window.
func (m *MemStore) FindLedgerEntries(_ context.Context, accountID string, window models.DateRange) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.LedgerEntry
	for _, entry := range m.entries {
		if _, ok := entry.PostingFor(accountID); !ok {
			continue
		}
		if !window.Contains(entry.Date) {
			continue
		}
		out = append(out, cloneEntry(entry))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetLedgerEntry returns one entry by id.
func (m *MemStore) GetLedgerEntry(_ context.Context, id string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, apperrors.EntryNotFound(id)
	}
	out := cloneEntry(entry)
	return &out, nil
}

// GetPosting returns one posting by id.
func (m *MemStore) GetPosting(_ context.Context, id string) (models.Posting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.findPosting(id)
	if !ok {
		return models.Posting{}, apperrors.PostingNotFound(id)
	}
	return p, nil
}

func (m *MemStore) findPosting(id string) (models.Posting, bool) {
	for _, entry := range m.entries {
		for _, p := range entry.Postings {
			if p.ID == id {
				return p, true
			}
		}
	}
	return models.Posting{}, false
}

// CreateTransaction stores a new entry.
func (m *MemStore) CreateTransaction(_ context.Context, entry models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = cloneEntry(entry)
	return nil
}

// DeleteTransaction removes an entry.
func (m *MemStore) DeleteTransaction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return apperrors.EntryNotFound(id)
	}
	delete(m.entries, id)
	return nil
}

// MergeTransfer deletes the sources and stores the merged entry, all under
// one lock so the operation is atomic.
func (m *MemStore) MergeTransfer(_ context.Context, merged models.LedgerEntry, dropIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range dropIDs {
		if _, ok := m.entries[id]; !ok {
			return apperrors.EntryNotFound(id)
		}
	}
	for _, id := range dropIDs {
		delete(m.entries, id)
	}
	m.entries[merged.ID] = cloneEntry(merged)
	return nil
}

// UpdatePostingFlags replaces the flags on the given postings. The whole
// batch is validated before anything is written, so a missing id leaves
// the store untouched.
func (m *MemStore) UpdatePostingFlags(_ context.Context, postingIDs []string, flags models.PostingFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range postingIDs {
		if _, ok := m.findPosting(id); !ok {
			return apperrors.PostingNotFound(id)
		}
	}

	for _, id := range postingIDs {
		for entryID, entry := range m.entries {
			for i := range entry.Postings {
				if entry.Postings[i].ID != id {
					continue
				}
				entry.Postings[i].Cleared = flags.Cleared
				entry.Postings[i].Reconciled = flags.Reconciled
				entry.Postings[i].SessionID = flags.SessionID
				m.entries[entryID] = entry
			}
		}
	}
	return nil
}

// CreateSession stores a session.
func (m *MemStore) CreateSession(_ context.Context, session models.ReconciliationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

// GetSession returns one session by id.
func (m *MemStore) GetSession(_ context.Context, id string) (*models.ReconciliationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.SessionNotFound(id)
	}
	return &session, nil
}

// ListSessions returns an account's sessions.
func (m *MemStore) ListSessions(_ context.Context, accountID string) ([]models.ReconciliationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ReconciliationSession
	for _, session := range m.sessions {
		if session.AccountID == accountID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SetSessionLocked flips the lock flag.
func (m *MemStore) SetSessionLocked(_ context.Context, id string, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return apperrors.SessionNotFound(id)
	}
	session.Locked = locked
	m.sessions[id] = session
	return nil
}

// DeleteSession unflags the session's postings and removes the session.
func (m *MemStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return apperrors.SessionNotFound(id)
	}
	for entryID, entry := range m.entries {
		for i := range entry.Postings {
			if entry.Postings[i].SessionID == id {
				entry.Postings[i].Cleared = false
				entry.Postings[i].Reconciled = false
				entry.Postings[i].SessionID = ""
			}
		}
		m.entries[entryID] = entry
	}
	delete(m.sessions, id)
	return nil
}

// SessionPostings returns the session's postings with transaction dates.
func (m *MemStore) SessionPostings(_ context.Context, sessionID string) ([]SessionPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SessionPosting
	for _, entry := range m.entries {
		for _, p := range entry.Postings {
			if p.SessionID == sessionID {
				out = append(out, SessionPosting{Posting: p, EntryDate: entry.Date})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Posting.ID < out[j].Posting.ID })
	return out, nil
}

// CountUnreconciled counts unreconciled postings in the window.
func (m *MemStore) CountUnreconciled(_ context.Context, accountID string, window models.DateRange) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, entry := range m.entries {
		if !window.Contains(entry.Date) {
			continue
		}
		for _, p := range entry.Postings {
			if p.AccountID == accountID && !p.Reconciled {
				count++
			}
		}
	}
	return count, nil
}

// GetAllRules implements rules.Lookup.
func (m *MemStore) GetAllRules() ([]rules.PayeeRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rules.PayeeRule(nil), m.rules...), nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
