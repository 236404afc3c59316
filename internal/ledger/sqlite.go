package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	apperrors "bookledger/pkg/errors"

	"bookledger/internal/models"
	"bookledger/internal/rules"
)

// SQLiteStore implements Store on a SQLite database. Amounts are stored as
// decimal strings and dates as `YYYY-MM-DD` text, so no precision or
// timezone information is invented by the storage layer.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ Store        = (*SQLiteStore)(nil)
	_ rules.Lookup = (*SQLiteStore)(nil)
)

// OpenSQLite opens (creating if needed) a ledger database at path and runs
// pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, apperrors.StorageError("open", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, apperrors.StorageError("enable foreign keys", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id                   TEXT PRIMARY KEY,
		date                 TEXT NOT NULL,
		payee                TEXT NOT NULL,
		original_description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS postings (
		id             TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		account_id     TEXT NOT NULL,
		amount         TEXT NOT NULL,
		cleared        INTEGER NOT NULL DEFAULT 0,
		reconciled     INTEGER NOT NULL DEFAULT 0,
		session_id     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_postings_account ON postings(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_postings_session ON postings(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_postings_transaction ON postings(transaction_id)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_sessions (
		id                      TEXT PRIMARY KEY,
		account_id              TEXT NOT NULL,
		statement_start         TEXT NOT NULL,
		statement_end           TEXT NOT NULL,
		statement_start_balance TEXT NOT NULL,
		statement_end_balance   TEXT NOT NULL,
		locked                  INTEGER NOT NULL DEFAULT 0,
		created_at              TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_account ON reconciliation_sessions(account_id)`,
	`CREATE TABLE IF NOT EXISTS payee_rules (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		mode          TEXT NOT NULL,
		match_value   TEXT NOT NULL,
		default_payee TEXT NOT NULL
	)`,
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return apperrors.StorageError("migrate", err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.StorageError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.StorageError("commit transaction", err)
	}
	return nil
}

// FindLedgerEntries returns the entries touching the account in the window.
func (s *SQLiteStore) FindLedgerEntries(ctx context.Context, accountID string, window models.DateRange) ([]models.LedgerEntry, error) {
	query := `SELECT DISTINCT t.id, t.date, t.payee, t.original_description
		FROM transactions t
		JOIN postings p ON p.transaction_id = t.id
		WHERE p.account_id = ?`
	args := []interface{}{accountID}
	if !window.IsZero() {
		query += ` AND t.date >= ? AND t.date <= ?`
		args = append(args,
			window.Start.Format(models.CivilDateFormat),
			window.End.Format(models.CivilDateFormat))
	}
	query += ` ORDER BY t.date, t.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.StorageError("find ledger entries", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("find ledger entries", err)
	}

	for i := range entries {
		postings, err := s.entryPostings(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Postings = postings
	}
	return entries, nil
}

// GetLedgerEntry returns one entry with its postings.
func (s *SQLiteStore) GetLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, date, payee, original_description FROM transactions WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.EntryNotFound(id)
	}
	if err != nil {
		return nil, err
	}

	postings, err := s.entryPostings(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	entry.Postings = postings
	return &entry, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(r rowScanner) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var date string
	if err := r.Scan(&entry.ID, &date, &entry.Payee, &entry.OriginalDescription); err != nil {
		if err == sql.ErrNoRows {
			return entry, err
		}
		return entry, apperrors.StorageError("scan ledger entry", err)
	}
	parsed, err := models.ParseCivilDate(date)
	if err != nil {
		return entry, apperrors.StorageError("parse entry date", err)
	}
	entry.Date = parsed
	return entry, nil
}

func (s *SQLiteStore) entryPostings(ctx context.Context, entryID string) ([]models.Posting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transaction_id, account_id, amount, cleared, reconciled, COALESCE(session_id, '')
		FROM postings WHERE transaction_id = ? ORDER BY id`, entryID)
	if err != nil {
		return nil, apperrors.StorageError("load postings", err)
	}
	defer rows.Close()

	var postings []models.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("load postings", err)
	}
	return postings, nil
}

func scanPosting(r rowScanner) (models.Posting, error) {
	var p models.Posting
	var amount string
	if err := r.Scan(&p.ID, &p.EntryID, &p.AccountID, &amount, &p.Cleared, &p.Reconciled, &p.SessionID); err != nil {
		if err == sql.ErrNoRows {
			return p, err
		}
		return p, apperrors.StorageError("scan posting", err)
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return p, apperrors.StorageError("parse posting amount", err)
	}
	p.Amount = parsed
	return p, nil
}

// GetPosting returns one posting by id.
func (s *SQLiteStore) GetPosting(ctx context.Context, id string) (models.Posting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, transaction_id, account_id, amount, cleared, reconciled, COALESCE(session_id, '')
		FROM postings WHERE id = ?`, id)
	p, err := scanPosting(row)
	if err == sql.ErrNoRows {
		return models.Posting{}, apperrors.PostingNotFound(id)
	}
	return p, err
}

// CreateTransaction stores the entry and its postings atomically.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, entry models.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEntry(ctx, tx, entry)
	})
}

func insertEntry(ctx context.Context, tx *sql.Tx, entry models.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, date, payee, original_description) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.Date.Format(models.CivilDateFormat), entry.Payee, entry.OriginalDescription)
	if err != nil {
		return apperrors.StorageError("insert transaction", err)
	}
	for _, p := range entry.Postings {
		var sessionID interface{}
		if p.SessionID != "" {
			sessionID = p.SessionID
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO postings (id, transaction_id, account_id, amount, cleared, reconciled, session_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, entry.ID, p.AccountID, p.Amount.String(), p.Cleared, p.Reconciled, sessionID)
		if err != nil {
			return apperrors.StorageError("insert posting", err)
		}
	}
	return nil
}

// DeleteTransaction removes the entry; postings cascade.
func (s *SQLiteStore) DeleteTransaction(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return deleteEntry(ctx, tx, id)
	})
}

func deleteEntry(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return apperrors.StorageError("delete transaction", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.EntryNotFound(id)
	}
	return nil
}

// MergeTransfer creates the merged entry and deletes the sources in one
// storage transaction.
func (s *SQLiteStore) MergeTransfer(ctx context.Context, merged models.LedgerEntry, dropIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range dropIDs {
			if err := deleteEntry(ctx, tx, id); err != nil {
				return err
			}
		}
		return insertEntry(ctx, tx, merged)
	})
}

// UpdatePostingFlags replaces the reconciliation flags on the postings.
func (s *SQLiteStore) UpdatePostingFlags(ctx context.Context, postingIDs []string, flags models.PostingFlags) error {
	if len(postingIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var sessionID interface{}
		if flags.SessionID != "" {
			sessionID = flags.SessionID
		}
		for _, id := range postingIDs {
			res, err := tx.ExecContext(ctx,
				`UPDATE postings SET cleared = ?, reconciled = ?, session_id = ? WHERE id = ?`,
				flags.Cleared, flags.Reconciled, sessionID, id)
			if err != nil {
				return apperrors.StorageError("update posting flags", err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return apperrors.PostingNotFound(id)
			}
		}
		return nil
	})
}

// CreateSession stores a reconciliation session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session models.ReconciliationSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconciliation_sessions
		(id, account_id, statement_start, statement_end, statement_start_balance, statement_end_balance, locked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.AccountID,
		session.StatementStart.Format(models.CivilDateFormat),
		session.StatementEnd.Format(models.CivilDateFormat),
		session.StatementStartBalance.String(),
		session.StatementEndBalance.String(),
		session.Locked,
		session.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return apperrors.StorageError("create session", err)
	}
	return nil
}

// GetSession returns one session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.ReconciliationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, statement_start, statement_end,
			statement_start_balance, statement_end_balance, locked, created_at
		FROM reconciliation_sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.SessionNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns an account's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, accountID string) ([]models.ReconciliationSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, statement_start, statement_end,
			statement_start_balance, statement_end_balance, locked, created_at
		FROM reconciliation_sessions WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, apperrors.StorageError("list sessions", err)
	}
	defer rows.Close()

	var sessions []models.ReconciliationSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("list sessions", err)
	}
	return sessions, nil
}

func scanSession(r rowScanner) (models.ReconciliationSession, error) {
	var session models.ReconciliationSession
	var start, end, startBal, endBal, createdAt string
	err := r.Scan(&session.ID, &session.AccountID, &start, &end, &startBal, &endBal, &session.Locked, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return session, err
		}
		return session, apperrors.StorageError("scan session", err)
	}

	if session.StatementStart, err = models.ParseCivilDate(start); err != nil {
		return session, apperrors.StorageError("parse session start", err)
	}
	if session.StatementEnd, err = models.ParseCivilDate(end); err != nil {
		return session, apperrors.StorageError("parse session end", err)
	}
	if session.StatementStartBalance, err = decimal.NewFromString(startBal); err != nil {
		return session, apperrors.StorageError("parse start balance", err)
	}
	if session.StatementEndBalance, err = decimal.NewFromString(endBal); err != nil {
		return session, apperrors.StorageError("parse end balance", err)
	}
	if session.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return session, apperrors.StorageError("parse session created_at", err)
	}
	return session, nil
}

// SetSessionLocked flips the lock flag.
func (s *SQLiteStore) SetSessionLocked(ctx context.Context, id string, locked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reconciliation_sessions SET locked = ? WHERE id = ?`, locked, id)
	if err != nil {
		return apperrors.StorageError("set session lock", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.SessionNotFound(id)
	}
	return nil
}

// DeleteSession unflags the session's postings and removes the session in
// one storage transaction.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE postings SET cleared = 0, reconciled = 0, session_id = NULL WHERE session_id = ?`, id)
		if err != nil {
			return apperrors.StorageError("unflag session postings", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM reconciliation_sessions WHERE id = ?`, id)
		if err != nil {
			return apperrors.StorageError("delete session", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return apperrors.SessionNotFound(id)
		}
		return nil
	})
}

// SessionPostings returns the session's postings with transaction dates.
func (s *SQLiteStore) SessionPostings(ctx context.Context, sessionID string) ([]SessionPosting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.transaction_id, p.account_id, p.amount, p.cleared, p.reconciled, COALESCE(p.session_id, ''), t.date
		FROM postings p
		JOIN transactions t ON t.id = p.transaction_id
		WHERE p.session_id = ? ORDER BY t.date, p.id`, sessionID)
	if err != nil {
		return nil, apperrors.StorageError("load session postings", err)
	}
	defer rows.Close()

	var result []SessionPosting
	for rows.Next() {
		var sp SessionPosting
		var amount, date string
		if err := rows.Scan(&sp.Posting.ID, &sp.Posting.EntryID, &sp.Posting.AccountID,
			&amount, &sp.Posting.Cleared, &sp.Posting.Reconciled, &sp.Posting.SessionID, &date); err != nil {
			return nil, apperrors.StorageError("scan session posting", err)
		}
		if sp.Posting.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, apperrors.StorageError("parse posting amount", err)
		}
		if sp.EntryDate, err = models.ParseCivilDate(date); err != nil {
			return nil, apperrors.StorageError("parse posting date", err)
		}
		result = append(result, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("load session postings", err)
	}
	return result, nil
}

// CountUnreconciled counts unreconciled postings for the account inside
// the window.
func (s *SQLiteStore) CountUnreconciled(ctx context.Context, accountID string, window models.DateRange) (int, error) {
	query := `SELECT COUNT(*)
		FROM postings p
		JOIN transactions t ON t.id = p.transaction_id
		WHERE p.account_id = ? AND p.reconciled = 0`
	args := []interface{}{accountID}
	if !window.IsZero() {
		query += ` AND t.date >= ? AND t.date <= ?`
		args = append(args,
			window.Start.Format(models.CivilDateFormat),
			window.End.Format(models.CivilDateFormat))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, apperrors.StorageError("count unreconciled", err)
	}
	return count, nil
}

// GetAllRules implements rules.Lookup from the payee_rules table.
func (s *SQLiteStore) GetAllRules() ([]rules.PayeeRule, error) {
	rows, err := s.db.Query(`SELECT mode, match_value, default_payee FROM payee_rules ORDER BY id`)
	if err != nil {
		return nil, apperrors.StorageError("load payee rules", err)
	}
	defer rows.Close()

	var all []rules.PayeeRule
	for rows.Next() {
		var r rules.PayeeRule
		var mode string
		if err := rows.Scan(&mode, &r.MatchValue, &r.DefaultPayee); err != nil {
			return nil, apperrors.StorageError("scan payee rule", err)
		}
		r.Mode = rules.MatchMode(strings.ToUpper(mode))
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("load payee rules", err)
	}
	return all, nil
}

// AddRule stores a payee rule. Used by ingestion tooling and tests.
func (s *SQLiteStore) AddRule(ctx context.Context, r rules.PayeeRule) error {
	if !r.Mode.IsValid() {
		return apperrors.New(apperrors.CategoryValidation, apperrors.CodeMissingField,
			fmt.Sprintf("invalid rule mode %q", r.Mode))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payee_rules (mode, match_value, default_payee) VALUES (?, ?, ?)`,
		string(r.Mode), r.MatchValue, r.DefaultPayee)
	if err != nil {
		return apperrors.StorageError("add payee rule", err)
	}
	return nil
}
