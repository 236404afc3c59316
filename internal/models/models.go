// Package models defines the core data model shared by the matching,
// reconciliation and transfer-merge components: external statement records,
// ledger entries and their postings, match candidates, reconciliation
// sessions, and the date/amount helpers used to parse them.
//
// All monetary values are decimal.Decimal. All dates are civil dates:
// time.Time values pinned to midnight UTC, with no intra-day component.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CivilDateFormat is the canonical storage and wire format for dates.
const CivilDateFormat = "2006-01-02"

// CentTolerance is the largest amount difference treated as equal to the cent.
var CentTolerance = decimal.New(1, -2) // 0.01

// CivilDate truncates t to its civil date at midnight UTC.
func CivilDate(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute whole-day distance between two civil dates.
func DaysBetween(a, b time.Time) int {
	d := CivilDate(a).Sub(CivilDate(b))
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// DateRange is an inclusive civil-date window. A zero range means "no filter".
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange builds a range from civil dates, normalizing both endpoints.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: CivilDate(start), End: CivilDate(end)}
}

// IsZero reports whether the range is unset.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Validate checks that the end does not precede the start.
func (r DateRange) Validate() error {
	if r.IsZero() {
		return nil
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range end %s is before start %s",
			r.End.Format(CivilDateFormat), r.Start.Format(CivilDateFormat))
	}
	return nil
}

// Contains reports whether the civil date of t falls inside the range.
// A zero range contains every date.
func (r DateRange) Contains(t time.Time) bool {
	if r.IsZero() {
		return true
	}
	d := CivilDate(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// ExternalRecord is one externally-sourced statement line: a bank or card
// statement row awaiting a match against the ledger. Immutable once parsed.
type ExternalRecord struct {
	Date        time.Time        `json:"date"`
	Description string           `json:"description"`
	Debit       decimal.Decimal  `json:"debit"`
	Credit      decimal.Decimal  `json:"credit"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
}

// SignedAmount returns the record's amount with credits positive and
// debits negative.
func (r ExternalRecord) SignedAmount() decimal.Decimal {
	return r.Credit.Sub(r.Debit)
}

// Validate performs basic validation on the record.
func (r ExternalRecord) Validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("external record date cannot be zero")
	}
	if r.Debit.IsZero() && r.Credit.IsZero() {
		return fmt.Errorf("external record needs a debit or credit amount")
	}
	if !r.Debit.IsZero() && !r.Credit.IsZero() {
		return fmt.Errorf("external record cannot carry both debit and credit")
	}
	return nil
}

// String returns a compact representation for logs.
func (r ExternalRecord) String() string {
	return fmt.Sprintf("ExternalRecord{%s %s %s}",
		r.Date.Format(CivilDateFormat), r.SignedAmount().StringFixed(2), r.Description)
}

// MarshalJSON keeps amounts as strings and dates as civil dates.
func (r ExternalRecord) MarshalJSON() ([]byte, error) {
	out := struct {
		Date        string `json:"date"`
		Description string `json:"description"`
		Debit       string `json:"debit,omitempty"`
		Credit      string `json:"credit,omitempty"`
		Balance     string `json:"balance,omitempty"`
	}{
		Date:        r.Date.Format(CivilDateFormat),
		Description: r.Description,
	}
	if !r.Debit.IsZero() {
		out.Debit = r.Debit.String()
	}
	if !r.Credit.IsZero() {
		out.Credit = r.Credit.String()
	}
	if r.Balance != nil {
		out.Balance = r.Balance.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the wire shape produced by MarshalJSON.
func (r *ExternalRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		Date        string `json:"date"`
		Description string `json:"description"`
		Debit       string `json:"debit"`
		Credit      string `json:"credit"`
		Balance     string `json:"balance"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	date, err := ParseCivilDate(aux.Date)
	if err != nil {
		return fmt.Errorf("invalid external record date: %w", err)
	}
	r.Date = date
	r.Description = aux.Description

	r.Debit = decimal.Zero
	if aux.Debit != "" {
		if r.Debit, err = ParseAmount(aux.Debit); err != nil {
			return fmt.Errorf("invalid debit amount: %w", err)
		}
	}
	r.Credit = decimal.Zero
	if aux.Credit != "" {
		if r.Credit, err = ParseAmount(aux.Credit); err != nil {
			return fmt.Errorf("invalid credit amount: %w", err)
		}
	}
	r.Balance = nil
	if aux.Balance != "" {
		bal, err := ParseAmount(aux.Balance)
		if err != nil {
			return fmt.Errorf("invalid balance amount: %w", err)
		}
		r.Balance = &bal
	}
	return nil
}

// Posting is one account-and-amount line inside a ledger transaction.
// A transaction's postings must sum to zero.
type Posting struct {
	ID         string          `json:"id"`
	EntryID    string          `json:"entry_id"`
	AccountID  string          `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	Cleared    bool            `json:"cleared"`
	Reconciled bool            `json:"reconciled"`
	SessionID  string          `json:"session_id,omitempty"`
}

// PostingFlags is the targeted flag mutation applied through the ledger
// store. It is a full replacement of the three reconciliation fields.
type PostingFlags struct {
	Cleared    bool   `json:"cleared"`
	Reconciled bool   `json:"reconciled"`
	SessionID  string `json:"session_id,omitempty"`
}

// LedgerEntry is a ledger transaction reduced to the fields the matching
// core reads. The core never mutates an entry directly; commits go through
// the ledger store's interface.
type LedgerEntry struct {
	ID                  string    `json:"id"`
	Date                time.Time `json:"date"`
	Payee               string    `json:"payee"`
	Postings            []Posting `json:"postings"`
	OriginalDescription string    `json:"original_description,omitempty"`
}

// PostingFor returns the posting touching the given account, if any.
func (e LedgerEntry) PostingFor(accountID string) (Posting, bool) {
	for _, p := range e.Postings {
		if p.AccountID == accountID {
			return p, true
		}
	}
	return Posting{}, false
}

// IsSingleSided reports whether the entry has exactly one posting, the
// shape of an unpaired transfer leg.
func (e LedgerEntry) IsSingleSided() bool {
	return len(e.Postings) == 1
}

// PostingsBalance reports whether the entry's postings sum to zero.
func (e LedgerEntry) PostingsBalance() bool {
	sum := decimal.Zero
	for _, p := range e.Postings {
		sum = sum.Add(p.Amount)
	}
	return sum.IsZero()
}

// String returns a compact representation for logs.
func (e LedgerEntry) String() string {
	return fmt.Sprintf("LedgerEntry{%s %s %q postings=%d}",
		e.ID, e.Date.Format(CivilDateFormat), e.Payee, len(e.Postings))
}

// MatchType is the confidence bucket derived from a numeric score.
type MatchType int

const (
	// MatchNone means the pair is below the reporting threshold and needs
	// manual review; it is never auto-applied.
	MatchNone MatchType = iota

	// MatchPossible is a low-confidence match (score 40-59).
	MatchPossible

	// MatchProbable is a medium-confidence match (score 60-79).
	MatchProbable

	// MatchExact is a high-confidence match (score 80-100).
	MatchExact
)

// String returns the lower-case bucket name used on the wire.
func (mt MatchType) String() string {
	switch mt {
	case MatchExact:
		return "exact"
	case MatchProbable:
		return "probable"
	case MatchPossible:
		return "possible"
	case MatchNone:
		return "none"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the bucket name.
func (mt MatchType) MarshalJSON() ([]byte, error) {
	return json.Marshal(mt.String())
}

// UnmarshalJSON accepts the bucket names produced by MarshalJSON.
func (mt *MatchType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "exact":
		*mt = MatchExact
	case "probable":
		*mt = MatchProbable
	case "possible":
		*mt = MatchPossible
	case "none":
		*mt = MatchNone
	default:
		return fmt.Errorf("unknown match type %q", s)
	}
	return nil
}

// MatchCandidatePair is one scored (external record, ledger entry) pairing
// produced by a solver run. Entry is nil for unmatched external records.
type MatchCandidatePair struct {
	External ExternalRecord `json:"external"`
	Entry    *LedgerEntry   `json:"entry,omitempty"`
	Score    int            `json:"score"`
	Type     MatchType      `json:"type"`
	Reasons  []string       `json:"reasons"`
}

// TransferPair is one scored pairing of two single-sided ledger entries
// believed to be the two legs of the same real-world transfer.
type TransferPair struct {
	EntryA  LedgerEntry `json:"entry_a"`
	EntryB  LedgerEntry `json:"entry_b"`
	Score   int         `json:"score"`
	Type    MatchType   `json:"type"`
	Reasons []string    `json:"reasons"`
}

// MatchSummary aggregates one preview run.
type MatchSummary struct {
	TotalExternal     int `json:"total_external"`
	TotalLedger       int `json:"total_ledger"`
	Matched           int `json:"matched"`
	Exact             int `json:"exact"`
	Probable          int `json:"probable"`
	Possible          int `json:"possible"`
	LowConfidence     int `json:"low_confidence"`
	UnmatchedExternal int `json:"unmatched_external"`
	UnmatchedLedger   int `json:"unmatched_ledger"`
}

// MatchPreview is the result of previewing external records against a
// ledger account. LowConfidence holds pairs the solver accepted with a
// score below the reporting threshold; they are surfaced for manual review
// rather than silently dropped.
type MatchPreview struct {
	Exact             []MatchCandidatePair `json:"exact"`
	Probable          []MatchCandidatePair `json:"probable"`
	Possible          []MatchCandidatePair `json:"possible"`
	LowConfidence     []MatchCandidatePair `json:"low_confidence"`
	UnmatchedExternal []ExternalRecord     `json:"unmatched_external"`
	UnmatchedLedger   []LedgerEntry        `json:"unmatched_ledger"`
	Summary           MatchSummary         `json:"summary"`
}

// TransferPreview mirrors MatchPreview for cross-account transfer matching.
type TransferPreview struct {
	Exact         []TransferPair `json:"exact"`
	Probable      []TransferPair `json:"probable"`
	Possible      []TransferPair `json:"possible"`
	LowConfidence []TransferPair `json:"low_confidence"`
	UnmatchedA    []LedgerEntry  `json:"unmatched_a"`
	UnmatchedB    []LedgerEntry  `json:"unmatched_b"`
	Summary       MatchSummary   `json:"summary"`
}

// ReconciliationSession is a bounded statement period against which an
// account's postings are checked off.
type ReconciliationSession struct {
	ID                    string          `json:"id"`
	AccountID             string          `json:"account_id"`
	StatementStart        time.Time       `json:"statement_start"`
	StatementEnd          time.Time       `json:"statement_end"`
	StatementStartBalance decimal.Decimal `json:"statement_start_balance"`
	StatementEndBalance   decimal.Decimal `json:"statement_end_balance"`
	Locked                bool            `json:"locked"`
	CreatedAt             time.Time       `json:"created_at"`
}

// Range returns the session's statement window.
func (s ReconciliationSession) Range() DateRange {
	return DateRange{Start: s.StatementStart, End: s.StatementEnd}
}

// SessionStatus is the computed balance agreement for a session.
type SessionStatus struct {
	SessionID             string          `json:"session_id"`
	StatementStartBalance decimal.Decimal `json:"statement_start_balance"`
	ReconciledAmount      decimal.Decimal `json:"reconciled_amount"`
	ExpectedEndBalance    decimal.Decimal `json:"expected_end_balance"`
	StatementEndBalance   decimal.Decimal `json:"statement_end_balance"`
	Difference            decimal.Decimal `json:"difference"`
	IsBalanced            bool            `json:"is_balanced"`
	Locked                bool            `json:"locked"`
	ReconciledCount       int             `json:"reconciled_count"`
	UnreconciledCount     int             `json:"unreconciled_count"`
}

// TransferMergeResult reports the outcome of one transfer-merge commit.
// A failed pair never rolls back the others.
type TransferMergeResult struct {
	Merged  int      `json:"merged"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// ParseAmount parses a decimal amount, tolerating currency symbols and
// thousand separators as they appear in statement exports.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	// Some exports wrap negatives in parentheses.
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.Trim(s, "()")
	}
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// ParseCivilDate parses a date from the common statement formats and
// normalizes it to midnight UTC. Extra formats, when given, are tried
// before the built-in ones.
func ParseCivilDate(s string, extraFormats ...string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := append(extraFormats,
		CivilDateFormat,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"02/01/2006",
		"01/02/2006",
		"2006/01/02",
		"02-01-2006",
		"Jan 2, 2006",
	)

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return CivilDate(t), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date %q: %w", s, lastErr)
}

// AmountsEqual reports whether two amounts agree to the cent.
func AmountsEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(CentTolerance)
}
