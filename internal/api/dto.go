package api

import (
	"time"

	"github.com/shopspring/decimal"

	"bookledger/internal/models"
)

// APIError is the structured error body every failing response carries.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// DateRangeRequest is the wire shape of a statement window.
type DateRangeRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Window parses the request range into civil dates. Empty strings yield an
// open range.
func (r DateRangeRequest) Window() (models.DateRange, error) {
	var window models.DateRange
	var err error
	if r.Start != "" {
		if window.Start, err = models.ParseCivilDate(r.Start); err != nil {
			return window, err
		}
	}
	if r.End != "" {
		if window.End, err = models.ParseCivilDate(r.End); err != nil {
			return window, err
		}
	}
	return window, nil
}

// MatchPreviewRequest is the body of POST /v1/accounts/{accountID}/matches/preview.
type MatchPreviewRequest struct {
	Records []models.ExternalRecord `json:"records"`
	Window  DateRangeRequest        `json:"window"`
}

// TransferPreviewRequest is the body of POST /v1/transfers/preview.
type TransferPreviewRequest struct {
	AccountA string           `json:"account_a"`
	AccountB string           `json:"account_b"`
	Window   DateRangeRequest `json:"window"`
}

// TransferCommitRequest is the body of POST /v1/transfers/commit.
type TransferCommitRequest struct {
	Pairs []TransferPairRequest `json:"pairs"`
}

// TransferPairRequest names one confirmed pair of entries.
type TransferPairRequest struct {
	EntryA string `json:"entry_a"`
	EntryB string `json:"entry_b"`
}

// StartSessionRequest is the body of POST /v1/sessions.
type StartSessionRequest struct {
	AccountID             string `json:"account_id"`
	StatementStart        string `json:"statement_start"`
	StatementEnd          string `json:"statement_end"`
	StatementStartBalance string `json:"statement_start_balance"`
	StatementEndBalance   string `json:"statement_end_balance"`
}

// PostingFlagsRequest is the body of the reconcile and unreconcile
// endpoints.
type PostingFlagsRequest struct {
	PostingIDs []string `json:"posting_ids"`
}

// SessionResponse is the wire shape of a session.
type SessionResponse struct {
	ID                    string `json:"id"`
	AccountID             string `json:"account_id"`
	StatementStart        string `json:"statement_start"`
	StatementEnd          string `json:"statement_end"`
	StatementStartBalance string `json:"statement_start_balance"`
	StatementEndBalance   string `json:"statement_end_balance"`
	Locked                bool   `json:"locked"`
	CreatedAt             string `json:"created_at"`
}

func toSessionResponse(s models.ReconciliationSession) SessionResponse {
	return SessionResponse{
		ID:                    s.ID,
		AccountID:             s.AccountID,
		StatementStart:        s.StatementStart.Format(models.CivilDateFormat),
		StatementEnd:          s.StatementEnd.Format(models.CivilDateFormat),
		StatementStartBalance: s.StatementStartBalance.StringFixed(2),
		StatementEndBalance:   s.StatementEndBalance.StringFixed(2),
		Locked:                s.Locked,
		CreatedAt:             s.CreatedAt.Format(time.RFC3339),
	}
}

// StatusResponse is the wire shape of a session status.
type StatusResponse struct {
	SessionID             string `json:"session_id"`
	StatementStartBalance string `json:"statement_start_balance"`
	ReconciledAmount      string `json:"reconciled_amount"`
	ExpectedEndBalance    string `json:"expected_end_balance"`
	StatementEndBalance   string `json:"statement_end_balance"`
	Difference            string `json:"difference"`
	IsBalanced            bool   `json:"is_balanced"`
	Locked                bool   `json:"locked"`
	ReconciledCount       int    `json:"reconciled_count"`
	UnreconciledCount     int    `json:"unreconciled_count"`
}

func toStatusResponse(s models.SessionStatus) StatusResponse {
	return StatusResponse{
		SessionID:             s.SessionID,
		StatementStartBalance: s.StatementStartBalance.StringFixed(2),
		ReconciledAmount:      s.ReconciledAmount.StringFixed(2),
		ExpectedEndBalance:    s.ExpectedEndBalance.StringFixed(2),
		StatementEndBalance:   s.StatementEndBalance.StringFixed(2),
		Difference:            s.Difference.StringFixed(2),
		IsBalanced:            s.IsBalanced,
		Locked:                s.Locked,
		ReconciledCount:       s.ReconciledCount,
		UnreconciledCount:     s.UnreconciledCount,
	}
}

func parseBalance(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return models.ParseAmount(s)
}
