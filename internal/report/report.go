// Package report renders match previews, transfer previews and session
// status for terminal display or as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"bookledger/internal/models"
)

// Format selects the rendering of a report.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// IsValid checks whether the format is supported.
func (f Format) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON:
		return true
	default:
		return false
	}
}

// Config controls what a console report includes.
type Config struct {
	Format           Format `json:"format"`
	IncludeMatched   bool   `json:"include_matched"`
	IncludeUnmatched bool   `json:"include_unmatched"`
	IncludeReasons   bool   `json:"include_reasons"`
	MaxItems         int    `json:"max_items"`
}

// DefaultConfig returns a console report showing everything.
func DefaultConfig() *Config {
	return &Config{
		Format:           FormatConsole,
		IncludeMatched:   true,
		IncludeUnmatched: true,
		IncludeReasons:   false,
		MaxItems:         0,
	}
}

// Generator renders reports in the configured format.
type Generator struct {
	config *Config
}

// NewGenerator creates a Generator. A nil config means console with
// everything included.
func NewGenerator(config *Config) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Format.IsValid() {
		return nil, fmt.Errorf("unsupported report format: %s", config.Format)
	}
	return &Generator{config: config}, nil
}

// WriteMatchPreview renders one match preview.
func (g *Generator) WriteMatchPreview(preview *models.MatchPreview, w io.Writer) error {
	if g.config.Format == FormatJSON {
		return writeJSON(preview, w)
	}

	fmt.Fprintf(w, "MATCH PREVIEW\n\n")
	g.writeSummary(preview.Summary, w)

	if g.config.IncludeMatched {
		g.writeCandidateSection("EXACT MATCHES", preview.Exact, w)
		g.writeCandidateSection("PROBABLE MATCHES", preview.Probable, w)
		g.writeCandidateSection("POSSIBLE MATCHES", preview.Possible, w)
		g.writeCandidateSection("LOW CONFIDENCE (review manually)", preview.LowConfidence, w)
	}

	if g.config.IncludeUnmatched && len(preview.UnmatchedExternal) > 0 {
		fmt.Fprintf(w, "=== UNMATCHED STATEMENT RECORDS ===\n")
		for i, rec := range preview.UnmatchedExternal {
			if g.truncated(i, w) {
				break
			}
			fmt.Fprintf(w, "  %s  %10s  %s\n",
				rec.Date.Format(models.CivilDateFormat),
				rec.SignedAmount().StringFixed(2),
				rec.Description)
		}
		fmt.Fprintf(w, "\n")
	}
	if g.config.IncludeUnmatched && len(preview.UnmatchedLedger) > 0 {
		fmt.Fprintf(w, "=== UNMATCHED LEDGER ENTRIES ===\n")
		g.writeEntries(preview.UnmatchedLedger, w)
		fmt.Fprintf(w, "\n")
	}
	return nil
}

// WriteTransferPreview renders one transfer preview.
func (g *Generator) WriteTransferPreview(preview *models.TransferPreview, w io.Writer) error {
	if g.config.Format == FormatJSON {
		return writeJSON(preview, w)
	}

	fmt.Fprintf(w, "TRANSFER PREVIEW\n\n")
	g.writeSummary(preview.Summary, w)

	if g.config.IncludeMatched {
		g.writeTransferSection("EXACT PAIRS", preview.Exact, w)
		g.writeTransferSection("PROBABLE PAIRS", preview.Probable, w)
		g.writeTransferSection("POSSIBLE PAIRS", preview.Possible, w)
		g.writeTransferSection("LOW CONFIDENCE (review manually)", preview.LowConfidence, w)
	}

	if g.config.IncludeUnmatched && len(preview.UnmatchedA) > 0 {
		fmt.Fprintf(w, "=== UNPAIRED ENTRIES (FIRST ACCOUNT) ===\n")
		g.writeEntries(preview.UnmatchedA, w)
		fmt.Fprintf(w, "\n")
	}
	if g.config.IncludeUnmatched && len(preview.UnmatchedB) > 0 {
		fmt.Fprintf(w, "=== UNPAIRED ENTRIES (SECOND ACCOUNT) ===\n")
		g.writeEntries(preview.UnmatchedB, w)
		fmt.Fprintf(w, "\n")
	}
	return nil
}

// WriteMergeResult renders the outcome of a transfer commit.
func (g *Generator) WriteMergeResult(result *models.TransferMergeResult, w io.Writer) error {
	if g.config.Format == FormatJSON {
		return writeJSON(result, w)
	}

	fmt.Fprintf(w, "TRANSFER MERGE RESULT\n\n")
	fmt.Fprintf(w, "  Merged:  %d\n", result.Merged)
	fmt.Fprintf(w, "  Skipped: %d\n", result.Skipped)
	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "\n=== ERRORS ===\n")
		for _, msg := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}
	return nil
}

// WriteSessionStatus renders a reconciliation session's running state.
func (g *Generator) WriteSessionStatus(status *models.SessionStatus, w io.Writer) error {
	if g.config.Format == FormatJSON {
		return writeJSON(status, w)
	}

	fmt.Fprintf(w, "RECONCILIATION STATUS  %s\n\n", status.SessionID)
	fmt.Fprintf(w, "  Statement Start Balance: %12s\n", status.StatementStartBalance.StringFixed(2))
	fmt.Fprintf(w, "  Reconciled Amount:       %12s\n", status.ReconciledAmount.StringFixed(2))
	fmt.Fprintf(w, "  Expected End Balance:    %12s\n", status.ExpectedEndBalance.StringFixed(2))
	fmt.Fprintf(w, "  Statement End Balance:   %12s\n", status.StatementEndBalance.StringFixed(2))
	fmt.Fprintf(w, "  Difference:              %12s\n", status.Difference.StringFixed(2))
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Reconciled Postings:   %d\n", status.ReconciledCount)
	fmt.Fprintf(w, "  Unreconciled Postings: %d\n", status.UnreconciledCount)
	fmt.Fprintf(w, "  Balanced: %t\n", status.IsBalanced)
	fmt.Fprintf(w, "  Locked:   %t\n", status.Locked)
	return nil
}

func (g *Generator) writeSummary(summary models.MatchSummary, w io.Writer) {
	fmt.Fprintf(w, "=== SUMMARY ===\n")
	fmt.Fprintf(w, "  External records: %d\n", summary.TotalExternal)
	fmt.Fprintf(w, "  Ledger entries:   %d\n", summary.TotalLedger)
	fmt.Fprintf(w, "  Matched pairs:    %d\n", summary.Matched)
	fmt.Fprintf(w, "    Exact:          %d\n", summary.Exact)
	fmt.Fprintf(w, "    Probable:       %d\n", summary.Probable)
	fmt.Fprintf(w, "    Possible:       %d\n", summary.Possible)
	fmt.Fprintf(w, "    Low confidence: %d\n", summary.LowConfidence)
	fmt.Fprintf(w, "  Unmatched external: %d\n", summary.UnmatchedExternal)
	fmt.Fprintf(w, "  Unmatched ledger:   %d\n", summary.UnmatchedLedger)
	fmt.Fprintf(w, "\n")
}

func (g *Generator) writeCandidateSection(title string, pairs []models.MatchCandidatePair, w io.Writer) {
	if len(pairs) == 0 {
		return
	}
	fmt.Fprintf(w, "=== %s ===\n", title)
	for i, pair := range pairs {
		if g.truncated(i, w) {
			break
		}
		fmt.Fprintf(w, "  [%3d] %s  %10s  %q -> %q\n",
			pair.Score,
			pair.External.Date.Format(models.CivilDateFormat),
			pair.External.SignedAmount().StringFixed(2),
			pair.External.Description,
			pair.Entry.Payee)
		if g.config.IncludeReasons {
			for _, reason := range pair.Reasons {
				fmt.Fprintf(w, "        %s\n", reason)
			}
		}
	}
	fmt.Fprintf(w, "\n")
}

func (g *Generator) writeTransferSection(title string, pairs []models.TransferPair, w io.Writer) {
	if len(pairs) == 0 {
		return
	}
	fmt.Fprintf(w, "=== %s ===\n", title)
	for i, pair := range pairs {
		if g.truncated(i, w) {
			break
		}
		fmt.Fprintf(w, "  [%3d] %s %q <-> %s %q\n",
			pair.Score,
			pair.EntryA.Date.Format(models.CivilDateFormat), pair.EntryA.Payee,
			pair.EntryB.Date.Format(models.CivilDateFormat), pair.EntryB.Payee)
		if g.config.IncludeReasons {
			for _, reason := range pair.Reasons {
				fmt.Fprintf(w, "        %s\n", reason)
			}
		}
	}
	fmt.Fprintf(w, "\n")
}

func (g *Generator) writeEntries(entries []models.LedgerEntry, w io.Writer) {
	for i, entry := range entries {
		if g.truncated(i, w) {
			break
		}
		fmt.Fprintf(w, "  %s  %q (%d postings)\n",
			entry.Date.Format(models.CivilDateFormat), entry.Payee, len(entry.Postings))
	}
}

func (g *Generator) truncated(index int, w io.Writer) bool {
	if g.config.MaxItems > 0 && index >= g.config.MaxItems {
		fmt.Fprintf(w, "  ... truncated\n")
		return true
	}
	return false
}

func writeJSON(v interface{}, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
