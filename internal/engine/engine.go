// Package engine wires the scorer, assignment solver and classifier into
// the preview operations the caller-facing layers consume. The engine takes
// its collaborators (ledger store, rule lookup) as constructor parameters
// and performs no mutation itself; committing accepted pairs is the job of
// the session manager and the transfer-merge workflow.
package engine

import (
	"context"

	"bookledger/internal/assign"
	"bookledger/internal/ledger"
	"bookledger/internal/models"
	"bookledger/internal/rules"
	"bookledger/internal/scorer"
	"bookledger/pkg/logger"

	apperrors "bookledger/pkg/errors"
)

// Classification thresholds. These are stricter than the solver's
// acceptance floor: a pair scoring in [AcceptFloor, PossibleThreshold) is
// kept by the solver so an obviously-unique counterpart is not left
// unmatched, but it is reported as low confidence and never auto-applied.
const (
	ExactThreshold    = 80
	ProbableThreshold = 60
	PossibleThreshold = 40
)

// Classify buckets a score into its confidence bucket.
func Classify(score int) models.MatchType {
	switch {
	case score >= ExactThreshold:
		return models.MatchExact
	case score >= ProbableThreshold:
		return models.MatchProbable
	case score >= PossibleThreshold:
		return models.MatchPossible
	default:
		return models.MatchNone
	}
}

// Engine runs one-shot batch matching between external records and ledger
// entries, or between two accounts' transfer legs.
type Engine struct {
	store ledger.Store
	rules rules.Lookup
	log   logger.Logger
}

// New creates an Engine with its collaborators.
func New(store ledger.Store, lookup rules.Lookup, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		store: store,
		rules: lookup,
		log:   log.WithComponent("engine"),
	}
}

// PreviewMatches scores the external records against the account's ledger
// entries and returns the optimal pairing bucketed by confidence. Zero
// candidates on either side yields an empty but valid preview.
func (e *Engine) PreviewMatches(ctx context.Context, accountID string, records []models.ExternalRecord, window models.DateRange) (*models.MatchPreview, error) {
	if err := window.Validate(); err != nil {
		return nil, apperrors.InvalidDateRange(
			window.Start.Format(models.CivilDateFormat),
			window.End.Format(models.CivilDateFormat))
	}

	entries, err := e.store.FindLedgerEntries(ctx, accountID, window)
	if err != nil {
		return nil, err
	}

	preview := &models.MatchPreview{}
	preview.Summary.TotalExternal = len(records)
	preview.Summary.TotalLedger = len(entries)

	if len(records) == 0 || len(entries) == 0 {
		preview.UnmatchedExternal = append(preview.UnmatchedExternal, records...)
		preview.UnmatchedLedger = append(preview.UnmatchedLedger, entries...)
		preview.Summary.UnmatchedExternal = len(records)
		preview.Summary.UnmatchedLedger = len(entries)
		return preview, nil
	}

	sc, err := scorer.New(e.rules)
	if err != nil {
		return nil, err
	}

	scores := make([][]int, len(records))
	results := make([][]scorer.Result, len(records))
	for i, rec := range records {
		scores[i] = make([]int, len(entries))
		results[i] = make([]scorer.Result, len(entries))
		for j, entry := range entries {
			results[i][j] = sc.ScoreRecord(rec, entry, accountID)
			scores[i][j] = results[i][j].Total
		}
	}

	pairs := assign.Match(scores, assign.AcceptFloor)

	matchedExternal := make(map[int]bool, len(pairs))
	matchedLedger := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		entry := entries[p.Col]
		pair := models.MatchCandidatePair{
			External: records[p.Row],
			Entry:    &entry,
			Score:    p.Score,
			Type:     Classify(p.Score),
			Reasons:  results[p.Row][p.Col].Reasons,
		}
		matchedExternal[p.Row] = true
		matchedLedger[p.Col] = true

		switch pair.Type {
		case models.MatchExact:
			preview.Exact = append(preview.Exact, pair)
			preview.Summary.Exact++
		case models.MatchProbable:
			preview.Probable = append(preview.Probable, pair)
			preview.Summary.Probable++
		case models.MatchPossible:
			preview.Possible = append(preview.Possible, pair)
			preview.Summary.Possible++
		default:
			preview.LowConfidence = append(preview.LowConfidence, pair)
			preview.Summary.LowConfidence++
		}
	}
	preview.Summary.Matched = len(pairs)

	for i, rec := range records {
		if !matchedExternal[i] {
			preview.UnmatchedExternal = append(preview.UnmatchedExternal, rec)
		}
	}
	for j, entry := range entries {
		if !matchedLedger[j] {
			preview.UnmatchedLedger = append(preview.UnmatchedLedger, entry)
		}
	}
	preview.Summary.UnmatchedExternal = len(preview.UnmatchedExternal)
	preview.Summary.UnmatchedLedger = len(preview.UnmatchedLedger)

	e.log.WithFields(logger.Fields{
		"account":  accountID,
		"external": len(records),
		"ledger":   len(entries),
		"matched":  len(pairs),
	}).Info("match preview computed")

	return preview, nil
}

// PreviewTransferMatches pairs single-sided entries of two accounts as
// candidate transfer legs.
func (e *Engine) PreviewTransferMatches(ctx context.Context, accountA, accountB string, window models.DateRange) (*models.TransferPreview, error) {
	if err := window.Validate(); err != nil {
		return nil, apperrors.InvalidDateRange(
			window.Start.Format(models.CivilDateFormat),
			window.End.Format(models.CivilDateFormat))
	}

	legsA, err := e.transferLegs(ctx, accountA, window)
	if err != nil {
		return nil, err
	}
	legsB, err := e.transferLegs(ctx, accountB, window)
	if err != nil {
		return nil, err
	}

	preview := &models.TransferPreview{}
	preview.Summary.TotalExternal = len(legsA)
	preview.Summary.TotalLedger = len(legsB)

	if len(legsA) == 0 || len(legsB) == 0 {
		preview.UnmatchedA = append(preview.UnmatchedA, legsA...)
		preview.UnmatchedB = append(preview.UnmatchedB, legsB...)
		preview.Summary.UnmatchedExternal = len(legsA)
		preview.Summary.UnmatchedLedger = len(legsB)
		return preview, nil
	}

	sc, err := scorer.New(e.rules)
	if err != nil {
		return nil, err
	}

	scores := make([][]int, len(legsA))
	results := make([][]scorer.Result, len(legsA))
	for i, a := range legsA {
		scores[i] = make([]int, len(legsB))
		results[i] = make([]scorer.Result, len(legsB))
		for j, b := range legsB {
			results[i][j] = sc.ScoreEntries(a, accountA, b, accountB)
			scores[i][j] = results[i][j].Total
		}
	}

	pairs := assign.Match(scores, assign.AcceptFloor)

	matchedA := make(map[int]bool, len(pairs))
	matchedB := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		pair := models.TransferPair{
			EntryA:  legsA[p.Row],
			EntryB:  legsB[p.Col],
			Score:   p.Score,
			Type:    Classify(p.Score),
			Reasons: results[p.Row][p.Col].Reasons,
		}
		matchedA[p.Row] = true
		matchedB[p.Col] = true

		switch pair.Type {
		case models.MatchExact:
			preview.Exact = append(preview.Exact, pair)
			preview.Summary.Exact++
		case models.MatchProbable:
			preview.Probable = append(preview.Probable, pair)
			preview.Summary.Probable++
		case models.MatchPossible:
			preview.Possible = append(preview.Possible, pair)
			preview.Summary.Possible++
		default:
			preview.LowConfidence = append(preview.LowConfidence, pair)
			preview.Summary.LowConfidence++
		}
	}
	preview.Summary.Matched = len(pairs)

	for i, a := range legsA {
		if !matchedA[i] {
			preview.UnmatchedA = append(preview.UnmatchedA, a)
		}
	}
	for j, b := range legsB {
		if !matchedB[j] {
			preview.UnmatchedB = append(preview.UnmatchedB, b)
		}
	}
	preview.Summary.UnmatchedExternal = len(preview.UnmatchedA)
	preview.Summary.UnmatchedLedger = len(preview.UnmatchedB)

	e.log.WithFields(logger.Fields{
		"account_a": accountA,
		"account_b": accountB,
		"legs_a":    len(legsA),
		"legs_b":    len(legsB),
		"matched":   len(pairs),
	}).Info("transfer preview computed")

	return preview, nil
}

// transferLegs returns the account's single-sided entries in the window:
// the shape of a transfer leg that never got its counterpart.
func (e *Engine) transferLegs(ctx context.Context, accountID string, window models.DateRange) ([]models.LedgerEntry, error) {
	entries, err := e.store.FindLedgerEntries(ctx, accountID, window)
	if err != nil {
		return nil, err
	}
	var legs []models.LedgerEntry
	for _, entry := range entries {
		if entry.IsSingleSided() {
			legs = append(legs, entry)
		}
	}
	return legs, nil
}
