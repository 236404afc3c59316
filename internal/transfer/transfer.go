// Package transfer implements the merge workflow for transfers imported as
// two disconnected single-sided entries. A confirmed pair is collapsed into
// one double-entry transaction carrying both postings; each pair commits
// independently so one failure never rolls back its neighbours.
package transfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bookledger/internal/engine"
	"bookledger/internal/ledger"
	"bookledger/internal/models"
	"bookledger/pkg/logger"

	apperrors "bookledger/pkg/errors"
)

// PairRef names one confirmed pair of single-sided entries to merge.
type PairRef struct {
	EntryA string `json:"entry_a"`
	EntryB string `json:"entry_b"`
}

// Service runs transfer previews and commits confirmed merges.
type Service struct {
	store  ledger.Store
	engine *engine.Engine
	log    logger.Logger
}

// NewService creates a transfer Service.
func NewService(store ledger.Store, eng *engine.Engine, log logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store:  store,
		engine: eng,
		log:    log.WithComponent("transfer"),
	}
}

// Preview pairs the single-sided entries of two accounts as candidate
// transfer legs.
func (s *Service) Preview(ctx context.Context, accountA, accountB string, window models.DateRange) (*models.TransferPreview, error) {
	return s.engine.PreviewTransferMatches(ctx, accountA, accountB, window)
}

// Commit merges each confirmed pair into a single transaction. Pairs are
// processed in order and commit independently: a failed pair is recorded
// in the result and skipped, and the remaining pairs still run. The merged
// entry keeps the earlier entry's date and payee and carries one posting
// from each side.
func (s *Service) Commit(ctx context.Context, pairs []PairRef) (*models.TransferMergeResult, error) {
	result := &models.TransferMergeResult{}

	for _, ref := range pairs {
		if err := s.mergePair(ctx, ref); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, err.Error())
			s.log.WithFields(logger.Fields{
				"entry_a": ref.EntryA,
				"entry_b": ref.EntryB,
			}).WithError(err).Warn("transfer pair skipped")
			continue
		}
		result.Merged++
	}

	s.log.WithFields(logger.Fields{
		"merged":  result.Merged,
		"skipped": result.Skipped,
	}).Info("transfer commit finished")

	return result, nil
}

func (s *Service) mergePair(ctx context.Context, ref PairRef) error {
	entryA, err := s.store.GetLedgerEntry(ctx, ref.EntryA)
	if err != nil {
		return apperrors.TransferError(apperrors.CodeMergeFailed, ref.EntryA, ref.EntryB, err)
	}
	entryB, err := s.store.GetLedgerEntry(ctx, ref.EntryB)
	if err != nil {
		return apperrors.TransferError(apperrors.CodeMergeFailed, ref.EntryA, ref.EntryB, err)
	}

	if !entryA.IsSingleSided() || !entryB.IsSingleSided() {
		return apperrors.TransferError(apperrors.CodeMergeFailed, ref.EntryA, ref.EntryB,
			fmt.Errorf("both entries must be single-sided"))
	}

	// The earlier entry is the origin of the transfer; its date and payee
	// survive. On a tie the first of the pair wins.
	keeper := entryA
	if entryB.Date.Before(entryA.Date) {
		keeper = entryB
	}

	merged := models.LedgerEntry{
		ID:                  uuid.NewString(),
		Date:                keeper.Date,
		Payee:               keeper.Payee,
		OriginalDescription: keeper.OriginalDescription,
		Postings: []models.Posting{
			clonePosting(entryA.Postings[0]),
			clonePosting(entryB.Postings[0]),
		},
	}

	if !merged.PostingsBalance() {
		return apperrors.TransferError(apperrors.CodeNotBalancing, ref.EntryA, ref.EntryB,
			fmt.Errorf("postings sum to %s on %s, expected zero",
				merged.Postings[0].Amount.Add(merged.Postings[1].Amount).StringFixed(2),
				merged.Date.Format(models.CivilDateFormat)))
	}

	if err := s.store.MergeTransfer(ctx, merged, []string{entryA.ID, entryB.ID}); err != nil {
		return apperrors.TransferError(apperrors.CodeMergeFailed, ref.EntryA, ref.EntryB, err)
	}

	s.log.WithFields(logger.Fields{
		"merged_id": merged.ID,
		"entry_a":   ref.EntryA,
		"entry_b":   ref.EntryB,
		"date":      merged.Date.Format(models.CivilDateFormat),
	}).Debug("transfer pair merged")

	return nil
}

func clonePosting(p models.Posting) models.Posting {
	p.ID = uuid.NewString()
	p.EntryID = ""
	return p
}
