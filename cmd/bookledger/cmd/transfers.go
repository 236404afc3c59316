package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bookledger/internal/report"
	"bookledger/internal/transfer"
)

var (
	transferFrom         string
	transferTo           string
	transferWindowFrom   string
	transferWindowTo     string
	transferOutputFormat string
	transferPairs        []string
)

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "Preview and merge cross-account transfer legs",
	Long: `Transfers imported from two statements arrive as disconnected
single-sided entries, one per account. The preview subcommand pairs them
up; the commit subcommand collapses confirmed pairs into single balanced
transactions.`,
}

var transfersPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview candidate transfer pairs between two accounts",
	Long: `Preview scores the single-sided entries of two accounts against each
other and prints the optimal pairing.

Examples:
  bookledger transfers preview --from assets:checking --to assets:savings
  bookledger transfers preview --from assets:checking --to assets:savings --start 2026-01-01 --end 2026-03-31`,
	RunE: runTransfersPreview,
}

var transfersCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Merge confirmed transfer pairs",
	Long: `Commit merges each confirmed pair into one transaction carrying both
postings. Pairs are given as entryA:entryB and commit independently; a
failed pair is reported and skipped.

Examples:
  bookledger transfers commit --pair 01HX...A:01HX...B --pair 01HY...A:01HY...B`,
	RunE: runTransfersCommit,
}

func init() {
	rootCmd.AddCommand(transfersCmd)
	transfersCmd.AddCommand(transfersPreviewCmd)
	transfersCmd.AddCommand(transfersCommitCmd)

	transfersPreviewCmd.Flags().StringVar(&transferFrom, "from", "", "first account (required)")
	transfersPreviewCmd.Flags().StringVar(&transferTo, "to", "", "second account (required)")
	transfersPreviewCmd.Flags().StringVar(&transferWindowFrom, "start", "", "window start date (YYYY-MM-DD)")
	transfersPreviewCmd.Flags().StringVar(&transferWindowTo, "end", "", "window end date (YYYY-MM-DD)")
	transfersPreviewCmd.Flags().StringVar(&transferOutputFormat, "output-format", "console", "output format (console, json)")
	transfersPreviewCmd.MarkFlagRequired("from")
	transfersPreviewCmd.MarkFlagRequired("to")

	transfersCommitCmd.Flags().StringArrayVar(&transferPairs, "pair", nil, "entry pair to merge, as entryA:entryB (repeatable)")
	transfersCommitCmd.MarkFlagRequired("pair")
}

func runTransfersPreview(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	window, err := parseWindow(transferWindowFrom, transferWindowTo)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	defer store.Close()

	_, _, transfers := buildServices(store, log)
	preview, err := transfers.Preview(context.Background(), transferFrom, transferTo, window)
	if err != nil {
		return err
	}

	gen, err := report.NewGenerator(&report.Config{
		Format:           report.Format(transferOutputFormat),
		IncludeMatched:   true,
		IncludeUnmatched: true,
	})
	if err != nil {
		return err
	}
	return gen.WriteTransferPreview(preview, os.Stdout)
}

func runTransfersCommit(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	pairs := make([]transfer.PairRef, 0, len(transferPairs))
	for _, raw := range transferPairs {
		idA, idB, ok := strings.Cut(raw, ":")
		if !ok || idA == "" || idB == "" {
			return fmt.Errorf("invalid --pair %q, expected entryA:entryB", raw)
		}
		pairs = append(pairs, transfer.PairRef{EntryA: idA, EntryB: idB})
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	defer store.Close()

	_, _, transfers := buildServices(store, log)
	result, err := transfers.Commit(context.Background(), pairs)
	if err != nil {
		return err
	}

	gen, err := report.NewGenerator(nil)
	if err != nil {
		return err
	}
	if err := gen.WriteMergeResult(result, os.Stdout); err != nil {
		return err
	}
	if result.Skipped > 0 {
		return fmt.Errorf("%d of %d pairs failed to merge", result.Skipped, len(pairs))
	}
	return nil
}
