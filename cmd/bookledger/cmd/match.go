package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bookledger/internal/models"
	"bookledger/internal/report"
	"bookledger/internal/statement"
)

var (
	matchAccount       string
	matchStatementFile string
	matchFrom          string
	matchTo            string
	matchOutputFormat  string
	matchShowReasons   bool
	matchSignedAmounts bool
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Preview statement matches against a ledger account",
	Long: `Match scores every record of a statement CSV against the candidate
ledger entries of the account and prints the optimal one-to-one pairing,
bucketed by confidence. Nothing is written; the preview is advisory.

Examples:
  bookledger match --account assets:checking --statement statement.csv
  bookledger match --account assets:checking --statement st.csv --from 2026-01-01 --to 2026-01-31
  bookledger match --account assets:checking --statement st.csv --output-format json`,
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringVar(&matchAccount, "account", "", "ledger account to match against (required)")
	matchCmd.Flags().StringVar(&matchStatementFile, "statement", "", "statement CSV file (required)")
	matchCmd.Flags().StringVar(&matchFrom, "from", "", "window start date (YYYY-MM-DD)")
	matchCmd.Flags().StringVar(&matchTo, "to", "", "window end date (YYYY-MM-DD)")
	matchCmd.Flags().StringVar(&matchOutputFormat, "output-format", "console", "output format (console, json)")
	matchCmd.Flags().BoolVar(&matchShowReasons, "show-reasons", false, "include per-pair score reasons")
	matchCmd.Flags().BoolVar(&matchSignedAmounts, "signed-amounts", false, "statement carries one signed amount column instead of debit/credit")

	matchCmd.MarkFlagRequired("account")
	matchCmd.MarkFlagRequired("statement")
}

func runMatch(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	window, err := parseWindow(matchFrom, matchTo)
	if err != nil {
		return err
	}

	cfg := statement.DefaultConfig()
	if matchSignedAmounts {
		cfg = statement.SignedAmountConfig()
	}
	reader, err := statement.NewReader(cfg, log)
	if err != nil {
		return err
	}
	records, stats, err := reader.ReadFile(matchStatementFile)
	if err != nil {
		return fmt.Errorf("failed to parse statement: %w", err)
	}
	for _, perr := range stats.Errors {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", perr)
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	defer store.Close()

	eng, _, _ := buildServices(store, log)
	preview, err := eng.PreviewMatches(context.Background(), matchAccount, records, window)
	if err != nil {
		return err
	}

	gen, err := report.NewGenerator(&report.Config{
		Format:           report.Format(matchOutputFormat),
		IncludeMatched:   true,
		IncludeUnmatched: true,
		IncludeReasons:   matchShowReasons,
	})
	if err != nil {
		return err
	}
	return gen.WriteMatchPreview(preview, os.Stdout)
}

// parseWindow builds a date range from optional from/to flags.
func parseWindow(from, to string) (models.DateRange, error) {
	var window models.DateRange
	var err error
	if from != "" {
		if window.Start, err = models.ParseCivilDate(from); err != nil {
			return window, fmt.Errorf("invalid --from date: %w", err)
		}
	}
	if to != "" {
		if window.End, err = models.ParseCivilDate(to); err != nil {
			return window, fmt.Errorf("invalid --to date: %w", err)
		}
	}
	return window, nil
}
