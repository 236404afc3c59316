package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"bookledger/internal/rules"
)

var (
	ruleMode  string
	ruleValue string
	rulePayee string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage memorized payee rules",
	Long: `Memorized payee rules map raw statement descriptions to clean payees.
During matching, a rule that fires on a statement description counts as a
perfect description match against entries carrying the rule's payee.`,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a memorized payee rule",
	Long: `Examples:
  bookledger rules add --mode CONTAINS --value "WOOLWORTHS" --payee "Woolworths"
  bookledger rules add --mode REGEX --value "^AMZN MKTP" --payee "Amazon"`,
	RunE: runRulesAdd,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memorized payee rules",
	RunE:  runRulesList,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesListCmd)

	rulesAddCmd.Flags().StringVar(&ruleMode, "mode", "CONTAINS", "match mode (EXACT, CONTAINS, REGEX)")
	rulesAddCmd.Flags().StringVar(&ruleValue, "value", "", "text or pattern to match against descriptions (required)")
	rulesAddCmd.Flags().StringVar(&rulePayee, "payee", "", "payee the rule produces (required)")
	rulesAddCmd.MarkFlagRequired("value")
	rulesAddCmd.MarkFlagRequired("payee")
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	mode := rules.MatchMode(ruleMode)
	if !mode.IsValid() {
		return fmt.Errorf("invalid --mode %q, expected EXACT, CONTAINS or REGEX", ruleMode)
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	defer store.Close()

	rule := rules.PayeeRule{Mode: mode, MatchValue: ruleValue, DefaultPayee: rulePayee}
	if err := store.AddRule(context.Background(), rule); err != nil {
		return err
	}
	fmt.Printf("Added %s rule %q -> %q\n", mode, ruleValue, rulePayee)
	return nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	defer store.Close()

	all, err := store.GetAllRules()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("No rules.")
		return nil
	}
	for _, rule := range all {
		fmt.Printf("%-8s %-30q -> %q\n", rule.Mode, rule.MatchValue, rule.DefaultPayee)
	}
	return nil
}
