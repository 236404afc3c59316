package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bookledger/internal/models"
	"bookledger/internal/report"
	"bookledger/internal/session"
)

var (
	sessionAccount      string
	sessionStart        string
	sessionEnd          string
	sessionStartBalance string
	sessionEndBalance   string
	sessionOutputFormat string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage reconciliation sessions",
	Long: `A reconciliation session checks an account's postings off against a
statement period until the expected end balance agrees with the statement,
then locks the period against further changes.`,
}

var sessionsStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a reconciliation session",
	Long: `Start opens a session for the account covering the statement period.

Examples:
  bookledger sessions start --account assets:checking \
    --start 2026-01-01 --end 2026-01-31 \
    --start-balance 1000.00 --end-balance 880.00`,
	RunE: runSessionsStart,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's reconciliation sessions",
	RunE:  runSessionsList,
}

var sessionsStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's running balance state",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsStatus,
}

var sessionsLockCmd = &cobra.Command{
	Use:   "lock <session-id>",
	Short: "Lock a balanced session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsLock,
}

var sessionsUnlockCmd = &cobra.Command{
	Use:   "unlock <session-id>",
	Short: "Reopen a locked session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsUnlock,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and release its postings",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsStartCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsStatusCmd)
	sessionsCmd.AddCommand(sessionsLockCmd)
	sessionsCmd.AddCommand(sessionsUnlockCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	sessionsStartCmd.Flags().StringVar(&sessionAccount, "account", "", "ledger account (required)")
	sessionsStartCmd.Flags().StringVar(&sessionStart, "start", "", "statement start date (required)")
	sessionsStartCmd.Flags().StringVar(&sessionEnd, "end", "", "statement end date (required)")
	sessionsStartCmd.Flags().StringVar(&sessionStartBalance, "start-balance", "0", "statement opening balance")
	sessionsStartCmd.Flags().StringVar(&sessionEndBalance, "end-balance", "0", "statement closing balance")
	sessionsStartCmd.MarkFlagRequired("account")
	sessionsStartCmd.MarkFlagRequired("start")
	sessionsStartCmd.MarkFlagRequired("end")

	sessionsListCmd.Flags().StringVar(&sessionAccount, "account", "", "ledger account (required)")
	sessionsListCmd.MarkFlagRequired("account")

	sessionsStatusCmd.Flags().StringVar(&sessionOutputFormat, "output-format", "console", "output format (console, json)")
}

func withSessionManager(fn func(context.Context, *session.Manager) error) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	defer store.Close()

	_, sessions, _ := buildServices(store, log)
	return fn(context.Background(), sessions)
}

func runSessionsStart(cmd *cobra.Command, args []string) error {
	return withSessionManager(func(ctx context.Context, sessions *session.Manager) error {
		params := session.StartParams{AccountID: sessionAccount}

		var err error
		if params.StatementStart, err = models.ParseCivilDate(sessionStart); err != nil {
			return fmt.Errorf("invalid --start date: %w", err)
		}
		if params.StatementEnd, err = models.ParseCivilDate(sessionEnd); err != nil {
			return fmt.Errorf("invalid --end date: %w", err)
		}
		if params.StatementStartBalance, err = models.ParseAmount(sessionStartBalance); err != nil {
			return fmt.Errorf("invalid --start-balance: %w", err)
		}
		if params.StatementEndBalance, err = models.ParseAmount(sessionEndBalance); err != nil {
			return fmt.Errorf("invalid --end-balance: %w", err)
		}

		sess, err := sessions.Start(ctx, params)
		if err != nil {
			return err
		}
		fmt.Printf("Started session %s for %s (%s to %s)\n",
			sess.ID, sess.AccountID,
			sess.StatementStart.Format(models.CivilDateFormat),
			sess.StatementEnd.Format(models.CivilDateFormat))
		return nil
	})
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	return withSessionManager(func(ctx context.Context, sessions *session.Manager) error {
		all, err := sessions.List(ctx, sessionAccount)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		for _, sess := range all {
			state := "open"
			if sess.Locked {
				state = "locked"
			}
			fmt.Printf("%s  %s to %s  %-6s  end balance %s\n",
				sess.ID,
				sess.StatementStart.Format(models.CivilDateFormat),
				sess.StatementEnd.Format(models.CivilDateFormat),
				state,
				sess.StatementEndBalance.StringFixed(2))
		}
		return nil
	})
}

func runSessionsStatus(cmd *cobra.Command, args []string) error {
	return withSessionManager(func(ctx context.Context, sessions *session.Manager) error {
		status, err := sessions.Status(ctx, args[0])
		if err != nil {
			return err
		}
		gen, err := report.NewGenerator(&report.Config{Format: report.Format(sessionOutputFormat)})
		if err != nil {
			return err
		}
		return gen.WriteSessionStatus(status, os.Stdout)
	})
}

func runSessionsLock(cmd *cobra.Command, args []string) error {
	return withSessionManager(func(ctx context.Context, sessions *session.Manager) error {
		if err := sessions.Lock(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Locked session %s\n", args[0])
		return nil
	})
}

func runSessionsUnlock(cmd *cobra.Command, args []string) error {
	return withSessionManager(func(ctx context.Context, sessions *session.Manager) error {
		if err := sessions.Unlock(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Unlocked session %s\n", args[0])
		return nil
	})
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	return withSessionManager(func(ctx context.Context, sessions *session.Manager) error {
		if err := sessions.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	})
}
