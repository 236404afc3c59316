package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bookledger/internal/engine"
	"bookledger/internal/ledger"
	"bookledger/internal/session"
	"bookledger/internal/transfer"
	"bookledger/pkg/logger"
)

var (
	cfgFile string
	dbPath  string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bookledger",
	Short: "Ledger reconciliation tool",
	Long: `Bookledger matches external statement records against double-entry
ledger transactions, manages reconciliation sessions, and merges transfer
legs imported as disconnected single-sided entries.

Examples:
  bookledger match --account assets:checking --statement statement.csv
  bookledger transfers preview --from assets:checking --to assets:savings
  bookledger serve --port 8080`,
	Version: getVersionString(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "bookledger.db", "path to the ledger database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match
	viper.SetEnvPrefix("BOOKLEDGER")
	viper.AutomaticEnv()
}

// newLogger builds the CLI logger honoring the verbose flag.
func newLogger() (logger.Logger, error) {
	cfg := logger.DefaultConfig()
	cfg.Output = os.Stderr
	if viper.GetBool("verbose") {
		cfg.Level = "debug"
	}
	return logger.New(cfg)
}

// openStore opens the SQLite ledger store named by the --db flag.
func openStore() (*ledger.SQLiteStore, error) {
	path := viper.GetString("db")
	if path == "" {
		path = dbPath
	}
	return ledger.OpenSQLite(path)
}

// buildServices wires the store into the engine, session manager and
// transfer service.
func buildServices(store *ledger.SQLiteStore, log logger.Logger) (*engine.Engine, *session.Manager, *transfer.Service) {
	eng := engine.New(store, store, log)
	sessions := session.NewManager(store, log)
	transfers := transfer.NewService(store, eng, log)
	return eng, sessions, transfers
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
