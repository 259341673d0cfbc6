package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskledger/ledger"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back ledger schema migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}
	dialect, err := ledger.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return err
	}
	if err := ledger.Migrate(dialect, cfg.Database.DSN, direction); err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ migrations %s applied to %s\n", direction, dialect)
	return nil
}
