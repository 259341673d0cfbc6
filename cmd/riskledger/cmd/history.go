package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <account-id>",
	Short: "Show an account's trades or equity curve",
	Long: `List an account's trades, newest first, or its daily equity snapshots.

Examples:
  riskledger history conservative --limit 20
  riskledger history aggressive --equity --since 2025-01-01`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

var (
	historyLimit  int
	historyEquity bool
	historySince  string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum trades to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyEquity, "equity", false, "show equity snapshots instead of trades")
	historyCmd.Flags().StringVar(&historySince, "since", "", "first snapshot day (YYYY-MM-DD)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id := args[0]
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	defer tw.Flush()

	if historyEquity {
		var since time.Time
		if historySince != "" {
			if since, err = time.Parse("2006-01-02", historySince); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
		}
		curve, err := a.Ledger.EquityCurve(ctx, id, since)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "DATE\tEQUITY\tCASH\tINVESTED\tUNREALIZED")
		for _, s := range curve {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Date.Format("2006-01-02"),
				s.TotalEquity.StringFixed(2), s.Cash.StringFixed(2), s.Invested.StringFixed(2), s.UnrealizedPnL.StringFixed(2))
		}
		return nil
	}

	trades, err := a.Ledger.History(ctx, id, historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "TIME\tSIDE\tTICKER\tQTY\tPRICE\tFEE\tREALIZED\tREASON")
	for _, t := range trades {
		realized := "-"
		if t.RealizedPnL.Valid {
			realized = t.RealizedPnL.Decimal.StringFixed(2)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n", t.Timestamp.Format(time.RFC3339), t.Side, t.Ticker,
			t.Quantity, t.Price.StringFixed(2), t.Fee.StringFixed(2), realized, t.Reason)
	}
	return nil
}
