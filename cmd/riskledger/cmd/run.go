package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskledger/coordinator"
	"github.com/rustyeddy/riskledger/internal/app"
	"github.com/rustyeddy/riskledger/market"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one cycle from a signals file",
	Long: `Replay a signals CSV through every configured account.

Signals are rows of ticker,action,price,confidence[,strategy_tag]. Market
context comes from the candles file (time,ticker,open,high,low,close[,volume])
given here or in market.candles_file.

Example:
  riskledger run -c riskledger.yaml --signals signals.csv --candles candles.csv --snapshot`,
	RunE: runRun,
}

var (
	runSignals  string
	runCandles  string
	runAt       string
	runSnapshot bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runSignals, "signals", "s", "", "signals CSV file (required)")
	runCmd.Flags().StringVar(&runCandles, "candles", "", "candles CSV file, overrides market.candles_file")
	runCmd.Flags().StringVar(&runAt, "at", "", "cycle time (RFC3339), defaults to now")
	runCmd.Flags().BoolVar(&runSnapshot, "snapshot", false, "record an equity snapshot after the cycle")
	runCmd.MarkFlagRequired("signals")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	at := time.Now().UTC()
	if runAt != "" {
		t, err := time.Parse(time.RFC3339, runAt)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		at = t
	}

	signals, err := market.LoadSignalsFile(runSignals)
	if err != nil {
		return fmt.Errorf("load signals: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runCandles != "" {
		cfg.Market.CandlesFile = runCandles
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	mkt, err := a.MarketContext(ctx, at, signals)
	if err != nil {
		return err
	}
	rep, err := a.Coordinator.RunCycle(ctx, signals, mkt)
	if err != nil {
		return err
	}
	printCycle(cmd.OutOrStdout(), rep)

	if runSnapshot {
		snaps, err := a.Coordinator.SnapshotAll(ctx, at)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n✓ recorded %d equity snapshots for %s\n", len(snaps), at.Format("2006-01-02"))
	}
	return nil
}

func printCycle(w io.Writer, rep coordinator.CycleReport) {
	fmt.Fprintf(w, "Cycle %s at %s\n", rep.CycleID, rep.At.Format(time.RFC3339))
	for _, ar := range rep.Accounts {
		fmt.Fprintf(w, "\n%s  equity=%s cash=%s\n", ar.AccountID, ar.Balance.TotalEquity.StringFixed(2), ar.Balance.Cash.StringFixed(2))
		if len(ar.Outcomes) == 0 {
			fmt.Fprintln(w, "  (no orders)")
			continue
		}
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  SOURCE\tSTATUS\tSIDE\tTICKER\tQTY\tPRICE\tREASON")
		for _, o := range ar.Outcomes {
			reason := o.Reason
			if o.Code != "" {
				reason = o.Code + ": " + reason
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				o.Source, o.Status, o.Side, o.Ticker, o.Quantity, o.Price.StringFixed(2), reason)
		}
		tw.Flush()
	}
}
