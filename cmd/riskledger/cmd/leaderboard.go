package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Rank accounts by total equity",
	Args:  cobra.NoArgs,
	RunE:  runLeaderboard,
}

func init() {
	rootCmd.AddCommand(leaderboardCmd)
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	board, err := a.Coordinator.Leaderboard(ctx, time.Now())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RANK\tACCOUNT\tEQUITY\tDAILY P/L\t")
	for _, s := range board {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", s.Rank, s.AccountID, s.TotalEquity.StringFixed(2), s.DailyPnL.StringFixed(2))
	}
	return tw.Flush()
}
