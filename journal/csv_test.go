package journal

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskledger/ledger"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(tradesPath, equityPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, [][]string{tradeHeader}, readAll(t, tradesPath))
	assert.Equal(t, [][]string{equityHeader}, readAll(t, equityPath))
}

func TestCSVJournalRecordTrade(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	j, err := NewCSV(tradesPath, filepath.Join(dir, "equity.csv"))
	require.NoError(t, err)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	err = j.RecordTrade(context.Background(), ledger.TradeRecord{
		ID:          "T1",
		Timestamp:   ts,
		AccountID:   "alpha",
		Ticker:      "AAPL",
		Side:        ledger.Sell,
		Quantity:    10,
		Price:       decimal.RequireFromString("110.5"),
		Fee:         decimal.Zero,
		EntryPrice:  decimal.RequireFromString("100"),
		RealizedPnL: decimal.NewNullDecimal(decimal.RequireFromString("105")),
		Reason:      "signal",
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	rows := readAll(t, tradesPath)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"T1", "2024-01-02T03:04:05Z", "alpha", "AAPL", "SELL", "10", "110.5", "0", "100", "105", "", "signal"}, rows[1])
}

func TestCSVJournalAppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")
	snap := ledger.EquitySnapshot{
		AccountID:   "alpha",
		Date:        time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		TotalEquity: decimal.NewFromInt(1000),
	}

	for i := 0; i < 2; i++ {
		j, err := NewCSV(tradesPath, equityPath)
		require.NoError(t, err)
		require.NoError(t, j.RecordEquity(context.Background(), snap))
		require.NoError(t, j.Close())
	}

	rows := readAll(t, equityPath)
	require.Len(t, rows, 3, "one header and two rows")
	assert.Equal(t, []string{"2024-01-02", "alpha", "1000", "0", "0", "0"}, rows[2])
}

func TestCSVJournalAsLedgerJournal(t *testing.T) {
	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	j, err := NewCSV(tradesPath, filepath.Join(dir, "equity.csv"))
	require.NoError(t, err)
	defer j.Close()

	store, err := ledger.NewSQLite(filepath.Join(dir, "l.db"))
	require.NoError(t, err)
	defer store.Close()
	l := ledger.New(store, ledger.WithJournal(ledger.MultiJournal{j, ledger.NopJournal{}}))

	ctx := context.Background()
	_, err = l.Open(ctx, "alpha", decimal.NewFromInt(10000))
	require.NoError(t, err)
	_, err = l.Execute(ctx, ledger.Order{AccountID: "alpha", Ticker: "XOM", Side: ledger.Buy, Quantity: 5, Price: decimal.NewFromInt(100)})
	require.NoError(t, err)

	rows := readAll(t, tradesPath)
	require.Len(t, rows, 2)
	assert.Equal(t, "XOM", rows[1][3])
}
