// Package journal writes ledger activity to flat files for offline review.
package journal

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/riskledger/ledger"
)

var (
	tradeHeader  = []string{"trade_id", "time", "account_id", "ticker", "side", "quantity", "price", "fee", "entry_price", "realized_pnl", "strategy_tag", "reason"}
	equityHeader = []string{"date", "account_id", "total_equity", "cash", "invested", "unrealized_pnl"}
)

// CSVJournal appends trades and equity snapshots to two CSV files.
type CSVJournal struct {
	mu     sync.Mutex
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

var _ ledger.Journal = (*CSVJournal)(nil)

// NewCSV opens (or creates) both files for appending. Headers are written
// only to empty files.
func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, tw, err := openAppend(tradesPath, tradeHeader)
	if err != nil {
		return nil, err
	}
	ef, ew, err := openAppend(equityPath, equityHeader)
	if err != nil {
		tf.Close()
		return nil, err
	}
	return &CSVJournal{trades: tw, equity: ew, tf: tf, ef: ef}, nil
}

func openAppend(path string, header []string) (*os.File, *csv.Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, nil, err
		}
	}
	return f, w, nil
}

func (j *CSVJournal) RecordTrade(_ context.Context, t ledger.TradeRecord) error {
	realized := ""
	if t.RealizedPnL.Valid {
		realized = t.RealizedPnL.Decimal.String()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.trades.Write([]string{
		t.ID,
		t.Timestamp.UTC().Format(time.RFC3339Nano),
		t.AccountID,
		t.Ticker,
		string(t.Side),
		strconv.FormatInt(t.Quantity, 10),
		t.Price.String(),
		t.Fee.String(),
		t.EntryPrice.String(),
		realized,
		t.StrategyTag,
		t.Reason,
	})
	if err != nil {
		return err
	}
	j.trades.Flush()
	return j.trades.Error()
}

func (j *CSVJournal) RecordEquity(_ context.Context, e ledger.EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.equity.Write([]string{
		e.Date.Format("2006-01-02"),
		e.AccountID,
		e.TotalEquity.String(),
		e.Cash.String(),
		e.Invested.String(),
		e.UnrealizedPnL.String(),
	})
	if err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}
