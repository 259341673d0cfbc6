package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskledger/coordinator"
	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/risk"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func decode(t *testing.T, m kafka.Message) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(m.Value, &out))
	return out
}

func TestRecordTrade(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, DefaultTopics(), nil)

	tr := ledger.TradeRecord{
		ID:        "01J",
		Timestamp: time.Date(2025, 4, 1, 14, 30, 0, 0, time.UTC),
		AccountID: "alpha",
		Ticker:    "AAPL",
		Side:      ledger.Buy,
		Quantity:  10,
		Price:     decimal.RequireFromString("187.5"),
	}
	require.NoError(t, p.RecordTrade(context.Background(), tr))

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "riskledger.trades", m.Topic)
	assert.Equal(t, "alpha", string(m.Key))
	body := decode(t, m)
	assert.Equal(t, TypeTrade, body["type"])
	assert.Equal(t, "alpha", body["account_id"])
	assert.NotNil(t, body["payload"])
}

func TestPublishDecisionAndLeaderboard(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, DefaultTopics(), nil)
	ctx := context.Background()

	err := p.PublishDecision(ctx, coordinator.DecisionEvent{
		CycleID:   "c1",
		AccountID: "beta",
		Decision:  risk.Decision{Code: risk.CodeDrawdown, Reason: "down"},
	})
	require.NoError(t, err)
	err = p.PublishLeaderboard(ctx, time.Now(), []coordinator.Standing{{AccountID: "beta", Rank: 1}})
	require.NoError(t, err)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "riskledger.decisions", w.msgs[0].Topic)
	assert.Equal(t, "beta", string(w.msgs[0].Key))
	assert.Equal(t, "riskledger.leaderboard", w.msgs[1].Topic)
	assert.Equal(t, TypeLeaderboard, decode(t, w.msgs[1])["type"])
}

func TestEmptyTopicIsSkipped(t *testing.T) {
	w := &fakeWriter{}
	topics := DefaultTopics()
	topics.Equity = ""
	p := newPublisher(w, topics, nil)

	require.NoError(t, p.RecordEquity(context.Background(), ledger.EquitySnapshot{AccountID: "a"}))
	assert.Empty(t, w.msgs)
}

func TestWriteErrorIsWrapped(t *testing.T) {
	boom := errors.New("broker down")
	w := &fakeWriter{err: boom}
	p := newPublisher(w, DefaultTopics(), nil)

	err := p.RecordEquity(context.Background(), ledger.EquitySnapshot{AccountID: "a"})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
