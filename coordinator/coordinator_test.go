package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/market"
	"github.com/rustyeddy/riskledger/risk"
	"github.com/rustyeddy/riskledger/sizing"
	"github.com/rustyeddy/riskledger/stops"
)

var day1 = time.Date(2025, 4, 1, 20, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu          sync.Mutex
	decisions   []DecisionEvent
	leaderboard [][]Standing
}

func (s *recordingSink) PublishDecision(_ context.Context, e DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, e)
	return nil
}

func (s *recordingSink) PublishLeaderboard(_ context.Context, _ time.Time, st []Standing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboard = append(s.leaderboard, st)
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	s, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "coord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return ledger.New(s, ledger.WithClock(func() time.Time { return day1 }))
}

func newCoordinator(t *testing.T, stopCfg stops.Config, opts ...Option) (*Coordinator, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	tracker := stops.NewTracker(stopCfg, stops.NewMemoryStore())
	base := []Option{WithSink(sink), WithClock(func() time.Time { return day1 })}
	return New(newLedger(t), tracker, append(base, opts...)...), sink
}

func personality(id string, capital string) Personality {
	return Personality{
		ID:             id,
		InitialCapital: d(capital),
		Params:         risk.DefaultParams(),
		Sizer:          sizing.DefaultSizer(),
	}
}

func sig(ticker string, a market.Action, px string, conf float64) market.Signal {
	return market.Signal{Ticker: ticker, Action: a, Price: d(px), Confidence: conf, StrategyTag: "test"}
}

func prices(kv ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = d(kv[i+1])
	}
	return out
}

func TestRunCycleIdenticalAccounts(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, stops.DefaultConfig())
	require.NoError(t, c.AddAccount(ctx, personality("twin-b", "100000")))
	require.NoError(t, c.AddAccount(ctx, personality("twin-a", "100000")))

	signals := []market.Signal{
		sig("AAPL", market.ActionBuy, "100", 1),
		sig("MSFT", market.ActionBuy, "200", 0.5),
		sig("NVDA", market.ActionHold, "0", 0),
		sig("TSLA", market.ActionSell, "250", 1),
	}
	rep, err := c.RunCycle(ctx, signals, risk.MarketContext{Now: day1})
	require.NoError(t, err)
	require.Len(t, rep.Accounts, 2)
	assert.NotEmpty(t, rep.CycleID)
	assert.Equal(t, "twin-a", rep.Accounts[0].AccountID, "accounts run in ID order")

	a := rep.Accounts[0]
	require.Len(t, a.Outcomes, 3)
	assert.Equal(t, StatusExecuted, a.Outcomes[0].Status)
	assert.Equal(t, int64(100), a.Outcomes[0].Quantity)
	assert.Equal(t, int64(25), a.Outcomes[1].Quantity)
	assert.Equal(t, StatusSkipped, a.Outcomes[2].Status)

	l := c.Ledger()
	pa, err := l.Positions(ctx, "twin-a")
	require.NoError(t, err)
	pb, err := l.Positions(ctx, "twin-b")
	require.NoError(t, err)
	require.Len(t, pa, 2)
	require.Len(t, pb, len(pa))
	for i := range pa {
		assert.Equal(t, pa[i].Ticker, pb[i].Ticker)
		assert.Equal(t, pa[i].Quantity, pb[i].Quantity)
		assert.True(t, pa[i].AvgEntryPrice.Equal(pb[i].AvgEntryPrice))
	}
	assert.True(t, a.Balance.Cash.Equal(rep.Accounts[1].Balance.Cash))
	assert.True(t, a.Balance.Cash.Equal(d("85000")))

	// stops registered on entry
	st, err := c.stops.Get(ctx, "twin-a", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, stops.Tracking, st.Status)

	// a SELL closes the whole holding and drops its stop
	rep, err = c.RunCycle(ctx, []market.Signal{sig("AAPL", market.ActionSell, "110", 1)}, risk.MarketContext{Now: day1})
	require.NoError(t, err)
	out := rep.Accounts[0].Outcomes
	require.Len(t, out, 1)
	assert.Equal(t, int64(100), out[0].Quantity)
	_, err = l.Position(ctx, "twin-a", "AAPL")
	assert.ErrorIs(t, err, ledger.ErrUnknownTicker)
	st, err = c.stops.Get(ctx, "twin-a", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, stops.Untracked, st.Status)
}

func TestRunCycleReplayIsDeterministic(t *testing.T) {
	ctx := context.Background()
	signals := []market.Signal{
		sig("AAPL", market.ActionBuy, "187.5", 0.8),
		sig("XOM", market.ActionBuy, "110.25", 0.6),
		sig("AAPL", market.ActionSell, "190", 1),
		sig("JPM", market.ActionBuy, "150", 0.9),
	}
	run := func() []ledger.Position {
		c, _ := newCoordinator(t, stops.DefaultConfig())
		require.NoError(t, c.AddAccount(ctx, personality("solo", "50000")))
		_, err := c.RunCycle(ctx, signals, risk.MarketContext{Now: day1})
		require.NoError(t, err)
		ps, err := c.Ledger().Positions(ctx, "solo")
		require.NoError(t, err)
		return ps
	}
	first, second := run(), run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Ticker, second[i].Ticker)
		assert.Equal(t, first[i].Quantity, second[i].Quantity)
	}
}

func TestRunCycleDrawdownLiquidates(t *testing.T) {
	ctx := context.Background()
	cfg := stops.DefaultConfig()
	cfg.DefaultStopPct = 0.5
	c, sink := newCoordinator(t, cfg)
	require.NoError(t, c.AddAccount(ctx, personality("p", "100000")))

	_, err := c.RunCycle(ctx, []market.Signal{
		sig("AAPL", market.ActionBuy, "100", 1),
		sig("XOM", market.ActionBuy, "50", 1),
	}, risk.MarketContext{Now: day1})
	require.NoError(t, err)
	_, err = c.SnapshotAll(ctx, day1)
	require.NoError(t, err)

	day2 := day1.AddDate(0, 0, 1)
	rep, err := c.RunCycle(ctx,
		[]market.Signal{sig("NVDA", market.ActionBuy, "100", 1)},
		risk.MarketContext{Now: day2, Prices: prices("AAPL", "80", "XOM", "40")},
	)
	require.NoError(t, err)

	out := rep.Accounts[0].Outcomes
	require.Len(t, out, 3)
	for _, o := range out[:2] {
		assert.Equal(t, SourceForced, o.Source)
		assert.Equal(t, StatusExecuted, o.Status)
		assert.Equal(t, ledger.Sell, o.Side)
		assert.Equal(t, "circuit_breaker:drawdown", o.Reason)
	}
	assert.Equal(t, StatusRejected, out[2].Status)
	assert.Equal(t, risk.CodeDrawdown, out[2].Code)

	ps, err := c.Ledger().Positions(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, ps)
	assert.True(t, rep.Accounts[0].Balance.TotalEquity.Equal(d("96000")))

	require.NotEmpty(t, sink.decisions)
	assert.Nil(t, sink.decisions[0].Candidate, "sweep decisions carry no candidate")
	assert.Len(t, sink.decisions[0].Decision.Forced, 2)
}

func TestRunCycleStopExit(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, stops.DefaultConfig())
	require.NoError(t, c.AddAccount(ctx, personality("p", "100000")))

	_, err := c.RunCycle(ctx, []market.Signal{sig("AAPL", market.ActionBuy, "100", 1)}, risk.MarketContext{Now: day1})
	require.NoError(t, err)

	rep, err := c.RunCycle(ctx, nil, risk.MarketContext{Now: day1, Prices: prices("AAPL", "94")})
	require.NoError(t, err)
	out := rep.Accounts[0].Outcomes
	require.Len(t, out, 1)
	assert.Equal(t, SourceStop, out[0].Source)
	assert.Equal(t, StatusExecuted, out[0].Status)
	assert.Contains(t, out[0].Reason, "stop_exit")

	_, err = c.Ledger().Position(ctx, "p", "AAPL")
	assert.ErrorIs(t, err, ledger.ErrUnknownTicker)
	st, err := c.stops.Get(ctx, "p", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, stops.Untracked, st.Status)
}

func TestRunCycleShortSelling(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, stops.DefaultConfig())
	p := personality("bear", "100000")
	p.AllowShort = true
	require.NoError(t, c.AddAccount(ctx, p))

	_, err := c.RunCycle(ctx, []market.Signal{sig("TSLA", market.ActionSell, "200", 1)}, risk.MarketContext{Now: day1})
	require.NoError(t, err)
	pos, err := c.Ledger().Position(ctx, "bear", "TSLA")
	require.NoError(t, err)
	assert.Equal(t, int64(-50), pos.Quantity)

	rep, err := c.RunCycle(ctx, []market.Signal{sig("TSLA", market.ActionBuy, "180", 1)}, risk.MarketContext{Now: day1})
	require.NoError(t, err)
	assert.Equal(t, int64(50), rep.Accounts[0].Outcomes[0].Quantity, "a BUY covers the whole short")
	_, err = c.Ledger().Position(ctx, "bear", "TSLA")
	assert.ErrorIs(t, err, ledger.ErrUnknownTicker)
}

func TestApplyGuidance(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, stops.DefaultConfig())
	require.NoError(t, c.AddAccount(ctx, personality("p", "100000")))

	_, err := c.ApplyGuidance("nobody", risk.DefaultParams(), "test")
	assert.ErrorIs(t, err, ledger.ErrUnknownAccount)

	bad := risk.DefaultParams()
	bad.MaxPositionSizePct = -1
	_, err = c.ApplyGuidance("p", bad, "test")
	assert.ErrorIs(t, err, risk.ErrInvalidParams)

	tight := risk.DefaultParams()
	tight.MaxPositionSizePct = 1
	v, err := c.ApplyGuidance("p", tight, "desk")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Version)

	cur, err := c.Policy("p")
	require.NoError(t, err)
	assert.Equal(t, "desk", cur.Source)

	// sizing now caps at 1% of equity
	rep, err := c.RunCycle(ctx, []market.Signal{sig("AAPL", market.ActionBuy, "100", 1)}, risk.MarketContext{Now: day1})
	require.NoError(t, err)
	assert.Equal(t, int64(10), rep.Accounts[0].Outcomes[0].Quantity)
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	c, sink := newCoordinator(t, stops.DefaultConfig())
	require.NoError(t, c.AddAccount(ctx, personality("b", "1000")))
	require.NoError(t, c.AddAccount(ctx, personality("a", "1000")))
	require.NoError(t, c.AddAccount(ctx, personality("c", "2000")))

	board, err := c.Leaderboard(ctx, day1)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "c", board[0].AccountID)
	assert.Equal(t, "a", board[1].AccountID, "ties broken by ID")
	assert.Equal(t, "b", board[2].AccountID)
	for i, s := range board {
		assert.Equal(t, i+1, s.Rank)
		assert.True(t, s.DailyPnL.IsZero())
	}
	assert.Empty(t, sink.leaderboard, "reads do not publish")

	published, err := c.PublishLeaderboard(ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, board, published)
	require.Len(t, sink.leaderboard, 1)
	assert.Equal(t, board, sink.leaderboard[0])

	_, err = c.SnapshotAll(ctx, day1)
	require.NoError(t, err)
	_, err = c.RunCycle(ctx, []market.Signal{sig("AAPL", market.ActionBuy, "10", 1)}, risk.MarketContext{Now: day1})
	require.NoError(t, err)

	day2 := day1.AddDate(0, 0, 1)
	_, err = c.RunCycle(ctx, nil, risk.MarketContext{Now: day2, Prices: prices("AAPL", "10.5")})
	require.NoError(t, err)
	board, err = c.Leaderboard(ctx, day2)
	require.NoError(t, err)
	// c holds 20 shares, a and b hold 10
	assert.True(t, board[0].DailyPnL.Equal(d("10")), "pnl %s", board[0].DailyPnL)
	assert.True(t, board[1].DailyPnL.Equal(d("5")))
	assert.Len(t, sink.leaderboard, 1)
}

func TestAddAccountReusesExisting(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	c := New(l, stops.NewTracker(stops.DefaultConfig(), stops.NewMemoryStore()))
	require.NoError(t, c.AddAccount(ctx, personality("p", "1000")))

	again := New(l, stops.NewTracker(stops.DefaultConfig(), stops.NewMemoryStore()))
	require.NoError(t, again.AddAccount(ctx, personality("p", "1000")))
	assert.Equal(t, []string{"p"}, again.AccountIDs())

	bad := personality("q", "1000")
	bad.Params.MaxCorrelation = 0
	assert.ErrorIs(t, c.AddAccount(ctx, bad), risk.ErrInvalidParams)
}

func TestBuildMarketContext(t *testing.T) {
	ctx := context.Background()
	p := market.NewMemoryProvider()
	var a, b, spy []market.Candle
	for i := 0; i < 10; i++ {
		px := 100 + float64(i)
		a = append(a, market.Candle{Close: px})
		b = append(b, market.Candle{Close: px * 2})
		spy = append(spy, market.Candle{Close: 400})
	}
	spy[len(spy)-1].Close = 380
	p.Set("AAPL", a)
	p.Set("MSFT", b)
	p.Set("SPY", spy)
	p.SetForecast("AAPL", -4)

	mkt := BuildMarketContext(ctx, day1, p, p, ContextSpec{
		Tickers:  []string{"aapl", "MSFT", "NOPE"},
		Proxies:  []string{"SPY", "QQQ"},
		Lookback: 30,
		Horizon:  5,
		Universe: market.NewUniverse([]market.Instrument{{Ticker: "AAPL", Sector: "tech"}}),
	}, nil)

	assert.True(t, mkt.Prices["AAPL"].Equal(d("109")))
	_, ok := mkt.Prices["NOPE"]
	assert.False(t, ok)

	require.NotNil(t, mkt.Correlation)
	v, ok := mkt.Correlation.Get("AAPL", "MSFT")
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-9)

	require.Len(t, mkt.Proxies, 2)
	assert.Error(t, mkt.Proxies[0].Err, "QQQ sorts first and has no data")
	assert.InDelta(t, -5.0, mkt.Proxies[1].ChangePct, 1e-9)

	assert.Equal(t, -4.0, mkt.Forecasts["AAPL"])
	assert.Equal(t, map[string]string{"AAPL": "tech"}, mkt.Sectors)
}
