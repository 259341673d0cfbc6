// Package coordinator runs several isolated paper accounts against one
// shared signal stream and ranks them.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/market"
	"github.com/rustyeddy/riskledger/pkg/logger"
	"github.com/rustyeddy/riskledger/risk"
	"github.com/rustyeddy/riskledger/stops"
)

type account struct {
	p      Personality
	policy *risk.Policy
}

type Coordinator struct {
	ledger   *ledger.Ledger
	stops    *stops.Tracker
	pipeline *risk.Pipeline
	sink     Sink
	data     market.DataProvider
	lookback int
	log      *logger.Logger
	clock    func() time.Time
	newID    func() string

	mu       sync.RWMutex
	accounts map[string]*account
}

type Option func(*Coordinator)

func WithPipeline(p *risk.Pipeline) Option {
	return func(c *Coordinator) { c.pipeline = p }
}

func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithHistory supplies candles for ATR stop updates.
func WithHistory(p market.DataProvider, lookback int) Option {
	return func(c *Coordinator) {
		c.data = p
		c.lookback = lookback
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithCycleIDs overrides the cycle ID generator.
func WithCycleIDs(f func() string) Option {
	return func(c *Coordinator) { c.newID = f }
}

func New(l *ledger.Ledger, st *stops.Tracker, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:   l,
		stops:    st,
		sink:     nopSink{},
		lookback: 30,
		clock:    time.Now,
		newID:    uuid.NewString,
		accounts: make(map[string]*account),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = logger.OrNop(c.log).Named("coordinator")
	if c.pipeline == nil {
		c.pipeline = risk.DefaultPipeline(c.log, nil)
	}
	if c.sink == nil {
		c.sink = nopSink{}
	}
	return c
}

// AddAccount registers a personality and opens its ledger account if it
// does not exist yet.
func (c *Coordinator) AddAccount(ctx context.Context, p Personality) error {
	policy, err := risk.NewPolicy(p.Params)
	if err != nil {
		return fmt.Errorf("account %s: %w", p.ID, err)
	}
	var opts []ledger.AccountOption
	if p.AllowShort {
		opts = append(opts, ledger.WithShortSelling())
	}
	if _, err := c.ledger.Open(ctx, p.ID, p.InitialCapital, opts...); err != nil && !errors.Is(err, ledger.ErrAccountExists) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[p.ID] = &account{p: p, policy: policy}
	return nil
}

// AccountIDs lists registered accounts in iteration order.
func (c *Coordinator) AccountIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.accounts))
	for id := range c.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) account(id string) (*account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, id)
	}
	return a, nil
}

func (c *Coordinator) Ledger() *ledger.Ledger { return c.ledger }

func (c *Coordinator) Stops() *stops.Tracker { return c.stops }

// Policy returns the current versioned parameters for an account.
func (c *Coordinator) Policy(id string) (risk.Versioned, error) {
	a, err := c.account(id)
	if err != nil {
		return risk.Versioned{}, err
	}
	return a.policy.Current(), nil
}

// ApplyGuidance replaces an account's risk parameters wholesale.
func (c *Coordinator) ApplyGuidance(id string, params risk.Params, source string) (risk.Versioned, error) {
	a, err := c.account(id)
	if err != nil {
		return risk.Versioned{}, err
	}
	v, err := a.policy.Replace(params, source)
	if err != nil {
		c.log.Warn("guidance rejected", logger.StringField("account", id), logger.ErrorField(err))
		return risk.Versioned{}, err
	}
	c.log.Info("guidance applied",
		logger.StringField("account", id),
		logger.StringField("source", source),
		logger.Int64Field("version", v.Version))
	return v, nil
}

func (c *Coordinator) state(ctx context.Context, a *account, now time.Time) (risk.AccountState, error) {
	id := a.p.ID
	bal, err := c.ledger.Balance(ctx, id)
	if err != nil {
		return risk.AccountState{}, err
	}
	positions, err := c.ledger.Positions(ctx, id)
	if err != nil {
		return risk.AccountState{}, err
	}
	prev, ok, err := c.ledger.PreviousEquity(ctx, id, now)
	if err != nil {
		return risk.AccountState{}, err
	}
	return risk.AccountState{
		AccountID:      id,
		Balance:        bal,
		Positions:      positions,
		PreviousEquity: prev,
		HasPrevious:    ok,
		Params:         a.policy.Params(),
	}, nil
}

// RunCycle replays signals through every account in ID order. Each
// account first marks to market, then runs its stops, then a breaker sweep,
// then each signal in order.
func (c *Coordinator) RunCycle(ctx context.Context, signals []market.Signal, mkt risk.MarketContext) (CycleReport, error) {
	if mkt.Now.IsZero() {
		mkt.Now = c.clock()
	}
	mkt.Now = mkt.Now.UTC()
	rep := CycleReport{CycleID: c.newID(), At: mkt.Now}
	log := c.log.With(logger.StringField("cycle", rep.CycleID))
	log.Info("cycle started", logger.IntField("signals", len(signals)), logger.IntField("accounts", len(c.AccountIDs())))

	for _, id := range c.AccountIDs() {
		a, err := c.account(id)
		if err != nil {
			return rep, err
		}
		r := cycleRun{c: c, a: a, mkt: mkt, cycleID: rep.CycleID, log: log.With(logger.StringField("account", id))}
		ar, err := r.run(ctx, signals)
		if err != nil {
			return rep, fmt.Errorf("cycle %s account %s: %w", rep.CycleID, id, err)
		}
		rep.Accounts = append(rep.Accounts, ar)
	}
	log.Info("cycle finished")
	return rep, nil
}

// cycleRun is one account's pass through a cycle.
type cycleRun struct {
	c       *Coordinator
	a       *account
	mkt     risk.MarketContext
	cycleID string
	log     *logger.Logger

	outcomes []Outcome
}

func (r *cycleRun) run(ctx context.Context, signals []market.Signal) (AccountReport, error) {
	id := r.a.p.ID

	if err := r.markToMarket(ctx); err != nil {
		return AccountReport{}, err
	}
	if err := r.runStops(ctx); err != nil {
		return AccountReport{}, err
	}
	if err := r.sweep(ctx); err != nil {
		return AccountReport{}, err
	}
	for _, s := range signals {
		if err := r.signal(ctx, s); err != nil {
			return AccountReport{}, err
		}
	}

	bal, err := r.c.ledger.Balance(ctx, id)
	if err != nil {
		return AccountReport{}, err
	}
	return AccountReport{AccountID: id, Outcomes: r.outcomes, Balance: bal}, nil
}

func (r *cycleRun) markToMarket(ctx context.Context) error {
	prices := make(map[string]decimal.Decimal, len(r.mkt.Prices))
	for t, px := range r.mkt.Prices {
		if px.IsPositive() {
			prices[t] = px
		}
	}
	if len(prices) == 0 {
		return nil
	}
	return r.c.ledger.MarkToMarket(ctx, r.a.p.ID, prices)
}

func (r *cycleRun) history(ctx context.Context, ticker string) []market.Candle {
	if r.c.data == nil {
		return nil
	}
	h, err := r.c.data.History(ctx, ticker, r.c.lookback)
	if err != nil {
		r.log.Debug("no history for stop update, using fallback",
			logger.StringField("ticker", ticker), logger.ErrorField(err))
		return nil
	}
	return h
}

// runStops ratchets each long position's stop and sells those that were
// crossed.
func (r *cycleRun) runStops(ctx context.Context) error {
	id := r.a.p.ID
	positions, err := r.c.ledger.Positions(ctx, id)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.Quantity <= 0 {
			continue
		}
		px, ok := r.mkt.Price(p.Ticker)
		if !ok {
			continue
		}
		price := px.InexactFloat64()

		st, err := r.c.stops.Get(ctx, id, p.Ticker)
		if err != nil {
			return err
		}
		if st.Status != stops.Tracking {
			if _, err := r.c.stops.RegisterEntry(ctx, id, p.Ticker, p.AvgEntryPrice.InexactFloat64(), nil); err != nil {
				return err
			}
		}
		if _, err := r.c.stops.UpdateStop(ctx, id, p.Ticker, price, r.history(ctx, p.Ticker)); err != nil {
			return err
		}
		exit, err := r.c.stops.CheckExit(ctx, id, p.Ticker, price)
		if err != nil {
			return err
		}
		if !exit.ShouldExit {
			continue
		}
		o := ledger.Order{AccountID: id, Ticker: p.Ticker, Side: ledger.Sell, Quantity: p.Quantity, Price: px, Reason: exit.Reason}
		if err := r.execute(ctx, o, SourceStop); err != nil {
			return err
		}
	}
	return nil
}

func (r *cycleRun) sweep(ctx context.Context) error {
	st, err := r.c.state(ctx, r.a, r.mkt.Now)
	if err != nil {
		return err
	}
	dec := r.c.pipeline.Evaluate(ctx, st, nil, r.mkt)
	if len(dec.Forced) == 0 {
		return nil
	}
	r.publish(ctx, nil, dec)
	return r.executeForced(ctx, dec.Forced)
}

func (r *cycleRun) executeForced(ctx context.Context, orders []ledger.Order) error {
	for _, o := range orders {
		if err := r.execute(ctx, o, SourceForced); err != nil {
			return err
		}
	}
	return nil
}

func (r *cycleRun) record(o ledger.Order, status, source, code, reason, tradeID string) {
	r.outcomes = append(r.outcomes, Outcome{
		AccountID: r.a.p.ID,
		Ticker:    o.Ticker,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Price:     o.Price,
		Status:    status,
		Source:    source,
		Code:      code,
		Reason:    reason,
		TradeID:   tradeID,
	})
}

// execute books o and keeps stops in step with the resulting position.
// Business rejections become outcomes; anything else aborts the cycle.
func (r *cycleRun) execute(ctx context.Context, o ledger.Order, source string) error {
	id := r.a.p.ID
	before, err := r.c.ledger.Position(ctx, id, o.Ticker)
	if err != nil && !errors.Is(err, ledger.ErrUnknownTicker) {
		return err
	}

	tr, err := r.c.ledger.Execute(ctx, o)
	if err != nil {
		if ledger.IsRejection(err) {
			r.log.Info("order rejected", logger.StringField("order", o.String()), logger.ErrorField(err))
			r.record(o, StatusRejected, source, "", err.Error(), "")
			return nil
		}
		return err
	}
	r.record(o, StatusExecuted, source, "", o.Reason, tr.ID)

	after, err := r.c.ledger.Position(ctx, id, o.Ticker)
	switch {
	case errors.Is(err, ledger.ErrUnknownTicker):
		return r.c.stops.Remove(ctx, id, o.Ticker)
	case err != nil:
		return err
	case after.Quantity > 0 && before.Quantity <= 0:
		_, err := r.c.stops.RegisterEntry(ctx, id, o.Ticker, o.Price.InexactFloat64(), nil)
		if errors.Is(err, stops.ErrAlreadyTracked) {
			return nil
		}
		return err
	case after.Quantity < 0:
		return r.c.stops.Remove(ctx, id, o.Ticker)
	}
	return nil
}

// size turns a signal into an order. A zero quantity means nothing to do.
func (r *cycleRun) size(ctx context.Context, s market.Signal, st risk.AccountState) (ledger.Order, string, error) {
	o := ledger.Order{
		AccountID:   r.a.p.ID,
		Ticker:      s.Ticker,
		Price:       s.Price,
		StrategyTag: s.StrategyTag,
		Reason:      "signal",
	}
	held, _ := st.Position(s.Ticker)

	switch {
	case s.Action == market.ActionBuy && held.Quantity < 0:
		o.Side = ledger.Buy
		o.Quantity = -held.Quantity
		return o, "", nil
	case s.Action == market.ActionSell && held.Quantity > 0:
		o.Side = ledger.Sell
		o.Quantity = held.Quantity
		return o, "", nil
	case s.Action == market.ActionSell && !r.a.p.AllowShort:
		return o, "no position to sell", nil
	}

	o.Side = ledger.Buy
	if s.Action == market.ActionSell {
		o.Side = ledger.Sell
	}
	returns, err := r.c.ledger.RealizedReturns(ctx, r.a.p.ID)
	if err != nil {
		return o, "", err
	}
	fraction := math.Min(r.a.p.Sizer.Fraction(returns), st.Params.MaxPositionSizePct/100)
	o.Quantity = r.a.p.Sizer.Quantity(st.Balance.TotalEquity, s.Price, fraction, s.Confidence)
	if o.Quantity <= 0 {
		return o, fmt.Sprintf("sized to zero (fraction %.4f, confidence %.2f)", fraction, s.Confidence), nil
	}
	return o, "", nil
}

func (r *cycleRun) signal(ctx context.Context, s market.Signal) error {
	s.Ticker = market.NormalizeTicker(s.Ticker)
	if s.Action == market.ActionHold {
		return nil
	}
	skipped := ledger.Order{AccountID: r.a.p.ID, Ticker: s.Ticker, Price: s.Price}
	if err := s.Validate(); err != nil {
		r.record(skipped, StatusRejected, SourceSignal, "", err.Error(), "")
		return nil
	}

	st, err := r.c.state(ctx, r.a, r.mkt.Now)
	if err != nil {
		return err
	}
	o, why, err := r.size(ctx, s, st)
	if err != nil {
		return err
	}
	if o.Quantity <= 0 {
		r.record(o, StatusSkipped, SourceSignal, "", why, "")
		return nil
	}

	dec := r.c.pipeline.Evaluate(ctx, st, &o, r.mkt)
	if !dec.Allowed || len(dec.Forced) > 0 {
		r.publish(ctx, &o, dec)
	}
	if err := r.executeForced(ctx, dec.Forced); err != nil {
		return err
	}
	if !dec.Allowed {
		r.record(o, StatusRejected, SourceSignal, dec.Code, dec.Reason, "")
		return nil
	}
	return r.execute(ctx, o, SourceSignal)
}

func (r *cycleRun) publish(ctx context.Context, o *ledger.Order, dec risk.Decision) {
	e := DecisionEvent{CycleID: r.cycleID, AccountID: r.a.p.ID, At: r.mkt.Now, Candidate: o, Decision: dec}
	if err := r.c.sink.PublishDecision(ctx, e); err != nil {
		r.log.Warn("publish decision failed", logger.ErrorField(err))
	}
}

// Leaderboard ranks accounts by total equity, ties broken by ID. Daily PnL
// is measured against the latest snapshot before now's day, or against
// initial capital when there is none.
func (c *Coordinator) Leaderboard(ctx context.Context, now time.Time) ([]Standing, error) {
	var out []Standing
	for _, id := range c.AccountIDs() {
		bal, err := c.ledger.Balance(ctx, id)
		if err != nil {
			return nil, err
		}
		base, ok, err := c.ledger.PreviousEquity(ctx, id, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			acct, err := c.ledger.Account(ctx, id)
			if err != nil {
				return nil, err
			}
			base = acct.InitialCapital
		}
		out = append(out, Standing{AccountID: id, TotalEquity: bal.TotalEquity, DailyPnL: bal.TotalEquity.Sub(base)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if cmp := out[i].TotalEquity.Cmp(out[j].TotalEquity); cmp != 0 {
			return cmp > 0
		}
		return out[i].AccountID < out[j].AccountID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// PublishLeaderboard computes the leaderboard and hands it to the sink.
// Sink errors are logged, not returned.
func (c *Coordinator) PublishLeaderboard(ctx context.Context, now time.Time) ([]Standing, error) {
	out, err := c.Leaderboard(ctx, now)
	if err != nil {
		return nil, err
	}
	if err := c.sink.PublishLeaderboard(ctx, now, out); err != nil {
		c.log.Warn("publish leaderboard failed", logger.ErrorField(err))
	}
	return out, nil
}

// SnapshotAll records one equity snapshot per account for at's day.
func (c *Coordinator) SnapshotAll(ctx context.Context, at time.Time) ([]ledger.EquitySnapshot, error) {
	var out []ledger.EquitySnapshot
	for _, id := range c.AccountIDs() {
		s, err := c.ledger.Snapshot(ctx, id, at)
		if err != nil {
			return out, fmt.Errorf("snapshot %s: %w", id, err)
		}
		out = append(out, s)
	}
	c.log.Info("snapshots recorded", logger.IntField("accounts", len(out)))
	return out, nil
}
