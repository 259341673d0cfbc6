// Package ledger is the paper-trading capital ledger. Every mutation goes
// through Execute, MarkToMarket or Snapshot and is applied atomically.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskledger/pkg/id"
	"github.com/rustyeddy/riskledger/pkg/logger"
)

type Ledger struct {
	store   Store
	journal Journal
	log     *logger.Logger
	ids     id.Generator
	clock   func() time.Time
	feeRate decimal.Decimal

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Ledger)

// WithFeeRate charges rate × notional on every fill.
func WithFeeRate(rate decimal.Decimal) Option {
	return func(l *Ledger) { l.feeRate = rate }
}

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

func WithIDGenerator(g id.Generator) Option {
	return func(l *Ledger) { l.ids = g }
}

func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

func WithLogger(log *logger.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		journal: NopJournal{},
		ids:     id.NewULID(),
		clock:   time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(l)
	}
	if l.journal == nil {
		l.journal = NopJournal{}
	}
	l.log = logger.OrNop(l.log).Named("ledger")
	return l
}

func (l *Ledger) Store() Store { return l.store }

func (l *Ledger) now() time.Time {
	return l.clock().UTC().Round(0)
}

// lock returns the mutex serializing mutations of one account.
func (l *Ledger) lock(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}

type AccountOption func(*Account)

// WithShortSelling lets the account hold negative quantities.
func WithShortSelling() AccountOption {
	return func(a *Account) { a.AllowShort = true }
}

// Open creates a new account funded with initialCapital.
func (l *Ledger) Open(ctx context.Context, accountID string, initialCapital decimal.Decimal, opts ...AccountOption) (Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Account{}, fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if !initialCapital.IsPositive() {
		return Account{}, fmt.Errorf("%w: initial capital must be positive, got %s", ErrValidation, initialCapital)
	}

	m := l.lock(accountID)
	m.Lock()
	defer m.Unlock()

	a := Account{
		ID:             accountID,
		Cash:           initialCapital,
		InitialCapital: initialCapital,
		CreatedAt:      l.now(),
	}
	for _, o := range opts {
		o(&a)
	}
	if err := l.store.CreateAccount(ctx, a); err != nil {
		return Account{}, err
	}
	l.log.Info("account opened",
		logger.StringField("account", a.ID),
		logger.StringField("capital", initialCapital.String()),
		logger.Field("allow_short", a.AllowShort))
	return a, nil
}

func (l *Ledger) Account(ctx context.Context, accountID string) (Account, error) {
	return l.store.GetAccount(ctx, accountID)
}

func (l *Ledger) Accounts(ctx context.Context) ([]Account, error) {
	return l.store.ListAccounts(ctx)
}

func validateOrder(o Order) (Order, error) {
	o.Ticker = strings.ToUpper(strings.TrimSpace(o.Ticker))
	switch {
	case o.Ticker == "":
		return o, fmt.Errorf("%w: ticker is required", ErrValidation)
	case o.Side != Buy && o.Side != Sell:
		return o, fmt.Errorf("%w: unknown side %q", ErrValidation, o.Side)
	case o.Quantity <= 0:
		return o, fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, o.Quantity)
	case !o.Price.IsPositive():
		return o, fmt.Errorf("%w: price must be positive, got %s", ErrValidation, o.Price)
	}
	return o, nil
}

// vwap blends an existing average with a same-direction fill. Quantities
// are absolute.
func vwap(oldQty int64, oldAvg decimal.Decimal, qty int64, price decimal.Decimal) decimal.Decimal {
	total := decimal.NewFromInt(oldQty + qty)
	return oldAvg.Mul(decimal.NewFromInt(oldQty)).
		Add(price.Mul(decimal.NewFromInt(qty))).
		Div(total)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Execute applies an order. On any error the ledger is unchanged.
func (l *Ledger) Execute(ctx context.Context, o Order) (TradeRecord, error) {
	o, err := validateOrder(o)
	if err != nil {
		return TradeRecord{}, err
	}

	m := l.lock(o.AccountID)
	m.Lock()
	tr, err := l.executeLocked(ctx, o)
	m.Unlock()
	if err != nil {
		return TradeRecord{}, err
	}

	if jerr := l.journal.RecordTrade(ctx, tr); jerr != nil {
		l.log.Warn("journal trade failed", logger.StringField("trade", tr.ID), logger.ErrorField(jerr))
	}
	return tr, nil
}

func (l *Ledger) executeLocked(ctx context.Context, o Order) (TradeRecord, error) {
	acct, err := l.store.GetAccount(ctx, o.AccountID)
	if err != nil {
		return TradeRecord{}, err
	}
	pos, held, err := l.store.GetPosition(ctx, o.AccountID, o.Ticker)
	if err != nil {
		return TradeRecord{}, err
	}

	now := l.now()
	qty := decimal.NewFromInt(o.Quantity)
	notional := o.Price.Mul(qty)
	fee := notional.Mul(l.feeRate)

	tr := TradeRecord{
		ID:          l.ids.New(),
		Timestamp:   now,
		AccountID:   o.AccountID,
		Ticker:      o.Ticker,
		Side:        o.Side,
		Quantity:    o.Quantity,
		Price:       o.Price,
		Fee:         fee,
		StrategyTag: o.StrategyTag,
		Reason:      o.Reason,
	}

	if !held {
		pos = Position{AccountID: o.AccountID, Ticker: o.Ticker, OpenedAt: now}
	}
	next := pos
	next.MarkPrice = o.Price
	next.UpdatedAt = now
	cash := acct.Cash

	switch {
	case o.Side == Buy && pos.Quantity >= 0:
		cost := notional.Add(fee)
		if cost.GreaterThan(cash) {
			return TradeRecord{}, fmt.Errorf("%w: %s costs %s, cash %s", ErrInsufficientFunds, o, cost, cash)
		}
		cash = cash.Sub(cost)
		next.AvgEntryPrice = vwap(pos.Quantity, pos.AvgEntryPrice, o.Quantity, o.Price)
		next.Quantity = pos.Quantity + o.Quantity

	case o.Side == Buy:
		// covering a short
		if o.Quantity > abs(pos.Quantity) {
			return TradeRecord{}, fmt.Errorf("%w: %s would flip short of %d", ErrValidation, o, pos.Quantity)
		}
		cost := notional.Add(fee)
		if cost.GreaterThan(cash) {
			return TradeRecord{}, fmt.Errorf("%w: %s costs %s, cash %s", ErrInsufficientFunds, o, cost, cash)
		}
		cash = cash.Sub(cost)
		tr.EntryPrice = pos.AvgEntryPrice
		tr.RealizedPnL = decimal.NewNullDecimal(pos.AvgEntryPrice.Sub(o.Price).Mul(qty).Sub(fee))
		next.Quantity = pos.Quantity + o.Quantity

	case pos.Quantity > 0:
		if o.Quantity > pos.Quantity {
			if acct.AllowShort {
				return TradeRecord{}, fmt.Errorf("%w: %s would flip long of %d", ErrValidation, o, pos.Quantity)
			}
			return TradeRecord{}, fmt.Errorf("%w: %s, holding %d", ErrInsufficientShares, o, pos.Quantity)
		}
		cash = cash.Add(notional).Sub(fee)
		tr.EntryPrice = pos.AvgEntryPrice
		tr.RealizedPnL = decimal.NewNullDecimal(o.Price.Sub(pos.AvgEntryPrice).Mul(qty).Sub(fee))
		next.Quantity = pos.Quantity - o.Quantity

	default:
		// SELL opening or extending a short
		if !acct.AllowShort {
			return TradeRecord{}, fmt.Errorf("%w: %s, holding 0", ErrInsufficientShares, o)
		}
		cash = cash.Add(notional).Sub(fee)
		next.AvgEntryPrice = vwap(abs(pos.Quantity), pos.AvgEntryPrice, o.Quantity, o.Price)
		next.Quantity = pos.Quantity - o.Quantity
	}

	fill := Fill{AccountID: o.AccountID, Cash: cash, Ticker: o.Ticker, Trade: tr}
	if next.Quantity != 0 {
		fill.Position = &next
	}
	if err := l.store.ApplyFill(ctx, fill); err != nil {
		return TradeRecord{}, fmt.Errorf("apply fill %s: %w", o, err)
	}

	l.log.Debug("fill",
		logger.StringField("account", o.AccountID),
		logger.StringField("order", o.String()),
		logger.StringField("cash", cash.String()),
		logger.Int64Field("position", next.Quantity))
	return tr, nil
}

// Positions lists open positions sorted by ticker.
func (l *Ledger) Positions(ctx context.Context, accountID string) ([]Position, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return l.store.ListPositions(ctx, accountID)
}

func (l *Ledger) Position(ctx context.Context, accountID, ticker string) (Position, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return Position{}, err
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	p, ok, err := l.store.GetPosition(ctx, accountID, ticker)
	if err != nil {
		return Position{}, err
	}
	if !ok {
		return Position{}, fmt.Errorf("%w: %s not held by %s", ErrUnknownTicker, ticker, accountID)
	}
	return p, nil
}

func (l *Ledger) Balance(ctx context.Context, accountID string) (Balance, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	positions, err := l.store.ListPositions(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return balanceOf(acct, positions), nil
}

// History returns trades newest first. limit <= 0 returns all.
func (l *Ledger) History(ctx context.Context, accountID string, limit int) ([]TradeRecord, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return l.store.ListTrades(ctx, accountID, limit)
}

// RealizedReturns returns the fractional return of every closing fill,
// oldest first.
func (l *Ledger) RealizedReturns(ctx context.Context, accountID string) ([]float64, error) {
	trades, err := l.History(ctx, accountID, 0)
	if err != nil {
		return nil, err
	}
	var out []float64
	for i := len(trades) - 1; i >= 0; i-- {
		if r, ok := trades[i].Return(); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// EquityCurve returns snapshots on or after since, oldest first.
func (l *Ledger) EquityCurve(ctx context.Context, accountID string, since time.Time) ([]EquitySnapshot, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return l.store.ListSnapshots(ctx, accountID, since)
}

// MarkToMarket refreshes marks for held tickers. Prices for tickers not
// held are ignored.
func (l *Ledger) MarkToMarket(ctx context.Context, accountID string, prices map[string]decimal.Decimal) error {
	for t, px := range prices {
		if !px.IsPositive() {
			return fmt.Errorf("%w: mark for %s must be positive, got %s", ErrValidation, t, px)
		}
	}

	m := l.lock(accountID)
	m.Lock()
	defer m.Unlock()

	positions, err := l.Positions(ctx, accountID)
	if err != nil {
		return err
	}
	marks := make(map[string]decimal.Decimal)
	for _, p := range positions {
		if px, ok := lookupPrice(prices, p.Ticker); ok {
			marks[p.Ticker] = px
		}
	}
	if len(marks) == 0 {
		return nil
	}
	return l.store.UpdateMarks(ctx, accountID, marks, l.now())
}

func lookupPrice(prices map[string]decimal.Decimal, ticker string) (decimal.Decimal, bool) {
	if px, ok := prices[ticker]; ok {
		return px, true
	}
	for t, px := range prices {
		if strings.EqualFold(t, ticker) {
			return px, true
		}
	}
	return decimal.Decimal{}, false
}

// Snapshot records the account valuation for the UTC day containing at.
// A second snapshot on the same day overwrites the first.
func (l *Ledger) Snapshot(ctx context.Context, accountID string, at time.Time) (EquitySnapshot, error) {
	m := l.lock(accountID)
	m.Lock()
	b, err := l.Balance(ctx, accountID)
	if err != nil {
		m.Unlock()
		return EquitySnapshot{}, err
	}
	snap := EquitySnapshot{
		AccountID:     accountID,
		Date:          Day(at),
		TotalEquity:   b.TotalEquity,
		Cash:          b.Cash,
		Invested:      b.Invested,
		UnrealizedPnL: b.UnrealizedPnL,
	}
	err = l.store.UpsertSnapshot(ctx, snap)
	m.Unlock()
	if err != nil {
		return EquitySnapshot{}, err
	}

	if jerr := l.journal.RecordEquity(ctx, snap); jerr != nil {
		l.log.Warn("journal equity failed", logger.StringField("account", accountID), logger.ErrorField(jerr))
	}
	return snap, nil
}

// PreviousEquity returns the equity of the latest snapshot strictly before
// the UTC day containing day.
func (l *Ledger) PreviousEquity(ctx context.Context, accountID string, day time.Time) (decimal.Decimal, bool, error) {
	s, ok, err := l.store.LatestSnapshotBefore(ctx, accountID, Day(day))
	if err != nil || !ok {
		return decimal.Decimal{}, false, err
	}
	return s.TotalEquity, true, nil
}
