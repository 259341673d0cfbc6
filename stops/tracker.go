package stops

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/riskledger/indicators"
	"github.com/rustyeddy/riskledger/market"
	"github.com/rustyeddy/riskledger/pkg/logger"
)

// Config holds the ratchet parameters.
type Config struct {
	DefaultStopPct   float64 `json:"default_stop_pct" yaml:"default_stop_pct" mapstructure:"default_stop_pct"`
	ATRPeriod        int     `json:"atr_period" yaml:"atr_period" mapstructure:"atr_period"`
	Multiplier       float64 `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`
	FallbackPct      float64 `json:"fallback_pct" yaml:"fallback_pct" mapstructure:"fallback_pct"`
	BreakEvenTrigger float64 `json:"break_even_trigger" yaml:"break_even_trigger" mapstructure:"break_even_trigger"`
	BreakEvenBuffer  float64 `json:"break_even_buffer" yaml:"break_even_buffer" mapstructure:"break_even_buffer"`
}

func DefaultConfig() Config {
	return Config{
		DefaultStopPct:   0.05,
		ATRPeriod:        14,
		Multiplier:       2.0,
		FallbackPct:      0.05,
		BreakEvenTrigger: 0.05,
		BreakEvenBuffer:  0.001,
	}
}

func (c Config) Validate() error {
	switch {
	case c.DefaultStopPct <= 0 || c.DefaultStopPct >= 1:
		return fmt.Errorf("default_stop_pct must be in (0,1), got %v", c.DefaultStopPct)
	case c.ATRPeriod <= 0:
		return fmt.Errorf("atr_period must be positive, got %d", c.ATRPeriod)
	case c.Multiplier <= 0:
		return fmt.Errorf("multiplier must be positive, got %v", c.Multiplier)
	case c.FallbackPct <= 0 || c.FallbackPct >= 1:
		return fmt.Errorf("fallback_pct must be in (0,1), got %v", c.FallbackPct)
	case c.BreakEvenTrigger <= 0:
		return fmt.Errorf("break_even_trigger must be positive, got %v", c.BreakEvenTrigger)
	case c.BreakEvenBuffer < 0:
		return fmt.Errorf("break_even_buffer must be >= 0, got %v", c.BreakEvenBuffer)
	}
	return nil
}

// Tracker runs the stop state machine over a Store. The stop price of a
// tracked position never decreases.
type Tracker struct {
	cfg   Config
	store Store
	log   *logger.Logger
	clock func() time.Time

	mu sync.Mutex
}

type TrackerOption func(*Tracker)

func WithLogger(l *logger.Logger) TrackerOption {
	return func(t *Tracker) { t.log = l }
}

func WithClock(clock func() time.Time) TrackerOption {
	return func(t *Tracker) { t.clock = clock }
}

func NewTracker(cfg Config, store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{cfg: cfg, store: store, clock: time.Now}
	for _, o := range opts {
		o(t)
	}
	t.log = logger.OrNop(t.log).Named("stops")
	return t
}

func (t *Tracker) Config() Config { return t.cfg }

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// RegisterEntry starts tracking a new position. initialStop overrides the
// default percentage stop.
func (t *Tracker) RegisterEntry(ctx context.Context, accountID, ticker string, entry float64, initialStop *float64) (State, error) {
	if !validPrice(entry) {
		return State{}, fmt.Errorf("%w: entry %v", ErrInvalidPrice, entry)
	}
	ticker = market.NormalizeTicker(ticker)

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok, err := t.store.Get(ctx, accountID, ticker)
	if err != nil {
		return State{}, err
	}
	if ok && cur.Status == Tracking {
		return State{}, fmt.Errorf("%w: %s/%s", ErrAlreadyTracked, accountID, ticker)
	}

	stop := entry * (1 - t.cfg.DefaultStopPct)
	if initialStop != nil {
		if !validPrice(*initialStop) {
			return State{}, fmt.Errorf("%w: initial stop %v", ErrInvalidPrice, *initialStop)
		}
		stop = *initialStop
	}

	s := State{
		AccountID:    accountID,
		Ticker:       ticker,
		EntryPrice:   entry,
		HighestPrice: entry,
		StopPrice:    stop,
		Status:       Tracking,
		UpdatedAt:    t.clock().UTC(),
	}
	if err := t.store.Put(ctx, s); err != nil {
		return State{}, err
	}
	t.log.Debug("stop registered",
		logger.StringField("account", accountID),
		logger.StringField("ticker", ticker),
		logger.Float64Field("entry", entry),
		logger.Float64Field("stop", stop))
	return s, nil
}

// candidate is price − ATR×Multiplier, or price × (1 − FallbackPct) when
// history is too short for the ATR.
func (t *Tracker) candidate(price float64, history []market.Candle) float64 {
	atr, err := indicators.ATRFunc(history, t.cfg.ATRPeriod)
	if err != nil || atr <= 0 {
		return price * (1 - t.cfg.FallbackPct)
	}
	return price - atr*t.cfg.Multiplier
}

// UpdateStop ratchets the stop for the latest price and returns it.
func (t *Tracker) UpdateStop(ctx context.Context, accountID, ticker string, price float64, history []market.Candle) (float64, error) {
	if !validPrice(price) {
		return 0, fmt.Errorf("%w: price %v", ErrInvalidPrice, price)
	}
	ticker = market.NormalizeTicker(ticker)

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok, err := t.store.Get(ctx, accountID, ticker)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrNotTracked, accountID, ticker)
	}
	if s.Status == Exited {
		return s.StopPrice, nil
	}

	if price > s.HighestPrice {
		s.HighestPrice = price
	}
	stop := math.Max(s.StopPrice, t.candidate(price, history))
	if (price-s.EntryPrice)/s.EntryPrice >= t.cfg.BreakEvenTrigger {
		stop = math.Max(stop, s.EntryPrice*(1+t.cfg.BreakEvenBuffer))
	}

	if stop > s.StopPrice {
		t.log.Debug("stop raised",
			logger.StringField("account", accountID),
			logger.StringField("ticker", ticker),
			logger.Float64Field("from", s.StopPrice),
			logger.Float64Field("to", stop))
	}
	s.StopPrice = stop
	s.UpdatedAt = t.clock().UTC()
	if err := t.store.Put(ctx, s); err != nil {
		return 0, err
	}
	return stop, nil
}

// CheckExit reports whether price has crossed the stop. A crossing moves
// the state to Exited.
func (t *Tracker) CheckExit(ctx context.Context, accountID, ticker string, price float64) (Exit, error) {
	ticker = market.NormalizeTicker(ticker)

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok, err := t.store.Get(ctx, accountID, ticker)
	if err != nil {
		return Exit{}, err
	}
	if !ok || s.Status != Tracking {
		return Exit{StopPrice: s.StopPrice}, nil
	}
	if !validPrice(price) || price > s.StopPrice {
		return Exit{StopPrice: s.StopPrice}, nil
	}

	s.Status = Exited
	s.UpdatedAt = t.clock().UTC()
	if err := t.store.Put(ctx, s); err != nil {
		return Exit{}, err
	}
	reason := fmt.Sprintf("stop_exit: price %.4f <= stop %.4f", price, s.StopPrice)
	t.log.Info("stop hit",
		logger.StringField("account", accountID),
		logger.StringField("ticker", ticker),
		logger.Float64Field("price", price),
		logger.Float64Field("stop", s.StopPrice))
	return Exit{ShouldExit: true, Reason: reason, StopPrice: s.StopPrice}, nil
}

// Remove forgets the stop. Removing an untracked key is not an error.
func (t *Tracker) Remove(ctx context.Context, accountID, ticker string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Delete(ctx, accountID, market.NormalizeTicker(ticker))
}

// Get returns the current state; Status is Untracked when none exists.
func (t *Tracker) Get(ctx context.Context, accountID, ticker string) (State, error) {
	ticker = market.NormalizeTicker(ticker)
	s, ok, err := t.store.Get(ctx, accountID, ticker)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return State{AccountID: accountID, Ticker: ticker, Status: Untracked}, nil
	}
	return s, nil
}

func (t *Tracker) List(ctx context.Context, accountID string) ([]State, error) {
	return t.store.List(ctx, strings.TrimSpace(accountID))
}
