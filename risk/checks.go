package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/pkg/logger"
	"github.com/rustyeddy/riskledger/portfolio"
)

// Reason codes carried by vetoes and forced orders.
const (
	CodeDrawdown      = "drawdown_circuit_breaker"
	CodeMarketCrash   = "market_crash"
	CodeLiquidity     = "liquidity_window"
	CodeCorrelation   = portfolio.CodeCorrelation
	CodeSector        = portfolio.CodeSector
	CodePositionSize  = "position_size_limit"
	CodeDeterioration = "forecast_deterioration"
)

// Verdict is one check's answer. A check may veto, force closes, or both.
type Verdict struct {
	Veto   bool
	Code   string
	Reason string
	Forced []ledger.Order
}

func allow() Verdict { return Verdict{} }

func veto(code, reason string) Verdict {
	return Verdict{Veto: true, Code: code, Reason: reason}
}

// Check is one predicate in the pipeline. A nil order is a sweep: breakers
// are evaluated without a candidate.
type Check interface {
	Name() string
	Evaluate(ctx context.Context, st AccountState, o *ledger.Order, mkt MarketContext) Verdict
}

// closeOrder liquidates p at the context price, or at its mark.
func closeOrder(st AccountState, p ledger.Position, mkt MarketContext, reason string) ledger.Order {
	px, ok := mkt.Price(p.Ticker)
	if !ok {
		px = p.MarkPrice
	}
	side := ledger.Sell
	qty := p.Quantity
	if p.Quantity < 0 {
		side = ledger.Buy
		qty = -qty
	}
	return ledger.Order{
		AccountID: st.AccountID,
		Ticker:    p.Ticker,
		Side:      side,
		Quantity:  qty,
		Price:     px,
		Reason:    reason,
	}
}

// DrawdownBreaker trips when today's equity has fallen MaxDailyLossPct or
// more from the previous snapshot. A tripped breaker vetoes every
// candidate and liquidates every position.
type DrawdownBreaker struct {
	Log *logger.Logger
}

func (DrawdownBreaker) Name() string { return "drawdown" }

func (c DrawdownBreaker) Evaluate(_ context.Context, st AccountState, o *ledger.Order, mkt MarketContext) Verdict {
	log := logger.OrNop(c.Log)
	if !st.HasPrevious || !st.PreviousEquity.IsPositive() {
		log.Debug("drawdown breaker skipped, no previous equity", logger.StringField("account", st.AccountID))
		return allow()
	}

	change := st.Balance.TotalEquity.Sub(st.PreviousEquity).
		Div(st.PreviousEquity).
		Mul(decimal.NewFromInt(100)).
		InexactFloat64()
	if change > st.Params.MaxDailyLossPct {
		return allow()
	}

	v := veto(CodeDrawdown, fmt.Sprintf("daily change %.2f%% breached limit %.2f%%", change, st.Params.MaxDailyLossPct))
	for _, p := range st.Positions {
		v.Forced = append(v.Forced, closeOrder(st, p, mkt, "circuit_breaker:drawdown"))
	}
	log.Warn("drawdown breaker tripped",
		logger.StringField("account", st.AccountID),
		logger.Float64Field("change_pct", change),
		logger.IntField("forced", len(v.Forced)))
	return v
}

// MarketCrashCheck vetoes new long exposure when any broad-market proxy
// fell MarketCrashThreshold or more. Missing proxy data allows the trade.
type MarketCrashCheck struct {
	Log *logger.Logger
}

func (MarketCrashCheck) Name() string { return "market_crash" }

func (c MarketCrashCheck) Evaluate(_ context.Context, st AccountState, o *ledger.Order, mkt MarketContext) Verdict {
	if !opensLong(st, o) {
		return allow()
	}
	log := logger.OrNop(c.Log)
	if len(mkt.Proxies) == 0 {
		log.Warn("degraded: no market proxies, allowing", logger.StringField("account", st.AccountID))
		return allow()
	}
	for _, p := range mkt.Proxies {
		if p.Err != nil {
			log.Warn("degraded: market proxy unavailable, allowing",
				logger.StringField("proxy", p.Ticker), logger.ErrorField(p.Err))
			continue
		}
		if p.ChangePct <= st.Params.MarketCrashThreshold {
			return veto(CodeMarketCrash, fmt.Sprintf("%s moved %.2f%%, crash threshold %.2f%%",
				p.Ticker, p.ChangePct, st.Params.MarketCrashThreshold))
		}
	}
	return allow()
}

// LiquidityWindow vetoes new exposure within Minutes of the session open
// or close. Open and Close are minutes after midnight in Location.
type LiquidityWindow struct {
	Open     int
	Close    int
	Minutes  int
	Location *time.Location
}

func (LiquidityWindow) Name() string { return "liquidity_window" }

func (c LiquidityWindow) Evaluate(_ context.Context, st AccountState, o *ledger.Order, mkt MarketContext) Verdict {
	if !increasesExposure(st, o) || mkt.Now.IsZero() || c.Minutes <= 0 {
		return allow()
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	now := mkt.Now.In(loc)
	m := now.Hour()*60 + now.Minute()
	if m < c.Open+c.Minutes {
		return veto(CodeLiquidity, fmt.Sprintf("within %d minutes of session open", c.Minutes))
	}
	if m >= c.Close-c.Minutes {
		return veto(CodeLiquidity, fmt.Sprintf("within %d minutes of session close", c.Minutes))
	}
	return allow()
}

// CorrelationCheck applies the portfolio checker to orders that open a new
// position.
type CorrelationCheck struct {
	Log *logger.Logger
}

func (CorrelationCheck) Name() string { return "correlation" }

func (c CorrelationCheck) Evaluate(_ context.Context, st AccountState, o *ledger.Order, mkt MarketContext) Verdict {
	if o == nil || !increasesExposure(st, o) {
		return allow()
	}
	if _, held := st.Position(o.Ticker); held {
		return allow()
	}
	pc := portfolio.Checker{
		MaxCorrelation:    st.Params.MaxCorrelation,
		MaxSectorExposure: st.Params.MaxSectorExposure,
		Logger:            c.Log,
	}
	r := pc.Evaluate(o.Ticker, st.Holdings(), mkt.Correlation, mkt.Sectors)
	if r.Allowed {
		return allow()
	}
	return veto(r.Code, r.Reason)
}

// PositionSizeCheck caps one ticker's gross exposure at MaxPositionSizePct
// of equity.
type PositionSizeCheck struct{}

func (PositionSizeCheck) Name() string { return "position_size" }

func (PositionSizeCheck) Evaluate(_ context.Context, st AccountState, o *ledger.Order, _ MarketContext) Verdict {
	if !increasesExposure(st, o) {
		return allow()
	}
	equity := st.Balance.TotalEquity
	if !equity.IsPositive() {
		return veto(CodePositionSize, "account has no equity")
	}

	notional := o.Price.Mul(decimal.NewFromInt(o.Quantity))
	if p, ok := st.Position(o.Ticker); ok {
		notional = notional.Add(p.MarketValue().Abs())
	}
	limit := equity.Mul(decimal.NewFromFloat(st.Params.MaxPositionSizePct)).Div(decimal.NewFromInt(100))
	if notional.GreaterThan(limit) {
		return veto(CodePositionSize, fmt.Sprintf("%s exposure %s exceeds %.2f%% of equity (%s)",
			o.Ticker, notional.StringFixed(2), st.Params.MaxPositionSizePct, limit.StringFixed(2)))
	}
	return allow()
}

// DeteriorationCheck forces an early exit from positions whose forecast has
// turned against them. It never vetoes.
type DeteriorationCheck struct {
	Log *logger.Logger
}

func (DeteriorationCheck) Name() string { return "deterioration" }

func (c DeteriorationCheck) Evaluate(_ context.Context, st AccountState, _ *ledger.Order, mkt MarketContext) Verdict {
	var v Verdict
	for _, p := range st.Positions {
		f, ok := mkt.Forecasts[p.Ticker]
		if !ok {
			continue
		}
		th := st.Params.DeteriorationThreshold
		if (p.Quantity > 0 && f <= th) || (p.Quantity < 0 && f >= -th) {
			v.Forced = append(v.Forced, closeOrder(st, p, mkt, CodeDeterioration))
			logger.OrNop(c.Log).Warn("forecast deterioration",
				logger.StringField("account", st.AccountID),
				logger.StringField("ticker", p.Ticker),
				logger.Float64Field("forecast_pct", f))
		}
	}
	return v
}
