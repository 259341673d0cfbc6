package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskledger/market"
	"github.com/rustyeddy/riskledger/pkg/logger"
	"github.com/rustyeddy/riskledger/portfolio"
	"github.com/rustyeddy/riskledger/risk"
)

// ContextSpec says what market data a cycle needs.
type ContextSpec struct {
	Tickers  []string
	Proxies  []string
	Lookback int
	Horizon  int
	Universe market.Universe
}

// BuildMarketContext resolves prices, proxy moves, correlations, forecasts
// and sectors ahead of a cycle. Missing data is left out rather than
// failing, so the checks that need it can fail open.
func BuildMarketContext(ctx context.Context, now time.Time, data market.DataProvider, fc market.Forecaster, spec ContextSpec, log *logger.Logger) risk.MarketContext {
	log = logger.OrNop(log)
	mkt := risk.MarketContext{
		Now:       now.UTC(),
		Prices:    make(map[string]decimal.Decimal),
		Forecasts: make(map[string]float64),
		Sectors:   spec.Universe.Sectors(),
	}

	closes := make(map[string][]float64)
	for _, t := range uniqueTickers(spec.Tickers) {
		if data == nil {
			break
		}
		h, err := data.History(ctx, t, spec.Lookback)
		if err != nil || len(h) == 0 {
			log.Warn("degraded: no price history", logger.StringField("ticker", t), logger.ErrorField(err))
			continue
		}
		mkt.Prices[t] = decimal.NewFromFloat(h[len(h)-1].Close)
		closes[t] = market.Closes(h)
	}
	if len(closes) >= 2 {
		mkt.Correlation = portfolio.CorrelationMatrix(closes)
	}

	for _, p := range uniqueTickers(spec.Proxies) {
		pc := risk.ProxyChange{Ticker: p}
		if data == nil {
			pc.Err = market.ErrDataUnavailable
		} else if h, err := data.History(ctx, p, 2); err != nil {
			pc.Err = err
		} else {
			pc.ChangePct, pc.Err = market.DayOverDayPct(h)
		}
		mkt.Proxies = append(mkt.Proxies, pc)
	}

	if fc != nil {
		for _, t := range uniqueTickers(spec.Tickers) {
			f, err := fc.Forecast(ctx, t, spec.Horizon)
			if err != nil {
				log.Debug("no forecast", logger.StringField("ticker", t), logger.ErrorField(err))
				continue
			}
			mkt.Forecasts[t] = f
		}
	}
	return mkt
}

func uniqueTickers(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, t := range in {
		t = market.NormalizeTicker(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Tickers returns the tickers named by signals plus every ticker held by
// any account.
func (c *Coordinator) Tickers(ctx context.Context, signals []market.Signal) ([]string, error) {
	var all []string
	for _, s := range signals {
		all = append(all, s.Ticker)
	}
	for _, id := range c.AccountIDs() {
		ps, err := c.ledger.Positions(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			all = append(all, p.Ticker)
		}
	}
	return uniqueTickers(all), nil
}
