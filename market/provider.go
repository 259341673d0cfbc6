package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDataUnavailable is returned when market data or a forecast is missing.
var ErrDataUnavailable = errors.New("data unavailable")

// DataProvider supplies OHLCV history per ticker, oldest first. It may
// return fewer candles than requested.
type DataProvider interface {
	History(ctx context.Context, ticker string, lookback int) ([]Candle, error)
}

// Forecaster returns an expected price change, in percent, over the horizon.
type Forecaster interface {
	Forecast(ctx context.Context, ticker string, horizonDays int) (float64, error)
}

// MemoryProvider is an in-memory DataProvider and Forecaster.
type MemoryProvider struct {
	mu        sync.RWMutex
	candles   map[string][]Candle
	forecasts map[string]float64
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		candles:   make(map[string][]Candle),
		forecasts: make(map[string]float64),
	}
}

// Set replaces the history for ticker.
func (p *MemoryProvider) Set(ticker string, candles []Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Candle, len(candles))
	copy(cp, candles)
	p.candles[NormalizeTicker(ticker)] = cp
}

// Append adds a candle to the end of ticker's history.
func (p *MemoryProvider) Append(ticker string, c Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := NormalizeTicker(ticker)
	p.candles[t] = append(p.candles[t], c)
}

// SetForecast stores the expected change for ticker.
func (p *MemoryProvider) SetForecast(ticker string, pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forecasts[NormalizeTicker(ticker)] = pct
}

// Tickers lists the tickers with history, sorted.
func (p *MemoryProvider) Tickers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.candles))
	for t := range p.candles {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (p *MemoryProvider) History(_ context.Context, ticker string, lookback int) ([]Candle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.candles[NormalizeTicker(ticker)]
	if !ok || len(c) == 0 {
		return nil, fmt.Errorf("%w: no history for %s", ErrDataUnavailable, ticker)
	}
	if lookback > 0 && len(c) > lookback {
		c = c[len(c)-lookback:]
	}
	out := make([]Candle, len(c))
	copy(out, c)
	return out, nil
}

func (p *MemoryProvider) Forecast(_ context.Context, ticker string, _ int) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	f, ok := p.forecasts[NormalizeTicker(ticker)]
	if !ok {
		return 0, fmt.Errorf("%w: no forecast for %s", ErrDataUnavailable, ticker)
	}
	return f, nil
}
