// Package indicators provides volatility indicators over OHLC candles.
package indicators

import "github.com/rustyeddy/riskledger/market"

// Indicator computes a single streaming value from candles.
type Indicator interface {
	// Name returns a stable identifier like "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next closed candle.
	Update(c market.Candle)

	// Ready reports whether Value() is meaningful.
	Ready() bool

	Value() float64
}
