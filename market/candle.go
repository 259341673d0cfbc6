package market

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar for a ticker.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Closes extracts the close prices in order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// DayOverDayPct returns the percentage change between the last two closes.
func DayOverDayPct(candles []Candle) (float64, error) {
	if len(candles) < 2 {
		return 0, fmt.Errorf("%w: need 2 candles, got %d", ErrDataUnavailable, len(candles))
	}
	prev := candles[len(candles)-2].Close
	last := candles[len(candles)-1].Close
	if prev <= 0 {
		return 0, fmt.Errorf("%w: non-positive previous close %.4f", ErrDataUnavailable, prev)
	}
	return (last - prev) / prev * 100, nil
}
