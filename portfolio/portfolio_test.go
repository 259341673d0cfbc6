package portfolio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairMatrix(a, b string, v float64) *Matrix {
	m := NewMatrix([]string{a, b})
	m.Set(a, a, 1)
	m.Set(b, b, 1)
	m.Set(a, b, v)
	return m
}

func TestAllowAddCorrelation(t *testing.T) {
	t.Parallel()
	c := Checker{MaxCorrelation: 0.7, MaxSectorExposure: 1}

	ok, reason := c.AllowAdd("MSFT", []string{"AAPL"}, pairMatrix("AAPL", "MSFT", 0.95), nil)
	assert.False(t, ok)
	assert.Contains(t, reason, "correlation")

	r := c.Evaluate("MSFT", []string{"AAPL"}, pairMatrix("AAPL", "MSFT", -0.95), nil)
	assert.True(t, r.Allowed, "a strongly negative pair is a hedge")
	assert.Empty(t, r.Code)

	ok, _ = c.AllowAdd("MSFT", []string{"AAPL"}, pairMatrix("AAPL", "MSFT", 0.7), nil)
	assert.True(t, ok, "at the limit is allowed")

	ok, _ = c.AllowAdd("MSFT", []string{"AAPL"}, nil, nil)
	assert.True(t, ok, "no data fails open")

	r = c.Evaluate("MSFT", []string{"AAPL"}, &Matrix{}, nil)
	assert.True(t, r.Allowed)
	assert.Len(t, r.Degraded, 2)
}

func TestAllowAddCorrelationMissingPair(t *testing.T) {
	t.Parallel()
	c := Checker{MaxCorrelation: 0.7, MaxSectorExposure: 1}

	r := c.Evaluate("NVDA", []string{"AAPL", "MSFT"}, pairMatrix("AAPL", "MSFT", 0.2), nil)
	assert.True(t, r.Allowed)
	assert.Contains(t, r.Degraded, "correlation: no data for NVDA/AAPL")
	assert.Contains(t, r.Degraded, "correlation: no data for NVDA/MSFT")

	m := pairMatrix("AAPL", "MSFT", 0.9)
	r = c.Evaluate("MSFT", []string{"XOM", "AAPL"}, m, nil)
	assert.False(t, r.Allowed, "a known pair still vetoes after a missing one")
	assert.Equal(t, CodeCorrelation, r.Code)
	assert.Contains(t, r.Degraded, "correlation: no data for MSFT/XOM")
}

func TestAllowAddSector(t *testing.T) {
	t.Parallel()
	c := Checker{MaxCorrelation: 1, MaxSectorExposure: 0.5}
	sectors := map[string]string{"AAPL": "tech", "MSFT": "tech", "XOM": "energy", "JPM": "finance", "NVDA": "tech"}

	tests := []struct {
		name      string
		candidate string
		holdings  []string
		want      bool
	}{
		{"no holdings", "NVDA", nil, true},
		{"already held", "AAPL", []string{"AAPL", "MSFT"}, true},
		{"half tech", "NVDA", []string{"AAPL", "XOM"}, false},
		{"third tech", "NVDA", []string{"AAPL", "XOM", "JPM"}, true},
		{"other sector", "JPM", []string{"AAPL", "MSFT"}, true},
		{"unknown sector", "TSLA", []string{"AAPL"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := c.Evaluate(tt.candidate, tt.holdings, nil, sectors)
			assert.Equal(t, tt.want, r.Allowed, r.Reason)
			if !tt.want {
				assert.Equal(t, CodeSector, r.Code)
			}
		})
	}
}

func TestCorrelationMatrix(t *testing.T) {
	t.Parallel()

	closes := map[string][]float64{
		"A": {100, 101, 103, 102, 105, 107},
		"B": {50, 50.5, 51.5, 51, 52.5, 53.5},
		"C": {20, 19.8, 19.4, 19.6, 19, 18.6},
		"D": {10},
	}
	m := CorrelationMatrix(closes)
	require.Equal(t, []string{"A", "B", "C"}, m.Tickers, "short series dropped, tickers sorted")

	ab, ok := m.Get("A", "B")
	require.True(t, ok)
	assert.InDelta(t, 1.0, ab, 1e-9)

	ac, _ := m.Get("A", "C")
	assert.Less(t, ac, -0.9)

	ba, _ := m.Get("B", "A")
	assert.Equal(t, ab, ba)

	aa, _ := m.Get("A", "A")
	assert.Equal(t, 1.0, aa)

	_, ok = m.Get("A", "D")
	assert.False(t, ok)
}

func TestCorrelationFlatSeries(t *testing.T) {
	t.Parallel()
	m := CorrelationMatrix(map[string][]float64{
		"A": {1, 2, 3, 4},
		"F": {5, 5, 5, 5},
	})
	v, ok := m.Get("A", "F")
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestVolatility(t *testing.T) {
	t.Parallel()

	cov := NewMatrix([]string{"A", "B"})
	cov.Set("A", "A", 0.04)
	cov.Set("B", "B", 0.09)
	cov.Set("A", "B", 0.0)

	got := Volatility(map[string]float64{"A": 0.5, "B": 0.5}, cov)
	assert.InDelta(t, math.Sqrt(0.25*0.04+0.25*0.09), got, 1e-12)

	assert.Equal(t, 0.0, Volatility(map[string]float64{"Z": 1}, cov), "unknown ticker")
	assert.Equal(t, 0.0, Volatility(nil, cov))
	assert.Equal(t, 0.0, Volatility(map[string]float64{"A": 1}, nil))

	ragged := &Matrix{Tickers: []string{"A", "B"}, Values: [][]float64{{1, 0}}}
	assert.Equal(t, 0.0, Volatility(map[string]float64{"A": 1}, ragged))

	neg := NewMatrix([]string{"A"})
	neg.Set("A", "A", -1)
	assert.Equal(t, 0.0, Volatility(map[string]float64{"A": 1}, neg))
}

func TestCovarianceMatrix(t *testing.T) {
	t.Parallel()
	closes := map[string][]float64{
		"A": {100, 110, 99, 108.9},
		"B": {100, 110, 99, 108.9},
	}
	cov := CovarianceMatrix(closes)
	aa, ok := cov.Get("A", "A")
	require.True(t, ok)
	ab, _ := cov.Get("A", "B")
	assert.InDelta(t, aa, ab, 1e-15)
	assert.Greater(t, Volatility(map[string]float64{"A": 1}, cov), 0.0)
}
