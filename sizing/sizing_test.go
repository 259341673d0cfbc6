package sizing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromEdge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		w, b float64
		cap  float64
		half bool
		want float64
	}{
		{"capped", 0.6, 2, 0.2, false, 0.2},
		{"negative edge", 0.4, 1, 0.2, false, 0},
		{"full kelly", 0.6, 2, 1, false, 0.4},
		{"half kelly", 0.6, 2, 1, true, 0.2},
		{"coin flip", 0.5, 1, 1, false, 0},
		{"cap above one", 1, 1, 5, false, 1},
		{"win rate above one", 1.1, 2, 1, false, 0},
		{"negative win rate", -0.1, 2, 1, false, 0},
		{"zero payoff", 0.6, 0, 1, false, 0},
		{"zero cap", 0.6, 2, 0, false, 0},
		{"nan", math.NaN(), 2, 1, false, 0},
		{"inf payoff", 0.6, math.Inf(1), 1, false, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, FromEdge(tt.w, tt.b, tt.cap, tt.half), 1e-12)
		})
	}
}

func TestFromHistory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, FromHistory(nil, 0.25))
	assert.Equal(t, 0.0, FromHistory([]float64{0, 0}, 0.25))
	assert.Equal(t, 0.25, FromHistory([]float64{0.1, 0.02}, 0.25), "all winners hit the cap")
	assert.Equal(t, 0.0, FromHistory([]float64{-0.1, -0.02}, 0.25))

	// w = 0.6, b = 0.10/0.05 = 2 → f* = 0.4, half = 0.2
	returns := []float64{0.1, 0.1, 0.1, -0.05, -0.05, 0}
	assert.InDelta(t, 0.2, FromHistory(returns, 1), 1e-12)
	assert.InDelta(t, 0.15, FromHistory(returns, 0.15), 1e-12)
}

func TestSizerFraction(t *testing.T) {
	t.Parallel()

	s := Sizer{Cap: 1, HalfKelly: false, PriorWinRate: 0.6, PriorPayoff: 2, MinHistory: 6}
	short := []float64{-0.1, -0.1}
	assert.InDelta(t, 0.4, s.Fraction(short), 1e-12, "prior used below min history")

	hist := []float64{0.1, 0.1, 0.1, -0.05, -0.05, 0}
	assert.InDelta(t, 0.2, s.Fraction(hist), 1e-12)

	s.MinHistory = 0
	assert.InDelta(t, 0.4, s.Fraction(hist), 1e-12, "zero min history never switches")

	assert.InDelta(t, 0.1, DefaultSizer().Fraction(nil), 1e-12)
}

func TestQuantity(t *testing.T) {
	t.Parallel()

	eq := decimal.NewFromInt(100000)
	px := decimal.NewFromInt(150)

	assert.Equal(t, int64(66), Quantity(eq, px, 0.1, 1))
	assert.Equal(t, int64(33), Quantity(eq, px, 0.1, 0.5))
	assert.Equal(t, int64(66), Quantity(eq, px, 0.1, 7), "confidence clamped to 1")
	assert.Equal(t, int64(0), Quantity(eq, px, 0.1, -1))
	assert.Equal(t, int64(0), Quantity(eq, px, 0, 1))
	assert.Equal(t, int64(0), Quantity(eq, decimal.Zero, 0.1, 1))
	assert.Equal(t, int64(0), Quantity(decimal.Zero, px, 0.1, 1))
	assert.Equal(t, int64(0), Quantity(eq, decimal.NewFromInt(20000), 0.1, 1), "price above budget")
	assert.Equal(t, int64(66), Sizer{}.Quantity(eq, px, 0.1, 1))
}

func TestStopRisk(t *testing.T) {
	t.Parallel()

	got := StopRisk{Equity: 10000, RiskPct: 0.01, EntryPrice: 50, StopPrice: 48}.Calculate()
	assert.Equal(t, int64(50), got.Quantity)
	assert.InDelta(t, 100.0, got.RiskAmount, 1e-9)
	assert.InDelta(t, 2.0, got.PerShare, 1e-9)

	none := StopRisk{Equity: 10000, RiskPct: 0.01, EntryPrice: 50, StopPrice: 50}.Calculate()
	assert.Equal(t, int64(0), none.Quantity)

	assert.InDelta(t, 2.0, RR(100, 95, 110), 1e-12)
	assert.Equal(t, 0.0, RR(100, 100, 110))
}
