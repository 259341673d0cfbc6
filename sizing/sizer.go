package sizing

import (
	"github.com/shopspring/decimal"
)

// Sizer holds per-account sizing preferences.
type Sizer struct {
	// Cap bounds the fraction of equity committed to one position.
	Cap       float64 `json:"cap" yaml:"cap" mapstructure:"cap"`
	HalfKelly bool    `json:"half_kelly" yaml:"half_kelly" mapstructure:"half_kelly"`

	// Prior edge used until MinHistory closed trades exist.
	PriorWinRate float64 `json:"prior_win_rate" yaml:"prior_win_rate" mapstructure:"prior_win_rate"`
	PriorPayoff  float64 `json:"prior_payoff" yaml:"prior_payoff" mapstructure:"prior_payoff"`
	MinHistory   int     `json:"min_history" yaml:"min_history" mapstructure:"min_history"`
}

func DefaultSizer() Sizer {
	return Sizer{
		Cap:          0.10,
		HalfKelly:    true,
		PriorWinRate: 0.55,
		PriorPayoff:  1.5,
		MinHistory:   20,
	}
}

// Fraction picks the capital fraction for the next position.
func (s Sizer) Fraction(returns []float64) float64 {
	if s.MinHistory > 0 && len(returns) >= s.MinHistory {
		return FromHistory(returns, s.Cap)
	}
	return FromEdge(s.PriorWinRate, s.PriorPayoff, s.Cap, s.HalfKelly)
}

// Quantity is floor(equity × fraction × confidence / price), with
// confidence clamped to [0,1]. Non-positive inputs give 0.
func (s Sizer) Quantity(equity, price decimal.Decimal, fraction, confidence float64) int64 {
	return Quantity(equity, price, fraction, confidence)
}

func Quantity(equity, price decimal.Decimal, fraction, confidence float64) int64 {
	if !equity.IsPositive() || !price.IsPositive() || !validFraction(fraction) || !validFraction(confidence) {
		return 0
	}
	if fraction <= 0 {
		return 0
	}
	f := decimal.NewFromFloat(clamp(fraction, 0, 1) * clamp(confidence, 0, 1))
	q := equity.Mul(f).Div(price).Floor()
	return q.IntPart()
}
