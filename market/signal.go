package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Action is the closed set of signal variants a producer may emit.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction accepts BUY, SELL or HOLD in any case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, nil
	default:
		return "", fmt.Errorf("unknown signal action %q", s)
	}
}

// Signal is a proposal from an external producer. Confidence is opaque to
// the core and only scales position size.
type Signal struct {
	Ticker      string          `json:"ticker"`
	Action      Action          `json:"action"`
	Price       decimal.Decimal `json:"price"`
	Confidence  float64         `json:"confidence"`
	StrategyTag string          `json:"strategy_tag"`
}

// Validate checks the signal is well formed.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Ticker) == "" {
		return fmt.Errorf("signal: ticker is required")
	}
	if _, err := ParseAction(string(s.Action)); err != nil {
		return fmt.Errorf("signal %s: %w", s.Ticker, err)
	}
	if s.Action != ActionHold && !s.Price.IsPositive() {
		return fmt.Errorf("signal %s: price must be positive", s.Ticker)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %.3f outside [0,1]", s.Ticker, s.Confidence)
	}
	return nil
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
