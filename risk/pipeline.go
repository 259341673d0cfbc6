// Package risk is the pre-trade gate: versioned per-account parameters and
// an ordered pipeline of veto checks.
package risk

import (
	"context"

	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/pkg/logger"
)

// Decision is the pipeline's output. Forced orders must be executed before
// the candidate, whether or not the candidate is allowed.
type Decision struct {
	Allowed bool           `json:"allowed"`
	Code    string         `json:"code,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Check   string         `json:"check,omitempty"`
	Forced  []ledger.Order `json:"forced,omitempty"`
}

type Pipeline struct {
	checks []Check
	log    *logger.Logger
}

func NewPipeline(log *logger.Logger, checks ...Check) *Pipeline {
	return &Pipeline{checks: checks, log: logger.OrNop(log).Named("risk")}
}

// DefaultPipeline is drawdown, market crash, the optional liquidity
// window, correlation, position size and deterioration, in that order.
func DefaultPipeline(log *logger.Logger, liquidity *LiquidityWindow) *Pipeline {
	l := logger.OrNop(log).Named("risk")
	checks := []Check{
		DrawdownBreaker{Log: l},
		MarketCrashCheck{Log: l},
	}
	if liquidity != nil {
		checks = append(checks, *liquidity)
	}
	checks = append(checks,
		CorrelationCheck{Log: l},
		PositionSizeCheck{},
		DeteriorationCheck{Log: l},
	)
	return &Pipeline{checks: checks, log: l}
}

// Names lists the checks in order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.checks))
	for i, c := range p.checks {
		out[i] = c.Name()
	}
	return out
}

// Evaluate runs the checks in order and stops at the first veto. Forced
// orders from every check that ran are collected, one per ticker.
func (p *Pipeline) Evaluate(ctx context.Context, st AccountState, o *ledger.Order, mkt MarketContext) Decision {
	d := Decision{Allowed: true}
	seen := make(map[string]bool)

	for _, c := range p.checks {
		v := c.Evaluate(ctx, st, o, mkt)
		for _, f := range v.Forced {
			if seen[f.Ticker] {
				continue
			}
			seen[f.Ticker] = true
			d.Forced = append(d.Forced, f)
		}
		if v.Veto {
			d.Allowed = false
			d.Code = v.Code
			d.Reason = v.Reason
			d.Check = c.Name()
			if o != nil {
				p.log.Info("order vetoed",
					logger.StringField("account", st.AccountID),
					logger.StringField("order", o.String()),
					logger.StringField("check", c.Name()),
					logger.StringField("reason", v.Reason))
			}
			break
		}
	}
	if len(d.Forced) > 0 {
		p.log.Warn("forced actions",
			logger.StringField("account", st.AccountID),
			logger.IntField("count", len(d.Forced)))
	}
	return d
}
