package coordinator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/risk"
	"github.com/rustyeddy/riskledger/sizing"
)

// Personality is one isolated account and its preferences.
type Personality struct {
	ID             string          `json:"id" yaml:"id" mapstructure:"id"`
	InitialCapital decimal.Decimal `json:"initial_capital" yaml:"initial_capital" mapstructure:"initial_capital"`
	AllowShort     bool            `json:"allow_short" yaml:"allow_short" mapstructure:"allow_short"`
	Params         risk.Params     `json:"params" yaml:"params" mapstructure:"params"`
	Sizer          sizing.Sizer    `json:"sizer" yaml:"sizer" mapstructure:"sizer"`
}

// Outcome statuses.
const (
	StatusExecuted = "executed"
	StatusRejected = "rejected"
	StatusSkipped  = "skipped"
)

// Outcome sources.
const (
	SourceSignal = "signal"
	SourceStop   = "stop"
	SourceForced = "forced"
)

// Outcome is what happened to one order in a cycle.
type Outcome struct {
	AccountID string          `json:"account_id"`
	Ticker    string          `json:"ticker"`
	Side      ledger.Side     `json:"side,omitempty"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
	Source    string          `json:"source"`
	Code      string          `json:"code,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	TradeID   string          `json:"trade_id,omitempty"`
}

// AccountReport is one account's slice of a cycle.
type AccountReport struct {
	AccountID string         `json:"account_id"`
	Outcomes  []Outcome      `json:"outcomes"`
	Balance   ledger.Balance `json:"balance"`
}

// CycleReport summarizes RunCycle.
type CycleReport struct {
	CycleID  string          `json:"cycle_id"`
	At       time.Time       `json:"at"`
	Accounts []AccountReport `json:"accounts"`
}

// Standing is one leaderboard row.
type Standing struct {
	AccountID   string          `json:"account_id"`
	TotalEquity decimal.Decimal `json:"total_equity"`
	DailyPnL    decimal.Decimal `json:"daily_pnl"`
	Rank        int             `json:"rank"`
}

// DecisionEvent records a risk decision that vetoed a candidate or forced
// orders.
type DecisionEvent struct {
	CycleID   string        `json:"cycle_id"`
	AccountID string        `json:"account_id"`
	At        time.Time     `json:"at"`
	Candidate *ledger.Order `json:"candidate,omitempty"`
	Decision  risk.Decision `json:"decision"`
}

// Sink receives coordinator events.
type Sink interface {
	PublishDecision(ctx context.Context, e DecisionEvent) error
	PublishLeaderboard(ctx context.Context, at time.Time, standings []Standing) error
}

type nopSink struct{}

func (nopSink) PublishDecision(context.Context, DecisionEvent) error { return nil }

func (nopSink) PublishLeaderboard(context.Context, time.Time, []Standing) error { return nil }
