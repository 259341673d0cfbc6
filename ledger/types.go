package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func ParseSide(s string) (Side, error) {
	switch v := Side(strings.ToUpper(strings.TrimSpace(s))); v {
	case Buy, Sell:
		return v, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrValidation, s)
	}
}

// Account is a single capital pool.
type Account struct {
	ID             string          `json:"id"`
	Cash           decimal.Decimal `json:"cash"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	AllowShort     bool            `json:"allow_short"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Position is the holding of one ticker in one account. Quantity is
// negative for a short.
type Position struct {
	AccountID     string          `json:"account_id"`
	Ticker        string          `json:"ticker"`
	Quantity      int64           `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarketValue is quantity times mark; negative for shorts.
func (p Position) MarketValue() decimal.Decimal {
	return p.MarkPrice.Mul(decimal.NewFromInt(p.Quantity))
}

func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.MarkPrice.Sub(p.AvgEntryPrice).Mul(decimal.NewFromInt(p.Quantity))
}

func (p Position) IsShort() bool { return p.Quantity < 0 }

// Order is a request to mutate the ledger.
type Order struct {
	AccountID   string          `json:"account_id"`
	Ticker      string          `json:"ticker"`
	Side        Side            `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	StrategyTag string          `json:"strategy_tag,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

func (o Order) String() string {
	return fmt.Sprintf("%s %d %s @ %s", o.Side, o.Quantity, o.Ticker, o.Price.String())
}

// TradeRecord is an append-only record of an executed fill. RealizedPnL is
// set only on fills that reduce or close a position, in which case
// EntryPrice holds the average entry that the fill closed against.
type TradeRecord struct {
	ID          string              `json:"id"`
	Timestamp   time.Time           `json:"timestamp"`
	AccountID   string              `json:"account_id"`
	Ticker      string              `json:"ticker"`
	Side        Side                `json:"side"`
	Quantity    int64               `json:"quantity"`
	Price       decimal.Decimal     `json:"price"`
	Fee         decimal.Decimal     `json:"fee"`
	EntryPrice  decimal.Decimal     `json:"entry_price"`
	RealizedPnL decimal.NullDecimal `json:"realized_pnl"`
	StrategyTag string              `json:"strategy_tag,omitempty"`
	Reason      string              `json:"reason,omitempty"`
}

// Return is the realized fractional return of a closing fill.
func (t TradeRecord) Return() (float64, bool) {
	if !t.RealizedPnL.Valid {
		return 0, false
	}
	basis := t.EntryPrice.Mul(decimal.NewFromInt(t.Quantity))
	if !basis.IsPositive() {
		return 0, false
	}
	return t.RealizedPnL.Decimal.Div(basis).InexactFloat64(), true
}

// EquitySnapshot is the end-of-day valuation of an account.
type EquitySnapshot struct {
	AccountID     string          `json:"account_id"`
	Date          time.Time       `json:"date"`
	TotalEquity   decimal.Decimal `json:"total_equity"`
	Cash          decimal.Decimal `json:"cash"`
	Invested      decimal.Decimal `json:"invested"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Balance is derived from cash and positions on demand.
type Balance struct {
	AccountID     string          `json:"account_id"`
	Cash          decimal.Decimal `json:"cash"`
	TotalEquity   decimal.Decimal `json:"total_equity"`
	Invested      decimal.Decimal `json:"invested"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

func balanceOf(acct Account, positions []Position) Balance {
	b := Balance{AccountID: acct.ID, Cash: acct.Cash}
	for _, p := range positions {
		b.Invested = b.Invested.Add(p.MarketValue())
		b.UnrealizedPnL = b.UnrealizedPnL.Add(p.UnrealizedPnL())
	}
	b.TotalEquity = b.Cash.Add(b.Invested)
	return b
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
