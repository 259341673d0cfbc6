package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/portfolio"
)

// AccountState is what the checks know about one account.
type AccountState struct {
	AccountID string
	Balance   ledger.Balance
	Positions []ledger.Position

	// PreviousEquity is the latest snapshot before today; HasPrevious is
	// false on an account's first day.
	PreviousEquity decimal.Decimal
	HasPrevious    bool

	Params Params
}

// Position finds the holding for ticker.
func (s AccountState) Position(ticker string) (ledger.Position, bool) {
	for _, p := range s.Positions {
		if p.Ticker == ticker {
			return p, true
		}
	}
	return ledger.Position{}, false
}

// Holdings lists held tickers in ledger order.
func (s AccountState) Holdings() []string {
	out := make([]string, 0, len(s.Positions))
	for _, p := range s.Positions {
		out = append(out, p.Ticker)
	}
	return out
}

// ProxyChange is a broad-market proxy's day-over-day move. Err is set when
// the data could not be fetched.
type ProxyChange struct {
	Ticker    string  `json:"ticker"`
	ChangePct float64 `json:"change_pct"`
	Err       error   `json:"-"`
}

// MarketContext is pre-resolved market data for one cycle.
type MarketContext struct {
	Now         time.Time
	Prices      map[string]decimal.Decimal
	Proxies     []ProxyChange
	Forecasts   map[string]float64
	Correlation *portfolio.Matrix
	Sectors     map[string]string
}

// Price returns the context price for ticker.
func (m MarketContext) Price(ticker string) (decimal.Decimal, bool) {
	px, ok := m.Prices[ticker]
	return px, ok && px.IsPositive()
}

// increasesExposure reports whether o opens or extends a position, as
// opposed to reducing one.
func increasesExposure(st AccountState, o *ledger.Order) bool {
	if o == nil {
		return false
	}
	p, _ := st.Position(o.Ticker)
	if o.Side == ledger.Buy {
		return p.Quantity >= 0
	}
	return p.Quantity <= 0
}

// opensLong reports whether o adds long exposure.
func opensLong(st AccountState, o *ledger.Order) bool {
	return o != nil && o.Side == ledger.Buy && increasesExposure(st, o)
}
