package risk

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/riskledger/ledger"
)

// ErrInvalidParams rejects a guidance push. It wraps ledger.ErrValidation.
var ErrInvalidParams = fmt.Errorf("invalid risk params: %w", ledger.ErrValidation)

// Params is the per-account risk policy. Percent fields are in percent
// units, so -3.0 means a 3% loss.
type Params struct {
	MaxDailyLossPct        float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct" mapstructure:"max_daily_loss_pct"`
	MaxPositionSizePct     float64 `json:"max_position_size_pct" yaml:"max_position_size_pct" mapstructure:"max_position_size_pct"`
	MaxCorrelation         float64 `json:"max_correlation" yaml:"max_correlation" mapstructure:"max_correlation"`
	MarketCrashThreshold   float64 `json:"market_crash_threshold" yaml:"market_crash_threshold" mapstructure:"market_crash_threshold"`
	MaxSectorExposure      float64 `json:"max_sector_exposure" yaml:"max_sector_exposure" mapstructure:"max_sector_exposure"`
	DeteriorationThreshold float64 `json:"deterioration_threshold" yaml:"deterioration_threshold" mapstructure:"deterioration_threshold"`
}

func DefaultParams() Params {
	return Params{
		MaxDailyLossPct:        -3.0,
		MaxPositionSizePct:     10.0,
		MaxCorrelation:         0.7,
		MarketCrashThreshold:   -3.0,
		MaxSectorExposure:      0.4,
		DeteriorationThreshold: -2.0,
	}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate checks the whole set.
func (p Params) Validate() error {
	switch {
	case !finite(p.MaxDailyLossPct, p.MaxPositionSizePct, p.MaxCorrelation,
		p.MarketCrashThreshold, p.MaxSectorExposure, p.DeteriorationThreshold):
		return fmt.Errorf("%w: non-finite value", ErrInvalidParams)
	case p.MaxDailyLossPct >= 0 || p.MaxDailyLossPct < -100:
		return fmt.Errorf("%w: max_daily_loss_pct must be in [-100,0), got %v", ErrInvalidParams, p.MaxDailyLossPct)
	case p.MaxPositionSizePct <= 0 || p.MaxPositionSizePct > 100:
		return fmt.Errorf("%w: max_position_size_pct must be in (0,100], got %v", ErrInvalidParams, p.MaxPositionSizePct)
	case p.MaxCorrelation <= 0 || p.MaxCorrelation > 1:
		return fmt.Errorf("%w: max_correlation must be in (0,1], got %v", ErrInvalidParams, p.MaxCorrelation)
	case p.MarketCrashThreshold >= 0:
		return fmt.Errorf("%w: market_crash_threshold must be negative, got %v", ErrInvalidParams, p.MarketCrashThreshold)
	case p.MaxSectorExposure <= 0 || p.MaxSectorExposure > 1:
		return fmt.Errorf("%w: max_sector_exposure must be in (0,1], got %v", ErrInvalidParams, p.MaxSectorExposure)
	case p.DeteriorationThreshold >= 0:
		return fmt.Errorf("%w: deterioration_threshold must be negative, got %v", ErrInvalidParams, p.DeteriorationThreshold)
	}
	return nil
}

// Versioned is an immutable snapshot of Params.
type Versioned struct {
	Params    Params    `json:"params"`
	Version   int64     `json:"version"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Policy holds the current Params for one account. Readers never see a
// partially applied update.
type Policy struct {
	cur   atomic.Pointer[Versioned]
	clock func() time.Time
}

func NewPolicy(p Params) (*Policy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	pol := &Policy{clock: time.Now}
	pol.cur.Store(&Versioned{Params: p, Version: 1, Source: "config", UpdatedAt: pol.clock().UTC()})
	return pol, nil
}

func (p *Policy) Current() Versioned {
	return *p.cur.Load()
}

func (p *Policy) Params() Params {
	return p.cur.Load().Params
}

// Replace swaps in a complete new parameter set. Invalid sets leave the
// current one in place.
func (p *Policy) Replace(params Params, source string) (Versioned, error) {
	if err := params.Validate(); err != nil {
		return Versioned{}, err
	}
	for {
		old := p.cur.Load()
		next := &Versioned{
			Params:    params,
			Version:   old.Version + 1,
			Source:    source,
			UpdatedAt: p.clock().UTC(),
		}
		if p.cur.CompareAndSwap(old, next) {
			return *next, nil
		}
	}
}
