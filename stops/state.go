// Package stops tracks a ratcheting trailing stop per open position.
package stops

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotTracked     = errors.New("stop not tracked")
	ErrAlreadyTracked = errors.New("stop already tracked")
	ErrInvalidPrice   = errors.New("invalid price")
)

// Status is the lifecycle of a stop: Untracked → Tracking → Exited.
type Status string

const (
	Untracked Status = "untracked"
	Tracking  Status = "tracking"
	Exited    Status = "exited"
)

// State is the stop for one (account, ticker) pair.
type State struct {
	AccountID    string    `json:"account_id"`
	Ticker       string    `json:"ticker"`
	EntryPrice   float64   `json:"entry_price"`
	HighestPrice float64   `json:"highest_price"`
	StopPrice    float64   `json:"stop_price"`
	Status       Status    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Exit is the result of CheckExit.
type Exit struct {
	ShouldExit bool    `json:"should_exit"`
	Reason     string  `json:"reason,omitempty"`
	StopPrice  float64 `json:"stop_price"`
}

// Store keeps stop states keyed by account and ticker.
type Store interface {
	Get(ctx context.Context, accountID, ticker string) (State, bool, error)
	Put(ctx context.Context, s State) error
	Delete(ctx context.Context, accountID, ticker string) error
	List(ctx context.Context, accountID string) ([]State, error)
}
