package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Fill is the complete post-trade state of one account and ticker. A store
// applies it atomically.
type Fill struct {
	AccountID string
	Cash      decimal.Decimal
	// Position is the new holding; nil deletes it.
	Position *Position
	Ticker   string
	Trade    TradeRecord
}

// Store persists ledger state. Implementations must apply each write
// method atomically.
type Store interface {
	CreateAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	GetPosition(ctx context.Context, accountID, ticker string) (Position, bool, error)
	ListPositions(ctx context.Context, accountID string) ([]Position, error)
	UpdateMarks(ctx context.Context, accountID string, marks map[string]decimal.Decimal, at time.Time) error

	ApplyFill(ctx context.Context, f Fill) error
	ListTrades(ctx context.Context, accountID string, limit int) ([]TradeRecord, error)

	UpsertSnapshot(ctx context.Context, s EquitySnapshot) error
	ListSnapshots(ctx context.Context, accountID string, since time.Time) ([]EquitySnapshot, error)
	LatestSnapshotBefore(ctx context.Context, accountID string, day time.Time) (EquitySnapshot, bool, error)

	Close() error
}
