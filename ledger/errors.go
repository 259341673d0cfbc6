package ledger

import "errors"

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrUnknownAccount     = errors.New("unknown account")
	ErrUnknownTicker      = errors.New("unknown ticker")
	ErrValidation         = errors.New("validation failed")
	ErrAccountExists      = errors.New("account already exists")
)

// IsRejection reports whether err is a business rejection of an order, as
// opposed to a storage or programming failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientShares) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownTicker)
}
