package ledger

import "context"

// Journal receives durable ledger events after they commit. Errors are
// logged by the ledger and never undo the mutation.
type Journal interface {
	RecordTrade(ctx context.Context, t TradeRecord) error
	RecordEquity(ctx context.Context, s EquitySnapshot) error
}

// NopJournal discards everything.
type NopJournal struct{}

func (NopJournal) RecordTrade(context.Context, TradeRecord) error { return nil }
func (NopJournal) RecordEquity(context.Context, EquitySnapshot) error { return nil }

// MultiJournal fans out to several journals, returning the first error.
type MultiJournal []Journal

func (m MultiJournal) RecordTrade(ctx context.Context, t TradeRecord) error {
	var first error
	for _, j := range m {
		if err := j.RecordTrade(ctx, t); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiJournal) RecordEquity(ctx context.Context, s EquitySnapshot) error {
	var first error
	for _, j := range m {
		if err := j.RecordEquity(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
