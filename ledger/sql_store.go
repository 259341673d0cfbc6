package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Dialect selects the SQL driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case "", DialectSQLite, "sqlite":
		return DialectSQLite, nil
	case DialectPostgres, "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: unsupported dialect %q", ErrValidation, s)
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_foreign_keys=on&_busy_timeout=5000"
}

const snapshotDateLayout = "2006-01-02"

// SQLStore is a Store on database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore migrates the schema and opens the store.
func OpenSQLStore(dialect Dialect, dsn string) (*SQLStore, error) {
	if err := Migrate(dialect, dsn, "up"); err != nil {
		return nil, err
	}
	db, err := openDB(dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// NewSQLite opens a SQLite-backed store at path.
func NewSQLite(path string) (*SQLStore, error) {
	return OpenSQLStore(DialectSQLite, path)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *SQLStore) CreateAccount(ctx context.Context, a Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM accounts WHERE id = ?`), a.ID).Scan(&one)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAccountExists, a.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO accounts (id, cash, initial_capital, allow_short, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		a.ID, a.Cash, a.InitialCapital, a.AllowShort, nanos(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.ID, err)
	}
	return tx.Commit()
}

func (s *SQLStore) getAccount(ctx context.Context, q queryer, id string) (Account, error) {
	var (
		a       Account
		created int64
	)
	err := q.QueryRowContext(ctx, s.rebind(`
		SELECT id, cash, initial_capital, allow_short, created_at
		FROM accounts WHERE id = ?`), id,
	).Scan(&a.ID, &a.Cash, &a.InitialCapital, &a.AllowShort, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	if err != nil {
		return Account{}, err
	}
	a.CreatedAt = fromNanos(created)
	return a, nil
}

func (s *SQLStore) GetAccount(ctx context.Context, id string) (Account, error) {
	return s.getAccount(ctx, s.db, id)
}

func (s *SQLStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cash, initial_capital, allow_short, created_at
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var (
			a       Account
			created int64
		)
		if err := rows.Scan(&a.ID, &a.Cash, &a.InitialCapital, &a.AllowShort, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = fromNanos(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

const positionCols = `account_id, ticker, quantity, avg_entry_price, mark_price, opened_at, updated_at`

func scanPosition(sc interface{ Scan(...any) error }) (Position, error) {
	var (
		p                 Position
		opened, updatedAt int64
	)
	if err := sc.Scan(&p.AccountID, &p.Ticker, &p.Quantity, &p.AvgEntryPrice, &p.MarkPrice, &opened, &updatedAt); err != nil {
		return Position{}, err
	}
	p.OpenedAt = fromNanos(opened)
	p.UpdatedAt = fromNanos(updatedAt)
	return p, nil
}

func (s *SQLStore) GetPosition(ctx context.Context, accountID, ticker string) (Position, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+positionCols+` FROM positions
		WHERE account_id = ? AND ticker = ?`), accountID, ticker)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, err
	}
	return p, true, nil
}

func (s *SQLStore) ListPositions(ctx context.Context, accountID string) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+positionCols+` FROM positions
		WHERE account_id = ? ORDER BY ticker`), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateMarks(ctx context.Context, accountID string, marks map[string]decimal.Decimal, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := s.rebind(`UPDATE positions SET mark_price = ?, updated_at = ? WHERE account_id = ? AND ticker = ?`)
	for ticker, px := range marks {
		if _, err := tx.ExecContext(ctx, q, px, nanos(at), accountID, ticker); err != nil {
			return fmt.Errorf("mark %s/%s: %w", accountID, ticker, err)
		}
	}
	return tx.Commit()
}

// ApplyFill writes the new cash balance, the position change and the trade
// in one transaction.
func (s *SQLStore) ApplyFill(ctx context.Context, f Fill) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE accounts SET cash = ? WHERE id = ?`), f.Cash, f.AccountID)
	if err != nil {
		return fmt.Errorf("update cash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, f.AccountID)
	}

	if f.Position == nil {
		_, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM positions WHERE account_id = ? AND ticker = ?`), f.AccountID, f.Ticker)
	} else {
		p := f.Position
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO positions (`+positionCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (account_id, ticker) DO UPDATE SET
				quantity = excluded.quantity,
				avg_entry_price = excluded.avg_entry_price,
				mark_price = excluded.mark_price,
				opened_at = excluded.opened_at,
				updated_at = excluded.updated_at`),
			p.AccountID, p.Ticker, p.Quantity, p.AvgEntryPrice, p.MarkPrice, nanos(p.OpenedAt), nanos(p.UpdatedAt),
		)
	}
	if err != nil {
		return fmt.Errorf("write position: %w", err)
	}

	t := f.Trade
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO trades
		(id, ts, account_id, ticker, side, quantity, price, fee, entry_price, realized_pnl, strategy_tag, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, nanos(t.Timestamp), t.AccountID, t.Ticker, string(t.Side), t.Quantity,
		t.Price, t.Fee, t.EntryPrice, t.RealizedPnL, t.StrategyTag, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) ListTrades(ctx context.Context, accountID string, limit int) ([]TradeRecord, error) {
	q := `
		SELECT id, ts, account_id, ticker, side, quantity, price, fee, entry_price, realized_pnl, strategy_tag, reason
		FROM trades WHERE account_id = ?
		ORDER BY ts DESC, id DESC`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			t    TradeRecord
			ts   int64
			side string
		)
		if err := rows.Scan(&t.ID, &ts, &t.AccountID, &t.Ticker, &side, &t.Quantity,
			&t.Price, &t.Fee, &t.EntryPrice, &t.RealizedPnL, &t.StrategyTag, &t.Reason); err != nil {
			return nil, err
		}
		t.Timestamp = fromNanos(ts)
		t.Side = Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertSnapshot(ctx context.Context, e EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO equity_snapshots
		(account_id, snapshot_date, total_equity, cash, invested, unrealized_pnl)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, snapshot_date) DO UPDATE SET
			total_equity = excluded.total_equity,
			cash = excluded.cash,
			invested = excluded.invested,
			unrealized_pnl = excluded.unrealized_pnl`),
		e.AccountID, e.Date.UTC().Format(snapshotDateLayout), e.TotalEquity, e.Cash, e.Invested, e.UnrealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", e.AccountID, err)
	}
	return nil
}

const snapshotCols = `account_id, snapshot_date, total_equity, cash, invested, unrealized_pnl`

func scanSnapshot(sc interface{ Scan(...any) error }) (EquitySnapshot, error) {
	var (
		e    EquitySnapshot
		date string
	)
	if err := sc.Scan(&e.AccountID, &date, &e.TotalEquity, &e.Cash, &e.Invested, &e.UnrealizedPnL); err != nil {
		return EquitySnapshot{}, err
	}
	d, err := time.Parse(snapshotDateLayout, date)
	if err != nil {
		return EquitySnapshot{}, fmt.Errorf("bad snapshot date %q: %w", date, err)
	}
	e.Date = d
	return e, nil
}

func (s *SQLStore) ListSnapshots(ctx context.Context, accountID string, since time.Time) ([]EquitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+snapshotCols+` FROM equity_snapshots
		WHERE account_id = ? AND snapshot_date >= ?
		ORDER BY snapshot_date`), accountID, since.UTC().Format(snapshotDateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		e, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) LatestSnapshotBefore(ctx context.Context, accountID string, day time.Time) (EquitySnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+snapshotCols+` FROM equity_snapshots
		WHERE account_id = ? AND snapshot_date < ?
		ORDER BY snapshot_date DESC LIMIT 1`), accountID, day.UTC().Format(snapshotDateLayout))
	e, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return EquitySnapshot{}, false, nil
	}
	if err != nil {
		return EquitySnapshot{}, false, err
	}
	return e, true, nil
}
