package ledger

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies (up) or reverts (down) the schema. It opens and closes
// its own connection so the caller's pool is left alone.
func Migrate(dialect Dialect, dsn string, direction string) error {
	db, err := openDB(dialect, dsn)
	if err != nil {
		return err
	}

	var driver database.Driver
	switch dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	}
	if err != nil {
		db.Close()
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer m.Close()

	switch direction {
	case "", "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("%w: unknown migration direction %q", ErrValidation, direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	return nil
}

func openDB(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectSQLite:
		db, err := sql.Open("sqlite3", sqliteDSN(dsn))
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return db, nil
	case DialectPostgres:
		return sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported dialect %q", ErrValidation, dialect)
	}
}
