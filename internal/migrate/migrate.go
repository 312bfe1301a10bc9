package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"soulcrush/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect maps a database/sql driver name onto the goose dialect.
func Dialect(driver string) (string, error) {
	switch driver {
	case config.DriverSQLite:
		return "sqlite3", nil
	case config.DriverPostgres:
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}

// Run applies all pending migrations using goose. It opens and closes its
// own DB handle so it is independent of the app store.
func Run(driver, dsn string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	return Apply(context.Background(), db, driver)
}

// Apply runs the embedded migrations against an already open handle.
// Tests use it with in-memory sqlite databases that would vanish if a
// second handle were opened.
func Apply(ctx context.Context, db *sql.DB, driver string) error {
	dialect, err := Dialect(driver)
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	goose.SetLogger(goose.NopLogger())

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}
