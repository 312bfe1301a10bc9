// Package storetest opens migrated in-memory sqlite stores for tests.
package storetest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"soulcrush/internal/config"
	"soulcrush/internal/migrate"
	"soulcrush/internal/store"
)

var seq atomic.Int64

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New returns a Store backed by a private in-memory sqlite database with
// the schema applied. The store clock advances one millisecond per call
// so insertion order equals date order.
func New(t testing.TB) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:storetest_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", seq.Add(1))
	db, err := sqlx.Open(config.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := migrate.Apply(context.Background(), db.DB, config.DriverSQLite); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st := store.New(db, DiscardLogger())
	st.Now = SteppingClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), time.Millisecond)
	return st
}

// SteppingClock returns a clock that starts at start and advances by step
// on every call.
func SteppingClock(start time.Time, step time.Duration) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)-1) * step)
	}
}

// FixedIDs returns an id generator that yields ids in order and then
// falls back to random ids.
func FixedIDs(ids ...uuid.UUID) func() uuid.UUID {
	var n atomic.Int64
	return func() uuid.UUID {
		i := int(n.Add(1) - 1)
		if i < len(ids) {
			return ids[i]
		}
		return uuid.New()
	}
}
