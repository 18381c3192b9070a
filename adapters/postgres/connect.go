package postgres

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to the result store. driver is "postgres" for a server
// database or "sqlite" for a local file (":memory:" for an ephemeral store).
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s store: %w", driver, err)
	}
	if driver == "sqlite" {
		// a single connection keeps ":memory:" databases shared and
		// serialises writers
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	log.Printf("[ResultStore] connected to %s in %.2fms", driver, float64(time.Since(start).Nanoseconds())/1e6)
	return db, nil
}
