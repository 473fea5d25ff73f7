package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// ConnectSQLite opens the embedded edge outbox database. WAL mode lets the
// sender agent read pending rows without blocking producer enqueues, and the
// busy timeout keeps short writer overlaps from surfacing as SQLITE_BUSY.
func ConnectSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox database: %w", err)
	}

	// The outbox has a single writer per table; one connection avoids
	// writer contention inside the process.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to ping outbox database: %w", err)
	}

	return db, nil
}
