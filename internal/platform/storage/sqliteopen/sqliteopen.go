// Package sqliteopen opens modernc SQLite databases with the pragmas and
// migrations every local store shares.
package sqliteopen

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/matt-davison/agent-quest/internal/platform/storage/sqlitemigrate"
	"github.com/matt-davison/agent-quest/internal/platform/timeouts"
	_ "modernc.org/sqlite"
)

// DSN returns the connection string for the database file at path.
func DSN(path string) string {
	busy := timeouts.SQLiteBusy.Milliseconds()
	return fmt.Sprintf(
		"%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		filepath.Clean(path), busy,
	)
}

// Open opens the database at path and applies the migrations in
// migrationFS.
func Open(ctx context.Context, path string, migrationFS fs.FS) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrationFS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}
