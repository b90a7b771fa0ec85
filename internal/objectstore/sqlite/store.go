// Package sqlite provides a SQLite-backed object store so processes sharing a
// disk can rendezvous without a hosted repository.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matt-davison/agent-quest/internal/objectstore"
	"github.com/matt-davison/agent-quest/internal/objectstore/sqlite/migrations"
	"github.com/matt-davison/agent-quest/internal/platform/storage/sqliteopen"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists refs and files in SQLite.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

// Open opens a SQLite object store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqliteopen.Open(ctx, path, migrations.FS)
	if err != nil {
		return nil, err
	}
	return &Store{sqlDB: sqlDB, clock: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// EnsureRef creates name from baseRef's files when name is absent.
func (s *Store) EnsureRef(ctx context.Context, name, baseRef string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name = objectstore.NormalizeRef(name)
	if name == "" {
		return false, fmt.Errorf("ref name is required")
	}
	baseRef = objectstore.NormalizeRef(baseRef)
	if baseRef == "" {
		baseRef = objectstore.DefaultBaseRef
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin ensure ref: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := refExists(ctx, tx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	var tip int64
	err = tx.QueryRowContext(ctx, `SELECT tip FROM refs WHERE name = ?`, baseRef).Scan(&tip)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("base %s: %w", baseRef, objectstore.ErrRefNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("read base ref: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO refs (name, tip) VALUES (?, ?)`, name, tip); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert ref: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO files (ref, path, content, version)
		 SELECT ?, path, content, version FROM files WHERE ref = ?`,
		name, baseRef,
	); err != nil {
		return false, fmt.Errorf("copy base files: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ensure ref: %w", err)
	}
	return true, nil
}

// Get reads one file.
func (s *Store) Get(ctx context.Context, name, path string) (objectstore.Object, error) {
	if err := ctx.Err(); err != nil {
		return objectstore.Object{}, err
	}
	name = objectstore.NormalizeRef(name)
	path = objectstore.NormalizePath(path)

	var (
		content []byte
		version int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT content, version FROM files WHERE ref = ? AND path = ?`, name, path,
	).Scan(&content, &version)
	if errors.Is(err, sql.ErrNoRows) {
		exists, existsErr := refExists(ctx, s.sqlDB, name)
		if existsErr != nil {
			return objectstore.Object{}, existsErr
		}
		if !exists {
			return objectstore.Object{}, objectstore.ErrRefNotFound
		}
		return objectstore.Object{}, objectstore.ErrNotFound
	}
	if err != nil {
		return objectstore.Object{}, fmt.Errorf("get file: %w", err)
	}
	return objectstore.Object{Content: content, Version: strconv.FormatInt(version, 10)}, nil
}

// Put writes one file when expectedVersion matches the stored version.
func (s *Store) Put(ctx context.Context, name, path string, content []byte, expectedVersion, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = objectstore.NormalizeRef(name)
	path = objectstore.NormalizePath(path)
	if path == "" {
		return "", fmt.Errorf("file path is required")
	}
	var expected int64
	if expectedVersion != "" {
		parsed, err := strconv.ParseInt(expectedVersion, 10, 64)
		if err != nil {
			return "", objectstore.ErrVersionMismatch
		}
		expected = parsed
	}
	if content == nil {
		content = []byte{}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := refExists(ctx, tx, name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", objectstore.ErrRefNotFound
	}

	result, err := tx.ExecContext(ctx, `INSERT INTO versions (created_at) VALUES (?)`, s.clock().UTC().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("allocate version: %w", err)
	}
	version, err := result.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("allocate version: %w", err)
	}

	if expectedVersion == "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO files (ref, path, content, version) VALUES (?, ?, ?, ?)`,
			name, path, content, version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return "", objectstore.ErrVersionMismatch
			}
			return "", fmt.Errorf("insert file: %w", err)
		}
	} else {
		result, err = tx.ExecContext(ctx,
			`UPDATE files SET content = ?, version = ? WHERE ref = ? AND path = ? AND version = ?`,
			content, version, name, path, expected,
		)
		if err != nil {
			return "", fmt.Errorf("update file: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("update file: %w", err)
		}
		if affected == 0 {
			return "", objectstore.ErrVersionMismatch
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE refs SET tip = ? WHERE name = ?`, version, name); err != nil {
		return "", fmt.Errorf("advance ref tip: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit put: %w", err)
	}
	return strconv.FormatInt(version, 10), nil
}

// ListRefs returns refs whose name starts with prefix.
func (s *Store) ListRefs(ctx context.Context, prefix string) ([]objectstore.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "refs/heads/")
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT name, tip FROM refs WHERE substr(name, 1, ?) = ? ORDER BY name`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	defer rows.Close()

	var out []objectstore.Ref
	for rows.Next() {
		var (
			name string
			tip  int64
		)
		if err := rows.Scan(&name, &tip); err != nil {
			return nil, fmt.Errorf("scan ref: %w", err)
		}
		out = append(out, objectstore.Ref{Name: name, Tip: strconv.FormatInt(tip, 10)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return out, nil
}

// DeleteRef removes a ref and its files.
func (s *Store) DeleteRef(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = objectstore.NormalizeRef(name)
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete ref: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE ref = ?`, name); err != nil {
		return fmt.Errorf("delete files: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM refs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete ref: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete ref: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func refExists(ctx context.Context, q queryer, name string) (bool, error) {
	var found int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM refs WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check ref: %w", err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ objectstore.Store = (*Store)(nil)
