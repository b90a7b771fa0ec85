package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matt-davison/agent-quest/internal/cursor/migrations"
	"github.com/matt-davison/agent-quest/internal/platform/storage/sqliteopen"
)

var (
	// ErrEmptySessionID indicates a missing session id.
	ErrEmptySessionID = errors.New("session id is required")
	// ErrEmptyParticipantID indicates a missing participant id.
	ErrEmptyParticipantID = errors.New("participant id is required")
)

// Store persists cursors and loop counters in SQLite.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

// Open opens the cursor database at path and applies embedded migrations.
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

func (s *Store) now() int64 {
	return s.clock().UTC().UnixMilli()
}

// LastSeen returns the cursor for participant in session, or 0 when unset.
func (s *Store) LastSeen(ctx context.Context, sessionID, participantID string) (uint64, error) {
	sessionID, participantID, err := normalizeKey(sessionID, participantID)
	if err != nil {
		return 0, err
	}
	var seq int64
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT last_seq FROM cursors WHERE session_id = ? AND participant_id = ?`,
		sessionID, participantID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return uint64(seq), nil
}

// Advance moves the cursor to seq if seq is ahead of it. Lower values are
// ignored.
func (s *Store) Advance(ctx context.Context, sessionID, participantID string, seq uint64) error {
	sessionID, participantID, err := normalizeKey(sessionID, participantID)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO cursors (session_id, participant_id, last_seq, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, participant_id) DO UPDATE SET
		   last_seq = MAX(cursors.last_seq, excluded.last_seq),
		   updated_at = excluded.updated_at`,
		sessionID, participantID, int64(seq), s.now(),
	)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// LoopCount returns the idle loop counter for session.
func (s *Store) LoopCount(ctx context.Context, sessionID string) (int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, ErrEmptySessionID
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT count FROM loop_counters WHERE session_id = ?`, sessionID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get loop counter: %w", err)
	}
	return count, nil
}

// IncrementLoop adds one to the loop counter and returns the new value.
func (s *Store) IncrementLoop(ctx context.Context, sessionID string) (int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, ErrEmptySessionID
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO loop_counters (session_id, count, updated_at) VALUES (?, 1, ?)
		 ON CONFLICT (session_id) DO UPDATE SET
		   count = loop_counters.count + 1,
		   updated_at = excluded.updated_at
		 RETURNING count`,
		sessionID, s.now(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment loop counter: %w", err)
	}
	return count, nil
}

// ResetLoop sets the loop counter back to zero.
func (s *Store) ResetLoop(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrEmptySessionID
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO loop_counters (session_id, count, updated_at) VALUES (?, 0, ?)
		 ON CONFLICT (session_id) DO UPDATE SET count = 0, updated_at = excluded.updated_at`,
		sessionID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("reset loop counter: %w", err)
	}
	return nil
}

// DeleteSession drops every cursor and the loop counter of session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrEmptySessionID
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM cursors WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete cursors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM loop_counters WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete loop counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

func normalizeKey(sessionID, participantID string) (string, string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", "", ErrEmptySessionID
	}
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return "", "", ErrEmptyParticipantID
	}
	return sessionID, participantID, nil
}
