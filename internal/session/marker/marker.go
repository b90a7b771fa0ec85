// Package marker owns the local files that record which session this process
// is part of: the session mirror, the foreign dream marker and per-session
// scratch files.
package marker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/matt-davison/agent-quest/internal/session/domain"
)

// File names inside the state directory.
const (
	SessionFile = "session.json"
	DreamFile   = "dreaming.json"
)

// ErrNoSession indicates the mirror file does not exist.
var ErrNoSession = errors.New("no active session")

// Dir is a state directory.
type Dir struct {
	root string
}

// New returns a Dir rooted at root. The directory is created lazily on the
// first write.
func New(root string) (Dir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return Dir{}, errors.New("state dir is required")
	}
	return Dir{root: filepath.Clean(root)}, nil
}

// Root returns the state directory path.
func (d Dir) Root() string {
	return d.root
}

// Path joins name onto the state directory.
func (d Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

// OutboxPath is the scratch outbox for a session.
func (d Dir) OutboxPath(sessionID string) string {
	return d.Path("outbox-" + sessionID + ".yaml")
}

// StatePath is the scratch turn-state file for a session.
func (d Dir) StatePath(sessionID string) string {
	return d.Path("state-" + sessionID + ".yaml")
}

// CursorDBPath is the cursor database.
func (d Dir) CursorDBPath() string {
	return d.Path("cursors.db")
}

// Load reads the session mirror.
func (d Dir) Load() (domain.Session, error) {
	data, err := os.ReadFile(d.Path(SessionFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Session{}, ErrNoSession
		}
		return domain.Session{}, fmt.Errorf("read session mirror: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session mirror: %w", err)
	}
	session.Refresh()
	return session, nil
}

// Exists reports whether a session mirror is present.
func (d Dir) Exists() bool {
	_, err := os.Stat(d.Path(SessionFile))
	return err == nil
}

// Save writes the mirror atomically.
func (d Dir) Save(session domain.Session) error {
	session.Refresh()
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session mirror: %w", err)
	}
	return d.WriteFile(SessionFile, append(data, '\n'))
}

// Remove deletes the mirror. A missing mirror is not an error.
func (d Dir) Remove() error {
	if err := os.Remove(d.Path(SessionFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session mirror: %w", err)
	}
	return nil
}

// Dreaming reports whether the autopilot loop holds its marker.
func (d Dir) Dreaming() bool {
	_, err := os.Stat(d.Path(DreamFile))
	return err == nil
}

// WriteFile replaces name in the state directory through a temp file and
// rename so readers never see a partial file.
func (d Dir) WriteFile(name string, data []byte) error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(d.root, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), d.Path(name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// ReadFile reads name from the state directory. Missing files report false.
func (d Dir) ReadFile(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// RemoveScratch deletes every file in the state directory whose name
// contains the session id, and returns the removed names.
func (d Dir) RemoveScratch(sessionID string) ([]string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list state dir: %w", err)
	}
	var removed []string
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), sessionID) {
			continue
		}
		if err := os.Remove(d.Path(entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, entry.Name())
	}
	return removed, errors.Join(errs...)
}
