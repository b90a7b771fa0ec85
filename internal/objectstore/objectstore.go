// Package objectstore defines the versioned object store the remote mailbox
// is built on: named refs (branches) holding files, read by ref and written
// with an expected version token.
//
// The contract mirrors what a git hosting API offers. There is no locking and
// no push notification; the expected-version check on Put is the only
// concurrency control.
package objectstore

import (
	"context"
	"errors"
	"strings"
)

// DefaultBaseRef is the ref new refs fork from when no base is given.
const DefaultBaseRef = "main"

var (
	// ErrNotFound indicates the file is absent on the ref.
	ErrNotFound = errors.New("object not found")
	// ErrRefNotFound indicates the ref itself does not exist.
	ErrRefNotFound = errors.New("ref not found")
	// ErrVersionMismatch indicates a conditional write lost a race.
	ErrVersionMismatch = errors.New("object version mismatch")
)

// Ref is one named ref and the opaque token of its current tip.
type Ref struct {
	Name string
	Tip  string
}

// Object is file content plus the version token a later Put must present.
type Object struct {
	Content []byte
	Version string
}

// Store is the persistence boundary for refs and files.
type Store interface {
	// EnsureRef creates ref from baseRef's tip when ref is absent. It reports
	// whether the ref was created by this call.
	EnsureRef(ctx context.Context, ref, baseRef string) (bool, error)
	// Get reads path on ref. Absence returns ErrNotFound or ErrRefNotFound.
	Get(ctx context.Context, ref, path string) (Object, error)
	// Put replaces path on ref when its current version equals
	// expectedVersion. An empty expectedVersion means the file must not
	// exist yet. It returns the new version.
	Put(ctx context.Context, ref, path string, content []byte, expectedVersion, message string) (string, error)
	// ListRefs returns refs whose name starts with prefix, sorted by name.
	ListRefs(ctx context.Context, prefix string) ([]Ref, error)
	// DeleteRef removes ref and its files. Absent refs are not an error.
	DeleteRef(ctx context.Context, ref string) error
	// Close releases backend resources.
	Close() error
}

// NormalizeRef trims whitespace, a leading refs/heads/ and surrounding
// slashes from ref.
func NormalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "refs/heads/")
	return strings.Trim(ref, "/")
}

// NormalizePath trims whitespace and surrounding slashes from a file path.
func NormalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// IsAbsent reports whether err means "nothing there yet".
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRefNotFound)
}
