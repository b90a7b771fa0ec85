// Package memory provides an in-process object store for tests and
// single-process sessions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/matt-davison/agent-quest/internal/objectstore"
)

type file struct {
	content []byte
	version uint64
}

type ref struct {
	tip   uint64
	files map[string]file
}

// Store keeps refs and files in maps guarded by one mutex.
type Store struct {
	mu      sync.Mutex
	counter uint64
	refs    map[string]*ref
}

// New returns a store holding only the default base ref.
func New() *Store {
	return &Store{
		refs: map[string]*ref{
			objectstore.DefaultBaseRef: {files: map[string]file{}},
		},
	}
}

func (s *Store) next() uint64 {
	s.counter++
	return s.counter
}

// EnsureRef creates ref as a copy of baseRef when it is absent.
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[name]; ok {
		return false, nil
	}
	base, ok := s.refs[baseRef]
	if !ok {
		return false, fmt.Errorf("base %s: %w", baseRef, objectstore.ErrRefNotFound)
	}
	files := make(map[string]file, len(base.files))
	for path, f := range base.files {
		files[path] = f
	}
	s.refs[name] = &ref{tip: base.tip, files: files}
	return true, nil
}

// Get reads one file.
func (s *Store) Get(ctx context.Context, name, path string) (objectstore.Object, error) {
	if err := ctx.Err(); err != nil {
		return objectstore.Object{}, err
	}
	name = objectstore.NormalizeRef(name)
	path = objectstore.NormalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refs[name]
	if !ok {
		return objectstore.Object{}, objectstore.ErrRefNotFound
	}
	f, ok := r.files[path]
	if !ok {
		return objectstore.Object{}, objectstore.ErrNotFound
	}
	content := make([]byte, len(f.content))
	copy(content, f.content)
	return objectstore.Object{Content: content, Version: strconv.FormatUint(f.version, 10)}, nil
}

// Put writes one file when expectedVersion matches.
func (s *Store) Put(ctx context.Context, name, path string, content []byte, expectedVersion, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = objectstore.NormalizeRef(name)
	path = objectstore.NormalizePath(path)
	if path == "" {
		return "", fmt.Errorf("file path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refs[name]
	if !ok {
		return "", objectstore.ErrRefNotFound
	}
	current, exists := r.files[path]
	switch {
	case expectedVersion == "" && exists:
		return "", objectstore.ErrVersionMismatch
	case expectedVersion != "" && (!exists || strconv.FormatUint(current.version, 10) != expectedVersion):
		return "", objectstore.ErrVersionMismatch
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	version := s.next()
	r.files[path] = file{content: stored, version: version}
	r.tip = version
	return strconv.FormatUint(version, 10), nil
}

// ListRefs returns refs with the given name prefix.
func (s *Store) ListRefs(ctx context.Context, prefix string) ([]objectstore.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "refs/heads/")

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []objectstore.Ref
	for name, r := range s.refs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, objectstore.Ref{Name: name, Tip: strconv.FormatUint(r.tip, 10)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteRef drops ref and its files.
func (s *Store) DeleteRef(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, objectstore.NormalizeRef(name))
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
