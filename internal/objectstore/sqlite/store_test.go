package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/matt-davison/agent-quest/internal/objectstore"
	"github.com/matt-davison/agent-quest/internal/objectstore/storetest"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) objectstore.Store {
		return openTempStore(t)
	})
}

func TestEnsureRefCopiesBaseFiles(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, objectstore.DefaultBaseRef, "README.md", []byte("hello"), "", "seed"); err != nil {
		t.Fatalf("seed base: %v", err)
	}
	if _, err := store.EnsureRef(ctx, "session/s1/state", ""); err != nil {
		t.Fatalf("ensure ref: %v", err)
	}
	obj, err := store.Get(ctx, "session/s1/state", "README.md")
	if err != nil {
		t.Fatalf("get forked file: %v", err)
	}
	if string(obj.Content) != "hello" {
		t.Fatalf("expected forked content, got %q", obj.Content)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "objects.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := first.EnsureRef(ctx, "inbox/alice", ""); err != nil {
		t.Fatalf("ensure ref: %v", err)
	}
	version, err := first.Put(ctx, "inbox/alice", "notifications.yaml", []byte("player: alice\n"), "", "init")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	obj, err := second.Get(ctx, "inbox/alice", "notifications.yaml")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if obj.Version != version {
		t.Fatalf("expected version %q, got %q", version, obj.Version)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "objects.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
