// Package storetest holds the behavioral suite every objectstore backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/matt-davison/agent-quest/internal/objectstore"
)

// Factory returns a fresh, empty store whose default base ref exists.
type Factory func(t *testing.T) objectstore.Store

// Run executes the shared suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get on missing ref", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), "session/x/manifest", "session.yaml")
		if !errors.Is(err, objectstore.ErrRefNotFound) {
			t.Fatalf("expected ErrRefNotFound, got %v", err)
		}
	})

	t.Run("ensure ref is idempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		created, err := store.EnsureRef(ctx, "inbox/alice", objectstore.DefaultBaseRef)
		if err != nil {
			t.Fatalf("ensure ref: %v", err)
		}
		if !created {
			t.Fatal("expected first ensure to create the ref")
		}
		created, err = store.EnsureRef(ctx, "inbox/alice", objectstore.DefaultBaseRef)
		if err != nil {
			t.Fatalf("ensure ref again: %v", err)
		}
		if created {
			t.Fatal("expected second ensure to be a no-op")
		}
	})

	t.Run("ensure ref with missing base", func(t *testing.T) {
		store := newStore(t)
		_, err := store.EnsureRef(context.Background(), "inbox/alice", "no-such-base")
		if !errors.Is(err, objectstore.ErrRefNotFound) {
			t.Fatalf("expected ErrRefNotFound, got %v", err)
		}
	})

	t.Run("get on missing file", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		mustEnsure(t, store, "inbox/alice")
		_, err := store.Get(ctx, "inbox/alice", "notifications.yaml")
		if !errors.Is(err, objectstore.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if !objectstore.IsAbsent(err) {
			t.Fatal("expected absence to be reported by IsAbsent")
		}
	})

	t.Run("create then conditional replace", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		mustEnsure(t, store, "session/s1/state")

		v1, err := store.Put(ctx, "session/s1/state", "state.yaml", []byte("version: 0\n"), "", "init state")
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		obj, err := store.Get(ctx, "session/s1/state", "state.yaml")
		if err != nil {
			t.Fatalf("get file: %v", err)
		}
		if string(obj.Content) != "version: 0\n" {
			t.Fatalf("expected stored content, got %q", obj.Content)
		}
		if obj.Version != v1 {
			t.Fatalf("expected version %q, got %q", v1, obj.Version)
		}

		v2, err := store.Put(ctx, "session/s1/state", "state.yaml", []byte("version: 1\n"), v1, "bump")
		if err != nil {
			t.Fatalf("replace file: %v", err)
		}
		if v2 == v1 {
			t.Fatal("expected a new version after replace")
		}
		obj, err = store.Get(ctx, "session/s1/state", "state.yaml")
		if err != nil {
			t.Fatalf("get file: %v", err)
		}
		if string(obj.Content) != "version: 1\n" {
			t.Fatalf("expected replaced content, got %q", obj.Content)
		}
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		mustEnsure(t, store, "session/s1/state")

		v1, err := store.Put(ctx, "session/s1/state", "state.yaml", []byte("a"), "", "init")
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		if _, err := store.Put(ctx, "session/s1/state", "state.yaml", []byte("b"), v1, "first writer"); err != nil {
			t.Fatalf("first writer: %v", err)
		}
		_, err = store.Put(ctx, "session/s1/state", "state.yaml", []byte("c"), v1, "second writer")
		if !errors.Is(err, objectstore.ErrVersionMismatch) {
			t.Fatalf("expected ErrVersionMismatch, got %v", err)
		}
		obj, err := store.Get(ctx, "session/s1/state", "state.yaml")
		if err != nil {
			t.Fatalf("get file: %v", err)
		}
		if string(obj.Content) != "b" {
			t.Fatalf("expected first writer's content, got %q", obj.Content)
		}
	})

	t.Run("create over existing file is rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		mustEnsure(t, store, "inbox/bob")
		if _, err := store.Put(ctx, "inbox/bob", "notifications.yaml", []byte("a"), "", "init"); err != nil {
			t.Fatalf("create file: %v", err)
		}
		_, err := store.Put(ctx, "inbox/bob", "notifications.yaml", []byte("b"), "", "init again")
		if !errors.Is(err, objectstore.ErrVersionMismatch) {
			t.Fatalf("expected ErrVersionMismatch, got %v", err)
		}
	})

	t.Run("put on missing ref", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Put(context.Background(), "inbox/nobody", "notifications.yaml", []byte("a"), "", "init")
		if !errors.Is(err, objectstore.ErrRefNotFound) {
			t.Fatalf("expected ErrRefNotFound, got %v", err)
		}
	})

	t.Run("refs are isolated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		mustEnsure(t, store, "session/s1/outbox/alice")
		mustEnsure(t, store, "session/s1/outbox/bob")
		if _, err := store.Put(ctx, "session/s1/outbox/alice", "outbox.yaml", []byte("alice"), "", "init"); err != nil {
			t.Fatalf("put alice: %v", err)
		}
		_, err := store.Get(ctx, "session/s1/outbox/bob", "outbox.yaml")
		if !errors.Is(err, objectstore.ErrNotFound) {
			t.Fatalf("expected bob's outbox to be absent, got %v", err)
		}
	})

	t.Run("list refs by prefix", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		mustEnsure(t, store, "session/s1/outbox/bob")
		mustEnsure(t, store, "session/s1/outbox/alice")
		mustEnsure(t, store, "session/s1/manifest")
		mustEnsure(t, store, "session/s2/outbox/carol")

		refs, err := store.ListRefs(ctx, "session/s1/outbox/")
		if err != nil {
			t.Fatalf("list refs: %v", err)
		}
		if len(refs) != 2 {
			t.Fatalf("expected 2 refs, got %d: %v", len(refs), refs)
		}
		if refs[0].Name != "session/s1/outbox/alice" || refs[1].Name != "session/s1/outbox/bob" {
			t.Fatalf("expected sorted outbox refs, got %v", refs)
		}
	})

	t.Run("delete ref", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		mustEnsure(t, store, "session/s1/manifest")
		if _, err := store.Put(ctx, "session/s1/manifest", "session.yaml", []byte("a"), "", "init"); err != nil {
			t.Fatalf("put manifest: %v", err)
		}
		if err := store.DeleteRef(ctx, "session/s1/manifest"); err != nil {
			t.Fatalf("delete ref: %v", err)
		}
		_, err := store.Get(ctx, "session/s1/manifest", "session.yaml")
		if !errors.Is(err, objectstore.ErrRefNotFound) {
			t.Fatalf("expected ErrRefNotFound after delete, got %v", err)
		}
		if err := store.DeleteRef(ctx, "session/s1/manifest"); err != nil {
			t.Fatalf("delete missing ref: %v", err)
		}
	})
}

func mustEnsure(t *testing.T, store objectstore.Store, ref string) {
	t.Helper()
	if _, err := store.EnsureRef(context.Background(), ref, objectstore.DefaultBaseRef); err != nil {
		t.Fatalf("ensure ref %s: %v", ref, err)
	}
}
