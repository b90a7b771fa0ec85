package redis

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/matt-davison/agent-quest/internal/objectstore"
	"github.com/matt-davison/agent-quest/internal/objectstore/storetest"
)

var namespaceSeq atomic.Int64

func TestOpenRequiresAddress(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected missing address error")
	}
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), nil, ""); err == nil {
		t.Fatal("expected missing client error")
	}
}

func TestStoreConformance(t *testing.T) {
	addr := os.Getenv("QUESTLINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QUESTLINE_TEST_REDIS_ADDR not set")
	}

	storetest.Run(t, func(t *testing.T) objectstore.Store {
		namespace := fmt.Sprintf("questline-test:%d:%d:", os.Getpid(), namespaceSeq.Add(1))
		store, err := Open(context.Background(), Config{Addr: addr, Namespace: namespace})
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() {
			ctx := context.Background()
			refs, _ := store.ListRefs(ctx, "")
			for _, ref := range refs {
				_ = store.DeleteRef(ctx, ref.Name)
			}
			_ = store.rdb.Del(ctx, store.counterKey()).Err()
			_ = store.Close()
		})
		return store
	})
}
