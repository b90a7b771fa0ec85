package mailbox

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/matt-davison/agent-quest/internal/objectstore"
	"github.com/matt-davison/agent-quest/internal/objectstore/memory"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
)

// racingStore lets a competing writer win the next races Puts.
type racingStore struct {
	objectstore.Store
	mu    sync.Mutex
	races int
	racer []byte
}

func (s *racingStore) Put(ctx context.Context, ref, path string, content []byte, expected, message string) (string, error) {
	s.mu.Lock()
	race := s.races > 0
	if race {
		s.races--
	}
	s.mu.Unlock()
	if race {
		current, err := s.Store.Get(ctx, ref, path)
		version := current.Version
		if err != nil {
			version = ""
		}
		racer := append(append([]byte{}, current.Content...), s.racer...)
		if _, err := s.Store.Put(ctx, ref, path, racer, version, "racer"); err != nil {
			return "", err
		}
	}
	return s.Store.Put(ctx, ref, path, content, expected, message)
}

// brokenStore fails every call the way an unreachable remote does.
type brokenStore struct {
	objectstore.Store
	err error
}

func (s brokenStore) EnsureRef(context.Context, string, string) (bool, error) { return false, s.err }
func (s brokenStore) Get(context.Context, string, string) (objectstore.Object, error) {
	return objectstore.Object{}, s.err
}
func (s brokenStore) ListRefs(context.Context, string) ([]objectstore.Ref, error) { return nil, s.err }

// slowStore blocks reads until the caller gives up.
type slowStore struct {
	objectstore.Store
}

func (s slowStore) Get(ctx context.Context, _, _ string) (objectstore.Object, error) {
	<-ctx.Done()
	return objectstore.Object{}, ctx.Err()
}

func newTestClient(t *testing.T, store objectstore.Store, opts Options) (*Client, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	opts.Logger = log.New(&logs, "", 0)
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}
	return New(store, opts), &logs
}

func mustEnsure(t *testing.T, client *Client, ref string) {
	t.Helper()
	if err := client.EnsureRef(context.Background(), ref, ""); err != nil {
		t.Fatalf("ensure ref %s: %v", ref, err)
	}
}

func TestParseConflictPolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]ConflictPolicy{"": PolicyDrop, "drop": PolicyDrop, " RETRY ": PolicyRetry} {
		got, err := ParseConflictPolicy(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", in, want, got)
		}
	}
	if _, err := ParseConflictPolicy("merge"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestReadFileAbsentIsQuiet(t *testing.T) {
	t.Parallel()

	client, logs := newTestClient(t, memory.New(), Options{})
	if _, ok := client.ReadFile(context.Background(), "session/s1/manifest", ManifestFile); ok {
		t.Fatal("expected missing ref to read as absent")
	}
	mustEnsure(t, client, "session/s1/manifest")
	if _, ok := client.ReadFile(context.Background(), "session/s1/manifest", ManifestFile); ok {
		t.Fatal("expected missing file to read as absent")
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no logs for absence, got %q", logs.String())
	}
}

func TestReadFileUnavailableDegradesToAbsent(t *testing.T) {
	t.Parallel()

	client, logs := newTestClient(t, brokenStore{Store: memory.New(), err: errors.New("connection refused")}, Options{})
	if _, ok := client.ReadFile(context.Background(), "inbox/alice", InboxFile); ok {
		t.Fatal("expected unavailable store to read as absent")
	}
	if !strings.Contains(logs.String(), "connection refused") {
		t.Fatalf("expected failure to be logged, got %q", logs.String())
	}
}

func TestReadFileTimesOut(t *testing.T) {
	t.Parallel()

	client, logs := newTestClient(t, slowStore{Store: memory.New()}, Options{Timeout: 20 * time.Millisecond})
	start := time.Now()
	if _, ok := client.ReadFile(context.Background(), "inbox/alice", InboxFile); ok {
		t.Fatal("expected timed out read to be absent")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected read to give up quickly, took %s", elapsed)
	}
	if !strings.Contains(logs.String(), "deadline exceeded") {
		t.Fatalf("expected timeout to be logged, got %q", logs.String())
	}
}

func TestEnsureRefFailureIsRemoteUnavailable(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, brokenStore{Store: memory.New(), err: errors.New("boom")}, Options{})
	err := client.EnsureRef(context.Background(), "inbox/alice", "")
	if !apperrors.HasCode(err, apperrors.CodeRemoteUnavailable) {
		t.Fatalf("expected REMOTE_UNAVAILABLE, got %v", err)
	}
}

func TestWriteFileCreatesThenReplaces(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, memory.New(), Options{})
	ctx := context.Background()
	mustEnsure(t, client, "session/s1/state")

	if got := client.WriteFile(ctx, "session/s1/state", StateFile, []byte("version: 0\n"), "init"); got != OutcomeWritten {
		t.Fatalf("expected written, got %s", got)
	}
	if got := client.WriteFile(ctx, "session/s1/state", StateFile, []byte("version: 1\n"), "bump"); got != OutcomeWritten {
		t.Fatalf("expected written, got %s", got)
	}
	content, ok := client.ReadFile(ctx, "session/s1/state", StateFile)
	if !ok || string(content) != "version: 1\n" {
		t.Fatalf("expected replaced content, got %q (found %v)", content, ok)
	}
}

func appendLine(line string) Mutator {
	return func(current []byte, _ bool) ([]byte, error) {
		return append(append([]byte{}, current...), line...), nil
	}
}

func TestUpdateDropPolicyLosesRace(t *testing.T) {
	t.Parallel()

	store := &racingStore{Store: memory.New(), races: 1, racer: []byte("racer\n")}
	client, logs := newTestClient(t, store, Options{Policy: PolicyDrop})
	ctx := context.Background()
	mustEnsure(t, client, "session/s1/manifest")

	outcome, err := client.Update(ctx, "session/s1/manifest", ManifestFile, appendLine("mine\n"), "update")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome != OutcomeConflict {
		t.Fatalf("expected conflict, got %s", outcome)
	}
	content, _ := client.ReadFile(ctx, "session/s1/manifest", ManifestFile)
	if string(content) != "racer\n" {
		t.Fatalf("expected racer's content to survive, got %q", content)
	}
	if !strings.Contains(logs.String(), "dropped") {
		t.Fatalf("expected dropped write to be logged, got %q", logs.String())
	}
}

func TestUpdateRetryPolicyReappliesOnTopOfWinner(t *testing.T) {
	t.Parallel()

	store := &racingStore{Store: memory.New(), races: 2, racer: []byte("racer\n")}
	client, _ := newTestClient(t, store, Options{Policy: PolicyRetry})
	ctx := context.Background()
	mustEnsure(t, client, "session/s1/manifest")

	outcome, err := client.Update(ctx, "session/s1/manifest", ManifestFile, appendLine("mine\n"), "update")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome != OutcomeWritten {
		t.Fatalf("expected written, got %s", outcome)
	}
	content, _ := client.ReadFile(ctx, "session/s1/manifest", ManifestFile)
	if string(content) != "racer\nracer\nmine\n" {
		t.Fatalf("expected both racers then mine, got %q", content)
	}
}

func TestUpdateRetryPolicyGivesUp(t *testing.T) {
	t.Parallel()

	store := &racingStore{Store: memory.New(), races: 100, racer: []byte("x")}
	client, logs := newTestClient(t, store, Options{Policy: PolicyRetry, MaxRetries: 3})
	ctx := context.Background()
	mustEnsure(t, client, "session/s1/state")

	outcome, err := client.Update(ctx, "session/s1/state", StateFile, appendLine("mine"), "update")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome != OutcomeConflict {
		t.Fatalf("expected conflict after retries, got %s", outcome)
	}
	if store.races != 97 {
		t.Fatalf("expected exactly 3 attempts, got %d", 100-store.races)
	}
	if !strings.Contains(logs.String(), "after 3 attempts") {
		t.Fatalf("expected give-up log, got %q", logs.String())
	}
}

func TestUpdateMutatorErrors(t *testing.T) {
	t.Parallel()

	for _, policy := range []ConflictPolicy{PolicyDrop, PolicyRetry} {
		client, _ := newTestClient(t, memory.New(), Options{Policy: policy})
		ctx := context.Background()
		mustEnsure(t, client, "inbox/alice")

		outcome, err := client.Update(ctx, "inbox/alice", InboxFile, func([]byte, bool) ([]byte, error) {
			return nil, ErrSkipWrite
		}, "noop")
		if err != nil || outcome != OutcomeUnchanged {
			t.Fatalf("%s: expected unchanged without error, got %s, %v", policy, outcome, err)
		}

		boom := errors.New("bad record")
		_, err = client.Update(ctx, "inbox/alice", InboxFile, func([]byte, bool) ([]byte, error) {
			return nil, boom
		}, "bad")
		if !errors.Is(err, boom) {
			t.Fatalf("%s: expected mutator error, got %v", policy, err)
		}
		if _, ok := client.ReadFile(ctx, "inbox/alice", InboxFile); ok {
			t.Fatalf("%s: expected nothing written", policy)
		}
	}
}

func TestUpdateSeesExistence(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, memory.New(), Options{})
	ctx := context.Background()
	mustEnsure(t, client, "inbox/alice")

	var seen []bool
	mutate := func(current []byte, exists bool) ([]byte, error) {
		seen = append(seen, exists)
		return []byte("x"), nil
	}
	if _, err := client.Update(ctx, "inbox/alice", InboxFile, mutate, "first"); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if _, err := client.Update(ctx, "inbox/alice", InboxFile, mutate, "second"); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if len(seen) != 2 || seen[0] || !seen[1] {
		t.Fatalf("expected [false true], got %v", seen)
	}
}

func TestFetchRefsMatchesGlobAndFallsBack(t *testing.T) {
	t.Parallel()

	backing := memory.New()
	client, _ := newTestClient(t, backing, Options{})
	ctx := context.Background()
	mustEnsure(t, client, OutboxRef("s1", "alice"))
	mustEnsure(t, client, OutboxRef("s1", "bob"))
	mustEnsure(t, client, ManifestRef("s1"))
	mustEnsure(t, client, OutboxRef("s2", "carol"))

	got := client.FetchRefs(ctx, OutboxPattern("s1"))
	want := []string{"session/s1/outbox/alice", "session/s1/outbox/bob"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}

	client.store = brokenStore{Store: backing, err: errors.New("offline")}
	got = client.FetchRefs(ctx, OutboxPattern("s1"))
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected cached refs %v while offline, got %v", want, got)
	}
}

func TestDeleteRefs(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, memory.New(), Options{})
	ctx := context.Background()
	mustEnsure(t, client, ManifestRef("s1"))
	mustEnsure(t, client, StateRef("s1"))
	mustEnsure(t, client, OutboxRef("s1", "alice"))
	mustEnsure(t, client, InboxRef("alice"))

	deleted, err := client.DeleteRefs(ctx, SessionPrefix("s1"))
	if err != nil {
		t.Fatalf("delete refs: %v", err)
	}
	if len(deleted) != 3 {
		t.Fatalf("expected 3 deleted, got %v", deleted)
	}
	if refs := client.FetchRefs(ctx, "inbox/*"); len(refs) != 1 {
		t.Fatalf("expected inbox to survive, got %v", refs)
	}
}

func TestCallsAreTraced(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	client, _ := newTestClient(t, memory.New(), Options{TracerProvider: provider})
	ctx := context.Background()

	mustEnsure(t, client, "inbox/alice")
	client.WriteFile(ctx, "inbox/alice", InboxFile, []byte("player: alice\n"), "init")
	client.FetchRefs(ctx, "inbox/*")

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	for _, want := range []string{"mailbox.EnsureRef", "mailbox.ReadFile", "mailbox.WriteFile", "mailbox.FetchRefs"} {
		if names[want] == 0 {
			t.Fatalf("expected span %s, got %v", want, names)
		}
	}
}
