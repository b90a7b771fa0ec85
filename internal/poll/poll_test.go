package poll

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matt-davison/agent-quest/internal/cursor"
)

func scripted(results ...Result) (Step, *int) {
	calls := 0
	return func(context.Context) (Result, error) {
		i := calls
		calls++
		if i < len(results) {
			return results[i], nil
		}
		return Result{}, nil
	}, &calls
}

func TestRunStopsWhenIdle(t *testing.T) {
	t.Parallel()

	step, calls := scripted()
	summary, err := Loop{Interval: time.Millisecond, MaxIdle: 3}.Run(context.Background(), step)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Reason != StopIdle {
		t.Fatalf("expected idle stop, got %q", summary.Reason)
	}
	if *calls != 3 || summary.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d calls, summary %+v", *calls, summary)
	}
}

func TestRunProgressResetsIdle(t *testing.T) {
	t.Parallel()

	step, calls := scripted(Result{}, Result{}, Result{Progress: true}, Result{}, Result{})
	summary, err := Loop{Interval: time.Millisecond, MaxIdle: 3}.Run(context.Background(), step)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if *calls != 6 {
		t.Fatalf("expected 6 iterations, got %d", *calls)
	}
	if summary.Idle != 3 || summary.Reason != StopIdle {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunStopsWhenDone(t *testing.T) {
	t.Parallel()

	step, calls := scripted(Result{Progress: true}, Result{Done: true})
	summary, err := Loop{Interval: time.Millisecond, MaxIdle: 5}.Run(context.Background(), step)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Reason != StopDone || *calls != 2 {
		t.Fatalf("unexpected summary %+v after %d calls", summary, *calls)
	}
}

func TestRunReturnsStepError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := Loop{Interval: time.Millisecond}.Run(context.Background(), func(context.Context) (Result, error) {
		return Result{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected step error, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	summary, err := Loop{Interval: time.Hour, MaxIdle: 5}.Run(ctx, func(context.Context) (Result, error) {
		cancel()
		return Result{Progress: true}, nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Reason != StopCancelled || summary.Iterations != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunPersistsCounterAcrossRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := cursor.Open(ctx, filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("open cursors: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	loop := Loop{SessionID: "ms-1", Interval: time.Millisecond, MaxIdle: 4, Counter: store}
	ticks := 0
	first, err := loop.Run(ctx, func(context.Context) (Result, error) {
		ticks++
		return Result{Done: ticks == 2}, nil
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Idle != 2 {
		t.Fatalf("expected idle 2 after first run, got %d", first.Idle)
	}

	step, calls := scripted()
	second, err := loop.Run(ctx, step)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if *calls != 2 || second.Reason != StopIdle {
		t.Fatalf("expected the persisted counter to leave 2 iterations, got %d (%+v)", *calls, second)
	}

	step, calls = scripted()
	third, err := loop.Run(ctx, step)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if *calls != 0 || third.Reason != StopIdle {
		t.Fatalf("expected an exhausted counter to skip stepping, got %d (%+v)", *calls, third)
	}
}
