// Package poll runs a step function on a fixed interval until it reports
// completion, stays idle too long, or its context is cancelled.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultInterval = 3 * time.Second
	DefaultMaxIdle  = 5
)

// Stop reasons.
const (
	StopDone      = "done"
	StopIdle      = "idle"
	StopCancelled = "cancelled"
)

// Counter persists the idle iteration count of a session across processes.
type Counter interface {
	LoopCount(ctx context.Context, sessionID string) (int, error)
	IncrementLoop(ctx context.Context, sessionID string) (int, error)
	ResetLoop(ctx context.Context, sessionID string) error
}

// Result is what one step observed.
type Result struct {
	Progress bool
	Done     bool
}

// Step performs one poll iteration.
type Step func(ctx context.Context) (Result, error)

// Loop configures one polling run.
type Loop struct {
	SessionID string
	Interval  time.Duration
	MaxIdle   int
	Counter   Counter
}

// Summary reports how a run ended.
type Summary struct {
	Iterations int    `json:"iterations"`
	Idle       int    `json:"idle"`
	Reason     string `json:"reason"`
}

// Run calls step once immediately and then on every tick. Progress resets
// the idle counter and an idle step increments it; the run stops when the
// counter reaches MaxIdle. Cancellation is observed only between steps and
// is not an error.
func (l Loop) Run(ctx context.Context, step Step) (Summary, error) {
	if step == nil {
		return Summary{}, errors.New("poll step is required")
	}
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxIdle := l.MaxIdle
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	counter := l.Counter
	if counter == nil {
		counter = &memoryCounter{}
	}

	summary := Summary{}
	idle, err := counter.LoopCount(ctx, l.SessionID)
	if err != nil {
		return summary, fmt.Errorf("read loop counter: %w", err)
	}
	summary.Idle = idle
	if idle >= maxIdle {
		summary.Reason = StopIdle
		return summary, nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			summary.Reason = StopCancelled
			return summary, nil
		}
		result, err := step(ctx)
		summary.Iterations++
		if err != nil {
			return summary, err
		}
		if result.Progress {
			if err := counter.ResetLoop(ctx, l.SessionID); err != nil {
				return summary, fmt.Errorf("reset loop counter: %w", err)
			}
			summary.Idle = 0
		} else {
			n, err := counter.IncrementLoop(ctx, l.SessionID)
			if err != nil {
				return summary, fmt.Errorf("increment loop counter: %w", err)
			}
			summary.Idle = n
		}
		if result.Done {
			summary.Reason = StopDone
			return summary, nil
		}
		if summary.Idle >= maxIdle {
			summary.Reason = StopIdle
			return summary, nil
		}

		select {
		case <-ctx.Done():
			summary.Reason = StopCancelled
			return summary, nil
		case <-ticker.C:
		}
	}
}

type memoryCounter struct {
	count int
}

func (c *memoryCounter) LoopCount(context.Context, string) (int, error) { return c.count, nil }

func (c *memoryCounter) IncrementLoop(context.Context, string) (int, error) {
	c.count++
	return c.count, nil
}

func (c *memoryCounter) ResetLoop(context.Context, string) error {
	c.count = 0
	return nil
}
