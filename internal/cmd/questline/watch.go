package questline

import (
	"context"
	"fmt"
	"time"

	"github.com/matt-davison/agent-quest/internal/app"
	"github.com/matt-davison/agent-quest/internal/notifications/render"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
	"github.com/matt-davison/agent-quest/internal/poll"
	sessiondomain "github.com/matt-davison/agent-quest/internal/session/domain"
)

// WatchResult ends a watch run.
type WatchResult struct {
	SessionID string       `json:"session_id"`
	Summary   poll.Summary `json:"summary"`
	Inbox     int          `json:"inbox"`
	Urgent    int          `json:"urgent"`
}

// runWatch polls for other players' messages and the inbox count, printing
// each RT update as it arrives, until the session ends or stays idle.
func runWatch(ctx context.Context, env Env, args []string) (any, error) {
	sid, who, err := sessionAndIdentity(ctx, env, args)
	if err != nil {
		return nil, err
	}
	a := env.App
	lastTotal := -1
	result := WatchResult{SessionID: sid}

	step := func(ctx context.Context) (poll.Result, error) {
		if _, err := a.Sessions.Status(ctx); apperrors.HasCode(err, apperrors.CodeNoActiveSession) {
			return poll.Result{Done: true}, nil
		}
		batches, err := a.Relay.CheckMessages(ctx, sid, who)
		if err != nil {
			return poll.Result{}, err
		}
		progress := len(batches) > 0
		if progress {
			fmt.Fprintln(env.Stdout, render.RTUpdate(a.Printer, batches))
		}
		counts, err := a.Notifications.Count(ctx, who)
		if err != nil {
			return poll.Result{}, err
		}
		if lastTotal >= 0 && counts.Total != lastTotal {
			progress = true
		}
		lastTotal = counts.Total
		result.Inbox, result.Urgent = counts.Total, counts.Urgent
		return poll.Result{Progress: progress}, nil
	}

	var remote sessiondomain.RemoteSettings
	if session, err := a.Sessions.Status(ctx); err == nil && session.SessionID == sid {
		remote = session.Remote
	}
	interval, maxIdle := watchPacing(a.Config, remote)
	summary, err := poll.Loop{
		SessionID: sid,
		Interval:  interval,
		MaxIdle:   maxIdle,
		Counter:   a.Cursors,
	}.Run(ctx, step)
	if err != nil {
		return nil, err
	}
	env.Logger.Printf("watch %s stopped after %d polls: %s", sid, summary.Iterations, summary.Reason)
	result.Summary = summary
	return result, nil
}

// watchPacing takes the session's polling settings where it has them and
// the process configuration otherwise.
func watchPacing(cfg app.Config, remote sessiondomain.RemoteSettings) (time.Duration, int) {
	interval, maxIdle := cfg.PollInterval, cfg.MaxIdlePolls
	if remote.PollIntervalSec > 0 {
		interval = time.Duration(remote.PollIntervalSec) * time.Second
	}
	if remote.MaxIdlePolls > 0 {
		maxIdle = remote.MaxIdlePolls
	}
	return interval, maxIdle
}
