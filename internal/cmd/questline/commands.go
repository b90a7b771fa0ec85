package questline

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/matt-davison/agent-quest/internal/notifications/domain"
	"github.com/matt-davison/agent-quest/internal/notifications/render"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
	sessiondomain "github.com/matt-davison/agent-quest/internal/session/domain"
	"github.com/matt-davison/agent-quest/internal/session/relay"
	"github.com/matt-davison/agent-quest/internal/session/service"
)

type runFunc func(ctx context.Context, env Env, args []string) (any, error)

var commands = map[string]runFunc{
	// Session lifecycle.
	"create":      runCreate,
	"join":        runJoin,
	"end":         runEnd,
	"status":      runStatus,
	"remove":      runRemove,
	"get-session": runGetSession,

	// Groups and turns.
	"next-turn":       runNextTurn,
	"split":           runSplit,
	"merge":           runMerge,
	"update-location": runUpdateLocation,
	"update-groups":   runUpdateGroups,

	// Remote transport.
	"check-messages":    runCheckMessages,
	"post-message":      runPostMessage,
	"push-outbox":       runPushOutbox,
	"push-state":        runPushState,
	"check-turn":        runCheckTurn,
	"session-info":      runSessionInfo,
	"cleanup-refs":      runCleanupRefs,
	"outbox-path":       runOutboxPath,
	"state-path":        runStatePath,
	"watch":             runWatch,
	"send-invite":       runSendInvite,
	"send-notification": runSendNotification,

	// Inbox.
	"check-inbox": runCheckInbox,
	"count-inbox": runCountInbox,
	"mark-inbox":  runMarkInbox,

	// Hybrid group turns.
	"submit-local-actions": runSubmitLocalActions,
	"check-group-ready":    runCheckGroupReady,
	"resolve-group-turn":   runResolveGroupTurn,

	// Idle guard.
	"get-loop-counter":       runGetLoopCounter,
	"increment-loop-counter": runIncrementLoopCounter,
	"reset-loop-counter":     runResetLoopCounter,
}

var usages = map[string]string{
	// Session lifecycle.
	"create":      "-char <c> [-char <c>] [-github <gh>] [-remote-guest <gh>] [-world <w>]",
	"join":        "<session-id> <character> [-spectator] [-github <gh>]",
	"end":         "end the active session",
	"status":      "print the local session mirror",
	"remove":      "<participant> remove a participant",
	"get-session": "print the active session id",

	// Groups and turns.
	"next-turn":       "advance to the next group's turn",
	"split":           "<character> [-to-group <id>]",
	"merge":           "<group-a> <group-b> merge group b into a",
	"update-location": "<character> <location>",
	"update-groups":   "recalculate groups from locations",

	// Remote transport.
	"check-messages":    "[session-id] [github] [-json]",
	"post-message":      "[-type <t>] [-to <github>] <narrative>",
	"push-outbox":       "[session-id] [github]",
	"push-state":        "[session-id]",
	"check-turn":        "[session-id] [github]",
	"session-info":      "[session-id]",
	"cleanup-refs":      "[session-id] delete the session's remote refs",
	"outbox-path":       "[session-id]",
	"state-path":        "[session-id]",
	"watch":             "[session-id] [github] poll messages and the inbox until idle",
	"send-invite":       "<session-id> <target> [from] [character]",
	"send-notification": "<type> <target> <from> <character> <message> [extra-json]",

	// Inbox.
	"check-inbox": "[github] [-json]",
	"count-inbox": "[github]",
	"mark-inbox":  "<seq> <status> [-github <gh>]",

	// Hybrid group turns.
	"submit-local-actions": "'<json array>'",
	"check-group-ready":    "report whether the current group can resolve",
	"resolve-group-turn":   "return and clear the buffered actions",

	// Idle guard.
	"get-loop-counter":       "[session-id]",
	"increment-loop-counter": "[session-id]",
	"reset-loop-counter":     "[session-id]",
}

// parseFlags parses fs over args, allowing flags after positionals, and
// returns the positionals.
func parseFlags(fs *flag.FlagSet, args []string) ([]string, error) {
	fs.SetOutput(io.Discard)
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func arg(args []string, i int) string {
	if i < len(args) {
		return strings.TrimSpace(args[i])
	}
	return ""
}

func usageError(name string) error {
	return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("usage: questline %s %s", name, usages[name]))
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func runCreate(ctx context.Context, env Env, args []string) (any, error) {
	fs := newFlags("create")
	world := fs.String("world", "alpha", "world the characters live in")
	github := fs.String("github", "", "host identity")
	var chars, guests stringList
	fs.Var(&chars, "char", "local character (repeatable)")
	fs.Var(&guests, "remote-guest", "remote guest identity (repeatable)")
	if _, err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	host, err := env.App.Identity(ctx, *github)
	if err != nil {
		return nil, err
	}
	return env.App.Sessions.Create(ctx, service.CreateInput{
		World:        *world,
		Host:         host,
		Characters:   chars,
		RemoteGuests: guests,
	})
}

func runJoin(ctx context.Context, env Env, args []string) (any, error) {
	fs := newFlags("join")
	spectator := fs.Bool("spectator", false, "join without an outbox")
	github := fs.String("github", "", "joining identity")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return nil, err
	}
	if len(pos) < 2 {
		return nil, usageError("join")
	}
	who, err := env.App.Identity(ctx, *github)
	if err != nil {
		return nil, err
	}
	role := sessiondomain.RolePlayer
	if *spectator {
		role = sessiondomain.RoleSpectator
	}
	return env.App.Sessions.Join(ctx, service.JoinInput{
		SessionID: pos[0],
		Identity:  who,
		Character: pos[1],
		Role:      role,
	})
}

func runEnd(ctx context.Context, env Env, _ []string) (any, error) {
	return env.App.Sessions.End(ctx)
}

func runStatus(ctx context.Context, env Env, _ []string) (any, error) {
	return env.App.Sessions.Status(ctx)
}

func runRemove(ctx context.Context, env Env, args []string) (any, error) {
	if arg(args, 0) == "" {
		return nil, usageError("remove")
	}
	return env.App.Sessions.RemoveParticipant(ctx, arg(args, 0))
}

func runGetSession(ctx context.Context, env Env, _ []string) (any, error) {
	sid, err := env.App.Sessions.ActiveSessionID(ctx)
	if err != nil {
		return nil, err
	}
	return text(sid), nil
}

func runNextTurn(ctx context.Context, env Env, _ []string) (any, error) {
	return env.App.Sessions.NextTurn(ctx)
}

func runSplit(ctx context.Context, env Env, args []string) (any, error) {
	fs := newFlags("split")
	toGroup := fs.String("to-group", "", "existing group to move into")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return nil, err
	}
	if arg(pos, 0) == "" {
		return nil, usageError("split")
	}
	return env.App.Sessions.Split(ctx, pos[0], *toGroup)
}

func runMerge(ctx context.Context, env Env, args []string) (any, error) {
	if arg(args, 0) == "" || arg(args, 1) == "" {
		return nil, usageError("merge")
	}
	return env.App.Sessions.Merge(ctx, arg(args, 0), arg(args, 1))
}

func runUpdateLocation(ctx context.Context, env Env, args []string) (any, error) {
	if arg(args, 0) == "" || len(args) < 2 {
		return nil, usageError("update-location")
	}
	return env.App.Sessions.UpdateLocation(ctx, arg(args, 0), strings.Join(args[1:], " "))
}

func runUpdateGroups(ctx context.Context, env Env, _ []string) (any, error) {
	return env.App.Sessions.RecalculateGroups(ctx)
}

// sessionAndIdentity resolves the optional [session-id] [github] pair.
func sessionAndIdentity(ctx context.Context, env Env, args []string) (string, string, error) {
	sid, err := env.App.SessionID(ctx, arg(args, 0))
	if err != nil {
		return "", "", err
	}
	who, err := env.App.Identity(ctx, arg(args, 1))
	if err != nil {
		return "", "", err
	}
	return sid, who, nil
}

func runCheckMessages(ctx context.Context, env Env, args []string) (any, error) {
	fs := newFlags("check-messages")
	asJSON := fs.Bool("json", false, "print raw messages")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return nil, err
	}
	sid, who, err := sessionAndIdentity(ctx, env, pos)
	if err != nil {
		return nil, err
	}
	batches, err := env.App.Relay.CheckMessages(ctx, sid, who)
	if err != nil {
		return nil, err
	}
	if *asJSON {
		if batches == nil {
			batches = []relay.PlayerMessages{}
		}
		return batches, nil
	}
	return text(render.RTUpdate(env.App.Printer, batches)), nil
}

func runPostMessage(ctx context.Context, env Env, args []string) (any, error) {
	fs := newFlags("post-message")
	kind := fs.String("type", relay.DefaultMessageType, "message type")
	to := fs.String("to", "", "addressee")
	sessionFlag := fs.String("session", "", "session id")
	github := fs.String("github", "", "sender identity")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return nil, err
	}
	narrative := strings.TrimSpace(strings.Join(pos, " "))
	if narrative == "" {
		return nil, usageError("post-message")
	}
	sid, who, err := sessionAndIdentity(ctx, env, []string{*sessionFlag, *github})
	if err != nil {
		return nil, err
	}
	return env.App.Relay.PostMessage(ctx, sid, who, relay.PostInput{Type: *kind, Narrative: narrative, To: *to})
}

func runPushOutbox(ctx context.Context, env Env, args []string) (any, error) {
	sid, who, err := sessionAndIdentity(ctx, env, args)
	if err != nil {
		return nil, err
	}
	return env.App.Relay.PushOutbox(ctx, sid, who)
}

func runPushState(ctx context.Context, env Env, args []string) (any, error) {
	sid, err := env.App.SessionID(ctx, arg(args, 0))
	if err != nil {
		return nil, err
	}
	return env.App.Relay.PushState(ctx, sid)
}

func runCheckTurn(ctx context.Context, env Env, args []string) (any, error) {
	sid, who, err := sessionAndIdentity(ctx, env, args)
	if err != nil {
		return nil, err
	}
	return env.App.Relay.CheckTurn(ctx, sid, who)
}

func runSessionInfo(ctx context.Context, env Env, args []string) (any, error) {
	sid, err := env.App.SessionID(ctx, arg(args, 0))
	if err != nil {
		return nil, err
	}
	return env.App.Relay.SessionInfo(ctx, sid)
}

func runCleanupRefs(ctx context.Context, env Env, args []string) (any, error) {
	sid, err := env.App.SessionID(ctx, arg(args, 0))
	if err != nil {
		return nil, err
	}
	deleted, err := env.App.Relay.CleanupRefs(ctx, sid)
	if err != nil {
		return nil, err
	}
	if deleted == nil {
		deleted = []string{}
	}
	return map[string]any{"session_id": sid, "deleted": deleted}, nil
}

func runOutboxPath(ctx context.Context, env Env, args []string) (any, error) {
	sid, err := env.App.SessionID(ctx, arg(args, 0))
	if err != nil {
		return nil, err
	}
	return text(env.App.Relay.OutboxPath(sid)), nil
}

func runStatePath(ctx context.Context, env Env, args []string) (any, error) {
	sid, err := env.App.SessionID(ctx, arg(args, 0))
	if err != nil {
		return nil, err
	}
	return text(env.App.Relay.StatePath(sid)), nil
}

func runSendInvite(ctx context.Context, env Env, args []string) (any, error) {
	if arg(args, 0) == "" || arg(args, 1) == "" {
		return nil, usageError("send-invite")
	}
	from, err := env.App.Identity(ctx, arg(args, 2))
	if err != nil {
		return nil, err
	}
	return env.App.Notifications.SendInvite(ctx, arg(args, 0), arg(args, 1), from, arg(args, 3))
}

func runSendNotification(ctx context.Context, env Env, args []string) (any, error) {
	if len(args) < 5 {
		return nil, usageError("send-notification")
	}
	extra, err := parseExtra(arg(args, 5))
	if err != nil {
		return nil, err
	}
	return env.App.Notifications.Send(ctx, domain.SendInput{
		Type:          arg(args, 0),
		Target:        arg(args, 1),
		From:          arg(args, 2),
		FromCharacter: arg(args, 3),
		Message:       args[4],
		Extra:         extra,
	})
}

// parseExtra decodes a JSON object of extra notification fields. Non-string
// values keep their JSON encoding.
func parseExtra(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "extra fields must be a JSON object", err)
	}
	extra := make(map[string]string, len(fields))
	for key, value := range fields {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			extra[key] = s
			continue
		}
		extra[key] = string(value)
	}
	return extra, nil
}

func runCheckInbox(ctx context.Context, env Env, args []string) (any, error) {
	fs := newFlags("check-inbox")
	asJSON := fs.Bool("json", false, "print raw entries")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return nil, err
	}
	who, err := env.App.Identity(ctx, arg(pos, 0))
	if err != nil {
		return nil, err
	}
	entries, err := env.App.Notifications.Check(ctx, who)
	if err != nil {
		return nil, err
	}
	if *asJSON {
		if entries == nil {
			entries = []domain.Entry{}
		}
		return entries, nil
	}
	return text(render.Inbox(env.App.Printer, entries)), nil
}

func runCountInbox(ctx context.Context, env Env, args []string) (any, error) {
	who, err := env.App.Identity(ctx, arg(args, 0))
	if err != nil {
		return nil, err
	}
	return env.App.Notifications.Count(ctx, who)
}

func runMarkInbox(ctx context.Context, env Env, args []string) (any, error) {
	fs := newFlags("mark-inbox")
	github := fs.String("github", "", "inbox owner")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return nil, err
	}
	if len(pos) < 2 {
		return nil, usageError("mark-inbox")
	}
	seq, err := strconv.ParseUint(pos[0], 10, 64)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("invalid seq %q", pos[0]), err)
	}
	who, err := env.App.Identity(ctx, *github)
	if err != nil {
		return nil, err
	}
	return env.App.Notifications.Mark(ctx, who, seq, pos[1])
}

func runSubmitLocalActions(ctx context.Context, env Env, args []string) (any, error) {
	raw := strings.TrimSpace(strings.Join(args, " "))
	if raw == "" {
		return nil, usageError("submit-local-actions")
	}
	var actions []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "actions must be a JSON array", err)
	}
	return env.App.Sessions.SubmitLocalActions(ctx, actions)
}

func runCheckGroupReady(ctx context.Context, env Env, _ []string) (any, error) {
	return env.App.Sessions.CheckGroupReady(ctx)
}

func runResolveGroupTurn(ctx context.Context, env Env, _ []string) (any, error) {
	return env.App.Sessions.ResolveGroupTurn(ctx)
}

func runGetLoopCounter(ctx context.Context, env Env, args []string) (any, error) {
	sid, err := env.App.SessionID(ctx, arg(args, 0))
	if err != nil {
		return nil, err
	}
	count, err := env.App.Cursors.LoopCount(ctx, sid)
	if err != nil {
		return nil, err
	}
	return text(strconv.Itoa(count)), nil
}

func runIncrementLoopCounter(ctx context.Context, env Env, args []string) (any, error) {
	sid, err := env.App.SessionID(ctx, arg(args, 0))
	if err != nil {
		return nil, err
	}
	count, err := env.App.Cursors.IncrementLoop(ctx, sid)
	if err != nil {
		return nil, err
	}
	return text(strconv.Itoa(count)), nil
}

func runResetLoopCounter(ctx context.Context, env Env, args []string) (any, error) {
	sid, err := env.App.SessionID(ctx, arg(args, 0))
	if err != nil {
		return nil, err
	}
	if err := env.App.Cursors.ResetLoop(ctx, sid); err != nil {
		return nil, err
	}
	return text("0"), nil
}
