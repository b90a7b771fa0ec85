package questline

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matt-davison/agent-quest/internal/app"
	"github.com/matt-davison/agent-quest/internal/objectstore/memory"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
	sessiondomain "github.com/matt-davison/agent-quest/internal/session/domain"
	"github.com/matt-davison/agent-quest/internal/session/marker"
)

const testPersona = `name: "Aria Voss"
class: Ranger
stats:
  level: 4
location:
  current_location: thornwick-inn
`

type player struct {
	t     *testing.T
	cfg   app.Config
	store *memory.Store
}

func newPlayer(t *testing.T, identity, worlds string, store *memory.Store) player {
	t.Helper()
	return player{
		t:     t,
		store: store,
		cfg: app.Config{
			StateDir:       filepath.Join(t.TempDir(), identity),
			Backend:        app.BackendMemory,
			BaseRef:        "main",
			WorldsDir:      worlds,
			Identity:       identity,
			ConflictPolicy: "drop",
			RemoteTimeout:  time.Second,
			PollInterval:   time.Millisecond,
			MaxIdlePolls:   2,
			SessionTimeout: 10 * time.Minute,
			Locale:         "en-US",
		},
	}
}

func (p player) run(args ...string) (string, error) {
	p.t.Helper()
	var out bytes.Buffer
	err := RunWithOptions(context.Background(), Config{Config: p.cfg, Args: args}, &out, app.Options{
		Store:  p.store,
		Logger: log.New(io.Discard, "", 0),
	})
	return out.String(), err
}

func (p player) mustRun(args ...string) string {
	p.t.Helper()
	out, err := p.run(args...)
	if err != nil {
		p.t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out
}

func (p player) decode(target any, args ...string) {
	p.t.Helper()
	out := p.mustRun(args...)
	if err := json.Unmarshal([]byte(out), target); err != nil {
		p.t.Fatalf("%s: decode %q: %v", strings.Join(args, " "), out, err)
	}
}

func writePersona(t *testing.T, root, identity, character string) {
	t.Helper()
	dir := filepath.Join(root, "worlds", "alpha", "players", identity, "personas", character)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "persona.yaml"), []byte(testPersona), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
}

func TestParseConfigSplitsCommand(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("questline", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-backend", "memory", "-identity", "alice", "check-inbox", "-json"}, func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != app.BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Backend)
	}
	if cfg.Identity != "alice" {
		t.Fatalf("expected identity alice, got %q", cfg.Identity)
	}
	if len(cfg.Args) != 2 || cfg.Args[0] != "check-inbox" || cfg.Args[1] != "-json" {
		t.Fatalf("expected command args, got %v", cfg.Args)
	}
}

func TestRunRequiresCommand(t *testing.T) {
	t.Parallel()

	p := newPlayer(t, "alice", t.TempDir(), memory.New())
	out, err := p.run()
	if apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if !strings.Contains(out, "check-messages") {
		t.Fatalf("expected usage listing, got %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	t.Parallel()

	p := newPlayer(t, "alice", t.TempDir(), memory.New())
	_, err := p.run("teleport")
	if apperrors.ExitCode(err) != apperrors.ExitInvalidUsage {
		t.Fatalf("expected usage exit code, got %v", err)
	}
}

func TestStatusWithoutSession(t *testing.T) {
	t.Parallel()

	p := newPlayer(t, "alice", t.TempDir(), memory.New())
	_, err := p.run("status")
	if apperrors.CodeOf(err) != apperrors.CodeNoActiveSession {
		t.Fatalf("expected no active session, got %v", err)
	}
	if apperrors.ExitCode(err) != apperrors.ExitFailure {
		t.Fatalf("expected exit 1, got %d", apperrors.ExitCode(err))
	}
}

func TestHostAndGuestExchangeMessages(t *testing.T) {
	t.Parallel()

	worlds := t.TempDir()
	writePersona(t, worlds, "alice", "aria")
	store := memory.New()
	host := newPlayer(t, "alice", worlds, store)
	guest := newPlayer(t, "bob", worlds, store)

	var session sessiondomain.Session
	host.decode(&session, "create", "-char", "aria", "-remote-guest", "bob")
	if session.SessionID == "" {
		t.Fatal("expected session id")
	}
	if session.SessionType != sessiondomain.SessionTypeHybrid {
		t.Fatalf("expected hybrid session, got %q", session.SessionType)
	}
	sid := strings.TrimSpace(host.mustRun("get-session"))
	if sid != session.SessionID {
		t.Fatalf("expected get-session %q, got %q", session.SessionID, sid)
	}

	guest.decode(&map[string]any{}, "join", sid, "borin")
	guest.decode(&map[string]any{}, "post-message", "Borin", "kicks", "the", "door")

	out := host.mustRun("check-messages")
	if !strings.Contains(out, "[RT UPDATE]") || !strings.Contains(out, "Borin kicks the door") {
		t.Fatalf("expected rt update, got %q", out)
	}
	if again := host.mustRun("check-messages"); again != "" {
		t.Fatalf("expected no repeated messages, got %q", again)
	}

	var turn map[string]any
	host.decode(&turn, "check-turn")
	if turn["reason"] != "no_state" {
		t.Fatalf("expected no_state, got %v", turn)
	}

	host.decode(&map[string]any{}, "send-invite", sid, "carol", "alice", "Aria")
	carol := newPlayer(t, "carol", worlds, store)
	var counts map[string]int
	carol.decode(&counts, "count-inbox")
	if counts["total"] != 1 || counts["urgent"] != 1 {
		t.Fatalf("expected one urgent notification, got %v", counts)
	}
	box := carol.mustRun("check-inbox")
	if !strings.Contains(box, "INBOX NOTIFICATIONS (1)") || !strings.Contains(box, sid) {
		t.Fatalf("expected rendered inbox, got %q", box)
	}

	var ended map[string]any
	host.decode(&ended, "end")
	if ended["status"] != "ended" {
		t.Fatalf("expected ended status, got %v", ended)
	}
}

func TestHybridTurnCommands(t *testing.T) {
	t.Parallel()

	worlds := t.TempDir()
	writePersona(t, worlds, "alice", "aria")
	host := newPlayer(t, "alice", worlds, memory.New())
	host.mustRun("create", "-char", "aria")

	var submitted map[string]any
	host.decode(&submitted, "submit-local-actions", `[{"character":"aria","action":"search"}]`)
	if submitted["submitted"] != true {
		t.Fatalf("expected submitted, got %v", submitted)
	}
	var ready map[string]any
	host.decode(&ready, "check-group-ready")
	if ready["ready"] != true {
		t.Fatalf("expected ready group, got %v", ready)
	}
	var resolved map[string]any
	host.decode(&resolved, "resolve-group-turn")
	if actions, _ := resolved["local_actions"].([]any); len(actions) != 1 {
		t.Fatalf("expected one resolved action, got %v", resolved)
	}

	if _, err := host.run("submit-local-actions", "not json"); apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestLoopCounterCommands(t *testing.T) {
	t.Parallel()

	p := newPlayer(t, "alice", t.TempDir(), memory.New())
	if out := p.mustRun("increment-loop-counter", "s1"); strings.TrimSpace(out) != "1" {
		t.Fatalf("expected 1, got %q", out)
	}
	p.mustRun("increment-loop-counter", "s1")
	if out := p.mustRun("get-loop-counter", "s1"); strings.TrimSpace(out) != "2" {
		t.Fatalf("expected 2, got %q", out)
	}
	if out := p.mustRun("reset-loop-counter", "s1"); strings.TrimSpace(out) != "0" {
		t.Fatalf("expected 0, got %q", out)
	}
	if out := p.mustRun("get-loop-counter", "s1"); strings.TrimSpace(out) != "0" {
		t.Fatalf("expected reset counter, got %q", out)
	}
}

func TestPathCommands(t *testing.T) {
	t.Parallel()

	p := newPlayer(t, "alice", t.TempDir(), memory.New())
	out := strings.TrimSpace(p.mustRun("outbox-path", "s1"))
	if out != filepath.Join(p.cfg.StateDir, "outbox-s1.yaml") {
		t.Fatalf("unexpected outbox path %q", out)
	}
	out = strings.TrimSpace(p.mustRun("state-path", "s1"))
	if out != filepath.Join(p.cfg.StateDir, "state-s1.yaml") {
		t.Fatalf("unexpected state path %q", out)
	}
}

func TestSendNotificationAndMark(t *testing.T) {
	t.Parallel()

	store := memory.New()
	alice := newPlayer(t, "alice", t.TempDir(), store)
	bob := newPlayer(t, "bob", t.TempDir(), store)

	var receipt map[string]any
	alice.decode(&receipt, "send-notification", "mail", "bob", "alice", "Aria", "Meet at dawn", `{"subject":"Plans","gold":25}`)
	if receipt["seq"] != float64(1) {
		t.Fatalf("expected seq 1, got %v", receipt)
	}

	var entries []map[string]any
	bob.decode(&entries, "check-inbox", "-json")
	if len(entries) != 1 || entries[0]["subject"] != "Plans" {
		t.Fatalf("expected mail with subject, got %v", entries)
	}

	bob.decode(&map[string]any{}, "mark-inbox", "1", "read")
	bob.decode(&entries, "check-inbox", "-json")
	if len(entries) != 0 {
		t.Fatalf("expected empty actionable inbox, got %v", entries)
	}

	if _, err := bob.run("mark-inbox", "9", "read"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := alice.run("send-notification", "rt-invite", "bob", "alice", "Aria", "hi"); apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestWatchStopsWhenIdle(t *testing.T) {
	t.Parallel()

	worlds := t.TempDir()
	writePersona(t, worlds, "alice", "aria")
	host := newPlayer(t, "alice", worlds, memory.New())
	host.mustRun("create", "-char", "aria", "-remote-guest", "bob")

	dir, err := marker.New(host.cfg.StateDir)
	if err != nil {
		t.Fatalf("marker dir: %v", err)
	}
	session, err := dir.Load()
	if err != nil {
		t.Fatalf("load mirror: %v", err)
	}
	session.Remote.MaxIdlePolls = 1
	if err := dir.Save(session); err != nil {
		t.Fatalf("save mirror: %v", err)
	}

	var result WatchResult
	host.decode(&result, "watch")
	if result.Summary.Reason != "idle" {
		t.Fatalf("expected idle stop, got %+v", result.Summary)
	}
	if result.Summary.Iterations != 1 {
		t.Fatalf("expected the session's 1 idle poll to win over the configured 2, got %d", result.Summary.Iterations)
	}
}

func TestWatchPacingPrefersSessionSettings(t *testing.T) {
	t.Parallel()

	cfg := app.Config{PollInterval: time.Millisecond, MaxIdlePolls: 2}
	tests := map[string]struct {
		remote   sessiondomain.RemoteSettings
		interval time.Duration
		maxIdle  int
	}{
		"session settings": {sessiondomain.RemoteSettings{PollIntervalSec: 7, MaxIdlePolls: 9}, 7 * time.Second, 9},
		"unset session":    {sessiondomain.RemoteSettings{}, time.Millisecond, 2},
		"idle only":        {sessiondomain.RemoteSettings{MaxIdlePolls: 4}, time.Millisecond, 4},
	}
	for name, tc := range tests {
		interval, maxIdle := watchPacing(cfg, tc.remote)
		if interval != tc.interval || maxIdle != tc.maxIdle {
			t.Errorf("%s: expected %v/%d, got %v/%d", name, tc.interval, tc.maxIdle, interval, maxIdle)
		}
	}
}

func TestParseFlagsInterspersed(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	spectator := fs.Bool("spectator", false, "")
	pos, err := parseFlags(fs, []string{"s1", "borin", "-spectator"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !*spectator {
		t.Fatal("expected spectator flag")
	}
	if len(pos) != 2 || pos[0] != "s1" || pos[1] != "borin" {
		t.Fatalf("unexpected positionals %v", pos)
	}
}

func TestParseExtra(t *testing.T) {
	t.Parallel()

	extra, err := parseExtra(`{"subject":"Plans","gold":25,"items":["rope"]}`)
	if err != nil {
		t.Fatalf("parse extra: %v", err)
	}
	if extra["subject"] != "Plans" || extra["gold"] != "25" || extra["items"] != `["rope"]` {
		t.Fatalf("unexpected extra %v", extra)
	}
	if _, err := parseExtra("[1]"); err == nil {
		t.Fatal("expected error for non-object extra")
	}
}
