package service

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matt-davison/agent-quest/internal/app"
	"github.com/matt-davison/agent-quest/internal/mcp/domain"
	"github.com/matt-davison/agent-quest/internal/objectstore/memory"
)

const testPersona = `name: "Aria Voss"
class: Ranger
location:
  current_location: thornwick-inn
`

func openTestApp(t *testing.T) *app.App {
	t.Helper()
	worlds := t.TempDir()
	dir := filepath.Join(worlds, "worlds", "alpha", "players", "alice", "personas", "aria")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "persona.yaml"), []byte(testPersona), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	a, err := app.Open(context.Background(), app.Config{
		StateDir:       t.TempDir(),
		Backend:        app.BackendMemory,
		BaseRef:        "main",
		WorldsDir:      worlds,
		Identity:       "alice",
		ConflictPolicy: "drop",
		RemoteTimeout:  time.Second,
		SessionTimeout: 10 * time.Minute,
		Locale:         "en-US",
	}, app.Options{Store: memory.New(), Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func connect(t *testing.T, server *Server) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.serveWithTransport(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return session
}

func callTool[O any](t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (O, *mcp.CallToolResult) {
	t.Helper()
	var out O
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if result.IsError {
		t.Fatalf("call %s returned tool error: %+v", name, result.Content)
	}
	data, err := json.Marshal(result.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode structured content: %v", err)
	}
	return out, result
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(Dependencies{}); err == nil {
		t.Fatal("expected error for empty dependencies")
	}
}

func TestServerListsEveryTool(t *testing.T) {
	t.Parallel()

	server, err := New(DependenciesFromApp(openTestApp(t)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	listed, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range listed.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"session_create", "session_join", "session_end", "session_status",
		"turn_next", "group_split", "group_merge", "location_update", "groups_update",
		"actions_submit", "group_ready", "group_resolve",
		"messages_check", "message_post", "turn_check", "session_info",
		"inbox_check", "inbox_count", "inbox_mark", "notification_send", "invite_send",
	} {
		if !names[want] {
			t.Errorf("expected tool %s to be registered", want)
		}
	}
	if len(listed.Tools) != len(mcpToolRegistrars) {
		t.Fatalf("expected %d tools, got %d", len(mcpToolRegistrars), len(listed.Tools))
	}
}

func TestServerSessionRoundTrip(t *testing.T) {
	t.Parallel()

	server, err := New(DependenciesFromApp(openTestApp(t)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	created, _ := callTool[domain.SessionResult](t, session, "session_create", map[string]any{
		"characters": []string{"aria"},
	})
	if created.SessionID == "" {
		t.Fatal("expected session id")
	}
	if created.Host != "alice" {
		t.Fatalf("expected host alice, got %q", created.Host)
	}
	if created.World != "alpha" {
		t.Fatalf("expected world alpha, got %q", created.World)
	}

	submitted, _ := callTool[domain.ActionsSubmitResult](t, session, "actions_submit", map[string]any{
		"actions": []map[string]any{{"character": "aria", "action": "searches the bar"}},
	})
	if !submitted.Submitted || len(submitted.Actions) != 1 {
		t.Fatalf("expected one submitted action, got %+v", submitted)
	}

	ready, _ := callTool[domain.GroupReadyResult](t, session, "group_ready", map[string]any{})
	if !ready.Ready {
		t.Fatalf("expected group ready, got %+v", ready)
	}

	resolved, _ := callTool[domain.GroupResolveResult](t, session, "group_resolve", map[string]any{})
	if len(resolved.LocalActions) != 1 || resolved.LocalActions[0]["action"] != "searches the bar" {
		t.Fatalf("expected resolved action, got %+v", resolved)
	}

	status, _ := callTool[domain.SessionResult](t, session, "session_status", map[string]any{})
	if status.SessionID != created.SessionID {
		t.Fatalf("expected status for %s, got %s", created.SessionID, status.SessionID)
	}

	ended, _ := callTool[domain.SessionEndResult](t, session, "session_end", map[string]any{})
	if ended.SessionID != created.SessionID {
		t.Fatalf("expected end of %s, got %+v", created.SessionID, ended)
	}
}

func TestServerInboxTools(t *testing.T) {
	t.Parallel()

	server, err := New(DependenciesFromApp(openTestApp(t)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	receipt, _ := callTool[domain.ReceiptResult](t, session, "invite_send", map[string]any{
		"session_id": "s1",
		"target":     "alice",
		"from":       "bob",
	})
	if !receipt.Sent || receipt.To != "alice" {
		t.Fatalf("expected delivered invite, got %+v", receipt)
	}

	counts, _ := callTool[domain.InboxCountResult](t, session, "inbox_count", map[string]any{})
	if counts.Total != 1 || counts.Urgent != 1 {
		t.Fatalf("expected one urgent notification, got %+v", counts)
	}

	listed, raw := callTool[domain.InboxCheckResult](t, session, "inbox_check", map[string]any{})
	if len(listed.Notifications) != 1 || listed.Notifications[0].Priority != "high" {
		t.Fatalf("expected one high priority entry, got %+v", listed)
	}
	var rendered string
	for _, content := range raw.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			rendered += text.Text
		}
	}
	if !strings.Contains(rendered, "INBOX NOTIFICATIONS (1)") {
		t.Fatalf("expected rendered inbox, got %q", rendered)
	}

	marked, _ := callTool[domain.NotificationResult](t, session, "inbox_mark", map[string]any{
		"seq":    listed.Notifications[0].Seq,
		"status": "read",
	})
	if marked.Status != "read" {
		t.Fatalf("expected read status, got %q", marked.Status)
	}
}

func TestServerReportsToolErrors(t *testing.T) {
	t.Parallel()

	server, err := New(DependenciesFromApp(openTestApp(t)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "session_status", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("call session_status: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error without an active session")
	}
}

func TestAddMCPToolRejectsUnsupportedHandler(t *testing.T) {
	t.Parallel()

	server := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	err := addMCPTool(server, &mcp.Tool{Name: "bogus"}, func() {})
	if err == nil {
		t.Fatal("expected error for unsupported handler")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected tool name in error, got %v", err)
	}
}

func TestRunRejectsUnknownTransport(t *testing.T) {
	t.Parallel()

	if err := Run(context.Background(), openTestApp(t), "carrier-pigeon", ""); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}
