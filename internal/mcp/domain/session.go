package domain

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	sessiondomain "github.com/matt-davison/agent-quest/internal/session/domain"
	"github.com/matt-davison/agent-quest/internal/session/service"
)

// SessionLifecycle is the part of the session manager the lifecycle tools use.
type SessionLifecycle interface {
	Create(ctx context.Context, in service.CreateInput) (sessiondomain.Session, error)
	Join(ctx context.Context, in service.JoinInput) (service.JoinResult, error)
	End(ctx context.Context) (service.EndResult, error)
	Status(ctx context.Context) (sessiondomain.Session, error)
}

// SessionCreateInput represents the MCP tool input for creating a session.
type SessionCreateInput struct {
	World        string   `json:"world,omitempty" jsonschema:"world the characters live in (defaults to alpha)"`
	Host         string   `json:"host,omitempty" jsonschema:"host identity (defaults to the configured player)"`
	Characters   []string `json:"characters" jsonschema:"one to four local character names"`
	RemoteGuests []string `json:"remote_guests,omitempty" jsonschema:"identities invited to play remotely"`
}

// SessionCreateTool defines the MCP tool schema for creating a session.
func SessionCreateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "session_create",
		Description: "Creates a local, remote or hybrid multiplayer session. Fails while another session or a dream is active.",
	}
}

// SessionCreateHandler executes a session create request.
func SessionCreateHandler(sessions SessionLifecycle, defaults Defaults) mcp.ToolHandlerFor[SessionCreateInput, SessionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SessionCreateInput) (*mcp.CallToolResult, SessionResult, error) {
		host, err := defaults.Identity(ctx, input.Host)
		if err != nil {
			return nil, SessionResult{}, fmt.Errorf("session create failed: %w", err)
		}
		world := input.World
		if world == "" {
			world = "alpha"
		}
		session, err := sessions.Create(ctx, service.CreateInput{
			World:        world,
			Host:         host,
			Characters:   input.Characters,
			RemoteGuests: input.RemoteGuests,
		})
		if err != nil {
			return nil, SessionResult{}, fmt.Errorf("session create failed: %w", err)
		}
		return nil, sessionResult(session), nil
	}
}

// SessionJoinInput represents the MCP tool input for joining a session.
type SessionJoinInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier from the invite"`
	Character string `json:"character" jsonschema:"character to play"`
	Identity  string `json:"identity,omitempty" jsonschema:"joining identity (defaults to the configured player)"`
	Spectator bool   `json:"spectator,omitempty" jsonschema:"join as a spectator without an outbox"`
}

// SessionJoinResult represents the MCP tool output for joining a session.
type SessionJoinResult struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
	Player    string `json:"player" jsonschema:"joined identity"`
	Character string `json:"character" jsonschema:"character name"`
	Role      string `json:"role" jsonschema:"player or spectator"`
	Status    string `json:"status" jsonschema:"seat status"`
}

// SessionJoinTool defines the MCP tool schema for joining a session.
func SessionJoinTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "session_join",
		Description: "Joins a remote session. Players get an outbox for their messages; spectators only watch.",
	}
}

// SessionJoinHandler executes a session join request.
func SessionJoinHandler(sessions SessionLifecycle, defaults Defaults) mcp.ToolHandlerFor[SessionJoinInput, SessionJoinResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SessionJoinInput) (*mcp.CallToolResult, SessionJoinResult, error) {
		who, err := defaults.Identity(ctx, input.Identity)
		if err != nil {
			return nil, SessionJoinResult{}, fmt.Errorf("session join failed: %w", err)
		}
		role := sessiondomain.RolePlayer
		if input.Spectator {
			role = sessiondomain.RoleSpectator
		}
		joined, err := sessions.Join(ctx, service.JoinInput{
			SessionID: input.SessionID,
			Identity:  who,
			Character: input.Character,
			Role:      role,
		})
		if err != nil {
			return nil, SessionJoinResult{}, fmt.Errorf("session join failed: %w", err)
		}
		return nil, SessionJoinResult{
			SessionID: joined.SessionID,
			Player:    joined.Player,
			Character: joined.Character,
			Role:      string(joined.Role),
			Status:    joined.Status,
		}, nil
	}
}

// SessionEndInput represents the MCP tool input for ending a session.
type SessionEndInput struct{}

// SessionEndResult represents the MCP tool output for ending a session.
type SessionEndResult struct {
	SessionID    string        `json:"session_id" jsonschema:"session identifier"`
	Status       string        `json:"status" jsonschema:"ended"`
	FinalState   SessionResult `json:"final_state" jsonschema:"mirror as it was when the session ended"`
	RemovedFiles []string      `json:"removed_files" jsonschema:"scratch files deleted"`
}

// SessionEndTool defines the MCP tool schema for ending a session.
func SessionEndTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "session_end",
		Description: "Ends the active session and clears its local mirror, scratch files and cursors.",
	}
}

// SessionEndHandler executes a session end request.
func SessionEndHandler(sessions SessionLifecycle) mcp.ToolHandlerFor[SessionEndInput, SessionEndResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SessionEndInput) (*mcp.CallToolResult, SessionEndResult, error) {
		ended, err := sessions.End(ctx)
		if err != nil {
			return nil, SessionEndResult{}, fmt.Errorf("session end failed: %w", err)
		}
		return nil, SessionEndResult{
			SessionID:    ended.SessionID,
			Status:       ended.Status,
			FinalState:   sessionResult(ended.FinalState),
			RemovedFiles: nonNil(ended.RemovedFiles),
		}, nil
	}
}

// SessionStatusInput represents the MCP tool input for reading the mirror.
type SessionStatusInput struct{}

// SessionStatusTool defines the MCP tool schema for reading the mirror.
func SessionStatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "session_status",
		Description: "Returns the local session mirror: participants, groups and the turn cursor.",
	}
}

// SessionStatusHandler executes a session status request.
func SessionStatusHandler(sessions SessionLifecycle) mcp.ToolHandlerFor[SessionStatusInput, SessionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SessionStatusInput) (*mcp.CallToolResult, SessionResult, error) {
		session, err := sessions.Status(ctx)
		if err != nil {
			return nil, SessionResult{}, fmt.Errorf("session status failed: %w", err)
		}
		return nil, sessionResult(session), nil
	}
}
