package domain

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matt-davison/agent-quest/internal/notifications/render"
	"github.com/matt-davison/agent-quest/internal/session/relay"
)

// Relay is the remote message surface the relay tools use.
type Relay interface {
	CheckMessages(ctx context.Context, sessionID, me string) ([]relay.PlayerMessages, error)
	PostMessage(ctx context.Context, sessionID, me string, in relay.PostInput) (relay.Posted, error)
	CheckTurn(ctx context.Context, sessionID, me string) (relay.TurnStatus, error)
	SessionInfo(ctx context.Context, sessionID string) (relay.Info, error)
}

// MessageResult is one message from another player's outbox.
type MessageResult struct {
	Player    string `json:"player" jsonschema:"sender identity"`
	Character string `json:"character" jsonschema:"sender character"`
	Seq       uint64 `json:"seq" jsonschema:"sequence number in the sender's outbox"`
	Type      string `json:"type" jsonschema:"message type"`
	Narrative string `json:"narrative" jsonschema:"message text"`
	To        string `json:"to,omitempty" jsonschema:"addressee when the message is directed"`
	Timestamp string `json:"timestamp,omitempty" jsonschema:"RFC3339 time the message was posted"`
	Outcome   string `json:"outcome,omitempty" jsonschema:"written, conflict or unavailable for a post"`
}

// MessagesCheckInput represents the MCP tool input for reading new messages.
type MessagesCheckInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session identifier (defaults to the active session)"`
	Identity  string `json:"identity,omitempty" jsonschema:"reading identity (defaults to the configured player)"`
}

// MessagesCheckResult represents the MCP tool output for reading new messages.
type MessagesCheckResult struct {
	SessionID string          `json:"session_id" jsonschema:"session identifier"`
	Messages  []MessageResult `json:"messages" jsonschema:"new messages ordered by sender then sequence"`
}

// MessagesCheckTool defines the MCP tool schema for reading new messages.
func MessagesCheckTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "messages_check",
		Description: "Returns messages other players posted since the last check. Each message is returned once.",
	}
}

// MessagesCheckHandler executes a message check. The rendered RT update block
// is returned as text content.
func MessagesCheckHandler(r Relay, defaults Defaults, loc render.Localizer) mcp.ToolHandlerFor[MessagesCheckInput, MessagesCheckResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input MessagesCheckInput) (*mcp.CallToolResult, MessagesCheckResult, error) {
		sid, who, err := resolvePair(ctx, defaults, input.SessionID, input.Identity)
		if err != nil {
			return nil, MessagesCheckResult{}, fmt.Errorf("messages check failed: %w", err)
		}
		batches, err := r.CheckMessages(ctx, sid, who)
		if err != nil {
			return nil, MessagesCheckResult{}, fmt.Errorf("messages check failed: %w", err)
		}
		result := MessagesCheckResult{SessionID: sid, Messages: []MessageResult{}}
		for _, batch := range batches {
			for _, msg := range batch.Messages {
				result.Messages = append(result.Messages, MessageResult{
					Player:    batch.Player,
					Character: batch.Character,
					Seq:       msg.Seq,
					Type:      msg.Type,
					Narrative: msg.Narrative,
					To:        msg.To,
					Timestamp: formatTime(msg.Timestamp),
				})
			}
		}
		return textResult(render.RTUpdate(loc, batches)), result, nil
	}
}

// MessagePostInput represents the MCP tool input for posting a message.
type MessagePostInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session identifier (defaults to the active session)"`
	Identity  string `json:"identity,omitempty" jsonschema:"sending identity (defaults to the configured player)"`
	Type      string `json:"type,omitempty" jsonschema:"message type (defaults to action)"`
	Narrative string `json:"narrative" jsonschema:"message text"`
	To        string `json:"to,omitempty" jsonschema:"addressee"`
}

// MessagePostTool defines the MCP tool schema for posting a message.
func MessagePostTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "message_post",
		Description: "Appends a message to the caller's outbox with the next sequence number.",
	}
}

// MessagePostHandler executes a message post.
func MessagePostHandler(r Relay, defaults Defaults) mcp.ToolHandlerFor[MessagePostInput, MessageResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input MessagePostInput) (*mcp.CallToolResult, MessageResult, error) {
		sid, who, err := resolvePair(ctx, defaults, input.SessionID, input.Identity)
		if err != nil {
			return nil, MessageResult{}, fmt.Errorf("message post failed: %w", err)
		}
		msg, err := r.PostMessage(ctx, sid, who, relay.PostInput{Type: input.Type, Narrative: input.Narrative, To: input.To})
		if err != nil {
			return nil, MessageResult{}, fmt.Errorf("message post failed: %w", err)
		}
		return nil, MessageResult{
			Player:    who,
			Seq:       msg.Seq,
			Type:      msg.Type,
			Narrative: msg.Narrative,
			To:        msg.To,
			Timestamp: formatTime(msg.Timestamp),
			Outcome:   msg.Outcome,
		}, nil
	}
}

// TurnCheckInput represents the MCP tool input for an initiative check.
type TurnCheckInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session identifier (defaults to the active session)"`
	Identity  string `json:"identity,omitempty" jsonschema:"identity to check (defaults to the configured player)"`
}

// TurnCheckResult represents the MCP tool output for an initiative check.
type TurnCheckResult struct {
	IsMyTurn      bool     `json:"is_my_turn" jsonschema:"whether the identity may act"`
	Reason        string   `json:"reason,omitempty" jsonschema:"no_state, no_encounter or no_turn_order when everyone may act"`
	CurrentPlayer string   `json:"current_player,omitempty" jsonschema:"identity whose turn it is"`
	TurnIndex     *int     `json:"turn_index,omitempty" jsonschema:"index into the turn order"`
	TurnOrder     []string `json:"turn_order,omitempty" jsonschema:"initiative order"`
}

// TurnCheckTool defines the MCP tool schema for an initiative check.
func TurnCheckTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "turn_check",
		Description: "Reads the shared encounter state and reports whether it is the caller's turn under strict initiative.",
	}
}

// TurnCheckHandler executes an initiative check.
func TurnCheckHandler(r Relay, defaults Defaults) mcp.ToolHandlerFor[TurnCheckInput, TurnCheckResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input TurnCheckInput) (*mcp.CallToolResult, TurnCheckResult, error) {
		sid, who, err := resolvePair(ctx, defaults, input.SessionID, input.Identity)
		if err != nil {
			return nil, TurnCheckResult{}, fmt.Errorf("turn check failed: %w", err)
		}
		status, err := r.CheckTurn(ctx, sid, who)
		if err != nil {
			return nil, TurnCheckResult{}, fmt.Errorf("turn check failed: %w", err)
		}
		return nil, TurnCheckResult(status), nil
	}
}

// SeatResult is a host or guest seat in a manifest.
type SeatResult struct {
	Identity  string `json:"identity" jsonschema:"player identity"`
	Character string `json:"character" jsonschema:"character name"`
	Status    string `json:"status,omitempty" jsonschema:"invited or joined"`
	Role      string `json:"role,omitempty" jsonschema:"player or spectator"`
}

// SessionInfoInput represents the MCP tool input for describing a session.
type SessionInfoInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session identifier (defaults to the active session)"`
}

// SessionInfoResult represents the MCP tool output for describing a session.
type SessionInfoResult struct {
	Source       string       `json:"source" jsonschema:"remote when read from the shared manifest, local for the mirror"`
	SessionID    string       `json:"session_id" jsonschema:"session identifier"`
	World        string       `json:"world" jsonschema:"world name"`
	Status       string       `json:"status" jsonschema:"active or ended"`
	Host         SeatResult   `json:"host" jsonschema:"host seat"`
	Guests       []SeatResult `json:"guests" jsonschema:"remote seats"`
	LastActivity string       `json:"last_activity" jsonschema:"RFC3339 time of the last change"`
}

// SessionInfoTool defines the MCP tool schema for describing a session.
func SessionInfoTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "session_info",
		Description: "Describes a session from its shared manifest, falling back to the local mirror.",
	}
}

// SessionInfoHandler executes a session description request.
func SessionInfoHandler(r Relay, defaults Defaults) mcp.ToolHandlerFor[SessionInfoInput, SessionInfoResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SessionInfoInput) (*mcp.CallToolResult, SessionInfoResult, error) {
		sid, err := defaults.SessionID(ctx, input.SessionID)
		if err != nil {
			return nil, SessionInfoResult{}, fmt.Errorf("session info failed: %w", err)
		}
		info, err := r.SessionInfo(ctx, sid)
		if err != nil {
			return nil, SessionInfoResult{}, fmt.Errorf("session info failed: %w", err)
		}
		return nil, sessionInfoResult(info), nil
	}
}

func sessionInfoResult(info relay.Info) SessionInfoResult {
	result := SessionInfoResult{Source: info.Source, Guests: []SeatResult{}}
	switch {
	case info.Manifest != nil:
		m := info.Manifest
		result.SessionID = m.SessionID
		result.World = m.World
		result.Status = m.Status
		result.Host = SeatResult{Identity: m.Host.Identity, Character: m.Host.Character}
		result.LastActivity = formatTime(m.LastActivity)
		for _, g := range m.Guests {
			result.Guests = append(result.Guests, SeatResult(g))
		}
	case info.Session != nil:
		s := info.Session
		result.SessionID = s.SessionID
		result.World = s.World
		result.Status = string(s.Status)
		result.Host = SeatResult{Identity: s.Host.Identity}
		result.LastActivity = formatTime(s.LastActivity)
		for _, p := range s.Participants {
			if p.Identity == s.Host.Identity && result.Host.Character == "" {
				result.Host.Character = p.Character
				continue
			}
			if p.Identity == s.Host.Identity {
				continue
			}
			result.Guests = append(result.Guests, SeatResult{
				Identity:  p.Identity,
				Character: p.Character,
				Status:    p.Status,
				Role:      string(p.Role),
			})
		}
	}
	return result
}

func resolvePair(ctx context.Context, defaults Defaults, sessionID, identity string) (string, string, error) {
	sid, err := defaults.SessionID(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	who, err := defaults.Identity(ctx, identity)
	if err != nil {
		return "", "", err
	}
	return sid, who, nil
}
