package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	sessiondomain "github.com/matt-davison/agent-quest/internal/session/domain"
)

// Defaults resolves omitted identities and session ids.
type Defaults interface {
	Identity(ctx context.Context, explicit string) (string, error)
	SessionID(ctx context.Context, explicit string) (string, error)
}

// ParticipantResult is one seat of a session.
type ParticipantResult struct {
	ID        string `json:"id" jsonschema:"participant identifier"`
	Identity  string `json:"identity" jsonschema:"player identity owning the seat"`
	Character string `json:"character" jsonschema:"character name"`
	Transport string `json:"transport" jsonschema:"local or remote"`
	Role      string `json:"role" jsonschema:"player or spectator"`
	Name      string `json:"name" jsonschema:"display name"`
	Class     string `json:"class" jsonschema:"character class"`
	Level     int    `json:"level" jsonschema:"character level"`
	HP        int    `json:"hp" jsonschema:"current hit points"`
	MaxHP     int    `json:"max_hp" jsonschema:"maximum hit points"`
	WP        int    `json:"wp" jsonschema:"current willpower"`
	MaxWP     int    `json:"max_wp" jsonschema:"maximum willpower"`
	Gold      int    `json:"gold" jsonschema:"gold carried"`
	Location  string `json:"location" jsonschema:"current location"`
	Group     string `json:"group" jsonschema:"group label"`
	Status    string `json:"status,omitempty" jsonschema:"seat status for remote players"`
}

// GroupResult is one location group.
type GroupResult struct {
	Label    string   `json:"label" jsonschema:"group label"`
	Location string   `json:"location" jsonschema:"shared location"`
	Members  []string `json:"members" jsonschema:"participant identifiers"`
}

// SessionResult summarizes the local session mirror.
type SessionResult struct {
	SessionID      string              `json:"session_id" jsonschema:"session identifier"`
	World          string              `json:"world" jsonschema:"world name"`
	SessionType    string              `json:"session_type" jsonschema:"local, remote or hybrid"`
	Status         string              `json:"status" jsonschema:"active or ended"`
	Host           string              `json:"host" jsonschema:"host identity"`
	Created        string              `json:"created" jsonschema:"RFC3339 creation time"`
	LastActivity   string              `json:"last_activity" jsonschema:"RFC3339 time of the last change"`
	Round          int                 `json:"round" jsonschema:"turn round"`
	CurrentGroup   string              `json:"current_group" jsonschema:"group whose turn it is"`
	LocalActions   []map[string]any    `json:"local_actions" jsonschema:"buffered local actions"`
	RemoteAwaiting []string            `json:"remote_awaiting" jsonschema:"remote players the turn waits on"`
	RemoteEnabled  bool                `json:"remote_enabled" jsonschema:"whether the session uses the shared mailbox"`
	Participants   []ParticipantResult `json:"participants" jsonschema:"seats in join order"`
	Groups         []GroupResult       `json:"groups" jsonschema:"groups sorted by label"`
}

func sessionResult(s sessiondomain.Session) SessionResult {
	result := SessionResult{
		SessionID:      s.SessionID,
		World:          s.World,
		SessionType:    string(s.SessionType),
		Status:         string(s.Status),
		Host:           s.Host.Identity,
		Created:        formatTime(s.Created),
		LastActivity:   formatTime(s.LastActivity),
		Round:          s.Turn.Round,
		CurrentGroup:   s.Turn.CurrentGroup,
		LocalActions:   actionMaps(s.Turn.PendingActions.Local),
		RemoteAwaiting: nonNil(s.Turn.PendingActions.RemoteAwaiting),
		RemoteEnabled:  s.Remote.Enabled,
		Participants:   make([]ParticipantResult, 0, len(s.Participants)),
		Groups:         make([]GroupResult, 0, len(s.Groups)),
	}
	for _, p := range s.Participants {
		result.Participants = append(result.Participants, ParticipantResult{
			ID:        p.ID,
			Identity:  p.Identity,
			Character: p.Character,
			Transport: string(p.Transport),
			Role:      string(p.Role),
			Name:      p.Name,
			Class:     p.Class,
			Level:     p.Level,
			HP:        p.HP,
			MaxHP:     p.MaxHP,
			WP:        p.WP,
			MaxWP:     p.MaxWP,
			Gold:      p.Gold,
			Location:  p.Location,
			Group:     p.Group,
			Status:    p.Status,
		})
	}
	labels := make([]string, 0, len(s.Groups))
	for label := range s.Groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		g := s.Groups[label]
		result.Groups = append(result.Groups, GroupResult{Label: label, Location: g.Location, Members: nonNil(g.Members)})
	}
	return result
}

// actionMaps decodes buffered actions. Actions that are not JSON objects
// are wrapped under "value".
func actionMaps(actions []json.RawMessage) []map[string]any {
	out := make([]map[string]any, 0, len(actions))
	for _, raw := range actions {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil || m == nil {
			var v any
			_ = json.Unmarshal(raw, &v)
			m = map[string]any{"value": v}
		}
		out = append(out, m)
	}
	return out
}

func rawActions(actions []map[string]any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(actions))
	for i, action := range actions {
		raw, err := json.Marshal(action)
		if err != nil {
			return nil, fmt.Errorf("encode action %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// textResult carries a rendered block alongside the structured output.
func textResult(text string) *mcp.CallToolResult {
	if text == "" {
		return nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
