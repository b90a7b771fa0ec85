package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	sessiondomain "github.com/matt-davison/agent-quest/internal/session/domain"
	"github.com/matt-davison/agent-quest/internal/session/service"
)

// TurnCoordinator is the part of the session manager the group and turn
// tools use.
type TurnCoordinator interface {
	NextTurn(ctx context.Context) (sessiondomain.Session, error)
	Split(ctx context.Context, participantID, toGroup string) (sessiondomain.Session, error)
	Merge(ctx context.Context, a, b string) (sessiondomain.Session, error)
	UpdateLocation(ctx context.Context, participantID, location string) (sessiondomain.Session, error)
	RecalculateGroups(ctx context.Context) (sessiondomain.Session, error)
	SubmitLocalActions(ctx context.Context, actions []json.RawMessage) (service.SubmitResult, error)
	CheckGroupReady(ctx context.Context) (sessiondomain.Readiness, error)
	ResolveGroupTurn(ctx context.Context) (sessiondomain.Resolution, error)
}

// TurnNextInput represents the MCP tool input for advancing the turn.
type TurnNextInput struct{}

// TurnNextTool defines the MCP tool schema for advancing the turn.
func TurnNextTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "turn_next",
		Description: "Advances to the next group's turn, starting a new round after the last group.",
	}
}

// TurnNextHandler executes a turn advance.
func TurnNextHandler(turns TurnCoordinator) mcp.ToolHandlerFor[TurnNextInput, SessionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ TurnNextInput) (*mcp.CallToolResult, SessionResult, error) {
		session, err := turns.NextTurn(ctx)
		if err != nil {
			return nil, SessionResult{}, fmt.Errorf("turn next failed: %w", err)
		}
		return nil, sessionResult(session), nil
	}
}

// GroupSplitInput represents the MCP tool input for splitting a participant
// off its group.
type GroupSplitInput struct {
	Participant string `json:"participant" jsonschema:"participant identifier"`
	ToGroup     string `json:"to_group,omitempty" jsonschema:"group to move into (defaults to a new group)"`
}

// GroupSplitTool defines the MCP tool schema for splitting a group.
func GroupSplitTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "group_split",
		Description: "Moves a participant out of its group into another or a new one. Location is unchanged.",
	}
}

// GroupSplitHandler executes a group split.
func GroupSplitHandler(turns TurnCoordinator) mcp.ToolHandlerFor[GroupSplitInput, SessionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GroupSplitInput) (*mcp.CallToolResult, SessionResult, error) {
		session, err := turns.Split(ctx, input.Participant, input.ToGroup)
		if err != nil {
			return nil, SessionResult{}, fmt.Errorf("group split failed: %w", err)
		}
		return nil, sessionResult(session), nil
	}
}

// GroupMergeInput represents the MCP tool input for merging two groups.
type GroupMergeInput struct {
	Into string `json:"into" jsonschema:"group that survives"`
	From string `json:"from" jsonschema:"group whose members move"`
}

// GroupMergeTool defines the MCP tool schema for merging groups.
func GroupMergeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "group_merge",
		Description: "Merges one group into another; moved members adopt the surviving group's location.",
	}
}

// GroupMergeHandler executes a group merge.
func GroupMergeHandler(turns TurnCoordinator) mcp.ToolHandlerFor[GroupMergeInput, SessionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GroupMergeInput) (*mcp.CallToolResult, SessionResult, error) {
		session, err := turns.Merge(ctx, input.Into, input.From)
		if err != nil {
			return nil, SessionResult{}, fmt.Errorf("group merge failed: %w", err)
		}
		return nil, sessionResult(session), nil
	}
}

// LocationUpdateInput represents the MCP tool input for moving a participant.
type LocationUpdateInput struct {
	Participant string `json:"participant" jsonschema:"participant identifier"`
	Location    string `json:"location" jsonschema:"new location"`
}

// LocationUpdateTool defines the MCP tool schema for moving a participant.
func LocationUpdateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "location_update",
		Description: "Sets a participant's location and regroups everyone by location.",
	}
}

// LocationUpdateHandler executes a location update.
func LocationUpdateHandler(turns TurnCoordinator) mcp.ToolHandlerFor[LocationUpdateInput, SessionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input LocationUpdateInput) (*mcp.CallToolResult, SessionResult, error) {
		session, err := turns.UpdateLocation(ctx, input.Participant, input.Location)
		if err != nil {
			return nil, SessionResult{}, fmt.Errorf("location update failed: %w", err)
		}
		return nil, sessionResult(session), nil
	}
}

// GroupsUpdateInput represents the MCP tool input for regrouping.
type GroupsUpdateInput struct{}

// GroupsUpdateTool defines the MCP tool schema for regrouping.
func GroupsUpdateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "groups_update",
		Description: "Recalculates groups from the participants' current locations.",
	}
}

// GroupsUpdateHandler executes a regroup.
func GroupsUpdateHandler(turns TurnCoordinator) mcp.ToolHandlerFor[GroupsUpdateInput, SessionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ GroupsUpdateInput) (*mcp.CallToolResult, SessionResult, error) {
		session, err := turns.RecalculateGroups(ctx)
		if err != nil {
			return nil, SessionResult{}, fmt.Errorf("groups update failed: %w", err)
		}
		return nil, sessionResult(session), nil
	}
}

// ActionsSubmitInput represents the MCP tool input for buffering actions.
type ActionsSubmitInput struct {
	Actions []map[string]any `json:"actions" jsonschema:"local actions for the current group, replacing any buffered ones"`
}

// ActionsSubmitResult represents the MCP tool output for buffering actions.
type ActionsSubmitResult struct {
	Submitted bool             `json:"submitted" jsonschema:"whether the buffer was written"`
	Actions   []map[string]any `json:"actions" jsonschema:"buffered actions"`
}

// ActionsSubmitTool defines the MCP tool schema for buffering actions.
func ActionsSubmitTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "actions_submit",
		Description: "Buffers the local players' actions for the current group turn.",
	}
}

// ActionsSubmitHandler executes an action submission.
func ActionsSubmitHandler(turns TurnCoordinator) mcp.ToolHandlerFor[ActionsSubmitInput, ActionsSubmitResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ActionsSubmitInput) (*mcp.CallToolResult, ActionsSubmitResult, error) {
		actions, err := rawActions(input.Actions)
		if err != nil {
			return nil, ActionsSubmitResult{}, fmt.Errorf("actions submit failed: %w", err)
		}
		submitted, err := turns.SubmitLocalActions(ctx, actions)
		if err != nil {
			return nil, ActionsSubmitResult{}, fmt.Errorf("actions submit failed: %w", err)
		}
		return nil, ActionsSubmitResult{Submitted: submitted.Submitted, Actions: actionMaps(submitted.Actions)}, nil
	}
}

// GroupReadyInput represents the MCP tool input for a readiness check.
type GroupReadyInput struct{}

// GroupReadyResult represents the MCP tool output for a readiness check.
type GroupReadyResult struct {
	Ready          bool     `json:"ready" jsonschema:"local actions are in and no remote player is awaited"`
	LocalSubmitted bool     `json:"local_submitted" jsonschema:"whether local actions are buffered"`
	RemoteAwaiting []string `json:"remote_awaiting" jsonschema:"remote players still to act"`
}

// GroupReadyTool defines the MCP tool schema for a readiness check.
func GroupReadyTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "group_ready",
		Description: "Reports whether the current group turn can be resolved.",
	}
}

// GroupReadyHandler executes a readiness check.
func GroupReadyHandler(turns TurnCoordinator) mcp.ToolHandlerFor[GroupReadyInput, GroupReadyResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ GroupReadyInput) (*mcp.CallToolResult, GroupReadyResult, error) {
		readiness, err := turns.CheckGroupReady(ctx)
		if err != nil {
			return nil, GroupReadyResult{}, fmt.Errorf("group ready failed: %w", err)
		}
		return nil, GroupReadyResult{
			Ready:          readiness.Ready,
			LocalSubmitted: readiness.LocalSubmitted,
			RemoteAwaiting: nonNil(readiness.RemoteAwaiting),
		}, nil
	}
}

// GroupResolveInput represents the MCP tool input for resolving a turn.
type GroupResolveInput struct{}

// GroupResolveResult represents the MCP tool output for resolving a turn.
type GroupResolveResult struct {
	LocalActions []map[string]any `json:"local_actions" jsonschema:"actions to narrate"`
	Group        string           `json:"group" jsonschema:"group that acted"`
	Round        int              `json:"round" jsonschema:"round of the turn"`
}

// GroupResolveTool defines the MCP tool schema for resolving a turn.
func GroupResolveTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "group_resolve",
		Description: "Returns the buffered actions of the current group and clears the buffer. Does not advance the turn.",
	}
}

// GroupResolveHandler executes a turn resolution.
func GroupResolveHandler(turns TurnCoordinator) mcp.ToolHandlerFor[GroupResolveInput, GroupResolveResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ GroupResolveInput) (*mcp.CallToolResult, GroupResolveResult, error) {
		resolution, err := turns.ResolveGroupTurn(ctx)
		if err != nil {
			return nil, GroupResolveResult{}, fmt.Errorf("group resolve failed: %w", err)
		}
		return nil, GroupResolveResult{
			LocalActions: actionMaps(resolution.LocalActions),
			Group:        resolution.Group,
			Round:        resolution.Round,
		}, nil
	}
}
