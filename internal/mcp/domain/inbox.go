package domain

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matt-davison/agent-quest/internal/mailbox"
	notifydomain "github.com/matt-davison/agent-quest/internal/notifications/domain"
	"github.com/matt-davison/agent-quest/internal/notifications/render"
)

// Inbox is the notification surface the inbox tools use.
type Inbox interface {
	Send(ctx context.Context, in notifydomain.SendInput) (notifydomain.Receipt, error)
	SendInvite(ctx context.Context, sessionID, target, from, fromCharacter string) (notifydomain.Receipt, error)
	Check(ctx context.Context, identity string) ([]notifydomain.Entry, error)
	Count(ctx context.Context, identity string) (notifydomain.Counts, error)
	Mark(ctx context.Context, identity string, seq uint64, status string) (notifydomain.Marked, error)
}

// NotificationResult is one inbox entry.
type NotificationResult struct {
	Seq           uint64            `json:"seq" jsonschema:"sequence number in the inbox"`
	Type          string            `json:"type" jsonschema:"notification type"`
	From          string            `json:"from" jsonschema:"sender identity"`
	FromCharacter string            `json:"from_character" jsonschema:"sender character"`
	SessionID     string            `json:"session_id,omitempty" jsonschema:"session an invite points to"`
	Message       string            `json:"message,omitempty" jsonschema:"notification text"`
	Subject       string            `json:"subject,omitempty" jsonschema:"mail subject"`
	Status        string            `json:"status" jsonschema:"recipient status"`
	Timestamp     string            `json:"timestamp" jsonschema:"RFC3339 send time"`
	Expires       string            `json:"expires,omitempty" jsonschema:"RFC3339 expiry time"`
	Priority      string            `json:"priority,omitempty" jsonschema:"high, medium or low"`
	Expiry        string            `json:"expiry,omitempty" jsonschema:"localized time left"`
	Extra         map[string]string `json:"extra,omitempty" jsonschema:"type-specific fields"`
	Outcome       string            `json:"outcome,omitempty" jsonschema:"written, unchanged, conflict or unavailable after a status change"`
}

func notificationResult(n mailbox.Notification) NotificationResult {
	return NotificationResult{
		Seq:           n.Seq,
		Type:          n.Type,
		From:          n.From,
		FromCharacter: n.FromCharacter,
		SessionID:     n.SessionID,
		Message:       n.Message,
		Subject:       n.Subject,
		Status:        n.Status,
		Timestamp:     formatTime(n.Timestamp),
		Expires:       formatTime(n.Expires),
		Extra:         n.Extra,
	}
}

// InboxCheckInput represents the MCP tool input for listing the inbox.
type InboxCheckInput struct {
	Identity string `json:"identity,omitempty" jsonschema:"inbox owner (defaults to the configured player)"`
}

// InboxCheckResult represents the MCP tool output for listing the inbox.
type InboxCheckResult struct {
	Identity      string               `json:"identity" jsonschema:"inbox owner"`
	Notifications []NotificationResult `json:"notifications" jsonschema:"actionable notifications, most urgent first"`
}

// InboxCheckTool defines the MCP tool schema for listing the inbox.
func InboxCheckTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "inbox_check",
		Description: "Lists actionable inbox notifications ranked by priority. The boxed listing is returned as text content.",
	}
}

// InboxCheckHandler executes an inbox listing.
func InboxCheckHandler(inbox Inbox, defaults Defaults, loc render.Localizer) mcp.ToolHandlerFor[InboxCheckInput, InboxCheckResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input InboxCheckInput) (*mcp.CallToolResult, InboxCheckResult, error) {
		who, err := defaults.Identity(ctx, input.Identity)
		if err != nil {
			return nil, InboxCheckResult{}, fmt.Errorf("inbox check failed: %w", err)
		}
		entries, err := inbox.Check(ctx, who)
		if err != nil {
			return nil, InboxCheckResult{}, fmt.Errorf("inbox check failed: %w", err)
		}
		result := InboxCheckResult{Identity: who, Notifications: make([]NotificationResult, 0, len(entries))}
		for _, entry := range entries {
			n := notificationResult(entry.Notification)
			n.Priority = string(entry.Priority)
			n.Expiry = render.Expiry(loc, entry.Expiry)
			result.Notifications = append(result.Notifications, n)
		}
		return textResult(render.Inbox(loc, entries)), result, nil
	}
}

// InboxCountInput represents the MCP tool input for counting the inbox.
type InboxCountInput struct {
	Identity string `json:"identity,omitempty" jsonschema:"inbox owner (defaults to the configured player)"`
}

// InboxCountResult represents the MCP tool output for counting the inbox.
type InboxCountResult struct {
	Total  int `json:"total" jsonschema:"actionable notifications"`
	Urgent int `json:"urgent" jsonschema:"high priority notifications"`
}

// InboxCountTool defines the MCP tool schema for counting the inbox.
func InboxCountTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "inbox_count",
		Description: "Counts actionable inbox notifications and how many are urgent.",
	}
}

// InboxCountHandler executes an inbox count.
func InboxCountHandler(inbox Inbox, defaults Defaults) mcp.ToolHandlerFor[InboxCountInput, InboxCountResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input InboxCountInput) (*mcp.CallToolResult, InboxCountResult, error) {
		who, err := defaults.Identity(ctx, input.Identity)
		if err != nil {
			return nil, InboxCountResult{}, fmt.Errorf("inbox count failed: %w", err)
		}
		counts, err := inbox.Count(ctx, who)
		if err != nil {
			return nil, InboxCountResult{}, fmt.Errorf("inbox count failed: %w", err)
		}
		return nil, InboxCountResult(counts), nil
	}
}

// InboxMarkInput represents the MCP tool input for updating a notification.
type InboxMarkInput struct {
	Identity string `json:"identity,omitempty" jsonschema:"inbox owner (defaults to the configured player)"`
	Seq      uint64 `json:"seq" jsonschema:"notification sequence number"`
	Status   string `json:"status" jsonschema:"read, claimed, deleted or expired"`
}

// InboxMarkTool defines the MCP tool schema for updating a notification.
func InboxMarkTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "inbox_mark",
		Description: "Sets the recipient status of one notification.",
	}
}

// InboxMarkHandler executes a notification status change.
func InboxMarkHandler(inbox Inbox, defaults Defaults) mcp.ToolHandlerFor[InboxMarkInput, NotificationResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input InboxMarkInput) (*mcp.CallToolResult, NotificationResult, error) {
		who, err := defaults.Identity(ctx, input.Identity)
		if err != nil {
			return nil, NotificationResult{}, fmt.Errorf("inbox mark failed: %w", err)
		}
		n, err := inbox.Mark(ctx, who, input.Seq, input.Status)
		if err != nil {
			return nil, NotificationResult{}, fmt.Errorf("inbox mark failed: %w", err)
		}
		result := notificationResult(n.Notification)
		result.Outcome = n.Outcome
		return nil, result, nil
	}
}

// ReceiptResult reports a notification send.
type ReceiptResult struct {
	Sent      bool   `json:"sent" jsonschema:"whether the notification was written"`
	Outcome   string `json:"outcome" jsonschema:"written, unchanged, conflict or unavailable"`
	Type      string `json:"type" jsonschema:"notification type"`
	To        string `json:"to" jsonschema:"recipient identity"`
	From      string `json:"from" jsonschema:"sender identity"`
	SessionID string `json:"session_id,omitempty" jsonschema:"session an invite points to"`
	Seq       uint64 `json:"seq" jsonschema:"sequence number in the recipient's inbox"`
}

func receiptResult(r notifydomain.Receipt) ReceiptResult {
	return ReceiptResult{
		Sent:      r.Sent,
		Outcome:   r.Outcome,
		Type:      string(r.Type),
		To:        r.To,
		From:      r.From,
		SessionID: r.SessionID,
		Seq:       r.Seq,
	}
}

// NotificationSendInput represents the MCP tool input for sending a notification.
type NotificationSendInput struct {
	Type          string            `json:"type" jsonschema:"duel-challenge, trade-offer, mail, party-invite, guild-invite or friend-request"`
	Target        string            `json:"target" jsonschema:"recipient identity"`
	From          string            `json:"from,omitempty" jsonschema:"sender identity (defaults to the configured player)"`
	FromCharacter string            `json:"from_character,omitempty" jsonschema:"sender character"`
	Message       string            `json:"message" jsonschema:"notification text"`
	Extra         map[string]string `json:"extra,omitempty" jsonschema:"type-specific fields such as subject"`
}

// NotificationSendTool defines the MCP tool schema for sending a notification.
func NotificationSendTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "notification_send",
		Description: "Appends a notification to another player's inbox. Session invites use invite_send.",
	}
}

// NotificationSendHandler executes a notification send.
func NotificationSendHandler(inbox Inbox, defaults Defaults) mcp.ToolHandlerFor[NotificationSendInput, ReceiptResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input NotificationSendInput) (*mcp.CallToolResult, ReceiptResult, error) {
		from, err := defaults.Identity(ctx, input.From)
		if err != nil {
			return nil, ReceiptResult{}, fmt.Errorf("notification send failed: %w", err)
		}
		receipt, err := inbox.Send(ctx, notifydomain.SendInput{
			Type:          input.Type,
			Target:        input.Target,
			From:          from,
			FromCharacter: input.FromCharacter,
			Message:       input.Message,
			Extra:         input.Extra,
		})
		if err != nil {
			return nil, ReceiptResult{}, fmt.Errorf("notification send failed: %w", err)
		}
		return nil, receiptResult(receipt), nil
	}
}

// InviteSendInput represents the MCP tool input for inviting a player.
type InviteSendInput struct {
	SessionID     string `json:"session_id,omitempty" jsonschema:"session identifier (defaults to the active session)"`
	Target        string `json:"target" jsonschema:"invited identity"`
	From          string `json:"from,omitempty" jsonschema:"inviting identity (defaults to the configured player)"`
	FromCharacter string `json:"from_character,omitempty" jsonschema:"inviting character"`
}

// InviteSendTool defines the MCP tool schema for inviting a player.
func InviteSendTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "invite_send",
		Description: "Sends a multiplayer session invite that expires after one hour.",
	}
}

// InviteSendHandler executes a session invite.
func InviteSendHandler(inbox Inbox, defaults Defaults) mcp.ToolHandlerFor[InviteSendInput, ReceiptResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input InviteSendInput) (*mcp.CallToolResult, ReceiptResult, error) {
		sid, from, err := resolvePair(ctx, defaults, input.SessionID, input.From)
		if err != nil {
			return nil, ReceiptResult{}, fmt.Errorf("invite send failed: %w", err)
		}
		receipt, err := inbox.SendInvite(ctx, sid, input.Target, from, input.FromCharacter)
		if err != nil {
			return nil, ReceiptResult{}, fmt.Errorf("invite send failed: %w", err)
		}
		return nil, receiptResult(receipt), nil
	}
}
