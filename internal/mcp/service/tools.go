package service

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matt-davison/agent-quest/internal/mcp/domain"
	"github.com/matt-davison/agent-quest/internal/notifications/render"
)

type mcpRegistrationTarget interface {
	AddTool(*mcp.Tool, any) error
}

type toolRegistration struct {
	tool    *mcp.Tool
	handler any
}

func registerAll(registrar mcpRegistrationTarget, registrations []toolRegistration) error {
	for _, registration := range registrations {
		if err := registrar.AddTool(registration.tool, registration.handler); err != nil {
			return err
		}
	}
	return nil
}

func registerSessionTools(registrar mcpRegistrationTarget, sessions domain.SessionLifecycle, defaults domain.Defaults) error {
	return registerAll(registrar, []toolRegistration{
		{tool: domain.SessionCreateTool(), handler: domain.SessionCreateHandler(sessions, defaults)},
		{tool: domain.SessionJoinTool(), handler: domain.SessionJoinHandler(sessions, defaults)},
		{tool: domain.SessionEndTool(), handler: domain.SessionEndHandler(sessions)},
		{tool: domain.SessionStatusTool(), handler: domain.SessionStatusHandler(sessions)},
	})
}

func registerTurnTools(registrar mcpRegistrationTarget, turns domain.TurnCoordinator) error {
	return registerAll(registrar, []toolRegistration{
		{tool: domain.TurnNextTool(), handler: domain.TurnNextHandler(turns)},
		{tool: domain.GroupSplitTool(), handler: domain.GroupSplitHandler(turns)},
		{tool: domain.GroupMergeTool(), handler: domain.GroupMergeHandler(turns)},
		{tool: domain.LocationUpdateTool(), handler: domain.LocationUpdateHandler(turns)},
		{tool: domain.GroupsUpdateTool(), handler: domain.GroupsUpdateHandler(turns)},
		{tool: domain.ActionsSubmitTool(), handler: domain.ActionsSubmitHandler(turns)},
		{tool: domain.GroupReadyTool(), handler: domain.GroupReadyHandler(turns)},
		{tool: domain.GroupResolveTool(), handler: domain.GroupResolveHandler(turns)},
	})
}

func registerRelayTools(registrar mcpRegistrationTarget, r domain.Relay, defaults domain.Defaults, loc render.Localizer) error {
	return registerAll(registrar, []toolRegistration{
		{tool: domain.MessagesCheckTool(), handler: domain.MessagesCheckHandler(r, defaults, loc)},
		{tool: domain.MessagePostTool(), handler: domain.MessagePostHandler(r, defaults)},
		{tool: domain.TurnCheckTool(), handler: domain.TurnCheckHandler(r, defaults)},
		{tool: domain.SessionInfoTool(), handler: domain.SessionInfoHandler(r, defaults)},
	})
}

func registerInboxTools(registrar mcpRegistrationTarget, inbox domain.Inbox, defaults domain.Defaults, loc render.Localizer) error {
	return registerAll(registrar, []toolRegistration{
		{tool: domain.InboxCheckTool(), handler: domain.InboxCheckHandler(inbox, defaults, loc)},
		{tool: domain.InboxCountTool(), handler: domain.InboxCountHandler(inbox, defaults)},
		{tool: domain.InboxMarkTool(), handler: domain.InboxMarkHandler(inbox, defaults)},
		{tool: domain.NotificationSendTool(), handler: domain.NotificationSendHandler(inbox, defaults)},
		{tool: domain.InviteSendTool(), handler: domain.InviteSendHandler(inbox, defaults)},
	})
}
