package service

import (
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matt-davison/agent-quest/internal/mcp/domain"
)

type mcpRegistrationModule struct {
	name     string
	register func(mcpRegistrationTarget) error
}

const (
	mcpSessionToolsModuleName = "session-tools"
	mcpTurnToolsModuleName    = "turn-tools"
	mcpRelayToolsModuleName   = "relay-tools"
	mcpInboxToolsModuleName   = "inbox-tools"
)

type mcpServerRegistrationAdapter struct {
	server *mcp.Server
}

func (r mcpServerRegistrationAdapter) AddTool(tool *mcp.Tool, handler any) error {
	return addMCPTool(r.server, tool, handler)
}

type mcpToolRegistrar struct {
	matches func(any) bool
	add     func(*mcp.Server, *mcp.Tool, any)
}

func newMCPToolRegistrar[I any, O any]() mcpToolRegistrar {
	return mcpToolRegistrar{
		matches: func(handler any) bool {
			_, ok := handler.(mcp.ToolHandlerFor[I, O])
			return ok
		},
		add: func(server *mcp.Server, tool *mcp.Tool, handler any) {
			mcp.AddTool(server, tool, handler.(mcp.ToolHandlerFor[I, O]))
		},
	}
}

var mcpToolRegistrars = []mcpToolRegistrar{
	newMCPToolRegistrar[domain.SessionCreateInput, domain.SessionResult](),
	newMCPToolRegistrar[domain.SessionJoinInput, domain.SessionJoinResult](),
	newMCPToolRegistrar[domain.SessionEndInput, domain.SessionEndResult](),
	newMCPToolRegistrar[domain.SessionStatusInput, domain.SessionResult](),
	newMCPToolRegistrar[domain.TurnNextInput, domain.SessionResult](),
	newMCPToolRegistrar[domain.GroupSplitInput, domain.SessionResult](),
	newMCPToolRegistrar[domain.GroupMergeInput, domain.SessionResult](),
	newMCPToolRegistrar[domain.LocationUpdateInput, domain.SessionResult](),
	newMCPToolRegistrar[domain.GroupsUpdateInput, domain.SessionResult](),
	newMCPToolRegistrar[domain.ActionsSubmitInput, domain.ActionsSubmitResult](),
	newMCPToolRegistrar[domain.GroupReadyInput, domain.GroupReadyResult](),
	newMCPToolRegistrar[domain.GroupResolveInput, domain.GroupResolveResult](),
	newMCPToolRegistrar[domain.MessagesCheckInput, domain.MessagesCheckResult](),
	newMCPToolRegistrar[domain.MessagePostInput, domain.MessageResult](),
	newMCPToolRegistrar[domain.TurnCheckInput, domain.TurnCheckResult](),
	newMCPToolRegistrar[domain.SessionInfoInput, domain.SessionInfoResult](),
	newMCPToolRegistrar[domain.InboxCheckInput, domain.InboxCheckResult](),
	newMCPToolRegistrar[domain.InboxCountInput, domain.InboxCountResult](),
	newMCPToolRegistrar[domain.InboxMarkInput, domain.NotificationResult](),
	newMCPToolRegistrar[domain.NotificationSendInput, domain.ReceiptResult](),
	newMCPToolRegistrar[domain.InviteSendInput, domain.ReceiptResult](),
}

func addMCPTool(server *mcp.Server, tool *mcp.Tool, handler any) error {
	for _, registrar := range mcpToolRegistrars {
		if registrar.matches(handler) {
			registrar.add(server, tool, handler)
			return nil
		}
	}
	toolName := "<nil>"
	if tool != nil {
		toolName = tool.Name
	}
	return fmt.Errorf("mcp registration adapter does not support handler type %T for tool %q", handler, toolName)
}

func newMCPRegistrationModules(deps Dependencies) []mcpRegistrationModule {
	return []mcpRegistrationModule{
		{
			name: mcpSessionToolsModuleName,
			register: func(registrar mcpRegistrationTarget) error {
				return registerSessionTools(registrar, deps.Sessions, deps.Defaults)
			},
		},
		{
			name: mcpTurnToolsModuleName,
			register: func(registrar mcpRegistrationTarget) error {
				return registerTurnTools(registrar, deps.Turns)
			},
		},
		{
			name: mcpRelayToolsModuleName,
			register: func(registrar mcpRegistrationTarget) error {
				return registerRelayTools(registrar, deps.Relay, deps.Defaults, deps.Localizer)
			},
		},
		{
			name: mcpInboxToolsModuleName,
			register: func(registrar mcpRegistrationTarget) error {
				return registerInboxTools(registrar, deps.Inbox, deps.Defaults, deps.Localizer)
			},
		},
	}
}
