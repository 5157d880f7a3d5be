// Package agentkit is the public surface of the agent runtime SDK.
//
// It re-exports the runtime, its configuration, and the collaborator
// contracts (providers, tools, hooks, permissions, session stores) so hosts
// can embed the agent loop without reaching into internal packages:
//
//	options := &agentkit.Options{
//	    Provider: agentkit.NewOpenAIResponses(agentkit.OpenAIResponsesConfig{}),
//	    Model:    "gpt-4o",
//	    Cwd:      cwd,
//	    Tools:    agentkit.BuiltinRegistry(cwd),
//	    Gate:     &agentkit.Gate{Mode: agentkit.PermissionBypass},
//	    Hooks:    &agentkit.HookEngine{},
//	}
//	run, err := agentkit.NewRuntime(options).Query(ctx, "hello")
//	for e := range run.Events() { ... }
package agentkit

import (
	"github.com/haasonsaas/agentkit/internal/agent"
	"github.com/haasonsaas/agentkit/internal/compaction"
	"github.com/haasonsaas/agentkit/internal/hooks"
	"github.com/haasonsaas/agentkit/internal/permission"
	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/internal/sessions"
	"github.com/haasonsaas/agentkit/internal/tools"
)

// Runtime, run handle, and configuration.
type (
	Runtime         = agent.Runtime
	Run             = agent.Run
	Options         = agent.Options
	AgentDefinition = agent.AgentDefinition
	Abort           = agent.Abort
)

// NewRuntime creates a runtime over immutable options.
var NewRuntime = agent.NewRuntime

// BuiltinRegistry assembles the default tool set.
var BuiltinRegistry = agent.BuiltinRegistry

// Provider contracts and adapters.
type (
	Provider              = providers.Provider
	ModelOutput           = providers.ModelOutput
	ToolCall              = providers.ToolCall
	StreamEvent           = providers.StreamEvent
	LegacyRequest         = providers.LegacyRequest
	ResponsesRequest      = providers.ResponsesRequest
	OpenAIChatConfig      = providers.OpenAIChatConfig
	OpenAIResponsesConfig = providers.OpenAIResponsesConfig
	AnthropicConfig       = providers.AnthropicConfig
)

var (
	NewOpenAIChat      = providers.NewOpenAIChat
	NewOpenAIResponses = providers.NewOpenAIResponses
	NewAnthropic       = providers.NewAnthropic
)

// Tool contract and registry.
type (
	Tool         = tools.Tool
	ToolContext  = tools.Context
	ToolRegistry = tools.Registry
)

var NewToolRegistry = tools.NewRegistry

// Hook engine.
type (
	HookEngine   = hooks.Engine
	HookMatcher  = hooks.Matcher
	HookPayload  = hooks.Payload
	HookDecision = hooks.Decision
)

// Permission gate.
type (
	Gate               = permission.Gate
	PermissionDecision = permission.Decision
)

// Permission modes.
const (
	PermissionDefault     = permission.ModeDefault
	PermissionPrompt      = permission.ModePrompt
	PermissionBypass      = permission.ModeBypass
	PermissionDeny        = permission.ModeDeny
	PermissionCallback    = permission.ModeCallback
	PermissionAcceptEdits = permission.ModeAcceptEdits
)

var (
	PermissionAllow    = permission.Allow
	PermissionDenyWith = permission.Deny
)

// Session stores.
type (
	SessionStore = sessions.Store
	FileStore    = sessions.FileStore
	MemoryStore  = sessions.MemoryStore
	SQLiteStore  = sessions.SQLiteStore
)

var (
	NewFileStore   = sessions.NewFileStore
	NewMemoryStore = sessions.NewMemoryStore
	NewSQLiteStore = sessions.NewSQLiteStore
)

// CompactionOptions configures pruning and auto summarization.
type CompactionOptions = compaction.Options
