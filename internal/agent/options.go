// Package agent implements the runtime driving multi-turn conversations
// between a user, a model provider, and side-effectful tools.
//
// A Runtime owns no cross-session state: every run is a single cooperative
// loop producing a lazy event stream, with all per-turn state local to the
// run. Events are persisted to the session store before they are yielded.
package agent

import (
	"sync/atomic"
	"time"

	"github.com/haasonsaas/agentkit/internal/compaction"
	"github.com/haasonsaas/agentkit/internal/hooks"
	"github.com/haasonsaas/agentkit/internal/mcp"
	"github.com/haasonsaas/agentkit/internal/permission"
	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/internal/sessions"
	"github.com/haasonsaas/agentkit/internal/skills"
	"github.com/haasonsaas/agentkit/internal/tools"
	execTools "github.com/haasonsaas/agentkit/internal/tools/exec"
	fileTools "github.com/haasonsaas/agentkit/internal/tools/files"
	todoTools "github.com/haasonsaas/agentkit/internal/tools/todo"
	webTools "github.com/haasonsaas/agentkit/internal/tools/web"
)

// SDKVersion is stamped into system.init events.
const SDKVersion = "0.3.0"

// Abort is the cooperative cancellation flag shared between the host and a
// running loop. It is polled at the loop's suspension points; setting it
// does not interrupt an already-running tool call.
type Abort struct {
	flag atomic.Bool
}

// Set signals the loop to stop at its next suspension point.
func (a *Abort) Set() { a.flag.Store(true) }

// IsSet reports whether cancellation was requested.
func (a *Abort) IsSet() bool {
	return a != nil && a.flag.Load()
}

// AgentDefinition describes a subagent spawnable through the Task tool.
// Unset fields inherit from the parent run's options.
type AgentDefinition struct {
	// Prompt is prepended to every task prompt given to this agent.
	Prompt string

	// Provider overrides the parent provider (optional).
	Provider providers.Provider

	// Model overrides the parent model (optional).
	Model string

	// Tools restricts the agent's allowed tools (optional).
	Tools []string
}

// Options is the immutable configuration of one run. Construct it once and
// hand it to NewRuntime; the runtime never mutates it.
type Options struct {
	// Provider speaks at least one of the two wire protocols.
	Provider providers.Provider

	// Model is passed through to the provider.
	Model string

	// APIKey is passed through to the provider per request.
	APIKey string

	// Cwd is the tool working directory.
	Cwd string

	// ProjectDir roots skills, commands, and project memory. Defaults to
	// Cwd.
	ProjectDir string

	// MaxSteps bounds loop iterations. Default: 16.
	MaxSteps int

	// Timeout bounds the whole run (0 = none).
	Timeout time.Duration

	// Tools is the registry of dispatchable tools.
	Tools *tools.Registry

	// AllowedTools, when non-nil, whitelists tool names.
	AllowedTools []string

	// Gate approves each tool call.
	Gate *permission.Gate

	// Hooks is consulted at the eight hook points.
	Hooks *hooks.Engine

	// Store persists the event log. When nil, a FileStore under
	// SessionRoot is used.
	Store sessions.Store

	// SessionRoot locates the default file store. Defaults to
	// ~/.agentkit.
	SessionRoot string

	// Resume continues an existing session instead of creating one.
	Resume string

	// ResumeMaxEvents and ResumeMaxBytes budget the transcript rebuild.
	ResumeMaxEvents int
	ResumeMaxBytes  int

	// SettingSources controls project-level prompt assembly ("project").
	SettingSources []string

	// InstructionFiles are appended to the base system prompt, after project
	// memory and the command index.
	InstructionFiles []string

	// Agents defines the subagents reachable through Task. The Task tool
	// is exposed only when at least one agent is configured.
	Agents map[string]AgentDefinition

	// MCPServers are registered into the tool registry at startup.
	MCPServers map[string]mcp.ServerConfig

	// Commands maps configured slash-command names to templates; they win
	// over on-disk command files.
	Commands map[string]string

	// Compaction configures pruning and auto summarization.
	Compaction compaction.Options

	// IncludePartialMessages emits assistant.delta events while streaming.
	IncludePartialMessages bool

	// Abort is the cooperative cancellation flag (optional).
	Abort *Abort
}

const defaultMaxSteps = 16

func (o *Options) maxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

func (o *Options) projectDir() string {
	if o.ProjectDir != "" {
		return o.ProjectDir
	}
	return o.Cwd
}

func (o *Options) resumeMaxEvents() int {
	if o.ResumeMaxEvents > 0 {
		return o.ResumeMaxEvents
	}
	return 1000
}

func (o *Options) resumeMaxBytes() int {
	if o.ResumeMaxBytes > 0 {
		return o.ResumeMaxBytes
	}
	return 4 << 20
}

// BuiltinRegistry assembles the default tool set: filesystem tools, Bash,
// WebFetch, TodoWrite, the Skill loader for the given project, and the
// runtime-handled AskUserQuestion and SlashCommand tools.
func BuiltinRegistry(projectDir string) *tools.Registry {
	r := tools.NewRegistry()
	r.Register(fileTools.ReadTool{})
	r.Register(fileTools.WriteTool{})
	r.Register(fileTools.GlobTool{})
	r.Register(fileTools.GrepTool{})
	r.Register(execTools.BashTool{})
	r.Register(webTools.NewFetchTool())
	r.Register(todoTools.WriteTool{})
	r.Register(skills.SkillTool{ProjectDir: projectDir})
	r.Register(askUserQuestionTool{})
	r.Register(slashCommandTool{})
	return r
}
