// Package events defines the event model for agent sessions.
//
// Every record persisted to a session log or streamed to a consumer is an
// Event: a closed, discriminated union keyed by a string type tag. Events
// are append-only; corrections are expressed as new events (for example
// tool.output.compacted or session.set_head), never as edits.
package events

import "encoding/json"

// Type identifies the kind of event.
type Type string

const (
	TypeSystemInit          Type = "system.init"
	TypeUserMessage         Type = "user.message"
	TypeUserQuestion        Type = "user.question"
	TypeAssistantDelta      Type = "assistant.delta"
	TypeAssistantMessage    Type = "assistant.message"
	TypeToolUse             Type = "tool.use"
	TypeToolResult          Type = "tool.result"
	TypeToolOutputCompacted Type = "tool.output.compacted"
	TypeHookEvent           Type = "hook.event"
	TypeSkillActivated      Type = "skill.activated"
	TypeUserCompaction      Type = "user.compaction"
	TypeSessionCheckpoint   Type = "session.checkpoint"
	TypeSessionSetHead      Type = "session.set_head"
	TypeSessionUndo         Type = "session.undo"
	TypeSessionRedo         Type = "session.redo"
	TypeResult              Type = "result"
)

// Meta carries the envelope fields persisted with every event. Seq is
// monotonic within a session starting at 1; TS is wall-clock seconds. Both
// are stamped by the session store on append. ParentToolUseID and AgentName
// record subagent provenance when the event was produced inside a Task.
type Meta struct {
	Type            Type    `json:"type"`
	Seq             int64   `json:"seq,omitempty"`
	TS              float64 `json:"ts,omitempty"`
	ParentToolUseID string  `json:"parent_tool_use_id,omitempty"`
	AgentName       string  `json:"agent_name,omitempty"`
}

// Event is one record in a session log. The union is closed: only types in
// this package implement it, and decoders reject unknown type tags.
type Event interface {
	Kind() Type
	envelope() *Meta
}

// Envelope returns the mutable envelope of an event. The session store uses
// it to stamp seq and ts before persisting.
func Envelope(e Event) *Meta { return e.envelope() }

func (m *Meta) envelope() *Meta { return m }

// SystemInit is the first event of every session.
type SystemInit struct {
	Meta
	SessionID        string   `json:"session_id"`
	Cwd              string   `json:"cwd,omitempty"`
	SDKVersion       string   `json:"sdk_version,omitempty"`
	EnabledTools     []string `json:"enabled_tools,omitempty"`
	EnabledProviders []string `json:"enabled_providers,omitempty"`
}

func (*SystemInit) Kind() Type { return TypeSystemInit }

// UserMessage is a prompt submitted by the user, after hook rewrites and
// prompt expansions.
type UserMessage struct {
	Meta
	Text string `json:"text"`
}

func (*UserMessage) Kind() Type { return TypeUserMessage }

// UserQuestion is a question surfaced to the user, either by the permission
// gate or by the AskUserQuestion tool.
type UserQuestion struct {
	Meta
	QuestionID string   `json:"question_id"`
	Prompt     string   `json:"prompt"`
	Choices    []string `json:"choices,omitempty"`
}

func (*UserQuestion) Kind() Type { return TypeUserQuestion }

// AssistantDelta is one streamed text fragment from the provider.
type AssistantDelta struct {
	Meta
	TextDelta string `json:"text_delta"`
}

func (*AssistantDelta) Kind() Type { return TypeAssistantDelta }

// AssistantMessage is a complete assistant turn. IsSummary marks the output
// of a compaction summarization pass.
type AssistantMessage struct {
	Meta
	Text      string `json:"text"`
	IsSummary bool   `json:"is_summary,omitempty"`
}

func (*AssistantMessage) Kind() Type { return TypeAssistantMessage }

// ToolUse records a provider-requested tool invocation. Input is the raw
// JSON arguments object.
type ToolUse struct {
	Meta
	ToolUseID string          `json:"tool_use_id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
}

func (*ToolUse) Kind() Type { return TypeToolUse }

// ToolResult records the outcome of a tool invocation. Exactly one
// ToolResult follows each ToolUse with the same ToolUseID.
type ToolResult struct {
	Meta
	ToolUseID    string          `json:"tool_use_id"`
	Output       json.RawMessage `json:"output,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	ErrorType    string          `json:"error_type,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func (*ToolResult) Kind() Type { return TypeToolResult }

// ToolOutputCompacted marks a prior ToolResult as pruned. Transcript
// rebuilds replace the referenced output with a fixed placeholder.
type ToolOutputCompacted struct {
	Meta
	ToolUseID   string  `json:"tool_use_id"`
	CompactedTS float64 `json:"compacted_ts,omitempty"`
}

func (*ToolOutputCompacted) Kind() Type { return TypeToolOutputCompacted }

// HookEvent records one hook matcher invocation, matched or not.
type HookEvent struct {
	Meta
	HookPoint  string  `json:"hook_point"`
	Name       string  `json:"name"`
	Matched    bool    `json:"matched"`
	DurationMS float64 `json:"duration_ms"`
	Action     string  `json:"action,omitempty"`
}

func (*HookEvent) Kind() Type { return TypeHookEvent }

// SkillActivated records that a skill was loaded via the Skill tool.
type SkillActivated struct {
	Meta
	Name string `json:"name"`
}

func (*SkillActivated) Kind() Type { return TypeSkillActivated }

// UserCompaction marks the start of a compaction pass.
type UserCompaction struct {
	Meta
	Auto   bool   `json:"auto"`
	Reason string `json:"reason,omitempty"`
}

func (*UserCompaction) Kind() Type { return TypeUserCompaction }

// SessionCheckpoint is an append-only control event labelling the current
// head of the log. Interpretation is the caller's concern.
type SessionCheckpoint struct {
	Meta
	Label   string `json:"label"`
	HeadSeq int64  `json:"head_seq,omitempty"`
}

func (*SessionCheckpoint) Kind() Type { return TypeSessionCheckpoint }

// SessionSetHead is an append-only control event moving the logical head.
type SessionSetHead struct {
	Meta
	HeadSeq int64  `json:"head_seq"`
	Reason  string `json:"reason,omitempty"`
}

func (*SessionSetHead) Kind() Type { return TypeSessionSetHead }

// SessionUndo is an append-only control event. Interpretation is the
// caller's concern.
type SessionUndo struct {
	Meta
}

func (*SessionUndo) Kind() Type { return TypeSessionUndo }

// SessionRedo is an append-only control event. Interpretation is the
// caller's concern.
type SessionRedo struct {
	Meta
}

func (*SessionRedo) Kind() Type { return TypeSessionRedo }

// Result terminates one run. A session that is resumed accumulates one
// Result per run. StopReason is one of: end, max_steps, no_output,
// interrupted, blocked:<point>:<reason>, error:<kind>:<message>.
type Result struct {
	Meta
	SessionID        string         `json:"session_id,omitempty"`
	FinalText        string         `json:"final_text"`
	StopReason       string         `json:"stop_reason"`
	Steps            int            `json:"steps"`
	Usage            map[string]any `json:"usage,omitempty"`
	ResponseID       string         `json:"response_id,omitempty"`
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
}

func (*Result) Kind() Type { return TypeResult }

// IsSessionControl reports whether t is one of the session.* control kinds.
func IsSessionControl(t Type) bool {
	switch t {
	case TypeSessionCheckpoint, TypeSessionSetHead, TypeSessionUndo, TypeSessionRedo:
		return true
	}
	return false
}
