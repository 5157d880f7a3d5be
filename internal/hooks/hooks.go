// Package hooks provides the ordered matcher pipeline the runtime consults
// at fixed points of the agent loop.
//
// Matchers run in registration order. A blocking decision stops the
// iteration for that point and surfaces to the runtime; rewrites accumulate,
// each matcher seeing the output of the previous one. Every matcher
// invocation, matched or not, produces exactly one hook.event.
package hooks

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/pkg/events"
)

// Point names a hook point.
type Point string

const (
	UserPromptSubmit Point = "UserPromptSubmit"
	SessionStart     Point = "SessionStart"
	SessionEnd       Point = "SessionEnd"
	BeforeModelCall  Point = "BeforeModelCall"
	AfterModelCall   Point = "AfterModelCall"
	PreToolUse       Point = "PreToolUse"
	PostToolUse      Point = "PostToolUse"
	Stop             Point = "Stop"
)

// StopReasonSlug renders the point the way terminal results name it, e.g.
// "blocked:user_prompt_submit:<reason>".
func (p Point) StopReasonSlug() string {
	switch p {
	case UserPromptSubmit:
		return "user_prompt_submit"
	case BeforeModelCall:
		return "before_model_call"
	case AfterModelCall:
		return "after_model_call"
	case PreToolUse:
		return "pre_tool_use"
	case PostToolUse:
		return "post_tool_use"
	case SessionStart:
		return "session_start"
	case SessionEnd:
		return "session_end"
	case Stop:
		return "stop"
	}
	return strings.ToLower(string(p))
}

// Payload carries the point-specific fields handed to a callback.
type Payload struct {
	HookPoint  Point
	Prompt     string
	ToolName   string
	ToolInput  map[string]any
	ToolOutput any
	Messages   []providers.Item
	Output     *providers.ModelOutput
	FinalText  string
	Context    map[string]any
}

// Decision is a callback's verdict. Zero value means "observed, no action".
type Decision struct {
	Block       bool
	BlockReason string

	OverridePrompt     string
	HasOverridePrompt  bool
	OverrideToolInput  map[string]any
	OverrideToolOutput any
	HasOverrideOutput  bool
	OverrideMessages   []providers.Item

	// Action is a free-form tag recorded on the hook.event for
	// observability.
	Action string
}

// Callback observes or intervenes at a hook point.
type Callback func(ctx context.Context, payload *Payload) *Decision

// Matcher pairs a callback with a glob pattern. The pattern matches the
// tool name for tool points, the model name for model points, and is
// ignored elsewhere. "*" matches everything; "|" separates alternatives.
type Matcher struct {
	Name     string
	Pattern  string
	Callback Callback
}

// Engine holds the ordered matcher lists for every hook point.
type Engine struct {
	UserPromptSubmit []Matcher
	SessionStart     []Matcher
	SessionEnd       []Matcher
	BeforeModelCall  []Matcher
	AfterModelCall   []Matcher
	PreToolUse       []Matcher
	PostToolUse      []Matcher
	Stop             []Matcher

	// EnableMessageRewriteHooks gates override_messages in BeforeModelCall.
	// Without it the intent is recorded as ignored_override_messages and
	// dropped, a guardrail against accidental transcript corruption.
	EnableMessageRewriteHooks bool
}

func matchName(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	for _, seg := range strings.Split(pattern, "|") {
		seg = strings.TrimSpace(seg)
		if seg == "*" {
			return true
		}
		if ok, err := path.Match(seg, name); err == nil && ok {
			return true
		}
	}
	return false
}

func record(point Point, m Matcher, matched bool, started time.Time, action string) *events.HookEvent {
	return &events.HookEvent{
		HookPoint:  string(point),
		Name:       m.Name,
		Matched:    matched,
		DurationMS: float64(time.Since(started)) / float64(time.Millisecond),
		Action:     action,
	}
}

// RunUserPromptSubmit runs the UserPromptSubmit point over the raw prompt.
func (e *Engine) RunUserPromptSubmit(ctx context.Context, prompt string, hctx map[string]any) (string, []*events.HookEvent, *Decision) {
	current := prompt
	var out []*events.HookEvent
	for _, m := range e.UserPromptSubmit {
		started := time.Now()
		var action string
		if m.Callback != nil {
			decision := m.Callback(ctx, &Payload{HookPoint: UserPromptSubmit, Prompt: current, Context: hctx})
			if decision != nil {
				action = decision.Action
				if decision.Block {
					out = append(out, record(UserPromptSubmit, m, true, started, orDefault(action, "block")))
					return current, out, decision
				}
				if decision.HasOverridePrompt {
					current = decision.OverridePrompt
					action = orDefault(action, "rewrite_prompt")
				}
			}
		}
		out = append(out, record(UserPromptSubmit, m, true, started, action))
	}
	return current, out, nil
}

// RunPreToolUse runs the PreToolUse point for one tool call.
func (e *Engine) RunPreToolUse(ctx context.Context, toolName string, toolInput map[string]any, hctx map[string]any) (map[string]any, []*events.HookEvent, *Decision) {
	current := toolInput
	var out []*events.HookEvent
	for _, m := range e.PreToolUse {
		matched := matchName(m.Pattern, toolName)
		started := time.Now()
		var action string
		if matched && m.Callback != nil {
			decision := m.Callback(ctx, &Payload{HookPoint: PreToolUse, ToolName: toolName, ToolInput: current, Context: hctx})
			if decision != nil {
				action = decision.Action
				if decision.Block {
					out = append(out, record(PreToolUse, m, true, started, orDefault(action, "block")))
					return current, out, decision
				}
				if decision.OverrideToolInput != nil {
					current = decision.OverrideToolInput
					action = orDefault(action, "rewrite_tool_input")
				}
			}
		}
		out = append(out, record(PreToolUse, m, matched, started, action))
	}
	return current, out, nil
}

// RunPostToolUse runs the PostToolUse point over a tool output.
func (e *Engine) RunPostToolUse(ctx context.Context, toolName string, toolOutput any, hctx map[string]any) (any, []*events.HookEvent, *Decision) {
	current := toolOutput
	var out []*events.HookEvent
	for _, m := range e.PostToolUse {
		matched := matchName(m.Pattern, toolName)
		started := time.Now()
		var action string
		if matched && m.Callback != nil {
			decision := m.Callback(ctx, &Payload{HookPoint: PostToolUse, ToolName: toolName, ToolOutput: current, Context: hctx})
			if decision != nil {
				action = decision.Action
				if decision.Block {
					out = append(out, record(PostToolUse, m, true, started, orDefault(action, "block")))
					return current, out, decision
				}
				if decision.HasOverrideOutput {
					current = decision.OverrideToolOutput
					action = orDefault(action, "rewrite_tool_output")
				}
			}
		}
		out = append(out, record(PostToolUse, m, matched, started, action))
	}
	return current, out, nil
}

// RunBeforeModelCall runs the BeforeModelCall point over the message
// window. The model name in hctx is the match target.
func (e *Engine) RunBeforeModelCall(ctx context.Context, messages []providers.Item, hctx map[string]any) ([]providers.Item, []*events.HookEvent, *Decision) {
	current := messages
	model, _ := hctx["model"].(string)
	var out []*events.HookEvent
	for _, m := range e.BeforeModelCall {
		matched := matchName(m.Pattern, model)
		started := time.Now()
		var action string
		if matched && m.Callback != nil {
			decision := m.Callback(ctx, &Payload{HookPoint: BeforeModelCall, Messages: current, Context: hctx})
			if decision != nil {
				action = decision.Action
				if decision.Block {
					out = append(out, record(BeforeModelCall, m, true, started, orDefault(action, "block")))
					return current, out, decision
				}
				if decision.OverrideMessages != nil {
					if e.EnableMessageRewriteHooks {
						current = decision.OverrideMessages
						action = orDefault(action, "rewrite_messages")
					} else {
						action = orDefault(action, "ignored_override_messages")
					}
				}
			}
		}
		out = append(out, record(BeforeModelCall, m, matched, started, action))
	}
	return current, out, nil
}

// RunAfterModelCall runs the AfterModelCall point over the model output.
func (e *Engine) RunAfterModelCall(ctx context.Context, output *providers.ModelOutput, hctx map[string]any) (*providers.ModelOutput, []*events.HookEvent, *Decision) {
	current := output
	model, _ := hctx["model"].(string)
	var out []*events.HookEvent
	for _, m := range e.AfterModelCall {
		matched := matchName(m.Pattern, model)
		started := time.Now()
		var action string
		if matched && m.Callback != nil {
			decision := m.Callback(ctx, &Payload{HookPoint: AfterModelCall, Output: current, Context: hctx})
			if decision != nil {
				action = decision.Action
				if decision.Block {
					out = append(out, record(AfterModelCall, m, true, started, orDefault(action, "block")))
					return current, out, decision
				}
				if mo, ok := decision.OverrideToolOutput.(*providers.ModelOutput); ok && mo != nil {
					current = mo
					action = orDefault(action, "rewrite_model_output")
				}
			}
		}
		out = append(out, record(AfterModelCall, m, matched, started, action))
	}
	return current, out, nil
}

// RunSessionStart runs the SessionStart point.
func (e *Engine) RunSessionStart(ctx context.Context, hctx map[string]any) []*events.HookEvent {
	return e.runObservers(ctx, SessionStart, e.SessionStart, &Payload{HookPoint: SessionStart, Context: hctx})
}

// RunSessionEnd runs the SessionEnd point.
func (e *Engine) RunSessionEnd(ctx context.Context, hctx map[string]any) []*events.HookEvent {
	return e.runObservers(ctx, SessionEnd, e.SessionEnd, &Payload{HookPoint: SessionEnd, Context: hctx})
}

// RunStop runs the Stop point with the final assistant text.
func (e *Engine) RunStop(ctx context.Context, finalText string, hctx map[string]any) []*events.HookEvent {
	return e.runObservers(ctx, Stop, e.Stop, &Payload{HookPoint: Stop, FinalText: finalText, Context: hctx})
}

// runObservers handles the observe-only points: always matched, block
// recorded but not propagated.
func (e *Engine) runObservers(ctx context.Context, point Point, matchers []Matcher, payload *Payload) []*events.HookEvent {
	var out []*events.HookEvent
	for _, m := range matchers {
		started := time.Now()
		var action string
		if m.Callback != nil {
			decision := m.Callback(ctx, payload)
			if decision != nil {
				action = decision.Action
				if decision.Block {
					action = orDefault(action, "block")
				}
			}
		}
		out = append(out, record(point, m, true, started, action))
	}
	return out
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
