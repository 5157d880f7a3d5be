package hooks

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentkit/internal/providers"
)

func TestMatchName(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "Bash", true},
		{"", "Bash", true},
		{"Bash", "Bash", true},
		{"Bash", "Read", false},
		{"Bash|Read", "Read", true},
		{"Web*", "WebFetch", true},
		{"Web* | Bash", "Bash", true},
		{"gpt-*", "gpt-4o", true},
	}
	for _, c := range cases {
		if got := matchName(c.pattern, c.name); got != c.want {
			t.Errorf("matchName(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}

func TestPreToolUseRewritesAccumulate(t *testing.T) {
	engine := &Engine{
		PreToolUse: []Matcher{
			{Name: "first", Pattern: "*", Callback: func(_ context.Context, p *Payload) *Decision {
				in := map[string]any{}
				for k, v := range p.ToolInput {
					in[k] = v
				}
				in["a"] = 1
				return &Decision{OverrideToolInput: in}
			}},
			{Name: "second", Pattern: "*", Callback: func(_ context.Context, p *Payload) *Decision {
				if p.ToolInput["a"] != 1 {
					t.Error("second matcher did not see first rewrite")
				}
				in := map[string]any{}
				for k, v := range p.ToolInput {
					in[k] = v
				}
				in["b"] = 2
				return &Decision{OverrideToolInput: in}
			}},
		},
	}

	input, hookEvents, decision := engine.RunPreToolUse(context.Background(), "Bash", map[string]any{"command": "pwd"}, nil)
	if decision != nil {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if input["a"] != 1 || input["b"] != 2 || input["command"] != "pwd" {
		t.Errorf("input = %#v", input)
	}
	if len(hookEvents) != 2 {
		t.Fatalf("hook events = %d", len(hookEvents))
	}
	if hookEvents[0].Action != "rewrite_tool_input" {
		t.Errorf("action = %q", hookEvents[0].Action)
	}
}

func TestPreToolUseBlockStopsIteration(t *testing.T) {
	secondRan := false
	engine := &Engine{
		PreToolUse: []Matcher{
			{Name: "blocker", Pattern: "Bash", Callback: func(context.Context, *Payload) *Decision {
				return &Decision{Block: true, BlockReason: "no shell"}
			}},
			{Name: "later", Pattern: "*", Callback: func(context.Context, *Payload) *Decision {
				secondRan = true
				return nil
			}},
		},
	}
	_, hookEvents, decision := engine.RunPreToolUse(context.Background(), "Bash", nil, nil)
	if decision == nil || !decision.Block || decision.BlockReason != "no shell" {
		t.Fatalf("decision = %+v", decision)
	}
	if secondRan {
		t.Error("iteration continued past block")
	}
	if len(hookEvents) != 1 || hookEvents[0].Action != "block" {
		t.Errorf("hook events = %+v", hookEvents)
	}
}

func TestUnmatchedMatcherStillRecordsEvent(t *testing.T) {
	ran := false
	engine := &Engine{
		PreToolUse: []Matcher{
			{Name: "only-web", Pattern: "WebFetch", Callback: func(context.Context, *Payload) *Decision {
				ran = true
				return nil
			}},
		},
	}
	_, hookEvents, _ := engine.RunPreToolUse(context.Background(), "Bash", nil, nil)
	if ran {
		t.Error("callback ran for unmatched tool")
	}
	if len(hookEvents) != 1 || hookEvents[0].Matched {
		t.Errorf("hook events = %+v", hookEvents)
	}
}

func TestBeforeModelCallMessageRewriteGuardrail(t *testing.T) {
	override := []providers.Item{{Role: "user", Content: "injected"}}
	matcher := Matcher{Name: "rewriter", Pattern: "*", Callback: func(context.Context, *Payload) *Decision {
		return &Decision{OverrideMessages: override}
	}}
	original := []providers.Item{{Role: "user", Content: "real"}}
	hctx := map[string]any{"model": "m1"}

	disabled := &Engine{BeforeModelCall: []Matcher{matcher}}
	msgs, hookEvents, decision := disabled.RunBeforeModelCall(context.Background(), original, hctx)
	if decision != nil {
		t.Fatalf("decision = %+v", decision)
	}
	if msgs[0].Content != "real" {
		t.Error("override applied despite guardrail")
	}
	if hookEvents[0].Action != "ignored_override_messages" {
		t.Errorf("action = %q", hookEvents[0].Action)
	}

	enabled := &Engine{BeforeModelCall: []Matcher{matcher}, EnableMessageRewriteHooks: true}
	msgs, hookEvents, _ = enabled.RunBeforeModelCall(context.Background(), original, hctx)
	if msgs[0].Content != "injected" {
		t.Error("override not applied when enabled")
	}
	if hookEvents[0].Action != "rewrite_messages" {
		t.Errorf("action = %q", hookEvents[0].Action)
	}
}

func TestModelHooksMatchOnModelName(t *testing.T) {
	engine := &Engine{
		BeforeModelCall: []Matcher{{Name: "gpt-only", Pattern: "gpt-*", Callback: func(context.Context, *Payload) *Decision {
			return &Decision{Block: true, BlockReason: "blocked"}
		}}},
	}
	_, _, decision := engine.RunBeforeModelCall(context.Background(), nil, map[string]any{"model": "claude-x"})
	if decision != nil {
		t.Error("matcher fired for non-matching model")
	}
	_, _, decision = engine.RunBeforeModelCall(context.Background(), nil, map[string]any{"model": "gpt-4o"})
	if decision == nil || !decision.Block {
		t.Error("matcher did not fire for matching model")
	}
}

func TestUserPromptSubmitRewriteAndBlock(t *testing.T) {
	engine := &Engine{
		UserPromptSubmit: []Matcher{
			{Name: "prefix", Callback: func(_ context.Context, p *Payload) *Decision {
				return &Decision{OverridePrompt: "x: " + p.Prompt, HasOverridePrompt: true}
			}},
		},
	}
	prompt, _, decision := engine.RunUserPromptSubmit(context.Background(), "hi", nil)
	if decision != nil || prompt != "x: hi" {
		t.Errorf("prompt = %q, decision = %+v", prompt, decision)
	}

	blocking := &Engine{
		UserPromptSubmit: []Matcher{
			{Name: "deny", Callback: func(context.Context, *Payload) *Decision {
				return &Decision{Block: true, BlockReason: "nope"}
			}},
		},
	}
	_, hookEvents, decision := blocking.RunUserPromptSubmit(context.Background(), "hi", nil)
	if decision == nil || decision.BlockReason != "nope" {
		t.Fatalf("decision = %+v", decision)
	}
	if len(hookEvents) != 1 || hookEvents[0].Action != "block" {
		t.Errorf("hook events = %+v", hookEvents)
	}
}

func TestObserverPointsAlwaysEmitOneEventPerMatcher(t *testing.T) {
	engine := &Engine{
		SessionStart: []Matcher{{Name: "a"}, {Name: "b"}},
		SessionEnd:   []Matcher{{Name: "c"}},
		Stop: []Matcher{{Name: "d", Callback: func(_ context.Context, p *Payload) *Decision {
			if p.FinalText != "bye" {
				t.Errorf("final text = %q", p.FinalText)
			}
			return &Decision{Action: "noted"}
		}}},
	}
	if got := engine.RunSessionStart(context.Background(), nil); len(got) != 2 {
		t.Errorf("session start events = %d", len(got))
	}
	if got := engine.RunSessionEnd(context.Background(), nil); len(got) != 1 {
		t.Errorf("session end events = %d", len(got))
	}
	stops := engine.RunStop(context.Background(), "bye", nil)
	if len(stops) != 1 || stops[0].Action != "noted" {
		t.Errorf("stop events = %+v", stops)
	}
}

func TestStopReasonSlug(t *testing.T) {
	if UserPromptSubmit.StopReasonSlug() != "user_prompt_submit" {
		t.Error("slug mismatch")
	}
	if BeforeModelCall.StopReasonSlug() != "before_model_call" {
		t.Error("slug mismatch")
	}
}
