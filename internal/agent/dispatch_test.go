package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/agentkit/internal/hooks"
	"github.com/haasonsaas/agentkit/internal/permission"
	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/pkg/events"
)

func decodeOutput(t *testing.T, res *events.ToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(res.Output, &out); err != nil {
		t.Fatalf("tool output not an object: %v (%s)", err, res.Output)
	}
	return out
}

func findToolResult(t *testing.T, evs []events.Event, toolUseID string) *events.ToolResult {
	t.Helper()
	for _, e := range evs {
		if res, ok := e.(*events.ToolResult); ok && res.ToolUseID == toolUseID {
			return res
		}
	}
	t.Fatalf("no tool.result for %s in %v", toolUseID, kinds(evs))
	return nil
}

func TestToolNotAllowed(t *testing.T) {
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "Bash", map[string]any{"command": "pwd"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)
	options.AllowedTools = []string{"Read"}

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)

	res := findToolResult(t, evs, "t1")
	if !res.IsError || res.ErrorType != "ToolNotAllowed" {
		t.Errorf("result = %+v", res)
	}
	for _, e := range evs {
		if e.Kind() == events.TypeToolUse {
			t.Error("tool.use emitted for disallowed tool")
		}
	}
}

func TestPreToolUseHookBlocksCall(t *testing.T) {
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "Bash", map[string]any{"command": "rm -rf /"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)
	options.Hooks = &hooks.Engine{
		PreToolUse: []hooks.Matcher{{
			Name:    "no-bash",
			Pattern: "Bash",
			Callback: func(context.Context, *hooks.Payload) *hooks.Decision {
				return &hooks.Decision{Block: true, BlockReason: "shell disabled"}
			},
		}},
	}

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)
	res := findToolResult(t, evs, "t1")
	if res.ErrorType != "HookBlocked" || res.ErrorMessage != "shell disabled" {
		t.Errorf("result = %+v", res)
	}
}

func TestPostToolUseHookRewritesOutput(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("secret"), 0o644)

	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "Read", map[string]any{"file_path": "a.txt"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)
	options.Cwd = dir
	options.Hooks = &hooks.Engine{
		PostToolUse: []hooks.Matcher{{
			Name:    "redact",
			Pattern: "Read",
			Callback: func(_ context.Context, p *hooks.Payload) *hooks.Decision {
				return &hooks.Decision{
					OverrideToolOutput: map[string]any{"content": "[redacted]"},
					HasOverrideOutput:  true,
				}
			},
		}},
	}

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)
	out := decodeOutput(t, findToolResult(t, evs, "t1"))
	if out["content"] != "[redacted]" {
		t.Errorf("output = %#v", out)
	}
}

func TestAskUserQuestion(t *testing.T) {
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "AskUserQuestion", map[string]any{
				"questions": []any{map[string]any{
					"question": "Which color?",
					"options":  []any{"red", map[string]any{"label": "blue"}},
				}},
			}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)
	options.Gate = &permission.Gate{
		Mode: permission.ModeBypass,
		UserAnswerer: func(_ context.Context, q *events.UserQuestion) (string, error) {
			return q.Choices[0], nil
		},
	}

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)

	var question *events.UserQuestion
	for _, e := range evs {
		if q, ok := e.(*events.UserQuestion); ok {
			question = q
		}
	}
	if question == nil || question.Prompt != "Which color?" {
		t.Fatalf("question = %+v", question)
	}
	if len(question.Choices) != 2 || question.Choices[1] != "blue" {
		t.Errorf("choices = %v", question.Choices)
	}

	out := decodeOutput(t, findToolResult(t, evs, "t1"))
	answers := out["answers"].(map[string]any)
	if answers["Which color?"] != "red" {
		t.Errorf("answers = %#v", answers)
	}
}

func TestAskUserQuestionSingleForm(t *testing.T) {
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "AskUserQuestion", map[string]any{
				"question": "Proceed?",
				"options":  []any{"yes", "no"},
			}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)
	options.Gate = &permission.Gate{
		Mode: permission.ModeBypass,
		UserAnswerer: func(context.Context, *events.UserQuestion) (string, error) {
			return "yes", nil
		},
	}

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)
	out := decodeOutput(t, findToolResult(t, evs, "t1"))
	if out["answers"].(map[string]any)["Proceed?"] != "yes" {
		t.Errorf("out = %#v", out)
	}
}

func TestAskUserQuestionWithoutAnswerer(t *testing.T) {
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "AskUserQuestion", map[string]any{"question": "Hm?"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)
	res := findToolResult(t, evs, "t1")
	if res.ErrorType != "NoUserAnswerer" {
		t.Errorf("result = %+v", res)
	}
}

func TestSlashCommandExpansion(t *testing.T) {
	dir := t.TempDir()
	cmdDir := filepath.Join(dir, ".opencode", "commands")
	os.MkdirAll(cmdDir, 0o755)
	os.WriteFile(filepath.Join(cmdDir, "hello.md"),
		[]byte("Hello $1\nArgs: $ARGUMENTS\nINCLUDED: @input.txt\nSHELL: !echo shellout\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "input.txt"), []byte("filedata\n"), 0o644)

	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "SlashCommand", map[string]any{"name": "hello", "args": "world foo"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)
	options.Cwd = dir
	options.ProjectDir = dir
	options.Tools = BuiltinRegistry(dir)

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)

	out := decodeOutput(t, findToolResult(t, evs, "t1"))
	content, _ := out["content"].(string)
	for _, want := range []string{"Hello world", "Args: world foo", "INCLUDED: filedata", "SHELL: shellout"} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q:\n%s", want, content)
		}
	}
	sources, _ := out["sources"].([]any)
	foundTemplate := false
	for _, s := range sources {
		if str, ok := s.(string); ok && strings.HasSuffix(str, filepath.Join("commands", "hello.md")) {
			foundTemplate = true
		}
	}
	if !foundTemplate {
		t.Errorf("sources = %#v", sources)
	}
}

func TestSlashCommandUnknown(t *testing.T) {
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "SlashCommand", map[string]any{"name": "nope"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)
	if res := findToolResult(t, evs, "t1"); res.ErrorType != "UnknownCommand" {
		t.Errorf("result = %+v", res)
	}
}

func TestTaskSubagent(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "token.txt"), []byte("sekrit"), 0o644)

	// One scripted provider serves parent and child in call order.
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("task1", "Task", map[string]any{"agent": "reader", "prompt": "read token.txt"}),
		}}},
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("read1", "Read", map[string]any{"file_path": "token.txt"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "the token is sekrit"}},
		{Output: &providers.ModelOutput{AssistantText: "done"}},
	}}
	options, store := newTestOptions(t, provider)
	options.Cwd = dir
	options.Tools = BuiltinRegistry(dir)
	options.Agents = map[string]AgentDefinition{
		"reader": {Prompt: "You read files.", Tools: []string{"Read"}},
	}

	run, err := NewRuntime(options).Query(context.Background(), "get the token")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)

	taskResult := findToolResult(t, evs, "task1")
	out := decodeOutput(t, taskResult)
	childSessionID, _ := out["child_session_id"].(string)
	if childSessionID == "" || out["final_text"] != "the token is sekrit" {
		t.Fatalf("task output = %#v", out)
	}

	// Child events are interleaved into the parent stream with subagent
	// provenance.
	var childInit *events.SystemInit
	var childRead *events.ToolUse
	for _, e := range evs {
		if si, ok := e.(*events.SystemInit); ok && si.SessionID == childSessionID {
			childInit = si
		}
		if tu, ok := e.(*events.ToolUse); ok && tu.Name == "Read" {
			childRead = tu
		}
	}
	if childInit == nil {
		t.Fatal("child system.init not in parent stream")
	}
	if childInit.ParentToolUseID != "task1" || childInit.AgentName != "reader" {
		t.Errorf("child init provenance = %+v", childInit.Meta)
	}
	if childRead == nil || childRead.ParentToolUseID != "task1" {
		t.Errorf("child read = %+v", childRead)
	}

	// The parent log replays the child's events too.
	parentLog, _ := store.ReadEvents(lastResult(t, evs).SessionID)
	var replayedReadResult, replayedChildResult bool
	for _, e := range parentLog {
		if tr, ok := e.(*events.ToolResult); ok && tr.ToolUseID == "read1" {
			replayedReadResult = true
		}
		if res, ok := e.(*events.Result); ok && res.SessionID == childSessionID {
			replayedChildResult = true
		}
	}
	if !replayedReadResult || !replayedChildResult {
		t.Errorf("parent log kinds = %v", kinds(parentLog))
	}

	// The child session has its own log.
	childLog, _ := store.ReadEvents(childSessionID)
	if len(childLog) == 0 || childLog[0].Kind() != events.TypeSystemInit {
		t.Errorf("child log kinds = %v", kinds(childLog))
	}

	// The agent's tool restriction took effect: the child advertised only
	// Read.
	childRequest := provider.Requests[1]
	for _, ts := range childRequest.Tools {
		if ts.Name != "Read" {
			t.Errorf("child advertised tool %q", ts.Name)
		}
	}
}

func TestTaskUnknownAgent(t *testing.T) {
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "Task", map[string]any{"agent": "ghost", "prompt": "x"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)
	options.Agents = map[string]AgentDefinition{"reader": {}}

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)
	if res := findToolResult(t, evs, "t1"); res.ErrorType != "UnknownAgent" {
		t.Errorf("result = %+v", res)
	}
}

func TestWebFetchPromptMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>Page body text for extraction.</p></body></html>"))
	}))
	defer server.Close()

	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "WebFetch", map[string]any{"url": server.URL, "prompt": "summarize this"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "SUMMARY"}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)

	out := decodeOutput(t, findToolResult(t, evs, "t1"))
	if out["response"] != "SUMMARY" {
		t.Errorf("out = %#v", out)
	}
	if out["status_code"] != float64(200) {
		t.Errorf("status = %#v", out["status_code"])
	}

	// The one-shot request carried the prompt and page text, with no tools.
	oneShot := provider.Requests[1]
	if len(oneShot.Tools) != 0 || len(oneShot.Messages) != 1 {
		t.Fatalf("one-shot request = %+v", oneShot)
	}
	content := oneShot.Messages[0].Content
	if !strings.Contains(content, "summarize this") || !strings.Contains(content, "CONTENT:") {
		t.Errorf("one-shot content = %q", content)
	}
}

func TestTodoWritePersistsSnapshot(t *testing.T) {
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "TodoWrite", map[string]any{
				"todos": []any{map[string]any{"content": "ship", "status": "pending"}},
			}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, store := newTestOptions(t, provider)

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)

	res := findToolResult(t, evs, "t1")
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}
	todos := store.Todos(lastResult(t, evs).SessionID)
	list, ok := todos.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("todos = %#v", todos)
	}
}

func TestSkillToolEmitsActivation(t *testing.T) {
	dir := t.TempDir()
	skillDir := filepath.Join(dir, ".claude", "skills", "review")
	os.MkdirAll(skillDir, 0o755)
	os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte("# review\n\nReview things.\n"), 0o644)

	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "Skill", map[string]any{"name": "review"}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)
	options.Cwd = dir
	options.ProjectDir = dir
	options.Tools = BuiltinRegistry(dir)

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)

	var activated bool
	for _, e := range evs {
		if sa, ok := e.(*events.SkillActivated); ok && sa.Name == "review" {
			activated = true
		}
	}
	if !activated {
		t.Errorf("no skill.activated in %v", kinds(evs))
	}
}

func TestToolInputSchemaValidation(t *testing.T) {
	provider := &providers.MockLegacy{Steps: []providers.MockStep{
		{Output: &providers.ModelOutput{ToolCalls: []providers.ToolCall{
			toolCall("t1", "Read", map[string]any{"file_path": 42}),
		}}},
		{Output: &providers.ModelOutput{AssistantText: "ok"}},
	}}
	options, _ := newTestOptions(t, provider)

	run, err := NewRuntime(options).Query(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, run)
	if res := findToolResult(t, evs, "t1"); res.ErrorType != "InvalidToolInput" {
		t.Errorf("result = %+v", res)
	}
}
