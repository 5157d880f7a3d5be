package transcript

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/pkg/events"
)

func sampleLog() []events.Event {
	return []events.Event{
		&events.SystemInit{SessionID: "s"},
		&events.UserMessage{Text: "read the file"},
		&events.ToolUse{ToolUseID: "t1", Name: "Read", Input: json.RawMessage(`{"file_path":"a.txt"}`)},
		&events.ToolResult{ToolUseID: "t1", Output: json.RawMessage(`{"content":"hello"}`)},
		&events.AssistantMessage{Text: "it says hello"},
		&events.Result{FinalText: "it says hello", StopReason: "end", Steps: 2},
	}
}

func TestRebuildMessages(t *testing.T) {
	got := RebuildMessages(sampleLog(), 100, 1<<20)
	want := []providers.Item{
		{Role: "user", Content: "read the file"},
		{Role: "tool", ToolCallID: "t1", Content: `{"content":"hello"}`},
		{Role: "assistant", Content: "it says hello"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %#v", got)
	}
}

func TestRebuildResponsesInput(t *testing.T) {
	got := RebuildResponsesInput(sampleLog(), 100, 1<<20)
	want := []providers.Item{
		{Role: "user", Content: "read the file"},
		{Type: "function_call", CallID: "t1", Name: "Read", Arguments: `{"file_path":"a.txt"}`},
		{Type: "function_call_output", CallID: "t1", Output: `{"content":"hello"}`},
		{Role: "assistant", Content: "it says hello"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("items = %#v", got)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	log := sampleLog()
	first := RebuildMessages(log, 100, 1<<20)
	second := RebuildMessages(log, 100, 1<<20)
	if !reflect.DeepEqual(first, second) {
		t.Error("legacy rebuild not idempotent")
	}
	firstR := RebuildResponsesInput(log, 100, 1<<20)
	secondR := RebuildResponsesInput(log, 100, 1<<20)
	if !reflect.DeepEqual(firstR, secondR) {
		t.Error("responses rebuild not idempotent")
	}
}

func TestRebuildSubstitutesCompactedOutputs(t *testing.T) {
	log := sampleLog()
	log = append(log, &events.ToolOutputCompacted{ToolUseID: "t1", CompactedTS: 1700000000})

	for _, items := range [][]providers.Item{
		RebuildMessages(log, 100, 1<<20),
		RebuildResponsesInput(log, 100, 1<<20),
	} {
		found := false
		for _, it := range items {
			if it.ToolCallID == "t1" && it.Content == CompactedPlaceholder {
				found = true
			}
			if it.CallID == "t1" && it.Type == "function_call_output" && it.Output == CompactedPlaceholder {
				found = true
			}
			if it.Content == `{"content":"hello"}` || it.Output == `{"content":"hello"}` {
				t.Error("compacted output leaked into transcript")
			}
		}
		if !found {
			t.Error("placeholder missing")
		}
	}
}

func TestRebuildEventBudget(t *testing.T) {
	var log []events.Event
	for i := 0; i < 10; i++ {
		log = append(log, &events.UserMessage{Text: "m"})
	}
	got := RebuildMessages(log, 3, 1<<20)
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestRebuildByteBudgetKeepsTail(t *testing.T) {
	log := []events.Event{
		&events.UserMessage{Text: "aaaaaaaaaa"},
		&events.UserMessage{Text: "bbbbb"},
		&events.AssistantMessage{Text: "ccccc"},
	}
	got := RebuildMessages(log, 100, 10)
	want := []providers.Item{
		{Role: "user", Content: "bbbbb"},
		{Role: "assistant", Content: "ccccc"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %#v", got)
	}
}

func TestRebuildErrorResultEncoding(t *testing.T) {
	log := []events.Event{
		&events.ToolUse{ToolUseID: "t9", Name: "Bash", Input: json.RawMessage(`{"command":"x"}`)},
		&events.ToolResult{ToolUseID: "t9", IsError: true, ErrorType: "PermissionDenied", ErrorMessage: "nope"},
	}
	got := RebuildMessages(log, 100, 1<<20)
	if len(got) != 1 {
		t.Fatalf("items = %#v", got)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(got[0].Content), &obj); err != nil {
		t.Fatalf("tool content not JSON: %v", err)
	}
	if obj["error_type"] != "PermissionDenied" {
		t.Errorf("content = %s", got[0].Content)
	}
}
