package providers

import (
	"errors"
	"reflect"
	"testing"
)

func TestDetectProtocol(t *testing.T) {
	if got := DetectProtocol(&MockLegacy{}); got != ProtocolLegacy {
		t.Errorf("legacy mock detected as %s", got)
	}
	if got := DetectProtocol(&MockResponses{}); got != ProtocolResponses {
		t.Errorf("responses mock detected as %s", got)
	}
	if got := DetectProtocol(&MockResponsesStream{}); got != ProtocolResponses {
		t.Errorf("responses streamer detected as %s", got)
	}
}

func TestSupportsStreaming(t *testing.T) {
	if SupportsStreaming(&MockResponses{}, ProtocolResponses) {
		t.Error("complete-only provider reported as streaming")
	}
	if !SupportsStreaming(&MockResponsesStream{}, ProtocolResponses) {
		t.Error("streaming provider not detected")
	}
	if SupportsStreaming(&MockLegacy{}, ProtocolLegacy) {
		t.Error("legacy complete-only provider reported as streaming")
	}
}

func TestRecoverableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("Unsupported parameter: 'previous_response_id'"), true},
		{errors.New("unsupported value for previous_response_id"), true},
		{errors.New("No tool call found for function call output with call_id call_abc"), true},
		{errors.New("previous_response_id looks fine"), false},
		{errors.New("rate limited"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := Recoverable(c.err); got != c.want {
			t.Errorf("Recoverable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestParseToolArguments(t *testing.T) {
	args := ParseToolArguments(`{"command":"pwd"}`)
	if args["command"] != "pwd" {
		t.Errorf("args = %#v", args)
	}
	raw := ParseToolArguments(`{not json`)
	if raw["_raw"] != `{not json` {
		t.Errorf("invalid JSON not preserved: %#v", raw)
	}
	if got := ParseToolArguments(""); len(got) != 0 {
		t.Errorf("empty arguments = %#v", got)
	}
}

func TestAssistantPlaceholderPreservesOrder(t *testing.T) {
	calls := []ToolCall{
		{ToolUseID: "a", Name: "Read", Arguments: map[string]any{"file_path": "x"}},
		{ToolUseID: "b", Name: "Bash", Arguments: map[string]any{"command": "pwd"}},
	}
	item := AssistantPlaceholder(calls)
	if item.Role != "assistant" || len(item.ToolCalls) != 2 {
		t.Fatalf("placeholder = %+v", item)
	}
	if item.ToolCalls[0].ID != "a" || item.ToolCalls[1].ID != "b" {
		t.Error("call order not preserved")
	}
	if item.ToolCalls[0].Function.Arguments != `{"file_path":"x"}` {
		t.Errorf("arguments = %s", item.ToolCalls[0].Function.Arguments)
	}
}

func TestPrependFunctionCalls(t *testing.T) {
	calls := []ToolCall{{ToolUseID: "c1", Name: "Read", Arguments: map[string]any{}}}
	outputs := []Item{FunctionCallOutputItem("c1", `{"content":"x"}`)}
	window := PrependFunctionCalls(calls, outputs)
	want := []Item{
		{Type: "function_call", CallID: "c1", Name: "Read", Arguments: "{}"},
		{Type: "function_call_output", CallID: "c1", Output: `{"content":"x"}`},
	}
	if !reflect.DeepEqual(window, want) {
		t.Errorf("window = %#v", window)
	}
}

func TestOnlyFunctionCallOutputs(t *testing.T) {
	if OnlyFunctionCallOutputs(nil) {
		t.Error("empty window misclassified")
	}
	outputs := []Item{FunctionCallOutputItem("c1", "{}"), FunctionCallOutputItem("c2", "{}")}
	if !OnlyFunctionCallOutputs(outputs) {
		t.Error("pure output window misclassified")
	}
	mixed := append([]Item{{Role: "user", Content: "hi"}}, outputs...)
	if OnlyFunctionCallOutputs(mixed) {
		t.Error("mixed window misclassified")
	}
}
