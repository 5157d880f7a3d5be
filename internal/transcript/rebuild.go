// Package transcript replays session event logs into provider-shaped
// input, in either of the two wire shapes the runtime speaks.
//
// Both rebuilders walk the log from the tail accumulating an event-count
// and byte budget, then reverse into chronological order. Rebuilding is a
// pure function of the event list: replaying twice yields the same window.
package transcript

import (
	"encoding/json"

	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/pkg/events"
)

// CompactedPlaceholder replaces the output of any tool result whose
// tool_use_id carries a tool.output.compacted marker.
const CompactedPlaceholder = "[output compacted: re-run the tool if you need this content]"

// compactedIDs collects every tool_use_id marked compacted anywhere in the
// log. Markers always follow the results they prune, but membership is all
// that matters to a rebuild.
func compactedIDs(evs []events.Event) map[string]bool {
	var ids map[string]bool
	for _, e := range evs {
		if c, ok := e.(*events.ToolOutputCompacted); ok {
			if ids == nil {
				ids = make(map[string]bool)
			}
			ids[c.ToolUseID] = true
		}
	}
	return ids
}

func toolOutputJSON(tr *events.ToolResult, compacted map[string]bool) string {
	if compacted[tr.ToolUseID] {
		return CompactedPlaceholder
	}
	if len(tr.Output) > 0 {
		return string(tr.Output)
	}
	if tr.IsError {
		data, _ := json.Marshal(map[string]any{
			"error_type":    tr.ErrorType,
			"error_message": tr.ErrorMessage,
		})
		return string(data)
	}
	return "null"
}

// RebuildMessages replays the log as legacy chat turns. User and assistant
// messages become their roles; tool results become tool-role turns keyed by
// tool_call_id. Assistant tool-call placeholders are reconstituted by the
// runtime during live turns, not by the rebuilder.
func RebuildMessages(evs []events.Event, maxEvents, maxBytes int) []providers.Item {
	compacted := compactedIDs(evs)
	var rev []providers.Item
	totalBytes := 0

	for i := len(evs) - 1; i >= 0; i-- {
		var item providers.Item
		switch e := evs[i].(type) {
		case *events.UserMessage:
			item = providers.Item{Role: "user", Content: e.Text}
		case *events.AssistantMessage:
			item = providers.Item{Role: "assistant", Content: e.Text}
		case *events.ToolResult:
			item = providers.Item{
				Role:       "tool",
				ToolCallID: e.ToolUseID,
				Content:    toolOutputJSON(e, compacted),
			}
		default:
			continue
		}

		if len(rev) >= maxEvents {
			break
		}
		size := len(item.Content)
		if totalBytes+size > maxBytes {
			break
		}
		totalBytes += size
		rev = append(rev, item)
	}

	return reverse(rev)
}

// RebuildResponsesInput replays the log as responses-style items, emitting
// function_call and function_call_output items around each tool use/result
// pair in call order.
func RebuildResponsesInput(evs []events.Event, maxEvents, maxBytes int) []providers.Item {
	compacted := compactedIDs(evs)
	var rev []providers.Item
	totalBytes := 0

	for i := len(evs) - 1; i >= 0; i-- {
		var item providers.Item
		var size int
		switch e := evs[i].(type) {
		case *events.UserMessage:
			item = providers.Item{Role: "user", Content: e.Text}
			size = len(item.Content)
		case *events.AssistantMessage:
			item = providers.Item{Role: "assistant", Content: e.Text}
			size = len(item.Content)
		case *events.ToolUse:
			item = providers.Item{
				Type:      "function_call",
				CallID:    e.ToolUseID,
				Name:      e.Name,
				Arguments: string(e.Input),
			}
			if item.Arguments == "" {
				item.Arguments = "{}"
			}
			size = len(item.Arguments)
		case *events.ToolResult:
			item = providers.Item{
				Type:   "function_call_output",
				CallID: e.ToolUseID,
				Output: toolOutputJSON(e, compacted),
			}
			size = len(item.Output)
		default:
			continue
		}

		if len(rev) >= maxEvents {
			break
		}
		if totalBytes+size > maxBytes {
			break
		}
		totalBytes += size
		rev = append(rev, item)
	}

	return reverse(rev)
}

func reverse(items []providers.Item) []providers.Item {
	out := make([]providers.Item, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
	}
	return out
}
