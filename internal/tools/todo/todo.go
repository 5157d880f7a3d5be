// Package todo provides the built-in TodoWrite tool. The runtime
// additionally persists each snapshot as todos.json next to the session
// log.
package todo

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentkit/internal/tools"
)

// WriteTool records the agent's working todo list.
type WriteTool struct{}

func (WriteTool) Name() string        { return "TodoWrite" }
func (WriteTool) Description() string { return "Replace the working todo list." }

func (WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"todos": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": map[string]any{"type": "string"},
						"status":  map[string]any{"type": "string", "enum": []any{"pending", "in_progress", "completed"}},
					},
					"required": []any{"content", "status"},
				},
			},
		},
		"required": []any{"todos"},
	}
}

func (WriteTool) Run(_ context.Context, input map[string]any, _ *tools.Context) (any, error) {
	todos, ok := input["todos"].([]any)
	if !ok {
		return nil, fmt.Errorf("TodoWrite: 'todos' must be an array")
	}
	return map[string]any{"count": len(todos)}, nil
}
