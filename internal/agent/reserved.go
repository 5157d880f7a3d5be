package agent

import (
	"context"
	"errors"

	"github.com/haasonsaas/agentkit/internal/tools"
)

// errRuntimeHandled marks tools whose semantics live in the runtime's
// dispatch, not in a registry Run. Reaching their Run means the dispatch
// interception was bypassed.
var errRuntimeHandled = errors.New("tool is handled by the runtime")

// askUserQuestionTool advertises the AskUserQuestion schema. Dispatch
// intercepts calls and drives the user answerer directly.
type askUserQuestionTool struct{}

func (askUserQuestionTool) Name() string { return "AskUserQuestion" }

func (askUserQuestionTool) Description() string {
	return "Ask the user one or more questions and wait for answers."
}

func (askUserQuestionTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
						"options": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "object"},
						},
					},
				},
			},
			"question": map[string]any{"type": "string"},
			"options":  map[string]any{"type": "array"},
		},
	}
}

func (askUserQuestionTool) Run(context.Context, map[string]any, *tools.Context) (any, error) {
	return nil, errRuntimeHandled
}

// slashCommandTool advertises the SlashCommand schema. Dispatch intercepts
// calls, loads the template, and expands it through the permission
// pipeline.
type slashCommandTool struct{}

func (slashCommandTool) Name() string { return "SlashCommand" }

func (slashCommandTool) Description() string {
	return "Expand a named slash-command template with arguments."
}

func (slashCommandTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"args": map[string]any{"type": "string"},
		},
		"required": []any{"name"},
	}
}

func (slashCommandTool) Run(context.Context, map[string]any, *tools.Context) (any, error) {
	return nil, errRuntimeHandled
}
