package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentkit/internal/commands"
	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/internal/tools"
	"github.com/haasonsaas/agentkit/pkg/events"
)

// toolOutputPayload serializes a tool result for the message window the
// same way the transcript rebuilder would.
func toolOutputPayload(res *events.ToolResult) string {
	if len(res.Output) > 0 {
		return string(res.Output)
	}
	if res.IsError {
		data, _ := json.Marshal(map[string]any{
			"error_type":    res.ErrorType,
			"error_message": res.ErrorMessage,
		})
		return string(data)
	}
	return "null"
}

func marshalOutput(output any) json.RawMessage {
	data, err := json.Marshal(output)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", output))
	}
	return data
}

func errorResult(tc providers.ToolCall, errorType, message string) *events.ToolResult {
	return &events.ToolResult{
		ToolUseID:    tc.ToolUseID,
		IsError:      true,
		ErrorType:    errorType,
		ErrorMessage: message,
	}
}

func successResult(tc providers.ToolCall, output any) *events.ToolResult {
	return &events.ToolResult{
		ToolUseID: tc.ToolUseID,
		Output:    marshalOutput(output),
	}
}

// runToolCall executes one tool call through the full pipeline: allowlist,
// tool.use event, PreToolUse hooks, permission gate, special cases or
// registry dispatch, PostToolUse hooks, tool.result event. The returned
// result is always non-nil when err is nil.
func (r *Runtime) runToolCall(ctx context.Context, run *Run, state *runState, tc providers.ToolCall) (*events.ToolResult, error) {
	options := r.options
	started := time.Now()

	spanCtx, span := tracer().Start(ctx, "agent.tool_call", trace.WithAttributes(
		attribute.String("tool", tc.Name),
		attribute.String("tool_use_id", tc.ToolUseID),
	))
	defer span.End()
	ctx = spanCtx

	finishResult := func(result *events.ToolResult) (*events.ToolResult, error) {
		outcome := "ok"
		if result.IsError {
			outcome = "error"
			if result.ErrorType != "" {
				outcome = result.ErrorType
			}
		}
		metricToolRuns.WithLabelValues(tc.Name, outcome).Inc()
		metricToolDuration.WithLabelValues(tc.Name).Observe(time.Since(started).Seconds())
		if err := r.emit(ctx, run, state, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	if options.AllowedTools != nil && !contains(options.AllowedTools, tc.Name) {
		result := errorResult(tc, "ToolNotAllowed", fmt.Sprintf("Tool %q is not allowed", tc.Name))
		return finishResult(result)
	}

	use := &events.ToolUse{
		ToolUseID: tc.ToolUseID,
		Name:      tc.Name,
		Input:     marshalOutput(tc.Arguments),
	}
	if err := r.emit(ctx, run, state, use); err != nil {
		return nil, err
	}

	hctx := map[string]any{
		"session_id":  state.sessionID,
		"tool_use_id": tc.ToolUseID,
		"agent_name":  r.agentName,
	}
	toolInput, preEvents, preDecision := options.Hooks.RunPreToolUse(ctx, tc.Name, tc.Arguments, hctx)
	if err := r.emitAll(ctx, run, state, preEvents); err != nil {
		return nil, err
	}
	if preDecision != nil && preDecision.Block {
		reason := preDecision.BlockReason
		if reason == "" {
			reason = "blocked by hook"
		}
		return finishResult(errorResult(tc, "HookBlocked", reason))
	}

	approval, err := options.Gate.Approve(ctx, tc.Name, toolInput, hctx)
	if err != nil {
		return finishResult(errorResult(tc, "PermissionError", err.Error()))
	}
	if approval.Question != nil {
		if err := r.emit(ctx, run, state, approval.Question); err != nil {
			return nil, err
		}
	}
	if !approval.Allowed {
		message := approval.DenyMessage
		if message == "" {
			message = "tool use not approved"
		}
		return finishResult(errorResult(tc, "PermissionDenied", message))
	}
	if approval.UpdatedInput != nil {
		toolInput = approval.UpdatedInput
	}

	switch tc.Name {
	case "AskUserQuestion":
		result, err := r.dispatchAskUserQuestion(ctx, run, state, tc, toolInput)
		if err != nil {
			return nil, err
		}
		return finishResult(result)

	case "Task":
		result, err := r.dispatchTask(ctx, run, state, tc, toolInput)
		if err != nil {
			return nil, err
		}
		return finishResult(result)

	case "SlashCommand":
		result := r.dispatchSlashCommand(ctx, tc, toolInput, hctx)
		return finishResult(result)

	case "WebFetch":
		if prompt, ok := toolInput["prompt"].(string); ok && prompt != "" {
			result, err := r.dispatchWebFetchPrompt(ctx, run, state, tc, toolInput, prompt, hctx)
			if err != nil {
				return nil, err
			}
			return finishResult(result)
		}

	case "TodoWrite":
		result, err := r.dispatchTodoWrite(ctx, run, state, tc, toolInput, hctx)
		if err != nil {
			return nil, err
		}
		return finishResult(result)
	}

	result, err := r.dispatchRegistered(ctx, run, state, tc, toolInput, hctx)
	if err != nil {
		return nil, err
	}
	return finishResult(result)
}

// dispatchRegistered is the uniform path: validate, run, post-hook.
func (r *Runtime) dispatchRegistered(ctx context.Context, run *Run, state *runState, tc providers.ToolCall, toolInput map[string]any, hctx map[string]any) (*events.ToolResult, error) {
	options := r.options
	tool, ok := options.Tools.Get(tc.Name)
	if !ok {
		return errorResult(tc, "ToolNotFound", fmt.Sprintf("Tool %q is not registered", tc.Name)), nil
	}
	if err := options.Tools.ValidateInput(tc.Name, toolInput); err != nil {
		return errorResult(tc, "InvalidToolInput", err.Error()), nil
	}

	output, err := tool.Run(ctx, toolInput, &tools.Context{Cwd: options.Cwd, ProjectDir: options.projectDir()})
	if err != nil {
		return errorResult(tc, errorTypeOf(err), err.Error()), nil
	}

	if tc.Name == "Skill" {
		if name, ok := toolInput["name"].(string); ok && name != "" {
			if emitErr := r.emit(ctx, run, state, &events.SkillActivated{Name: name}); emitErr != nil {
				return nil, emitErr
			}
		}
	}

	output2, postEvents, postDecision := options.Hooks.RunPostToolUse(ctx, tc.Name, output, hctx)
	if err := r.emitAll(ctx, run, state, postEvents); err != nil {
		return nil, err
	}
	if postDecision != nil && postDecision.Block {
		reason := postDecision.BlockReason
		if reason == "" {
			reason = "blocked by hook"
		}
		return errorResult(tc, "HookBlocked", reason), nil
	}
	return successResult(tc, output2), nil
}

func (r *Runtime) dispatchAskUserQuestion(ctx context.Context, run *Run, state *runState, tc providers.ToolCall, toolInput map[string]any) (*events.ToolResult, error) {
	questions := normalizeQuestions(toolInput)
	if len(questions) == 0 {
		return errorResult(tc, "InvalidAskUserQuestionInput", "AskUserQuestion: 'questions' must be a non-empty list"), nil
	}

	answerer := r.options.Gate.UserAnswerer
	if answerer == nil {
		return errorResult(tc, "NoUserAnswerer", "AskUserQuestion: no user answerer is configured"), nil
	}

	answers := make(map[string]string, len(questions))
	for i, q := range questions {
		uq := &events.UserQuestion{
			QuestionID: fmt.Sprintf("%s:%d", tc.ToolUseID, i),
			Prompt:     q.text,
			Choices:    q.labels,
		}
		if err := r.emit(ctx, run, state, uq); err != nil {
			return nil, err
		}
		answer, err := answerer(ctx, uq)
		if err != nil {
			return errorResult(tc, "UserAnswerFailed", err.Error()), nil
		}
		answers[q.text] = answer
	}

	return successResult(tc, map[string]any{
		"questions": questionPayload(questions),
		"answers":   answers,
	}), nil
}

type normalizedQuestion struct {
	text   string
	labels []string
}

func questionPayload(questions []normalizedQuestion) []map[string]any {
	out := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		options := make([]map[string]string, 0, len(q.labels))
		for _, l := range q.labels {
			options = append(options, map[string]string{"label": l})
		}
		out = append(out, map[string]any{"question": q.text, "options": options})
	}
	return out
}

// normalizeQuestions accepts the questions-list form and the single
// question/prompt form, with options given as strings or {label} objects.
func normalizeQuestions(input map[string]any) []normalizedQuestion {
	raw := input["questions"]
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		list = []any{v}
	}

	if len(list) == 0 {
		text, _ := input["question"].(string)
		if text == "" {
			text, _ = input["prompt"].(string)
		}
		if text == "" {
			return nil
		}
		opts := input["options"]
		if opts == nil {
			opts = input["choices"]
		}
		q := map[string]any{"question": text}
		if opts != nil {
			q["options"] = opts
		}
		list = []any{q}
	}

	var out []normalizedQuestion
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		text, _ := obj["question"].(string)
		if text == "" {
			continue
		}
		var labels []string
		if opts, ok := obj["options"].([]any); ok {
			for _, opt := range opts {
				switch o := opt.(type) {
				case string:
					if o != "" {
						labels = append(labels, o)
					}
				case map[string]any:
					for _, key := range []string{"label", "name", "value"} {
						if l, ok := o[key].(string); ok && l != "" {
							labels = append(labels, l)
							break
						}
					}
				}
			}
		}
		if len(labels) == 0 {
			labels = []string{"ok"}
		}
		out = append(out, normalizedQuestion{text: text, labels: labels})
	}
	return out
}

func (r *Runtime) dispatchTask(ctx context.Context, run *Run, state *runState, tc providers.ToolCall, toolInput map[string]any) (*events.ToolResult, error) {
	options := r.options
	agentName, _ := toolInput["agent"].(string)
	if agentName == "" {
		return errorResult(tc, "InvalidTaskInput", "Task: 'agent' must be a non-empty string"), nil
	}
	taskPrompt, _ := toolInput["prompt"].(string)
	if taskPrompt == "" {
		return errorResult(tc, "InvalidTaskInput", "Task: 'prompt' must be a non-empty string"), nil
	}
	definition, ok := options.Agents[agentName]
	if !ok {
		return errorResult(tc, "UnknownAgent", fmt.Sprintf("Unknown agent %q", agentName)), nil
	}

	childSessionID, err := state.store.CreateSession(map[string]any{
		"parent_session_id":  state.sessionID,
		"parent_tool_use_id": tc.ToolUseID,
		"agent_name":         agentName,
	})
	if err != nil {
		return nil, err
	}

	childOptions := *options
	if definition.Provider != nil {
		childOptions.Provider = definition.Provider
	}
	if definition.Model != "" {
		childOptions.Model = definition.Model
	}
	if definition.Tools != nil {
		childOptions.AllowedTools = definition.Tools
	}
	childOptions.Store = state.store
	childOptions.Resume = childSessionID
	childOptions.MCPServers = nil

	child := newSubRuntime(&childOptions, agentName, tc.ToolUseID)
	combinedPrompt := taskPrompt
	if definition.Prompt != "" {
		combinedPrompt = definition.Prompt + "\n\n" + taskPrompt
	}

	childRun, err := child.Query(ctx, combinedPrompt)
	if err != nil {
		return errorResult(tc, "TaskFailed", err.Error()), nil
	}

	// Child events replay into the parent log and stream, in child order,
	// before the Task's own result.
	var childFinalText string
	for childEvent := range childRun.Events() {
		if res, ok := childEvent.(*events.Result); ok {
			childFinalText = res.FinalText
		}
		data, err := events.Marshal(childEvent)
		if err != nil {
			return nil, err
		}
		dup, err := events.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		if err := r.emit(ctx, run, state, dup); err != nil {
			return nil, err
		}
	}
	if err := childRun.Err(); err != nil {
		return nil, err
	}

	return successResult(tc, map[string]any{
		"child_session_id": childSessionID,
		"final_text":       childFinalText,
	}), nil
}

func (r *Runtime) dispatchSlashCommand(ctx context.Context, tc providers.ToolCall, toolInput map[string]any, hctx map[string]any) *events.ToolResult {
	options := r.options
	name, _ := toolInput["name"].(string)
	if name == "" {
		return errorResult(tc, "InvalidSlashCommandInput", "SlashCommand: 'name' must be a non-empty string")
	}
	args, _ := toolInput["args"].(string)

	template, ok := commands.Load(name, options.projectDir(), options.Commands)
	if !ok {
		return errorResult(tc, "UnknownCommand", fmt.Sprintf("Unknown command %q", name))
	}

	// Includes and inline shell go through the normal permission pipeline
	// via the Read and Bash tools.
	resolver := &commands.Resolver{
		ReadFile: func(path string) (string, error) {
			output, err := r.invokeGated(ctx, "Read", map[string]any{"file_path": path}, hctx)
			if err != nil {
				return "", err
			}
			if m, ok := output.(map[string]any); ok {
				if content, ok := m["content"].(string); ok {
					return content, nil
				}
			}
			return "", fmt.Errorf("Read returned no content for %s", path)
		},
		RunShell: func(command string) (string, error) {
			output, err := r.invokeGated(ctx, "Bash", map[string]any{"command": command}, hctx)
			if err != nil {
				return "", err
			}
			if m, ok := output.(map[string]any); ok {
				if stdout, ok := m["stdout"].(string); ok {
					return stdout, nil
				}
			}
			return "", fmt.Errorf("Bash returned no output for %q", command)
		},
	}

	expansion, err := template.Expand(args, resolver)
	if err != nil {
		return errorResult(tc, "CommandExpansionFailed", err.Error())
	}
	return successResult(tc, map[string]any{
		"name":    name,
		"args":    args,
		"sources": expansion.Sources,
		"content": expansion.Content,
	})
}

// invokeGated runs a tool through PreToolUse hooks and the permission gate
// without emitting events, for expansion-internal tool use.
func (r *Runtime) invokeGated(ctx context.Context, name string, input map[string]any, hctx map[string]any) (any, error) {
	options := r.options
	if options.AllowedTools != nil && !contains(options.AllowedTools, name) {
		return nil, fmt.Errorf("tool %q is not allowed", name)
	}
	tool, ok := options.Tools.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", name)
	}

	input2, _, preDecision := options.Hooks.RunPreToolUse(ctx, name, input, hctx)
	if preDecision != nil && preDecision.Block {
		return nil, fmt.Errorf("tool %q blocked by hook: %s", name, preDecision.BlockReason)
	}
	approval, err := options.Gate.Approve(ctx, name, input2, hctx)
	if err != nil {
		return nil, err
	}
	if !approval.Allowed {
		return nil, fmt.Errorf("tool %q not approved: %s", name, approval.DenyMessage)
	}
	if approval.UpdatedInput != nil {
		input2 = approval.UpdatedInput
	}
	output, err := tool.Run(ctx, input2, &tools.Context{Cwd: options.Cwd, ProjectDir: options.projectDir()})
	if err != nil {
		return nil, err
	}
	output2, _, postDecision := options.Hooks.RunPostToolUse(ctx, name, output, hctx)
	if postDecision != nil && postDecision.Block {
		return nil, fmt.Errorf("tool %q output blocked by hook: %s", name, postDecision.BlockReason)
	}
	return output2, nil
}

func (r *Runtime) dispatchWebFetchPrompt(ctx context.Context, run *Run, state *runState, tc providers.ToolCall, toolInput map[string]any, prompt string, hctx map[string]any) (*events.ToolResult, error) {
	options := r.options
	tool, ok := options.Tools.Get("WebFetch")
	if !ok {
		return errorResult(tc, "ToolNotFound", "WebFetch is not registered"), nil
	}

	fetched, err := tool.Run(ctx, toolInput, &tools.Context{Cwd: options.Cwd, ProjectDir: options.projectDir()})
	if err != nil {
		return errorResult(tc, errorTypeOf(err), err.Error()), nil
	}

	pageText := ""
	var fetchedURL, finalURL any
	var statusCode any
	if m, ok := fetched.(map[string]any); ok {
		pageText, _ = m["text"].(string)
		fetchedURL = m["url"]
		finalURL = m["url"]
		statusCode = m["status"]
	}
	if fetchedURL == nil {
		fetchedURL = toolInput["url"]
	}

	summary, err := r.oneShotComplete(ctx, []providers.Item{
		{Role: "user", Content: fmt.Sprintf("%s\n\nCONTENT:\n%s", prompt, pageText)},
	})
	if err != nil {
		return errorResult(tc, "WebFetchSummarizeFailed", err.Error()), nil
	}

	output := map[string]any{
		"response":    summary.AssistantText,
		"url":         fetchedURL,
		"final_url":   finalURL,
		"status_code": statusCode,
	}
	output2, postEvents, postDecision := options.Hooks.RunPostToolUse(ctx, tc.Name, output, hctx)
	if err := r.emitAll(ctx, run, state, postEvents); err != nil {
		return nil, err
	}
	if postDecision != nil && postDecision.Block {
		reason := postDecision.BlockReason
		if reason == "" {
			reason = "blocked by hook"
		}
		return errorResult(tc, "HookBlocked", reason), nil
	}
	return successResult(tc, output2), nil
}

func (r *Runtime) dispatchTodoWrite(ctx context.Context, run *Run, state *runState, tc providers.ToolCall, toolInput map[string]any, hctx map[string]any) (*events.ToolResult, error) {
	options := r.options
	tool, ok := options.Tools.Get("TodoWrite")
	if !ok {
		return errorResult(tc, "ToolNotFound", "TodoWrite is not registered"), nil
	}

	output, err := tool.Run(ctx, toolInput, &tools.Context{Cwd: options.Cwd, ProjectDir: options.projectDir()})
	if err != nil {
		return errorResult(tc, errorTypeOf(err), err.Error()), nil
	}
	if todos, ok := toolInput["todos"].([]any); ok {
		if err := state.store.WriteTodos(state.sessionID, todos); err != nil {
			return nil, err
		}
	}

	output2, postEvents, postDecision := options.Hooks.RunPostToolUse(ctx, tc.Name, output, hctx)
	if err := r.emitAll(ctx, run, state, postEvents); err != nil {
		return nil, err
	}
	if postDecision != nil && postDecision.Block {
		reason := postDecision.BlockReason
		if reason == "" {
			reason = "blocked by hook"
		}
		return errorResult(tc, "HookBlocked", reason), nil
	}
	return successResult(tc, output2), nil
}

// errorTypeOf labels a tool failure for the error result. Typed errors keep
// their names; everything else is a generic execution failure.
func errorTypeOf(err error) string {
	var invalid *tools.InvalidInputError
	if errors.As(err, &invalid) {
		return "InvalidToolInput"
	}
	return "ToolExecutionError"
}

func contains(list []string, name string) bool {
	for _, entry := range list {
		if entry == name {
			return true
		}
	}
	return false
}
