package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentkit/internal/compaction"
	"github.com/haasonsaas/agentkit/internal/hooks"
	"github.com/haasonsaas/agentkit/internal/mcp"
	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/internal/sessions"
	"github.com/haasonsaas/agentkit/internal/transcript"
	"github.com/haasonsaas/agentkit/pkg/events"
)

// ErrNoProvider indicates the options carry no provider.
var ErrNoProvider = errors.New("no provider configured")

// errInterrupted unwinds the loop when cancellation is observed. It never
// escapes the runtime.
var errInterrupted = errors.New("interrupted")

// errStoreWrite wraps event-log write failures, which are fatal to the run.
var errStoreWrite = errors.New("append event")

// Run is the handle to one executing agent loop. Events arrive in
// persistence order; after the channel closes, Err reports whether the run
// was aborted by a fatal store failure instead of a terminal result event.
type Run struct {
	ch chan events.Event

	mu  sync.Mutex
	err error
}

// Events returns the lazy event stream. The channel closes after the
// terminal result event (or after a fatal store failure).
func (r *Run) Events() <-chan events.Event { return r.ch }

// Err reports the fatal error that aborted the run, if any. Valid after
// Events is closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Runtime drives the agent loop for one set of options. Subagent runtimes
// are spawned internally by Task dispatch with provenance fields set.
type Runtime struct {
	options         *Options
	agentName       string
	parentToolUseID string
	logger          *slog.Logger
}

// NewRuntime creates a runtime over immutable options.
func NewRuntime(options *Options) *Runtime {
	return &Runtime{
		options: options,
		logger:  slog.Default().With("component", "agent"),
	}
}

func newSubRuntime(options *Options, agentName, parentToolUseID string) *Runtime {
	return &Runtime{
		options:         options,
		agentName:       agentName,
		parentToolUseID: parentToolUseID,
		logger:          slog.Default().With("component", "agent", "agent_name", agentName),
	}
}

// runState is the per-run loop state. It lives on the loop goroutine's
// stack and is never shared.
type runState struct {
	store     sessions.Store
	sessionID string

	messages   []providers.Item
	baseSystem string

	protocol                   providers.Protocol
	previousResponseID         string
	supportsPreviousResponseID bool
	pendingToolCalls           []providers.ToolCall
	pendingHistory             []providers.Item

	steps int
}

// Query starts the loop for one prompt and returns the event stream
// handle.
func (r *Runtime) Query(ctx context.Context, prompt string) (*Run, error) {
	if r.options.Provider == nil {
		return nil, ErrNoProvider
	}
	if r.options.Tools == nil {
		return nil, errors.New("no tool registry configured")
	}
	if r.options.Gate == nil {
		return nil, errors.New("no permission gate configured")
	}
	if r.options.Hooks == nil {
		return nil, errors.New("no hook engine configured")
	}

	run := &Run{ch: make(chan events.Event, 16)}
	go func() {
		defer close(run.ch)
		runCtx := ctx
		var cancel context.CancelFunc
		if r.options.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, r.options.Timeout)
			defer cancel()
		}
		if err := r.loop(runCtx, run, prompt); err != nil && !errors.Is(err, errInterrupted) {
			r.logger.Error("run aborted", "error", err)
			run.fail(err)
		}
	}()
	return run, nil
}

// append persists an event without yielding it. The user prompt is
// recorded this way: the caller already has it, so only the log needs it.
func (r *Runtime) append(state *runState, e events.Event) error {
	env := events.Envelope(e)
	if env.ParentToolUseID == "" {
		env.ParentToolUseID = r.parentToolUseID
	}
	if env.AgentName == "" {
		env.AgentName = r.agentName
	}
	if err := state.store.AppendEvent(state.sessionID, e); err != nil {
		return fmt.Errorf("%w: %w", errStoreWrite, err)
	}
	return nil
}

// emit persists an event and yields it to the consumer. Store failures are
// fatal and abort the run.
func (r *Runtime) emit(ctx context.Context, run *Run, state *runState, e events.Event) error {
	env := events.Envelope(e)
	if env.ParentToolUseID == "" {
		env.ParentToolUseID = r.parentToolUseID
	}
	if env.AgentName == "" {
		env.AgentName = r.agentName
	}
	if err := state.store.AppendEvent(state.sessionID, e); err != nil {
		return fmt.Errorf("%w: %w", errStoreWrite, err)
	}
	select {
	case run.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) emitAll(ctx context.Context, run *Run, state *runState, hookEvents []*events.HookEvent) error {
	for _, he := range hookEvents {
		if err := r.emit(ctx, run, state, he); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) aborted(ctx context.Context) bool {
	if r.options.Abort.IsSet() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (r *Runtime) hookContext(state *runState) map[string]any {
	return map[string]any{
		"session_id":    state.sessionID,
		"model":         r.options.Model,
		"provider_name": r.options.Provider.Name(),
		"agent_name":    r.agentName,
	}
}

// finish emits SessionEnd hook events and the terminal result.
func (r *Runtime) finish(ctx context.Context, run *Run, state *runState, result *events.Result) error {
	hookEvents := r.options.Hooks.RunSessionEnd(ctx, r.hookContext(state))
	if err := r.emitAll(ctx, run, state, hookEvents); err != nil {
		return err
	}
	result.SessionID = state.sessionID
	result.Steps = state.steps
	metricRunsFinished.WithLabelValues(stopClass(result.StopReason)).Inc()
	return r.emit(ctx, run, state, result)
}

func defaultSessionRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentkit"
	}
	return filepath.Join(home, ".agentkit")
}

// initState acquires the store and reconstructs resume state from the most
// recent result event.
func (r *Runtime) initState(state *runState) error {
	options := r.options

	mcp.RegisterServers(options.Tools, options.MCPServers)

	state.store = options.Store
	if state.store == nil {
		root := options.SessionRoot
		if root == "" {
			root = defaultSessionRoot()
		}
		state.store = sessions.NewFileStore(root)
	}

	state.protocol = providers.DetectProtocol(options.Provider)
	state.supportsPreviousResponseID = true

	if options.Resume != "" {
		state.sessionID = options.Resume
		past, err := state.store.ReadEvents(state.sessionID)
		if err != nil {
			return err
		}
		var resumeProtocol providers.Protocol
		for i := len(past) - 1; i >= 0; i-- {
			res, ok := past[i].(*events.Result)
			if !ok || res.ProviderMetadata == nil {
				continue
			}
			if proto, ok := res.ProviderMetadata["protocol"].(string); ok && proto != "" {
				resumeProtocol = providers.Protocol(proto)
			}
			if spri, ok := res.ProviderMetadata["supports_previous_response_id"].(bool); ok {
				state.supportsPreviousResponseID = spri
			}
			break
		}
		for i := len(past) - 1; i >= 0; i-- {
			if res, ok := past[i].(*events.Result); ok && res.ResponseID != "" {
				state.previousResponseID = res.ResponseID
				break
			}
		}
		if resumeProtocol != "" {
			state.protocol = resumeProtocol
		}
		if state.protocol == providers.ProtocolResponses && !state.supportsPreviousResponseID {
			state.messages = transcript.RebuildResponsesInput(past, options.resumeMaxEvents(), options.resumeMaxBytes())
		} else {
			state.messages = transcript.RebuildMessages(past, options.resumeMaxEvents(), options.resumeMaxBytes())
		}
		return nil
	}

	metadata := map[string]any{
		"cwd":           options.Cwd,
		"provider_name": options.Provider.Name(),
		"model":         options.Model,
	}
	if len(options.SettingSources) > 0 {
		metadata["setting_sources"] = options.SettingSources
	}
	if options.AllowedTools != nil {
		metadata["allowed_tools"] = options.AllowedTools
	}
	if r.agentName != "" {
		metadata["agent_name"] = r.agentName
	}
	sessionID, err := state.store.CreateSession(metadata)
	if err != nil {
		return err
	}
	state.sessionID = sessionID
	return nil
}

func (r *Runtime) activeToolNames() []string {
	names := r.options.Tools.Names()
	if len(r.options.Agents) > 0 {
		names = append(names, "Task")
	}
	if r.options.AllowedTools == nil {
		return names
	}
	allowed := make(map[string]bool, len(r.options.AllowedTools))
	for _, name := range r.options.AllowedTools {
		allowed[name] = true
	}
	var out []string
	for _, name := range names {
		if allowed[name] {
			out = append(out, name)
		}
	}
	return out
}

func (r *Runtime) toolSchemas(names []string) []providers.ToolSchema {
	out := make([]providers.ToolSchema, 0, len(names))
	for _, name := range names {
		if name == "Task" {
			out = append(out, taskToolSchema())
			continue
		}
		tool, ok := r.options.Tools.Get(name)
		if !ok {
			continue
		}
		out = append(out, providers.ToolSchema{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.InputSchema(),
		})
	}
	return out
}

func taskToolSchema() providers.ToolSchema {
	return providers.ToolSchema{
		Name:        "Task",
		Description: "Spawn a configured subagent to work on a prompt and return its final answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent":  map[string]any{"type": "string"},
				"prompt": map[string]any{"type": "string"},
			},
			"required": []any{"agent", "prompt"},
		},
	}
}

// loop is the agent state machine described in the package comment.
func (r *Runtime) loop(ctx context.Context, run *Run, prompt string) error {
	options := r.options
	state := &runState{}
	if err := r.initState(state); err != nil {
		return err
	}

	init := &events.SystemInit{
		SessionID:        state.sessionID,
		Cwd:              options.Cwd,
		SDKVersion:       SDKVersion,
		EnabledTools:     options.Tools.Names(),
		EnabledProviders: []string{options.Provider.Name()},
	}
	if err := r.emit(ctx, run, state, init); err != nil {
		return err
	}

	startEvents := options.Hooks.RunSessionStart(ctx, r.hookContext(state))
	if err := r.emitAll(ctx, run, state, startEvents); err != nil {
		return err
	}

	state.baseSystem = buildBaseSystem(options)
	if state.baseSystem != "" {
		state.messages = append([]providers.Item{{Role: "system", Content: state.baseSystem}}, state.messages...)
	}

	prompt2, promptEvents, promptDecision := options.Hooks.RunUserPromptSubmit(ctx, prompt, r.hookContext(state))
	if err := r.emitAll(ctx, run, state, promptEvents); err != nil {
		return err
	}
	if promptDecision != nil && promptDecision.Block {
		return r.finish(ctx, run, state, &events.Result{
			StopReason: blockedStopReason(hooks.UserPromptSubmit, promptDecision),
		})
	}

	prompt3 := expandExecuteSkillPrompt(prompt2, options.projectDir())
	prompt3 = expandListSkillsPrompt(prompt3, options.projectDir())

	if err := r.append(state, &events.UserMessage{Text: prompt3}); err != nil {
		return err
	}
	state.messages = append(state.messages, providers.Item{Role: "user", Content: prompt3})

	for state.steps < options.maxSteps() {
		if r.aborted(ctx) {
			return r.finish(ctx, run, state, &events.Result{StopReason: "interrupted"})
		}
		state.steps++

		toolNames := r.activeToolNames()
		schemas := r.toolSchemas(toolNames)

		// Legacy, and responses without server threading, resend the whole
		// transcript; that is the moment to prune old tool outputs.
		if options.Compaction.PruneToolOutputs &&
			(state.protocol == providers.ProtocolLegacy || !state.supportsPreviousResponseID) {
			if err := r.prunePass(ctx, run, state); err != nil {
				return err
			}
		}

		// Keep the base system prompt pinned at position 0.
		if state.baseSystem != "" && len(state.messages) > 0 && state.messages[0].Role == "system" {
			state.messages[0] = providers.Item{Role: "system", Content: state.baseSystem}
		}

		hctx := r.hookContext(state)
		messages2, beforeEvents, beforeDecision := options.Hooks.RunBeforeModelCall(ctx, state.messages, hctx)
		if err := r.emitAll(ctx, run, state, beforeEvents); err != nil {
			return err
		}
		if beforeDecision != nil && beforeDecision.Block {
			return r.finish(ctx, run, state, &events.Result{
				StopReason: blockedStopReason(hooks.BeforeModelCall, beforeDecision),
			})
		}
		state.messages = messages2

		modelOut, err := r.invokeModel(ctx, run, state, schemas)
		if err != nil {
			if errors.Is(err, errInterrupted) {
				return r.finish(ctx, run, state, &events.Result{StopReason: "interrupted"})
			}
			var provErr *providers.Error
			if errors.As(err, &provErr) {
				return r.finish(ctx, run, state, &events.Result{
					StopReason: fmt.Sprintf("error:%s:%s", provErr.Kind, provErr.Message),
				})
			}
			if isFatal(err) {
				return err
			}
			return r.finish(ctx, run, state, &events.Result{
				StopReason: fmt.Sprintf("error:provider:%s", err.Error()),
			})
		}

		modelOut2, afterEvents, afterDecision := options.Hooks.RunAfterModelCall(ctx, modelOut, hctx)
		if err := r.emitAll(ctx, run, state, afterEvents); err != nil {
			return err
		}
		if afterDecision != nil && afterDecision.Block {
			return r.finish(ctx, run, state, &events.Result{
				StopReason: blockedStopReason(hooks.AfterModelCall, afterDecision),
			})
		}
		modelOut = modelOut2

		if len(modelOut.ToolCalls) > 0 {
			if err := r.handleToolCalls(ctx, run, state, modelOut); err != nil {
				return err
			}
			continue
		}

		if modelOut.AssistantText == "" {
			return r.finish(ctx, run, state, &events.Result{StopReason: "no_output"})
		}

		if options.Compaction.Auto && options.Compaction.Overflow(modelOut.Usage) {
			if err := r.compactionPass(ctx, run, state, modelOut); err != nil {
				if errors.Is(err, errInterrupted) {
					return r.finish(ctx, run, state, &events.Result{StopReason: "interrupted"})
				}
				if isFatal(err) {
					return err
				}
				return r.finish(ctx, run, state, &events.Result{
					StopReason: fmt.Sprintf("error:provider:%s", err.Error()),
				})
			}
			continue
		}

		if err := r.emit(ctx, run, state, &events.AssistantMessage{Text: modelOut.AssistantText}); err != nil {
			return err
		}

		stopEvents := options.Hooks.RunStop(ctx, modelOut.AssistantText, hctx)
		if err := r.emitAll(ctx, run, state, stopEvents); err != nil {
			return err
		}

		responseID := modelOut.ResponseID
		if responseID == "" {
			responseID = state.previousResponseID
		}
		return r.finish(ctx, run, state, &events.Result{
			FinalText:        modelOut.AssistantText,
			StopReason:       "end",
			Usage:            modelOut.Usage,
			ResponseID:       responseID,
			ProviderMetadata: r.providerMetadata(state, modelOut),
		})
	}

	return r.finish(ctx, run, state, &events.Result{StopReason: "max_steps"})
}

func (r *Runtime) providerMetadata(state *runState, modelOut *providers.ModelOutput) map[string]any {
	md := map[string]any{"protocol": string(state.protocol)}
	if state.protocol == providers.ProtocolResponses {
		md["supports_previous_response_id"] = state.supportsPreviousResponseID
	}
	for k, v := range modelOut.ProviderMetadata {
		md[k] = v
	}
	return md
}

// handleToolCalls runs every tool call of one model output and updates the
// message window according to the active protocol.
func (r *Runtime) handleToolCalls(ctx context.Context, run *Run, state *runState, modelOut *providers.ModelOutput) error {
	toolCalls := modelOut.ToolCalls
	state.pendingToolCalls = toolCalls

	if state.protocol == providers.ProtocolLegacy {
		state.messages = append(state.messages, providers.AssistantPlaceholder(toolCalls))
		for _, tc := range toolCalls {
			result, err := r.runToolCall(ctx, run, state, tc)
			if err != nil {
				return err
			}
			state.messages = append(state.messages, providers.Item{
				Role:       "tool",
				ToolCallID: tc.ToolUseID,
				Content:    toolOutputPayload(result),
			})
		}
		return nil
	}

	if state.supportsPreviousResponseID {
		// Server-side threading: keep the prior transcript aside for
		// fallback and send only the new outputs next turn.
		var outputs []providers.Item
		for _, tc := range toolCalls {
			result, err := r.runToolCall(ctx, run, state, tc)
			if err != nil {
				return err
			}
			outputs = append(outputs, providers.FunctionCallOutputItem(tc.ToolUseID, toolOutputPayload(result)))
		}
		if modelOut.ResponseID != "" {
			state.previousResponseID = modelOut.ResponseID
		}
		state.pendingHistory = append([]providers.Item(nil), state.messages...)
		state.messages = outputs
		return nil
	}

	for _, tc := range toolCalls {
		state.messages = append(state.messages, providers.FunctionCallItem(tc))
		result, err := r.runToolCall(ctx, run, state, tc)
		if err != nil {
			return err
		}
		state.messages = append(state.messages, providers.FunctionCallOutputItem(tc.ToolUseID, toolOutputPayload(result)))
	}
	return nil
}

// prunePass marks old tool outputs compacted and rebuilds the window from
// the log.
func (r *Runtime) prunePass(ctx context.Context, run *Run, state *runState) error {
	evs, err := state.store.ReadEvents(state.sessionID)
	if err != nil {
		return err
	}
	for _, id := range r.options.Compaction.SelectPrunable(evs) {
		marker := &events.ToolOutputCompacted{
			ToolUseID:   id,
			CompactedTS: float64(time.Now().UnixNano()) / 1e9,
		}
		if err := r.emit(ctx, run, state, marker); err != nil {
			return err
		}
		evs = append(evs, marker)
	}

	var window []providers.Item
	if state.protocol == providers.ProtocolResponses {
		window = transcript.RebuildResponsesInput(evs, r.options.resumeMaxEvents(), r.options.resumeMaxBytes())
	} else {
		window = transcript.RebuildMessages(evs, r.options.resumeMaxEvents(), r.options.resumeMaxBytes())
	}
	if state.baseSystem != "" {
		window = append([]providers.Item{{Role: "system", Content: state.baseSystem}}, window...)
	}
	state.messages = window
	return nil
}

// compactionPass runs the summarization turn and resets the window to the
// summary plus a continuation message.
func (r *Runtime) compactionPass(ctx context.Context, run *Run, state *runState, modelOut *providers.ModelOutput) error {
	if err := r.emit(ctx, run, state, &events.UserCompaction{Auto: true, Reason: "overflow"}); err != nil {
		return err
	}

	body := state.messages
	if len(body) > 0 && body[0].Role == "system" {
		body = body[1:]
	}
	summaryInput := append([]providers.Item{
		{Role: "system", Content: compaction.SummarizationSystemPrompt},
	}, body...)
	summaryInput = append(summaryInput, providers.Item{Role: "assistant", Content: modelOut.AssistantText})

	summary, err := r.oneShotComplete(ctx, summaryInput)
	if err != nil {
		return err
	}
	summaryText := summary.AssistantText
	if summaryText == "" {
		summaryText = modelOut.AssistantText
	}

	if err := r.emit(ctx, run, state, &events.AssistantMessage{Text: summaryText, IsSummary: true}); err != nil {
		return err
	}
	if err := r.append(state, &events.UserMessage{Text: compaction.ContinuationUserMessage}); err != nil {
		return err
	}

	state.previousResponseID = ""
	window := []providers.Item{}
	if state.baseSystem != "" {
		window = append(window, providers.Item{Role: "system", Content: state.baseSystem})
	}
	window = append(window,
		providers.Item{Role: "assistant", Content: summaryText},
		providers.Item{Role: "user", Content: compaction.ContinuationUserMessage},
	)
	state.messages = window
	return nil
}

// oneShotComplete issues a single model call with no tools and no
// threading. Used by the summarization pass and WebFetch prompt mode.
func (r *Runtime) oneShotComplete(ctx context.Context, input []providers.Item) (*providers.ModelOutput, error) {
	options := r.options
	switch p := options.Provider.(type) {
	case providers.ResponsesCompleter:
		return p.CompleteResponses(ctx, &providers.ResponsesRequest{
			Model:  options.Model,
			Input:  input,
			APIKey: options.APIKey,
			Store:  false,
		})
	case providers.LegacyCompleter:
		return p.CompleteLegacy(ctx, &providers.LegacyRequest{
			Model:    options.Model,
			Messages: input,
			APIKey:   options.APIKey,
		})
	case providers.ResponsesStreamer:
		stream, err := p.StreamResponses(ctx, &providers.ResponsesRequest{
			Model:  options.Model,
			Input:  input,
			APIKey: options.APIKey,
			Store:  false,
		})
		if err != nil {
			return nil, err
		}
		return drainStream(stream)
	case providers.LegacyStreamer:
		stream, err := p.StreamLegacy(ctx, &providers.LegacyRequest{
			Model:    options.Model,
			Messages: input,
			APIKey:   options.APIKey,
		})
		if err != nil {
			return nil, err
		}
		return drainStream(stream)
	}
	return nil, ErrNoProvider
}

func drainStream(stream <-chan providers.StreamEvent) (*providers.ModelOutput, error) {
	out := &providers.ModelOutput{}
	var text string
	for ev := range stream {
		switch ev.Type {
		case providers.StreamTextDelta:
			text += ev.Delta
		case providers.StreamToolCall:
			if ev.ToolCall != nil {
				out.ToolCalls = append(out.ToolCalls, *ev.ToolCall)
			}
		case providers.StreamDone:
			out.ResponseID = ev.ResponseID
			out.Usage = ev.Usage
		case providers.StreamError:
			return nil, ev.Err
		}
	}
	out.AssistantText = text
	return out, nil
}

// invokeModel calls the provider under the active protocol, preferring
// streaming, with at most one retry for the two recoverable conditions.
func (r *Runtime) invokeModel(ctx context.Context, run *Run, state *runState, schemas []providers.ToolSchema) (*providers.ModelOutput, error) {
	spanCtx, span := tracer().Start(ctx, "agent.model_call", trace.WithAttributes(
		attribute.String("provider", r.options.Provider.Name()),
		attribute.String("protocol", string(state.protocol)),
		attribute.Int("step", state.steps),
	))
	defer span.End()

	out, err := r.invokeModelInner(spanCtx, run, state, schemas)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
	}
	metricModelCalls.WithLabelValues(r.options.Provider.Name(), string(state.protocol), outcome).Inc()
	return out, err
}

func (r *Runtime) invokeModelInner(ctx context.Context, run *Run, state *runState, schemas []providers.ToolSchema) (*providers.ModelOutput, error) {
	options := r.options

	if providers.SupportsStreaming(options.Provider, state.protocol) {
		return r.invokeStreaming(ctx, run, state, schemas)
	}

	if state.protocol == providers.ProtocolLegacy {
		completer, ok := options.Provider.(providers.LegacyCompleter)
		if !ok {
			return nil, &providers.Error{Provider: options.Provider.Name(), Kind: "protocol", Message: "provider speaks no legacy operation"}
		}
		return completer.CompleteLegacy(ctx, &providers.LegacyRequest{
			Model:    options.Model,
			Messages: state.messages,
			Tools:    schemas,
			APIKey:   options.APIKey,
		})
	}

	completer, ok := options.Provider.(providers.ResponsesCompleter)
	if !ok {
		return nil, &providers.Error{Provider: options.Provider.Name(), Kind: "protocol", Message: "provider speaks no responses operation"}
	}

	out, err := completer.CompleteResponses(ctx, r.responsesRequest(state, schemas))
	if err == nil {
		return out, nil
	}
	if !r.canRecover(state, err) {
		return nil, err
	}
	r.recoverWindow(state)
	return completer.CompleteResponses(ctx, r.responsesRequest(state, schemas))
}

func (r *Runtime) responsesRequest(state *runState, schemas []providers.ToolSchema) *providers.ResponsesRequest {
	req := &providers.ResponsesRequest{
		Model:  r.options.Model,
		Input:  state.messages,
		Tools:  schemas,
		APIKey: r.options.APIKey,
		Store:  true,
	}
	if state.supportsPreviousResponseID {
		req.PreviousResponseID = state.previousResponseID
	}
	return req
}

// canRecover applies the per-turn retry budget of one to the two
// recoverable provider failures.
func (r *Runtime) canRecover(state *runState, err error) bool {
	if state.protocol == providers.ProtocolLegacy || !state.supportsPreviousResponseID {
		return false
	}
	if providers.IsUnsupportedPreviousResponseID(err) {
		return state.previousResponseID != ""
	}
	return providers.IsNoToolCallFoundForCallOutput(err)
}

// recoverWindow rebuilds a self-contained window after the server rejected
// the threading pointer: prior transcript, then the recorded function_call
// items, then the outputs that were about to be sent.
func (r *Runtime) recoverWindow(state *runState) {
	state.supportsPreviousResponseID = false
	if len(state.pendingToolCalls) > 0 && len(state.pendingHistory) > 0 &&
		providers.OnlyFunctionCallOutputs(state.messages) {
		window := append([]providers.Item(nil), state.pendingHistory...)
		window = append(window, providers.PrependFunctionCalls(state.pendingToolCalls, state.messages)...)
		state.messages = window
	}
	r.logger.Warn("provider lost response chain, falling back to full transcript",
		"session_id", state.sessionID)
}

func (r *Runtime) invokeStreaming(ctx context.Context, run *Run, state *runState, schemas []providers.ToolSchema) (*providers.ModelOutput, error) {
	options := r.options

	for attempt := 0; ; attempt++ {
		var stream <-chan providers.StreamEvent
		var err error
		if state.protocol == providers.ProtocolLegacy {
			stream, err = options.Provider.(providers.LegacyStreamer).StreamLegacy(ctx, &providers.LegacyRequest{
				Model:    options.Model,
				Messages: state.messages,
				Tools:    schemas,
				APIKey:   options.APIKey,
			})
		} else {
			stream, err = options.Provider.(providers.ResponsesStreamer).StreamResponses(ctx, r.responsesRequest(state, schemas))
		}
		if err != nil {
			if attempt == 0 && r.canRecover(state, err) {
				r.recoverWindow(state)
				continue
			}
			return nil, err
		}

		var parts string
		var toolCalls []providers.ToolCall
		var responseID string
		var usage map[string]any
		var streamErr error

		for ev := range stream {
			if r.aborted(ctx) {
				return nil, errInterrupted
			}
			switch ev.Type {
			case providers.StreamTextDelta:
				if ev.Delta == "" {
					continue
				}
				parts += ev.Delta
				if options.IncludePartialMessages {
					if emitErr := r.emit(ctx, run, state, &events.AssistantDelta{TextDelta: ev.Delta}); emitErr != nil {
						return nil, emitErr
					}
				}
			case providers.StreamToolCall:
				if ev.ToolCall != nil {
					toolCalls = append(toolCalls, *ev.ToolCall)
				}
			case providers.StreamDone:
				responseID = ev.ResponseID
				usage = ev.Usage
			case providers.StreamError:
				streamErr = ev.Err
			}
			if streamErr != nil {
				break
			}
		}

		if streamErr != nil {
			canRetry := attempt == 0 &&
				parts == "" && len(toolCalls) == 0 && responseID == "" &&
				r.canRecover(state, streamErr)
			if canRetry {
				r.recoverWindow(state)
				continue
			}
			return nil, streamErr
		}

		return &providers.ModelOutput{
			AssistantText: parts,
			ToolCalls:     toolCalls,
			Usage:         usage,
			ResponseID:    responseID,
		}, nil
	}
}

func blockedStopReason(point hooks.Point, decision *hooks.Decision) string {
	reason := decision.BlockReason
	if reason == "" {
		reason = "blocked"
	}
	return fmt.Sprintf("blocked:%s:%s", point.StopReasonSlug(), reason)
}

// isFatal distinguishes errors that must escape the run (store and channel
// failures) from provider errors that become terminal results.
func isFatal(err error) bool {
	return errors.Is(err, errStoreWrite) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func buildBaseSystem(options *Options) string {
	return projectSystemPrompt(options)
}
