// Package compaction keeps long sessions inside the provider's context
// window.
//
// Two mechanisms: cheap append-only pruning of old tool outputs (the
// transcript rebuilder substitutes a placeholder for pruned ids), and a
// heavy summarization pass run when usage reports the window is about to
// overflow.
package compaction

import (
	"github.com/haasonsaas/agentkit/pkg/events"
)

// Defaults for hosts that enable compaction without tuning it.
const (
	DefaultKeepRecent   = 6
	DefaultContextLimit = 128000
	DefaultThreshold    = 0.85
)

// SummarizationSystemPrompt is the fixed system prompt of the
// summarization pass.
const SummarizationSystemPrompt = "You are summarizing an agent conversation so it can continue in a fresh context. " +
	"Produce a dense summary covering: the user's goal, what has been done so far, tool results that still matter, " +
	"open problems, and the immediate next step. Do not add commentary."

// ContinuationUserMessage is injected after a summarization pass so the
// loop resumes working.
const ContinuationUserMessage = "Continue from the summary above. Pick up the task where it left off."

// Options configures both mechanisms.
type Options struct {
	// PruneToolOutputs enables the cheap pruning pass before model calls.
	PruneToolOutputs bool

	// KeepRecent is how many of the most recent tool results survive a
	// prune pass. Default: 6.
	KeepRecent int

	// Auto enables the summarization pass on predicted overflow.
	Auto bool

	// ContextLimit is the provider's context size in tokens. Default: 128000.
	ContextLimit int

	// Threshold is the fraction of ContextLimit that triggers auto
	// compaction. Default: 0.85.
	Threshold float64
}

func (o Options) keepRecent() int {
	if o.KeepRecent > 0 {
		return o.KeepRecent
	}
	return DefaultKeepRecent
}

func (o Options) contextLimit() int {
	if o.ContextLimit > 0 {
		return o.ContextLimit
	}
	return DefaultContextLimit
}

func (o Options) threshold() float64 {
	if o.Threshold > 0 {
		return o.Threshold
	}
	return DefaultThreshold
}

// SelectPrunable returns the tool_use_ids whose outputs should be marked
// compacted: every tool result older than the keep-window, oldest first,
// skipping ids already marked.
func (o Options) SelectPrunable(evs []events.Event) []string {
	compacted := make(map[string]bool)
	var resultIDs []string
	for _, e := range evs {
		switch ev := e.(type) {
		case *events.ToolOutputCompacted:
			compacted[ev.ToolUseID] = true
		case *events.ToolResult:
			resultIDs = append(resultIDs, ev.ToolUseID)
		}
	}

	keep := o.keepRecent()
	if len(resultIDs) <= keep {
		return nil
	}
	var out []string
	for _, id := range resultIDs[:len(resultIDs)-keep] {
		if !compacted[id] {
			out = append(out, id)
			compacted[id] = true
		}
	}
	return out
}

// Overflow reports whether the turn's usage predicts the context limit is
// about to be crossed.
func (o Options) Overflow(usage map[string]any) bool {
	if usage == nil {
		return false
	}
	total, ok := usage["total_tokens"].(float64)
	if !ok {
		return false
	}
	return total > float64(o.contextLimit())*o.threshold()
}
