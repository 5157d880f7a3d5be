// Package permission decides whether each tool call may run.
//
// The gate never invokes tools itself; it returns an approval the runtime
// acts on, optionally carrying a rewritten tool input or the user question
// that was asked to obtain the decision.
package permission

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentkit/pkg/events"
)

// Mode selects the gate's policy. The set is closed.
type Mode string

const (
	// ModeDefault consults the approver when configured, else allows.
	ModeDefault Mode = "default"

	// ModePrompt asks the approver when configured, else asks the user.
	ModePrompt Mode = "prompt"

	// ModeBypass always allows.
	ModeBypass Mode = "bypass"

	// ModeDeny always denies.
	ModeDeny Mode = "deny"

	// ModeCallback requires an approver; without one every call is denied.
	ModeCallback Mode = "callback"

	// ModeAcceptEdits allows read-like and edit tools without prompting and
	// prompts for everything else.
	ModeAcceptEdits Mode = "acceptEdits"
)

// Decision is an approver's verdict.
type Decision struct {
	Allowed      bool
	UpdatedInput map[string]any
	DenyMessage  string
}

// Allow approves a call, optionally rewriting its input.
func Allow(updatedInput map[string]any) *Decision {
	return &Decision{Allowed: true, UpdatedInput: updatedInput}
}

// Deny rejects a call with a message the model can react to.
func Deny(message string) *Decision {
	return &Decision{Allowed: false, DenyMessage: message}
}

// Approver is the host-supplied approval callback.
type Approver func(ctx context.Context, toolName string, toolInput map[string]any, pctx map[string]any) (*Decision, error)

// UserAnswerer resolves a user question to a free-form answer string.
type UserAnswerer func(ctx context.Context, question *events.UserQuestion) (string, error)

// Approval is the gate's outcome for one tool call. Question is set when
// the decision was obtained interactively, so the runtime can persist it.
type Approval struct {
	Allowed      bool
	UpdatedInput map[string]any
	DenyMessage  string
	Question     *events.UserQuestion
}

// Gate evaluates tool calls under a fixed mode.
type Gate struct {
	Mode         Mode
	Approver     Approver
	UserAnswerer UserAnswerer
}

// acceptEditsAllowed lists the tools ModeAcceptEdits lets through without a
// prompt: reads plus the file-editing and bookkeeping tools.
var acceptEditsAllowed = map[string]bool{
	"Read":         true,
	"Glob":         true,
	"Grep":         true,
	"Edit":         true,
	"Write":        true,
	"TodoWrite":    true,
	"Skill":        true,
	"SlashCommand": true,
	"WebFetch":     true,
}

// Approve decides one tool call. The returned approval carries the
// rewritten input when the approver supplied one.
func (g *Gate) Approve(ctx context.Context, toolName string, toolInput map[string]any, pctx map[string]any) (*Approval, error) {
	mode := g.Mode
	if mode == "" {
		mode = ModeDefault
	}

	switch mode {
	case ModeBypass:
		return &Approval{Allowed: true}, nil

	case ModeDeny:
		return &Approval{Allowed: false, DenyMessage: "permission mode is deny"}, nil

	case ModeDefault:
		if g.Approver == nil {
			return &Approval{Allowed: true}, nil
		}
		return g.consult(ctx, toolName, toolInput, pctx)

	case ModeCallback:
		if g.Approver == nil {
			return &Approval{Allowed: false, DenyMessage: "no approval callback configured"}, nil
		}
		return g.consult(ctx, toolName, toolInput, pctx)

	case ModePrompt:
		if g.Approver != nil {
			return g.consult(ctx, toolName, toolInput, pctx)
		}
		return g.ask(ctx, toolName)

	case ModeAcceptEdits:
		if acceptEditsAllowed[toolName] {
			return &Approval{Allowed: true}, nil
		}
		if g.Approver != nil {
			return g.consult(ctx, toolName, toolInput, pctx)
		}
		return g.ask(ctx, toolName)
	}

	return &Approval{Allowed: false, DenyMessage: fmt.Sprintf("unknown permission mode %q", mode)}, nil
}

func (g *Gate) consult(ctx context.Context, toolName string, toolInput map[string]any, pctx map[string]any) (*Approval, error) {
	decision, err := g.Approver(ctx, toolName, toolInput, pctx)
	if err != nil {
		return nil, err
	}
	if decision == nil || !decision.Allowed {
		message := "tool use not approved"
		if decision != nil && decision.DenyMessage != "" {
			message = decision.DenyMessage
		}
		return &Approval{Allowed: false, DenyMessage: message}, nil
	}
	return &Approval{Allowed: true, UpdatedInput: decision.UpdatedInput}, nil
}

func (g *Gate) ask(ctx context.Context, toolName string) (*Approval, error) {
	if g.UserAnswerer == nil {
		return &Approval{Allowed: false, DenyMessage: "no user answerer configured for approval prompt"}, nil
	}
	question := &events.UserQuestion{
		QuestionID: "approve:" + toolName,
		Prompt:     fmt.Sprintf("Allow the agent to run tool %q?", toolName),
		Choices:    []string{"yes", "no"},
	}
	answer, err := g.UserAnswerer(ctx, question)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y", "allow", "ok":
		return &Approval{Allowed: true, Question: question}, nil
	}
	return &Approval{
		Allowed:     false,
		DenyMessage: fmt.Sprintf("user declined tool %q", toolName),
		Question:    question,
	}, nil
}
