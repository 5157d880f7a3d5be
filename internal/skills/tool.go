package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentkit/internal/tools"
)

// SkillTool loads a named skill's body and checklist for the model. Its
// description embeds the available skills so the model can discover them
// without an extra round trip.
type SkillTool struct {
	ProjectDir string
}

func (SkillTool) Name() string { return "Skill" }

func (t SkillTool) Description() string {
	var b strings.Builder
	b.WriteString("Load a skill by name and follow its workflow.")
	index := Index(t.ProjectDir)
	if len(index) == 0 {
		return b.String()
	}
	b.WriteString("\n<available_skills>\n")
	for _, s := range index {
		b.WriteString("- ")
		b.WriteString(s.Name)
		if s.Summary != "" {
			b.WriteString(": ")
			b.WriteString(s.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString("</available_skills>")
	return b.String()
}

func (SkillTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "description": "Skill name."},
		},
		"required": []any{"name"},
	}
}

func (t SkillTool) Run(_ context.Context, input map[string]any, _ *tools.Context) (any, error) {
	name, err := tools.StringArg(input, "name")
	if err != nil {
		return nil, fmt.Errorf("Skill: %w", err)
	}
	skill, ok := Find(t.ProjectDir, name)
	if !ok {
		return nil, fmt.Errorf("Skill: unknown skill %q", name)
	}
	return map[string]any{
		"name":      skill.Name,
		"summary":   skill.Summary,
		"checklist": skill.Checklist,
		"body":      skill.Body,
		"path":      skill.Path,
	}, nil
}
