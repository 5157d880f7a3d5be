package agent

import (
	"fmt"
	"regexp"

	"github.com/haasonsaas/agentkit/internal/skills"
)

// Best-effort prompt rewrites applied before the user message is persisted.
// They only fire when the matching skill (or any skill) actually exists on
// disk, so ordinary prompts pass through untouched.

var execSkillRx = regexp.MustCompile(
	`(?i)^\s*(?:执行技能|运行技能|run skill|execute skill)\s*[:：]?\s*([A-Za-z0-9_.-]+)\s*$`,
)

var listSkillsRx = regexp.MustCompile(
	`(?i)^\s*(?:what\s+skills\s+are\s+available\??|list\s+skills|有哪些技能\??|有什么技能\??|技能有哪些\??)\s*$`,
)

// expandExecuteSkillPrompt rewrites "execute skill NAME" into an explicit
// instruction to load the skill via the Skill tool.
func expandExecuteSkillPrompt(prompt, projectDir string) string {
	m := execSkillRx.FindStringSubmatch(prompt)
	if m == nil {
		return prompt
	}
	name := m[1]
	if _, ok := skills.Find(projectDir, name); !ok {
		return prompt
	}
	return fmt.Sprintf(
		"You are executing the skill `%s`.\n"+
			"Do not ask the user for extra goals or input unless the skill explicitly requires it.\n"+
			"Follow the skill's Workflow/Checklist exactly.\n\n"+
			"You MUST load the skill by calling the `Skill` tool: `Skill({\"name\": %q})`.\n",
		name, name,
	)
}

// expandListSkillsPrompt rewrites "list skills" style prompts into an
// instruction to enumerate the Skill tool's available_skills listing.
func expandListSkillsPrompt(prompt, projectDir string) string {
	if !listSkillsRx.MatchString(prompt) {
		return prompt
	}
	if len(skills.Index(projectDir)) == 0 {
		return prompt
	}
	return "List the available Skills for this project.\n" +
		"The available skills are listed in the `Skill` tool description under <available_skills>.\n" +
		"Present them as a short bullet list: `name` — description (or summary).\n"
}
