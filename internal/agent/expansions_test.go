package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func seedSkill(t *testing.T, dir, name string) {
	t.Helper()
	skillDir := filepath.Join(dir, ".claude", "skills", name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "# " + name + "\n\nDoes the thing.\n"
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExpandExecuteSkillPrompt(t *testing.T) {
	dir := t.TempDir()
	seedSkill(t, dir, "deploy")

	got := expandExecuteSkillPrompt("execute skill deploy", dir)
	if !strings.Contains(got, `Skill({"name": "deploy"})`) {
		t.Errorf("expanded = %q", got)
	}

	got = expandExecuteSkillPrompt("执行技能 deploy", dir)
	if !strings.Contains(got, "deploy") || got == "执行技能 deploy" {
		t.Errorf("cjk form not expanded: %q", got)
	}

	// Unknown skill passes through.
	if got := expandExecuteSkillPrompt("execute skill ghost", dir); got != "execute skill ghost" {
		t.Errorf("unknown skill rewritten: %q", got)
	}
	// Ordinary prompts pass through.
	if got := expandExecuteSkillPrompt("please deploy the app", dir); got != "please deploy the app" {
		t.Errorf("ordinary prompt rewritten: %q", got)
	}
}

func TestExpandListSkillsPrompt(t *testing.T) {
	dir := t.TempDir()

	// No skills: no rewrite.
	if got := expandListSkillsPrompt("list skills", dir); got != "list skills" {
		t.Errorf("rewritten without skills: %q", got)
	}

	seedSkill(t, dir, "deploy")
	for _, prompt := range []string{"list skills", "what skills are available?", "有哪些技能"} {
		got := expandListSkillsPrompt(prompt, dir)
		if !strings.Contains(got, "<available_skills>") {
			t.Errorf("prompt %q not expanded: %q", prompt, got)
		}
	}
}
