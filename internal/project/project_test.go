package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("Always run the tests.\n"), 0o644)
	os.MkdirAll(filepath.Join(dir, ".opencode", "commands"), 0o755)
	os.WriteFile(filepath.Join(dir, ".opencode", "commands", "deploy.md"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "STYLE.md"), []byte("Use tabs.\n"), 0o644)

	prompt := BuildSystemPrompt([]string{"project"}, dir, []string{"STYLE.md"})
	for _, want := range []string{"Always run the tests.", "## Slash Commands", "- /deploy", "Use tabs."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildSystemPromptWithoutProjectSource(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("memory"), 0o644)
	if got := BuildSystemPrompt(nil, dir, nil); got != "" {
		t.Errorf("prompt = %q", got)
	}
}

func TestListCommandsDeduplicates(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{".opencode", ".claude"} {
		os.MkdirAll(filepath.Join(dir, d, "commands"), 0o755)
		os.WriteFile(filepath.Join(dir, d, "commands", "hello.md"), []byte("x"), 0o644)
	}
	commands := ListCommands(dir)
	if len(commands) != 1 {
		t.Fatalf("commands = %+v", commands)
	}
	if !strings.Contains(commands[0].Path, ".opencode") {
		t.Errorf("opencode copy did not win: %s", commands[0].Path)
	}
}

func TestLoadMemoryFallback(t *testing.T) {
	dir := t.TempDir()
	if LoadMemory(dir) != "" {
		t.Error("memory found in empty project")
	}
	os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("agents memory"), 0o644)
	if LoadMemory(dir) != "agents memory" {
		t.Error("AGENTS.md fallback missed")
	}
	os.MkdirAll(filepath.Join(dir, ".claude"), 0o755)
	os.WriteFile(filepath.Join(dir, ".claude", "CLAUDE.md"), []byte("claude memory"), 0o644)
	if LoadMemory(dir) != "claude memory" {
		t.Error(".claude/CLAUDE.md precedence missed")
	}
}
