// Package project assembles the base system prompt from project memory,
// configured instruction files, and the slash-command index.
package project

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CommandRef points at one discovered slash command.
type CommandRef struct {
	Name string
	Path string
}

// memoryFiles lists the project memory files, in load order. The first one
// found wins.
var memoryFiles = []string{
	"CLAUDE.md",
	filepath.Join(".claude", "CLAUDE.md"),
	"AGENTS.md",
}

// LoadMemory returns the project memory text, or "".
func LoadMemory(projectDir string) string {
	for _, rel := range memoryFiles {
		data, err := os.ReadFile(filepath.Join(projectDir, rel))
		if err == nil && strings.TrimSpace(string(data)) != "" {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// ListCommands scans the project command directories.
func ListCommands(projectDir string) []CommandRef {
	seen := make(map[string]bool)
	var out []CommandRef
	for _, rel := range []string{
		filepath.Join(".opencode", "commands"),
		filepath.Join(".claude", "commands"),
	} {
		dir := filepath.Join(projectDir, rel)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ".md")
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, CommandRef{Name: name, Path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildSystemPrompt assembles the base system prompt. Project memory and
// the command index are included only when "project" is among the setting
// sources; instruction files are always honored. Returns "" when there is
// nothing to say.
func BuildSystemPrompt(settingSources []string, projectDir string, instructionFiles []string) string {
	var parts []string

	useProject := false
	for _, s := range settingSources {
		if s == "project" {
			useProject = true
		}
	}
	if useProject {
		if memory := LoadMemory(projectDir); memory != "" {
			parts = append(parts, memory)
		}
		if commands := ListCommands(projectDir); len(commands) > 0 {
			lines := []string{"## Slash Commands"}
			for _, c := range commands {
				lines = append(lines, "- /"+c.Name+" ("+c.Path+")")
			}
			parts = append(parts, strings.Join(lines, "\n"))
		}
	}

	for _, file := range instructionFiles {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}
