// Package skills discovers and parses project skills.
//
// A skill lives at <project>/.claude/skills/<name>/SKILL.md or
// <project>/.opencode/skills/<name>/SKILL.md. The first H1 names it, the
// first paragraph after the H1 is the summary, and items under a
// "## Checklist" heading form its checklist.
package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Skill is one discovered skill.
type Skill struct {
	Name      string
	Summary   string
	Checklist []string
	Body      string
	Path      string
}

// skillDirs lists the search roots relative to the project, in precedence
// order (first hit wins per name).
var skillDirs = []string{
	filepath.Join(".claude", "skills"),
	filepath.Join(".opencode", "skills"),
}

// Index discovers every skill under the project directory. Unreadable skill
// files are skipped; a skill file without an H1 is named after its directory.
func Index(projectDir string) []Skill {
	logger := slog.Default().With("component", "skills")
	seen := make(map[string]bool)
	var out []Skill

	for _, rel := range skillDirs {
		root := filepath.Join(projectDir, rel)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || seen[entry.Name()] {
				continue
			}
			path := filepath.Join(root, entry.Name(), "SKILL.md")
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			skill := Parse(string(data), path)
			if skill.Name == "" {
				skill.Name = entry.Name()
			}
			if skill.Name != entry.Name() {
				logger.Debug("skill name differs from directory", "dir", entry.Name(), "name", skill.Name)
			}
			seen[entry.Name()] = true
			out = append(out, skill)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find returns the named skill, if present.
func Find(projectDir, name string) (Skill, bool) {
	for _, s := range Index(projectDir) {
		if s.Name == name {
			return s, true
		}
	}
	return Skill{}, false
}

// Parse extracts a skill from SKILL.md content.
func Parse(content, path string) Skill {
	skill := Skill{Body: strings.TrimSpace(content), Path: path}

	lines := strings.Split(content, "\n")
	inChecklist := false
	summaryDone := false
	var summary []string

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "# ") && skill.Name == "":
			skill.Name = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		case strings.HasPrefix(line, "## "):
			heading := strings.TrimSpace(strings.TrimPrefix(line, "## "))
			inChecklist = strings.EqualFold(heading, "Checklist")
			summaryDone = true
		case inChecklist && (strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ")):
			item := strings.TrimSpace(line[2:])
			item = strings.TrimPrefix(item, "[ ] ")
			item = strings.TrimPrefix(item, "[x] ")
			if item != "" {
				skill.Checklist = append(skill.Checklist, item)
			}
		case skill.Name != "" && !summaryDone:
			if line == "" {
				if len(summary) > 0 {
					summaryDone = true
				}
				continue
			}
			summary = append(summary, line)
		}
	}
	skill.Summary = strings.Join(summary, " ")
	return skill
}
