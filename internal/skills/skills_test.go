package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const reviewSkill = `# review

Review the current diff for correctness bugs.

Some longer explanation.

## Checklist

- [ ] read the diff
- run the linters
* check the tests

## Notes

- not a checklist item
`

func writeSkill(t *testing.T, project, dir, name, content string) {
	t.Helper()
	path := filepath.Join(project, dir, "skills", name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	skill := Parse(reviewSkill, "p")
	if skill.Name != "review" {
		t.Errorf("name = %q", skill.Name)
	}
	if skill.Summary != "Review the current diff for correctness bugs." {
		t.Errorf("summary = %q", skill.Summary)
	}
	want := []string{"read the diff", "run the linters", "check the tests"}
	if len(skill.Checklist) != len(want) {
		t.Fatalf("checklist = %v", skill.Checklist)
	}
	for i := range want {
		if skill.Checklist[i] != want[i] {
			t.Errorf("checklist[%d] = %q", i, skill.Checklist[i])
		}
	}
}

func TestIndexPrecedence(t *testing.T) {
	project := t.TempDir()
	writeSkill(t, project, ".claude", "review", reviewSkill)
	writeSkill(t, project, ".opencode", "review", "# review\n\nShadowed copy.\n")
	writeSkill(t, project, ".opencode", "deploy", "# deploy\n\nShip the thing.\n")

	index := Index(project)
	if len(index) != 2 {
		t.Fatalf("index = %+v", index)
	}
	review, ok := Find(project, "review")
	if !ok || !strings.Contains(review.Summary, "correctness") {
		t.Errorf("claude copy did not win: %+v", review)
	}
	if _, ok := Find(project, "deploy"); !ok {
		t.Error("opencode-only skill missing")
	}
}

func TestSkillToolDescribesAndLoads(t *testing.T) {
	project := t.TempDir()
	writeSkill(t, project, ".claude", "review", reviewSkill)

	tool := SkillTool{ProjectDir: project}
	desc := tool.Description()
	if !strings.Contains(desc, "<available_skills>") || !strings.Contains(desc, "review") {
		t.Errorf("description = %q", desc)
	}

	out, err := tool.Run(context.Background(), map[string]any{"name": "review"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["name"] != "review" || len(m["checklist"].([]string)) != 3 {
		t.Errorf("out = %#v", m)
	}

	if _, err := tool.Run(context.Background(), map[string]any{"name": "missing"}, nil); err == nil {
		t.Error("unknown skill loaded")
	}
}
