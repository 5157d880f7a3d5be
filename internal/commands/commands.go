// Package commands loads and expands slash-command templates.
//
// Lookup precedence (high to low): configured templates, project
// .opencode/commands/<name>.md, project .claude/commands/<name>.md, global
// ~/.config/opencode/commands/<name>.md.
//
// Expansion substitutes $ARGUMENTS and $1..$20, inlines @path file contents
// and !cmd shell output. File reads and shell runs go through resolver
// callbacks so the runtime can route them through the normal permission
// pipeline.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Template is one loadable command template.
type Template struct {
	Name    string
	Source  string
	Content string
}

// Resolver supplies the side effects expansion needs. Both callbacks are
// required when the template uses the corresponding token.
type Resolver struct {
	// ReadFile returns the contents of an @path include.
	ReadFile func(path string) (string, error)

	// RunShell returns the stdout of a !cmd line.
	RunShell func(command string) (string, error)
}

// Expansion is the rendered result.
type Expansion struct {
	Content string
	Sources []string
}

// GlobalConfigDir returns the global opencode config directory, honoring
// OPENCODE_CONFIG_DIR.
func GlobalConfigDir() string {
	if dir := os.Getenv("OPENCODE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "opencode")
}

// Load finds a command template by name. Configured templates win over
// on-disk files.
func Load(name, projectDir string, configured map[string]string) (*Template, bool) {
	if name == "" {
		return nil, false
	}
	if tpl, ok := configured[name]; ok && strings.TrimSpace(tpl) != "" {
		return &Template{Name: name, Source: "config:" + name, Content: strings.TrimSpace(tpl)}, true
	}

	candidates := []string{
		filepath.Join(projectDir, ".opencode", "commands", name+".md"),
		filepath.Join(projectDir, ".claude", "commands", name+".md"),
	}
	if global := GlobalConfigDir(); global != "" {
		candidates = append(candidates, filepath.Join(global, "commands", name+".md"))
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		return &Template{Name: name, Source: p, Content: string(data)}, true
	}
	return nil, false
}

var (
	positionalRx = regexp.MustCompile(`\$(\d+)`)
	includeRx    = regexp.MustCompile(`@(\S+)`)
	shellRx      = regexp.MustCompile(`!([^\n]+)`)
)

// Expand renders the template with the given argument string.
func (t *Template) Expand(args string, r *Resolver) (*Expansion, error) {
	content := strings.ReplaceAll(t.Content, "$ARGUMENTS", args)
	fields := strings.Fields(args)

	content = positionalRx.ReplaceAllStringFunc(content, func(m string) string {
		n := 0
		fmt.Sscanf(m[1:], "%d", &n)
		if n < 1 || n > 20 {
			return m
		}
		if n <= len(fields) {
			return fields[n-1]
		}
		return ""
	})

	sources := []string{t.Source}

	var expandErr error
	content = includeRx.ReplaceAllStringFunc(content, func(m string) string {
		if expandErr != nil {
			return m
		}
		path := m[1:]
		if r == nil || r.ReadFile == nil {
			expandErr = fmt.Errorf("command %s: no file resolver for %s", t.Name, m)
			return m
		}
		text, err := r.ReadFile(path)
		if err != nil {
			expandErr = fmt.Errorf("command %s: include %s: %w", t.Name, path, err)
			return m
		}
		sources = append(sources, path)
		return strings.TrimRight(text, "\n")
	})
	if expandErr != nil {
		return nil, expandErr
	}

	content = shellRx.ReplaceAllStringFunc(content, func(m string) string {
		if expandErr != nil {
			return m
		}
		command := strings.TrimSpace(m[1:])
		if r == nil || r.RunShell == nil {
			expandErr = fmt.Errorf("command %s: no shell resolver for !%s", t.Name, command)
			return m
		}
		out, err := r.RunShell(command)
		if err != nil {
			expandErr = fmt.Errorf("command %s: shell %q: %w", t.Name, command, err)
			return m
		}
		return strings.TrimRight(out, "\n")
	})
	if expandErr != nil {
		return nil, expandErr
	}

	return &Expansion{Content: content, Sources: sources}, nil
}
