// Package files provides the built-in filesystem tools: Read, Write, Glob,
// and Grep.
package files

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/haasonsaas/agentkit/internal/tools"
)

const maxReadBytes = 1 << 20

// ReadTool reads a file from disk, truncated to one megabyte.
type ReadTool struct{}

func (ReadTool) Name() string        { return "Read" }
func (ReadTool) Description() string { return "Read a file from disk." }

func (ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path to the file, absolute or relative to cwd."},
		},
		"required": []any{"file_path"},
	}
}

func (ReadTool) Run(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
	filePath, err := tools.StringArg(input, "file_path")
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(tc.Cwd, filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	return map[string]any{
		"file_path": filePath,
		"content":   string(data),
		"truncated": truncated,
	}, nil
}

// WriteTool writes a file, creating parent directories as needed.
type WriteTool struct{}

func (WriteTool) Name() string        { return "Write" }
func (WriteTool) Description() string { return "Write content to a file." }

func (WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string"},
			"content":   map[string]any{"type": "string"},
		},
		"required": []any{"file_path", "content"},
	}
}

func (WriteTool) Run(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
	filePath, err := tools.StringArg(input, "file_path")
	if err != nil {
		return nil, fmt.Errorf("Write: %w", err)
	}
	content, ok := input["content"].(string)
	if !ok {
		return nil, fmt.Errorf("Write: 'content' must be a string")
	}
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(tc.Cwd, filePath)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return map[string]any{"file_path": filePath, "bytes_written": len(content)}, nil
}

// GlobTool finds files by pattern. Patterns containing "**" match at any
// depth; everything else follows filepath.Match against the relative path.
type GlobTool struct{}

func (GlobTool) Name() string        { return "Glob" }
func (GlobTool) Description() string { return "Find files by glob pattern." }

func (GlobTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string"},
			"root":    map[string]any{"type": "string"},
		},
		"required": []any{"pattern"},
	}
}

func (GlobTool) Run(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
	pattern, err := tools.StringArg(input, "pattern")
	if err != nil {
		return nil, fmt.Errorf("Glob: %w", err)
	}
	root := tools.OptionalString(input, "root", tc.Cwd)

	matches, err := globTree(root, pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return map[string]any{"root": root, "matches": matches}, nil
}

func globTree(root, pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		if matchGlob(pattern, filepath.ToSlash(rel)) {
			matches = append(matches, p)
		}
		return nil
	})
	return matches, err
}

// matchGlob matches a relative slash path, expanding "**" to any number of
// path segments.
func matchGlob(pattern, rel string) bool {
	if !strings.Contains(pattern, "**") {
		ok, err := filepath.Match(pattern, rel)
		return err == nil && ok
	}
	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")
	if prefix != "" && !strings.HasPrefix(rel, prefix+"/") {
		return false
	}
	if suffix == "" {
		return true
	}
	base := rel[strings.LastIndex(rel, "/")+1:]
	if ok, err := filepath.Match(suffix, base); err == nil && ok {
		return true
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rel, prefix), "/")
	ok, err := filepath.Match(suffix, trimmed)
	return err == nil && ok
}

const maxGrepMatches = 5000

// GrepTool searches file contents with a regular expression.
type GrepTool struct{}

func (GrepTool) Name() string        { return "Grep" }
func (GrepTool) Description() string { return "Search file contents with a regex." }

func (GrepTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":          map[string]any{"type": "string"},
			"file_glob":      map[string]any{"type": "string"},
			"root":           map[string]any{"type": "string"},
			"case_sensitive": map[string]any{"type": "boolean"},
		},
		"required": []any{"query"},
	}
}

func (GrepTool) Run(_ context.Context, input map[string]any, tc *tools.Context) (any, error) {
	query, err := tools.StringArg(input, "query")
	if err != nil {
		return nil, fmt.Errorf("Grep: %w", err)
	}
	fileGlob := tools.OptionalString(input, "file_glob", "**")
	root := tools.OptionalString(input, "root", tc.Cwd)

	expr := query
	if caseSensitive, ok := input["case_sensitive"].(bool); ok && !caseSensitive {
		expr = "(?i)" + expr
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("Grep: invalid regex: %w", err)
	}

	var matches []map[string]any
	truncated := false
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || truncated {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || !matchGlob(fileGlob, filepath.ToSlash(rel)) {
			return nil
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if rx.MatchString(line) {
				matches = append(matches, map[string]any{
					"file_path": p,
					"line":      i + 1,
					"text":      line,
				})
				if len(matches) >= maxGrepMatches {
					truncated = true
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"root":      root,
		"query":     query,
		"matches":   matches,
		"truncated": truncated,
	}, nil
}
