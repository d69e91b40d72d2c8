package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// maxGlobMatches bounds Glob output.
const maxGlobMatches = 200

// GlobTool finds files by pattern. Patterns may use ** to match any number of
// directories.
type GlobTool struct {
	Workspace *Workspace
}

func (t *GlobTool) Name() string {
	return "Glob"
}

func (t *GlobTool) Description() string {
	return "Find files in the workspace matching a glob pattern such as **/*.go."
}

func (t *GlobTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern relative to path. ** matches any number of directories.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search (default: working directory).",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Run(ctx context.Context, input json.RawMessage) (ToolResult, error) {
	var payload struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	pattern := filepath.ToSlash(strings.TrimSpace(payload.Pattern))
	if pattern == "" {
		return ToolResult{IsError: true, Content: "pattern is required"}, nil
	}
	if _, err := filepath.Match(strings.ReplaceAll(pattern, "**", "*"), ""); err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid pattern: %v", err)}, nil
	}

	root, err := t.Workspace.Resolve(payload.Path)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	var matches []string
	truncated := false
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if path != root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || !matchGlob(pattern, filepath.ToSlash(rel)) {
			return nil
		}
		if len(matches) == maxGlobMatches {
			truncated = true
			return filepath.SkipAll
		}
		matches = append(matches, t.Workspace.Display(path))
		return nil
	})
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	sort.Strings(matches)
	content := strings.Join(matches, "\n")
	if truncated {
		content += fmt.Sprintf("\n...[stopped after %d matches]", maxGlobMatches)
	}
	return ToolResult{Content: content}, nil
}

// matchGlob matches a slash-separated path against pattern, where a **
// segment matches zero or more path segments.
func matchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pattern, path []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			for skip := 0; skip <= len(path); skip++ {
				if matchSegments(pattern[1:], path[skip:]) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 {
			return false
		}
		if ok, _ := filepath.Match(pattern[0], path[0]); !ok {
			return false
		}
		pattern, path = pattern[1:], path[1:]
	}
	return len(path) == 0
}
