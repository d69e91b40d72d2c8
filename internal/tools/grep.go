package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// maxGrepMatches bounds Grep output.
const maxGrepMatches = 100

// GrepTool searches file contents under a workspace path.
type GrepTool struct {
	Workspace *Workspace
}

func (t *GrepTool) Name() string {
	return "Grep"
}

func (t *GrepTool) Description() string {
	return "Search file contents in the workspace. Returns path:line:text for each matching line."
}

func (t *GrepTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression (RE2 syntax) to search for.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "File or directory to search (default: working directory).",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Only search files whose name matches this glob, e.g. *.go.",
			},
			"ignore_case": map[string]any{
				"type":        "boolean",
				"description": "Match case-insensitively.",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Run(ctx context.Context, input json.RawMessage) (ToolResult, error) {
	var payload struct {
		Pattern    string `json:"pattern"`
		Path       string `json:"path"`
		Glob       string `json:"glob"`
		IgnoreCase bool   `json:"ignore_case"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if payload.Pattern == "" {
		return ToolResult{IsError: true, Content: "pattern is required"}, nil
	}
	expr := payload.Pattern
	if payload.IgnoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
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
		if payload.Glob != "" {
			if ok, _ := filepath.Match(payload.Glob, entry.Name()); !ok {
				return nil
			}
		}
		info, err := entry.Info()
		if err != nil || info.Size() > maxReadBytes {
			return nil
		}
		found, full := grepFile(path, t.Workspace.Display(path), re, maxGrepMatches-len(matches))
		matches = append(matches, found...)
		if full {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	content := strings.Join(matches, "\n")
	if truncated {
		content += fmt.Sprintf("\n...[stopped after %d matches]", maxGrepMatches)
	}
	return ToolResult{Content: content}, nil
}

// grepFile returns up to budget matching lines from path and whether the
// budget was exhausted. Files with NUL bytes are skipped as binary.
func grepFile(path, display string, re *regexp.Regexp, budget int) ([]string, bool) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer file.Close()

	var matches []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReadBytes)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if strings.ContainsRune(line, '\x00') {
			return nil, false
		}
		if !re.MatchString(line) {
			continue
		}
		if len(matches) == budget {
			return matches, true
		}
		matches = append(matches, fmt.Sprintf("%s:%d:%s", display, lineNumber, line))
	}
	return matches, false
}
