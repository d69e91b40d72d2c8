package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// defaultReadLines bounds how many lines Read returns without a limit.
const defaultReadLines = 2000

// ReadTool reads a text file inside the workspace and returns it with line
// numbers.
type ReadTool struct {
	Workspace *Workspace
}

func (t *ReadTool) Name() string {
	return "Read"
}

func (t *ReadTool) Description() string {
	return "Read a text file from the workspace. Output lines are prefixed with their line numbers. " +
		"Use offset and limit to page through long files."
}

func (t *ReadTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, absolute or relative to the working directory.",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "Line number to start reading from (1-indexed).",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to read.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Run(ctx context.Context, input json.RawMessage) (ToolResult, error) {
	var payload struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return ToolResult{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if strings.TrimSpace(payload.Path) == "" {
		return ToolResult{IsError: true, Content: "path is required"}, nil
	}

	path, err := t.Workspace.Resolve(payload.Path)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if info.IsDir() {
		return ToolResult{IsError: true, Content: fmt.Sprintf("%s is a directory", payload.Path)}, nil
	}
	if info.Size() > maxReadBytes {
		return ToolResult{IsError: true, Content: fmt.Sprintf("file too large: %d bytes", info.Size())}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if containsNullByte(string(data)) {
		return ToolResult{IsError: true, Content: "binary file detected"}, nil
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	start := 0
	if payload.Offset > 0 {
		start = payload.Offset - 1
	}
	if start >= len(lines) {
		return ToolResult{IsError: true, Content: fmt.Sprintf("offset %d exceeds file length of %d lines", payload.Offset, len(lines))}, nil
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = defaultReadLines
	}
	end := min(start+limit, len(lines))

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	if end < len(lines) {
		fmt.Fprintf(&sb, "...[%d more lines]\n", len(lines)-end)
	}
	return ToolResult{Content: strings.TrimSuffix(sb.String(), "\n")}, nil
}
