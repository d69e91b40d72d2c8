package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ListDirTool lists directory contents.
type ListDirTool struct {
	Workspace *Workspace
}

func (t *ListDirTool) Name() string {
	return "ListDir"
}

func (t *ListDirTool) Description() string {
	return "List the entries of a workspace directory with their kind and size."
}

func (t *ListDirTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to list (default: working directory).",
			},
		},
	}
}

func (t *ListDirTool) Run(ctx context.Context, input json.RawMessage) (ToolResult, error) {
	var payload struct {
		Path string `json:"path"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &payload); err != nil {
			return ToolResult{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
		}
	}

	path, err := t.Workspace.Resolve(payload.Path)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return ToolResult{IsError: true, Content: err.Error()}, nil
	}

	// Directories first, then files, each sorted by name.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var sb strings.Builder
	for _, item := range entries {
		info, err := item.Info()
		if err != nil {
			continue
		}
		switch {
		case item.IsDir():
			fmt.Fprintf(&sb, "dir\t-\t%s/\n", item.Name())
		case info.Mode()&os.ModeSymlink != 0:
			fmt.Fprintf(&sb, "symlink\t-\t%s\n", item.Name())
		default:
			fmt.Fprintf(&sb, "file\t%d\t%s\n", info.Size(), item.Name())
		}
	}
	return ToolResult{Content: strings.TrimSuffix(sb.String(), "\n")}, nil
}
