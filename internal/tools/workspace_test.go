package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"main.go":             "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n",
		"README.md":           "# demo\nHello world\n",
		"pkg/util/util.go":    "package util\n\n// Hello says hi.\nfunc Hello() {}\n",
		"pkg/util/notes.txt":  "nothing here\n",
		".git/config":         "hello from git\n",
		"data/blob.bin":       "ab\x00cd\n",
		"data/nested/deep.go": "package nested\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return NewWorkspace(dir)
}

func runTool(t *testing.T, tool Tool, payload map[string]any) ToolResult {
	t.Helper()
	input, err := json.Marshal(payload)
	require.NoError(t, err)
	result, err := tool.Run(context.Background(), input)
	require.NoError(t, err)
	return result
}

func TestWorkspaceResolve(t *testing.T) {
	ws := newTestWorkspace(t)

	path, err := ws.Resolve("pkg/util")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir, "pkg", "util"), path)
	assert.Equal(t, filepath.Join("pkg", "util"), ws.Display(path))

	_, err = ws.Resolve("/")
	assert.ErrorIs(t, err, ErrPathNotAllowed)

	_, err = ws.Resolve("../")
	assert.ErrorIs(t, err, ErrPathNotAllowed)

	_, err = ws.Resolve("missing.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)

	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(ws.Dir, "escape")))
	_, err = ws.Resolve("escape")
	assert.ErrorIs(t, err, ErrPathNotAllowed)

	ws.Deny = append(ws.Deny, filepath.Join(ws.Dir, "data"))
	_, err = ws.Resolve("data/nested")
	assert.ErrorIs(t, err, ErrPathDenied)
}

func TestReadToolNumbersLines(t *testing.T) {
	tool := &ReadTool{Workspace: newTestWorkspace(t)}

	result := runTool(t, tool, map[string]any{"path": "README.md"})
	require.False(t, result.IsError, result.Content)
	assert.Equal(t, "     1\t# demo\n     2\tHello world", result.Content)

	result = runTool(t, tool, map[string]any{"path": "main.go", "offset": 3, "limit": 1})
	require.False(t, result.IsError, result.Content)
	assert.Equal(t, "     3\tfunc main() {\n...[2 more lines]", result.Content)
}

func TestReadToolErrors(t *testing.T) {
	tool := &ReadTool{Workspace: newTestWorkspace(t)}

	for name, payload := range map[string]map[string]any{
		"missing path": {},
		"directory":    {"path": "pkg"},
		"binary":       {"path": "data/blob.bin"},
		"offset":       {"path": "README.md", "offset": 10},
		"outside":      {"path": "/etc/hostname"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, runTool(t, tool, payload).IsError)
		})
	}
}

func TestGlobToolMatchesRecursively(t *testing.T) {
	tool := &GlobTool{Workspace: newTestWorkspace(t)}

	result := runTool(t, tool, map[string]any{"pattern": "**/*.go"})
	require.False(t, result.IsError, result.Content)
	assert.Equal(t, strings.Join([]string{
		filepath.Join("data", "nested", "deep.go"),
		"main.go",
		filepath.Join("pkg", "util", "util.go"),
	}, "\n"), result.Content)

	result = runTool(t, tool, map[string]any{"pattern": "*.go", "path": "pkg/util"})
	require.False(t, result.IsError, result.Content)
	assert.Equal(t, filepath.Join("pkg", "util", "util.go"), result.Content)

	result = runTool(t, tool, map[string]any{"pattern": "[bad"})
	assert.True(t, result.IsError)
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "pkg/main.go", false},
		{"**/*.go", "main.go", true},
		{"**/*.go", "a/b/c.go", true},
		{"pkg/**", "pkg/a/b", true},
		{"pkg/**/x.txt", "pkg/x.txt", true},
		{"pkg/**/x.txt", "other/x.txt", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchGlob(tc.pattern, tc.path), "%s vs %s", tc.pattern, tc.path)
	}
}

func TestGrepToolFindsMatches(t *testing.T) {
	tool := &GrepTool{Workspace: newTestWorkspace(t)}

	result := runTool(t, tool, map[string]any{"pattern": "hello", "ignore_case": true})
	require.False(t, result.IsError, result.Content)
	lines := strings.Split(result.Content, "\n")
	assert.ElementsMatch(t, []string{
		"README.md:2:Hello world",
		"main.go:4:\tprintln(\"hello\")",
		filepath.Join("pkg", "util", "util.go") + ":3:// Hello says hi.",
		filepath.Join("pkg", "util", "util.go") + ":4:func Hello() {}",
	}, lines)

	result = runTool(t, tool, map[string]any{"pattern": "^package", "glob": "*.go", "path": "pkg"})
	require.False(t, result.IsError, result.Content)
	assert.Equal(t, filepath.Join("pkg", "util", "util.go")+":1:package util", result.Content)

	result = runTool(t, tool, map[string]any{"pattern": "("})
	assert.True(t, result.IsError)
}

func TestListDirTool(t *testing.T) {
	tool := &ListDirTool{Workspace: newTestWorkspace(t)}

	result := runTool(t, tool, map[string]any{"path": "pkg/util"})
	require.False(t, result.IsError, result.Content)
	assert.Equal(t, "file\t13\tnotes.txt\nfile\t48\tutil.go", result.Content)

	result = runTool(t, tool, map[string]any{})
	require.False(t, result.IsError, result.Content)
	assert.True(t, strings.HasPrefix(result.Content, "dir\t-\t.git/\ndir\t-\tdata/\ndir\t-\tpkg/\n"), result.Content)
}
