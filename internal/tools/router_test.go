package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellai/shellai/internal/llm/openai"
	"github.com/shellai/shellai/internal/shell"
)

type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	result   shell.Result
	err      error
}

func (f *fakeRunner) Execute(ctx context.Context, command string) (shell.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	if f.err != nil {
		return shell.Result{}, f.err
	}
	result := f.result
	result.Command = command
	return result, nil
}

type stubTool struct {
	name  string
	run   func(ctx context.Context, input json.RawMessage) (ToolResult, error)
	calls atomic.Int32
}

func (s *stubTool) Name() string           { return s.name }
func (s *stubTool) Description() string    { return s.name + " tool" }
func (s *stubTool) Schema() map[string]any { return map[string]any{"type": "object"} }

func (s *stubTool) Run(ctx context.Context, input json.RawMessage) (ToolResult, error) {
	s.calls.Add(1)
	return s.run(ctx, input)
}

func echoTool(name string) *stubTool {
	return &stubTool{name: name, run: func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
		return ToolResult{Content: name + ":" + string(input)}, nil
	}}
}

func call(id, name string, args any) openai.ToolCallRequest {
	return openai.ToolCallRequest{ID: id, Name: name, Arguments: args}
}

func TestCatalogResolvesKinds(t *testing.T) {
	catalog := NewCatalog(&ShellTool{ShellName: "bash"}, echoTool("A"), echoTool("B"), echoTool("A"), nil)

	assert.Equal(t, []string{ShellToolName, "A", "B"}, catalog.Names())
	entry, ok := catalog.Lookup(ShellToolName)
	require.True(t, ok)
	assert.Equal(t, KindPrivileged, entry.Kind)
	assert.Nil(t, entry.Tool)

	entry, ok = catalog.Lookup("B")
	require.True(t, ok)
	assert.Equal(t, KindAutoRun, entry.Kind)

	specs := catalog.Specs()
	require.Len(t, specs, 3)
	assert.Equal(t, "function", specs[0].Type)
	assert.Equal(t, ShellToolName, specs[0].Function.Name)
	assert.Contains(t, specs[0].Function.Description, "bash")
}

func TestFilterToolsDropsDisabled(t *testing.T) {
	filtered := FilterTools([]Tool{echoTool("A"), echoTool("B"), echoTool("C")}, []string{"B", ""})
	names := make([]string, 0, len(filtered))
	for _, tool := range filtered {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"A", "C"}, names)
}

func TestPermissions(t *testing.T) {
	mode, err := ParsePermissionMode("")
	require.NoError(t, err)
	assert.Equal(t, PermissionDefault, mode)
	_, err = ParsePermissionMode("yolo")
	assert.Error(t, err)

	assert.True(t, Permissions{Mode: PermissionDefault}.ShouldPrompt(KindPrivileged))
	assert.False(t, Permissions{Mode: PermissionDefault}.ShouldPrompt(KindAutoRun))
	assert.False(t, Permissions{Mode: PermissionBypass}.ShouldPrompt(KindPrivileged))
	assert.False(t, Permissions{Mode: PermissionPlan}.AllowsTool(KindPrivileged))
	assert.True(t, Permissions{Mode: PermissionPlan}.AllowsTool(KindAutoRun))
}

func TestParseCommand(t *testing.T) {
	command, err := ParseCommand(map[string]any{"command": "  ls -la "})
	require.NoError(t, err)
	assert.Equal(t, "ls -la", command)

	_, err = ParseCommand("ls")
	assert.Error(t, err)
	_, err = ParseCommand(map[string]any{"command": ""})
	assert.Error(t, err)
	_, err = ParseCommand(map[string]any{openai.RawArgumentsKey: "{bad"})
	assert.ErrorContains(t, err, "{bad")
}

func TestDispatchUnknownTool(t *testing.T) {
	router := NewRouter(NewCatalog(nil), nil, RouterOptions{})
	result := router.Dispatch(context.Background(), call("c1", "Nope", map[string]any{}))
	assert.Equal(t, Result{CallID: "c1", Name: "Nope", Output: "tool not found: Nope", IsError: true}, result)
}

func TestDispatchPrivilegedCommand(t *testing.T) {
	runner := &fakeRunner{result: shell.Result{Status: shell.StatusDone, Output: "hi"}}
	router := NewRouter(NewCatalog(&ShellTool{}), runner, RouterOptions{})

	result := router.Dispatch(context.Background(), call("c1", ShellToolName, map[string]any{"command": "echo hi"}))
	assert.Equal(t, Result{CallID: "c1", Name: ShellToolName, Kind: KindPrivileged, Output: "hi"}, result)
	assert.Equal(t, []string{"echo hi"}, runner.commands)
}

func TestDispatchCommandOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		runner    *fakeRunner
		mode      PermissionMode
		args      any
		wantOut   string
		wantError bool
	}{
		{
			name:      "stopped command is an error",
			runner:    &fakeRunner{result: shell.Result{Status: shell.StatusStopped, Output: "partial\n" + shell.InterruptedMarker}},
			args:      map[string]any{"command": "sleep 9"},
			wantOut:   "partial\n" + shell.InterruptedMarker,
			wantError: true,
		},
		{
			name:      "empty output",
			runner:    &fakeRunner{result: shell.Result{Status: shell.StatusDone}},
			args:      map[string]any{"command": "true"},
			wantOut:   NoOutput,
			wantError: false,
		},
		{
			name:      "runner error",
			runner:    &fakeRunner{err: shell.ErrSessionClosed},
			args:      map[string]any{"command": "ls"},
			wantOut:   "command failed: " + shell.ErrSessionClosed.Error(),
			wantError: true,
		},
		{
			name:      "plan mode refuses",
			runner:    &fakeRunner{},
			mode:      PermissionPlan,
			args:      map[string]any{"command": "ls"},
			wantOut:   "command execution is disabled in plan mode",
			wantError: true,
		},
		{
			name:      "invalid arguments",
			runner:    &fakeRunner{},
			args:      map[string]any{openai.RawArgumentsKey: "{\"command\": "},
			wantError: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(NewCatalog(&ShellTool{}), tc.runner, RouterOptions{Permissions: Permissions{Mode: tc.mode}})
			result := router.Dispatch(context.Background(), call("c1", ShellToolName, tc.args))
			assert.Equal(t, tc.wantError, result.IsError)
			if tc.wantOut != "" {
				assert.Equal(t, tc.wantOut, result.Output)
			}
			if tc.mode == PermissionPlan {
				assert.Empty(t, tc.runner.commands)
			}
		})
	}
}

func TestDispatchAutoRunTool(t *testing.T) {
	tool := echoTool("Echo")
	router := NewRouter(NewCatalog(nil, tool), nil, RouterOptions{})

	result := router.Dispatch(context.Background(), call("c1", "Echo", map[string]any{"q": "x"}))
	assert.Equal(t, `Echo:{"q":"x"}`, result.Output)
	assert.Equal(t, KindAutoRun, result.Kind)
	assert.False(t, result.IsError)
}

func TestDispatchConvertsFailuresToResults(t *testing.T) {
	failing := &stubTool{name: "Fail", run: func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
		return ToolResult{}, errors.New("boom")
	}}
	panicking := &stubTool{name: "Panic", run: func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
		panic("kaboom")
	}}
	router := NewRouter(NewCatalog(nil, failing, panicking), nil, RouterOptions{})

	result := router.Dispatch(context.Background(), call("c1", "Fail", nil))
	assert.True(t, result.IsError)
	assert.Equal(t, "tool Fail failed: boom", result.Output)

	result = router.Dispatch(context.Background(), call("c2", "Panic", nil))
	assert.True(t, result.IsError)
	assert.Equal(t, "tool Panic failed: kaboom", result.Output)
	assert.Equal(t, "c2", result.CallID)
}

func TestDispatchAllKeepsCallOrder(t *testing.T) {
	runner := &fakeRunner{result: shell.Result{Status: shell.StatusDone, Output: "ran"}}
	router := NewRouter(NewCatalog(&ShellTool{}, echoTool("Echo")), runner, RouterOptions{ParallelAutoRun: true})

	var seen []string
	var kinds []Kind
	calls := []openai.ToolCallRequest{
		call("c1", "Echo", map[string]any{}),
		call("c2", ShellToolName, map[string]any{"command": "ls"}),
		call("c3", "Missing", map[string]any{}),
	}
	results, aborted := router.DispatchAll(context.Background(), calls, DispatchHooks{
		OnCall:   func(c openai.ToolCallRequest, kind Kind) { kinds = append(kinds, kind) },
		OnResult: func(r Result) { seen = append(seen, r.CallID) },
	})
	require.False(t, aborted)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, seen)
	assert.Equal(t, []Kind{KindAutoRun, KindPrivileged, KindAutoRun}, kinds)
	assert.Equal(t, "ran", results[1].Output)
	assert.True(t, results[2].IsError)
}

func TestDispatchAllStopsWhenAborted(t *testing.T) {
	first, second := echoTool("First"), echoTool("Second")
	router := NewRouter(NewCatalog(nil, first, second), nil, RouterOptions{})

	var stop atomic.Bool
	results, aborted := router.DispatchAll(context.Background(), []openai.ToolCallRequest{
		call("c1", "First", nil),
		call("c2", "Second", nil),
	}, DispatchHooks{
		Aborted:  stop.Load,
		OnResult: func(Result) { stop.Store(true) },
	})
	assert.True(t, aborted)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].CallID)
	assert.Zero(t, second.calls.Load())
}

func TestDispatchAllRunsAutoRunCallsInParallel(t *testing.T) {
	var active, peak atomic.Int32
	release := make(chan struct{})
	slow := &stubTool{name: "Slow", run: func(ctx context.Context, input json.RawMessage) (ToolResult, error) {
		now := active.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		<-release
		active.Add(-1)
		return ToolResult{Content: string(input)}, nil
	}}
	router := NewRouter(NewCatalog(nil, slow), nil, RouterOptions{ParallelAutoRun: true})

	calls := []openai.ToolCallRequest{
		call("c1", "Slow", map[string]any{"n": 1}),
		call("c2", "Slow", map[string]any{"n": 2}),
		call("c3", "Slow", map[string]any{"n": 3}),
	}
	done := make(chan []Result, 1)
	go func() {
		results, _ := router.DispatchAll(context.Background(), calls, DispatchHooks{})
		done <- results
	}()

	require.Eventually(t, func() bool { return active.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	results := <-done

	assert.EqualValues(t, 3, peak.Load())
	require.Len(t, results, 3)
	for i, result := range results {
		assert.Equal(t, calls[i].ID, result.CallID)
	}
	assert.Equal(t, `{"n":2}`, results[1].Output)
}
