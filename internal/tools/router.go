package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shellai/shellai/internal/llm/openai"
	"github.com/shellai/shellai/internal/shell"
)

// NoOutput replaces empty tool output so the model always sees a result.
const NoOutput = "(no output)"

// maxParallel bounds concurrent auto-run tool calls.
const maxParallel = 4

// CommandRunner runs privileged commands. *shell.Session implements it.
type CommandRunner interface {
	Execute(ctx context.Context, command string) (shell.Result, error)
}

// Result is the normalized outcome of one tool call.
type Result struct {
	CallID  string
	Name    string
	Kind    Kind
	Output  string
	IsError bool
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// Permissions decides whether privileged commands may run.
	Permissions Permissions
	// ParallelAutoRun runs a round of auto-run calls concurrently. Rounds
	// that include a command are always sequential.
	ParallelAutoRun bool
	// Logger records dispatches.
	Logger *zap.Logger
}

// DispatchHooks observes a round of calls.
type DispatchHooks struct {
	// Aborted is polled before each call.
	Aborted func() bool
	// OnCall fires before a call runs.
	OnCall func(call openai.ToolCallRequest, kind Kind)
	// OnResult fires after a call produced its result.
	OnResult func(result Result)
}

// Router sends tool calls to the command runner or to auto-run tools.
type Router struct {
	catalog  *Catalog
	commands CommandRunner
	opts     RouterOptions
	log      *zap.Logger
}

// NewRouter constructs a router. commands may be nil when no privileged tool
// is offered.
func NewRouter(catalog *Catalog, commands CommandRunner, opts RouterOptions) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Router{catalog: catalog, commands: commands, opts: opts, log: opts.Logger}
}

// Catalog returns the tools the router dispatches to.
func (r *Router) Catalog() *Catalog {
	return r.catalog
}

// Dispatch runs one call. Failures, including panics, are reported in the
// result instead of being returned.
func (r *Router) Dispatch(ctx context.Context, call openai.ToolCallRequest) (result Result) {
	result = Result{CallID: call.ID, Name: call.Name}
	entry, ok := r.catalog.Lookup(call.Name)
	if !ok {
		result.Output = fmt.Sprintf("tool not found: %s", call.Name)
		result.IsError = true
		return result
	}
	result.Kind = entry.Kind

	defer func() {
		if recovered := recover(); recovered != nil {
			r.log.Error("tool panicked", zap.String("tool", call.Name), zap.Any("panic", recovered))
			result.Output = fmt.Sprintf("tool %s failed: %v", call.Name, recovered)
			result.IsError = true
		}
	}()

	var output string
	var isError bool
	switch entry.Kind {
	case KindPrivileged:
		output, isError = r.runCommand(ctx, call)
	default:
		output, isError = r.runTool(ctx, entry.Tool, call)
	}
	if strings.TrimSpace(output) == "" {
		output = NoOutput
	}
	result.Output = output
	result.IsError = isError
	r.log.Debug("tool finished",
		zap.String("tool", call.Name),
		zap.String("call_id", call.ID),
		zap.Bool("is_error", isError),
		zap.Int("output_bytes", len(output)))
	return result
}

func (r *Router) runCommand(ctx context.Context, call openai.ToolCallRequest) (string, bool) {
	if !r.opts.Permissions.AllowsTool(KindPrivileged) {
		return fmt.Sprintf("command execution is disabled in %s mode", r.opts.Permissions.Mode), true
	}
	if r.commands == nil {
		return "command execution is not available", true
	}
	command, err := ParseCommand(call.Arguments)
	if err != nil {
		return fmt.Sprintf("invalid input: %v", err), true
	}
	res, err := r.commands.Execute(ctx, command)
	if err != nil {
		return fmt.Sprintf("command failed: %v", err), true
	}
	return res.Output, res.Status != shell.StatusDone
}

func (r *Router) runTool(ctx context.Context, tool Tool, call openai.ToolCallRequest) (string, bool) {
	input := json.RawMessage(openai.EncodeArguments(call.Arguments))
	res, err := tool.Run(ctx, input)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", call.Name, err), true
	}
	return res.Content, res.IsError
}

// DispatchAll runs a round of calls and returns their results in call order.
// It stops early when hooks.Aborted reports true, returning the results so
// far and true.
func (r *Router) DispatchAll(ctx context.Context, calls []openai.ToolCallRequest, hooks DispatchHooks) ([]Result, bool) {
	aborted := func() bool { return hooks.Aborted != nil && hooks.Aborted() }
	if r.opts.ParallelAutoRun && len(calls) > 1 && r.allAutoRun(calls) {
		return r.dispatchParallel(ctx, calls, hooks, aborted)
	}

	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		if aborted() {
			return results, true
		}
		if hooks.OnCall != nil {
			entry, _ := r.catalog.Lookup(call.Name)
			hooks.OnCall(call, entry.Kind)
		}
		result := r.Dispatch(ctx, call)
		results = append(results, result)
		if hooks.OnResult != nil {
			hooks.OnResult(result)
		}
	}
	return results, aborted()
}

func (r *Router) allAutoRun(calls []openai.ToolCallRequest) bool {
	for _, call := range calls {
		entry, ok := r.catalog.Lookup(call.Name)
		if ok && entry.Kind != KindAutoRun {
			return false
		}
	}
	return true
}

func (r *Router) dispatchParallel(
	ctx context.Context,
	calls []openai.ToolCallRequest,
	hooks DispatchHooks,
	aborted func() bool,
) ([]Result, bool) {
	if aborted() {
		return nil, true
	}
	results := make([]Result, len(calls))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallel)
	for index, call := range calls {
		if hooks.OnCall != nil {
			hooks.OnCall(call, KindAutoRun)
		}
		group.Go(func() error {
			results[index] = r.Dispatch(groupCtx, call)
			return nil
		})
	}
	_ = group.Wait()
	if hooks.OnResult != nil {
		for _, result := range results {
			hooks.OnResult(result)
		}
	}
	return results, aborted()
}
