package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shellai/shellai/internal/agent"
	"github.com/shellai/shellai/internal/config"
	"github.com/shellai/shellai/internal/llm/openai"
	"github.com/shellai/shellai/internal/shell"
	"github.com/shellai/shellai/internal/streamjson"
	"github.com/shellai/shellai/internal/tools"
)

// printResult is the JSON document written by --output-format json.
type printResult struct {
	Type        string         `json:"type"`
	State       string         `json:"state"`
	IsError     bool           `json:"is_error"`
	Result      string         `json:"result"`
	Model       string         `json:"model"`
	Rounds      int            `json:"num_tool_rounds"`
	DurationMS  int64          `json:"duration_ms"`
	Usage       openai.Usage   `json:"usage"`
	ToolResults []printToolRun `json:"tool_results,omitempty"`
	Transcript  string         `json:"transcript_id,omitempty"`
}

type printToolRun struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

// printPrinter writes print mode progress. Assistant text goes to out and
// everything else to errOut.
type printPrinter struct {
	out     io.Writer
	errOut  io.Writer
	verbose bool
	stream  bool

	mu       sync.Mutex
	lineOpen bool
}

func (p *printPrinter) text(delta string) {
	if !p.stream {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, delta)
	p.lineOpen = !strings.HasSuffix(delta, "\n")
}

func (p *printPrinter) ensureNewline() {
	if p.lineOpen {
		fmt.Fprintln(p.out)
		p.lineOpen = false
	}
}

func (p *printPrinter) info(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureNewline()
	fmt.Fprintf(p.errOut, format+"\n", args...)
}

func (p *printPrinter) toolCall(call openai.ToolCallRequest, kind tools.Kind) {
	if kind == tools.KindPrivileged && !p.verbose {
		return
	}
	p.info("-> %s", describeCall(call))
}

func (p *printPrinter) toolResult(result tools.Result) {
	status := "completed"
	if result.IsError {
		status = "failed"
	}
	p.info("-> tool %s %s", result.Name, status)
	if result.IsError || p.verbose {
		if summary := summarizeToolOutput(result.Output, 240); summary != "" {
			p.info("   output: %s", summary)
		}
	}
}

// confirmer asks the operator about each command on a terminal.
type confirmer struct {
	printer *printPrinter
	reader  *bufio.Reader
	allowed bool
	// auto is set when the session confirms commands itself.
	auto    bool
}

func (c *confirmer) execution(exec *shell.Execution) {
	if c.auto {
		return
	}
	if !c.allowed {
		c.printer.info("refusing %q: commands need confirmation; run interactively or use --permission-mode bypassPermissions", exec.Command())
		exec.Stop()
		return
	}
	c.printer.info("Run `%s`? [y/N]", exec.Command())
	line, err := c.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		exec.Stop()
		return
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		exec.Confirm()
	default:
		exec.Stop()
	}
}

// runPrintMode sends a single prompt and writes the answer.
func runPrintMode(cmd *cobra.Command, opts *options, cfg *config.Config, args []string) error {
	prompt, fromStdin, err := readPrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	format := opts.OutputFormat
	printer := &printPrinter{
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		verbose: opts.Verbose,
		stream:  format == "" || format == "text",
	}
	confirm := &confirmer{
		printer: printer,
		reader:  bufio.NewReader(os.Stdin),
		allowed: !fromStdin && term.IsTerminal(int(os.Stdin.Fd())),
		auto:    tools.PermissionMode(cfg.PermissionMode) == tools.PermissionBypass,
	}

	var events *streamjson.Writer
	hooks := appHooks{
		Agent: agent.Callbacks{
			OnTextDelta:  printer.text,
			OnToolCall:   printer.toolCall,
			OnToolResult: printer.toolResult,
		},
		OnExecution: confirm.execution,
		OnUpdate: func(exec *shell.Execution) {
			if snap := exec.Snapshot(); snap.Status.Terminal() && opts.Verbose {
				printer.info("-> $ %s: %s", snap.Command, statusLabel(snap.Status))
			}
		},
		OnWait: func(remaining int, attempt int) {
			printer.info("rate limited, retrying in %ds (attempt %d)", remaining, attempt)
		},
	}
	if format == "stream-json" {
		events = streamjson.NewWriter(cmd.OutOrStdout(), "")
		hooks = streamHooks(events, confirm)
	}

	application, err := newApp(cfg, opts.Model, hooks)
	if err != nil {
		return err
	}
	defer application.Close()

	if events != nil {
		if application.recorder != nil {
			events.SessionID = application.recorder.ID
		}
		events.System(application.model, application.cwd, application.router.Catalog().Names(), string(application.mode), events.SessionID)
	}

	ctx, cancel := withInterrupt(context.Background(), application.orchestrator.Abort)
	defer cancel()

	result, runErr := application.orchestrator.Send(ctx, prompt)
	printer.mu.Lock()
	printer.ensureNewline()
	printer.mu.Unlock()

	switch format {
	case "json":
		if err := writePrintJSON(cmd.OutOrStdout(), application, result, runErr); err != nil {
			return err
		}
	case "stream-json":
		writeStreamResult(events, result, runErr)
		if err := events.Err(); err != nil {
			return err
		}
	}
	if runErr != nil {
		return errors.New(formatRunError(runErr))
	}
	if result.State == agent.StateAborted {
		return errors.New("aborted")
	}
	return nil
}

// streamHooks reports progress as stream-json events. Confirmation prompts
// still go to stderr.
func streamHooks(events *streamjson.Writer, confirm *confirmer) appHooks {
	return appHooks{
		Agent: agent.Callbacks{
			OnTextDelta: events.Delta,
			OnToolCall: func(call openai.ToolCallRequest, kind tools.Kind) {
				events.ToolCall(call.ID, call.Name, kind.String(), call.Arguments)
			},
			OnToolResult: func(result tools.Result) {
				events.ToolResult(result.CallID, result.Name, result.Output, result.IsError)
			},
		},
		OnExecution: func(exec *shell.Execution) {
			events.Execution(exec.ID(), exec.Command(), shell.StatusAwaitingConfirmation.String(), "")
			confirm.execution(exec)
		},
		OnUpdate: func(exec *shell.Execution) {
			if snap := exec.Snapshot(); snap.Status.Terminal() {
				events.Execution(snap.ID, snap.Command, snap.Status.String(), snap.Output)
			}
		},
		OnWait: events.Retry,
	}
}

// writeStreamResult closes the event stream.
func writeStreamResult(events *streamjson.Writer, result *agent.RunResult, runErr error) {
	errMsg := ""
	if runErr != nil {
		errMsg = formatRunError(runErr)
	}
	if result == nil {
		events.Result(agent.StateFailed.String(), "", 0, openai.Usage{}, 0, errMsg)
		return
	}
	text := result.Text
	if runErr != nil {
		text = ""
	}
	events.Result(result.State.String(), text, result.Rounds, result.Usage, result.Duration, errMsg)
}

// readPrompt joins the arguments or reads stdin when there are none.
func readPrompt(stdin io.Reader, args []string) (string, bool, error) {
	if len(args) > 0 {
		prompt := strings.TrimSpace(strings.Join(args, " "))
		if prompt == "" {
			return "", false, errors.New("prompt is empty")
		}
		return prompt, false, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", true, fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", true, errors.New("prompt is empty; pass it as an argument or on stdin")
	}
	return prompt, true, nil
}

// writePrintJSON writes the run summary.
func writePrintJSON(out io.Writer, application *app, result *agent.RunResult, runErr error) error {
	doc := printResult{Type: "result", Model: application.model}
	if application.recorder != nil {
		doc.Transcript = application.recorder.ID
	}
	if result != nil {
		doc.State = result.State.String()
		doc.Result = result.Text
		doc.Rounds = result.Rounds
		doc.DurationMS = result.Duration.Milliseconds()
		doc.Usage = result.Usage
		doc.IsError = result.State != agent.StateFinal
		for _, tool := range result.ToolResults {
			doc.ToolResults = append(doc.ToolResults, printToolRun{
				CallID:  tool.CallID,
				Name:    tool.Name,
				Output:  tool.Output,
				IsError: tool.IsError,
			})
		}
	}
	if runErr != nil {
		doc.IsError = true
		doc.Result = formatRunError(runErr)
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}
