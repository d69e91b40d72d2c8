package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/shellai/shellai/internal/agent"
	"github.com/shellai/shellai/internal/llm/openai"
	"github.com/shellai/shellai/internal/shell"
	"github.com/shellai/shellai/internal/tools"
	"github.com/shellai/shellai/internal/transcript"
)

// describeCall formats a tool call for display. Commands show their text.
func describeCall(call openai.ToolCallRequest) string {
	if call.Name == tools.ShellToolName {
		if command, err := tools.ParseCommand(call.Arguments); err == nil {
			return "$ " + command
		}
	}
	args, err := json.Marshal(call.Arguments)
	if err != nil || string(args) == "null" {
		return call.Name
	}
	return fmt.Sprintf("%s %s", call.Name, truncateForDisplay(compactWhitespace(string(args)), 120))
}

// summarizeToolOutput formats tool output for one-line display.
func summarizeToolOutput(output string, max int) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return ""
	}
	return truncateForDisplay(compactWhitespace(trimmed), max)
}

// compactWhitespace collapses internal whitespace into single spaces.
func compactWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// truncateForDisplay shortens long strings without breaking runes.
func truncateForDisplay(value string, max int) string {
	if max <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "...(truncated)"
}

// statusLabel is the short badge shown next to a command.
func statusLabel(status shell.Status) string {
	switch status {
	case shell.StatusAwaitingConfirmation:
		return "confirm?"
	case shell.StatusRunning:
		return "running"
	case shell.StatusDone:
		return "done"
	case shell.StatusErrored:
		return "error"
	case shell.StatusStopped:
		return "stopped"
	default:
		return status.String()
	}
}

// withInterrupt builds a context that is cancelled on SIGINT.
func withInterrupt(parent context.Context, onInterrupt func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})

	go func() {
		select {
		case <-interrupt:
			if onInterrupt != nil {
				onInterrupt()
			}
			cancel()
		case <-done:
			return
		}
	}()

	return ctx, func() {
		close(done)
		signal.Stop(interrupt)
		cancel()
	}
}

// formatRunError normalizes common errors for terminal output.
func formatRunError(err error) string {
	if err == nil {
		return ""
	}
	var rateLimited *openai.RateLimitError
	var provider *openai.ProviderError
	switch {
	case errors.Is(err, context.Canceled):
		return "Request cancelled."
	case errors.Is(err, agent.ErrMaxTurns):
		return "Stopped: too many tool rounds for one message."
	case errors.Is(err, agent.ErrBusy):
		return "Wait for the current response or stop it first."
	case errors.As(err, &rateLimited):
		return fmt.Sprintf("Rate limited after %d attempts. Try again later.", rateLimited.Attempts)
	case errors.As(err, &provider):
		return fmt.Sprintf("Provider error %d: %s", provider.StatusCode, truncateForDisplay(provider.Body, 200))
	default:
		return err.Error()
	}
}

// formatUsage renders token counts for the status line.
func formatUsage(usage openai.Usage) string {
	if usage.TotalTokens == 0 {
		return ""
	}
	return fmt.Sprintf("tokens:%d (in %d, out %d)", usage.TotalTokens, usage.PromptTokens, usage.CompletionTokens)
}

// writeTranscript prints transcript events in a readable form.
func writeTranscript(out io.Writer, events []transcript.Event) error {
	for _, event := range events {
		stamp := event.Time.Local().Format("15:04:05")
		var err error
		switch event.Type {
		case transcript.TypeStart:
			_, err = fmt.Fprintf(out, "%s session started (model %s, dir %s)\n", stamp, event.Model, event.Dir)
		case transcript.TypeTurn:
			text := event.Text
			for _, call := range event.ToolCalls {
				text = strings.TrimSpace(text + "\n-> " + describeCall(call))
			}
			_, err = fmt.Fprintf(out, "%s [%s] %s\n", stamp, event.Role, text)
		case transcript.TypeExecution:
			_, err = fmt.Fprintf(out, "%s $ %s (%s, %dms)\n%s\n", stamp, event.Command, event.Status, event.DurationMS, event.Output)
		case transcript.TypeUsage:
			if event.Usage != nil {
				_, err = fmt.Fprintf(out, "%s %s\n", stamp, formatUsage(*event.Usage))
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
