// Package streamjson writes print mode progress as newline-delimited JSON
// events so scripts can follow a session.
package streamjson

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shellai/shellai/internal/llm/openai"
)

// Event types.
const (
	TypeSystem    = "system"
	TypeDelta     = "text_delta"
	TypeToolCall  = "tool_call"
	TypeToolRes   = "tool_result"
	TypeExecution = "execution"
	TypeRetry     = "rate_limit"
	TypeResult    = "result"
)

// SystemEvent opens the stream.
type SystemEvent struct {
	Type           string   `json:"type"`
	Subtype        string   `json:"subtype"`
	Model          string   `json:"model"`
	Cwd            string   `json:"cwd"`
	Tools          []string `json:"tools"`
	PermissionMode string   `json:"permissionMode"`
	TranscriptID   string   `json:"transcript_id,omitempty"`
	SessionID      string   `json:"session_id"`
	UUID           string   `json:"uuid"`
}

// DeltaEvent carries streamed assistant text.
type DeltaEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// ToolCallEvent announces a tool call.
type ToolCallEvent struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Input     any    `json:"input"`
	SessionID string `json:"session_id"`
	UUID      string `json:"uuid"`
}

// ToolResultEvent reports a tool call outcome.
type ToolResultEvent struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
	SessionID string `json:"session_id"`
	UUID      string `json:"uuid"`
}

// ExecutionEvent reports a command state change.
type ExecutionEvent struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
	Command     string `json:"command"`
	Status      string `json:"status"`
	Output      string `json:"output,omitempty"`
	SessionID   string `json:"session_id"`
}

// RetryEvent reports the rate-limit countdown.
type RetryEvent struct {
	Type      string `json:"type"`
	Remaining int    `json:"remaining_seconds"`
	Attempt   int    `json:"attempt"`
	SessionID string `json:"session_id"`
}

// ResultEvent closes the stream.
type ResultEvent struct {
	Type       string       `json:"type"`
	Subtype    string       `json:"subtype"`
	IsError    bool         `json:"is_error"`
	DurationMS int64        `json:"duration_ms"`
	NumRounds  int          `json:"num_tool_rounds"`
	Result     string       `json:"result,omitempty"`
	Usage      openai.Usage `json:"usage"`
	Errors     []string     `json:"errors,omitempty"`
	SessionID  string       `json:"session_id"`
	UUID       string       `json:"uuid"`
}

// Writer serializes events, one JSON object per line. It is safe for
// concurrent use; the first write error is kept and later writes are
// dropped.
type Writer struct {
	SessionID string

	mu  sync.Mutex
	out io.Writer
	err error
}

// NewWriter creates a Writer. An empty sessionID gets a fresh one.
func NewWriter(out io.Writer, sessionID string) *Writer {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Writer{SessionID: sessionID, out: out}
}

// Err returns the first write error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// System writes the init event.
func (w *Writer) System(model string, cwd string, tools []string, permissionMode string, transcriptID string) {
	if tools == nil {
		tools = []string{}
	}
	w.write(SystemEvent{
		Type:           TypeSystem,
		Subtype:        "init",
		Model:          model,
		Cwd:            cwd,
		Tools:          tools,
		PermissionMode: permissionMode,
		TranscriptID:   transcriptID,
		SessionID:      w.SessionID,
		UUID:           uuid.NewString(),
	})
}

// Delta writes streamed text.
func (w *Writer) Delta(text string) {
	if text == "" {
		return
	}
	w.write(DeltaEvent{Type: TypeDelta, Text: text, SessionID: w.SessionID})
}

// ToolCall writes a tool call announcement.
func (w *Writer) ToolCall(id string, name string, kind string, input any) {
	w.write(ToolCallEvent{Type: TypeToolCall, ID: id, Name: name, Kind: kind, Input: input, SessionID: w.SessionID, UUID: uuid.NewString()})
}

// ToolResult writes a tool call outcome.
func (w *Writer) ToolResult(id string, name string, content string, isError bool) {
	w.write(ToolResultEvent{Type: TypeToolRes, ToolUseID: id, Name: name, Content: content, IsError: isError, SessionID: w.SessionID, UUID: uuid.NewString()})
}

// Execution writes a command state change.
func (w *Writer) Execution(id string, command string, status string, output string) {
	w.write(ExecutionEvent{Type: TypeExecution, ExecutionID: id, Command: command, Status: status, Output: output, SessionID: w.SessionID})
}

// Retry writes one rate-limit countdown step.
func (w *Writer) Retry(remaining int, attempt int) {
	w.write(RetryEvent{Type: TypeRetry, Remaining: remaining, Attempt: attempt, SessionID: w.SessionID})
}

// Result writes the closing event. Subtype is success unless errMsg is set
// or the run did not finish.
func (w *Writer) Result(state string, text string, rounds int, usage openai.Usage, duration time.Duration, errMsg string) {
	event := ResultEvent{
		Type:       TypeResult,
		Subtype:    "success",
		DurationMS: duration.Milliseconds(),
		NumRounds:  rounds,
		Result:     text,
		Usage:      usage,
		SessionID:  w.SessionID,
		UUID:       uuid.NewString(),
	}
	switch {
	case errMsg != "":
		event.Subtype = "error_during_execution"
		event.IsError = true
		event.Errors = []string{errMsg}
	case state != "final":
		event.Subtype = "error_" + state
		event.IsError = true
	}
	w.write(event)
}

func (w *Writer) write(event any) {
	data, err := json.Marshal(event)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if err != nil {
		w.err = fmt.Errorf("marshal stream-json event: %w", err)
		return
	}
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		w.err = fmt.Errorf("write stream-json event: %w", err)
	}
}
