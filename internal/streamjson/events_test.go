package streamjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shellai/shellai/internal/llm/openai"
)

// decodeLines parses every NDJSON line and blanks the random uuid fields.
func decodeLines(testingHandle *testing.T, data []byte) []map[string]any {
	testingHandle.Helper()
	var events []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var event map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			testingHandle.Fatalf("invalid json line %q: %v", scanner.Text(), err)
		}
		if _, ok := event["uuid"]; ok {
			event["uuid"] = "<uuid>"
		}
		events = append(events, event)
	}
	return events
}

// TestWriterEmitsSessionEvents verifies the event sequence of a print run.
func TestWriterEmitsSessionEvents(testingHandle *testing.T) {
	var out bytes.Buffer
	writer := NewWriter(&out, "s1")

	writer.System("gpt-test", "/work", nil, "default", "t1")
	writer.Delta("")
	writer.Delta("Checking")
	writer.ToolCall("c1", "Shell", "privileged", map[string]any{"command": "ls"})
	writer.Execution("e1", "ls", "done", "a.txt")
	writer.ToolResult("c1", "Shell", "a.txt", false)
	writer.Retry(3, 1)
	writer.Result("final", "Done.", 1, openai.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, 1500*time.Millisecond, "")

	if err := writer.Err(); err != nil {
		testingHandle.Fatalf("unexpected error: %v", err)
	}
	want := []map[string]any{
		{"type": "system", "subtype": "init", "model": "gpt-test", "cwd": "/work", "tools": []any{}, "permissionMode": "default", "transcript_id": "t1", "session_id": "s1", "uuid": "<uuid>"},
		{"type": "text_delta", "text": "Checking", "session_id": "s1"},
		{"type": "tool_call", "id": "c1", "name": "Shell", "kind": "privileged", "input": map[string]any{"command": "ls"}, "session_id": "s1", "uuid": "<uuid>"},
		{"type": "execution", "execution_id": "e1", "command": "ls", "status": "done", "output": "a.txt", "session_id": "s1"},
		{"type": "tool_result", "tool_use_id": "c1", "name": "Shell", "content": "a.txt", "is_error": false, "session_id": "s1", "uuid": "<uuid>"},
		{"type": "rate_limit", "remaining_seconds": float64(3), "attempt": float64(1), "session_id": "s1"},
		{"type": "result", "subtype": "success", "is_error": false, "duration_ms": float64(1500), "num_tool_rounds": float64(1), "result": "Done.",
			"usage":      map[string]any{"prompt_tokens": float64(5), "completion_tokens": float64(2), "total_tokens": float64(7)},
			"session_id": "s1", "uuid": "<uuid>"},
	}
	if diff := cmp.Diff(want, decodeLines(testingHandle, out.Bytes())); diff != "" {
		testingHandle.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

// TestResultSubtypes covers error and aborted results.
func TestResultSubtypes(testingHandle *testing.T) {
	var out bytes.Buffer
	writer := NewWriter(&out, "")
	if writer.SessionID == "" {
		testingHandle.Fatalf("expected generated session id")
	}

	writer.Result("failed", "", 0, openai.Usage{}, 0, "provider error: status 500: boom")
	writer.Result("aborted", "", 0, openai.Usage{}, 0, "")

	events := decodeLines(testingHandle, out.Bytes())
	if events[0]["subtype"] != "error_during_execution" || events[0]["is_error"] != true {
		testingHandle.Fatalf("unexpected error result: %v", events[0])
	}
	if errs, _ := events[0]["errors"].([]any); len(errs) != 1 {
		testingHandle.Fatalf("expected one error message: %v", events[0])
	}
	if events[1]["subtype"] != "error_aborted" || events[1]["is_error"] != true {
		testingHandle.Fatalf("unexpected aborted result: %v", events[1])
	}
}

type failingWriter struct{ calls int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.calls++
	return 0, errors.New("closed pipe")
}

// TestWriterKeepsFirstError stops writing after a failure.
func TestWriterKeepsFirstError(testingHandle *testing.T) {
	out := &failingWriter{}
	writer := NewWriter(out, "s1")
	writer.Delta("a")
	writer.Delta("b")

	if writer.Err() == nil {
		testingHandle.Fatalf("expected write error")
	}
	if out.calls != 1 {
		testingHandle.Fatalf("expected a single write attempt, got %d", out.calls)
	}
}
