package openai

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Assembler folds decoder deltas into the assistant text and finished tool
// calls of one response.
type Assembler struct {
	// text accumulates streamed content in arrival order.
	text strings.Builder
	// partials holds one builder per tool-call index.
	partials map[int]*partialToolCall
	// direct keeps tool calls delivered whole by a non-streaming response.
	direct []ToolCall
	// finishReason stores the latest finish reason.
	finishReason string
	// usage stores the latest usage counters.
	usage Usage
	// hasUsage reports whether usage was supplied.
	hasUsage bool
}

// partialToolCall accumulates the fragments of a single tool call.
type partialToolCall struct {
	id        string
	name      strings.Builder
	arguments strings.Builder
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{partials: map[int]*partialToolCall{}}
}

// Apply ingests one delta.
func (a *Assembler) Apply(delta Delta) {
	switch delta.Kind {
	case DeltaText:
		a.text.WriteString(delta.Text)
	case DeltaToolCall:
		a.applyFragment(delta.Fragment)
	case DeltaFinish:
		a.finishReason = delta.FinishReason
	case DeltaUsage:
		a.usage = delta.Usage
		a.hasUsage = true
	case DeltaMessage:
		a.text.WriteString(delta.Text)
		a.direct = append(a.direct, delta.ToolCalls...)
		if delta.FinishReason != "" {
			a.finishReason = delta.FinishReason
		}
	}
}

// applyFragment appends a fragment to the builder for its index.
func (a *Assembler) applyFragment(fragment ToolCallFragment) {
	partial := a.partials[fragment.Index]
	if partial == nil {
		partial = &partialToolCall{}
		a.partials[fragment.Index] = partial
	}
	if fragment.ID != "" {
		partial.id = fragment.ID
	}
	partial.name.WriteString(fragment.Name)
	partial.arguments.WriteString(fragment.Arguments)
}

// Text returns the assistant text accumulated so far.
func (a *Assembler) Text() string {
	return a.text.String()
}

// FinishReason returns the most recent finish reason.
func (a *Assembler) FinishReason() string {
	return a.finishReason
}

// Usage returns the last usage counters and whether any were provided.
func (a *Assembler) Usage() (Usage, bool) {
	return a.usage, a.hasUsage
}

// Finalize converts every accumulated tool call into a ToolCallRequest,
// streamed calls in index order followed by calls delivered whole.
func (a *Assembler) Finalize() []ToolCallRequest {
	indexes := make([]int, 0, len(a.partials))
	for index := range a.partials {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	requests := make([]ToolCallRequest, 0, len(indexes)+len(a.direct))
	for _, index := range indexes {
		partial := a.partials[index]
		requests = append(requests, newToolCallRequest(partial.id, partial.name.String(), partial.arguments.String()))
	}
	for _, call := range a.direct {
		requests = append(requests, newToolCallRequest(call.ID, call.Function.Name, call.Function.Arguments))
	}
	return requests
}

// newToolCallRequest parses argument text and fills a missing call id.
func newToolCallRequest(id string, name string, arguments string) ToolCallRequest {
	if id == "" {
		id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}
	return ToolCallRequest{
		ID:        id,
		Name:      name,
		Arguments: ParseArguments(arguments),
	}
}

// ParseArguments decodes tool argument text. Empty text decodes to an empty
// object; text that is not valid JSON is kept under RawArgumentsKey.
func ParseArguments(text string) any {
	if strings.TrimSpace(text) == "" {
		return map[string]any{}
	}
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return map[string]any{RawArgumentsKey: text}
	}
	return value
}

// EncodeArguments serializes decoded arguments back into wire text.
func EncodeArguments(arguments any) string {
	if arguments == nil {
		return "{}"
	}
	data, err := json.Marshal(arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// WireToolCalls converts requests into the assistant message wire form.
func WireToolCalls(requests []ToolCallRequest) []ToolCall {
	if len(requests) == 0 {
		return nil
	}
	calls := make([]ToolCall, 0, len(requests))
	for _, request := range requests {
		calls = append(calls, ToolCall{
			ID:   request.ID,
			Type: "function",
			Function: ToolCallFunction{
				Name:      request.Name,
				Arguments: EncodeArguments(request.Arguments),
			},
		})
	}
	return calls
}
