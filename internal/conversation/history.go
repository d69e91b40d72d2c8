package conversation

import (
	"fmt"

	"github.com/shellai/shellai/internal/llm/openai"
)

// DefaultLimit is the number of turns kept after trimming.
const DefaultLimit = 50

// Kind identifies the variant held by a Turn.
type Kind int

const (
	// KindUser is a message typed by the operator.
	KindUser Kind = iota
	// KindAssistant is a model response, possibly requesting tools.
	KindAssistant
	// KindToolResult answers exactly one tool call.
	KindToolResult
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindAssistant:
		return "assistant"
	case KindToolResult:
		return "tool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Turn is one entry in the conversation history.
type Turn struct {
	// Kind selects which of the fields below are meaningful.
	Kind Kind
	// Text is the user content, assistant text, or tool output.
	// Empty assistant text is sent as an absent content field.
	Text string
	// ToolCalls lists the calls requested by an assistant turn.
	ToolCalls []openai.ToolCallRequest
	// CallID links a tool result to its call.
	CallID string
}

// ToolResult is the output produced for one tool call.
type ToolResult struct {
	CallID string
	Output string
}

// History is an ordered list of turns. It is not safe for concurrent use;
// the orchestrator owns it.
type History struct {
	turns []Turn
}

// Len reports the number of turns.
func (h *History) Len() int {
	return len(h.turns)
}

// Turns returns a copy of the turns in order.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// AppendUser records a user message.
func (h *History) AppendUser(text string) {
	h.turns = append(h.turns, Turn{Kind: KindUser, Text: text})
}

// AppendAssistant records a model response and the tool calls it requested.
func (h *History) AppendAssistant(text string, calls []openai.ToolCallRequest) {
	turn := Turn{Kind: KindAssistant, Text: text}
	if len(calls) > 0 {
		turn.ToolCalls = append([]openai.ToolCallRequest(nil), calls...)
	}
	h.turns = append(h.turns, turn)
}

// AppendToolResults records the results of the latest assistant turn. The
// results are appended together so history never holds a partial round.
func (h *History) AppendToolResults(results []ToolResult) error {
	pending := h.pendingCalls()
	if len(pending) != len(results) {
		return fmt.Errorf("tool results: got %d results for %d pending calls", len(results), len(pending))
	}
	for _, result := range results {
		if _, ok := pending[result.CallID]; !ok {
			return fmt.Errorf("tool results: unknown or duplicate call id %q", result.CallID)
		}
		delete(pending, result.CallID)
	}
	for _, result := range results {
		h.turns = append(h.turns, Turn{Kind: KindToolResult, CallID: result.CallID, Text: result.Output})
	}
	return nil
}

// pendingCalls returns the call ids of a trailing assistant turn that have no
// result yet.
func (h *History) pendingCalls() map[string]struct{} {
	pending := map[string]struct{}{}
	for i := len(h.turns) - 1; i >= 0; i-- {
		turn := h.turns[i]
		if turn.Kind == KindToolResult {
			continue
		}
		if turn.Kind == KindAssistant {
			for _, call := range turn.ToolCalls {
				pending[call.ID] = struct{}{}
			}
			for j := i + 1; j < len(h.turns); j++ {
				delete(pending, h.turns[j].CallID)
			}
		}
		break
	}
	return pending
}

// Trim keeps at most the last limit turns. The cut is moved forward past any
// tool results so an assistant turn is never separated from its results.
// A tool round still in progress is kept whole from the user turn that
// started it, even when that exceeds limit. Trimming an already trimmed
// history changes nothing.
func (h *History) Trim(limit int) {
	if limit <= 0 || len(h.turns) <= limit {
		return
	}
	cut := len(h.turns) - limit
	for cut < len(h.turns) && h.turns[cut].Kind == KindToolResult {
		cut++
	}
	if start := h.openExchange(); start >= 0 && cut > start {
		cut = start
	}
	if cut == 0 {
		return
	}
	h.turns = append([]Turn(nil), h.turns[cut:]...)
}

// openExchange returns where the unfinished exchange begins when the history
// ends inside a tool round, or -1. The exchange starts at the last user turn,
// or at the first turn when no user turn precedes it.
func (h *History) openExchange() int {
	last := len(h.turns) - 1
	if last < 0 {
		return -1
	}
	tail := h.turns[last]
	if tail.Kind != KindToolResult && (tail.Kind != KindAssistant || len(tail.ToolCalls) == 0) {
		return -1
	}
	start := last
	for start > 0 && h.turns[start].Kind != KindUser {
		start--
	}
	return start
}

// DropDangling removes a trailing assistant turn whose tool calls were never
// answered. It reports whether anything was removed.
func (h *History) DropDangling() bool {
	if len(h.pendingCalls()) == 0 {
		return false
	}
	end := len(h.turns)
	for end > 0 && h.turns[end-1].Kind == KindToolResult {
		end--
	}
	if end == 0 || h.turns[end-1].Kind != KindAssistant {
		return false
	}
	h.turns = h.turns[:end-1]
	return true
}

// Validate checks that every tool result answers a call made earlier and that
// every call except those of the final turn has exactly one result.
func (h *History) Validate() error {
	open := map[string]struct{}{}
	for i, turn := range h.turns {
		switch turn.Kind {
		case KindUser, KindAssistant:
			if len(open) > 0 {
				return fmt.Errorf("turn %d: %d tool calls left unanswered", i, len(open))
			}
			for _, call := range turn.ToolCalls {
				open[call.ID] = struct{}{}
			}
		case KindToolResult:
			if _, ok := open[turn.CallID]; !ok {
				return fmt.Errorf("turn %d: tool result for unknown call %q", i, turn.CallID)
			}
			delete(open, turn.CallID)
		}
	}
	return nil
}

// Messages converts the history into wire messages, prefixed with the system
// prompt when one is given.
func (h *History) Messages(systemPrompt string) []openai.Message {
	messages := make([]openai.Message, 0, len(h.turns)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.Message{Role: "system", Content: systemPrompt})
	}
	for _, turn := range h.turns {
		switch turn.Kind {
		case KindUser:
			messages = append(messages, openai.Message{Role: "user", Content: turn.Text})
		case KindAssistant:
			message := openai.Message{Role: "assistant", ToolCalls: openai.WireToolCalls(turn.ToolCalls)}
			if turn.Text != "" || len(turn.ToolCalls) == 0 {
				message.Content = turn.Text
			}
			messages = append(messages, message)
		case KindToolResult:
			messages = append(messages, openai.Message{Role: "tool", ToolCallID: turn.CallID, Content: turn.Text})
		}
	}
	return messages
}
