package openai

// StreamOptions configures OpenAI-compatible stream behavior.
type StreamOptions struct {
	// IncludeUsage requests token usage in the final stream payload.
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// StreamResponse is one event-data payload of a chat/completions stream.
type StreamResponse struct {
	ID      string         `json:"id,omitempty"`
	Model   string         `json:"model,omitempty"`
	Choices []StreamChoice `json:"choices,omitempty"`
	// Usage reports tokens when stream_options.include_usage is enabled.
	Usage *Usage `json:"usage,omitempty"`
}

// StreamChoice represents a streaming choice delta.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        ChoiceDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason,omitempty"`
}

// ChoiceDelta is the incremental message content of a stream choice.
type ChoiceDelta struct {
	Role      string                `json:"role,omitempty"`
	Content   string                `json:"content,omitempty"`
	ToolCalls []StreamToolCallDelta `json:"tool_calls,omitempty"`
}

// StreamToolCallDelta represents incremental tool call data.
type StreamToolCallDelta struct {
	// Index identifies the tool call position.
	Index int `json:"index"`
	// ID is the tool call id, usually only on the first fragment.
	ID string `json:"id,omitempty"`
	// Type is the tool call type (typically "function").
	Type string `json:"type,omitempty"`
	// Function contains tool function deltas.
	Function StreamToolCallFunctionDelta `json:"function,omitempty"`
}

// StreamToolCallFunctionDelta contains incremental tool function fields.
type StreamToolCallFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// DeltaKind tags the variant carried by a Delta.
type DeltaKind int

const (
	// DeltaText carries a text fragment.
	DeltaText DeltaKind = iota + 1
	// DeltaToolCall carries one tool-call fragment.
	DeltaToolCall
	// DeltaUsage carries token counters.
	DeltaUsage
	// DeltaFinish carries a finish reason.
	DeltaFinish
	// DeltaMessage carries a complete non-streaming message.
	DeltaMessage
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaText:
		return "text"
	case DeltaToolCall:
		return "tool_call"
	case DeltaUsage:
		return "usage"
	case DeltaFinish:
		return "finish"
	case DeltaMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Delta is one incremental unit yielded by the Decoder. Only the fields
// matching Kind are set.
type Delta struct {
	Kind DeltaKind
	// Text is the fragment for DeltaText, or the full text for DeltaMessage.
	Text string
	// Fragment is the tool-call piece for DeltaToolCall.
	Fragment ToolCallFragment
	// Usage is set for DeltaUsage.
	Usage Usage
	// FinishReason is set for DeltaFinish and DeltaMessage.
	FinishReason string
	// ToolCalls is the complete tool-call list for DeltaMessage.
	ToolCalls []ToolCall
}

// ToolCallFragment is a partial tool call keyed by its stream index.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}
