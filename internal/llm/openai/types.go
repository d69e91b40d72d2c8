package openai

// ChatRequest matches the OpenAI-compatible chat/completions request.
type ChatRequest struct {
	// Model is the provider model identifier.
	Model string `json:"model"`
	// Messages is the ordered conversation history in wire form.
	Messages []Message `json:"messages"`
	// Tools advertises the tool catalog.
	Tools []Tool `json:"tools,omitempty"`
	// ToolChoice directs tool usage (e.g., "auto").
	ToolChoice any `json:"tool_choice,omitempty"`
	// Stream toggles server-sent events in the response.
	Stream bool `json:"stream,omitempty"`
	// StreamOptions requests usage counters in the final stream payload.
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// Message represents a chat message.
type Message struct {
	// Role is one of system, user, assistant, or tool.
	Role string `json:"role"`
	// Content carries message text; nil is sent as an absent field.
	Content any `json:"content,omitempty"`
	// ToolCalls lists tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID associates a tool response to a prior call.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Tool describes a callable function for the model.
type Tool struct {
	// Type must be "function" for OpenAI-compatible tools.
	Type string `json:"type"`
	// Function describes the callable function contract.
	Function ToolFunction `json:"function"`
}

// ToolFunction defines a function for tool calling.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is the wire form of a tool invocation requested by the model.
type ToolCall struct {
	// ID is the unique tool call id.
	ID string `json:"id"`
	// Type is the tool type, typically "function".
	Type string `json:"type"`
	// Function includes the name and serialized arguments.
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the function call payload.
type ToolCallFunction struct {
	// Name identifies which tool to invoke.
	Name string `json:"name"`
	// Arguments contains serialized JSON argument text.
	Arguments string `json:"arguments"`
}

// ChatResponse matches a non-streaming chat/completions response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice represents a single non-streaming completion choice.
type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage info.
type Usage struct {
	// PromptTokens counts input tokens.
	PromptTokens int `json:"prompt_tokens"`
	// CompletionTokens counts output tokens.
	CompletionTokens int `json:"completion_tokens"`
	// TotalTokens is the sum of prompt and completion tokens.
	TotalTokens int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// ToolCallRequest is a fully assembled tool invocation. It is built once by
// the Assembler and not mutated afterwards.
type ToolCallRequest struct {
	// ID is the opaque call id echoed back in the tool result.
	ID string `json:"id"`
	// Name is the tool function name.
	Name string `json:"name"`
	// Arguments is the decoded argument value. Unparseable argument text is
	// preserved as map[string]any{"_raw": text}.
	Arguments any `json:"arguments"`
}

// RawArgumentsKey holds argument text that failed to parse as JSON.
const RawArgumentsKey = "_raw"

// FinishToolCalls is the finish reason announcing tool invocation intent.
const FinishToolCalls = "tool_calls"

// finishFunctionCall is the legacy single-function finish reason.
const finishFunctionCall = "function_call"

// IsToolFinish reports whether a finish reason signals tool invocation intent.
// An empty reason counts, since some gateways close the stream after the last
// tool-call fragment without sending one.
func IsToolFinish(reason string) bool {
	switch reason {
	case FinishToolCalls, finishFunctionCall, "":
		return true
	default:
		return false
	}
}
