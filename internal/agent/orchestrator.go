package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shellai/shellai/internal/conversation"
	"github.com/shellai/shellai/internal/llm/openai"
	"github.com/shellai/shellai/internal/tools"
)

// DefaultMaxToolRounds caps tool rounds per user message.
const DefaultMaxToolRounds = 25

var (
	// ErrMaxTurns indicates the tool round cap was reached.
	ErrMaxTurns = errors.New("max tool rounds exceeded")
	// ErrBusy indicates Send was called while another Send is running.
	ErrBusy = errors.New("conversation is busy")
	// ErrClosed indicates the orchestrator was closed.
	ErrClosed = errors.New("conversation is closed")
)

// State is the orchestrator loop state.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateExecutingTools
	StateFinal
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateExecutingTools:
		return "executing_tools"
	case StateFinal:
		return "final"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Requester performs one streaming chat/completions call. *openai.Transport
// implements it.
type Requester interface {
	Do(ctx context.Context, req *openai.ChatRequest) (io.ReadCloser, error)
}

// Callbacks observe a conversation. All are optional and run on the
// goroutine calling Send.
type Callbacks struct {
	// OnState fires on every state transition.
	OnState func(state State)
	// OnRequestStart fires before each model request; round counts from 0.
	OnRequestStart func(round int)
	// OnTextDelta receives streamed assistant text.
	OnTextDelta func(text string)
	// OnUsage reports the usage of one request and the running total.
	OnUsage func(request openai.Usage, total openai.Usage)
	// OnTurn fires after a turn is appended to history.
	OnTurn func(turn conversation.Turn)
	// OnToolCall fires before a tool call is dispatched.
	OnToolCall func(call openai.ToolCallRequest, kind tools.Kind)
	// OnToolResult fires after a tool call produced its result.
	OnToolResult func(result tools.Result)
}

// Options configures an Orchestrator.
type Options struct {
	// Transport sends model requests.
	Transport Requester
	// Router executes tool calls; nil disables tools.
	Router *tools.Router
	// Model is the provider model identifier.
	Model string
	// SystemPrompt is prepended to every request.
	SystemPrompt string
	// ToolsEnabled advertises the router's catalog to the model.
	ToolsEnabled bool
	// HistoryLimit bounds the kept turns (default conversation.DefaultLimit).
	HistoryLimit int
	// MaxToolRounds bounds tool rounds per Send (default DefaultMaxToolRounds).
	MaxToolRounds int
	// Closer is released by Close, typically the command session.
	Closer io.Closer
	// Callbacks observe progress.
	Callbacks Callbacks
	// Logger records requests and rounds.
	Logger *zap.Logger
}

// RunResult is the outcome of one Send.
type RunResult struct {
	// State is StateFinal, StateAborted or StateFailed.
	State State
	// Text is the final assistant text. On failure it describes the error.
	Text string
	// Rounds counts the tool rounds executed.
	Rounds int
	// Usage sums token usage over the requests of this Send.
	Usage openai.Usage
	// ToolResults lists every tool result produced, in order.
	ToolResults []tools.Result
	// Duration is the wall time of the Send.
	Duration time.Duration
}

// Orchestrator alternates between asking the model and running the tools it
// requested until the model produces a final answer. It owns the history.
// Only one Send runs at a time.
type Orchestrator struct {
	opts Options
	log  *zap.Logger

	// mu guards history.
	mu      sync.Mutex
	history conversation.History
	total   openai.Usage

	state   atomic.Int32
	running atomic.Bool
	aborted atomic.Bool
	closed  atomic.Bool
}

// NewOrchestrator applies option defaults.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = conversation.DefaultLimit
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{opts: opts, log: opts.Logger}
}

// State returns the current loop state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// History returns a copy of the conversation turns.
func (o *Orchestrator) History() []conversation.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.Turns()
}

// TotalUsage returns the token usage summed over the conversation.
func (o *Orchestrator) TotalUsage() openai.Usage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

// Abort asks a running Send to stop at its next step. In-flight requests and
// commands are not interrupted; their results are discarded.
func (o *Orchestrator) Abort() {
	if o.running.Load() {
		o.aborted.Store(true)
	}
}

// Close aborts any running Send and releases the closer.
func (o *Orchestrator) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.aborted.Store(true)
	if o.opts.Closer != nil {
		return o.opts.Closer.Close()
	}
	return nil
}

// Send appends a user message and runs the request and tool loop to a final
// answer. Abort ends the loop in StateAborted with a nil error. A failed
// request ends it in StateFailed; the failure is not added to history.
func (o *Orchestrator) Send(ctx context.Context, text string) (*RunResult, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.running.Store(false)
	o.aborted.Store(false)

	started := time.Now()
	result := &RunResult{}
	defer func() { result.Duration = time.Since(started) }()

	o.append(func(h *conversation.History) {
		h.AppendUser(text)
	})

	for round := 0; ; round++ {
		if o.stopped(ctx) {
			return o.finishAborted(result), nil
		}

		o.setState(StateRequesting)
		response, err := o.request(ctx, round)
		if o.stopped(ctx) {
			return o.finishAborted(result), nil
		}
		if err != nil {
			return o.finishFailed(result, err)
		}
		result.Usage = result.Usage.Add(response.usage)

		if !o.wantsTools(response) {
			o.append(func(h *conversation.History) {
				h.AppendAssistant(response.text, nil)
			})
			result.Text = response.text
			result.State = StateFinal
			o.setState(StateFinal)
			o.log.Info("conversation turn finished",
				zap.Int("rounds", result.Rounds),
				zap.Int("prompt_tokens", result.Usage.PromptTokens),
				zap.Int("completion_tokens", result.Usage.CompletionTokens))
			return result, nil
		}

		if result.Rounds >= o.opts.MaxToolRounds {
			return o.finishFailed(result, ErrMaxTurns)
		}
		o.append(func(h *conversation.History) {
			h.AppendAssistant(response.text, response.calls)
		})
		o.setState(StateExecutingTools)
		results, aborted := o.opts.Router.DispatchAll(ctx, response.calls, tools.DispatchHooks{
			Aborted:  func() bool { return o.stopped(ctx) },
			OnCall:   o.opts.Callbacks.OnToolCall,
			OnResult: o.opts.Callbacks.OnToolResult,
		})
		result.ToolResults = append(result.ToolResults, results...)
		if aborted || o.stopped(ctx) {
			o.mu.Lock()
			o.history.DropDangling()
			o.mu.Unlock()
			return o.finishAborted(result), nil
		}

		turnResults := make([]conversation.ToolResult, 0, len(results))
		for _, res := range results {
			turnResults = append(turnResults, conversation.ToolResult{CallID: res.CallID, Output: res.Output})
		}
		err = o.record(func(h *conversation.History) error {
			if err := h.AppendToolResults(turnResults); err != nil {
				h.DropDangling()
				return err
			}
			return nil
		})
		if err != nil {
			return o.finishFailed(result, err)
		}
		result.Rounds++
	}
}

// modelResponse is one finalized model response.
type modelResponse struct {
	text         string
	calls        []openai.ToolCallRequest
	finishReason string
	usage        openai.Usage
}

func (o *Orchestrator) wantsTools(response modelResponse) bool {
	return o.toolsOffered() && len(response.calls) > 0 && openai.IsToolFinish(response.finishReason)
}

func (o *Orchestrator) toolsOffered() bool {
	return o.opts.ToolsEnabled && o.opts.Router != nil && o.opts.Router.Catalog().Len() > 0
}

// request sends the history and assembles the streamed response.
func (o *Orchestrator) request(ctx context.Context, round int) (modelResponse, error) {
	o.mu.Lock()
	req := &openai.ChatRequest{
		Model:         o.opts.Model,
		Messages:      o.history.Messages(o.opts.SystemPrompt),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	o.mu.Unlock()
	if o.toolsOffered() {
		req.Tools = o.opts.Router.Catalog().Specs()
		req.ToolChoice = "auto"
	}

	if cb := o.opts.Callbacks.OnRequestStart; cb != nil {
		cb(round)
	}
	o.log.Debug("model request",
		zap.String("model", req.Model),
		zap.Int("round", round),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)))

	body, err := o.opts.Transport.Do(ctx, req)
	if err != nil {
		return modelResponse{}, fmt.Errorf("model request: %w", err)
	}
	defer body.Close()

	decoder := openai.NewDecoder(body, o.log)
	assembler := openai.NewAssembler()
	for delta := range decoder.Deltas() {
		if o.stopped(ctx) {
			return modelResponse{}, nil
		}
		assembler.Apply(delta)
		switch delta.Kind {
		case openai.DeltaText, openai.DeltaMessage:
			if delta.Text != "" && o.opts.Callbacks.OnTextDelta != nil {
				o.opts.Callbacks.OnTextDelta(delta.Text)
			}
		}
	}
	if err := decoder.Err(); err != nil {
		return modelResponse{}, fmt.Errorf("read model stream: %w", err)
	}

	response := modelResponse{
		text:         assembler.Text(),
		calls:        assembler.Finalize(),
		finishReason: assembler.FinishReason(),
	}
	if usage, ok := assembler.Usage(); ok {
		response.usage = usage
		o.mu.Lock()
		o.total = o.total.Add(usage)
		total := o.total
		o.mu.Unlock()
		if cb := o.opts.Callbacks.OnUsage; cb != nil {
			cb(usage, total)
		}
	}
	o.log.Debug("model response",
		zap.String("finish_reason", response.finishReason),
		zap.Int("tool_calls", len(response.calls)),
		zap.Int("text_bytes", len(response.text)))
	return response, nil
}

func (o *Orchestrator) stopped(ctx context.Context) bool {
	return o.aborted.Load() || ctx.Err() != nil
}

// append mutates history under the lock, trims it, and reports the turns
// the mutation added.
func (o *Orchestrator) append(mutate func(h *conversation.History)) {
	o.mu.Lock()
	start := o.history.Len()
	mutate(&o.history)
	var added []conversation.Turn
	if o.history.Len() > start {
		added = o.history.Turns()[start:]
	}
	o.history.Trim(o.opts.HistoryLimit)
	o.mu.Unlock()

	if cb := o.opts.Callbacks.OnTurn; cb != nil {
		for _, turn := range added {
			cb(turn)
		}
	}
}

// record is append for mutations that can fail.
func (o *Orchestrator) record(mutate func(h *conversation.History) error) error {
	var err error
	o.append(func(h *conversation.History) {
		err = mutate(h)
	})
	return err
}

func (o *Orchestrator) finishAborted(result *RunResult) *RunResult {
	result.State = StateAborted
	o.setState(StateAborted)
	o.log.Info("conversation aborted", zap.Int("rounds", result.Rounds))
	return result
}

func (o *Orchestrator) finishFailed(result *RunResult, err error) (*RunResult, error) {
	result.State = StateFailed
	result.Text = err.Error()
	o.setState(StateFailed)
	o.log.Error("conversation failed", zap.Int("rounds", result.Rounds), zap.Error(err))
	return result, err
}

func (o *Orchestrator) setState(state State) {
	if State(o.state.Swap(int32(state))) == state {
		return
	}
	if cb := o.opts.Callbacks.OnState; cb != nil {
		cb(state)
	}
}
