package openai

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"go.uber.org/zap"
)

// dataPrefix marks significant lines of an event stream.
const dataPrefix = "data:"

// doneMarker terminates the stream.
const doneMarker = "[DONE]"

// maxFallbackBody caps how much non-event text is kept for the
// non-streaming fallback parse.
const maxFallbackBody = 4 * 1024 * 1024

// Decoder turns a chat/completions event stream into Deltas. A Decoder can
// be iterated only once.
type Decoder struct {
	// reader wraps the response body.
	reader *bufio.Reader
	// log records skipped payloads.
	log *zap.Logger
	// consumed prevents a second iteration.
	consumed bool
	// err holds the first read failure.
	err error
}

// NewDecoder wraps a response body. The caller still owns closing it.
func NewDecoder(body io.Reader, log *zap.Logger) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{reader: bufio.NewReader(body), log: log}
}

// Err returns the read error that ended iteration early, if any. Malformed
// payloads never produce an error.
func (d *Decoder) Err() error {
	return d.err
}

// Deltas returns the lazy delta sequence. Iterating it a second time yields
// nothing.
func (d *Decoder) Deltas() iter.Seq[Delta] {
	return func(yield func(Delta) bool) {
		if d.consumed {
			return
		}
		d.consumed = true

		sawData := false
		var fallback strings.Builder
		for {
			line, err := d.reader.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				d.err = fmt.Errorf("read stream: %w", err)
				return
			}
			eof := errors.Is(err, io.EOF)

			trimmed := strings.TrimRight(line, "\r\n")
			if strings.HasPrefix(trimmed, dataPrefix) {
				sawData = true
				payload := strings.TrimSpace(strings.TrimPrefix(trimmed, dataPrefix))
				if payload == doneMarker {
					return
				}
				if payload != "" && !d.emitPayload(payload, yield) {
					return
				}
			} else if !sawData && fallback.Len() < maxFallbackBody {
				fallback.WriteString(line)
			}

			if eof {
				if !sawData {
					d.emitFallback(fallback.String(), yield)
				}
				return
			}
		}
	}
}

// emitPayload parses one event payload and yields its deltas. It returns
// false when the consumer stopped iterating.
func (d *Decoder) emitPayload(payload string, yield func(Delta) bool) bool {
	var event StreamResponse
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		d.log.Debug("skipping malformed stream payload", zap.Error(err), zap.Int("bytes", len(payload)))
		return true
	}

	for _, choice := range event.Choices {
		if choice.Index != 0 {
			continue
		}
		if choice.Delta.Content != "" {
			if !yield(Delta{Kind: DeltaText, Text: choice.Delta.Content}) {
				return false
			}
		}
		for _, tool := range choice.Delta.ToolCalls {
			fragment := ToolCallFragment{
				Index:     tool.Index,
				ID:        tool.ID,
				Name:      tool.Function.Name,
				Arguments: tool.Function.Arguments,
			}
			if !yield(Delta{Kind: DeltaToolCall, Fragment: fragment}) {
				return false
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			if !yield(Delta{Kind: DeltaFinish, FinishReason: *choice.FinishReason}) {
				return false
			}
		}
	}

	if event.Usage != nil {
		if !yield(Delta{Kind: DeltaUsage, Usage: *event.Usage}) {
			return false
		}
	}
	return true
}

// emitFallback handles bodies without any event lines by parsing them as a
// single non-streaming completion.
func (d *Decoder) emitFallback(body string, yield func(Delta) bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	var response ChatResponse
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		d.log.Debug("response body is neither a stream nor a completion", zap.Error(err))
		return
	}
	for _, choice := range response.Choices {
		if choice.Index != 0 {
			continue
		}
		text, _ := choice.Message.Content.(string)
		delta := Delta{
			Kind:         DeltaMessage,
			Text:         text,
			FinishReason: choice.FinishReason,
			ToolCalls:    choice.Message.ToolCalls,
		}
		if !yield(delta) {
			return
		}
		break
	}
	if response.Usage != nil {
		yield(Delta{Kind: DeltaUsage, Usage: *response.Usage})
	}
}
