package openai

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns the underlying text in fixed-size pieces.
type chunkReader struct {
	data string
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func collect(t *testing.T, body io.Reader) []Delta {
	t.Helper()
	decoder := NewDecoder(body, nil)
	var deltas []Delta
	for delta := range decoder.Deltas() {
		deltas = append(deltas, delta)
	}
	require.NoError(t, decoder.Err())
	return deltas
}

func joinText(deltas []Delta) string {
	var builder strings.Builder
	for _, delta := range deltas {
		if delta.Kind == DeltaText {
			builder.WriteString(delta.Text)
		}
	}
	return builder.String()
}

const helloStream = "data: {\"id\":\"req-1\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":2,\"total_tokens\":4}}\n\n" +
	"data: [DONE]\n\n"

func TestDecoderYieldsTextFinishAndUsage(t *testing.T) {
	deltas := collect(t, strings.NewReader(helloStream))

	assert.Equal(t, "Hello", joinText(deltas))
	last := deltas[len(deltas)-1]
	assert.Equal(t, DeltaUsage, last.Kind)
	assert.Equal(t, 4, last.Usage.TotalTokens)

	var finish []string
	for _, delta := range deltas {
		if delta.Kind == DeltaFinish {
			finish = append(finish, delta.FinishReason)
		}
	}
	assert.Equal(t, []string{"stop"}, finish)
}

func TestDecoderChunkBoundaryIndependence(t *testing.T) {
	want := collect(t, strings.NewReader(helloStream))
	for _, size := range []int{1, 2, 3, 7, 16, 64} {
		got := collect(t, &chunkReader{data: helloStream, size: size})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("chunk size %d changed deltas (-want +got):\n%s", size, diff)
		}
	}
	got := collect(t, iotest.OneByteReader(strings.NewReader(helloStream)))
	assert.Equal(t, "Hello", joinText(got))
}

func TestDecoderSkipsMalformedAndIgnoresNonDataLines(t *testing.T) {
	body := ": keep-alive\n" +
		"event: message\n" +
		"data: {not json\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: {\"choices\":[{\"index\":1,\"delta\":{\"content\":\"other choice\"}}]}\n"

	deltas := collect(t, strings.NewReader(body))
	require.Len(t, deltas, 1)
	assert.Equal(t, "ok", deltas[0].Text)
}

func TestDecoderStopsAtDoneMarker(t *testing.T) {
	body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: [DONE]\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"b\"}}]}\n"

	assert.Equal(t, "a", joinText(collect(t, strings.NewReader(body))))
}

func TestDecoderIsNotRestartable(t *testing.T) {
	decoder := NewDecoder(strings.NewReader(helloStream), nil)
	first := 0
	for range decoder.Deltas() {
		first++
	}
	second := 0
	for range decoder.Deltas() {
		second++
	}
	assert.Positive(t, first)
	assert.Zero(t, second)
}

func TestDecoderFallsBackToSingleShotResponse(t *testing.T) {
	body := `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"hi","tool_calls":[{"id":"c1","type":"function","function":{"name":"WebSearch","arguments":"{\"query\":\"go\"}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`

	deltas := collect(t, strings.NewReader(body))
	require.Len(t, deltas, 2)
	assert.Equal(t, DeltaMessage, deltas[0].Kind)
	assert.Equal(t, "hi", deltas[0].Text)
	assert.Equal(t, "tool_calls", deltas[0].FinishReason)
	require.Len(t, deltas[0].ToolCalls, 1)
	assert.Equal(t, DeltaUsage, deltas[1].Kind)
}

func TestDecoderReportsReadErrors(t *testing.T) {
	decoder := NewDecoder(iotest.ErrReader(io.ErrUnexpectedEOF), nil)
	for range decoder.Deltas() {
	}
	require.ErrorIs(t, decoder.Err(), io.ErrUnexpectedEOF)
}
