package sse_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/guardianbridge/internal/dialect"
	_ "github.com/looplj/guardianbridge/internal/dialect/claude"
	_ "github.com/looplj/guardianbridge/internal/dialect/gemini"
	_ "github.com/looplj/guardianbridge/internal/dialect/openaichat"
	"github.com/looplj/guardianbridge/internal/sse"
)

func mustCodec(t *testing.T, d dialect.Dialect) dialect.Codec {
	t.Helper()

	c, ok := dialect.Get(d)
	require.True(t, ok)

	return c
}

func sseBody(dataLines ...string) string {
	var b strings.Builder
	for _, d := range dataLines {
		b.WriteString("data: ")
		b.WriteString(d)
		b.WriteString("\n\n")
	}

	return b.String()
}

// dataPayloads extracts the payload of every "data:" line from an SSE byte
// stream, tolerant of the exact framing (blank-line spacing, "data:" vs
// "data: ") the writer's underlying SSE encoder uses.
func dataPayloads(raw []byte) []string {
	var payloads []string

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		if payload == "" {
			continue
		}

		payloads = append(payloads, payload)
	}

	return payloads
}

// Scenario 3: a tool call fragmented across three OpenAI Chat chunks must
// transcode into exactly one Gemini functionCall part with parsed args.
func TestTranscoder_OpenAIChatToGemini_ToolCallFragments(t *testing.T) {
	upstream := sseBody(
		`{"id":"chatcmpl-1","model":"gpt-x","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"f","arguments":"{\"x\":"}}]}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-x","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-x","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		"[DONE]",
	)

	oaiCodec := mustCodec(t, dialect.OpenAIChat)
	geminiCodec := mustCodec(t, dialect.GeminiChat)

	var out bytes.Buffer
	tr := sse.NewTranscoder(context.Background(), strings.NewReader(upstream),
		oaiCodec.NewStreamDecoder(), geminiCodec.NewStreamEncoder(), &out)

	require.NoError(t, tr.Run(context.Background()))

	var functionCallFrames int

	for _, data := range dataPayloads(out.Bytes()) {
		if data == "[DONE]" {
			continue
		}

		if !strings.Contains(data, "functionCall") {
			continue
		}

		functionCallFrames++

		var resp struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						FunctionCall *struct {
							Name string          `json:"name"`
							Args json.RawMessage `json:"args"`
						} `json:"functionCall"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
		}

		require.NoError(t, json.Unmarshal([]byte(data), &resp))
		require.Len(t, resp.Candidates, 1)
		require.Len(t, resp.Candidates[0].Content.Parts, 1)

		fc := resp.Candidates[0].Content.Parts[0].FunctionCall
		require.NotNil(t, fc)
		assert.Equal(t, "f", fc.Name)
		assert.JSONEq(t, `{"x":1}`, string(fc.Args))
	}

	assert.Equal(t, 1, functionCallFrames, "fragmented tool call must surface as exactly one Gemini functionCall")
	assert.NotContains(t, out.String(), "[DONE]", "Gemini has no terminal marker")
}

// Identity OpenAI Chat -> OpenAI Chat text streaming reconstructs the same
// concatenated text across N deltas.
func TestTranscoder_OpenAIChatToOpenAIChat_TextDeltasConcatenate(t *testing.T) {
	upstream := sseBody(
		`{"id":"chatcmpl-2","model":"gpt-x","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
		`{"id":"chatcmpl-2","model":"gpt-x","choices":[{"index":0,"delta":{"content":"hel"}}]}`,
		`{"id":"chatcmpl-2","model":"gpt-x","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"chatcmpl-2","model":"gpt-x","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		"[DONE]",
	)

	oaiCodec := mustCodec(t, dialect.OpenAIChat)

	var out bytes.Buffer
	tr := sse.NewTranscoder(context.Background(), strings.NewReader(upstream),
		oaiCodec.NewStreamDecoder(), oaiCodec.NewStreamEncoder(), &out)

	require.NoError(t, tr.Run(context.Background()))

	var text strings.Builder

	for _, data := range dataPayloads(out.Bytes()) {
		if data == "[DONE]" {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}

		require.NoError(t, json.Unmarshal([]byte(data), &chunk))

		if len(chunk.Choices) > 0 {
			text.WriteString(chunk.Choices[0].Delta.Content)
		}
	}

	assert.Equal(t, "hello", text.String())
	assert.Contains(t, out.String(), "[DONE]")
}

// Gemini upstream never sends a literal terminator: the stream just ends.
// Transcoding to OpenAI Chat must still terminate with exactly one [DONE].
func TestTranscoder_GeminiToOpenAIChat_NaturalEOFTerminatesOnce(t *testing.T) {
	upstream := sseBody(
		`{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}`,
	)

	geminiCodec := mustCodec(t, dialect.GeminiChat)
	oaiCodec := mustCodec(t, dialect.OpenAIChat)

	var out bytes.Buffer
	tr := sse.NewTranscoder(context.Background(), strings.NewReader(upstream),
		geminiCodec.NewStreamDecoder(), oaiCodec.NewStreamEncoder(), &out)

	require.NoError(t, tr.Run(context.Background()))

	doneCount := 0

	for _, data := range dataPayloads(out.Bytes()) {
		if data == "[DONE]" {
			doneCount++
		}
	}

	assert.Equal(t, 1, doneCount, "must terminate with exactly one [DONE] frame")
}

// Gemini upstream transcoded to Claude must terminate via exactly one
// message_stop event and never emit a literal [DONE].
func TestTranscoder_GeminiToClaude_NaturalEOFEmitsSingleMessageStop(t *testing.T) {
	upstream := sseBody(
		`{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}`,
	)

	geminiCodec := mustCodec(t, dialect.GeminiChat)
	claudeCodec := mustCodec(t, dialect.ClaudeChat)

	var out bytes.Buffer
	tr := sse.NewTranscoder(context.Background(), strings.NewReader(upstream),
		geminiCodec.NewStreamDecoder(), claudeCodec.NewStreamEncoder(), &out)

	require.NoError(t, tr.Run(context.Background()))

	messageStopCount := strings.Count(out.String(), "message_stop")
	assert.Equal(t, 1, messageStopCount, "must terminate with exactly one message_stop event")
	assert.NotContains(t, out.String(), "[DONE]")
}

// An explicit upstream [DONE] (e.g. an OpenAI-shaped upstream) transcoded
// to Gemini must not surface any terminal marker at all.
func TestTranscoder_OpenAIChatToGemini_ExplicitDoneEmitsNoMarker(t *testing.T) {
	upstream := sseBody(
		`{"id":"chatcmpl-3","model":"gpt-x","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
		`{"id":"chatcmpl-3","model":"gpt-x","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		"[DONE]",
	)

	oaiCodec := mustCodec(t, dialect.OpenAIChat)
	geminiCodec := mustCodec(t, dialect.GeminiChat)

	var out bytes.Buffer
	tr := sse.NewTranscoder(context.Background(), strings.NewReader(upstream),
		oaiCodec.NewStreamDecoder(), geminiCodec.NewStreamEncoder(), &out)

	require.NoError(t, tr.Run(context.Background()))

	assert.NotContains(t, out.String(), "[DONE]", "Gemini has no terminal marker")
}
