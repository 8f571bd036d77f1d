package gemini_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/guardianbridge/internal/dialect"
	_ "github.com/looplj/guardianbridge/internal/dialect/gemini"
	"github.com/looplj/guardianbridge/internal/ichat"
)

func codec(t *testing.T) dialect.Codec {
	t.Helper()

	c, ok := dialect.Get(dialect.GeminiChat)
	require.True(t, ok)

	return c
}

func TestDecodeRequestHoistsSystemInstruction(t *testing.T) {
	body := []byte(`{
		"systemInstruction":{"parts":[{"text":"be terse"}]},
		"contents":[{"role":"user","parts":[{"text":"hi"}]}]
	}`)

	req, err := codec(t).DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, ichat.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Content[0].Text)
	assert.Equal(t, ichat.RoleUser, req.Messages[1].Role)
}

func TestDecodeRequestFunctionCallGetsSyntheticID(t *testing.T) {
	body := []byte(`{
		"contents":[
			{"role":"model","parts":[{"functionCall":{"name":"f","args":{"x":1}}}]},
			{"role":"user","parts":[{"functionResponse":{"name":"f","response":{"y":2}}}]}
		]
	}`)

	req, err := codec(t).DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	call := req.Messages[0].Content[0]
	require.Equal(t, ichat.BlockToolCall, call.Type)
	assert.Equal(t, "gemini_call_1", call.ToolCall.ID)
	assert.Equal(t, float64(1), call.ToolCall.Arguments["x"])

	result := req.Messages[1]
	assert.Equal(t, ichat.RoleTool, result.Role)
	assert.Equal(t, "gemini_call_1", result.Content[0].ToolResult.CallID)
}

func TestStreamDecoderTextThenFinalOnClose(t *testing.T) {
	d := codec(t).NewStreamDecoder()

	frame1 := `{"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]},"index":0}]}`
	frame2 := `{"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`

	events1, err := d.Decode(dialect.Frame{Data: []byte(frame1)})
	require.NoError(t, err)

	events2, err := d.Decode(dialect.Frame{Data: []byte(frame2)})
	require.NoError(t, err)

	flushed, err := d.Flush()
	require.NoError(t, err)

	all := append(append(events1, events2...), flushed...)

	var text string

	var gotFinal, gotDone bool

	for _, ev := range all {
		switch ev.Type {
		case ichat.EventTextDelta:
			text += ev.Text
		case ichat.EventFinal:
			gotFinal = true
			assert.Equal(t, ichat.FinishStop, ev.FinishReason)
			require.NotNil(t, ev.Usage)
			assert.Equal(t, 5, ev.Usage.TotalTokens)
		case ichat.EventDone:
			gotDone = true
		}
	}

	assert.Equal(t, "hello", text)
	assert.True(t, gotFinal)
	assert.True(t, gotDone)
}
