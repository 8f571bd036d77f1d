package openaichat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/guardianbridge/internal/dialect"
	_ "github.com/looplj/guardianbridge/internal/dialect/openaichat"
	"github.com/looplj/guardianbridge/internal/ichat"
)

func codec(t *testing.T) dialect.Codec {
	t.Helper()

	c, ok := dialect.Get(dialect.OpenAIChat)
	require.True(t, ok)

	return c
}

func TestDecodeRequestSimpleText(t *testing.T) {
	body := []byte(`{"model":"gpt-x","messages":[{"role":"user","content":"ping"}]}`)

	req, err := codec(t).DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "gpt-x", req.Model)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 1)
	assert.Equal(t, "ping", req.Messages[0].Content[0].Text)
}

func TestDecodeRequestToolCallAndResult(t *testing.T) {
	body := []byte(`{
		"model":"gpt-x",
		"messages":[
			{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"f","arguments":"{\"x\":1}"}}]},
			{"role":"tool","tool_call_id":"c1","content":"result"}
		]
	}`)

	req, err := codec(t).DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	assistant := req.Messages[0]
	require.Len(t, assistant.Content, 1)
	assert.Equal(t, ichat.BlockToolCall, assistant.Content[0].Type)
	assert.Equal(t, "c1", assistant.Content[0].ToolCall.ID)
	assert.Equal(t, float64(1), assistant.Content[0].ToolCall.Arguments["x"])

	toolMsg := req.Messages[1]
	assert.Equal(t, ichat.RoleTool, toolMsg.Role)
	require.Len(t, toolMsg.Content, 1)
	assert.Equal(t, "c1", toolMsg.Content[0].ToolResult.CallID)
}

func TestEncodeRequestRoundTripsTextMessage(t *testing.T) {
	req := &ichat.Request{
		Model: "gpt-x",
		Messages: []ichat.Message{
			{Role: ichat.RoleUser, Content: []ichat.ContentBlock{ichat.TextBlock("ping")}},
		},
	}

	body, err := codec(t).EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := codec(t).DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, req.Model, decoded.Model)
	assert.Equal(t, "ping", decoded.Messages[0].Content[0].Text)
}

func TestStreamDecoderToolCallFragments(t *testing.T) {
	d := codec(t).NewStreamDecoder()

	var allEvents []ichat.StreamEvent

	frames := []string{
		`{"id":"chatcmpl-1","model":"gpt-x","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","type":"function","function":{"name":"f","arguments":"{\"x\":"}}]}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-x","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-x","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}

	for _, f := range frames {
		events, err := d.Decode(dialect.Frame{Data: []byte(f)})
		require.NoError(t, err)
		allEvents = append(allEvents, events...)
	}

	var (
		gotStart    bool
		gotToolCall bool
		argsJoined  string
		gotFinal    bool
	)

	for _, ev := range allEvents {
		switch ev.Type {
		case ichat.EventStart:
			gotStart = true
		case ichat.EventToolCallStart:
			gotToolCall = true
			assert.Equal(t, "c1", ev.ToolCallID)
		case ichat.EventToolCallArgsDelta:
			argsJoined += ev.ArgsDelta
		case ichat.EventFinal:
			gotFinal = true
			assert.Equal(t, ichat.FinishStop, ev.FinishReason)
		}
	}

	assert.True(t, gotStart)
	assert.True(t, gotToolCall)
	assert.True(t, gotFinal)
	assert.Equal(t, `{"x":1}`, argsJoined)
}
