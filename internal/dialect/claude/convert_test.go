package claude_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/guardianbridge/internal/dialect"
	_ "github.com/looplj/guardianbridge/internal/dialect/claude"
	"github.com/looplj/guardianbridge/internal/ichat"
)

func codec(t *testing.T) dialect.Codec {
	t.Helper()

	c, ok := dialect.Get(dialect.ClaudeChat)
	require.True(t, ok)

	return c
}

func TestDecodeRequestHoistsSystem(t *testing.T) {
	body := []byte(`{
		"model":"claude-x",
		"system":"be terse",
		"max_tokens":256,
		"messages":[{"role":"user","content":"hi"}]
	}`)

	req, err := codec(t).DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, ichat.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Content[0].Text)
	assert.Equal(t, "hi", req.Messages[1].Content[0].Text)
}

func TestDecodeRequestToolUseAndResult(t *testing.T) {
	body := []byte(`{
		"model":"claude-x",
		"max_tokens":256,
		"messages":[
			{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"f","input":{"x":1}}]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"result"}]}
		]
	}`)

	req, err := codec(t).DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	assistant := req.Messages[0]
	assert.Equal(t, ichat.BlockToolCall, assistant.Content[0].Type)
	assert.Equal(t, "t1", assistant.Content[0].ToolCall.ID)
	assert.Equal(t, float64(1), assistant.Content[0].ToolCall.Arguments["x"])

	toolMsg := req.Messages[1]
	assert.Equal(t, ichat.RoleTool, toolMsg.Role)
	assert.Equal(t, "t1", toolMsg.Content[0].ToolResult.CallID)
}

func TestEncodeRequestRendersSystem(t *testing.T) {
	req := &ichat.Request{
		Model: "claude-x",
		Messages: []ichat.Message{
			{Role: ichat.RoleSystem, Content: []ichat.ContentBlock{ichat.TextBlock("be terse")}},
			{Role: ichat.RoleUser, Content: []ichat.ContentBlock{ichat.TextBlock("hi")}},
		},
	}

	body, err := codec(t).EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := codec(t).DecodeRequest(body)
	require.NoError(t, err)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "be terse", decoded.Messages[0].Content[0].Text)
	assert.Equal(t, "hi", decoded.Messages[1].Content[0].Text)
}

func TestStreamDecoderToolUseFragments(t *testing.T) {
	d := codec(t).NewStreamDecoder()

	var allEvents []ichat.StreamEvent

	steps := []struct {
		event string
		data  string
	}{
		{"message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude-x"}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"f"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"x\":"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"1}"}}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":1,"output_tokens":2}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}

	for _, s := range steps {
		events, err := d.Decode(dialect.Frame{Event: s.event, Data: []byte(s.data)})
		require.NoError(t, err)
		allEvents = append(allEvents, events...)
	}

	var (
		gotStart, gotToolStart, gotFinal, gotDone bool
		argsJoined                                string
	)

	for _, ev := range allEvents {
		switch ev.Type {
		case ichat.EventStart:
			gotStart = true
		case ichat.EventToolCallStart:
			gotToolStart = true
			assert.Equal(t, "t1", ev.ToolCallID)
		case ichat.EventToolCallArgsDelta:
			argsJoined += ev.ArgsDelta
		case ichat.EventFinal:
			gotFinal = true
			assert.Equal(t, ichat.FinishStop, ev.FinishReason)
		case ichat.EventDone:
			gotDone = true
		}
	}

	assert.True(t, gotStart)
	assert.True(t, gotToolStart)
	assert.True(t, gotFinal)
	assert.True(t, gotDone)
	assert.Equal(t, `{"x":1}`, argsJoined)
}
