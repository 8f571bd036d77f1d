package claude

import (
	"encoding/json"
	"fmt"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/ichat"
)

type codec struct{}

func init() {
	dialect.Register(codec{})
}

func (codec) Dialect() dialect.Dialect { return dialect.ClaudeChat }

func (codec) DecodeRequest(body []byte) (*ichat.Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("claude_chat: decode request: %w", err)
	}

	out := &ichat.Request{Model: req.Model, Stream: req.Stream}

	if sysText, ok := decodeSystem(req.System); ok {
		out.Messages = append(out.Messages, ichat.Message{
			Role:    ichat.RoleSystem,
			Content: []ichat.ContentBlock{ichat.TextBlock(sysText)},
		})
	}

	for _, m := range req.Messages {
		msg, err := decodeMessage(m)
		if err != nil {
			return nil, err
		}

		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ichat.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	return out, nil
}

// decodeSystem hoists Claude's `system` (a string or a content-block list)
// into a single leading system message's text, per spec.md §4.1.
func decodeSystem(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}

	var items []ContentItem
	if err := json.Unmarshal(raw, &items); err == nil {
		text := ""
		for _, it := range items {
			if it.Type == "text" {
				text += it.Text
			}
		}

		return text, text != ""
	}

	return "", false
}

func decodeMessage(m Message) (ichat.Message, error) {
	role := ichat.RoleUser
	if m.Role == "assistant" {
		role = ichat.RoleAssistant
	}

	var blocks []ichat.ContentBlock

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		blocks = append(blocks, ichat.TextBlock(asString))

		return ichat.Message{Role: role, Content: blocks}, nil
	}

	var items []ContentItem
	if err := json.Unmarshal(m.Content, &items); err != nil {
		return ichat.Message{}, fmt.Errorf("claude_chat: decode message content: %w", err)
	}

	for _, it := range items {
		switch it.Type {
		case "text":
			blocks = append(blocks, ichat.TextBlock(it.Text))
		case "tool_use":
			args := map[string]any{}
			_ = json.Unmarshal(it.Input, &args)
			blocks = append(blocks, ichat.ToolCallBlockOf(it.ID, it.Name, args))
		case "tool_result":
			blocks = append(blocks, ichat.ToolResultBlockOf(it.ToolUseID, "", decodeRawContent(it.Content)))
		}
	}

	// A tool_result-bearing "user" message maps to a tool-role message, per
	// the Internal Chat Request invariant that tool results live in
	// tool-role messages (spec.md §3's invariant set).
	if role == ichat.RoleUser && allToolResults(blocks) && len(blocks) > 0 {
		role = ichat.RoleTool
	}

	return ichat.Message{Role: role, Content: blocks}, nil
}

func allToolResults(blocks []ichat.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type != ichat.BlockToolResult {
			return false
		}
	}

	return true
}

func decodeRawContent(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`""`)
	}

	return raw
}

func (codec) EncodeRequest(req *ichat.Request) ([]byte, error) {
	out := Request{Model: req.Model, Stream: req.Stream, MaxTokens: 4096}

	var systemText string

	for _, m := range req.Messages {
		if m.Role == ichat.RoleSystem {
			for _, b := range m.Content {
				systemText += b.Text
			}

			continue
		}

		msg, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}

		out.Messages = append(out.Messages, msg)
	}

	if systemText != "" {
		b, err := json.Marshal(systemText)
		if err != nil {
			return nil, err
		}

		out.System = b
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, Tool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	return json.Marshal(out)
}

func encodeMessage(m ichat.Message) (Message, error) {
	role := "user"
	if m.Role == ichat.RoleAssistant {
		role = "assistant"
	}

	var items []ContentItem

	for _, b := range m.Content {
		switch b.Type {
		case ichat.BlockText:
			items = append(items, ContentItem{Type: "text", Text: b.Text})
		case ichat.BlockToolCall:
			if b.ToolCall != nil {
				input, err := json.Marshal(b.ToolCall.Arguments)
				if err != nil {
					return Message{}, err
				}

				items = append(items, ContentItem{Type: "tool_use", ID: b.ToolCall.ID, Name: b.ToolCall.Name, Input: input})
			}
		case ichat.BlockToolResult:
			if b.ToolResult != nil {
				items = append(items, ContentItem{Type: "tool_result", ToolUseID: b.ToolResult.CallID, Content: b.ToolResult.Output})
			}
		}
	}

	contentJSON, err := json.Marshal(items)
	if err != nil {
		return Message{}, err
	}

	return Message{Role: role, Content: contentJSON}, nil
}

func (codec) DecodeResponse(body []byte) (*ichat.Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("claude_chat: decode response: %w", err)
	}

	msg, err := decodeMessage(Message{Role: "assistant", Content: mustMarshalItems(resp.Content)})
	if err != nil {
		return nil, err
	}

	return &ichat.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Messages:     []ichat.Message{msg},
		FinishReason: mapStopReason(resp.StopReason),
		Usage: ichat.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func mustMarshalItems(items []ContentItem) json.RawMessage {
	b, _ := json.Marshal(items)
	return b
}

func (codec) EncodeResponse(resp *ichat.Response) ([]byte, error) {
	out := Response{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		StopReason: unmapStopReason(resp.FinishReason),
		Usage:      Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}

	if len(resp.Messages) > 0 {
		encoded, err := encodeMessage(resp.Messages[0])
		if err != nil {
			return nil, err
		}

		var items []ContentItem
		if err := json.Unmarshal(encoded.Content, &items); err != nil {
			return nil, err
		}

		out.Content = items
	}

	return json.Marshal(out)
}

func mapStopReason(s string) ichat.FinishReason {
	switch s {
	case "max_tokens":
		return ichat.FinishLength
	case "end_turn", "stop_sequence", "tool_use":
		return ichat.FinishStop
	case "":
		return ""
	default:
		return ichat.FinishError
	}
}

func unmapStopReason(r ichat.FinishReason) string {
	switch r {
	case ichat.FinishLength:
		return "max_tokens"
	case ichat.FinishStop:
		return "end_turn"
	case ichat.FinishError:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}
