package openairesponses

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

func (codec) Dialect() dialect.Dialect { return dialect.OpenAIResponses }

func (codec) DecodeRequest(body []byte) (*ichat.Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("openai_responses: decode request: %w", err)
	}

	out := &ichat.Request{Model: req.Model, Stream: req.Stream}

	if req.Instructions != "" {
		out.Messages = append(out.Messages, ichat.Message{
			Role:    ichat.RoleSystem,
			Content: []ichat.ContentBlock{ichat.TextBlock(req.Instructions)},
		})
	}

	items, err := decodeInput(req.Input)
	if err != nil {
		return nil, err
	}

	for _, it := range items {
		msg, err := decodeItem(it)
		if err != nil {
			return nil, err
		}

		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ichat.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	return out, nil
}

// decodeInput normalizes `input`'s three accepted shapes (bare string,
// single item, item list) into a uniform item list, per spec.md §4.1.
func decodeInput(raw json.RawMessage) ([]Item, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []Item{{Type: "message", Role: "user", Content: []ItemPart{{Type: "input_text", Text: asString}}}}, nil
	}

	var asList []Item
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList, nil
	}

	var asItem Item
	if err := json.Unmarshal(raw, &asItem); err != nil {
		return nil, fmt.Errorf("openai_responses: decode input: %w", err)
	}

	return []Item{asItem}, nil
}

func decodeItem(it Item) (ichat.Message, error) {
	switch it.Type {
	case "function_call":
		args := map[string]any{}
		_ = json.Unmarshal([]byte(it.Arguments), &args)

		return ichat.Message{
			Role:    ichat.RoleAssistant,
			Content: []ichat.ContentBlock{ichat.ToolCallBlockOf(it.CallID, it.Name, args)},
		}, nil

	case "function_call_output":
		return ichat.Message{
			Role:    ichat.RoleTool,
			Content: []ichat.ContentBlock{ichat.ToolResultBlockOf(it.CallID, "", json.RawMessage(toJSONString(it.Output)))},
		}, nil

	case "reasoning":
		text := ""
		for _, s := range it.Summary {
			text += s.Text
		}

		return ichat.Message{
			Role:    ichat.RoleAssistant,
			Content: []ichat.ContentBlock{ichat.TextBlock(text)},
		}, nil

	default: // "message"
		role := ichat.RoleUser
		if it.Role == "assistant" {
			role = ichat.RoleAssistant
		}

		var blocks []ichat.ContentBlock

		for _, p := range it.Content {
			switch p.Type {
			case "input_text", "output_text":
				blocks = append(blocks, ichat.TextBlock(p.Text))
			case "input_image":
				blocks = append(blocks, ichat.ImageBlock(p.ImageURL, ""))
			}
		}

		return ichat.Message{Role: role, Content: blocks}, nil
	}
}

func toJSONString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}

	return string(b)
}

func (codec) EncodeRequest(req *ichat.Request) ([]byte, error) {
	out := Request{Model: req.Model, Stream: req.Stream}

	var items []Item

	for _, m := range req.Messages {
		if m.Role == ichat.RoleSystem {
			for _, b := range m.Content {
				out.Instructions += b.Text
			}

			continue
		}

		encoded, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}

		items = append(items, encoded...)
	}

	inputJSON, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	out.Input = inputJSON

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, Tool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	return json.Marshal(out)
}

func encodeMessage(m ichat.Message) ([]Item, error) {
	if m.Role == ichat.RoleTool {
		var items []Item

		for _, b := range m.Content {
			if b.ToolResult != nil {
				var output string
				_ = json.Unmarshal(b.ToolResult.Output, &output)

				if output == "" && len(b.ToolResult.Output) > 0 {
					output = string(b.ToolResult.Output)
				}

				items = append(items, Item{Type: "function_call_output", CallID: b.ToolResult.CallID, Output: output})
			}
		}

		return items, nil
	}

	role := "user"
	if m.Role == ichat.RoleAssistant {
		role = "assistant"
	}

	var items []Item

	var parts []ItemPart

	for _, b := range m.Content {
		switch b.Type {
		case ichat.BlockText:
			textType := "input_text"
			if role == "assistant" {
				textType = "output_text"
			}

			parts = append(parts, ItemPart{Type: textType, Text: b.Text})
		case ichat.BlockImageURL:
			if b.ImageURL != nil {
				parts = append(parts, ItemPart{Type: "input_image", ImageURL: b.ImageURL.URL})
			}
		case ichat.BlockToolCall:
			if b.ToolCall != nil {
				args, err := json.Marshal(b.ToolCall.Arguments)
				if err != nil {
					return nil, err
				}

				items = append(items, Item{Type: "function_call", CallID: b.ToolCall.ID, Name: b.ToolCall.Name, Arguments: string(args)})
			}
		}
	}

	if len(parts) > 0 {
		items = append([]Item{{Type: "message", Role: role, Content: parts}}, items...)
	}

	return items, nil
}

func (codec) DecodeResponse(body []byte) (*ichat.Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openai_responses: decode response: %w", err)
	}

	out := &ichat.Response{ID: resp.ID, Model: resp.Model, FinishReason: mapStatus(resp.Status)}

	if resp.Usage != nil {
		out.Usage = ichat.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}

	var blocks []ichat.ContentBlock

	for _, it := range resp.Output {
		msg, err := decodeItem(it)
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, msg.Content...)
	}

	out.Messages = []ichat.Message{{Role: ichat.RoleAssistant, Content: blocks}}

	return out, nil
}

func (codec) EncodeResponse(resp *ichat.Response) ([]byte, error) {
	out := Response{
		ID:     resp.ID,
		Object: "response",
		Model:  resp.Model,
		Status: unmapStatus(resp.FinishReason),
		Usage: &Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}

	if len(resp.Messages) > 0 {
		items, err := encodeMessage(resp.Messages[0])
		if err != nil {
			return nil, err
		}

		out.Output = items
	}

	return json.Marshal(out)
}

func mapStatus(status string) ichat.FinishReason {
	switch status {
	case "completed":
		return ichat.FinishStop
	case "incomplete":
		return ichat.FinishLength
	case "failed", "error":
		return ichat.FinishError
	default:
		return ""
	}
}

func unmapStatus(r ichat.FinishReason) string {
	switch r {
	case ichat.FinishStop:
		return "completed"
	case ichat.FinishLength:
		return "incomplete"
	case ichat.FinishError:
		return "failed"
	default:
		return "completed"
	}
}
