package openaichat

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/ichat"
)

type codec struct{}

func init() {
	dialect.Register(codec{})
}

func (codec) Dialect() dialect.Dialect { return dialect.OpenAIChat }

func (codec) DecodeRequest(body []byte) (*ichat.Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("openai_chat: decode request: %w", err)
	}

	out := &ichat.Request{
		Model:  req.Model,
		Stream: req.Stream,
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
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	out.ToolChoice = req.ToolChoice

	return out, nil
}

func decodeMessage(m Message) (ichat.Message, error) {
	role := ichat.Role(m.Role)

	if role == ichat.RoleTool {
		return ichat.Message{
			Role: ichat.RoleTool,
			Content: []ichat.ContentBlock{
				ichat.ToolResultBlockOf(m.ToolCallID, m.Name, decodeRawContent(m.Content)),
			},
		}, nil
	}

	var blocks []ichat.ContentBlock

	if len(m.Content) > 0 {
		var asString string
		if err := json.Unmarshal(m.Content, &asString); err == nil {
			blocks = append(blocks, ichat.TextBlock(asString))
		} else {
			var parts []ContentPart
			if err := json.Unmarshal(m.Content, &parts); err != nil {
				return ichat.Message{}, fmt.Errorf("openai_chat: decode message content: %w", err)
			}

			for _, p := range parts {
				switch p.Type {
				case "text":
					blocks = append(blocks, ichat.TextBlock(p.Text))
				case "image_url":
					if p.ImageURL != nil {
						blocks = append(blocks, ichat.ImageBlock(p.ImageURL.URL, p.ImageURL.Detail))
					}
				}
			}
		}
	}

	for _, tc := range m.ToolCalls {
		args := map[string]any{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		blocks = append(blocks, ichat.ToolCallBlockOf(tc.ID, tc.Function.Name, args))
	}

	return ichat.Message{Role: role, Content: blocks}, nil
}

// decodeRawContent turns a tool-result's raw `content` field (string or
// JSON value) into json.RawMessage, preserving the wire shape verbatim.
func decodeRawContent(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`""`)
	}

	return raw
}

func (codec) EncodeRequest(req *ichat.Request) ([]byte, error) {
	out := Request{Model: req.Model, Stream: req.Stream, ToolChoice: req.ToolChoice}

	for _, m := range req.Messages {
		msg, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}

		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return json.Marshal(out)
}

func encodeMessage(m ichat.Message) (Message, error) {
	out := Message{Role: string(m.Role)}

	if m.Role == ichat.RoleTool {
		for _, b := range m.Content {
			if b.Type == ichat.BlockToolResult && b.ToolResult != nil {
				out.ToolCallID = b.ToolResult.CallID
				out.Name = b.ToolResult.Name
				out.Content = b.ToolResult.Output

				return out, nil
			}
		}

		return out, nil
	}

	var parts []ContentPart

	for _, b := range m.Content {
		switch b.Type {
		case ichat.BlockText:
			parts = append(parts, ContentPart{Type: "text", Text: b.Text})
		case ichat.BlockImageURL:
			if b.ImageURL != nil {
				parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: b.ImageURL.URL, Detail: b.ImageURL.Detail}})
			}
		case ichat.BlockToolCall:
			if b.ToolCall != nil {
				args, err := stableMarshal(b.ToolCall.Arguments)
				if err != nil {
					return Message{}, fmt.Errorf("openai_chat: encode tool call arguments: %w", err)
				}

				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:   b.ToolCall.ID,
					Type: "function",
					Function: ToolCallFunc{
						Name:      b.ToolCall.Name,
						Arguments: string(args),
					},
				})
			}
		}
	}

	if len(parts) == 1 && parts[0].Type == "text" {
		b, err := json.Marshal(parts[0].Text)
		if err != nil {
			return Message{}, err
		}

		out.Content = b
	} else if len(parts) > 0 {
		b, err := json.Marshal(parts)
		if err != nil {
			return Message{}, err
		}

		out.Content = b
	}

	return out, nil
}

// stableMarshal re-serializes tool-call arguments with keys sorted, since
// map[string]any iteration order is otherwise undefined (spec.md §4.1
// encoding contract: "stable, compact JSON").
func stableMarshal(args map[string]any) ([]byte, error) {
	keys := lo.Keys(args)
	sortStrings(keys)

	buf := []byte("{")

	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}

		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}

		vb, err := json.Marshal(args[k])
		if err != nil {
			return nil, err
		}

		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}

	buf = append(buf, '}')

	return buf, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (codec) DecodeResponse(body []byte) (*ichat.Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openai_chat: decode response: %w", err)
	}

	out := &ichat.Response{ID: resp.ID, Model: resp.Model}

	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		if c.Message != nil {
			msg, err := decodeMessage(*c.Message)
			if err != nil {
				return nil, err
			}

			out.Messages = []ichat.Message{msg}
		}

		if c.FinishReason != nil {
			out.FinishReason = mapFinishReason(*c.FinishReason)
		}
	}

	if resp.Usage != nil {
		out.Usage = ichat.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}

	return out, nil
}

func (codec) EncodeResponse(resp *ichat.Response) ([]byte, error) {
	out := Response{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Usage: &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	if len(resp.Messages) > 0 {
		msg, err := encodeMessage(resp.Messages[0])
		if err != nil {
			return nil, err
		}

		reason := unmapFinishReason(resp.FinishReason)
		out.Choices = []Choice{{Index: 0, Message: &msg, FinishReason: &reason}}
	}

	return json.Marshal(out)
}

func mapFinishReason(s string) ichat.FinishReason {
	switch s {
	case "length":
		return ichat.FinishLength
	case "stop", "tool_calls":
		return ichat.FinishStop
	case "":
		return ""
	default:
		return ichat.FinishError
	}
}

func unmapFinishReason(r ichat.FinishReason) string {
	switch r {
	case ichat.FinishLength:
		return "length"
	case ichat.FinishStop:
		return "stop"
	case ichat.FinishError:
		return "error"
	default:
		return "stop"
	}
}
