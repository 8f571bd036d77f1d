package gemini

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/ichat"
)

type codec struct{}

func init() {
	dialect.Register(codec{})
}

func (codec) Dialect() dialect.Dialect { return dialect.GeminiChat }

// callIDSeq synthesizes the `gemini_call_{n}` ids Gemini's wire format omits
// (function calls carry only a name), scoped to one decode call so ids stay
// stable and unique within a single request/response/stream.
type callIDSeq struct {
	n        int
	byName   map[string]string
	lastName string
}

func newCallIDSeq() *callIDSeq { return &callIDSeq{byName: map[string]string{}} }

func (s *callIDSeq) next(name string) string {
	s.n++
	id := "gemini_call_" + strconv.Itoa(s.n)
	s.byName[name] = id
	s.lastName = name

	return id
}

func (codec) DecodeRequest(body []byte) (*ichat.Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("gemini_chat: decode request: %w", err)
	}

	// Gemini's model selection lives in the URL path (e.g.
	// "/v1beta/models/gemini-pro:generateContent"), never in the request
	// body; the proxy fills Model in from the detected route.
	out := &ichat.Request{}

	ids := newCallIDSeq()

	if req.SystemInstruction != nil {
		text := joinText(req.SystemInstruction.Parts)
		if text != "" {
			out.Messages = append(out.Messages, ichat.Message{
				Role:    ichat.RoleSystem,
				Content: []ichat.ContentBlock{ichat.TextBlock(text)},
			})
		}
	}

	for _, c := range req.Contents {
		msg, err := decodeContent(c, ids)
		if err != nil {
			return nil, err
		}

		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		for _, fd := range t.FunctionDeclarations {
			out.Tools = append(out.Tools, ichat.ToolDef{
				Name:        fd.Name,
				Description: fd.Description,
				Parameters:  fd.Parameters,
			})
		}
	}

	return out, nil
}

func joinText(parts []Part) string {
	text := ""
	for _, p := range parts {
		text += p.Text
	}

	return text
}

func decodeContent(c Content, ids *callIDSeq) (ichat.Message, error) {
	role := ichat.RoleUser
	if c.Role == "model" {
		role = ichat.RoleAssistant
	}

	var blocks []ichat.ContentBlock

	hasFunctionResponse := false

	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			args := map[string]any{}
			_ = json.Unmarshal(p.FunctionCall.Args, &args)
			id := ids.next(p.FunctionCall.Name)
			blocks = append(blocks, ichat.ToolCallBlockOf(id, p.FunctionCall.Name, args))
		case p.FunctionResponse != nil:
			hasFunctionResponse = true
			id := ids.byName[p.FunctionResponse.Name]

			if id == "" {
				id = ids.next(p.FunctionResponse.Name)
			}

			blocks = append(blocks, ichat.ToolResultBlockOf(id, p.FunctionResponse.Name, p.FunctionResponse.Response))
		case p.Text != "":
			blocks = append(blocks, ichat.TextBlock(p.Text))
		}
	}

	if hasFunctionResponse {
		role = ichat.RoleTool
	}

	return ichat.Message{Role: role, Content: blocks}, nil
}

func (codec) EncodeRequest(req *ichat.Request) ([]byte, error) {
	out := Request{}

	for _, m := range req.Messages {
		if m.Role == ichat.RoleSystem {
			text := ""
			for _, b := range m.Content {
				text += b.Text
			}

			if text != "" {
				out.SystemInstruction = &Content{Parts: []Part{{Text: text}}}
			}

			continue
		}

		content, err := encodeContent(m)
		if err != nil {
			return nil, err
		}

		out.Contents = append(out.Contents, content)
	}

	if len(req.Tools) > 0 {
		var decls []FunctionDeclaration
		for _, t := range req.Tools {
			decls = append(decls, FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}

		out.Tools = []Tool{{FunctionDeclarations: decls}}
	}

	return json.Marshal(out)
}

func encodeContent(m ichat.Message) (Content, error) {
	role := "user"
	if m.Role == ichat.RoleAssistant {
		role = "model"
	}

	var parts []Part

	for _, b := range m.Content {
		switch b.Type {
		case ichat.BlockText:
			parts = append(parts, Part{Text: b.Text})
		case ichat.BlockToolCall:
			if b.ToolCall != nil {
				args, err := json.Marshal(b.ToolCall.Arguments)
				if err != nil {
					return Content{}, err
				}

				parts = append(parts, Part{FunctionCall: &FunctionCall{Name: b.ToolCall.Name, Args: args}})
			}
		case ichat.BlockToolResult:
			if b.ToolResult != nil {
				role = "user"
				parts = append(parts, Part{FunctionResponse: &FunctionResponse{
					Name:     b.ToolResult.Name,
					Response: b.ToolResult.Output,
				}})
			}
		}
	}

	return Content{Role: role, Parts: parts}, nil
}

func (codec) DecodeResponse(body []byte) (*ichat.Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("gemini_chat: decode response: %w", err)
	}

	out := &ichat.Response{Model: resp.ModelVersion}

	if resp.UsageMetadata != nil {
		out.Usage = ichat.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}

	if len(resp.Candidates) > 0 {
		ids := newCallIDSeq()

		msg, err := decodeContent(resp.Candidates[0].Content, ids)
		if err != nil {
			return nil, err
		}

		out.Messages = []ichat.Message{msg}
		out.FinishReason = mapFinishReason(resp.Candidates[0].FinishReason)
	}

	return out, nil
}

func (codec) EncodeResponse(resp *ichat.Response) ([]byte, error) {
	out := Response{
		ModelVersion: resp.Model,
		UsageMetadata: &UsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		},
	}

	if len(resp.Messages) > 0 {
		content, err := encodeContent(resp.Messages[0])
		if err != nil {
			return nil, err
		}

		out.Candidates = []Candidate{{
			Content:      content,
			FinishReason: unmapFinishReason(resp.FinishReason),
			Index:        0,
		}}
	}

	return json.Marshal(out)
}

func mapFinishReason(s string) ichat.FinishReason {
	switch s {
	case "MAX_TOKENS":
		return ichat.FinishLength
	case "STOP":
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
		return "MAX_TOKENS"
	case ichat.FinishStop:
		return "STOP"
	case ichat.FinishError:
		return "OTHER"
	default:
		return "STOP"
	}
}
