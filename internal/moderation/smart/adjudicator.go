package smart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/looplj/guardianbridge/internal/pkg/httpclient"
)

// HTTPAdjudicator calls a chat-completion-shaped AI moderation endpoint,
// the remote "adjudicator" of spec.md §4.3, rendering a prompt template
// and parsing the first balanced `{...}` substring of the reply. Calls go
// through the same internal/pkg/httpclient.HttpClient the rest of the tree
// uses for outbound bearer-auth JSON calls (internal/pipeline.Pipeline's
// upstream forwarding), rather than a hand-rolled net/http client.
type HTTPAdjudicator struct {
	Client         *httpclient.HttpClient
	BaseURL        string
	APIKey         string
	Model          string
	PromptTemplate string
	Timeout        time.Duration
}

var _ Adjudicator = (*HTTPAdjudicator)(nil)

// adjudicationReply is the JSON object extracted from the AI reply.
type adjudicationReply struct {
	Violation bool   `json:"violation"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
}

// chatRequest is the minimal chat-completion request body the adjudicator
// sends; GuardianBridge does not depend on any particular provider dialect
// for its own outbound call to the moderation API (spec.md §1: "the
// remote AI moderation API's own implementation" is out of scope, treated
// as an external collaborator behind a plain chat-completion shape).
type chatRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []chatMsg `json:"messages"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMsg `json:"message"`
	} `json:"choices"`
}

// Adjudicate renders the prompt, calls the endpoint at temperature 0, and
// parses the reply. Per spec.md §4.3/§7, any failure (timeout, non-2xx,
// unparseable reply) is swallowed into Violation=false with Err set; it
// never propagates as a request-blocking error.
func (a *HTTPAdjudicator) Adjudicate(ctx context.Context, text string) AdjudicationResult {
	timeout := a.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := renderPrompt(a.PromptTemplate, text)

	reqBody, err := json.Marshal(chatRequest{
		Model:       a.Model,
		Temperature: 0,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return AdjudicationResult{Err: fmt.Errorf("adjudicator: encode request: %w", err)}
	}

	req := &httpclient.Request{
		Method: http.MethodPost,
		URL:    a.BaseURL,
		Body:   reqBody,
	}

	if a.APIKey != "" {
		req.Auth = &httpclient.AuthConfig{Type: httpclient.AuthTypeBearer, APIKey: a.APIKey}
	}

	client := a.Client
	if client == nil {
		client = httpclient.NewHttpClient()
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		return AdjudicationResult{Err: fmt.Errorf("adjudicator: call failed: %w", err)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(resp.Body, &chatResp); err != nil {
		return AdjudicationResult{Err: fmt.Errorf("adjudicator: decode response: %w", err)}
	}

	if len(chatResp.Choices) == 0 {
		return AdjudicationResult{Err: fmt.Errorf("adjudicator: empty choices")}
	}

	reply, err := parseAdjudicationReply(chatResp.Choices[0].Message.Content)
	if err != nil {
		return AdjudicationResult{Err: err}
	}

	return AdjudicationResult{Violation: reply.Violation, Category: reply.Category, Reason: reply.Reason}
}

func renderPrompt(template, text string) string {
	if template == "" {
		return text
	}

	return strings.ReplaceAll(template, "{text}", text)
}

// parseAdjudicationReply extracts the first balanced {...} substring of
// reply and parses it, repairing near-JSON via jsonrepair before giving up
// (spec.md §4.3 "Extract the first balanced {…} substring from the reply").
func parseAdjudicationReply(reply string) (adjudicationReply, error) {
	raw, ok := firstBalancedObject(reply)
	if !ok {
		return adjudicationReply{}, fmt.Errorf("adjudicator: no JSON object found in reply")
	}

	var result adjudicationReply
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		return result, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return adjudicationReply{}, fmt.Errorf("adjudicator: unparseable reply: %w", err)
	}

	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return adjudicationReply{}, fmt.Errorf("adjudicator: unparseable reply after repair: %w", err)
	}

	return result, nil
}

// firstBalancedObject scans s for the first top-level {...} substring,
// respecting nested braces and quoted strings.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}

			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}
