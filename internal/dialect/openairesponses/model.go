// Package openairesponses implements the OpenAI Responses dialect codec.
package openairesponses

import "encoding/json"

type Request struct {
	Model        string          `json:"model"`
	Instructions string          `json:"instructions,omitempty"`
	Input        json.RawMessage `json:"input"`
	Stream       bool            `json:"stream,omitempty"`
	Tools        []Tool          `json:"tools,omitempty"`
}

type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Item is a tagged union over the Responses input/output item shapes this
// codec understands: message, function_call, function_call_output and
// reasoning. Exactly the fields relevant to Type are populated.
type Item struct {
	Type string `json:"type"`

	// message
	Role    string     `json:"role,omitempty"`
	Content []ItemPart `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`

	// reasoning
	Summary []SummaryPart `json:"summary,omitempty"`
}

type ItemPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// input_image
	ImageURL string `json:"image_url,omitempty"`
}

type SummaryPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Response struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Model  string `json:"model"`
	Status string `json:"status,omitempty"`
	Output []Item `json:"output"`
	Usage  *Usage `json:"usage,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Streaming event envelopes, one per SSE frame, discriminated by the
// frame's `type` field (mirrored in the frame's `event:` name).
type CreatedEvent struct {
	Type     string       `json:"type"`
	Response ResponseMeta `json:"response"`
}

type ResponseMeta struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

type OutputTextDeltaEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type OutputItemAddedEvent struct {
	Type string `json:"type"`
	Item Item   `json:"item"`
}

type FunctionCallArgumentsDeltaEvent struct {
	Type   string `json:"type"`
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

type CompletedEvent struct {
	Type     string   `json:"type"`
	Response Response `json:"response"`
}
