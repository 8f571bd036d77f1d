// Package ichat defines the canonical Internal Chat Request/Response/Stream
// Event types that every dialect codec decodes into and encodes from. No
// dialect-specific field lives here.
package ichat

import "encoding/json"

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates the tagged ContentBlock union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImageURL   BlockType = "image_url"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged variant over text, image references, tool calls
// and tool results. Exactly one of the typed fields is populated, selected
// by Type.
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ImageURL *ImageURLBlock `json:"image_url,omitempty"`

	ToolCall *ToolCallBlock `json:"tool_call,omitempty"`

	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ImageBlock(url, detail string) ContentBlock {
	return ContentBlock{Type: BlockImageURL, ImageURL: &ImageURLBlock{URL: url, Detail: detail}}
}

func ToolCallBlockOf(id, name string, args map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolCall, ToolCall: &ToolCallBlock{ID: id, Name: name, Arguments: args}}
}

func ToolResultBlockOf(callID, name string, output json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResult: &ToolResultBlock{CallID: callID, Name: name, Output: output}}
}

type ImageURLBlock struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ToolCallBlock is a model-emitted request to invoke a named function.
// Arguments is already-decoded JSON; a dialect whose wire format carries
// arguments as a raw string parses it on decode (parse failure yields an
// empty object, never a decode error).
type ToolCallBlock struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultBlock answers a prior ToolCallBlock. Output may be a JSON value
// or a bare string depending on the origin dialect; it is preserved as raw
// JSON and re-serialized verbatim by the target encoder.
type ToolResultBlock struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name,omitempty"`
	Output json.RawMessage `json:"output"`
}

// Message is an ordered sequence of ContentBlock authored by one Role.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolDef declares a function the model may call. Unique by Name within a
// Request.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Request is the canonical, dialect-agnostic chat-completion request.
type Request struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	Stream   bool      `json:"stream"`
	Tools    []ToolDef `json:"tools,omitempty"`

	// ToolChoice is preserved verbatim; its shape differs across dialects
	// and has no semantic role in moderation or transcoding.
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`

	// Extra carries carrier fields (temperature, safety settings, ...)
	// that must survive a round trip but have no semantic role here.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// FinishReason mirrors spec.md's closed set; the empty string represents
// "null" (still in progress / unknown).
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// Usage reports token accounting; a zero value means "not reported".
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the canonical, non-streaming chat-completion response.
// Messages canonically holds exactly one assistant message.
type Response struct {
	ID           string                     `json:"id"`
	Model        string                     `json:"model"`
	Messages     []Message                  `json:"messages"`
	FinishReason FinishReason               `json:"finish_reason,omitempty"`
	Usage        Usage                      `json:"usage"`
	Extra        map[string]json.RawMessage `json:"extra,omitempty"`
}

// StreamEventType discriminates the tagged Internal Stream Event union.
type StreamEventType string

const (
	EventStart             StreamEventType = "start"
	EventTextDelta         StreamEventType = "text_delta"
	EventToolCallStart     StreamEventType = "tool_call_start"
	EventToolCallArgsDelta StreamEventType = "tool_call_args_delta"
	EventFinal             StreamEventType = "final"
	EventDone              StreamEventType = "done"
)

// StreamEvent is one element of the Internal Stream Event sequence produced
// by a dialect's stream decoder and consumed by a (possibly different)
// dialect's stream encoder.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// start
	ID        string `json:"id,omitempty"`
	Model     string `json:"model,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`

	// text_delta
	Text string `json:"text,omitempty"`

	// tool_call_start / tool_call_args_delta
	ToolCallID   string `json:"tool_call_id,omitempty"`
	ToolCallName string `json:"tool_call_name,omitempty"`
	ArgsDelta    string `json:"args_delta,omitempty"`

	// final
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}

func StartEvent(id, model string, createdAt int64) StreamEvent {
	return StreamEvent{Type: EventStart, ID: id, Model: model, CreatedAt: createdAt}
}

func TextDeltaEvent(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Text: text}
}

func ToolCallStartEvent(id, name string) StreamEvent {
	return StreamEvent{Type: EventToolCallStart, ToolCallID: id, ToolCallName: name}
}

func ToolCallArgsDeltaEvent(id, name, delta string) StreamEvent {
	return StreamEvent{Type: EventToolCallArgsDelta, ToolCallID: id, ToolCallName: name, ArgsDelta: delta}
}

func FinalEvent(reason FinishReason, usage *Usage) StreamEvent {
	return StreamEvent{Type: EventFinal, FinishReason: reason, Usage: usage}
}

func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}
