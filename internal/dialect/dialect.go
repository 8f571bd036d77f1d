// Package dialect classifies incoming requests into one of the four chat
// dialects GuardianBridge bridges between, and exposes the Codec registry
// each dialect package registers itself into.
package dialect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/looplj/guardianbridge/internal/ichat"
)

// Dialect names a supported chat-completion wire protocol.
type Dialect string

const (
	OpenAIChat      Dialect = "openai_chat"
	OpenAIResponses Dialect = "openai_responses"
	ClaudeChat      Dialect = "claude_chat"
	GeminiChat      Dialect = "gemini_chat"
	Unknown         Dialect = ""
)

var ErrUnknownDialect = errors.New("dialect: could not classify request")

// ErrFormatMismatch is returned when strict detection rejects a request
// that matched one of the explicitly excluded dialects in a fixed source
// list (spec.md §4.1).
type ErrFormatMismatch struct {
	Suspected Dialect
}

func (e *ErrFormatMismatch) Error() string {
	return fmt.Sprintf("dialect: request format mismatch, suspected %s", e.Suspected)
}

// Frame is one SSE event: an optional event name and its data payload.
type Frame struct {
	Event string
	Data  []byte
}

// StreamDecoder is a per-connection, stateful decoder that turns dialect
// wire frames into Internal Stream Events. A fresh instance must be created
// per HTTP connection (spec.md §4.2 "Concurrency contract").
type StreamDecoder interface {
	// Decode consumes one SSE frame and returns zero or more internal
	// stream events it produces.
	Decode(frame Frame) ([]ichat.StreamEvent, error)
	// Flush is called once at end-of-stream to emit any events pending on
	// buffered state (e.g. a dialect with no terminal marker).
	Flush() ([]ichat.StreamEvent, error)
}

// StreamEncoder is a per-connection, stateful encoder turning Internal
// Stream Events into dialect wire frames.
type StreamEncoder interface {
	Encode(event ichat.StreamEvent) ([]Frame, error)
}

// Codec decodes/encodes one dialect's non-streaming bodies and constructs
// fresh per-connection stream decoders/encoders.
type Codec interface {
	Dialect() Dialect

	DecodeRequest(body []byte) (*ichat.Request, error)
	EncodeRequest(req *ichat.Request) ([]byte, error)

	DecodeResponse(body []byte) (*ichat.Response, error)
	EncodeResponse(resp *ichat.Response) ([]byte, error)

	NewStreamDecoder() StreamDecoder
	NewStreamEncoder() StreamEncoder
}

var registry = map[Dialect]Codec{}

// Register installs a Codec for a Dialect. Called from each dialect
// package's init().
func Register(c Codec) {
	registry[c.Dialect()] = c
}

// Get returns the registered Codec for d, or false if none is registered.
func Get(d Dialect) (Codec, bool) {
	c, ok := registry[d]
	return c, ok
}

// Request is the minimal shape Detect needs from an inbound HTTP request:
// enough of the path, headers and body to apply spec.md §4.1's detection
// rules without importing net/http here.
type Request struct {
	Path    string
	Host    string
	Headers map[string]string
	Body    []byte

	opts *DetectOptions
}

// DetectOptions narrows detection to a fixed source list and/or enables
// strict (fail-closed) mode, per the `format_transform.from`/`strict_parse`
// config keys (spec.md §6.2).
type DetectOptions struct {
	// Allowed, if non-empty, restricts detection to this set of dialects.
	Allowed []Dialect
	Strict  bool
}

// Detect classifies req per spec.md §4.1's detection-rules table, evaluated
// in the fixed order below (first match wins). If Allowed is set and the
// request matches a dialect outside Allowed, Detect returns
// *ErrFormatMismatch naming the suspected dialect. If nothing matches and
// Strict is false, Detect returns Unknown, nil (forward untransformed); if
// Strict is true, it returns ErrUnknownDialect.
func Detect(req Request) (Dialect, error) {
	order := []func(Request) bool{
		isOpenAIChat,
		isOpenAIResponses,
		isClaudeChat,
		isGeminiChat,
	}
	dialects := []Dialect{OpenAIChat, OpenAIResponses, ClaudeChat, GeminiChat}

	var suspected Dialect

	for i, match := range order {
		if match(req) {
			suspected = dialects[i]
			break
		}
	}

	if suspected == Unknown {
		if req.Strict() {
			return Unknown, ErrUnknownDialect
		}

		return Unknown, nil
	}

	if len(req.allowed()) > 0 && !contains(req.allowed(), suspected) {
		return Unknown, &ErrFormatMismatch{Suspected: suspected}
	}

	return suspected, nil
}

// DetectWithOptions is Detect with explicit options, used by callers that
// already parsed format_transform config instead of stashing it on Request.
func DetectWithOptions(req Request, opts DetectOptions) (Dialect, error) {
	req.opts = &opts
	return Detect(req)
}

func (r Request) Strict() bool {
	if r.opts == nil {
		return false
	}

	return r.opts.Strict
}

func (r Request) allowed() []Dialect {
	if r.opts == nil {
		return nil
	}

	return r.opts.Allowed
}

func contains(list []Dialect, d Dialect) bool {
	for _, x := range list {
		if x == d {
			return true
		}
	}

	return false
}

func (r Request) header(key string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}

	return ""
}

func isOpenAIChat(r Request) bool {
	if !strings.HasSuffix(r.Path, "/chat/completions") {
		return false
	}

	first := gjson.GetBytes(r.Body, "messages.0")
	if !first.Exists() {
		return false
	}

	if !first.Get("role").Exists() {
		return false
	}

	// Negative signal: a legacy /completions-style "prompt"-only body.
	if gjson.GetBytes(r.Body, "prompt").Exists() && !gjson.GetBytes(r.Body, "messages").Exists() {
		return false
	}

	return true
}

func isOpenAIResponses(r Request) bool {
	if strings.Contains(r.Path, "/responses") {
		if gjson.GetBytes(r.Body, "input").Exists() && gjson.GetBytes(r.Body, "model").Exists() {
			return true
		}
	}

	if gjson.GetBytes(r.Body, "object").String() == "response" && gjson.GetBytes(r.Body, "output").IsArray() {
		return true
	}

	return false
}

func isClaudeChat(r Request) bool {
	if !strings.HasSuffix(r.Path, "/messages") {
		return false
	}

	if r.header("anthropic-version") == "" {
		return false
	}

	msgs := gjson.GetBytes(r.Body, "messages")
	if !msgs.IsArray() {
		return false
	}

	ok := true
	msgs.ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if content.IsArray() {
			content.ForEach(func(_, item gjson.Result) bool {
				if !item.Get("type").Exists() {
					ok = false
					return false
				}

				return true
			})
		}

		return ok
	})

	return ok
}

func isGeminiChat(r Request) bool {
	if !strings.Contains(r.Host, "generativelanguage.googleapis.com") {
		return false
	}

	if !strings.Contains(r.Path, ":generateContent") && !strings.Contains(r.Path, ":streamGenerateContent") {
		return false
	}

	contents := gjson.GetBytes(r.Body, "contents")
	if !contents.IsArray() {
		return false
	}

	first := contents.Get("0")
	if first.Get("parts").IsArray() {
		// Negative signal: reject bodies that are actually OpenAI/Claude shaped.
		if first.Get("role").Exists() && first.Get("content").Exists() {
			return false
		}

		return true
	}

	return false
}
