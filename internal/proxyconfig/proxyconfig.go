// Package proxyconfig parses the URL-embedded per-request configuration
// blob described in spec.md §6.1/§6.2:
//
//	METHOD http(s)://proxy-host/<percent-encoded JSON config>$<upstream base URL><sub-path>
package proxyconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrMissingSeparator = errors.New("request path is missing the '$' config/upstream separator")

// BasicModeration is the `basic_moderation` config block.
type BasicModeration struct {
	Enabled      bool   `json:"enabled"`
	KeywordsFile string `json:"keywords_file"`
	ErrorCode    string `json:"error_code"`
}

// SmartModeration is the `smart_moderation` config block.
type SmartModeration struct {
	Enabled bool   `json:"enabled"`
	Profile string `json:"profile"`
}

// FormatTransform is the `format_transform` config block. From may be
// "auto", a single dialect name, or (per spec.md §6.2) a list; From is kept
// as raw JSON and decoded by the caller via FromList/FromAuto, since the two
// shapes are not distinguishable by a single Go field type.
type FormatTransform struct {
	Enabled     bool            `json:"enabled"`
	From        json.RawMessage `json:"from"`
	To          string          `json:"to"`
	Stream      string          `json:"stream"`
	StrictParse bool            `json:"strict_parse"`
}

// FromAuto reports whether From is "auto" or unset.
func (f FormatTransform) FromAuto() bool {
	if len(f.From) == 0 {
		return true
	}

	var s string
	if err := json.Unmarshal(f.From, &s); err == nil {
		return s == "" || s == "auto"
	}

	return false
}

// FromList returns the configured source dialect allow-list, or nil if From
// is "auto"/unset. Accepts both a single string and a JSON array of strings.
func (f FormatTransform) FromList() []string {
	if f.FromAuto() {
		return nil
	}

	var s string
	if err := json.Unmarshal(f.From, &s); err == nil {
		return []string{s}
	}

	var list []string
	if err := json.Unmarshal(f.From, &list); err == nil {
		return list
	}

	return nil
}

// Config is the decoded per-request configuration blob plus the raw map for
// unknown-key passthrough (spec.md §6.2: "Unknown keys are preserved and
// ignored").
type Config struct {
	BasicModeration BasicModeration `json:"basic_moderation"`
	SmartModeration SmartModeration `json:"smart_moderation"`
	FormatTransform FormatTransform `json:"format_transform"`

	raw []byte
}

// Raw returns the original decoded JSON config blob.
func (c *Config) Raw() []byte { return c.raw }

// Get looks up an arbitrary, possibly-unrecognized key by gjson path,
// matching the teacher's "read what you recognize, forward the rest"
// pattern for opaque config blobs.
func (c *Config) Get(path string) gjson.Result {
	return gjson.GetBytes(c.raw, path)
}

// Target is the upstream base URL plus the sub-path to append to it.
type Target struct {
	BaseURL string
	SubPath string
}

// URL returns the full upstream URL, including the incoming sub-path.
func (t Target) URL() string {
	if t.SubPath == "" {
		return t.BaseURL
	}

	return strings.TrimRight(t.BaseURL, "/") + "/" + strings.TrimLeft(t.SubPath, "/")
}

// Path returns just the sub-path (no query string), the portion dialect
// detection rules match path-suffix/contains rules against.
func (t Target) Path() string {
	path, _, _ := strings.Cut(t.SubPath, "?")
	return path
}

// Parse splits a request path of the form
// "<percent-encoded JSON config>$<upstream base URL><sub-path>" into a
// Config and a Target. The path is split once on the first '$'; the left
// side is URL-decoded and JSON-parsed, the right side is treated as a URL
// prefix plus sub-path per spec.md §6.1.
func Parse(rawPath string) (*Config, *Target, error) {
	left, right, ok := strings.Cut(rawPath, "$")
	if !ok {
		return nil, nil, ErrMissingSeparator
	}

	decoded, err := url.PathUnescape(left)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to url-decode config blob: %w", err)
	}

	decoded = strings.TrimPrefix(decoded, "/")

	var cfg Config

	if err := json.Unmarshal([]byte(decoded), &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to json-decode config blob: %w", err)
	}

	cfg.raw = []byte(decoded)

	baseURL, subPath := splitUpstream(right)

	return &cfg, &Target{BaseURL: baseURL, SubPath: subPath}, nil
}

// splitUpstream separates the upstream "scheme://host[:port]" from the
// sub-path (and query) the client wants hit on it, e.g.
// "https://api.openai.com/v1/chat/completions" splits into
// "https://api.openai.com" and "/v1/chat/completions". The sub-path is what
// the dialect detector's path-based rules (spec.md §4.1) match against.
func splitUpstream(s string) (baseURL, subPath string) {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s, ""
	}

	base := u.Scheme + "://" + u.Host
	sub := u.Path

	if u.RawQuery != "" {
		sub += "?" + u.RawQuery
	}

	return base, sub
}
