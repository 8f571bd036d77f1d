package dialect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/guardianbridge/internal/dialect"
)

func TestDetectOpenAIChat(t *testing.T) {
	d, err := dialect.Detect(dialect.Request{
		Path: "/v1/chat/completions",
		Body: []byte(`{"model":"gpt-x","messages":[{"role":"user","content":"hi"}]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, dialect.OpenAIChat, d)
}

func TestDetectClaudeChat(t *testing.T) {
	d, err := dialect.Detect(dialect.Request{
		Path:    "/v1/messages",
		Headers: map[string]string{"Anthropic-Version": "2023-06-01"},
		Body:    []byte(`{"model":"claude-3","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, dialect.ClaudeChat, d)
}

func TestDetectGeminiChat(t *testing.T) {
	d, err := dialect.Detect(dialect.Request{
		Host: "generativelanguage.googleapis.com",
		Path: "/v1beta/models/gemini-pro:generateContent",
		Body: []byte(`{"contents":[{"parts":[{"text":"hi"}]}]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, dialect.GeminiChat, d)
}

func TestDetectOpenAIResponses(t *testing.T) {
	d, err := dialect.Detect(dialect.Request{
		Path: "/v1/responses",
		Body: []byte(`{"model":"gpt-x","input":"hi"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, dialect.OpenAIResponses, d)
}

func TestDetectUnknownNonStrictForwardsUntransformed(t *testing.T) {
	d, err := dialect.Detect(dialect.Request{Path: "/v1/embeddings", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, dialect.Unknown, d)
}

func TestDetectUnknownStrictFails(t *testing.T) {
	_, err := dialect.DetectWithOptions(
		dialect.Request{Path: "/v1/embeddings", Body: []byte(`{}`)},
		dialect.DetectOptions{Strict: true},
	)
	assert.ErrorIs(t, err, dialect.ErrUnknownDialect)
}

func TestDetectFormatMismatchOutsideAllowedList(t *testing.T) {
	_, err := dialect.DetectWithOptions(
		dialect.Request{
			Path: "/v1/chat/completions",
			Body: []byte(`{"model":"gpt-x","messages":[{"role":"user","content":"hi"}]}`),
		},
		dialect.DetectOptions{Allowed: []dialect.Dialect{dialect.ClaudeChat}},
	)
	require.Error(t, err)

	var mismatch *dialect.ErrFormatMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, dialect.OpenAIChat, mismatch.Suspected)
}
