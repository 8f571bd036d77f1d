package sse

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectFrames(t *testing.T, body string) []string {
	t.Helper()

	f := NewFramer(context.Background(), strings.NewReader(body))

	var out []string
	for f.Next() {
		out = append(out, string(f.Current().Data))
	}

	require.NoError(t, f.Err())

	return out
}

func TestFramer_SplitsOnBlankLineBoundaries(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n"

	frames := collectFrames(t, body)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, frames)
}

func TestFramer_ConcatenatesMultilineData(t *testing.T) {
	body := "data: line one\ndata: line two\n\n"

	frames := collectFrames(t, body)
	require.Len(t, frames, 1)
	assert.Equal(t, "line one\nline two", frames[0])
}

func TestFramer_RecognizesDoneMarkerRegardlessOfSource(t *testing.T) {
	body := "data: [DONE]\n\n"

	f := NewFramer(context.Background(), strings.NewReader(body))
	require.True(t, f.Next())
	assert.True(t, IsDone(f.Current()))
}

func TestFramer_FlushesTrailingUnterminatedFrame(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: trailing-no-blank-line"

	frames := collectFrames(t, body)
	assert.Equal(t, []string{`{"a":1}`, "trailing-no-blank-line"}, frames)
}

func TestFramer_IgnoresCommentOnlyFrames(t *testing.T) {
	body := ": keep-alive\n\ndata: {\"a\":1}\n\n"

	frames := collectFrames(t, body)
	assert.Equal(t, []string{`{"a":1}`}, frames)
}

func TestFramer_CapturesEventName(t *testing.T) {
	body := "event: message_start\ndata: {\"a\":1}\n\n"

	f := NewFramer(context.Background(), strings.NewReader(body))
	require.True(t, f.Next())
	assert.Equal(t, "message_start", f.Current().Event)
	assert.Equal(t, `{"a":1}`, string(f.Current().Data))
}
