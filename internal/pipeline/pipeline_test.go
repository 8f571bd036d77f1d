package pipeline

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/looplj/guardianbridge/internal/dialect/openaichat"
	"github.com/looplj/guardianbridge/internal/pkg/httpclient"
)

func chatPath(cfgJSON, upstreamURL string) string {
	return "/" + url.PathEscape(cfgJSON) + "$" + upstreamURL + "/v1/chat/completions"
}

func newDeps(t *testing.T, upstreamURL string) Dependencies {
	t.Helper()

	return Dependencies{
		Upstream: httpclient.NewHttpClient(),
	}
}

// spec.md §4 scenario 4: a request whose projected text matches a
// configured keyword is rejected with MODERATION_BLOCKED and the keyword
// named in the message, without ever reaching the upstream.
func TestHandle_BasicModerationBlocksMatchingKeyword(t *testing.T) {
	keywordsFile := filepath.Join(t.TempDir(), "keywords.txt")
	require.NoError(t, os.WriteFile(keywordsFile, []byte("badword\n"), 0o644))

	var upstreamCalled bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := New(newDeps(t, upstream.URL))

	cfg := `{"basic_moderation":{"enabled":true,"keywords_file":"` + keywordsFile + `"}}`
	path := chatPath(cfg, upstream.URL)

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"this has a badword in it"}]}`)

	_, err := p.Handle(t.Context(), Inbound{Method: http.MethodPost, Path: path, Body: body}, nil)
	require.Error(t, err)

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeModerationBlocked, pe.Code)
	assert.Contains(t, pe.Message, "Matched keyword: badword")
	assert.False(t, upstreamCalled, "moderation-blocked requests must never reach the upstream")
}

// A request with no matching keyword passes basic moderation and is
// forwarded to the upstream, round-tripping identically since source and
// target dialects are the same (spec.md §4.1 identity transform).
func TestHandle_BasicModerationPassesCleanTextThrough(t *testing.T) {
	keywordsFile := filepath.Join(t.TempDir(), "keywords.txt")
	require.NoError(t, os.WriteFile(keywordsFile, []byte("badword\n"), 0o644))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer upstream.Close()

	p := New(newDeps(t, upstream.URL))

	cfg := `{"basic_moderation":{"enabled":true,"keywords_file":"` + keywordsFile + `"}}`
	path := chatPath(cfg, upstream.URL)

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hello there"}]}`)

	outcome, err := p.Handle(t.Context(), Inbound{Method: http.MethodPost, Path: path, Body: body}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.True(t, strings.Contains(string(outcome.Body), `"hi"`))
}

// A malformed config blob yields CONFIG_PARSE_ERROR before any dialect
// detection or moderation runs.
func TestHandle_InvalidConfigReturnsConfigParseError(t *testing.T) {
	p := New(newDeps(t, "http://unused.example"))

	_, err := p.Handle(t.Context(), Inbound{Method: http.MethodPost, Path: "/no-dollar-sign"}, nil)
	require.Error(t, err)

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeConfigParseError, pe.Code)
}
