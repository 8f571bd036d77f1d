package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/guardianbridge/internal/pipeline"
	"github.com/looplj/guardianbridge/internal/pkg/httpclient"
)

func newTestServer(t *testing.T, pipe *pipeline.Pipeline) *Server {
	t.Helper()

	srv := New(Config{Addr: ":0", Debug: true})
	SetupRoutes(srv, pipe)

	return srv
}

func TestHealth_ReturnsOK(t *testing.T) {
	srv := newTestServer(t, pipeline.New(pipeline.Dependencies{Upstream: httpclient.NewHttpClient()}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

// When the request path's config blob fails to parse, the proxy route
// renders the CONFIG_PARSE_ERROR envelope instead of a raw 500.
func TestProxyHandler_InvalidConfigRendersErrorEnvelope(t *testing.T) {
	srv := newTestServer(t, pipeline.New(pipeline.Dependencies{Upstream: httpclient.NewHttpClient()}))

	req := httptest.NewRequest(http.MethodPost, "/no-separator-here", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONFIG_PARSE_ERROR")
}

// A request whose sub-path matches no known dialect and whose config
// disables format transform is forwarded untransformed to the upstream
// (spec.md §4.1's "nothing matched, strict mode off" branch), proving the
// whole gin -> pipeline -> httpclient chain is wired end to end.
func TestProxyHandler_ForwardsUnrecognizedRequestsRaw(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/unmatched/path", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	srv := newTestServer(t, pipeline.New(pipeline.Dependencies{Upstream: httpclient.NewHttpClient()}))

	cfg := url.PathEscape(`{"format_transform":{"enabled":false}}`)
	path := "/" + cfg + "$" + upstream.URL + "/unmatched/path"

	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}
