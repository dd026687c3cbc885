package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetchTestTool() *WebFetchTool {
	return NewWebFetchTool(WebFetchConfig{AllowPrivateHosts: true})
}

func TestWebFetchExtractsMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><h1>Release Notes</h1><p>Nothing changed.</p><a href="https://example.com/more">details</a></body></html>`))
	}))
	defer srv.Close()

	tool := newFetchTestTool()
	res := tool.Execute(context.Background(), map[string]interface{}{"url": srv.URL})
	require.False(t, res.IsError, res.ForLLM)

	assert.Contains(t, res.ForLLM, "# Release Notes")
	assert.Contains(t, res.ForLLM, "Nothing changed.")
	assert.Contains(t, res.ForLLM, "[details](https://example.com/more)")
	assert.Contains(t, res.ForLLM, "Status: 200")
	assert.Contains(t, res.ForLLM, "Extractor: html-to-markdown")
	assert.Contains(t, res.ForLLM, "<external_content")
}

func TestWebFetchTextMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1>Title</h1><p>Body text.</p></body></html>`))
	}))
	defer srv.Close()

	tool := newFetchTestTool()
	res := tool.Execute(context.Background(), map[string]interface{}{
		"url":          srv.URL,
		"extract_mode": "text",
	})
	require.False(t, res.IsError, res.ForLLM)
	assert.Contains(t, res.ForLLM, "Extractor: html-to-text")
	assert.Contains(t, res.ForLLM, "Body text.")
	assert.NotContains(t, res.ForLLM, "# Title")
}

func TestWebFetchPrettyPrintsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"goswarm","tags":["a","b"]}`))
	}))
	defer srv.Close()

	tool := newFetchTestTool()
	res := tool.Execute(context.Background(), map[string]interface{}{"url": srv.URL})
	require.False(t, res.IsError, res.ForLLM)
	assert.Contains(t, res.ForLLM, "Extractor: json")
	assert.Contains(t, res.ForLLM, "\"name\": \"goswarm\"")
}

func TestWebFetchTruncatesLongBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("z", 2000)))
	}))
	defer srv.Close()

	tool := newFetchTestTool()
	res := tool.Execute(context.Background(), map[string]interface{}{
		"url":       srv.URL,
		"max_chars": float64(100),
	})
	require.False(t, res.IsError, res.ForLLM)
	assert.Contains(t, res.ForLLM, "Truncated: true (limit: 100 chars)")
	assert.NotContains(t, res.ForLLM, strings.Repeat("z", 101))
}

func TestWebFetchCachesResponses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("cached payload"))
	}))
	defer srv.Close()

	tool := newFetchTestTool()
	args := map[string]interface{}{"url": srv.URL}

	first := tool.Execute(context.Background(), args)
	require.False(t, first.IsError, first.ForLLM)
	second := tool.Execute(context.Background(), args)
	require.False(t, second.IsError, second.ForLLM)

	assert.Equal(t, first.ForLLM, second.ForLLM)
	assert.Equal(t, int32(1), hits.Load())
}

func TestWebFetchRejectsBadInput(t *testing.T) {
	tool := newFetchTestTool()

	res := tool.Execute(context.Background(), map[string]interface{}{})
	require.True(t, res.IsError)
	assert.Equal(t, KindMissingParameter, res.Kind)

	res = tool.Execute(context.Background(), map[string]interface{}{"url": "ftp://example.com/file"})
	require.True(t, res.IsError)
	assert.Equal(t, KindInvalidArgs, res.Kind)

	res = tool.Execute(context.Background(), map[string]interface{}{"url": "https:///nohost"})
	require.True(t, res.IsError)
	assert.Equal(t, KindInvalidArgs, res.Kind)
}

func TestWebFetchBlocksPrivateHostsByDefault(t *testing.T) {
	tool := NewWebFetchTool(WebFetchConfig{})

	for _, u := range []string{
		"http://127.0.0.1:9/",
		"http://localhost/admin",
		"http://169.254.169.254/latest/meta-data/",
	} {
		res := tool.Execute(context.Background(), map[string]interface{}{"url": u})
		require.True(t, res.IsError, "url %s must be blocked", u)
		assert.Equal(t, KindBlockedURL, res.Kind, "url %s", u)
	}
}
