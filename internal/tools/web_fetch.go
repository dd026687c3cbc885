package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultFetchMaxChars    = 50000
	defaultFetchMaxRedirect = 3
	defaultErrorMaxChars    = 4000
	fetchTimeoutSeconds     = 30
	fetchUserAgent          = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// WebFetchTool fetches a URL and extracts its content for the model.
type WebFetchTool struct {
	maxChars          int
	allowPrivateHosts bool
	cache             *webCache
}

// WebFetchConfig holds configuration for the web fetch tool.
// AllowPrivateHosts disables the private-address guard for deployments that
// fetch from an intranet.
type WebFetchConfig struct {
	MaxChars          int
	CacheTTL          time.Duration
	AllowPrivateHosts bool
}

func NewWebFetchTool(cfg WebFetchConfig) *WebFetchTool {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &WebFetchTool{
		maxChars:          maxChars,
		allowPrivateHosts: cfg.AllowPrivateHosts,
		cache:             newWebCache(defaultCacheMaxEntries, ttl),
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract its content. Supports HTML (converted to markdown/text), JSON, and plain text."
}

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch.",
			},
			"extract_mode": map[string]interface{}{
				"type":        "string",
				"description": `Extraction mode ("markdown" or "text"). Default: "markdown".`,
				"enum":        []string{"markdown", "text"},
			},
			"max_chars": map[string]interface{}{
				"type":        "number",
				"description": "Maximum characters to return (truncates when exceeded).",
				"minimum":     100.0,
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, extractMode, maxChars, errRes := t.parseFetchArgs(args)
	if errRes != nil {
		return errRes
	}

	cacheKey := fmt.Sprintf("fetch:%s:%s:%d", rawURL, extractMode, maxChars)
	if cached, ok := t.cache.get(cacheKey); ok {
		slog.Debug("web_fetch cache hit", "url", rawURL)
		return NewResult(cached)
	}

	report, err := t.fetch(ctx, rawURL, extractMode, maxChars)
	if err != nil {
		return ErrorResult(KindExecutionFailed, "fetch failed: "+truncateStr(err.Error(), defaultErrorMaxChars))
	}

	wrapped := wrapExternalContent(report, rawURL, true)
	t.cache.set(cacheKey, wrapped)
	return NewResult(wrapped)
}

func (t *WebFetchTool) parseFetchArgs(args map[string]interface{}) (rawURL, extractMode string, maxChars int, errRes *Result) {
	rawURL, _ = args["url"].(string)
	if rawURL == "" {
		return "", "", 0, ErrorResult(KindMissingParameter, "url is required")
	}

	parsed, err := url.Parse(rawURL)
	switch {
	case err != nil:
		return "", "", 0, ErrorResult(KindInvalidArgs, fmt.Sprintf("invalid URL: %v", err))
	case parsed.Scheme != "http" && parsed.Scheme != "https":
		return "", "", 0, ErrorResult(KindInvalidArgs, "only http and https URLs are supported")
	case parsed.Host == "":
		return "", "", 0, ErrorResult(KindInvalidArgs, "missing hostname in URL")
	}

	if !t.allowPrivateHosts {
		if err := checkSSRF(rawURL); err != nil {
			return "", "", 0, ErrorResult(KindBlockedURL, err.Error())
		}
	}

	extractMode = "markdown"
	if em, ok := args["extract_mode"].(string); ok && (em == "markdown" || em == "text") {
		extractMode = em
	}

	maxChars = t.maxChars
	if mc, ok := args["max_chars"].(float64); ok && int(mc) >= 100 {
		maxChars = int(mc)
	}
	return rawURL, extractMode, maxChars, nil
}

// httpClient builds a fresh client whose redirect hook re-applies the
// private-address guard to every hop.
func (t *WebFetchTool) httpClient() *http.Client {
	redirects := 0
	return &http.Client{
		Timeout: fetchTimeoutSeconds * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 15 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects++
			if redirects > defaultFetchMaxRedirect {
				return fmt.Errorf("stopped after %d redirects", defaultFetchMaxRedirect)
			}
			if !t.allowPrivateHosts {
				if err := checkSSRF(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
			}
			return nil
		},
	}
}

func (t *WebFetchTool) fetch(ctx context.Context, rawURL, extractMode string, maxChars int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Read past the char limit; HTML markup inflates the raw size.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars*4)))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text, extractor := extractContent(resp.Header.Get("Content-Type"), body, extractMode)

	truncated := len(text) > maxChars
	if truncated {
		text = text[:maxChars]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", resp.Request.URL.String())
	fmt.Fprintf(&sb, "Status: %d\n", resp.StatusCode)
	fmt.Fprintf(&sb, "Extractor: %s\n", extractor)
	if truncated {
		fmt.Fprintf(&sb, "Truncated: true (limit: %d chars)\n", maxChars)
	}
	fmt.Fprintf(&sb, "Length: %d\n\n", len(text))
	sb.WriteString(text)
	return sb.String(), nil
}

// extractContent picks the extractor from the content type and renders the
// body for the model.
func extractContent(contentType string, body []byte, extractMode string) (string, string) {
	switch {
	case strings.Contains(contentType, "application/json"):
		return extractJSON(body)

	case strings.Contains(contentType, "text/markdown"):
		if extractMode == "text" {
			return markdownToText(string(body)), "markdown"
		}
		return string(body), "markdown"

	case strings.Contains(contentType, "text/html"),
		strings.Contains(contentType, "application/xhtml"):
		if extractMode == "text" {
			return htmlToText(string(body)), "html-to-text"
		}
		return htmlToMarkdown(string(body)), "html-to-markdown"

	default:
		return string(body), "raw"
	}
}
