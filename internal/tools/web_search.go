package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSearchCount   = 5
	maxSearchCount       = 10
	searchTimeoutSeconds = 30
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	webSearchUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// SearchProvider abstracts a web search backend.
type SearchProvider interface {
	Search(ctx context.Context, params searchParams) ([]searchResult, error)
	Name() string
}

type searchParams struct {
	Query      string
	Count      int
	Country    string
	SearchLang string
	UILang     string
	Freshness  string
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

var freshnessRangeRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})to(\d{4}-\d{2}-\d{2})$`)

// normalizeFreshness validates a freshness filter. Accepts the pd/pw/pm/py
// shortcuts and YYYY-MM-DDtoYYYY-MM-DD ranges; everything else collapses to
// empty (no filter).
func normalizeFreshness(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "":
		return ""
	case "pd", "pw", "pm", "py":
		return v
	}

	m := freshnessRangeRe.FindStringSubmatch(v)
	if len(m) != 3 {
		return ""
	}
	start, errS := time.Parse("2006-01-02", m[1])
	end, errE := time.Parse("2006-01-02", m[2])
	if errS != nil || errE != nil || start.After(end) {
		return ""
	}
	return v
}

// WebSearchTool queries configured search providers in priority order and
// returns the first successful result set.
type WebSearchTool struct {
	providers []SearchProvider
	cache     *webCache
}

// WebSearchConfig holds configuration for the web search tool. With a Brave
// API key set, Brave is tried first; DuckDuckGo is always the fallback.
type WebSearchConfig struct {
	BraveAPIKey string
	CacheTTL    time.Duration
}

func NewWebSearchTool(cfg WebSearchConfig) *WebSearchTool {
	var providers []SearchProvider
	if cfg.BraveAPIKey != "" {
		providers = append(providers, newBraveSearchProvider(cfg.BraveAPIKey))
	}
	providers = append(providers, newDuckDuckGoSearchProvider())

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &WebSearchTool{
		providers: providers,
		cache:     newWebCache(defaultCacheMaxEntries, ttl),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets from search results."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query string.",
			},
			"count": map[string]interface{}{
				"type":        "number",
				"description": "Number of results to return (1-10).",
				"minimum":     1.0,
				"maximum":     float64(maxSearchCount),
			},
			"country": map[string]interface{}{
				"type":        "string",
				"description": "2-letter country code for region-specific results (e.g., 'DE', 'US').",
			},
			"search_lang": map[string]interface{}{
				"type":        "string",
				"description": "ISO language code for result pages (e.g., 'de', 'en').",
			},
			"ui_lang": map[string]interface{}{
				"type":        "string",
				"description": "ISO language code for UI elements.",
			},
			"freshness": map[string]interface{}{
				"type":        "string",
				"description": "Limit results by discovery time: 'pd' (past day), 'pw' (past week), 'pm' (past month), 'py' (past year), or a 'YYYY-MM-DDtoYYYY-MM-DD' range.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	params, errRes := parseSearchArgs(args)
	if errRes != nil {
		return errRes
	}

	cacheKey := buildSearchCacheKey(params)
	if cached, ok := t.cache.get(cacheKey); ok {
		slog.Debug("web_search cache hit", "query", params.Query)
		return NewResult(cached)
	}

	wrapped, err := t.runProviders(ctx, params)
	if err != nil {
		return ErrorResult(KindExecutionFailed, fmt.Sprintf("all search providers failed: %v", err))
	}

	t.cache.set(cacheKey, wrapped)
	return NewResult(wrapped)
}

func parseSearchArgs(args map[string]interface{}) (searchParams, *Result) {
	query, _ := args["query"].(string)
	if query == "" {
		return searchParams{}, ErrorResult(KindMissingParameter, "query is required")
	}

	count := defaultSearchCount
	if c, ok := args["count"].(float64); ok && int(c) >= 1 && int(c) <= maxSearchCount {
		count = int(c)
	}

	p := searchParams{Query: query, Count: count}
	p.Country, _ = args["country"].(string)
	p.SearchLang, _ = args["search_lang"].(string)
	p.UILang, _ = args["ui_lang"].(string)
	p.Freshness, _ = args["freshness"].(string)
	return p, nil
}

// runProviders walks the provider chain. The first provider to succeed wins;
// an empty result set still counts as success.
func (t *WebSearchTool) runProviders(ctx context.Context, params searchParams) (string, error) {
	lastErr := errors.New("no search providers configured")
	for _, provider := range t.providers {
		results, err := provider.Search(ctx, params)
		if err != nil {
			slog.Warn("web_search provider failed", "provider", provider.Name(), "error", err)
			lastErr = err
			continue
		}
		formatted := formatSearchResults(params.Query, results, provider.Name())
		return wrapExternalContent(formatted, "web_search", false), nil
	}
	return "", lastErr
}

func buildSearchCacheKey(p searchParams) string {
	blank := func(s string) string {
		if s == "" {
			return "default"
		}
		return s
	}
	return strings.Join([]string{
		p.Query,
		strconv.Itoa(p.Count),
		blank(p.Country),
		blank(p.SearchLang),
		blank(p.UILang),
		blank(p.Freshness),
	}, ":")
}

func formatSearchResults(query string, results []searchResult, provider string) string {
	if len(results) == 0 {
		return "No results found for: " + query
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s (via %s)\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
