package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ddgProvider scrapes the DuckDuckGo HTML endpoint. It needs no API key,
// so it always sits at the end of the provider chain as the fallback.
type ddgProvider struct {
	client *http.Client
}

func newDuckDuckGoSearchProvider() *ddgProvider {
	return &ddgProvider{
		client: &http.Client{Timeout: searchTimeoutSeconds * time.Second},
	}
}

func (p *ddgProvider) Name() string { return "duckduckgo" }

func (p *ddgProvider) Search(ctx context.Context, params searchParams) ([]searchResult, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(params.Query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseDDGResults(string(body), params.Count), nil
}

var (
	ddgResultRe  = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
)

// parseDDGResults pulls result anchors out of the DDG HTML page. Matching
// is capped a little above count so snippets can pair up by index.
func parseDDGResults(html string, count int) []searchResult {
	links := ddgResultRe.FindAllStringSubmatch(html, count+5)
	if len(links) == 0 {
		return nil
	}
	snippets := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	results := make([]searchResult, 0, count)
	for i, m := range links {
		if i >= count {
			break
		}
		r := searchResult{
			Title: strings.TrimSpace(anyTagRe.ReplaceAllString(m[2], "")),
			URL:   unwrapDDGRedirect(m[1]),
		}
		if i < len(snippets) {
			r.Description = strings.TrimSpace(anyTagRe.ReplaceAllString(snippets[i][1], ""))
		}
		results = append(results, r)
	}
	return results
}

// unwrapDDGRedirect recovers the target URL from DDG's /l/?uddg= redirect
// wrapper. Hrefs without the wrapper pass through unchanged.
func unwrapDDGRedirect(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}
