package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/communityagent/communityagent/internal/config"
	"golang.org/x/net/html"
)

const searchUserAgent = "communityagent/1.0 (+web_search)"

// WebSearchTool searches the web through Brave, falling back to DuckDuckGo's
// HTML endpoint when Brave is not configured or fails.
type WebSearchTool struct {
	braveKey     string
	braveURL     string
	ddgURL       string
	maxResults   int
	timeout      time.Duration
	maxBodyBytes int64
	client       *http.Client
}

type webSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

func NewWebSearchTool(cfg config.SearchConfig, client *http.Client) *WebSearchTool {
	def := config.DefaultConfig().Tools.Web.Search
	if strings.TrimSpace(cfg.BraveURL) == "" {
		cfg.BraveURL = def.BraveURL
	}
	if strings.TrimSpace(cfg.DDGURL) == "" {
		cfg.DDGURL = def.DDGURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebSearchTool{
		braveKey:     strings.TrimSpace(cfg.APIKey),
		braveURL:     cfg.BraveURL,
		ddgURL:       cfg.DDGURL,
		maxResults:   cfg.MaxResults,
		timeout:      cfg.Timeout,
		maxBodyBytes: 2 * 1024 * 1024,
		client:       client,
	}
}

func (t *WebSearchTool) Name() string { return string(WebSearch) }
func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns a short summary and the top result titles and URLs."
}
func (t *WebSearchTool) Tier() int { return TierExternal }

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "No results found: the search query was empty.", nil
	}

	engine := "brave"
	var results []webSearchResult
	var err error
	if t.braveKey != "" {
		results, err = t.searchBrave(ctx, query)
		if err != nil {
			slog.Warn("Brave search failed, falling back to DuckDuckGo", "error", err)
		}
	}
	if t.braveKey == "" || err != nil || len(results) == 0 {
		engine = "duckduckgo"
		results, err = t.searchDuckDuckGo(ctx, query)
		if err != nil {
			slog.Warn("DuckDuckGo search failed", "error", err)
		}
	}
	if err != nil || len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query), nil
	}
	return formatSearchResults(query, engine, results), nil
}

func (t *WebSearchTool) searchBrave(ctx context.Context, query string) ([]webSearchResult, error) {
	u, err := url.Parse(t.braveURL)
	if err != nil {
		return nil, fmt.Errorf("invalid brave url: %w", err)
	}
	qs := u.Query()
	qs.Set("q", query)
	qs.Set("count", strconv.Itoa(t.maxResults))
	u.RawQuery = qs.Encode()

	body, err := t.get(ctx, u.String(), map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": t.braveKey,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse brave response: %w", err)
	}
	out := make([]webSearchResult, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		if len(out) >= t.maxResults {
			break
		}
		out = append(out, webSearchResult{
			Title:   stripTags(r.Title),
			URL:     r.URL,
			Snippet: stripTags(r.Description),
		})
	}
	return out, nil
}

func (t *WebSearchTool) searchDuckDuckGo(ctx context.Context, query string) ([]webSearchResult, error) {
	u, err := url.Parse(t.ddgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid duckduckgo url: %w", err)
	}
	qs := u.Query()
	qs.Set("q", query)
	u.RawQuery = qs.Encode()

	body, err := t.get(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGoHTML(body, t.maxResults)
}

func (t *WebSearchTool) get(ctx context.Context, target string, headers map[string]string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", searchUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 32*1024))
		return nil, fmt.Errorf("non-2xx status=%d body=%s", resp.StatusCode, string(bytes.ToValidUTF8(body, []byte("[non-utf8]"))))
	}
	return io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes))
}

func formatSearchResults(query, engine string, results []webSearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results for %q (via %s).", len(results), query, engine)
	if summary := firstSnippet(results); summary != "" {
		fmt.Fprintf(&sb, " %s", summary)
	}
	sb.WriteString("\n\nTop results:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s - %s\n", i+1, r.Title, r.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstSnippet(results []webSearchResult) string {
	for _, r := range results {
		if s := strings.TrimSpace(r.Snippet); s != "" {
			return truncate(s, 300)
		}
	}
	return ""
}

func parseDuckDuckGoHTML(htmlBytes []byte, maxResults int) ([]webSearchResult, error) {
	root, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return nil, err
	}

	var out []webSearchResult
	// full is set at the first title link past maxResults, so the last
	// kept result still picks up its snippet.
	full := false

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n == nil || full {
			return
		}

		// Title links: <a class="result__a" href="...">Title</a>
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			href := attr(n, "href")
			title := strings.TrimSpace(textContent(n))
			if href != "" && title != "" {
				if len(out) >= maxResults {
					full = true
					return
				}
				out = append(out, webSearchResult{
					Title: title,
					URL:   normalizeDuckDuckGoResultURL(href),
				})
			}
			return
		}
		// Snippets follow their title link inside the same result block.
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && len(out) > 0 && out[len(out)-1].Snippet == "" {
			out[len(out)-1].Snippet = textContent(n)
			return
		}

		for c := n.FirstChild; c != nil && !full; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

func normalizeDuckDuckGoResultURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	// Often: /l/?uddg=<encoded>
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.Path == "/l/" {
		if uddg := u.Query().Get("uddg"); uddg != "" {
			return uddg
		}
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}
