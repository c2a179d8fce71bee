package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/communityagent/communityagent/internal/config"
	"golang.org/x/net/html"
)

const scrapeMaxChars = 2000

// ScrapeWebpageTool fetches a page and returns its title and readable text.
type ScrapeWebpageTool struct {
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	client    *http.Client
}

func NewScrapeWebpageTool(cfg config.ScrapeToolConfig, client *http.Client) *ScrapeWebpageTool {
	def := config.DefaultConfig().Tools.Scrape
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = def.UserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ScrapeWebpageTool{
		timeout:   cfg.Timeout,
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
		client:    client,
	}
}

func (t *ScrapeWebpageTool) Name() string { return string(ScrapeWebpage) }
func (t *ScrapeWebpageTool) Description() string {
	return "Fetch a web page and return its title and the first part of its readable text."
}
func (t *ScrapeWebpageTool) Tier() int { return TierExternal }

func (t *ScrapeWebpageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Page URL (http or https)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *ScrapeWebpageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	target := strings.TrimSpace(GetString(params, "url", ""))
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return fmt.Sprintf("Invalid URL %q: only http:// and https:// URLs can be scraped.", target), nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to fetch %s: HTTP %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", target, err)
	}

	title, text := extractPage(body)
	if title == "" {
		title = "(untitled)"
	}
	content := []rune(text)
	truncated := len(content) > scrapeMaxChars
	if truncated {
		content = content[:scrapeMaxChars]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nURL: %s\n\nContent:\n%s", title, target, string(content))
	if truncated {
		sb.WriteString("... [truncated]")
	}
	return sb.String(), nil
}

// extractPage returns the document title and its visible text with
// <script> and <style> blocks removed and whitespace collapsed.
func extractPage(body []byte) (title, text string) {
	z := html.NewTokenizer(bytes.NewReader(body))
	var sb strings.Builder
	skipDepth := 0
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(title), " "), strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				skipDepth++
			case "title":
				inTitle = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			case "title":
				inTitle = false
			}
			// Tag boundaries separate words.
			sb.WriteByte(' ')
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			txt := string(z.Text())
			if inTitle {
				if title == "" {
					title = txt
				}
				continue
			}
			sb.WriteString(txt)
			sb.WriteByte(' ')
		}
	}
}

// stripTags reduces an HTML fragment to its text.
func stripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	_, text := extractPage([]byte(s))
	return text
}

func hasClass(n *html.Node, want string) bool {
	for _, part := range strings.Fields(attr(n, "class")) {
		if part == want {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x == nil {
			return
		}
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
