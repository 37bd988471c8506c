package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	defaultEndpoint = "https://html.duckduckgo.com/html/"
	defaultTimeout  = 10 * time.Second

	// Result text is capped so a search snippet cannot blow up the
	// model's context window.
	maxSnippetChars = 4000
)

// Client performs web searches against DuckDuckGo's HTML frontend and
// returns extracted page text. Used as the verification tool in the
// model-descriptor pipeline.
type Client struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a search client against the default endpoint.
func NewClient() *Client {
	return &Client{
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	}
}

// NewClientWithEndpoint creates a client pointing at a custom endpoint
// (for testing).
func NewClientWithEndpoint(endpoint string) *Client {
	c := NewClient()
	c.endpoint = endpoint
	return c
}

// Search runs the query and returns visible page text, capped at 4000
// characters. A failed search returns a descriptive string rather than an
// error: the tool-calling loop feeds whatever text comes back to the
// model and moves on.
func (c *Client) Search(ctx context.Context, query string) string {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Sprintf("Search failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Search failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Search failed: unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return fmt.Sprintf("Search failed: %v", err)
	}

	text := extractText(doc)
	if utf8.RuneCountInString(text) > maxSnippetChars {
		text = string([]rune(text)[:maxSnippetChars])
	}
	return text
}

// extractText walks the parse tree collecting visible text, skipping
// script and style subtrees.
func extractText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
