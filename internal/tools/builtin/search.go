package builtin

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/proxy"

	"AgentOS-Bridge/internal/tools"
)

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

type webSearch struct {
	endpoint   string
	maxResults int
	userAgent  string
	client     *http.Client
}

// WebSearch 返回基于 DuckDuckGo HTML 页面的搜索工具。
func WebSearch(opts SearchOptions) (tools.Tool, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != "" {
		u, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse search proxy: %w", err)
		}
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("build search proxy: %w", err)
		}
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	}
	return &webSearch{
		endpoint:   opts.Endpoint,
		maxResults: opts.MaxResults,
		userAgent:  opts.UserAgent,
		client:     &http.Client{Timeout: opts.Timeout, Transport: transport},
	}, nil
}

func (w *webSearch) Definition() tools.Definition {
	return tools.Definition{
		Name:        "web_search",
		Description: "Search the web and return the top results with titles, links and snippets.",
		Params: []tools.Param{
			{Name: "query", Type: tools.TypeString, Required: true, Rules: "min=1,max=256"},
			{Name: "max_results", Type: tools.TypeInteger, Rules: "min=1,max=10"},
		},
		SideEffect: tools.PureQuery,
		Latency:    tools.LatencySlow,
	}
}

func (w *webSearch) Invoke(ctx context.Context, p tools.Params) (tools.Observation, error) {
	query := p.String("query")
	limit := w.maxResults
	if n := p.Int("max_results"); n > 0 {
		limit = n
	}

	u, err := url.Parse(w.endpoint)
	if err != nil {
		return tools.Observation{}, err
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return tools.Observation{}, err
	}
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return tools.Observation{}, tools.Failuref("search endpoint unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tools.Observation{}, tools.Failuref("search endpoint returned status %d", resp.StatusCode)
	}

	results, err := parseResults(io.LimitReader(resp.Body, 4<<20), limit)
	if err != nil {
		return tools.Observation{}, tools.Failuref("search results could not be parsed")
	}
	if len(results) == 0 {
		return tools.NewObservation(fmt.Sprintf("no results for %q", query), map[string]any{
			"query":   query,
			"results": []any{},
		}), nil
	}

	var b strings.Builder
	items := make([]any, 0, len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
		items = append(items, map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Snippet})
	}
	return tools.NewObservation(strings.TrimRight(b.String(), "\n"), map[string]any{
		"query":   query,
		"results": items,
	}), nil
}

// parseResults 提取 result__a 链接与 result__snippet 摘要。
func parseResults(r io.Reader, limit int) ([]searchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var results []searchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				results = append(results, searchResult{
					Title: collapse(textOf(n)),
					URL:   resolveRedirect(attr(n, "href")),
				})
				return
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = collapse(textOf(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveRedirect 还原 DuckDuckGo 的跳转链接。
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
