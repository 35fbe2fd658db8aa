package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/nstogner/chatd/pkg/tools"
)

const maxPageChars = 2000

// WebReader fetches a page and returns its main text content.
type WebReader struct {
	Client *http.Client
}

var _ tools.Tool = (*WebReader)(nil)

func (w *WebReader) Name() string { return "web_reader" }

func (w *WebReader) Description() string {
	return "Fetch a web page by URL and extract its main text content."
}

func (w *WebReader) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The absolute http(s) URL to read.",
			},
		},
		"required": []string{"url"},
	}
}

func (w *WebReader) Execute(ctx context.Context, input map[string]any) (any, error) {
	raw, ok := tools.StringArg(input, "url")
	if !ok {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", raw)
	}

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; chatd-webreader/1.0)")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetching %s: %s", u, resp.Status)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", u, err)
	}
	content := ExtractText(doc)
	if content == "" {
		content = "No readable content found."
	}
	return map[string]any{"url": u.String(), "content": content}, nil
}

// ExtractText returns the collapsed text of the first article, main or body
// element, capped at 2000 characters.
func ExtractText(doc *html.Node) string {
	for _, tag := range []string{"article", "main", "body"} {
		n := findElement(doc, tag)
		if n == nil {
			continue
		}
		var sb strings.Builder
		collectText(n, &sb)
		text := strings.Join(strings.Fields(sb.String()), " ")
		if text == "" {
			continue
		}
		if r := []rune(text); len(r) > maxPageChars {
			text = string(r[:maxPageChars])
		}
		return text
	}
	return ""
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
