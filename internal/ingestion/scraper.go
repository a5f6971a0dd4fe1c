package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// minScrapedLen is the minimum number of characters a scraped page must yield
// after boilerplate stripping. Pages below this are almost always error pages,
// cookie walls, or JS-rendered shells with no server-side content.
const minScrapedLen = 100

// browserUserAgent is sent on scrape requests. Many sites serve bots an empty
// shell or a 403; a mainstream browser string gets the real page.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// skippedElements are HTML elements whose entire subtree is navigation or
// machinery rather than content.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"iframe":   true,
	"svg":      true,
}

// scrapeURL fetches a page and reduces it to readable text: boilerplate
// elements are dropped, remaining text nodes are joined line-wise, and runs
// of whitespace are collapsed.
func scrapeURL(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	// Cap the body read; a multi-gigabyte response is never a doc page.
	body := io.LimitReader(resp.Body, 8<<20)

	doc, err := html.Parse(body)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	text := extractText(doc)
	if len(text) < minScrapedLen {
		return "", fmt.Errorf("page yielded only %d characters of text (minimum %d) — it may be rendered client-side", len(text), minScrapedLen)
	}

	return text, nil
}

// extractText walks the parse tree collecting text nodes, skipping
// boilerplate subtrees.
func extractText(root *html.Node) string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if line := collapseSpace(n.Data); line != "" {
				lines = append(lines, line)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(lines, "\n")
}

// collapseSpace trims a text node and collapses internal whitespace runs to
// single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
