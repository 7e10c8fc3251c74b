// Package crawler walks a site breadth-first from a seed URL, staying on the
// seed's host, and extracts SEO issues from each page.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"seopulse/internal/types"
)

// Crawl bounds.
const (
	DefaultMaxPages = 100
	MaxPagesLimit   = 500
	maxBodyBytes    = 2 << 20
	slowResponse    = 3 * time.Second
)

// Page is what the crawler recorded for one URL.
type Page struct {
	URL             string        `json:"url"`
	Status          int           `json:"status"`
	Title           string        `json:"title,omitempty"`
	MetaDescription string        `json:"meta_description,omitempty"`
	H1Count         int           `json:"h1_count"`
	WordCount       int           `json:"word_count"`
	Canonical       string        `json:"canonical,omitempty"`
	NoIndex         bool          `json:"noindex,omitempty"`
	ImagesNoAlt     int           `json:"images_without_alt,omitempty"`
	Links           int           `json:"links"`
	Elapsed         time.Duration `json:"elapsed"`
	Error           string        `json:"error,omitempty"`
}

// Result is the outcome of a crawl. It is partial when Crawl returns an error.
type Result struct {
	Pages  []Page             `json:"pages"`
	Issues []types.CrawlIssue `json:"issues"`
}

// Crawler fetches pages with client. Production callers pass the SSRF-safe
// client from the security package.
type Crawler struct {
	client      *http.Client
	userAgent   string
	pageTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Crawler.
func New(client *http.Client, userAgent string, pageTimeout time.Duration, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	if pageTimeout <= 0 {
		pageTimeout = 10 * time.Second
	}
	return &Crawler{client: client, userAgent: userAgent, pageTimeout: pageTimeout, logger: logger}
}

// Crawl visits at most maxPages same-host pages starting at seed. When ctx
// is canceled it stops and returns the pages seen so far with ctx's error.
func (c *Crawler) Crawl(ctx context.Context, seed string, maxPages int) (*Result, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if maxPages > MaxPagesLimit {
		maxPages = MaxPagesLimit
	}
	start, err := url.Parse(seed)
	if err != nil || start.Host == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidURL, fmt.Sprintf("invalid crawl seed %q", seed), err)
	}
	start.Fragment = ""

	res := &Result{}
	queue := []string{start.String()}
	seen := map[string]bool{start.String(): true}
	referrer := map[string]string{}

	for len(queue) > 0 && len(res.Pages) < maxPages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		target := queue[0]
		queue = queue[1:]

		page, links := c.fetch(ctx, target)
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, ctx.Err()
		}
		res.Pages = append(res.Pages, page)
		res.Issues = append(res.Issues, Inspect(page, referrer[target])...)

		for _, l := range links {
			u, ok := sameHost(start, target, l)
			if !ok || seen[u] {
				continue
			}
			seen[u] = true
			referrer[u] = target
			queue = append(queue, u)
		}
	}
	c.logger.InfoContext(ctx, "crawl finished",
		"seed", seed,
		"pages", len(res.Pages),
		"issues", len(res.Issues),
	)
	return res, nil
}

func (c *Crawler) fetch(ctx context.Context, target string) (Page, []string) {
	page := Page{URL: target}
	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		page.Error = err.Error()
		return page, nil
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html")

	began := time.Now()
	resp, err := c.client.Do(req)
	page.Elapsed = time.Since(began)
	if err != nil {
		page.Error = err.Error()
		return page, nil
	}
	defer resp.Body.Close()
	page.Status = resp.StatusCode
	if resp.StatusCode >= 400 || !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		return page, nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		page.Error = err.Error()
		return page, nil
	}
	return page, extract(doc, &page)
}

// sameHost resolves href against base and keeps it only when it stays on
// the seed's host over http(s).
func sameHost(seed *url.URL, base, href string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	u, err := b.Parse(strings.TrimSpace(href))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	if !strings.EqualFold(u.Hostname(), seed.Hostname()) {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

// extract fills page from the parsed document and returns every href.
func extract(doc *html.Node, page *Page) []string {
	var links []string
	var walk func(n *html.Node, inBody bool)
	walk = func(n *html.Node, inBody bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "body":
				inBody = true
			case "script", "style", "noscript":
				return
			case "title":
				if page.Title == "" && n.FirstChild != nil {
					page.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				name := strings.ToLower(attr(n, "name"))
				switch name {
				case "description":
					page.MetaDescription = strings.TrimSpace(attr(n, "content"))
				case "robots":
					if strings.Contains(strings.ToLower(attr(n, "content")), "noindex") {
						page.NoIndex = true
					}
				}
			case "link":
				if strings.EqualFold(attr(n, "rel"), "canonical") {
					page.Canonical = attr(n, "href")
				}
			case "h1":
				page.H1Count++
			case "img":
				if strings.TrimSpace(attr(n, "alt")) == "" {
					page.ImagesNoAlt++
				}
			case "a":
				if href := attr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
					links = append(links, href)
				}
			}
		}
		if n.Type == html.TextNode && inBody {
			page.WordCount += len(strings.Fields(n.Data))
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child, inBody)
		}
	}
	walk(doc, false)
	page.Links = len(links)
	return links
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
