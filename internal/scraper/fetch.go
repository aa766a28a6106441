// Package scraper extracts contract intel (name, description, codebase,
// address) from protocol documentation pages.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"scanasha/internal/logging"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

const userAgent = "Mozilla/5.0 (compatible; scanasha-intel/1.0)"

// ErrPrivateHost is returned when a documentation URL resolves to a
// loopback, link-local, private or unspecified address.
var ErrPrivateHost = errors.New("documentation host resolves to a non-public address")

// Renderer produces the post-JavaScript HTML of a page.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Page is the readable text of a fetched document.
type Page struct {
	URL       string
	Title     string
	Text      string
	Rendered  bool
	Truncated bool
}

// FetchOptions tunes a Fetcher; zero values take defaults.
type FetchOptions struct {
	MaxBytes     int
	MaxChars     int
	Timeout      time.Duration
	MinTextChars int
	// AllowPrivateHosts lifts the public-address restriction for local
	// development against docs served on localhost or a LAN.
	AllowPrivateHosts bool
}

// Fetcher downloads documentation and reduces it to markdown-ish text.
type Fetcher struct {
	client   *http.Client
	renderer Renderer
	opts     FetchOptions
}

// NewFetcher creates a fetcher. renderer may be nil.
func NewFetcher(opts FetchOptions, renderer Renderer) *Fetcher {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 2 << 20
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 50000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Fetcher{
		client:   newHTTPClient(opts),
		renderer: renderer,
		opts:     opts,
	}
}

func newHTTPClient(opts FetchOptions) *http.Client {
	if opts.AllowPrivateHosts {
		return &http.Client{Timeout: opts.Timeout}
	}
	// The check runs on the resolved address of every dial, redirects
	// included. Proxies are disabled so the dialed address is the target.
	dialer := &net.Dialer{
		Timeout: 30 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip == nil || !isPublicIP(ip) {
				return fmt.Errorf("%w: %s", ErrPrivateHost, host)
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: opts.Timeout, Transport: transport}
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsMulticast())
}

// checkPublicHost resolves the host of rawURL and fails when any of its
// addresses is non-public.
func checkPublicHost(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, u.Hostname())
	if err != nil {
		return fmt.Errorf("resolve %s: %w", u.Hostname(), err)
	}
	for _, a := range addrs {
		if !isPublicIP(a.IP) {
			return fmt.Errorf("%w: %s", ErrPrivateHost, a.IP)
		}
	}
	return nil
}

// Fetch downloads url. Pages whose text is shorter than MinTextChars are
// re-rendered in a browser when a renderer is configured.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Page, error) {
	logging.ScraperDebug("fetch: url=%s max_chars=%d", url, f.opts.MaxChars)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/markdown,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.opts.MaxBytes)))
	if err != nil {
		return Page{}, fmt.Errorf("failed to read response: %w", err)
	}

	page := Page{URL: url}
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		page.Text = string(body)
	} else {
		page.Title, page.Text, err = HTMLToText(string(body))
		if err != nil {
			return Page{}, fmt.Errorf("failed to convert html: %w", err)
		}
		if f.renderer != nil && len(page.Text) < f.opts.MinTextChars {
			f.render(ctx, &page)
		}
	}

	page.Text, page.Truncated = truncate(page.Text, f.opts.MaxChars)
	logging.Scraper("fetched %s (%d chars, rendered=%v)", url, len(page.Text), page.Rendered)
	return page, nil
}

// render replaces the page text with the browser-rendered version when it is longer.
func (f *Fetcher) render(ctx context.Context, page *Page) {
	// The browser dials on its own, so the host is checked again here.
	if !f.opts.AllowPrivateHosts {
		if err := checkPublicHost(ctx, page.URL); err != nil {
			logging.ScraperWarn("skipping browser render of %s: %v", page.URL, err)
			return
		}
	}
	rendered, err := f.renderer.Render(ctx, page.URL)
	if err != nil {
		logging.ScraperWarn("browser render of %s failed, keeping static text: %v", page.URL, err)
		return
	}
	title, text, err := HTMLToText(rendered)
	if err != nil || len(text) <= len(page.Text) {
		return
	}
	page.Text = text
	if title != "" {
		page.Title = title
	}
	page.Rendered = true
}

func truncate(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n[...truncated...]", true
}

// HTMLToText converts HTML into compact markdown-like text and returns the title.
func HTMLToText(content string) (title, text string, err error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", "", err
	}
	var sb strings.Builder
	extractText(doc, &sb, &title, 0)
	return strings.TrimSpace(title), cleanText(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, title *string, depth int) {
	if depth > 80 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "template":
			return
		case "title":
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				*title = n.FirstChild.Data
			}
			return
		case "h1":
			sb.WriteString("\n\n# ")
		case "h2":
			sb.WriteString("\n\n## ")
		case "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n### ")
		case "p", "div", "section", "article", "table", "tr":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "code":
			sb.WriteString("`")
		case "pre":
			sb.WriteString("\n\n```\n")
		case "a":
			if href := attr(n, "href"); strings.HasPrefix(href, "http") {
				defer fmt.Fprintf(sb, " (%s) ", href)
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, title, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
		case "code":
			sb.WriteString("`")
		case "pre":
			sb.WriteString("\n```\n\n")
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
