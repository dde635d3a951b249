// Package scrape turns a web page into text snippets for the context library.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrInvalidURL = errors.New("invalid url")
	ErrFetch      = errors.New("fetch page failed")
	ErrNoContent  = errors.New("page has no readable text")
)

// Page is the readable part of one web page.
type Page struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Snippets []string `json:"snippets"`
}

// Text joins the snippets with blank lines so headings without terminal
// punctuation stay separate sentences.
func (p *Page) Text() string {
	return strings.Join(p.Snippets, "\n\n")
}

type Options struct {
	Timeout          time.Duration
	MinSnippetLength int
	UserAgent        string
	MaxBodyBytes     int64
	Client           *http.Client
	Logger           *zap.Logger
}

type Scraper struct {
	client    *http.Client
	minLength int
	userAgent string
	maxBody   int64
	logger    *zap.Logger
}

func New(opts Options) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MinSnippetLength <= 0 {
		opts.MinSnippetLength = 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "rfi-copilot/1.0"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scraper{
		client:    client,
		minLength: opts.MinSnippetLength,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
		logger:    opts.Logger,
	}
}

func (s *Scraper) Scrape(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build scrape request failed: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			return nil, fmt.Errorf("%w: content type %q is not html", ErrFetch, mediaType)
		}
	}

	page, err := Parse(io.LimitReader(resp.Body, s.maxBody), u, s.minLength)
	if err != nil {
		return nil, err
	}
	s.logger.Info("page scraped", zap.String("url", page.URL), zap.Int("snippets", len(page.Snippets)))
	return page, nil
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Form:     true,
	atom.Template: true,
}

var blocks = map[atom.Atom]bool{
	atom.P:          true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Td:         true,
	atom.Th:         true,
	atom.Blockquote: true,
	atom.Pre:        true,
	atom.Dt:         true,
	atom.Dd:         true,
	atom.Figcaption: true,
}

// Parse extracts the title and block-level text of an HTML document. A block
// nested in another block is read as part of its outer block.
func Parse(r io.Reader, pageURL *url.URL, minLength int) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html failed: %w", err)
	}

	page := &Page{URL: pageURL.String()}
	seen := make(map[string]struct{})

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Title && page.Title == "" {
				page.Title = collapse(textOf(n))
				return
			}
			if skipped[n.DataAtom] {
				return
			}
			if blocks[n.DataAtom] {
				text := collapse(textOf(n))
				if len([]rune(text)) >= minLength {
					if _, dup := seen[text]; !dup {
						seen[text] = struct{}{}
						page.Snippets = append(page.Snippets, text)
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if page.Title == "" {
		page.Title = pageURL.Host
	}
	if len(page.Snippets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, page.URL)
	}
	return page, nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case n.Type == html.ElementNode && skipped[n.DataAtom]:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
