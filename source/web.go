package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// ErrThinContent reports a page with too little prose to index.
var ErrThinContent = errors.New("source: content below minimum word count")

// WebSource fetches arbitrary web pages and converts them to
// markdown-like prose. PDFs are handled inline.
type WebSource struct {
	client    *http.Client
	userAgent string
	minWords  int
	maxBody   int64
}

// WebOption configures a WebSource.
type WebOption func(*WebSource)

// WithMinWords sets the thin-content rejection threshold.
func WithMinWords(n int) WebOption {
	return func(w *WebSource) { w.minWords = n }
}

// NewWebSource creates a web fetcher. Every request is SSRF-validated
// immediately before it goes out, including redirect hops.
func NewWebSource(opts ...WebOption) *WebSource {
	w := &WebSource{
		userAgent: "knowpack/1.0 (knowledge pack builder)",
		minWords:  200,
		maxBody:   10 << 20,
	}
	w.client = &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("source: too many redirects")
			}
			return ValidateURL(req.Context(), req.URL.String())
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FetchArticle downloads and converts a page. The URL is re-validated
// here even when the caller validated it at submission.
func (w *WebSource) FetchArticle(ctx context.Context, rawURL string) (*Article, error) {
	if err := ValidateURL(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("%w: HTTP %d for %s", ErrArticleNotFound, resp.StatusCode, rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source: HTTP %d fetching %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.maxBody))
	if err != nil {
		return nil, fmt.Errorf("source: reading %s: %w", rawURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(rawURL), ".pdf") {
		return w.pdfArticle(rawURL, body)
	}
	return w.htmlArticle(rawURL, body)
}

func (w *WebSource) htmlArticle(rawURL string, body []byte) (*Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("source: parsing HTML from %s: %w", rawURL, err)
	}

	doc.Find("script, style, nav, footer, header, noscript, iframe").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = TitleFromURL(rawURL)
	}

	content := htmlToProse(doc)
	if countWords(content) < w.minWords {
		return nil, fmt.Errorf("%w: %s has %d words, need %d",
			ErrThinContent, rawURL, countWords(content), w.minWords)
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	links := sameDomainLinks(doc, base)

	return &Article{
		Title:      title,
		Content:    content,
		Links:      links,
		SourceURL:  rawURL,
		SourceType: "web",
	}, nil
}

func (w *WebSource) pdfArticle(rawURL string, body []byte) (*Article, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("source: opening PDF from %s: %w", rawURL, err)
	}

	var buf bytes.Buffer
	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("source: extracting PDF text from %s: %w", rawURL, err)
	}
	if _, err := buf.ReadFrom(plain); err != nil {
		return nil, fmt.Errorf("source: reading PDF text from %s: %w", rawURL, err)
	}

	content := strings.TrimSpace(buf.String())
	if countWords(content) < w.minWords {
		return nil, fmt.Errorf("%w: PDF %s has %d words, need %d",
			ErrThinContent, rawURL, countWords(content), w.minWords)
	}

	return &Article{
		Title:      TitleFromURL(rawURL),
		Content:    content,
		SourceURL:  rawURL,
		SourceType: "web",
	}, nil
}

// htmlToProse walks the document body emitting markdown-ish text:
// headings keep their level, list items become bullets, code blocks
// get fences.
func htmlToProse(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(sel) {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(goquery.NodeName(sel)[1] - '0')
			b.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
		case "li":
			b.WriteString("- " + text + "\n")
		case "pre":
			b.WriteString("```\n" + text + "\n```\n\n")
		case "blockquote":
			b.WriteString("> " + text + "\n\n")
		default:
			b.WriteString(text + "\n\n")
		}
	})
	return strings.TrimSpace(b.String())
}

func sameDomainLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		if !strings.EqualFold(u.Hostname(), base.Hostname()) {
			return
		}
		u.Fragment = ""
		resolved := u.String()
		if !seen[resolved] {
			seen[resolved] = true
			links = append(links, resolved)
		}
	})
	return links
}

var reMarkdownHeading = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// minSectionChars filters out heading stubs with no real prose.
const minSectionChars = 100

// ParseSections splits markdown-converted prose on headings. Sections
// shorter than the character floor are dropped.
func (w *WebSource) ParseSections(content string) []ParsedSection {
	var sections []ParsedSection
	current := ParsedSection{Title: "Introduction", Level: 1}
	var body strings.Builder

	flush := func() {
		text := strings.TrimSpace(body.String())
		if len(text) >= minSectionChars {
			current.Content = text
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		if m := reMarkdownHeading.FindStringSubmatch(line); m != nil {
			flush()
			current = ParsedSection{Title: strings.TrimSpace(m[2]), Level: len(m[1])}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

// GetLinks is a no-op for the web source: links are resolved against the
// page's base URL at fetch time, which the converted prose no longer has.
func (w *WebSource) GetLinks(string) []string {
	return nil
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
