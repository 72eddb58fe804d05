package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// WikipediaSource fetches articles through the MediaWiki Action API.
type WikipediaSource struct {
	apiURL     string
	client     *http.Client
	userAgent  string
	minDelay   time.Duration
	rateDelay  time.Duration
	maxRetries int

	mu       sync.Mutex
	lastCall time.Time
}

// WikipediaOption configures a WikipediaSource.
type WikipediaOption func(*WikipediaSource)

// WithWikipediaAPIURL points the source at a different API endpoint
// (another language wiki, or a test server).
func WithWikipediaAPIURL(u string) WikipediaOption {
	return func(w *WikipediaSource) { w.apiURL = u }
}

// WithMinDelay sets the minimum delay between API requests.
func WithMinDelay(d time.Duration) WikipediaOption {
	return func(w *WikipediaSource) { w.minDelay = d }
}

// WithRateLimitDelay sets the backoff base used after a 429 response.
func WithRateLimitDelay(d time.Duration) WikipediaOption {
	return func(w *WikipediaSource) { w.rateDelay = d }
}

// NewWikipediaSource creates a Wikipedia fetcher with polite defaults.
func NewWikipediaSource(opts ...WikipediaOption) *WikipediaSource {
	w := &WikipediaSource{
		apiURL:     "https://en.wikipedia.org/w/api.php",
		client:     &http.Client{Timeout: 30 * time.Second},
		userAgent:  "knowpack/1.0 (knowledge pack builder)",
		minDelay:   100 * time.Millisecond,
		rateDelay:  5 * time.Second,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type parseResponse struct {
	Parse *struct {
		Title    string `json:"title"`
		Wikitext string `json:"wikitext"`
		Links    []struct {
			NS     int    `json:"ns"`
			Title  string `json:"title"`
			Exists bool   `json:"exists"`
		} `json:"links"`
		Categories []struct {
			Category string `json:"category"`
		} `json:"categories"`
	} `json:"parse"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// FetchArticle retrieves an article's wikitext, main-namespace links and
// categories in one API call.
func (w *WikipediaSource) FetchArticle(ctx context.Context, title string) (*Article, error) {
	params := url.Values{
		"action":        {"parse"},
		"page":          {title},
		"prop":          {"wikitext|links|categories"},
		"format":        {"json"},
		"formatversion": {"2"},
		"redirects":     {"0"},
	}

	body, err := w.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var resp parseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("source: decoding wikipedia response: %w", err)
	}
	if resp.Error != nil {
		if resp.Error.Code == "missingtitle" {
			return nil, fmt.Errorf("%w: %q", ErrArticleNotFound, title)
		}
		return nil, fmt.Errorf("source: wikipedia API error %s: %s", resp.Error.Code, resp.Error.Info)
	}
	if resp.Parse == nil {
		return nil, fmt.Errorf("source: wikipedia response for %q has no parse payload", title)
	}

	var links []string
	for _, l := range resp.Parse.Links {
		if l.NS == 0 { // main namespace only
			links = append(links, l.Title)
		}
	}
	categories := make([]string, 0, len(resp.Parse.Categories))
	for _, c := range resp.Parse.Categories {
		categories = append(categories, strings.ReplaceAll(c.Category, "_", " "))
	}

	return &Article{
		Title:      resp.Parse.Title,
		Content:    resp.Parse.Wikitext,
		Links:      links,
		Categories: categories,
		SourceURL:  "https://en.wikipedia.org/wiki/" + url.PathEscape(strings.ReplaceAll(resp.Parse.Title, " ", "_")),
		SourceType: "wikipedia",
	}, nil
}

func (w *WikipediaSource) get(ctx context.Context, params url.Values) ([]byte, error) {
	w.throttle()

	reqURL := w.apiURL + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			// 5xx backs off from 1s; 429 backs off from the configured
			// rate-limit delay.
			base := time.Second
			if lastStatus(lastErr) == http.StatusTooManyRequests {
				base = w.rateDelay
			}
			delay := base * time.Duration(1<<(attempt-1))
			slog.Warn("source: retrying wikipedia request",
				"attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", w.userAgent)

		resp, err := w.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("source: wikipedia request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("source: reading wikipedia response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: HTTP 404", ErrArticleNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = &httpStatusError{status: resp.StatusCode}
			continue
		default:
			return nil, fmt.Errorf("source: wikipedia HTTP %d: %s", resp.StatusCode, string(body))
		}
	}
	return nil, fmt.Errorf("source: wikipedia retries exhausted: %w", lastErr)
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("source: wikipedia HTTP %d", e.status)
}

func lastStatus(err error) int {
	if se, ok := err.(*httpStatusError); ok {
		return se.status
	}
	return 0
}

// throttle enforces the minimum inter-request delay.
func (w *WikipediaSource) throttle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wait := w.minDelay - time.Since(w.lastCall); wait > 0 {
		time.Sleep(wait)
	}
	w.lastCall = time.Now()
}

var (
	reRedirect = regexp.MustCompile(`(?i)^\s*#REDIRECT\s*\[\[([^\]|]+)`)
	reHeading  = regexp.MustCompile(`^(={2,6})\s*(.+?)\s*=+\s*$`)
)

// RedirectTarget returns the redirect destination when the wikitext is a
// redirect page, or "" otherwise.
func RedirectTarget(content string) string {
	if m := reRedirect.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ParseSections splits wikitext into heading-delimited sections. The
// lead section (index 0) carries everything before the first heading.
func (w *WikipediaSource) ParseSections(content string) []ParsedSection {
	var sections []ParsedSection
	current := ParsedSection{Title: "Introduction", Level: 1}
	var body strings.Builder

	flush := func() {
		text := CleanWikitext(body.String())
		if text != "" {
			current.Content = text
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		if m := reHeading.FindStringSubmatch(line); m != nil {
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

// GetLinks extracts main-namespace [[wikilink]] targets from wikitext.
// The API link list is preferred; this covers content fetched elsewhere.
func (w *WikipediaSource) GetLinks(content string) []string {
	matches := reWikiLink.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	var links []string
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		if target == "" || strings.Contains(target, ":") {
			continue // drop namespaced links (File:, Category:, ...)
		}
		if i := strings.IndexByte(target, '#'); i >= 0 {
			target = strings.TrimSpace(target[:i])
		}
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true
		links = append(links, target)
	}
	return links
}

var (
	reTemplate     = regexp.MustCompile(`\{\{[^{}]*\}\}`)
	reRefPair      = regexp.MustCompile(`(?s)<ref[^>/]*>.*?</ref>`)
	reRefSelfClose = regexp.MustCompile(`<ref[^>]*/>`)
	reFileLink     = regexp.MustCompile(`\[\[(?:File|Image):[^\[\]]*(?:\[\[[^\[\]]*\]\][^\[\]]*)*\]\]`)
	rePipedLink    = regexp.MustCompile(`\[\[[^\[\]|]*\|([^\[\]]*)\]\]`)
	reWikiLink     = regexp.MustCompile(`\[\[([^\[\]|]*)(?:\|[^\[\]]*)?\]\]`)
	rePlainLink    = regexp.MustCompile(`\[\[([^\[\]]*)\]\]`)
	reHTMLTag      = regexp.MustCompile(`<[^>]+>`)
	reBoldItalic   = regexp.MustCompile(`'{2,}`)
	reBlankRuns    = regexp.MustCompile(`\n{3,}`)
	reSpaceRuns    = regexp.MustCompile(`[ \t]{2,}`)
)

// CleanWikitext strips wiki markup down to prose. Templates are removed
// innermost-first until a fixed point so nesting unwinds completely.
func CleanWikitext(text string) string {
	for {
		stripped := reTemplate.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = stripped
	}

	text = reRefPair.ReplaceAllString(text, "")
	text = reRefSelfClose.ReplaceAllString(text, "")
	text = reFileLink.ReplaceAllString(text, "")
	text = rePipedLink.ReplaceAllString(text, "$1")
	text = rePlainLink.ReplaceAllString(text, "$1")
	text = reHTMLTag.ReplaceAllString(text, "")
	text = reBoldItalic.ReplaceAllString(text, "")
	text = reSpaceRuns.ReplaceAllString(text, " ")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
