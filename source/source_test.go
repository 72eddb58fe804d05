package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestValidateURLSchemes(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{
		"file:///etc/passwd",
		"ftp://example.com/x",
		"gopher://example.com",
	} {
		err := ValidateURL(ctx, raw)
		if err == nil {
			t.Errorf("ValidateURL(%q) = nil, want scheme rejection", raw)
			continue
		}
		if !strings.Contains(err.Error(), "only HTTP(S) URLs are allowed") {
			t.Errorf("ValidateURL(%q) error %q missing scheme message", raw, err)
		}
	}
}

func TestValidateURLBlocksInternalTargets(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		url    string
		wantIP string
	}{
		{"http://127.0.0.1/x", "127.0.0.1"},
		{"http://localhost", "127.0.0.1"},
		{"http://169.254.169.254/latest/meta-data/", "169.254.169.254"},
		{"http://10.0.0.5/internal", "10.0.0.5"},
		{"http://192.168.1.1/admin", "192.168.1.1"},
		{"http://172.16.0.1/", "172.16.0.1"},
	}
	for _, tc := range cases {
		err := ValidateURL(ctx, tc.url)
		if err == nil {
			t.Errorf("ValidateURL(%q) = nil, want rejection", tc.url)
			continue
		}
		// Diagnostics carry both the URL and the offending IP.
		if !strings.Contains(err.Error(), tc.url) {
			t.Errorf("error %q missing URL %q", err, tc.url)
		}
		if !strings.Contains(err.Error(), tc.wantIP) {
			t.Errorf("error %q missing resolved IP %s", err, tc.wantIP)
		}
	}
}

func TestValidateURLMalformedUnicodeHost(t *testing.T) {
	// An invalid punycode label must be rejected before resolution.
	if err := ValidateURL(context.Background(), "http://xn---/x"); err == nil {
		t.Fatal("expected rejection of malformed IDNA hostname")
	}
}

func TestCleanWikitextNestedTemplates(t *testing.T) {
	in := "Alan Turing{{Infobox|name=Turing|birth={{Birth date|1912}}}} was a [[mathematician|pioneer]] of [[computer science]].<ref>Hodges 1983</ref><ref name=x/>"
	got := CleanWikitext(in)
	want := "Alan Turing was a pioneer of computer science."
	if got != want {
		t.Errorf("CleanWikitext:\n got %q\nwant %q", got, want)
	}
}

func TestCleanWikitextFileLinksAndMarkup(t *testing.T) {
	in := "[[File:Turing.jpg|thumb|Alan Turing in [[Cambridge]]]]'''Turing''' proved the ''Entscheidungsproblem'' unsolvable.<br/>"
	got := CleanWikitext(in)
	want := "Turing proved the Entscheidungsproblem unsolvable."
	if got != want {
		t.Errorf("CleanWikitext:\n got %q\nwant %q", got, want)
	}
}

func TestRedirectTarget(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"#REDIRECT [[Alan Turing]]", "Alan Turing"},
		{"  #redirect [[Computer science|CS]]", "Computer science"},
		{"Alan Turing was a mathematician.", ""},
	}
	for _, tc := range cases {
		if got := RedirectTarget(tc.in); got != tc.want {
			t.Errorf("RedirectTarget(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWikipediaParseSections(t *testing.T) {
	w := NewWikipediaSource()
	content := `Alan Turing was a mathematician.

== Early life ==
Turing was born in London.

=== Education ===
He studied at King's College.

== Legacy ==
{{Empty template}}
`
	sections := w.ParseSections(content)
	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3 (empty Legacy dropped): %+v", len(sections), sections)
	}
	if sections[0].Title != "Introduction" || sections[0].Level != 1 {
		t.Errorf("lead = %q level %d", sections[0].Title, sections[0].Level)
	}
	if sections[1].Title != "Early life" || sections[1].Level != 2 {
		t.Errorf("sections[1] = %q level %d", sections[1].Title, sections[1].Level)
	}
	if sections[2].Title != "Education" || sections[2].Level != 3 {
		t.Errorf("sections[2] = %q level %d", sections[2].Title, sections[2].Level)
	}
}

func TestWikipediaGetLinks(t *testing.T) {
	w := NewWikipediaSource()
	content := "[[Alan Turing]] worked on [[cryptanalysis|code breaking]] at [[File:Hut8.jpg]] [[Category:History]] [[Alan Turing]] [[Enigma machine#Design]]"
	links := w.GetLinks(content)
	want := []string{"Alan Turing", "cryptanalysis", "Enigma machine"}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("links[%d] = %q, want %q", i, links[i], want[i])
		}
	}
}

func TestWikipediaFetchArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		switch page {
		case "Alan Turing":
			rw.Write([]byte(`{"parse":{"title":"Alan Turing","wikitext":"Alan Turing was a mathematician.",
				"links":[{"ns":0,"title":"Cryptanalysis","exists":true},{"ns":14,"title":"Category:People","exists":true}],
				"categories":[{"category":"British_mathematicians"}]}}`))
		case "Nope":
			rw.Write([]byte(`{"error":{"code":"missingtitle","info":"The page you specified doesn't exist."}}`))
		default:
			rw.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	w := NewWikipediaSource(
		WithWikipediaAPIURL(srv.URL),
		WithMinDelay(0),
		WithRateLimitDelay(time.Millisecond),
	)
	ctx := context.Background()

	a, err := w.FetchArticle(ctx, "Alan Turing")
	if err != nil {
		t.Fatalf("FetchArticle: %v", err)
	}
	if a.Title != "Alan Turing" || a.SourceType != "wikipedia" {
		t.Errorf("article = %+v", a)
	}
	if len(a.Links) != 1 || a.Links[0] != "Cryptanalysis" {
		t.Errorf("links = %v, want main namespace only", a.Links)
	}
	if len(a.Categories) != 1 || a.Categories[0] != "British mathematicians" {
		t.Errorf("categories = %v", a.Categories)
	}

	if _, err := w.FetchArticle(ctx, "Nope"); !errors.Is(err, ErrArticleNotFound) {
		t.Errorf("missing article: err = %v, want ErrArticleNotFound", err)
	}
}

func TestWikipediaFetchRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.Write([]byte(`{"parse":{"title":"X","wikitext":"body"}}`))
	}))
	defer srv.Close()

	w := NewWikipediaSource(WithWikipediaAPIURL(srv.URL), WithMinDelay(0))
	w.maxRetries = 3
	// Drop the 5xx backoff base for the test.
	done := make(chan struct{})
	go func() {
		defer close(done)
		a, err := w.FetchArticle(context.Background(), "X")
		if err != nil {
			t.Errorf("FetchArticle after retries: %v", err)
			return
		}
		if a.Title != "X" {
			t.Errorf("title = %q", a.Title)
		}
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("retry loop did not finish")
	}
	if calls != 3 {
		t.Errorf("server called %d times, want 3", calls)
	}
}

func TestWebHTMLConversionAndLinks(t *testing.T) {
	html := `<html><head><title>Go Concurrency</title><style>body{}</style></head>
	<body>
	<nav>skip me</nav>
	<h1>Go Concurrency</h1>
	<p>` + strings.Repeat("Goroutines are lightweight threads managed by the runtime. ", 30) + `</p>
	<h2>Channels</h2>
	<p>` + strings.Repeat("Channels connect goroutines. ", 30) + `</p>
	<ul><li>buffered</li><li>unbuffered</li></ul>
	<a href="/patterns">patterns</a>
	<a href="https://other.example.com/away">external</a>
	<a href="#frag">fragment</a>
	<footer>skip me too</footer>
	</body></html>`

	w := NewWebSource()
	a, err := w.htmlArticle("https://example.com/docs/concurrency", []byte(html))
	if err != nil {
		t.Fatalf("htmlArticle: %v", err)
	}
	if a.Title != "Go Concurrency" {
		t.Errorf("title = %q", a.Title)
	}
	if strings.Contains(a.Content, "skip me") {
		t.Error("nav/footer text leaked into content")
	}
	if !strings.Contains(a.Content, "## Channels") {
		t.Error("h2 not converted to markdown heading")
	}
	if !strings.Contains(a.Content, "- buffered") {
		t.Error("list item not converted to bullet")
	}
	if len(a.Links) != 1 || a.Links[0] != "https://example.com/patterns" {
		t.Errorf("links = %v, want same-domain resolved link only", a.Links)
	}
}

func TestWebThinContentRejected(t *testing.T) {
	html := `<html><head><title>Thin</title></head><body><p>Almost nothing here.</p></body></html>`
	w := NewWebSource()
	_, err := w.htmlArticle("https://example.com/thin", []byte(html))
	if !errors.Is(err, ErrThinContent) {
		t.Fatalf("err = %v, want ErrThinContent", err)
	}
}

func TestWebParseSectionsMinLength(t *testing.T) {
	w := NewWebSource()
	long := strings.Repeat("Channels connect goroutines safely. ", 10)
	content := "# Title\n" + long + "\n## Stub\nshort\n## Real\n" + long
	sections := w.ParseSections(content)
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2 (stub dropped): %+v", len(sections), sections)
	}
	if sections[0].Title != "Title" || sections[1].Title != "Real" {
		t.Errorf("sections = %q, %q", sections[0].Title, sections[1].Title)
	}
}

func TestTitleFromURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://example.com/docs/go-concurrency", "go concurrency"},
		{"https://example.com/papers/attention_is_all_you_need.pdf", "attention is all you need"},
		{"https://example.com/", "example.com"},
		{"https://example.com/wiki/Alan%20Turing", "Alan Turing"},
	}
	for _, tc := range cases {
		if got := TitleFromURL(tc.in); got != tc.want {
			t.Errorf("TitleFromURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsURL(t *testing.T) {
	if !IsURL("https://example.com/x") || !IsURL("http://example.com") {
		t.Error("URLs not recognized")
	}
	if IsURL("Alan Turing") {
		t.Error("plain title misread as URL")
	}
}
