package source

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
)

// IsURL reports whether the string should be fetched as a web URL
// rather than resolved as a Wikipedia title.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// TitleFromURL derives a human-readable article title from a URL: the
// last path segment with separators turned into spaces, falling back to
// the hostname for bare roots.
func TitleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	seg := path.Base(strings.TrimSuffix(u.Path, "/"))
	seg = strings.TrimSuffix(seg, path.Ext(seg))
	if seg == "" || seg == "." || seg == "/" {
		return u.Hostname()
	}

	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	seg = strings.NewReplacer("-", " ", "_", " ").Replace(seg)
	return strings.TrimSpace(seg)
}

// ReadURLList reads a line-oriented URL seed file. Blank lines and
// #-comments are skipped; any remaining line must be an HTTP(S) URL.
func ReadURLList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: opening url list: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		s := strings.TrimSpace(scanner.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if !IsURL(s) {
			return nil, fmt.Errorf("source: url list line %d: %q is not an HTTP(S) URL", line, s)
		}
		urls = append(urls, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("source: reading url list: %w", err)
	}
	return urls, nil
}
