// Package source fetches article content from external systems and
// normalizes it into sections and links for ingestion.
package source

import (
	"context"
	"errors"
)

// ErrArticleNotFound reports that the requested title or URL does not
// resolve to an article. It is terminal; callers must not retry.
var ErrArticleNotFound = errors.New("source: article not found")

// Article is raw fetched content before section parsing and embedding.
type Article struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Links      []string `json:"links"`
	Categories []string `json:"categories"`
	SourceURL  string   `json:"source_url"`
	SourceType string   `json:"source_type"`
}

// ParsedSection is a heading-delimited slice of article content.
type ParsedSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Level   int    `json:"level"`
}

// Source fetches and parses articles from one kind of origin.
type Source interface {
	// FetchArticle retrieves an article by title or URL. Returns an
	// error wrapping ErrArticleNotFound when the article does not exist.
	FetchArticle(ctx context.Context, titleOrURL string) (*Article, error)
	// ParseSections splits fetched content into heading-delimited sections.
	ParseSections(content string) []ParsedSection
	// GetLinks extracts outgoing link targets from fetched content.
	GetLinks(content string) []string
}
