package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"knowpack/chunker"
	"knowpack/llm"
	"knowpack/source"
	"knowpack/store"
)

// Options tunes the per-article pipeline.
type Options struct {
	EnableExtraction bool
	EnableChunking   bool
	MaxCategories    int
}

// Pipeline ingests one article at a time: fetch, parse, embed, extract,
// then a sequence of idempotent graph writes.
type Pipeline struct {
	store     *store.Store
	src       source.Source
	embedder  llm.Provider
	extractor *Extractor
	chunker   *chunker.Chunker
	opts      Options
}

// NewPipeline wires the ingestion pipeline. extractor may be nil when
// extraction is disabled; chunking uses defaults when chunker is nil.
func NewPipeline(st *store.Store, src source.Source, embedder llm.Provider, extractor *Extractor, ch *chunker.Chunker, opts Options) *Pipeline {
	if opts.MaxCategories <= 0 {
		opts.MaxCategories = 3
	}
	if ch == nil {
		ch = chunker.New(chunker.Config{})
	}
	return &Pipeline{
		store:     st,
		src:       src,
		embedder:  embedder,
		extractor: extractor,
		chunker:   ch,
		opts:      opts,
	}
}

// ProcessArticle runs the full pipeline for one title or URL and returns
// the article's outgoing links for discovery. A nil error with no links
// means the article processed successfully but yielded nothing to index
// (empty stubs, dead redirects).
func (p *Pipeline) ProcessArticle(ctx context.Context, titleOrURL, category string, depth int) ([]string, error) {
	article, err := p.src.FetchArticle(ctx, titleOrURL)
	if err != nil {
		return nil, err
	}

	// Wikipedia redirect pages carry no content of their own; follow the
	// target once. A redirect to a missing page is not an error.
	if target := source.RedirectTarget(article.Content); target != "" {
		article, err = p.src.FetchArticle(ctx, target)
		if errors.Is(err, source.ErrArticleNotFound) {
			slog.Debug("ingest: redirect target missing", "from", titleOrURL, "to", target)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("following redirect %q -> %q: %w", titleOrURL, target, err)
		}
	}

	sections := p.src.ParseSections(article.Content)
	if len(sections) == 0 {
		return nil, nil
	}

	// One batch call for all section embeddings.
	texts := make([]string, len(sections))
	wordCount := 0
	for i, sec := range sections {
		texts[i] = sec.Title + "\n" + sec.Content
		wordCount += len(strings.Fields(sec.Content))
	}
	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding sections of %q: %w", article.Title, err)
	}
	if len(embeddings) != len(sections) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d sections", len(embeddings), len(sections))
	}

	// Extraction failures never fail ingestion; Extract returns an empty
	// result instead of an error.
	var extracted ExtractionResult
	if p.opts.EnableExtraction && p.extractor != nil {
		extracted = p.extractor.Extract(ctx, article.Title, sections, article.Categories)
	}

	if err := p.store.UpsertArticle(ctx, store.Article{
		Title:          article.Title,
		Category:       category,
		WordCount:      wordCount,
		ExpansionDepth: depth,
		SourceURL:      article.SourceURL,
		SourceType:     article.SourceType,
	}); err != nil {
		return nil, fmt.Errorf("upserting article %q: %w", article.Title, err)
	}

	// Delete-then-insert keeps retries idempotent without long
	// transactions.
	if err := p.store.DeleteSections(ctx, article.Title); err != nil {
		return nil, fmt.Errorf("clearing sections of %q: %w", article.Title, err)
	}
	for i, sec := range sections {
		err := p.store.InsertSection(ctx, store.Section{
			SectionID:    fmt.Sprintf("%s#%d", article.Title, i),
			ArticleTitle: article.Title,
			SectionIndex: i,
			Title:        sec.Title,
			Content:      sec.Content,
			Level:        sec.Level,
			WordCount:    len(strings.Fields(sec.Content)),
		}, embeddings[i])
		if err != nil {
			return nil, fmt.Errorf("inserting section %d of %q: %w", i, article.Title, err)
		}
	}

	if p.opts.EnableChunking {
		if err := p.insertChunks(ctx, article.Title, sections); err != nil {
			// Chunks refine retrieval granularity; sections already cover
			// the content.
			slog.Debug("ingest: chunking failed", "title", article.Title, "error", err)
		}
	}

	if err := p.applyCategories(ctx, article.Title, article.Categories); err != nil {
		return nil, err
	}

	if !extracted.Empty() {
		if err := p.applyExtraction(ctx, article.Title, extracted); err != nil {
			return nil, err
		}
	}

	return article.Links, nil
}

func (p *Pipeline) insertChunks(ctx context.Context, title string, sections []source.ParsedSection) error {
	if err := p.store.DeleteChunks(ctx, title); err != nil {
		return err
	}

	var chunks []store.Chunk
	var texts []string
	for i, sec := range sections {
		for j, content := range p.chunker.Split(sec.Content) {
			chunks = append(chunks, store.Chunk{
				ChunkID:      fmt.Sprintf("%s|s%d|c%d", title, i, j),
				ArticleTitle: title,
				SectionIndex: i,
				ChunkIndex:   j,
				Content:      content,
			})
			texts = append(texts, content)
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}
	for i, c := range chunks {
		if err := p.store.InsertChunk(ctx, c, embeddings[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) applyCategories(ctx context.Context, title string, categories []string) error {
	if err := p.store.ClearArticleCategories(ctx, title); err != nil {
		return fmt.Errorf("clearing categories of %q: %w", title, err)
	}
	n := len(categories)
	if n > p.opts.MaxCategories {
		n = p.opts.MaxCategories
	}
	for _, cat := range categories[:n] {
		if err := p.store.MergeCategory(ctx, title, cat); err != nil {
			return fmt.Errorf("merging category %q: %w", cat, err)
		}
	}
	return nil
}

func (p *Pipeline) applyExtraction(ctx context.Context, title string, result ExtractionResult) error {
	if err := p.store.ClearArticleEntities(ctx, title); err != nil {
		return fmt.Errorf("clearing entities of %q: %w", title, err)
	}
	if err := p.store.ClearArticleFacts(ctx, title); err != nil {
		return fmt.Errorf("clearing facts of %q: %w", title, err)
	}

	// Entities merge globally by lowercased name so the same real-world
	// thing extracted from two articles lands on one node.
	entityIDs := make(map[string]int64, len(result.Entities))
	for _, e := range result.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		desc := e.Properties["description"]
		id, err := p.store.MergeEntity(ctx, store.Entity{
			EntityID:    strings.ToLower(name),
			Name:        name,
			EntityType:  e.Type,
			Description: desc,
		})
		if err != nil {
			return fmt.Errorf("merging entity %q: %w", name, err)
		}
		entityIDs[strings.ToLower(name)] = id
		if err := p.store.LinkArticleEntity(ctx, title, id); err != nil {
			return fmt.Errorf("linking entity %q: %w", name, err)
		}
	}

	for i, fact := range result.KeyFacts {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		err := p.store.InsertFact(ctx, store.Fact{
			FactID:       fmt.Sprintf("%s|fact%d", title, i),
			ArticleTitle: title,
			Content:      fact,
		})
		if err != nil {
			return fmt.Errorf("inserting fact %d of %q: %w", i, title, err)
		}
	}

	// Relations are only recorded between entities extracted in this same
	// pass; dangling endpoints are dropped.
	for _, rel := range result.Relationships {
		src, ok := entityIDs[strings.ToLower(strings.TrimSpace(rel.Source))]
		if !ok {
			continue
		}
		dst, ok := entityIDs[strings.ToLower(strings.TrimSpace(rel.Target))]
		if !ok {
			continue
		}
		err := p.store.InsertRelation(ctx, store.Relation{
			SourceEntityID: src,
			TargetEntityID: dst,
			Relation:       rel.Relation,
			Context:        rel.Context,
		})
		if err != nil {
			return fmt.Errorf("inserting relation %s-%s: %w", rel.Source, rel.Target, err)
		}
	}
	return nil
}
