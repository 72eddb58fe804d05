package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// SemanticSearch retrieves the top-k most similar articles for a query.
// A query that names an existing article reuses that article's stored
// lead-section embedding instead of calling the embedder.
func (e *Engine) SemanticSearch(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = e.opts.MaxResults
	}

	embedding, err := e.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	// Over-fetch sections: several hits usually collapse onto the same
	// article.
	hits, err := e.store.SectionKNN(ctx, embedding, topK*3)
	if err != nil {
		return nil, fmt.Errorf("retrieval: section search: %w", err)
	}

	// Aggregate per-article best distance. section_id is "{title}#{idx}".
	best := make(map[string]float64, len(hits))
	order := make([]string, 0, len(hits))
	for _, h := range hits {
		title := h.SectionID
		if i := strings.LastIndex(title, "#"); i >= 0 {
			title = title[:i]
		}
		if d, ok := best[title]; !ok || h.Distance < d {
			if !ok {
				order = append(order, title)
			}
			best[title] = h.Distance
		}
	}

	results := make([]Result, 0, len(order))
	for _, title := range order {
		d := best[title]
		results = append(results, Result{
			Title:      title,
			Distance:   d,
			Similarity: clamp01(1 - d),
			Source:     "vector",
		})
	}
	sortBySimilarity(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// queryEmbedding returns the embedding for a query, preferring the
// stored lead-section embedding when the query is an article title.
func (e *Engine) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if a, err := e.store.FindArticleByTitle(ctx, strings.TrimSpace(query)); err == nil {
		if emb, err := e.store.LeadSectionEmbedding(ctx, a.Title); err == nil && emb != nil {
			return emb, nil
		}
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("retrieval: embedder returned no vector")
	}
	return vectors[0], nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
