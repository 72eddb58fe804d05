// Package retrieval answers questions over a pack's graph store using
// vector-primary search with optional graph and keyword augmentation.
package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"knowpack/llm"
	"knowpack/store"
)

// Result is one retrieved article candidate.
type Result struct {
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
	Score      float64 `json:"score,omitempty"`
	Source     string  `json:"source,omitempty"` // vector, title, graph, keyword
}

// Context is the assembled retrieval output handed to synthesis.
type Context struct {
	Results     []Result  `json:"results"`
	Facts       []string  `json:"facts,omitempty"`
	QueryType   string    `json:"query_type"`
	CypherQuery string    `json:"cypher_query,omitempty"`
	FewShot     []Example `json:"few_shot,omitempty"`
}

// Options toggles the independently testable retrieval enhancements.
type Options struct {
	MaxResults          int     `json:"max_results"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	EnableMultiQuery    bool    `json:"enable_multi_query"`
	EnableHybrid        bool    `json:"enable_hybrid"`
	EnableReranker      bool    `json:"enable_reranker"`
	EnableMultiDoc      bool    `json:"enable_multidoc"`
	EnableFewShot       bool    `json:"enable_fewshot"`
	EnableLLMCypher     bool    `json:"enable_llm_cypher"`
	VectorWeight        float64 `json:"vector_weight"`
	GraphWeight         float64 `json:"graph_weight"`
	KeywordWeight       float64 `json:"keyword_weight"`
}

// DefaultOptions returns the vector-primary defaults.
func DefaultOptions() Options {
	return Options{
		MaxResults:          10,
		SimilarityThreshold: 0.6,
		EnableHybrid:        true,
		EnableReranker:      true,
		EnableMultiDoc:      true,
		VectorWeight:        0.5,
		GraphWeight:         0.3,
		KeywordWeight:       0.2,
	}
}

// Engine composes the retrieval paths over one opened pack store.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
	chat     llm.Provider
	fewshot  *FewShotManager
	plans    *PlanCache
	opts     Options
}

// NewEngine wires a retrieval engine. chat may equal embedder; fewshot
// may be nil when the pack ships no exemplars.
func NewEngine(st *store.Store, embedder, chat llm.Provider, fewshot *FewShotManager, opts Options) *Engine {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.6
	}
	return &Engine{
		store:    st,
		embedder: embedder,
		chat:     chat,
		fewshot:  fewshot,
		plans:    NewPlanCache(planCacheCapacity),
		opts:     opts,
	}
}

// Retrieve runs the vector-primary path with the configured
// augmentations. Augmentation failures degrade to the primary results
// rather than aborting the query.
func (e *Engine) Retrieve(ctx context.Context, question string, maxResults int) (*Context, error) {
	if maxResults <= 0 {
		maxResults = e.opts.MaxResults
	}

	var primary []Result
	var err error
	if e.opts.EnableMultiQuery {
		primary, err = e.multiQueryRetrieve(ctx, question, maxResults)
	} else {
		primary, err = e.SemanticSearch(ctx, question, maxResults)
	}
	if err != nil {
		return nil, err
	}

	maxSim := 0.0
	if len(primary) > 0 {
		maxSim = primary[0].Similarity
	}

	rc := &Context{Results: primary, QueryType: "vector_search"}

	// Below the confidence threshold the deprecated LLM-Cypher fallback
	// may take over; with it disabled the vector results stand.
	if maxSim < e.opts.SimilarityThreshold && e.opts.EnableLLMCypher {
		if planned := e.planAndExecute(ctx, question, maxResults); planned != nil {
			return planned, nil
		}
	}

	// Direct title lookup: exact and substring matches on a prefix-
	// stripped question jump to the head of the list.
	if titles := e.directTitleLookup(ctx, question); len(titles) > 0 {
		rc.Results = prependTitles(rc.Results, titles)
	}

	if e.opts.EnableHybrid {
		if hybrid, facts, err := e.hybridRetrieve(ctx, question, maxResults); err != nil {
			slog.Debug("retrieval: hybrid augmentation failed", "error", err)
		} else {
			rc.Results = mergeByTitle(rc.Results, hybrid)
			rc.Facts = facts
		}
	}

	if e.opts.EnableReranker {
		if reranked, err := e.rerankWithCentrality(ctx, rc.Results); err != nil {
			slog.Debug("retrieval: rerank failed", "error", err)
		} else {
			rc.Results = reranked
		}
	}

	if len(rc.Results) > maxResults {
		rc.Results = rc.Results[:maxResults]
	}

	if e.opts.EnableMultiDoc {
		rc.Results = e.expandMultiDoc(ctx, rc.Results)
	}

	if e.opts.EnableFewShot && e.fewshot != nil {
		if examples, err := e.fewshot.TopExamples(ctx, question, fewShotCount); err != nil {
			slog.Debug("retrieval: few-shot selection failed", "error", err)
		} else {
			rc.FewShot = examples
		}
	}

	return rc, nil
}

// expandMultiDoc adds up to two outgoing-linked neighbors of the top
// result, capped at seven sources total.
func (e *Engine) expandMultiDoc(ctx context.Context, results []Result) []Result {
	const (
		maxNeighbors = 2
		maxSources   = 7
	)
	if len(results) == 0 || len(results) >= maxSources {
		return results
	}

	neighbors, err := e.store.OutgoingNeighbors(ctx, results[0].Title, maxNeighbors)
	if err != nil {
		slog.Debug("retrieval: multi-doc expansion failed", "title", results[0].Title, "error", err)
		return results
	}

	have := make(map[string]bool, len(results))
	for _, r := range results {
		have[r.Title] = true
	}
	for _, n := range neighbors {
		if len(results) >= maxSources || have[n] {
			continue
		}
		results = append(results, Result{Title: n, Source: "graph"})
		have[n] = true
	}
	return results
}

// prependTitles puts direct title matches first, deduplicating against
// the existing result list.
func prependTitles(results []Result, titles []string) []Result {
	out := make([]Result, 0, len(results)+len(titles))
	seen := make(map[string]bool, len(titles))
	for _, t := range titles {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, Result{Title: t, Similarity: 1.0, Source: "title"})
	}
	for _, r := range results {
		if !seen[r.Title] {
			seen[r.Title] = true
			out = append(out, r)
		}
	}
	return out
}

// mergeByTitle folds hybrid candidates into the primary list, keeping
// the primary entry (and its similarity) when both mention a title.
func mergeByTitle(primary, extra []Result) []Result {
	seen := make(map[string]bool, len(primary))
	for _, r := range primary {
		seen[r.Title] = true
	}
	for _, r := range extra {
		if !seen[r.Title] {
			seen[r.Title] = true
			primary = append(primary, r)
		}
	}
	return primary
}

func sortBySimilarity(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}
