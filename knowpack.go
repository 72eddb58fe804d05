// Package knowpack builds, queries, and manages portable knowledge
// packs: self-contained SQLite graph databases with vector search,
// entity graphs, and extracted facts.
package knowpack

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"knowpack/llm"
	"knowpack/pack"
	"knowpack/retrieval"
	"knowpack/store"
)

// Agent is the main entry point for querying a knowledge pack.
type Agent struct {
	cfg      Config
	store    *store.Store
	chat     llm.Provider
	embedder llm.Provider
	engine   *retrieval.Engine
}

// New creates an agent from a config, opening (or creating) the
// underlying pack database and wiring the LLM providers.
func New(cfg Config) (*Agent, error) {
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}

	chat, err := llm.NewProvider(llm.Config(cfg.Chat))
	if err != nil {
		return nil, fmt.Errorf("knowpack: chat provider: %w", err)
	}
	embedder, err := llm.NewProvider(llm.Config(cfg.Embedding))
	if err != nil {
		return nil, fmt.Errorf("knowpack: embedding provider: %w", err)
	}

	dbPath := cfg.resolveDBPath()
	var st *store.Store
	if cfg.ReadOnly {
		st, err = store.OpenReadOnly(dbPath, cfg.EmbeddingDim)
	} else {
		st, err = store.Open(dbPath, cfg.EmbeddingDim)
	}
	if err != nil {
		return nil, fmt.Errorf("knowpack: opening store: %w", err)
	}

	var fewshot *retrieval.FewShotManager
	if cfg.FewShotPath != "" {
		fewshot, err = retrieval.LoadFewShotExamples(embedder, cfg.FewShotPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("knowpack: loading few-shot examples: %w", err)
		}
	}

	slog.Debug("agent ready", "db", dbPath, "read_only", cfg.ReadOnly,
		"chat", cfg.Chat.Model, "embedding", cfg.Embedding.Model)

	return &Agent{
		cfg:      cfg,
		store:    st,
		chat:     chat,
		embedder: embedder,
		engine:   retrieval.NewEngine(st, embedder, chat, fewshot, cfg.Retrieval),
	}, nil
}

// OpenPack opens an installed pack directory for querying. The pack's
// kg_config.json supplies the embedding dimension and retrieval
// settings; cfg supplies the provider endpoints and credentials. The
// database is always opened read-only.
func OpenPack(dir string, cfg Config) (*Agent, error) {
	pc, err := pack.LoadPackConfig(filepath.Join(dir, pack.ConfigFile))
	if err != nil {
		return nil, err
	}

	cfg.DBPath = filepath.Join(dir, pack.DBName)
	cfg.ReadOnly = true
	cfg.EmbeddingDim = pc.EmbeddingDim
	cfg.Retrieval = pc.Retrieval
	if pc.EmbeddingModel != "" {
		cfg.Embedding.Model = pc.EmbeddingModel
	}
	if pc.ChatModel != "" {
		cfg.Chat.Model = pc.ChatModel
	}
	if cfg.FewShotPath == "" {
		fs := filepath.Join(dir, "few_shot_examples.txt")
		if _, err := os.Stat(fs); err == nil {
			cfg.FewShotPath = fs
		}
	}

	return New(cfg)
}

// Close releases the underlying database connection.
func (a *Agent) Close() error {
	return a.store.Close()
}

// Store exposes the underlying graph store for building and diagnostics.
func (a *Agent) Store() *store.Store {
	return a.store
}

// QuerySource is one article behind an answer.
type QuerySource struct {
	Title      string  `json:"title"`
	Content    string  `json:"content,omitempty"`
	Similarity float64 `json:"similarity"`
	Source     string  `json:"source,omitempty"`
}

// QueryResult is a full answer with its supporting evidence.
type QueryResult struct {
	Answer          string         `json:"answer"`
	Sources         []QuerySource  `json:"sources"`
	Entities        []store.Entity `json:"entities,omitempty"`
	Facts           []string       `json:"facts,omitempty"`
	CypherQuery     string         `json:"cypher_query,omitempty"`
	QueryType       string         `json:"query_type"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
}

type queryOptions struct {
	maxResults  int
	useGraphRAG bool
}

// QueryOption customises a single Query call.
type QueryOption func(*queryOptions)

// WithMaxResults caps the number of retrieved articles.
func WithMaxResults(n int) QueryOption {
	return func(o *queryOptions) { o.maxResults = n }
}

// WithGraphRAG routes the question through the graph traversal path
// instead of vector-primary retrieval.
func WithGraphRAG() QueryOption {
	return func(o *queryOptions) { o.useGraphRAG = true }
}

// Query answers a question over the pack: retrieve, then synthesize.
// Returns ErrNoResults when retrieval finds nothing relevant.
func (a *Agent) Query(ctx context.Context, question string, opts ...QueryOption) (*QueryResult, error) {
	qo := queryOptions{maxResults: 10}
	for _, opt := range opts {
		opt(&qo)
	}

	start := time.Now()

	if qo.useGraphRAG {
		ga, err := a.engine.GraphQuery(ctx, question, 2, qo.maxResults)
		if err != nil {
			return nil, err
		}
		res := &QueryResult{
			Answer:    ga.Answer,
			QueryType: "graph_rag",
		}
		if len(ga.CypherQueries) > 0 {
			res.CypherQuery = ga.CypherQueries[0]
		}
		for _, title := range ga.Sources {
			res.Sources = append(res.Sources, QuerySource{Title: title, Source: "graph"})
		}
		a.attachEvidence(ctx, res)
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		return res, nil
	}

	rc, err := a.engine.Retrieve(ctx, question, qo.maxResults)
	if err != nil {
		return nil, err
	}
	if len(rc.Results) == 0 {
		return nil, ErrNoResults
	}

	res := &QueryResult{
		Answer:      a.engine.Synthesize(ctx, question, rc),
		Facts:       rc.Facts,
		CypherQuery: rc.CypherQuery,
		QueryType:   rc.QueryType,
	}
	terms := queryTerms(question)
	for _, r := range rc.Results {
		src := QuerySource{Title: r.Title, Similarity: r.Similarity, Source: r.Source}
		if secs, err := a.store.GetSections(ctx, r.Title); err == nil && len(secs) > 0 {
			// A question-relevant snippet beats the whole lead section.
			src.Content = sourceSnippet(secs[0].Content, terms)
			if src.Content == "" {
				src.Content = secs[0].Content
			}
		}
		res.Sources = append(res.Sources, src)
	}
	a.attachEvidence(ctx, res)
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	return res, nil
}

// attachEvidence collects the entities mentioned by the top source
// articles, deduplicated by entity id.
func (a *Agent) attachEvidence(ctx context.Context, res *QueryResult) {
	const entitySources = 3
	seen := make(map[string]bool)
	for i, src := range res.Sources {
		if i >= entitySources {
			break
		}
		entities, err := a.store.GetArticleEntities(ctx, src.Title)
		if err != nil {
			slog.Debug("entity lookup failed", "title", src.Title, "error", err)
			continue
		}
		for _, e := range entities {
			if !seen[e.EntityID] {
				seen[e.EntityID] = true
				res.Entities = append(res.Entities, e)
			}
		}
	}
}

// SemanticSearch returns the articles nearest the query in embedding
// space, without synthesis.
func (a *Agent) SemanticSearch(ctx context.Context, query string, topK int) ([]retrieval.Result, error) {
	if topK <= 0 {
		topK = 10
	}
	return a.engine.SemanticSearch(ctx, query, topK)
}

// GraphQuery answers a question by traversing the article link graph.
func (a *Agent) GraphQuery(ctx context.Context, question string, maxHops, maxContextArticles int) (*retrieval.GraphAnswer, error) {
	return a.engine.GraphQuery(ctx, question, maxHops, maxContextArticles)
}

// EntityInfo is a resolved entity plus where it came from.
type EntityInfo struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Description    string   `json:"description,omitempty"`
	SourceArticles []string `json:"source_articles,omitempty"`
}

// FindEntity looks up an entity by name (case-insensitive). Returns
// ErrEntityNotFound when the graph has no such entity.
func (a *Agent) FindEntity(ctx context.Context, name string) (*EntityInfo, error) {
	e, err := a.store.GetEntityByName(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("knowpack: entity lookup: %w", err)
	}

	info := &EntityInfo{Name: e.Name, Type: e.EntityType, Description: e.Description}
	info.SourceArticles, err = a.store.GetEntitySourceArticles(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("knowpack: entity sources: %w", err)
	}
	return info, nil
}

// PathSegment is one edge along a relationship path.
type PathSegment struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	Hop      int    `json:"hop"`
}

// FindRelationshipPath finds the shortest chain of entity relations
// connecting two entities, up to maxHops edges. Edges are traversed in
// both directions. Returns ErrNoPath when no chain exists within the
// limit, ErrEntityNotFound when either endpoint is unknown.
func (a *Agent) FindRelationshipPath(ctx context.Context, source, target string, maxHops int) ([]PathSegment, error) {
	if maxHops <= 0 {
		maxHops = 3
	}

	src, err := a.store.GetEntityByName(ctx, source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("knowpack: entity lookup: %w", err)
	}
	tgt, err := a.store.GetEntityByName(ctx, target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("knowpack: entity lookup: %w", err)
	}
	if src.ID == tgt.ID {
		return nil, nil
	}

	relations, err := a.store.AllRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("knowpack: loading relations: %w", err)
	}

	// Undirected adjacency; the edge keeps its stored direction for
	// reporting.
	adj := make(map[int64][]store.Relation)
	for _, r := range relations {
		adj[r.SourceEntityID] = append(adj[r.SourceEntityID], r)
		adj[r.TargetEntityID] = append(adj[r.TargetEntityID], r)
	}

	type visit struct {
		id   int64
		path []store.Relation
	}
	visited := map[int64]bool{src.ID: true}
	queue := []visit{{id: src.ID}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= maxHops {
			continue
		}
		for _, edge := range adj[cur.id] {
			next := edge.TargetEntityID
			if next == cur.id {
				next = edge.SourceEntityID
			}
			if visited[next] {
				continue
			}
			path := append(append([]store.Relation{}, cur.path...), edge)
			if next == tgt.ID {
				return a.describePath(ctx, path)
			}
			visited[next] = true
			queue = append(queue, visit{id: next, path: path})
		}
	}
	return nil, ErrNoPath
}

func (a *Agent) describePath(ctx context.Context, path []store.Relation) ([]PathSegment, error) {
	names := make(map[int64]string)
	lookup := func(id int64) string {
		if name, ok := names[id]; ok {
			return name
		}
		name, err := a.store.GetEntityName(ctx, id)
		if err != nil {
			name = fmt.Sprintf("entity-%d", id)
		}
		names[id] = name
		return name
	}

	segments := make([]PathSegment, 0, len(path))
	for i, edge := range path {
		segments = append(segments, PathSegment{
			Source:   lookup(edge.SourceEntityID),
			Target:   lookup(edge.TargetEntityID),
			Relation: edge.Relation,
			Hop:      i + 1,
		})
	}
	return segments, nil
}

// GetEntityFacts returns the facts behind a name: facts of the article
// with that title if one exists, otherwise the union of facts from
// every article mentioning the entity.
func (a *Agent) GetEntityFacts(ctx context.Context, name string) ([]string, error) {
	if article, err := a.store.FindArticleByTitle(ctx, name); err == nil {
		return a.store.GetArticleFacts(ctx, article.Title)
	}

	e, err := a.store.GetEntityByName(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("knowpack: entity lookup: %w", err)
	}

	titles, err := a.store.GetEntitySourceArticles(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("knowpack: entity sources: %w", err)
	}

	var facts []string
	seen := make(map[string]bool)
	for _, title := range titles {
		fs, err := a.store.GetArticleFacts(ctx, title)
		if err != nil {
			continue
		}
		for _, f := range fs {
			if !seen[f] {
				seen[f] = true
				facts = append(facts, f)
			}
		}
	}
	return facts, nil
}

// Stats reports node and edge counts for the opened pack.
func (a *Agent) Stats(ctx context.Context) (*store.GraphStats, error) {
	return a.store.Stats(ctx)
}
