package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Expansion states for the article work queue.
const (
	StateDiscovered = "discovered"
	StateClaimed    = "claimed"
	StateLoaded     = "loaded"
	StateProcessed  = "processed"
	StateFailed     = "failed"
)

// Article represents an article node. Queue fields (state, depth, claim
// and retry bookkeeping) live on the node itself.
type Article struct {
	Title          string `json:"title"`
	Category       string `json:"category"`
	WordCount      int    `json:"word_count"`
	ExpansionState string `json:"expansion_state"`
	ExpansionDepth int    `json:"expansion_depth"`
	ClaimedAt      *int64 `json:"claimed_at,omitempty"`
	ProcessedAt    *int64 `json:"processed_at,omitempty"`
	RetryCount     int    `json:"retry_count"`
	SourceURL      string `json:"source_url"`
	SourceType     string `json:"source_type"`
}

// Section represents a heading-delimited slice of an article.
type Section struct {
	ID           int64  `json:"id"`
	SectionID    string `json:"section_id"`
	ArticleTitle string `json:"article_title"`
	SectionIndex int    `json:"section_index"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Level        int    `json:"level"`
	WordCount    int    `json:"word_count"`
}

// Chunk is a fixed-size overlapping slice of a section's prose.
type Chunk struct {
	ID           int64  `json:"id"`
	ChunkID      string `json:"chunk_id"`
	ArticleTitle string `json:"article_title"`
	SectionIndex int    `json:"section_index"`
	ChunkIndex   int    `json:"chunk_index"`
	Content      string `json:"content"`
}

// Entity is an extracted named thing, globally keyed by lowercased name.
type Entity struct {
	ID          int64  `json:"id"`
	EntityID    string `json:"entity_id"`
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description"`
}

// Fact is an extracted declarative statement owned by one article.
type Fact struct {
	ID           int64  `json:"id"`
	FactID       string `json:"fact_id"`
	ArticleTitle string `json:"article_title"`
	Content      string `json:"content"`
}

// Relation is a directed typed edge between two entities.
type Relation struct {
	ID             int64  `json:"id"`
	SourceEntityID int64  `json:"source_entity_id"`
	TargetEntityID int64  `json:"target_entity_id"`
	Relation       string `json:"relation"`
	Context        string `json:"context"`
}

// SectionHit is a single KNN result from the section vector index.
type SectionHit struct {
	SectionID string  `json:"section_id"`
	Distance  float64 `json:"distance"`
}

// QueueStats is a per-state breakdown of the work queue.
type QueueStats struct {
	Discovered int `json:"discovered"`
	Claimed    int `json:"claimed"`
	Loaded     int `json:"loaded"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// GraphStats summarizes pack contents for the manifest.
type GraphStats struct {
	Articles      int `json:"articles"`
	Sections      int `json:"sections"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Links         int `json:"links"`
}

// Store wraps the SQLite database holding one pack's graph.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// Open opens (or creates) the pack database at path and initialises the
// schema including the vec0 virtual tables. path may be a file or a
// directory; directories get a graph.db file inside.
func Open(path string, embeddingDim int) (*Store, error) {
	return open(path, embeddingDim, false)
}

// OpenReadOnly opens an existing pack database for querying. Concurrent
// readers are permitted; no writes are issued on this connection.
func OpenReadOnly(path string, embeddingDim int) (*Store, error) {
	return open(path, embeddingDim, true)
}

func open(path string, embeddingDim int, readonly bool) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("store: invalid embedding dimension %d", embeddingDim)
	}

	// Packs may ship the store as a directory (opaque storage handle).
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "graph.db")
	}

	if !readonly {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating db directory: %w", err)
			}
		}
	}

	dsn := path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000"
	if readonly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if !readonly {
		if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	// The graph store is single-writer: every mutating call is one
	// auto-commit statement, so writes must not interleave across
	// connections.
	if readonly {
		db.SetMaxOpenConns(4)
	} else {
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, embeddingDim: embeddingDim}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for diagnostic queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Article operations ---

// InsertDiscovered creates a new article node in the discovered state at
// the given depth. Returns sql errors (including PK violations) to the
// caller, which decides whether a lost discovery race matters.
func (s *Store) InsertDiscovered(ctx context.Context, title string, depth int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (title, expansion_state, expansion_depth)
		VALUES (?, 'discovered', ?)
	`, title, depth)
	return err
}

// UpsertArticle fills in (or creates) an article node after ingestion.
// A pre-existing queue stub keeps its expansion_depth; a brand-new row
// (direct ingest outside the queue) is created already loaded.
func (s *Store) UpsertArticle(ctx context.Context, a Article) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (title, category, word_count, expansion_state,
			expansion_depth, processed_at, retry_count, source_url, source_type)
		VALUES (?, ?, ?, 'loaded', ?, ?, 0, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			category = excluded.category,
			word_count = excluded.word_count,
			processed_at = excluded.processed_at,
			source_url = excluded.source_url,
			source_type = excluded.source_type
	`, a.Title, a.Category, a.WordCount, a.ExpansionDepth,
		time.Now().Unix(), a.SourceURL, a.SourceType)
	return err
}

// GetArticle retrieves an article node by exact title.
func (s *Store) GetArticle(ctx context.Context, title string) (*Article, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT title, category, word_count, expansion_state, expansion_depth,
			claimed_at, processed_at, retry_count, source_url, source_type
		FROM articles WHERE title = ?
	`, title)
	return scanArticle(row)
}

// FindArticleByTitle performs a case-insensitive exact title match.
func (s *Store) FindArticleByTitle(ctx context.Context, title string) (*Article, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT title, category, word_count, expansion_state, expansion_depth,
			claimed_at, processed_at, retry_count, source_url, source_type
		FROM articles WHERE lower(title) = lower(?)
	`, title)
	return scanArticle(row)
}

// FindArticlesByTitleContains returns titles containing the query,
// shortest first (most specific match), capped at limit.
func (s *Store) FindArticlesByTitleContains(ctx context.Context, q string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT title FROM articles
		WHERE lower(title) LIKE '%' || lower(?) || '%' AND word_count > 0
		ORDER BY length(title) ASC
		LIMIT ?
	`, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// GetArticleStates batch-fetches expansion_state for the given titles in
// one query. Missing titles are absent from the returned map.
func (s *Store) GetArticleStates(ctx context.Context, titles []string) (map[string]string, error) {
	states := make(map[string]string, len(titles))
	if len(titles) == 0 {
		return states, nil
	}

	// Batch the IN clause to stay under sqlite's parameter limit.
	const batchSize = 500
	for start := 0; start < len(titles); start += batchSize {
		end := start + batchSize
		if end > len(titles) {
			end = len(titles)
		}
		batch := titles[start:end]

		query := "SELECT title, expansion_state FROM articles WHERE title IN (?" +
			strings.Repeat(", ?", len(batch)-1) + ")"
		args := make([]any, len(batch))
		for i, t := range batch {
			args[i] = t
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var title, state string
			if err := rows.Scan(&title, &state); err != nil {
				rows.Close()
				return nil, err
			}
			states[title] = state
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return states, nil
}

// LoadedArticleCount counts articles with actual content.
func (s *Store) LoadedArticleCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM articles WHERE word_count > 0").Scan(&n)
	return n, err
}

func scanArticle(row *sql.Row) (*Article, error) {
	var a Article
	var claimedAt, processedAt sql.NullInt64
	err := row.Scan(&a.Title, &a.Category, &a.WordCount, &a.ExpansionState,
		&a.ExpansionDepth, &claimedAt, &processedAt, &a.RetryCount,
		&a.SourceURL, &a.SourceType)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		a.ClaimedAt = &claimedAt.Int64
	}
	if processedAt.Valid {
		a.ProcessedAt = &processedAt.Int64
	}
	return &a, nil
}

// --- Section operations ---

// DeleteSections removes an article's sections and their embeddings.
// Re-ingest always deletes before inserting so retries cannot collide
// on section_id.
func (s *Store) DeleteSections(ctx context.Context, title string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_sections WHERE section_rowid IN (
				SELECT id FROM sections WHERE article_title = ?
			)`, title); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM sections WHERE article_title = ?", title)
		return err
	})
}

// InsertSection inserts a section node together with its embedding in a
// single combined write.
func (s *Store) InsertSection(ctx context.Context, sec Section, embedding []float32) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sections (section_id, article_title, section_index,
				title, content, level, word_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sec.SectionID, sec.ArticleTitle, sec.SectionIndex,
			sec.Title, sec.Content, sec.Level, sec.WordCount)
		if err != nil {
			return err
		}
		if len(embedding) == 0 {
			return nil
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO vec_sections (section_rowid, embedding) VALUES (?, ?)",
			rowid, serializeFloat32(embedding))
		return err
	})
}

// GetSections returns an article's sections in index order.
func (s *Store) GetSections(ctx context.Context, title string) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section_id, article_title, section_index, title, content, level, word_count
		FROM sections WHERE article_title = ? ORDER BY section_index
	`, title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSections(rows)
}

// GetSection retrieves a single section by its section_id.
func (s *Store) GetSection(ctx context.Context, sectionID string) (*Section, error) {
	var sec Section
	err := s.db.QueryRowContext(ctx, `
		SELECT id, section_id, article_title, section_index, title, content, level, word_count
		FROM sections WHERE section_id = ?
	`, sectionID).Scan(&sec.ID, &sec.SectionID, &sec.ArticleTitle,
		&sec.SectionIndex, &sec.Title, &sec.Content, &sec.Level, &sec.WordCount)
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// LeadSectionEmbedding returns the stored embedding of an article's
// first section, or nil if the article has no embedded sections. Used by
// the semantic-search title fast path.
func (s *Store) LeadSectionEmbedding(ctx context.Context, title string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT v.embedding FROM vec_sections v
		JOIN sections sec ON sec.id = v.section_rowid
		WHERE sec.article_title = ? AND sec.section_index = 0
	`, title).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(blob), nil
}

func scanSections(rows *sql.Rows) ([]Section, error) {
	var sections []Section
	for rows.Next() {
		var sec Section
		if err := rows.Scan(&sec.ID, &sec.SectionID, &sec.ArticleTitle,
			&sec.SectionIndex, &sec.Title, &sec.Content, &sec.Level,
			&sec.WordCount); err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// SectionKNN performs a KNN search over the section vector index.
func (s *Store) SectionKNN(ctx context.Context, queryEmbedding []float32, k int) ([]SectionHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sec.section_id, v.distance
		FROM vec_sections v
		JOIN sections sec ON sec.id = v.section_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SectionHit
	for rows.Next() {
		var h SectionHit
		if err := rows.Scan(&h.SectionID, &h.Distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Chunk operations ---

// DeleteChunks removes an article's chunks and their embeddings.
func (s *Store) DeleteChunks(ctx context.Context, title string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_rowid IN (
				SELECT id FROM chunks WHERE article_title = ?
			)`, title); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM chunks WHERE article_title = ?", title)
		return err
	})
}

// InsertChunk inserts a chunk node together with its embedding.
func (s *Store) InsertChunk(ctx context.Context, c Chunk, embedding []float32) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (chunk_id, article_title, section_index, chunk_index, content)
			VALUES (?, ?, ?, ?, ?)
		`, c.ChunkID, c.ArticleTitle, c.SectionIndex, c.ChunkIndex, c.Content)
		if err != nil {
			return err
		}
		if len(embedding) == 0 {
			return nil
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO vec_chunks (chunk_rowid, embedding) VALUES (?, ?)",
			rowid, serializeFloat32(embedding))
		return err
	})
}

// ChunkCount returns the number of chunks stored for an article.
func (s *Store) ChunkCount(ctx context.Context, title string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE article_title = ?", title).Scan(&n)
	return n, err
}

// --- Category operations ---

// ClearArticleCategories removes an article's category edges, decrementing
// the per-category article counters.
func (s *Store) ClearArticleCategories(ctx context.Context, title string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE categories SET article_count = article_count - 1
			WHERE name IN (SELECT category_name FROM article_categories WHERE article_title = ?)
		`, title); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM article_categories WHERE article_title = ?", title)
		return err
	})
}

// MergeCategory upserts a category node (incrementing its article count)
// and creates the IN_CATEGORY edge.
func (s *Store) MergeCategory(ctx context.Context, title, category string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO categories (name, article_count) VALUES (?, 1)
			ON CONFLICT(name) DO UPDATE SET article_count = article_count + 1
		`, category); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO article_categories (article_title, category_name) VALUES (?, ?)",
			title, category)
		return err
	})
}

// GetArticleCategories returns the category names linked to an article.
func (s *Store) GetArticleCategories(ctx context.Context, title string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT category_name FROM article_categories WHERE article_title = ? ORDER BY category_name",
		title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// --- Entity operations ---

// MergeEntity upserts an entity by its global entity_id, keeping the
// first non-empty description. Returns the entity row ID.
func (s *Store) MergeEntity(ctx context.Context, e Entity) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (entity_id, name, entity_type, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			description = CASE WHEN entities.description = ''
				THEN excluded.description ELSE entities.description END
	`, e.EntityID, e.Name, e.EntityType, e.Description)
	if err != nil {
		return 0, err
	}
	// LastInsertId is meaningless on the conflict path (it reports the
	// connection's previous rowid), so always read the id back.
	var id int64
	row := s.db.QueryRowContext(ctx,
		"SELECT id FROM entities WHERE entity_id = ?", e.EntityID)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// LinkArticleEntity creates a HAS_ENTITY edge.
func (s *Store) LinkArticleEntity(ctx context.Context, title string, entityID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO article_entities (article_title, entity_id) VALUES (?, ?)",
		title, entityID)
	return err
}

// ClearArticleEntities removes an article's HAS_ENTITY edges. Entity
// nodes themselves are shared and stay.
func (s *Store) ClearArticleEntities(ctx context.Context, title string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM article_entities WHERE article_title = ?", title)
	return err
}

// GetEntityByName looks up an entity case-insensitively by name.
func (s *Store) GetEntityByName(ctx context.Context, name string) (*Entity, error) {
	var e Entity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, entity_id, name, entity_type, description
		FROM entities WHERE entity_id = lower(?)
	`, name).Scan(&e.ID, &e.EntityID, &e.Name, &e.EntityType, &e.Description)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntitySourceArticles returns titles of articles that mention the entity.
func (s *Store) GetEntitySourceArticles(ctx context.Context, entityID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT article_title FROM article_entities WHERE entity_id = ? ORDER BY article_title",
		entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// GetArticleEntities returns entities linked to an article.
func (s *Store) GetArticleEntities(ctx context.Context, title string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.entity_id, e.name, e.entity_type, e.description
		FROM entities e
		JOIN article_entities ae ON ae.entity_id = e.id
		WHERE ae.article_title = ?
		ORDER BY e.name
	`, title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.EntityID, &e.Name, &e.EntityType, &e.Description); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// InsertRelation creates an ENTITY_RELATION edge.
func (s *Store) InsertRelation(ctx context.Context, r Relation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_relations (source_entity_id, target_entity_id, relation, context)
		VALUES (?, ?, ?, ?)
	`, r.SourceEntityID, r.TargetEntityID, r.Relation, r.Context)
	return err
}

// AllRelations loads every ENTITY_RELATION edge. The relation graph is
// small enough (thousands of edges) to traverse in memory.
func (s *Store) AllRelations(ctx context.Context) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, source_entity_id, target_entity_id, relation, context FROM entity_relations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.Relation, &r.Context); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// GetEntityName resolves an entity row ID to its display name.
func (s *Store) GetEntityName(ctx context.Context, id int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM entities WHERE id = ?", id).Scan(&name)
	return name, err
}

// --- Fact operations ---

// ClearArticleFacts removes an article's fact nodes.
func (s *Store) ClearArticleFacts(ctx context.Context, title string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM facts WHERE article_title = ?", title)
	return err
}

// InsertFact creates a fact node owned by an article.
func (s *Store) InsertFact(ctx context.Context, f Fact) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO facts (fact_id, article_title, content) VALUES (?, ?, ?)",
		f.FactID, f.ArticleTitle, f.Content)
	return err
}

// GetArticleFacts returns an article's facts in insertion order.
func (s *Store) GetArticleFacts(ctx context.Context, title string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT content FROM facts WHERE article_title = ? ORDER BY id", title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// TopFacts returns up to limit facts across the given article titles.
func (s *Store) TopFacts(ctx context.Context, titles []string, limit int) ([]string, error) {
	if len(titles) == 0 || limit <= 0 {
		return nil, nil
	}
	query := "SELECT content FROM facts WHERE article_title IN (?" +
		strings.Repeat(", ?", len(titles)-1) + ") ORDER BY id LIMIT ?"
	args := make([]any, 0, len(titles)+1)
	for _, t := range titles {
		args = append(args, t)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// --- Link operations ---

// InsertLink creates a LINKS_TO edge; duplicates are ignored.
func (s *Store) InsertLink(ctx context.Context, source, target, linkType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO links (source_title, target_title, link_type) VALUES (?, ?, ?)",
		source, target, linkType)
	return err
}

// GetLinkTargets batch-fetches the existing outgoing edge targets of a
// source article as a set.
func (s *Store) GetLinkTargets(ctx context.Context, source string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT target_title FROM links WHERE source_title = ?", source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	targets := make(map[string]bool)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		targets[t] = true
	}
	return targets, rows.Err()
}

// OutgoingNeighbors returns loaded articles the source links to.
func (s *Store) OutgoingNeighbors(ctx context.Context, source string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.target_title FROM links l
		JOIN articles a ON a.title = l.target_title
		WHERE l.source_title = ? AND a.word_count > 0
		LIMIT ?
	`, source, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// OutDegrees batch-fetches outgoing LINKS_TO degree per title.
func (s *Store) OutDegrees(ctx context.Context, titles []string) (map[string]int, error) {
	degrees := make(map[string]int, len(titles))
	if len(titles) == 0 {
		return degrees, nil
	}
	query := `SELECT source_title, COUNT(*) FROM links WHERE source_title IN (?` +
		strings.Repeat(", ?", len(titles)-1) + `) GROUP BY source_title`
	args := make([]any, len(titles))
	for i, t := range titles {
		args[i] = t
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		degrees[t] = n
	}
	return degrees, rows.Err()
}

// AvgOutDegree returns the mean number of outgoing LINKS_TO edges per
// article. Sparse graphs (below ~2.0) make centrality reranking noise.
func (s *Store) AvgOutDegree(ctx context.Context) (float64, error) {
	var articles, links int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM articles").Scan(&articles); err != nil {
		return 0, err
	}
	if articles == 0 {
		return 0, nil
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM links").Scan(&links); err != nil {
		return 0, err
	}
	return float64(links) / float64(articles), nil
}

// --- Stats ---

// Stats returns pack-level node/edge counts for the manifest.
func (s *Store) Stats(ctx context.Context) (*GraphStats, error) {
	var gs GraphStats
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM articles WHERE word_count > 0", &gs.Articles},
		{"SELECT COUNT(*) FROM sections", &gs.Sections},
		{"SELECT COUNT(*) FROM entities", &gs.Entities},
		{"SELECT COUNT(*) FROM entity_relations", &gs.Relationships},
		{"SELECT COUNT(*) FROM links", &gs.Links},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return &gs, nil
}

// --- helpers ---

// inTx groups a delete-then-insert sequence into one transaction. The
// connection pool is capped at a single writer connection, so these
// never interleave with other writes.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 is the inverse of serializeFloat32.
func deserializeFloat32(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
