package store

import "fmt"

// schemaSQL returns the DDL for all node and edge tables. embeddingDim
// controls the vec0 virtual table dimension and must match the embedder.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Article nodes double as the expansion work queue
CREATE TABLE IF NOT EXISTS articles (
    title TEXT PRIMARY KEY,
    category TEXT DEFAULT '',
    word_count INTEGER DEFAULT 0,
    expansion_state TEXT NOT NULL DEFAULT 'discovered',
    expansion_depth INTEGER NOT NULL DEFAULT 0,
    claimed_at INTEGER,    -- unix seconds, non-null iff state is 'claimed'
    processed_at INTEGER,  -- unix seconds
    retry_count INTEGER NOT NULL DEFAULT 0,
    source_url TEXT DEFAULT '',
    source_type TEXT DEFAULT 'wikipedia'
);

-- Section nodes; section_id is "{article_title}#{section_index}"
CREATE TABLE IF NOT EXISTS sections (
    id INTEGER PRIMARY KEY,
    section_id TEXT NOT NULL UNIQUE,
    article_title TEXT NOT NULL REFERENCES articles(title) ON DELETE CASCADE,
    section_index INTEGER NOT NULL,
    title TEXT DEFAULT '',
    content TEXT NOT NULL,
    level INTEGER DEFAULT 2,
    word_count INTEGER DEFAULT 0
);

-- Section embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_sections USING vec0(
    section_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Chunk nodes; chunk_id is "{title}|s{section_index}|c{chunk_index}"
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    chunk_id TEXT NOT NULL UNIQUE,
    article_title TEXT NOT NULL REFERENCES articles(title) ON DELETE CASCADE,
    section_index INTEGER NOT NULL,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Category nodes; article_count is merge-incremented
CREATE TABLE IF NOT EXISTS categories (
    name TEXT PRIMARY KEY,
    article_count INTEGER NOT NULL DEFAULT 0
);

-- IN_CATEGORY edges
CREATE TABLE IF NOT EXISTS article_categories (
    article_title TEXT NOT NULL REFERENCES articles(title) ON DELETE CASCADE,
    category_name TEXT NOT NULL REFERENCES categories(name) ON DELETE CASCADE,
    PRIMARY KEY (article_title, category_name)
);

-- Entity nodes, globally keyed: entity_id = lower(name)
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    entity_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    description TEXT DEFAULT ''
);

-- HAS_ENTITY edges
CREATE TABLE IF NOT EXISTS article_entities (
    article_title TEXT NOT NULL REFERENCES articles(title) ON DELETE CASCADE,
    entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    PRIMARY KEY (article_title, entity_id)
);

-- Fact nodes; the row is also the HAS_FACT edge.
-- fact_id is "{article_title}|fact{index}"
CREATE TABLE IF NOT EXISTS facts (
    id INTEGER PRIMARY KEY,
    fact_id TEXT NOT NULL UNIQUE,
    article_title TEXT NOT NULL REFERENCES articles(title) ON DELETE CASCADE,
    content TEXT NOT NULL
);

-- ENTITY_RELATION edges
CREATE TABLE IF NOT EXISTS entity_relations (
    id INTEGER PRIMARY KEY,
    source_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    target_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    relation TEXT NOT NULL,
    context TEXT DEFAULT ''
);

-- LINKS_TO edges; at most one per (source, target, link_type)
CREATE TABLE IF NOT EXISTS links (
    source_title TEXT NOT NULL,
    target_title TEXT NOT NULL,
    link_type TEXT NOT NULL DEFAULT 'internal',
    PRIMARY KEY (source_title, target_title, link_type)
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_articles_state ON articles(expansion_state, expansion_depth);
CREATE INDEX IF NOT EXISTS idx_sections_article ON sections(article_title, section_index);
CREATE INDEX IF NOT EXISTS idx_chunks_article ON chunks(article_title, section_index, chunk_index);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_facts_article ON facts(article_title);
CREATE INDEX IF NOT EXISTS idx_relations_source ON entity_relations(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_relations_target ON entity_relations(target_entity_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_title);
`, embeddingDim, embeddingDim)
}
