package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

const testDim = 4

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "graph.db"), testDim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testVec(a, b, c, d float32) []float32 {
	return []float32{a, b, c, d}
}

func TestOpenInvalidDim(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "g.db"), 0); err == nil {
		t.Fatal("expected error for zero embedding dimension")
	}
}

func TestOpenDirectoryPath(t *testing.T) {
	// A directory path gets a graph.db file inside it.
	dir := t.TempDir()
	s, err := Open(dir, testDim)
	if err != nil {
		t.Fatalf("Open(dir): %v", err)
	}
	s.Close()

	s2, err := OpenReadOnly(dir, testDim)
	if err != nil {
		t.Fatalf("OpenReadOnly(dir): %v", err)
	}
	s2.Close()
}

func TestInsertDiscoveredAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertDiscovered(ctx, "Alan Turing", 0); err != nil {
		t.Fatalf("InsertDiscovered: %v", err)
	}

	a, err := s.GetArticle(ctx, "Alan Turing")
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if a.ExpansionState != StateDiscovered {
		t.Errorf("state = %q, want %q", a.ExpansionState, StateDiscovered)
	}
	if a.ExpansionDepth != 0 {
		t.Errorf("depth = %d, want 0", a.ExpansionDepth)
	}
	if a.ClaimedAt != nil {
		t.Errorf("claimed_at = %v, want nil", *a.ClaimedAt)
	}

	// Title is the primary key; re-discovery is a constraint violation the
	// caller decides how to handle.
	if err := s.InsertDiscovered(ctx, "Alan Turing", 1); err == nil {
		t.Error("expected PK violation on duplicate discovery")
	}
}

func TestUpsertArticleKeepsQueueDepth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertDiscovered(ctx, "Computer", 2); err != nil {
		t.Fatalf("InsertDiscovered: %v", err)
	}
	err := s.UpsertArticle(ctx, Article{
		Title: "Computer", Category: "science", WordCount: 1200,
		ExpansionDepth: 0, SourceURL: "https://en.wikipedia.org/wiki/Computer",
		SourceType: "wikipedia",
	})
	if err != nil {
		t.Fatalf("UpsertArticle: %v", err)
	}

	a, err := s.GetArticle(ctx, "Computer")
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if a.ExpansionDepth != 2 {
		t.Errorf("depth = %d, want original queue depth 2", a.ExpansionDepth)
	}
	if a.WordCount != 1200 {
		t.Errorf("word_count = %d, want 1200", a.WordCount)
	}
	// Content upsert must not advance the queue state machine.
	if a.ExpansionState != StateDiscovered {
		t.Errorf("state = %q, want %q", a.ExpansionState, StateDiscovered)
	}
}

func TestFindArticleByTitleCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertArticle(ctx, Article{Title: "Machine Learning", WordCount: 500}); err != nil {
		t.Fatalf("UpsertArticle: %v", err)
	}

	a, err := s.FindArticleByTitle(ctx, "machine learning")
	if err != nil {
		t.Fatalf("FindArticleByTitle: %v", err)
	}
	if a.Title != "Machine Learning" {
		t.Errorf("title = %q, want %q", a.Title, "Machine Learning")
	}

	if _, err := s.FindArticleByTitle(ctx, "nonexistent"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("missing article: err = %v, want sql.ErrNoRows", err)
	}
}

func TestFindArticlesByTitleContainsShortestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{
		"History of computing hardware",
		"Computing",
		"Cloud computing",
	} {
		if err := s.UpsertArticle(ctx, Article{Title: title, WordCount: 100}); err != nil {
			t.Fatalf("UpsertArticle(%q): %v", title, err)
		}
	}
	// Stubs without content are excluded.
	if err := s.InsertDiscovered(ctx, "Quantum computing", 1); err != nil {
		t.Fatalf("InsertDiscovered: %v", err)
	}

	titles, err := s.FindArticlesByTitleContains(ctx, "computing", 10)
	if err != nil {
		t.Fatalf("FindArticlesByTitleContains: %v", err)
	}
	want := []string{"Computing", "Cloud computing", "History of computing hardware"}
	if len(titles) != len(want) {
		t.Fatalf("got %d titles %v, want %d", len(titles), titles, len(want))
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("titles[%d] = %q, want %q", i, titles[i], want[i])
		}
	}
}

func TestGetArticleStatesBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertDiscovered(ctx, "A", 0); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertDiscovered(ctx, "B", 1); err != nil {
		t.Fatal(err)
	}

	states, err := s.GetArticleStates(ctx, []string{"A", "B", "Missing"})
	if err != nil {
		t.Fatalf("GetArticleStates: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	if states["A"] != StateDiscovered || states["B"] != StateDiscovered {
		t.Errorf("states = %v", states)
	}
	if _, ok := states["Missing"]; ok {
		t.Error("missing title should be absent from result map")
	}
}

func TestSectionRoundTripAndKNN(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertArticle(ctx, Article{Title: "Go", WordCount: 300}); err != nil {
		t.Fatal(err)
	}
	sections := []struct {
		sec Section
		emb []float32
	}{
		{Section{SectionID: "Go#0", ArticleTitle: "Go", SectionIndex: 0,
			Title: "Introduction", Content: "Go is a language.", Level: 1, WordCount: 4},
			testVec(1, 0, 0, 0)},
		{Section{SectionID: "Go#1", ArticleTitle: "Go", SectionIndex: 1,
			Title: "History", Content: "Designed at Google.", Level: 2, WordCount: 3},
			testVec(0, 1, 0, 0)},
	}
	for _, tc := range sections {
		if err := s.InsertSection(ctx, tc.sec, tc.emb); err != nil {
			t.Fatalf("InsertSection(%q): %v", tc.sec.SectionID, err)
		}
	}

	got, err := s.GetSections(ctx, "Go")
	if err != nil {
		t.Fatalf("GetSections: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sections, want 2", len(got))
	}
	if got[0].SectionID != "Go#0" || got[1].SectionID != "Go#1" {
		t.Errorf("section order: %q, %q", got[0].SectionID, got[1].SectionID)
	}

	hits, err := s.SectionKNN(ctx, testVec(0.9, 0.1, 0, 0), 2)
	if err != nil {
		t.Fatalf("SectionKNN: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].SectionID != "Go#0" {
		t.Errorf("nearest = %q, want Go#0", hits[0].SectionID)
	}
	if hits[0].Distance >= hits[1].Distance {
		t.Errorf("hits not distance-ordered: %v", hits)
	}
}

func TestDeleteSectionsIdempotentReingest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertArticle(ctx, Article{Title: "Go", WordCount: 300}); err != nil {
		t.Fatal(err)
	}
	sec := Section{SectionID: "Go#0", ArticleTitle: "Go", SectionIndex: 0,
		Title: "Introduction", Content: "v1", Level: 1, WordCount: 1}
	if err := s.InsertSection(ctx, sec, testVec(1, 0, 0, 0)); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	// Re-ingest: delete then insert again under the same section_id.
	if err := s.DeleteSections(ctx, "Go"); err != nil {
		t.Fatalf("DeleteSections: %v", err)
	}
	sec.Content = "v2"
	if err := s.InsertSection(ctx, sec, testVec(0, 1, 0, 0)); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	got, err := s.GetSection(ctx, "Go#0")
	if err != nil {
		t.Fatalf("GetSection: %v", err)
	}
	if got.Content != "v2" {
		t.Errorf("content = %q, want v2", got.Content)
	}

	// The old embedding must be gone from the vector index too.
	hits, err := s.SectionKNN(ctx, testVec(1, 0, 0, 0), 5)
	if err != nil {
		t.Fatalf("SectionKNN: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d index entries, want 1", len(hits))
	}
}

func TestLeadSectionEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if emb, err := s.LeadSectionEmbedding(ctx, "Missing"); err != nil || emb != nil {
		t.Fatalf("missing article: emb=%v err=%v, want nil,nil", emb, err)
	}

	if err := s.UpsertArticle(ctx, Article{Title: "Go", WordCount: 10}); err != nil {
		t.Fatal(err)
	}
	want := testVec(0.25, 0.5, 0.75, 1)
	sec := Section{SectionID: "Go#0", ArticleTitle: "Go", SectionIndex: 0,
		Title: "Introduction", Content: "x", Level: 1, WordCount: 1}
	if err := s.InsertSection(ctx, sec, want); err != nil {
		t.Fatal(err)
	}

	got, err := s.LeadSectionEmbedding(ctx, "Go")
	if err != nil {
		t.Fatalf("LeadSectionEmbedding: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("dim = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestChunkLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertArticle(ctx, Article{Title: "Go", WordCount: 10}); err != nil {
		t.Fatal(err)
	}
	c := Chunk{ChunkID: "Go|s0|c0", ArticleTitle: "Go", SectionIndex: 0,
		ChunkIndex: 0, Content: "chunk text"}
	if err := s.InsertChunk(ctx, c, testVec(1, 1, 0, 0)); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}

	n, err := s.ChunkCount(ctx, "Go")
	if err != nil || n != 1 {
		t.Fatalf("ChunkCount = %d, %v; want 1, nil", n, err)
	}

	if err := s.DeleteChunks(ctx, "Go"); err != nil {
		t.Fatalf("DeleteChunks: %v", err)
	}
	if n, _ := s.ChunkCount(ctx, "Go"); n != 0 {
		t.Errorf("ChunkCount after delete = %d, want 0", n)
	}
}

func TestCategoryCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"A", "B"} {
		if err := s.UpsertArticle(ctx, Article{Title: title, WordCount: 10}); err != nil {
			t.Fatal(err)
		}
		if err := s.MergeCategory(ctx, title, "science"); err != nil {
			t.Fatalf("MergeCategory(%q): %v", title, err)
		}
	}

	var count int
	err := s.DB().QueryRowContext(ctx,
		"SELECT article_count FROM categories WHERE name = 'science'").Scan(&count)
	if err != nil || count != 2 {
		t.Fatalf("article_count = %d, %v; want 2", count, err)
	}

	if err := s.ClearArticleCategories(ctx, "A"); err != nil {
		t.Fatalf("ClearArticleCategories: %v", err)
	}
	err = s.DB().QueryRowContext(ctx,
		"SELECT article_count FROM categories WHERE name = 'science'").Scan(&count)
	if err != nil || count != 1 {
		t.Fatalf("article_count after clear = %d, %v; want 1", count, err)
	}

	cats, err := s.GetArticleCategories(ctx, "B")
	if err != nil || len(cats) != 1 || cats[0] != "science" {
		t.Errorf("GetArticleCategories(B) = %v, %v", cats, err)
	}
}

func TestMergeEntityGlobalKeying(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.MergeEntity(ctx, Entity{
		EntityID: "alan turing", Name: "Alan Turing",
		EntityType: "person", Description: "British mathematician",
	})
	if err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}

	// Same entity from another article: same row, first description wins.
	id2, err := s.MergeEntity(ctx, Entity{
		EntityID: "alan turing", Name: "Alan Turing",
		EntityType: "person", Description: "a different description",
	})
	if err != nil {
		t.Fatalf("MergeEntity (second): %v", err)
	}
	if id1 != id2 {
		t.Errorf("merge produced two rows: %d, %d", id1, id2)
	}

	e, err := s.GetEntityByName(ctx, "Alan Turing")
	if err != nil {
		t.Fatalf("GetEntityByName: %v", err)
	}
	if e.Description != "British mathematician" {
		t.Errorf("description = %q, want first non-empty kept", e.Description)
	}

	// Empty first description is filled by a later merge.
	id3, err := s.MergeEntity(ctx, Entity{EntityID: "enigma", Name: "Enigma", EntityType: "artifact"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.MergeEntity(ctx, Entity{
		EntityID: "enigma", Name: "Enigma", EntityType: "artifact",
		Description: "cipher machine",
	}); err != nil {
		t.Fatal(err)
	}
	e, err = s.GetEntityByName(ctx, "ENIGMA")
	if err != nil {
		t.Fatalf("GetEntityByName: %v", err)
	}
	if e.ID != id3 || e.Description != "cipher machine" {
		t.Errorf("entity = %+v, want id %d with backfilled description", e, id3)
	}
}

func TestMergeEntityStableIDAfterOtherInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.MergeEntity(ctx, Entity{
		EntityID: "bletchley park", Name: "Bletchley Park", EntityType: "place",
	})
	if err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}

	// Advance the connection's last-insert rowid with unrelated rows.
	if err := s.UpsertArticle(ctx, Article{Title: "Codebreaking", WordCount: 10}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := s.InsertFact(ctx, Fact{
			FactID:       fmt.Sprintf("Codebreaking|fact%d", i),
			ArticleTitle: "Codebreaking",
			Content:      fmt.Sprintf("fact %d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	// The conflict path must still report the original entity row.
	id2, err := s.MergeEntity(ctx, Entity{
		EntityID: "bletchley park", Name: "Bletchley Park", EntityType: "place",
		Description: "wartime codebreaking site",
	})
	if err != nil {
		t.Fatalf("MergeEntity (second): %v", err)
	}
	if id2 != id1 {
		t.Fatalf("merge of same entity returned different ids: first %d, second %d", id1, id2)
	}

	// The id must be usable for linking: a link made with the second
	// merge's id lands on the one real entity row.
	if err := s.LinkArticleEntity(ctx, "Codebreaking", id2); err != nil {
		t.Fatal(err)
	}
	ents, err := s.GetArticleEntities(ctx, "Codebreaking")
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 || ents[0].Name != "Bletchley Park" {
		t.Errorf("linked entities = %+v, want the merged Bletchley Park row", ents)
	}
}

func TestEntityArticleLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertArticle(ctx, Article{Title: "Alan Turing", WordCount: 100}); err != nil {
		t.Fatal(err)
	}
	id, err := s.MergeEntity(ctx, Entity{EntityID: "enigma", Name: "Enigma", EntityType: "artifact"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.LinkArticleEntity(ctx, "Alan Turing", id); err != nil {
		t.Fatalf("LinkArticleEntity: %v", err)
	}
	// Duplicate link is ignored.
	if err := s.LinkArticleEntity(ctx, "Alan Turing", id); err != nil {
		t.Fatalf("duplicate LinkArticleEntity: %v", err)
	}

	titles, err := s.GetEntitySourceArticles(ctx, id)
	if err != nil || len(titles) != 1 || titles[0] != "Alan Turing" {
		t.Errorf("GetEntitySourceArticles = %v, %v", titles, err)
	}

	entities, err := s.GetArticleEntities(ctx, "Alan Turing")
	if err != nil || len(entities) != 1 || entities[0].Name != "Enigma" {
		t.Errorf("GetArticleEntities = %v, %v", entities, err)
	}

	// Clearing edges keeps the shared entity node.
	if err := s.ClearArticleEntities(ctx, "Alan Turing"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetEntityByName(ctx, "Enigma"); err != nil {
		t.Errorf("entity node removed by edge clear: %v", err)
	}
}

func TestRelations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := s.MergeEntity(ctx, Entity{EntityID: "alan turing", Name: "Alan Turing", EntityType: "person"})
	if err != nil {
		t.Fatal(err)
	}
	dst, err := s.MergeEntity(ctx, Entity{EntityID: "enigma", Name: "Enigma", EntityType: "artifact"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertRelation(ctx, Relation{
		SourceEntityID: src, TargetEntityID: dst,
		Relation: "created", Context: "broke the Enigma cipher",
	}); err != nil {
		t.Fatalf("InsertRelation: %v", err)
	}

	rels, err := s.AllRelations(ctx)
	if err != nil || len(rels) != 1 {
		t.Fatalf("AllRelations = %v, %v; want 1 relation", rels, err)
	}
	if rels[0].Relation != "created" {
		t.Errorf("relation = %q, want created", rels[0].Relation)
	}

	name, err := s.GetEntityName(ctx, dst)
	if err != nil || name != "Enigma" {
		t.Errorf("GetEntityName = %q, %v", name, err)
	}
}

func TestFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"A", "B"} {
		if err := s.UpsertArticle(ctx, Article{Title: title, WordCount: 10}); err != nil {
			t.Fatal(err)
		}
	}
	for i, f := range []Fact{
		{FactID: "A|fact0", ArticleTitle: "A", Content: "fact one"},
		{FactID: "A|fact1", ArticleTitle: "A", Content: "fact two"},
		{FactID: "B|fact0", ArticleTitle: "B", Content: "fact three"},
	} {
		if err := s.InsertFact(ctx, f); err != nil {
			t.Fatalf("InsertFact #%d: %v", i, err)
		}
	}

	facts, err := s.GetArticleFacts(ctx, "A")
	if err != nil || len(facts) != 2 {
		t.Fatalf("GetArticleFacts = %v, %v; want 2", facts, err)
	}
	if facts[0] != "fact one" {
		t.Errorf("facts not in insertion order: %v", facts)
	}

	top, err := s.TopFacts(ctx, []string{"A", "B"}, 2)
	if err != nil || len(top) != 2 {
		t.Fatalf("TopFacts = %v, %v; want 2", top, err)
	}

	if err := s.ClearArticleFacts(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if facts, _ := s.GetArticleFacts(ctx, "A"); len(facts) != 0 {
		t.Errorf("facts after clear = %v, want none", facts)
	}
}

func TestLinksAndDegrees(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertArticle(ctx, Article{Title: "A", WordCount: 10}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertArticle(ctx, Article{Title: "B", WordCount: 10}); err != nil {
		t.Fatal(err)
	}
	// C is a stub with no content yet.
	if err := s.InsertDiscovered(ctx, "C", 1); err != nil {
		t.Fatal(err)
	}

	for _, target := range []string{"B", "C"} {
		if err := s.InsertLink(ctx, "A", target, "internal"); err != nil {
			t.Fatalf("InsertLink(A->%s): %v", target, err)
		}
	}
	// Duplicate edge is ignored, not an error.
	if err := s.InsertLink(ctx, "A", "B", "internal"); err != nil {
		t.Fatalf("duplicate InsertLink: %v", err)
	}

	targets, err := s.GetLinkTargets(ctx, "A")
	if err != nil || len(targets) != 2 || !targets["B"] || !targets["C"] {
		t.Errorf("GetLinkTargets = %v, %v", targets, err)
	}

	// Only loaded neighbors come back.
	neighbors, err := s.OutgoingNeighbors(ctx, "A", 10)
	if err != nil || len(neighbors) != 1 || neighbors[0] != "B" {
		t.Errorf("OutgoingNeighbors = %v, %v; want [B]", neighbors, err)
	}

	degrees, err := s.OutDegrees(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatalf("OutDegrees: %v", err)
	}
	if degrees["A"] != 2 {
		t.Errorf("OutDegrees[A] = %d, want 2", degrees["A"])
	}
	if _, ok := degrees["B"]; ok {
		t.Error("B has no outgoing links and should be absent")
	}

	avg, err := s.AvgOutDegree(ctx)
	if err != nil {
		t.Fatalf("AvgOutDegree: %v", err)
	}
	// 2 links / 3 articles.
	if avg < 0.66 || avg > 0.67 {
		t.Errorf("AvgOutDegree = %v, want 2/3", avg)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertArticle(ctx, Article{Title: "A", WordCount: 10}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertDiscovered(ctx, "Stub", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSection(ctx, Section{
		SectionID: "A#0", ArticleTitle: "A", SectionIndex: 0,
		Title: "Intro", Content: "x", Level: 1, WordCount: 1,
	}, testVec(1, 0, 0, 0)); err != nil {
		t.Fatal(err)
	}

	gs, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	// Stubs without content do not count as articles.
	if gs.Articles != 1 {
		t.Errorf("Articles = %d, want 1", gs.Articles)
	}
	if gs.Sections != 1 {
		t.Errorf("Sections = %d, want 1", gs.Sections)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	in := testVec(-1.5, 0, 3.25, 0.001)
	out := deserializeFloat32(serializeFloat32(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}
