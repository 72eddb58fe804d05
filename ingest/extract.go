// Package ingest runs the per-article pipeline: fetch, parse, embed,
// extract, and write into the graph store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"knowpack/llm"
	"knowpack/source"
)

// ExtractedEntity is one named thing the model pulled from an article.
type ExtractedEntity struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// ExtractedRelation is a directed edge between two extracted entities.
type ExtractedRelation struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
	Context  string `json:"context,omitempty"`
}

// ExtractionResult holds everything the LLM extracted from an article.
// The zero value means "nothing extracted" and is always safe to use.
type ExtractionResult struct {
	Entities      []ExtractedEntity   `json:"entities"`
	Relationships []ExtractedRelation `json:"relationships"`
	KeyFacts      []string            `json:"key_facts"`
}

// Empty reports whether extraction produced nothing usable.
func (r ExtractionResult) Empty() bool {
	return len(r.Entities) == 0 && len(r.Relationships) == 0 && len(r.KeyFacts) == 0
}

// Extractor asks an LLM for entities, relationships and key facts.
type Extractor struct {
	provider    llm.Provider
	model       string
	maxSections int
	maxChars    int
}

// NewExtractor creates an extractor using the given chat provider.
func NewExtractor(provider llm.Provider, model string) *Extractor {
	return &Extractor{
		provider:    provider,
		model:       model,
		maxSections: 5,
		maxChars:    8000,
	}
}

// domainKeywords score category strings into a domain hint. Highest
// score wins; zero score means no hint.
var domainKeywords = map[string][]string{
	"history":   {"history", "historical", "war", "century", "ancient", "medieval", "empire", "revolution"},
	"science":   {"science", "physics", "chemistry", "biology", "mathematics", "theory", "research", "scientific"},
	"biography": {"births", "deaths", "people", "biography", "alumni", "scientists", "politicians", "writers"},
	"geography": {"geography", "countries", "cities", "rivers", "mountains", "regions", "territories", "capitals"},
}

var domainHints = map[string]string{
	"history":   "Focus on events, dates, causes and consequences, and the people and states involved.",
	"science":   "Focus on concepts, discoveries, methods, and who developed or proved what.",
	"biography": "Focus on the person's life events, works, affiliations, and relationships to other people.",
	"geography": "Focus on places, locations, containment (city in country), and physical features.",
}

// ClassifyDomain keyword-scores category strings into one of the known
// domains, or "" when nothing matches.
func ClassifyDomain(categories []string) string {
	joined := strings.ToLower(strings.Join(categories, " "))
	best, bestScore := "", 0
	for domain, keywords := range domainKeywords {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(joined, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = domain, score
		}
	}
	return best
}

const extractSystemPrompt = `You extract structured knowledge from encyclopedia articles.
Respond with a single JSON object:
{"entities": [{"name": "...", "type": "person|organization|place|concept|artifact|event", "properties": {}}],
 "relationships": [{"source": "...", "relation": "...", "target": "...", "context": "..."}],
 "key_facts": ["..."]}
Entity names must be canonical (no pronouns). Relations are short verb phrases.
Key facts are standalone declarative sentences. Respond with JSON only.`

// Extract runs LLM extraction over the first maxSections sections. Any
// API or parse failure returns an empty result, never an error:
// extraction is an enrichment step and must not fail ingestion.
func (e *Extractor) Extract(ctx context.Context, title string, sections []source.ParsedSection, categories []string) ExtractionResult {
	if e.provider == nil || len(sections) == 0 {
		return ExtractionResult{}
	}

	prompt := e.buildPrompt(title, sections, categories)

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: extractSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.1,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("ingest: extraction failed", "title", title, "error", err)
		return ExtractionResult{}
	}

	var result ExtractionResult
	if err := json.Unmarshal([]byte(stripCodeFences(resp.Content)), &result); err != nil {
		slog.Warn("ingest: extraction returned unparseable JSON", "title", title, "error", err)
		return ExtractionResult{}
	}

	for i := range result.Relationships {
		result.Relationships[i].Relation = NormalizeRelation(result.Relationships[i].Relation)
	}
	return result
}

func (e *Extractor) buildPrompt(title string, sections []source.ParsedSection, categories []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Article: %s\n\n", title)

	n := len(sections)
	if n > e.maxSections {
		n = e.maxSections
	}
	for _, sec := range sections[:n] {
		fmt.Fprintf(&b, "## %s\n%s\n\n", sec.Title, sec.Content)
	}

	text := b.String()
	if len(text) > e.maxChars {
		text = text[:e.maxChars] + "...[truncated]"
	}

	if domain := ClassifyDomain(categories); domain != "" {
		text += "\n\n" + domainHints[domain]
	}
	return text
}

// stripCodeFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// relationSynonyms maps relation variants onto a small canonical set so
// graph traversal does not fragment across near-identical edge types.
var relationSynonyms = map[string]string{
	"established":      "founded",
	"cofounded":        "founded",
	"co_founded":       "founded",
	"founded_by":       "founded",
	"set_up":           "founded",
	"formed":           "founded",
	"devised":          "invented",
	"conceived":        "invented",
	"pioneered":        "invented",
	"patented":         "invented",
	"found":            "discovered",
	"identified":       "discovered",
	"observed":         "discovered",
	"detected":         "discovered",
	"built":            "developed",
	"designed":         "developed",
	"constructed":      "developed",
	"engineered":       "developed",
	"produced":         "created",
	"made":             "created",
	"composed":         "created",
	"painted":          "created",
	"sculpted":         "created",
	"headed":           "led",
	"commanded":        "led",
	"chaired":          "led",
	"managed":          "led",
	"ruled":            "led",
	"governed":         "led",
	"supervised":       "directed",
	"oversaw":          "directed",
	"wrote":            "authored",
	"co_authored":      "authored",
	"coauthored":       "authored",
	"published":        "authored",
	"shaped":           "influenced",
	"impacted":         "influenced",
	"affected":         "influenced",
	"motivated":        "inspired",
	"member_of":        "part_of",
	"belongs_to":       "part_of",
	"component_of":     "part_of",
	"division_of":      "part_of",
	"subsidiary_of":    "part_of",
	"utilizes":         "uses",
	"employs":          "uses",
	"depends_on":       "requires",
	"needs":            "requires",
	"led_to":           "caused",
	"triggered":        "caused",
	"produced_by":      "caused",
	"sparked":          "caused",
	"resulted":         "resulted_in",
	"culminated_in":    "resulted_in",
	"fought":           "fought_in",
	"served_in":        "fought_in",
	"battled_in":       "fought_in",
	"took_part_in":     "participated_in",
	"involved_in":      "participated_in",
	"competed_in":      "participated_in",
	"native_of":        "born_in",
	"birthplace":       "born_in",
	"passed_away_in":   "died_in",
	"situated_in":      "located_in",
	"based_in":         "located_in",
	"found_in":         "located_in",
	"headquartered_in": "located_in",
	"associated_with":  "related_to",
	"connected_to":     "related_to",
	"linked_to":        "related_to",
}

// NormalizeRelation canonicalizes a relation label: lowercase, spaces
// and hyphens to underscores, then the synonym table. Unknown relations
// pass through after the lexical normalization.
func NormalizeRelation(relation string) string {
	r := strings.ToLower(strings.TrimSpace(relation))
	r = strings.NewReplacer(" ", "_", "-", "_").Replace(r)
	if canonical, ok := relationSynonyms[r]; ok {
		return canonical
	}
	return r
}
