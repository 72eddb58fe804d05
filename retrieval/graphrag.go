package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"knowpack/llm"
)

// GraphAnswer is the result of the opt-in graph-aware RAG path.
type GraphAnswer struct {
	Answer            string   `json:"answer"`
	Sources           []string `json:"sources"`
	HopsTraversed     int      `json:"hops_traversed"`
	ArticlesConsulted int      `json:"articles_consulted"`
	CypherQueries     []string `json:"cypher_queries"`
}

// maxGraphContextArticles caps the context regardless of caller limits.
const maxGraphContextArticles = 15

const seedPrompt = `Name the 1-3 article titles most central to answering this question.
Respond with a JSON array of strings only.

Question: `

// GraphQuery answers a question by traversing the link graph outward
// from seed articles and synthesizing over their lead sections.
func (e *Engine) GraphQuery(ctx context.Context, question string, maxHops, maxContextArticles int) (*GraphAnswer, error) {
	if maxHops <= 0 {
		maxHops = 2
	}
	if maxContextArticles <= 0 || maxContextArticles > maxGraphContextArticles {
		maxContextArticles = 5
	}

	seeds := e.seedTitles(ctx, question)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("retrieval: no seed articles for graph query")
	}

	answer := &GraphAnswer{HopsTraversed: maxHops}

	// Bounded BFS with a visited set; LINKS_TO cycles are routine.
	visited := make(map[string]bool)
	var articles []string
	for _, seed := range seeds {
		a, err := e.store.FindArticleByTitle(ctx, seed)
		if err != nil {
			continue
		}
		answer.CypherQueries = append(answer.CypherQueries, fmt.Sprintf(
			"MATCH (s:Article)-[:LINKS_TO*1..%d]->(r:Article) WHERE lower(s.title) = lower('%s') AND r.word_count > 0 RETURN DISTINCT r.title LIMIT %d",
			maxHops, a.Title, maxContextArticles))

		if !visited[a.Title] {
			visited[a.Title] = true
			articles = append(articles, a.Title)
		}

		frontier := []string{a.Title}
		for hop := 0; hop < maxHops; hop++ {
			var next []string
			for _, title := range frontier {
				neighbors, err := e.store.OutgoingNeighbors(ctx, title, maxContextArticles)
				if err != nil {
					slog.Debug("retrieval: graph hop failed", "title", title, "error", err)
					continue
				}
				for _, n := range neighbors {
					if visited[n] || len(articles) >= maxGraphContextArticles {
						continue
					}
					visited[n] = true
					articles = append(articles, n)
					next = append(next, n)
				}
			}
			frontier = next
			if len(frontier) == 0 || len(articles) >= maxGraphContextArticles {
				break
			}
		}
	}
	if len(articles) == 0 {
		return nil, fmt.Errorf("retrieval: graph traversal found no articles")
	}

	// Lead sections only; the graph path favors breadth over depth.
	var contextParts []string
	for _, title := range articles {
		sec, err := e.store.GetSection(ctx, title+"#0")
		if err != nil {
			continue
		}
		contextParts = append(contextParts, fmt.Sprintf("## %s\n%s", title, sec.Content))
	}

	answer.Sources = articles
	answer.ArticlesConsulted = len(articles)
	answer.Answer = e.synthesize(ctx, question, strings.Join(contextParts, "\n\n"), articles, nil)
	return answer, nil
}

// seedTitles picks traversal entry points: LLM suggestions when
// available, else capitalized words from the question.
func (e *Engine) seedTitles(ctx context.Context, question string) []string {
	if e.chat != nil {
		resp, err := e.chat.Chat(ctx, llm.ChatRequest{
			Messages:       []llm.Message{{Role: "user", Content: seedPrompt + question}},
			Temperature:    0,
			ResponseFormat: "json_object",
		})
		if err == nil {
			var seeds []string
			if json.Unmarshal([]byte(stripFences(resp.Content)), &seeds) == nil && len(seeds) > 0 {
				if len(seeds) > 3 {
					seeds = seeds[:3]
				}
				return seeds
			}
		}
		slog.Debug("retrieval: seed generation failed, using heuristic")
	}
	return capitalizedWords(question, 3)
}

// capitalizedWords extracts capitalized non-stopword runs as candidate
// titles ("Who influenced Alan Turing" -> "Alan Turing").
func capitalizedWords(question string, limit int) []string {
	var seeds []string
	var run []string

	flush := func() {
		if len(run) > 0 {
			seeds = append(seeds, strings.Join(run, " "))
			run = nil
		}
	}
	for i, w := range strings.Fields(question) {
		trimmed := strings.Trim(w, "?.!,;:'\"()")
		if trimmed == "" {
			flush()
			continue
		}
		first := []rune(trimmed)[0]
		// The leading question word is capitalized by grammar, not by
		// being a name.
		if unicode.IsUpper(first) && !(i == 0 && stopWords[strings.ToLower(trimmed)]) {
			run = append(run, trimmed)
			continue
		}
		flush()
	}
	flush()

	if len(seeds) > limit {
		seeds = seeds[:limit]
	}
	return seeds
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
