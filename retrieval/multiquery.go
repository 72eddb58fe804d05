package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"knowpack/llm"
)

// paraphraseTimeout bounds the query-expansion LLM call; expansion is
// an optimization and must never stall retrieval.
const paraphraseTimeout = 10 * time.Second

const paraphrasePrompt = `Rewrite the question below as 2 alternative phrasings that keep its meaning.
Respond with a JSON array of exactly 2 strings, nothing else.

Question: `

// multiQueryRetrieve searches with the question plus two LLM paraphrases
// and merges results by title, keeping each title's best similarity.
// Any failure in the paraphrase call falls back silently to the single
// original query.
func (e *Engine) multiQueryRetrieve(ctx context.Context, question string, maxResults int) ([]Result, error) {
	queries := []string{question}
	queries = append(queries, e.paraphrases(ctx, question)...)

	best := make(map[string]Result)
	order := make([]string, 0)
	for _, q := range queries {
		results, err := e.SemanticSearch(ctx, q, maxResults)
		if err != nil {
			if len(best) == 0 {
				return nil, err
			}
			slog.Debug("retrieval: paraphrase search failed", "query", q, "error", err)
			continue
		}
		for _, r := range results {
			prev, ok := best[r.Title]
			if !ok {
				order = append(order, r.Title)
			}
			if !ok || r.Similarity > prev.Similarity {
				best[r.Title] = r
			}
		}
	}

	merged := make([]Result, 0, len(order))
	for _, title := range order {
		merged = append(merged, best[title])
	}
	sortBySimilarity(merged)
	if len(merged) > maxResults {
		merged = merged[:maxResults]
	}
	return merged, nil
}

// paraphrases asks the chat model for two rewordings. Errors, timeouts
// and malformed responses all yield no paraphrases.
func (e *Engine) paraphrases(ctx context.Context, question string) []string {
	if e.chat == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, paraphraseTimeout)
	defer cancel()

	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: paraphrasePrompt + question},
		},
		Temperature:    0.3,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Debug("retrieval: query expansion failed, using single query", "error", err)
		return nil
	}

	var phrases []string
	if err := json.Unmarshal([]byte(resp.Content), &phrases); err != nil {
		slog.Debug("retrieval: query expansion returned malformed JSON", "error", err)
		return nil
	}
	if len(phrases) > 2 {
		phrases = phrases[:2]
	}
	return phrases
}
