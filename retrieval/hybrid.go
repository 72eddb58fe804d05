package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// questionPrefixes are conversational lead-ins stripped before title
// matching.
var questionPrefixes = []string{
	"what is the", "what are the", "what is", "what are", "what was", "what were",
	"who is", "who was", "who are", "where is", "where was", "when did", "when was",
	"how does", "how did", "how do", "why does", "why did", "why do",
	"explain the", "explain", "describe the", "describe", "define", "tell me about",
}

// stripQuestionPrefix removes one leading question phrase and trailing
// punctuation, leaving the likely topic.
func stripQuestionPrefix(question string) string {
	q := strings.TrimSpace(strings.ToLower(question))
	q = strings.TrimRight(q, "?.! ")
	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(q, prefix+" ") {
			return strings.TrimSpace(q[len(prefix):])
		}
	}
	return q
}

// directTitleLookup finds articles whose title matches the question
// topic: exact (case-insensitive) first, then substring matches ordered
// shortest-first, at most three. Failures degrade to no matches.
func (e *Engine) directTitleLookup(ctx context.Context, question string) []string {
	topic := stripQuestionPrefix(question)
	if topic == "" {
		return nil
	}

	var titles []string
	if a, err := e.store.FindArticleByTitle(ctx, topic); err == nil {
		titles = append(titles, a.Title)
	}

	contains, err := e.store.FindArticlesByTitleContains(ctx, topic, 3)
	if err != nil {
		slog.Debug("retrieval: title lookup failed", "topic", topic, "error", err)
		return titles
	}
	for _, t := range contains {
		if len(titles) >= 3 {
			break
		}
		if len(titles) == 0 || titles[0] != t {
			titles = append(titles, t)
		}
	}
	return titles
}

// hybridRetrieve combines vector, graph-neighbor and keyword signals
// into one weighted ranking, returning the ranked articles plus up to
// five supporting facts.
func (e *Engine) hybridRetrieve(ctx context.Context, question string, maxResults int) ([]Result, []string, error) {
	scores := make(map[string]float64)
	similarity := make(map[string]Result)

	vector, err := e.SemanticSearch(ctx, question, maxResults)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range vector {
		scores[r.Title] += e.opts.VectorWeight * r.Similarity
		similarity[r.Title] = r
	}

	// Graph signal: neighbors of the strongest vector hits.
	top := vector
	if len(top) > 3 {
		top = top[:3]
	}
	for _, r := range top {
		neighbors, err := e.store.OutgoingNeighbors(ctx, r.Title, 5)
		if err != nil {
			slog.Debug("retrieval: graph signal failed", "title", r.Title, "error", err)
			continue
		}
		for _, n := range neighbors {
			scores[n] += e.opts.GraphWeight * 0.5
		}
	}

	// Keyword signal: title substring match on the longer question words.
	for _, kw := range questionKeywords(question, 3) {
		matches, err := e.store.FindArticlesByTitleContains(ctx, kw, 3)
		if err != nil {
			slog.Debug("retrieval: keyword signal failed", "keyword", kw, "error", err)
			continue
		}
		for _, title := range matches {
			scores[title] += e.opts.KeywordWeight * 0.7
		}
	}

	ranked := make([]Result, 0, len(scores))
	for title, score := range scores {
		r, ok := similarity[title]
		if !ok {
			r = Result{Title: title, Source: "hybrid"}
		}
		r.Score = score
		ranked = append(ranked, r)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}

	titles := make([]string, len(ranked))
	for i, r := range ranked {
		titles[i] = r.Title
	}
	facts, err := e.store.TopFacts(ctx, titles, 5)
	if err != nil {
		slog.Debug("retrieval: fact fetch failed", "error", err)
		facts = nil
	}
	return ranked, facts, nil
}

// questionKeywords picks up to n non-stopword question words longer
// than three characters.
func questionKeywords(question string, n int) []string {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, "?.!,;:'\"()")
		if len(w) <= 3 || stopWords[w] {
			continue
		}
		keywords = append(keywords, w)
		if len(keywords) >= n {
			break
		}
	}
	return keywords
}
