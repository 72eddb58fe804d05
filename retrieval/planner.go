package retrieval

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"knowpack/cypher"
	"knowpack/llm"
)

// The LLM-Cypher fallback is deprecated: the vector-primary path has
// replaced it, and it stays behind a flag for packs that still carry
// plan-shaped eval baselines. Generated queries are validated, then
// translated onto store lookups; they are never executed as raw query
// text.

const plannerPrompt = `You translate a question into ONE read-only Cypher query over this schema:
(:Article {title, word_count})-[:LINKS_TO]->(:Article)
(:Article)-[:HAS_ENTITY]->(:Entity {name, entity_type})
(:Entity)-[:RELATES_TO {relation}]->(:Entity)
Use only MATCH...RETURN. Variable-length paths must be bounded like [:LINKS_TO*1..2].
Respond with the Cypher query alone, no explanation, no code fences.

Question: `

var (
	reEntityLookup  = regexp.MustCompile(`(?i)\(\s*\w*\s*:\s*Entity\s*\{\s*name\s*:\s*'([^']+)'`)
	reArticleLookup = regexp.MustCompile(`(?i)\(\s*\w*\s*:\s*Article\s*\{\s*title\s*:\s*'([^']+)'`)
)

// planAndExecute asks the LLM for a Cypher plan, validates it, and
// executes the recognized templates through the store. Returns nil when
// the plan is rejected or unrecognized, leaving the vector results in
// place.
func (e *Engine) planAndExecute(ctx context.Context, question string, maxResults int) *Context {
	plan, ok := e.plans.Get(question)
	if !ok {
		generated := e.generatePlan(ctx, question)
		if generated == nil {
			return nil
		}
		plan = *generated
		e.plans.Put(question, plan)
	}

	switch plan.QueryType {
	case "entity_lookup":
		m := reEntityLookup.FindStringSubmatch(plan.Cypher)
		if m == nil {
			return nil
		}
		entity, err := e.store.GetEntityByName(ctx, m[1])
		if err != nil {
			return nil
		}
		articles, err := e.store.GetEntitySourceArticles(ctx, entity.ID)
		if err != nil {
			return nil
		}
		rc := &Context{QueryType: plan.QueryType, CypherQuery: plan.Cypher}
		for i, title := range articles {
			if i >= maxResults {
				break
			}
			rc.Results = append(rc.Results, Result{Title: title, Source: "graph"})
		}
		return rc

	case "article_lookup":
		m := reArticleLookup.FindStringSubmatch(plan.Cypher)
		if m == nil {
			return nil
		}
		a, err := e.store.FindArticleByTitle(ctx, m[1])
		if err != nil {
			return nil
		}
		return &Context{
			QueryType:   plan.QueryType,
			CypherQuery: plan.Cypher,
			Results:     []Result{{Title: a.Title, Similarity: 1.0, Source: "graph"}},
		}
	}
	return nil
}

// generatePlan produces and validates one Cypher plan. Validation
// failures are logged with the sanitized reason, never surfaced.
func (e *Engine) generatePlan(ctx context.Context, question string) *Plan {
	if e.chat == nil {
		return nil
	}

	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: plannerPrompt + question},
		},
		Temperature: 0,
	})
	if err != nil {
		slog.Debug("retrieval: plan generation failed", "error", err)
		return nil
	}

	query := strings.TrimSpace(strings.Trim(resp.Content, "`"))
	if err := cypher.Validate(query); err != nil {
		slog.Warn("retrieval: generated query rejected", "error", err)
		return nil
	}

	plan := &Plan{Cypher: query}
	switch {
	case reEntityLookup.MatchString(query):
		plan.QueryType = "entity_lookup"
	case reArticleLookup.MatchString(query):
		plan.QueryType = "article_lookup"
	default:
		// Validated but not a template we translate; vector results win.
		return nil
	}
	return plan
}
