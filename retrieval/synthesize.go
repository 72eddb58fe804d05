package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"knowpack/llm"
)

// maxContextSections bounds how many sections feed synthesis per
// article.
const maxContextSections = 3

const synthesisSystem = `You answer questions using only the provided article excerpts.
Cite article titles inline like [Title]. If the excerpts do not contain the answer, say so.`

// Synthesize produces the final answer for a retrieval context. LLM
// failures fall back to a fixed template listing the sources, so a
// query never fails outright after retrieval succeeded.
func (e *Engine) Synthesize(ctx context.Context, question string, rc *Context) string {
	contextText := e.buildContext(ctx, question, rc)
	return e.synthesize(ctx, question, contextText, sourceTitles(rc.Results), rc.FewShot)
}

func (e *Engine) synthesize(ctx context.Context, question, contextText string, sources []string, examples []Example) string {
	if e.chat == nil || contextText == "" {
		return templateAnswer(question, sources)
	}

	var b strings.Builder
	for _, ex := range examples {
		fmt.Fprintf(&b, "Example question: %s\nExample answer: %s\n\n", ex.Question, ex.Answer)
	}
	fmt.Fprintf(&b, "Excerpts:\n%s\n\nQuestion: %s", contextText, question)

	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: synthesisSystem},
			{Role: "user", Content: b.String()},
		},
		Temperature: 0.2,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		slog.Warn("retrieval: synthesis failed, using template answer", "error", err)
		return templateAnswer(question, sources)
	}
	return resp.Content
}

// buildContext assembles quality-filtered section text for the
// retrieved articles, plus any supporting facts.
func (e *Engine) buildContext(ctx context.Context, question string, rc *Context) string {
	var parts []string
	for _, r := range rc.Results {
		sections, err := e.store.GetSections(ctx, r.Title)
		if err != nil {
			slog.Debug("retrieval: context fetch failed", "title", r.Title, "error", err)
			continue
		}
		contents := make([]string, 0, len(sections))
		for _, sec := range sections {
			contents = append(contents, sec.Content)
		}
		contents = filterSections(contents, question)
		if len(contents) > maxContextSections {
			contents = contents[:maxContextSections]
		}
		if len(contents) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n%s", r.Title, strings.Join(contents, "\n\n")))
	}
	if len(rc.Facts) > 0 {
		parts = append(parts, "## Known facts\n- "+strings.Join(rc.Facts, "\n- "))
	}
	return strings.Join(parts, "\n\n")
}

// templateAnswer is the degraded no-LLM answer: it still names the
// sources so the caller can read them directly.
func templateAnswer(question string, sources []string) string {
	if len(sources) == 0 {
		return fmt.Sprintf("No relevant articles were found for: %s", question)
	}
	return fmt.Sprintf("The most relevant articles for %q are: %s. See these sources for details.",
		question, strings.Join(sources, ", "))
}

func sourceTitles(results []Result) []string {
	titles := make([]string, len(results))
	for i, r := range results {
		titles[i] = r.Title
	}
	return titles
}
