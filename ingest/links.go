package ingest

import (
	"context"
	"log/slog"
	"strings"

	"knowpack/store"
)

// namespacePrefixes are Wikipedia namespaces that never become articles.
var namespacePrefixes = []string{
	"wikipedia:", "help:", "template:", "file:", "image:", "category:",
	"portal:", "talk:", "user:", "mediawiki:", "special:", "draft:",
	"module:", "book:", "timedtext:",
}

// ValidLinkTarget filters out link targets that should never enter the
// work queue: namespaced pages, list pages, disambiguation pages, and
// degenerate titles.
func ValidLinkTarget(title string) bool {
	if len(title) < 2 {
		return false
	}
	lower := strings.ToLower(title)
	for _, prefix := range namespacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	if strings.HasPrefix(lower, "list of ") {
		return false
	}
	if strings.Contains(lower, "(disambiguation)") {
		return false
	}
	return true
}

// DiscoverLinks enqueues an article's outgoing links for expansion and
// records LINKS_TO edges. Returns the number of newly discovered
// articles. Depth-limited: links from articles at max_depth go nowhere.
func DiscoverLinks(ctx context.Context, st *store.Store, sourceTitle string, links []string, currentDepth, maxDepth int) (int, error) {
	if currentDepth >= maxDepth {
		return 0, nil
	}

	var candidates []string
	seen := make(map[string]bool, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if !ValidLinkTarget(link) || seen[link] {
			continue
		}
		seen[link] = true
		candidates = append(candidates, link)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	// Two batch reads up front; link lists commonly run to hundreds of
	// entries and per-candidate queries would dominate ingestion time.
	states, err := st.GetArticleStates(ctx, candidates)
	if err != nil {
		return 0, err
	}
	existingEdges, err := st.GetLinkTargets(ctx, sourceTitle)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, target := range candidates {
		if _, exists := states[target]; !exists {
			if err := st.InsertDiscovered(ctx, target, currentDepth+1); err != nil {
				// A racing worker discovered the same title first. The
				// edge below still applies; the loss itself is routine.
				slog.Debug("ingest: lost discovery race", "title", target, "error", err)
			} else {
				inserted++
			}
		}
		if existingEdges[target] {
			continue
		}
		if err := st.InsertLink(ctx, sourceTitle, target, "internal"); err != nil {
			slog.Warn("ingest: link insert failed", "source", sourceTitle, "target", target, "error", err)
		}
	}
	return inserted, nil
}
