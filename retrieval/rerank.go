package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
)

const (
	rrfK = 60 // standard RRF constant from the literature

	// Below this average out-degree the link graph is too sparse for
	// centrality to mean anything; the reranker then keeps vector order.
	sparseGraphThreshold = 2.0
)

// CalculateCentrality maps out-degrees onto [0, 1], normalized by the
// maximum degree in the input. Monotone in degree; empty input yields
// an empty map.
func CalculateCentrality(degrees map[string]int) map[string]float64 {
	if len(degrees) == 0 {
		return map[string]float64{}
	}
	maxDeg := 0
	for _, d := range degrees {
		if d > maxDeg {
			maxDeg = d
		}
	}
	centrality := make(map[string]float64, len(degrees))
	for title, d := range degrees {
		if maxDeg == 0 {
			centrality[title] = 0
			continue
		}
		centrality[title] = float64(d) / float64(maxDeg)
	}
	return centrality
}

// Rerank orders results by a weighted blend of vector similarity and
// graph centrality. Weights must be non-negative and sum to 1 (±0.001).
func Rerank(results []Result, centrality map[string]float64, vectorWeight, graphWeight float64) ([]Result, error) {
	if vectorWeight < 0 || graphWeight < 0 {
		return nil, fmt.Errorf("retrieval: negative rerank weight")
	}
	if math.Abs(vectorWeight+graphWeight-1) > 0.001 {
		return nil, fmt.Errorf("retrieval: rerank weights sum to %v, want 1", vectorWeight+graphWeight)
	}

	reranked := make([]Result, len(results))
	copy(reranked, results)
	for i := range reranked {
		reranked[i].Score = vectorWeight*reranked[i].Similarity +
			graphWeight*centrality[reranked[i].Title]
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	return reranked, nil
}

// fuseRRF combines the vector ranking (weight 1.0) with a centrality
// ranking (weight 0.5) by reciprocal rank fusion:
// score = sum(weight_i / (k + rank_i)).
func fuseRRF(vectorRanked, centralityRanked []string) []string {
	type fusedEntry struct {
		title string
		score float64
	}
	fused := make(map[string]*fusedEntry)

	add := func(ranking []string, weight float64) {
		for rank, title := range ranking {
			entry, ok := fused[title]
			if !ok {
				entry = &fusedEntry{title: title}
				fused[title] = entry
			}
			entry.score += weight / float64(rrfK+rank+1)
		}
	}
	add(vectorRanked, 1.0)
	add(centralityRanked, 0.5)

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.title
	}
	return out
}

// rerankWithCentrality fuses the vector ranking with graph centrality.
// The fused order is adopted only when the original top result stays in
// the fused top 3; a strong exact match must never be demoted by a
// well-connected but less relevant hub.
func (e *Engine) rerankWithCentrality(ctx context.Context, results []Result) ([]Result, error) {
	if len(results) < 2 {
		return results, nil
	}

	avg, err := e.store.AvgOutDegree(ctx)
	if err != nil {
		return nil, err
	}
	if avg < sparseGraphThreshold {
		return results, nil
	}

	titles := make([]string, len(results))
	for i, r := range results {
		titles[i] = r.Title
	}
	degrees, err := e.store.OutDegrees(ctx, titles)
	if err != nil {
		return nil, err
	}
	centrality := CalculateCentrality(degrees)

	byCentrality := make([]string, len(titles))
	copy(byCentrality, titles)
	sort.SliceStable(byCentrality, func(i, j int) bool {
		return centrality[byCentrality[i]] > centrality[byCentrality[j]]
	})

	fusedOrder := fuseRRF(titles, byCentrality)

	// Guarded adoption.
	top3 := fusedOrder
	if len(top3) > 3 {
		top3 = top3[:3]
	}
	originalTopSurvives := false
	for _, t := range top3 {
		if t == results[0].Title {
			originalTopSurvives = true
			break
		}
	}
	if !originalTopSurvives {
		return results, nil
	}

	byTitle := make(map[string]Result, len(results))
	for _, r := range results {
		byTitle[r.Title] = r
	}
	fused := make([]Result, 0, len(results))
	for _, title := range fusedOrder {
		if r, ok := byTitle[title]; ok {
			fused = append(fused, r)
		}
	}
	return fused, nil
}
