package retrieval

import "strings"

// contentQualityThreshold drops sections whose combined quality score
// falls below it during synthesis context assembly.
const contentQualityThreshold = 0.3

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "did": true, "do": true, "does": true, "for": true,
	"from": true, "had": true, "has": true, "have": true, "how": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "their": true, "this": true,
	"to": true, "was": true, "were": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "why": true, "will": true,
	"with": true,
}

// SectionQuality scores a section's usefulness for answering a question
// in [0, 1]. Stubs under 20 words score zero. The question may be empty
// (bulk fetch), in which case only length matters.
func SectionQuality(content, question string) float64 {
	words := strings.Fields(content)
	if len(words) < 20 {
		return 0
	}

	lengthScore := 0.2 + float64(len(words))/200*0.6
	if lengthScore > 0.8 {
		lengthScore = 0.8
	}
	if question == "" {
		return lengthScore
	}

	queryWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, "?.!,;:'\"()")
		if w != "" && !stopWords[w] {
			queryWords[w] = true
		}
	}
	if len(queryWords) == 0 {
		return lengthScore
	}

	sectionWords := make(map[string]bool, len(words))
	for _, w := range words {
		sectionWords[strings.Trim(strings.ToLower(w), "?.!,;:'\"()")] = true
	}
	overlap := 0
	for w := range queryWords {
		if sectionWords[w] {
			overlap++
		}
	}
	keywordScore := float64(overlap) / float64(len(queryWords))

	score := 0.6*lengthScore + 0.4*keywordScore
	return clamp01(score)
}

// filterSections keeps sections that meet the quality threshold for the
// question. An empty question disables filtering entirely.
func filterSections(contents []string, question string) []string {
	if question == "" {
		return contents
	}
	kept := contents[:0:0]
	for _, c := range contents {
		if SectionQuality(c, question) >= contentQualityThreshold {
			kept = append(kept, c)
		}
	}
	return kept
}
