package knowpack

import (
	"strings"
	"unicode"
)

// snippetMaxLen caps how much of a section surfaces as a source snippet.
const snippetMaxLen = 300

// sourceSnippet picks the stretch of content most relevant to the given
// question terms. Every window of one or two consecutive sentences is
// scored by term overlap and the highest-scoring window that fits under
// snippetMaxLen wins. Returns "" when nothing overlaps.
func sourceSnippet(content string, terms map[string]bool) string {
	if content == "" || len(terms) == 0 {
		return ""
	}
	sentences := splitSentences(content)
	scores := make([]int, len(sentences))
	for i, s := range sentences {
		for w := range queryTerms(s) {
			if terms[w] {
				scores[i]++
			}
		}
	}

	best, bestScore := "", 0
	for i := range sentences {
		if scores[i] > bestScore && len(sentences[i]) <= snippetMaxLen {
			best, bestScore = sentences[i], scores[i]
		}
		if i+1 == len(sentences) {
			continue
		}
		// A pair must beat the single on both sides, so a lone match
		// never drags in a dead neighbour.
		if scores[i] == 0 || scores[i+1] == 0 {
			continue
		}
		pair := sentences[i] + " " + sentences[i+1]
		if s := scores[i] + scores[i+1]; s > bestScore && len(pair) <= snippetMaxLen {
			best, bestScore = pair, s
		}
	}
	if best != "" {
		return best
	}

	// Every matching sentence overruns the cap; fall back to the
	// strongest one, clipped at a word boundary.
	idx, max := -1, 0
	for i, sc := range scores {
		if sc > max {
			idx, max = i, sc
		}
	}
	if idx < 0 {
		return ""
	}
	return clipWords(sentences[idx], snippetMaxLen)
}

// queryTerms reduces text to its content-bearing words: lowercased,
// four characters or longer, stop words removed.
func queryTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), notAlnum) {
		if len(w) >= 4 && !snippetStopWords[w] {
			terms[w] = true
		}
	}
	return terms
}

func notAlnum(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// splitSentences cuts text at sentence terminators followed by
// whitespace or end of input.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '?', '!':
		default:
			continue
		}
		if i+1 < len(text) {
			switch text[i+1] {
			case ' ', '\n', '\t':
			default:
				continue
			}
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func clipWords(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndexByte(s[:max], ' ')
	if cut <= 0 {
		cut = max
	}
	return strings.TrimSpace(s[:cut])
}

var snippetStopWords = func() map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(`
		that this with from have been were they their will would could
		should about which there these those then than them what when
		where your more some such only also very just into over each
		does most after before other being same both between`) {
		set[w] = true
	}
	return set
}()
