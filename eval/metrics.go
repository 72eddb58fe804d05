// Package eval benchmarks an answering agent against a pack's eval
// questions and writes score reports the manifest can carry.
package eval

import (
	"regexp"
	"strings"
	"unicode"
)

// normalizeLLMText normalizes Unicode characters commonly inserted by
// LLMs so that substring matching works reliably: Unicode whitespace to
// ASCII space, Unicode hyphens to ASCII hyphen, zero-width characters
// stripped.
func normalizeLLMText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '\u2010' || r == '\u2011' || r == '\u2012' || r == '\u2013' || r == '\u2014':
			b.WriteByte('-')
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			// strip zero-width characters
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var evalStopWords = map[string]bool{
	"the": true, "are": true, "was": true, "were": true,
	"for": true, "with": true, "and": true, "that": true, "this": true,
	"what": true, "which": true, "who": true, "how": true, "where": true,
	"when": true, "why": true, "its": true, "has": true, "had": true,
	"have": true, "his": true, "her": true, "they": true, "their": true,
	"from": true, "into": true, "also": true, "than": true,
}

// significantWords extracts the content-bearing words of a text for
// coverage matching.
func significantWords(text string) []string {
	var words []string
	for _, w := range strings.Fields(text) {
		w = strings.Trim(strings.ToLower(w), ".,;:!?\"'()[]")
		if len(w) > 2 && !evalStopWords[w] {
			words = append(words, w)
		}
	}
	return words
}

// matchesNormalized reports whether needle appears in haystack under
// progressively looser normalization: verbatim, space-collapsed, then
// space-and-hyphen-collapsed (so "fill-level" matches "fill level").
func matchesNormalized(haystack, needle string) bool {
	h := normalizeLLMText(strings.ToLower(haystack))
	n := normalizeLLMText(strings.ToLower(needle))
	if strings.Contains(h, n) {
		return true
	}
	hs := strings.ReplaceAll(h, " ", "")
	ns := strings.ReplaceAll(n, " ", "")
	if strings.Contains(hs, ns) {
		return true
	}
	hh := strings.ReplaceAll(hs, "-", "")
	nh := strings.ReplaceAll(ns, "-", "")
	return strings.Contains(hh, nh)
}

// answerAccuracy scores how well the answer covers the ground truth.
// A short ground truth (a name, a date) must appear as a phrase;
// pipe-separated alternatives each count as a full match. Longer ground
// truths are scored by significant-word coverage.
func answerAccuracy(answerText, groundTruth string) float64 {
	if answerText == "" || groundTruth == "" {
		return 0
	}

	for _, alt := range strings.Split(groundTruth, "|") {
		alt = strings.TrimSpace(alt)
		if alt != "" && matchesNormalized(answerText, alt) {
			return 1.0
		}
	}

	words := significantWords(groundTruth)
	if len(words) == 0 {
		return 0
	}
	covered := 0
	for _, w := range words {
		if matchesNormalized(answerText, w) {
			covered++
		}
	}
	return float64(covered) / float64(len(words))
}

// numberPattern matches integers and decimals (e.g. "120", "3.14").
var numberPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)

var trivialNumbers = map[string]bool{
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true, "10": true,
}

// hallucinationRate estimates how much of the answer is unsupported by
// the retrieved source text: ungrounded numbers weigh full penalties,
// ungrounded longer terms half. 0.0 is fully grounded, 1.0 fully
// fabricated. With no sources the rate is a neutral 0.5.
func hallucinationRate(answerText string, sourceContents []string) float64 {
	if answerText == "" {
		return 1.0
	}
	if len(sourceContents) == 0 {
		return 0.5
	}

	var corpus strings.Builder
	for _, c := range sourceContents {
		corpus.WriteString(strings.ToLower(c))
		corpus.WriteByte(' ')
	}
	corpusStr := normalizeLLMText(corpus.String())

	answerLower := strings.ToLower(answerText)
	penalties := 0.0
	maxPenalties := 0.0

	for _, num := range numberPattern.FindAllString(answerLower, -1) {
		if trivialNumbers[num] {
			continue
		}
		maxPenalties += 1.0
		if !strings.Contains(corpusStr, num) {
			penalties += 1.0
		}
	}

	for _, w := range significantWords(answerLower) {
		if len(w) <= 5 {
			continue
		}
		maxPenalties += 0.5
		if !strings.Contains(corpusStr, w) {
			penalties += 0.5
		}
	}

	if maxPenalties == 0 {
		return 0
	}
	return clamp(penalties / maxPenalties)
}

// citationQuality scores how verifiably the answer cites its sources:
// base 0.5, raised when retrieved article titles are referenced in the
// text and when bracketed [Title] citations appear.
func citationQuality(answerText string, sourceTitles []string) float64 {
	if answerText == "" {
		return 0
	}

	lower := strings.ToLower(answerText)
	score := 0.5

	referenced := 0
	for _, title := range sourceTitles {
		if title != "" && strings.Contains(lower, strings.ToLower(title)) {
			referenced++
		}
	}
	if referenced > 3 {
		referenced = 3
	}
	score += 0.1 * float64(referenced)

	if strings.Contains(answerText, "[") && strings.Contains(answerText, "]") {
		score += 0.2
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
