package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLLMText(t *testing.T) {
	// Non-breaking space, en dash, zero-width space.
	in := "fill\u00A0level \u2013 5\u200B%"
	assert.Equal(t, "fill level - 5%", normalizeLLMText(in))
}

func TestAnswerAccuracyExactPhrase(t *testing.T) {
	assert.Equal(t, 1.0, answerAccuracy("The war ended in 1945.", "1945"))
	assert.Equal(t, 1.0, answerAccuracy("It was Alan Turing who proved it.", "Alan Turing"))
	assert.Zero(t, answerAccuracy("", "1945"))
	assert.Zero(t, answerAccuracy("anything", ""))
}

func TestAnswerAccuracyAlternatives(t *testing.T) {
	assert.Equal(t, 1.0, answerAccuracy("Check the fill level sensor.", "nivel de llenado|fill level"))
	// Hyphenation must not break the match.
	assert.Equal(t, 1.0, answerAccuracy("Check the fill-level sensor.", "fill level"))
}

func TestAnswerAccuracyWordCoverage(t *testing.T) {
	gt := "Turing proved the halting problem undecidable"
	full := answerAccuracy("Turing proved the halting problem is undecidable.", gt)
	assert.Equal(t, 1.0, full)

	partial := answerAccuracy("Turing worked on the halting problem.", gt)
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)
}

func TestHallucinationRate(t *testing.T) {
	sources := []string{"The engine produces 120 horsepower and uses gasoline."}

	grounded := hallucinationRate("The engine produces 120 horsepower.", sources)
	fabricated := hallucinationRate("The reactor outputs 9999 megawatts of antimatter.", sources)
	assert.Less(t, grounded, fabricated)
	assert.Equal(t, 1.0, hallucinationRate("", sources))
	assert.Equal(t, 0.5, hallucinationRate("answer", nil), "no sources is neutral")
}

func TestCitationQuality(t *testing.T) {
	titles := []string{"Alan Turing", "Enigma machine"}

	cited := citationQuality("He broke Enigma, see [Alan Turing].", titles)
	bare := citationQuality("He broke codes during the war.", titles)
	assert.Greater(t, cited, bare)
	assert.LessOrEqual(t, cited, 1.0)
	assert.Zero(t, citationQuality("", titles))
}
