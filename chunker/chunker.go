// Package chunker splits section prose into fixed-size overlapping
// chunks for fine-grained vector search.
package chunker

import "strings"

// Config controls the chunking behaviour.
type Config struct {
	Size    int // Target chunk size in characters.
	Overlap int // Character overlap between consecutive chunks.
}

// Chunker slices section content into overlapping windows, preferring
// to break at sentence boundaries.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration. Zero-value fields
// are replaced with defaults (2000-char chunks, 400-char overlap).
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = 2000
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = 400
	}
	return &Chunker{cfg: cfg}
}

// sentence-boundary markers, in preference order
var boundaries = []string{". ", "? ", "! ", ".\n", "?\n", "!\n", "\n\n", "\n"}

// Split breaks text into overlapping chunks. Each break point is moved
// to the nearest sentence boundary inside the window
// [start + size/2, start + size + 200] when one exists; otherwise the
// chunk is cut at exactly size characters. Text shorter than one chunk
// comes back as a single element.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.cfg.Size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		if len(text)-start <= c.cfg.Size {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}

		end := start + c.cfg.Size
		if cut := c.boundaryIn(text, start+c.cfg.Size/2, min(len(text), start+c.cfg.Size+200)); cut > 0 {
			end = cut
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - c.cfg.Overlap
		if next <= start {
			next = end // overlap would stall; move on without it
		}
		start = next
	}
	return chunks
}

// boundaryIn returns the index just past the last sentence boundary in
// text[lo:hi], or 0 when the window holds none.
func (c *Chunker) boundaryIn(text string, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if hi > len(text) {
		hi = len(text)
	}
	if lo >= hi {
		return 0
	}

	window := text[lo:hi]
	best := 0
	for _, b := range boundaries {
		if i := strings.LastIndex(window, b); i >= 0 {
			if cut := lo + i + len(b); cut > best {
				best = cut
			}
		}
		if best > 0 {
			// Stronger boundaries win; weaker ones only apply when no
			// stronger boundary exists in the window.
			break
		}
	}
	return best
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
