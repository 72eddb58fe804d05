package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"knowpack/llm"
)

// fewShotCount is how many exemplars ride along with a query.
const fewShotCount = 2

// Example is one question/answer exemplar shipped with a pack.
type Example struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FewShotManager selects the exemplars most similar to an incoming
// question. Example embeddings are computed once and reused for the
// manager's lifetime.
type FewShotManager struct {
	embedder llm.Provider
	examples []Example

	once       sync.Once
	embeddings [][]float32
	embedErr   error
}

// NewFewShotManager creates a manager over in-memory exemplars.
func NewFewShotManager(embedder llm.Provider, examples []Example) *FewShotManager {
	return &FewShotManager{embedder: embedder, examples: examples}
}

// LoadFewShotExamples reads line-delimited JSON exemplars from a pack's
// examples file.
func LoadFewShotExamples(embedder llm.Provider, path string) (*FewShotManager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var examples []Example
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ex Example
		if err := json.Unmarshal(raw, &ex); err != nil {
			return nil, fmt.Errorf("retrieval: examples file line %d: %w", line, err)
		}
		if ex.Question != "" && ex.Answer != "" {
			examples = append(examples, ex)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewFewShotManager(embedder, examples), nil
}

// TopExamples returns the n exemplars most similar to the question by
// cosine similarity.
func (m *FewShotManager) TopExamples(ctx context.Context, question string, n int) ([]Example, error) {
	if len(m.examples) == 0 {
		return nil, nil
	}

	m.once.Do(func() {
		texts := make([]string, len(m.examples))
		for i, ex := range m.examples {
			texts[i] = ex.Question
		}
		m.embeddings, m.embedErr = m.embedder.Embed(ctx, texts)
	})
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if len(m.embeddings) != len(m.examples) {
		return nil, fmt.Errorf("retrieval: %d exemplar embeddings for %d exemplars",
			len(m.embeddings), len(m.examples))
	}

	qv, err := m.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	if len(qv) == 0 {
		return nil, fmt.Errorf("retrieval: embedder returned no vector")
	}

	type scored struct {
		idx int
		sim float64
	}
	ranked := make([]scored, len(m.examples))
	for i := range m.examples {
		ranked[i] = scored{idx: i, sim: cosineSimilarity(qv[0], m.embeddings[i])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]Example, n)
	for i := 0; i < n; i++ {
		out[i] = m.examples[ranked[i].idx]
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
