package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"knowpack/pack"
)

// Agent answers one question over an opened pack.
type Agent interface {
	Answer(ctx context.Context, question string) (*Answer, error)
}

// Answer is what the runner scores: the answer text plus the retrieved
// sources behind it.
type Answer struct {
	Text    string
	Sources []Source
}

// Source is one retrieved article the agent consulted.
type Source struct {
	Title   string
	Content string
}

// QuestionResult is the scored outcome of one eval question.
type QuestionResult struct {
	ID                string   `json:"id"`
	Question          string   `json:"question"`
	GroundTruth       string   `json:"ground_truth"`
	Category          string   `json:"category,omitempty"`
	Answer            string   `json:"answer"`
	Sources           []string `json:"sources,omitempty"`
	Accuracy          float64  `json:"accuracy"`
	HallucinationRate float64  `json:"hallucination_rate"`
	CitationQuality   float64  `json:"citation_quality"`
	Passed            bool     `json:"passed"`
	Error             string   `json:"error,omitempty"`
	ElapsedMs         int64    `json:"elapsed_ms"`
}

// Report is one full evaluation run.
type Report struct {
	RunID             string             `json:"run_id"`
	Pack              string             `json:"pack,omitempty"`
	TotalQuestions    int                `json:"total_questions"`
	Passed            int                `json:"passed"`
	Failed            int                `json:"failed"`
	Accuracy          float64            `json:"accuracy"`
	HallucinationRate float64            `json:"hallucination_rate"`
	CitationQuality   float64            `json:"citation_quality"`
	CategoryAccuracy  map[string]float64 `json:"category_accuracy,omitempty"`
	Results           []QuestionResult   `json:"results"`
	StartedAt         string             `json:"started_at"`
	RunTimeMs         int64              `json:"run_time_ms"`
}

// passThreshold is the per-question accuracy needed to count as passed.
const passThreshold = 0.5

// Runner executes a pack's eval questions against an agent.
type Runner struct {
	agent    Agent
	packName string
}

// NewRunner creates a runner. packName is recorded in reports and may
// be empty.
func NewRunner(agent Agent, packName string) *Runner {
	return &Runner{agent: agent, packName: packName}
}

// Run asks every question, scores the answers, and aggregates. Agent
// errors score the question zero rather than aborting the run; a
// cancelled context aborts.
func (r *Runner) Run(ctx context.Context, questions []pack.Question) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:          uuid.NewString(),
		Pack:           r.packName,
		TotalQuestions: len(questions),
		StartedAt:      start.UTC().Format(time.RFC3339),
	}

	categoryTotals := make(map[string]float64)
	categoryCounts := make(map[string]int)

	for _, q := range questions {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		qStart := time.Now()
		result := QuestionResult{
			ID:          q.ID,
			Question:    q.Question,
			GroundTruth: q.GroundTruth,
			Category:    q.Category,
		}

		answer, err := r.agent.Answer(ctx, q.Question)
		if err != nil {
			slog.Warn("eval: question failed", "id", q.ID, "error", err)
			result.Error = err.Error()
			result.HallucinationRate = 1.0
		} else {
			var titles []string
			var contents []string
			for _, s := range answer.Sources {
				titles = append(titles, s.Title)
				contents = append(contents, s.Content)
			}
			result.Answer = answer.Text
			result.Sources = titles
			result.Accuracy = answerAccuracy(answer.Text, q.GroundTruth)
			result.HallucinationRate = hallucinationRate(answer.Text, contents)
			result.CitationQuality = citationQuality(answer.Text, titles)
		}
		result.Passed = result.Accuracy >= passThreshold
		result.ElapsedMs = time.Since(qStart).Milliseconds()

		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Accuracy += result.Accuracy
		report.HallucinationRate += result.HallucinationRate
		report.CitationQuality += result.CitationQuality
		if q.Category != "" {
			categoryTotals[q.Category] += result.Accuracy
			categoryCounts[q.Category]++
		}
		report.Results = append(report.Results, result)
	}

	if n := float64(len(questions)); n > 0 {
		report.Accuracy /= n
		report.HallucinationRate /= n
		report.CitationQuality /= n
	}
	if len(categoryCounts) > 0 {
		report.CategoryAccuracy = make(map[string]float64, len(categoryCounts))
		for cat, total := range categoryTotals {
			report.CategoryAccuracy[cat] = total / float64(categoryCounts[cat])
		}
	}
	report.RunTimeMs = time.Since(start).Milliseconds()
	return report, nil
}

// Scores converts a report into the manifest's eval score block.
func (rep *Report) Scores() *pack.EvalScores {
	return &pack.EvalScores{
		Accuracy:          rep.Accuracy,
		HallucinationRate: rep.HallucinationRate,
		CitationQuality:   rep.CitationQuality,
	}
}

// SaveReport writes the report into resultsDir as <run_id>.json,
// creating the directory when needed.
func SaveReport(rep *Report, resultsDir string) (string, error) {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return "", fmt.Errorf("eval: creating results dir: %w", err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("eval: encoding report: %w", err)
	}
	path := filepath.Join(resultsDir, rep.RunID+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("eval: writing report: %w", err)
	}
	return path, nil
}
