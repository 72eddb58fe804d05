package pack

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Question is one eval question from eval/questions.jsonl.
type Question struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	GroundTruth string `json:"ground_truth"`
	Difficulty  string `json:"difficulty,omitempty"`
	Category    string `json:"category,omitempty"`
}

// LoadQuestions reads line-delimited eval questions. Blank lines are
// skipped; malformed lines fail with their line number.
func LoadQuestions(path string) ([]Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pack: opening questions: %w", err)
	}
	defer f.Close()

	var questions []Question
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var q Question
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("pack: questions line %d: %w", line, err)
		}
		if q.ID == "" || q.Question == "" {
			return nil, fmt.Errorf("pack: questions line %d: id and question are required", line)
		}
		questions = append(questions, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pack: reading questions: %w", err)
	}
	return questions, nil
}
