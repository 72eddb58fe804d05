package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"knowpack"
	"knowpack/eval"
	"knowpack/pack"
)

// queryAnswerer adapts the pack agent to the eval runner.
type queryAnswerer struct {
	agent *knowpack.Agent
}

func (q *queryAnswerer) Answer(ctx context.Context, question string) (*eval.Answer, error) {
	result, err := q.agent.Query(ctx, question)
	if err != nil {
		return nil, err
	}
	answer := &eval.Answer{Text: result.Answer}
	for _, s := range result.Sources {
		answer.Sources = append(answer.Sources, eval.Source{Title: s.Title, Content: s.Content})
	}
	return answer, nil
}

func newEvalCmd() *cobra.Command {
	var (
		questionsPath  string
		noSave         bool
		updateManifest bool
	)

	cmd := &cobra.Command{
		Use:   "eval [pack directory]",
		Short: "Run a pack's eval questions and score the answers",
		Long: `Eval asks every question in the pack's eval/questions.jsonl,
scores answer accuracy, hallucination rate, and citation quality, and
writes the report under eval/results/.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			if questionsPath == "" {
				questionsPath = filepath.Join(dir, "eval", "questions.jsonl")
			}
			questions, err := pack.LoadQuestions(questionsPath)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			agent, err := knowpack.OpenPack(dir, cfg)
			if err != nil {
				return err
			}
			defer agent.Close()

			packName := filepath.Base(dir)
			if m, err := pack.LoadManifest(filepath.Join(dir, pack.ManifestFile)); err == nil {
				packName = m.Name
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := eval.NewRunner(&queryAnswerer{agent: agent}, packName).Run(ctx, questions)
			if err != nil {
				return err
			}

			fmt.Printf("Run %s: %d/%d passed\n", report.RunID, report.Passed, report.TotalQuestions)
			fmt.Printf("Accuracy:           %.1f%%\n", report.Accuracy*100)
			fmt.Printf("Hallucination rate: %.1f%%\n", report.HallucinationRate*100)
			fmt.Printf("Citation quality:   %.1f%%\n", report.CitationQuality*100)
			for cat, acc := range report.CategoryAccuracy {
				fmt.Printf("  %-16s %.1f%%\n", cat+":", acc*100)
			}

			if !noSave {
				path, err := eval.SaveReport(report, filepath.Join(dir, "eval", "results"))
				if err != nil {
					return err
				}
				fmt.Printf("Report saved to %s\n", path)
			}

			if updateManifest {
				manifestPath := filepath.Join(dir, pack.ManifestFile)
				m, err := pack.LoadManifest(manifestPath)
				if err != nil {
					return err
				}
				m.EvalScores = report.Scores()
				if err := pack.SaveManifest(m, manifestPath); err != nil {
					return err
				}
				fmt.Println("Manifest eval scores updated")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&questionsPath, "questions", "", "questions file (default <dir>/eval/questions.jsonl)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "skip writing the report")
	cmd.Flags().BoolVar(&updateManifest, "update-manifest", false, "record scores in manifest.json")

	return cmd
}
