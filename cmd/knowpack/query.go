package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"knowpack"
)

// openAgent opens the query target: an installed pack directory when
// --pack is set, otherwise the configured database read-only.
func openAgent(packDir, dbPath string) (*knowpack.Agent, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if packDir != "" {
		return knowpack.OpenPack(packDir, cfg)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	cfg.ReadOnly = true
	return knowpack.New(cfg)
}

func newQueryCmd() *cobra.Command {
	var (
		packDir    string
		dbPath     string
		maxResults int
		graphRAG   bool
	)

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Answer a question over a pack",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := openAgent(packDir, dbPath)
			if err != nil {
				return err
			}
			defer agent.Close()

			var opts []knowpack.QueryOption
			if maxResults > 0 {
				opts = append(opts, knowpack.WithMaxResults(maxResults))
			}
			if graphRAG {
				opts = append(opts, knowpack.WithGraphRAG())
			}

			result, err := agent.Query(cmd.Context(), strings.Join(args, " "), opts...)
			if err != nil {
				return err
			}

			fmt.Println(result.Answer)
			fmt.Println()
			fmt.Printf("[%s, %dms]\n", result.QueryType, result.ExecutionTimeMs)
			if len(result.Sources) > 0 {
				fmt.Println("Sources:")
				for _, s := range result.Sources {
					if s.Similarity > 0 {
						fmt.Printf("  - %s (%.2f)\n", s.Title, s.Similarity)
					} else {
						fmt.Printf("  - %s\n", s.Title)
					}
				}
			}
			if len(result.Facts) > 0 {
				fmt.Println("Facts:")
				for _, f := range result.Facts {
					fmt.Printf("  - %s\n", f)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&packDir, "pack", "", "installed pack directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "pack database path")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "retrieved article cap")
	cmd.Flags().BoolVar(&graphRAG, "graph-rag", false, "answer via graph traversal")

	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		packDir string
		dbPath  string
		topK    int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Semantic search without synthesis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := openAgent(packDir, dbPath)
			if err != nil {
				return err
			}
			defer agent.Close()

			results, err := agent.SemanticSearch(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			for i, r := range results {
				fmt.Printf("%2d. %-40s similarity=%.3f\n", i+1, r.Title, r.Similarity)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&packDir, "pack", "", "installed pack directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "pack database path")
	cmd.Flags().IntVar(&topK, "top-k", 10, "number of results")

	return cmd
}

func newEntityCmd() *cobra.Command {
	var (
		packDir string
		dbPath  string
	)

	cmd := &cobra.Command{
		Use:   "entity [name]",
		Short: "Look up an entity in the graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := openAgent(packDir, dbPath)
			if err != nil {
				return err
			}
			defer agent.Close()

			info, err := agent.FindEntity(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", info.Name, info.Type)
			if info.Description != "" {
				fmt.Println(info.Description)
			}
			if len(info.SourceArticles) > 0 {
				fmt.Println("Mentioned in:")
				for _, t := range info.SourceArticles {
					fmt.Printf("  - %s\n", t)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&packDir, "pack", "", "installed pack directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "pack database path")

	return cmd
}

func newPathCmd() *cobra.Command {
	var (
		packDir string
		dbPath  string
		maxHops int
	)

	cmd := &cobra.Command{
		Use:   "path [source] [target]",
		Short: "Find a relationship chain between two entities",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := openAgent(packDir, dbPath)
			if err != nil {
				return err
			}
			defer agent.Close()

			path, err := agent.FindRelationshipPath(cmd.Context(), args[0], args[1], maxHops)
			if err != nil {
				return err
			}
			for _, seg := range path {
				fmt.Printf("%d. %s -[%s]-> %s\n", seg.Hop, seg.Source, seg.Relation, seg.Target)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&packDir, "pack", "", "installed pack directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "pack database path")
	cmd.Flags().IntVar(&maxHops, "max-hops", 3, "maximum path length")

	return cmd
}

func newFactsCmd() *cobra.Command {
	var (
		packDir string
		dbPath  string
	)

	cmd := &cobra.Command{
		Use:   "facts [entity or article]",
		Short: "List the facts behind an entity or article",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := openAgent(packDir, dbPath)
			if err != nil {
				return err
			}
			defer agent.Close()

			facts, err := agent.GetEntityFacts(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			for _, f := range facts {
				fmt.Printf("- %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&packDir, "pack", "", "installed pack directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "pack database path")

	return cmd
}

func newStatsCmd() *cobra.Command {
	var (
		packDir string
		dbPath  string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show graph statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := openAgent(packDir, dbPath)
			if err != nil {
				return err
			}
			defer agent.Close()

			stats, err := agent.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Articles:      %d\n", stats.Articles)
			fmt.Printf("Sections:      %d\n", stats.Sections)
			fmt.Printf("Entities:      %d\n", stats.Entities)
			fmt.Printf("Relationships: %d\n", stats.Relationships)
			fmt.Printf("Links:         %d\n", stats.Links)
			return nil
		},
	}

	cmd.Flags().StringVar(&packDir, "pack", "", "installed pack directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "pack database path")

	return cmd
}
