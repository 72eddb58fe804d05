package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"knowpack"
	"knowpack/expand"
	"knowpack/ingest"
	"knowpack/llm"
	"knowpack/source"
)

func newBuildCmd() *cobra.Command {
	var (
		dbPath    string
		urlsFile  string
		webMode   bool
		target    int
		depth     int
		workers   int
		noExtract bool
	)

	cmd := &cobra.Command{
		Use:   "build [seed articles...]",
		Short: "Build or grow a pack from seed articles or URLs",
		Long: `Build expands a knowledge pack breadth-first from seed articles.
Seeds are Wikipedia titles by default; URLs (or --urls with a urls.txt
file) switch to generic web crawling. The build is resumable: rerunning
against the same database picks up the queued work where it stopped.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if cmd.Flags().Changed("target") {
				cfg.TargetCount = target
			}
			if cmd.Flags().Changed("depth") {
				cfg.MaxDepth = depth
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}

			seeds := args
			if urlsFile != "" {
				urls, err := source.ReadURLList(urlsFile)
				if err != nil {
					return err
				}
				seeds = append(seeds, urls...)
			}
			if len(seeds) == 0 {
				return fmt.Errorf("no seed articles: pass titles as arguments or --urls")
			}

			useWeb := webMode
			if !useWeb {
				useWeb = true
				for _, s := range seeds {
					if !source.IsURL(s) {
						useWeb = false
						break
					}
				}
			}

			agent, err := knowpack.New(cfg)
			if err != nil {
				return err
			}
			defer agent.Close()

			embedder, err := llm.NewProvider(llm.Config(cfg.Embedding))
			if err != nil {
				return fmt.Errorf("embedding provider: %w", err)
			}

			var extractor *ingest.Extractor
			if !noExtract {
				chat, err := llm.NewProvider(llm.Config(cfg.Chat))
				if err != nil {
					return fmt.Errorf("chat provider: %w", err)
				}
				extractor = ingest.NewExtractor(chat, cfg.Chat.Model)
			}

			var src source.Source
			if useWeb {
				src = source.NewWebSource()
			} else {
				src = source.NewWikipediaSource()
			}

			pipeline := ingest.NewPipeline(agent.Store(), src, embedder, extractor, nil, ingest.Options{
				EnableExtraction: !noExtract,
				EnableChunking:   true,
			})

			dcfg := expand.DefaultConfig()
			dcfg.MaxDepth = cfg.MaxDepth
			dcfg.BatchSize = cfg.BatchSize
			dcfg.TargetCount = cfg.TargetCount
			dcfg.Workers = cfg.Workers

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			driver := expand.NewDriver(agent.Store(), pipeline, dcfg)
			if err := driver.Seed(ctx, seeds); err != nil {
				return fmt.Errorf("seeding: %w", err)
			}

			processed, err := driver.Run(ctx)
			if err != nil {
				return err
			}

			stats, statsErr := agent.Stats(ctx)
			fmt.Printf("Processed %d articles\n", processed)
			if statsErr == nil {
				fmt.Printf("Graph: %d articles, %d sections, %d entities, %d relationships, %d links\n",
					stats.Articles, stats.Sections, stats.Entities, stats.Relationships, stats.Links)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "pack database path (default from config)")
	cmd.Flags().StringVar(&urlsFile, "urls", "", "urls.txt file with seed URLs")
	cmd.Flags().BoolVar(&webMode, "web", false, "treat seeds as web URLs")
	cmd.Flags().IntVar(&target, "target", 100, "stop after this many loaded articles")
	cmd.Flags().IntVar(&depth, "depth", 2, "maximum link depth from the seeds")
	cmd.Flags().IntVar(&workers, "workers", 1, "parallel pipeline workers")
	cmd.Flags().BoolVar(&noExtract, "no-extract", false, "skip LLM entity/fact extraction")

	return cmd
}
