package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	// .env is optional; real env vars win.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "knowpack",
		Short: "Build, query, and manage portable knowledge packs",
		Long: `knowpack builds self-contained knowledge packs: SQLite graph
databases with vector search, entity graphs, and extracted facts,
packaged as installable tar.gz archives.

Examples:
  # Build a pack from Wikipedia seed articles
  knowpack build --db physics/pack.db "Quantum mechanics" "General relativity"

  # Ask the pack a question
  knowpack query --db physics/pack.db "What is quantum entanglement?"

  # Package, install, and list
  knowpack package physics -o physics.tar.gz --name physics-expert
  knowpack install physics.tar.gz
  knowpack list`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ~/.knowpack)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newEntityCmd())
	rootCmd.AddCommand(newPathCmd())
	rootCmd.AddCommand(newFactsCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newPackageCmd())
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newUninstallCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newEvalCmd())

	return rootCmd
}
