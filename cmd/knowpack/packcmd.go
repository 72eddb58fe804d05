package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"knowpack/pack"
	"knowpack/store"
)

func defaultPacksDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "packs"
	}
	return filepath.Join(home, ".knowpack", "packs")
}

func newPackageCmd() *cobra.Command {
	var (
		output      string
		name        string
		description string
		license     string
		author      string
		topics      []string
	)

	cmd := &cobra.Command{
		Use:   "package [pack directory]",
		Short: "Finalize a pack directory and archive it",
		Long: `Package completes a built pack directory and produces the
installable tar.gz. Missing metadata files are generated: manifest.json
(from --name/--description/--license plus graph statistics read from
pack.db), kg_config.json (from the active config), and skill.md.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			cfgPath := filepath.Join(dir, pack.ConfigFile)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				pc := pack.DefaultPackConfig()
				pc.EmbeddingModel = cfg.Embedding.Model
				pc.ChatModel = cfg.Chat.Model
				pc.EmbeddingDim = cfg.EmbeddingDim
				pc.Retrieval = cfg.Retrieval
				if err := pack.SavePackConfig(pc, cfgPath); err != nil {
					return err
				}
			}

			manifestPath := filepath.Join(dir, pack.ManifestFile)
			m, err := pack.LoadManifest(manifestPath)
			if errors.Is(err, os.ErrNotExist) {
				if name == "" {
					return fmt.Errorf("no manifest.json in %s: pass --name to create one", dir)
				}
				m = pack.NewManifest(name, description, license)
				m.Author = author
				m.Topics = topics
			} else if err != nil {
				return err
			}

			if err := fillGraphStats(dir, m); err != nil {
				return err
			}
			if err := pack.SaveManifest(m, manifestPath); err != nil {
				return err
			}

			skillPath := filepath.Join(dir, pack.SkillFile)
			if _, err := os.Stat(skillPath); os.IsNotExist(err) {
				if err := os.WriteFile(skillPath, []byte(pack.GenerateSkill(m)), 0o644); err != nil {
					return fmt.Errorf("writing skill file: %w", err)
				}
			}

			if output == "" {
				output = m.Name + ".tar.gz"
			}
			if err := pack.Package(dir, output); err != nil {
				return err
			}
			fmt.Printf("Packaged %s -> %s\n", m.Name, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default <name>.tar.gz)")
	cmd.Flags().StringVar(&name, "name", "", "pack name for a new manifest")
	cmd.Flags().StringVar(&description, "description", "", "pack description")
	cmd.Flags().StringVar(&license, "license", "CC-BY-SA-4.0", "content license")
	cmd.Flags().StringVar(&author, "author", "", "pack author")
	cmd.Flags().StringSliceVar(&topics, "topics", nil, "topic tags")

	return cmd
}

// fillGraphStats refreshes the manifest's graph statistics from the
// pack database.
func fillGraphStats(dir string, m *pack.Manifest) error {
	pc, err := pack.LoadPackConfig(filepath.Join(dir, pack.ConfigFile))
	if err != nil {
		return err
	}

	dbPath := filepath.Join(dir, pack.DBName)
	st, err := store.OpenReadOnly(dbPath, pc.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("opening pack database: %w", err)
	}
	defer st.Close()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return err
	}

	m.GraphStats = pack.GraphStats{
		Articles:      stats.Articles,
		Entities:      stats.Entities,
		Relationships: stats.Relationships,
		SizeMB:        int(pathSize(dbPath) / (1 << 20)),
	}
	return nil
}

// pathSize returns the total byte size of a file or directory tree.
func pathSize(path string) int64 {
	var total int64
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

func newInstallCmd() *cobra.Command {
	var packsDir string

	cmd := &cobra.Command{
		Use:   "install [archive]",
		Short: "Install a pack archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := pack.NewInstaller(packsDir).Install(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Installed %s into %s\n", name, packsDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&packsDir, "packs-dir", defaultPacksDir(), "installation directory")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var packsDir string

	cmd := &cobra.Command{
		Use:   "update [name] [archive]",
		Short: "Replace an installed pack, keeping its eval results",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := pack.NewInstaller(packsDir).Update(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&packsDir, "packs-dir", defaultPacksDir(), "installation directory")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	var packsDir string

	cmd := &cobra.Command{
		Use:   "uninstall [name]",
		Short: "Remove an installed pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := pack.NewInstaller(packsDir).Uninstall(args[0]); err != nil {
				return err
			}
			fmt.Printf("Uninstalled %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&packsDir, "packs-dir", defaultPacksDir(), "installation directory")
	return cmd
}

func newListCmd() *cobra.Command {
	var packsDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := pack.NewRegistry(packsDir)
			if err != nil {
				return err
			}
			packs := registry.ListPacks()
			if len(packs) == 0 {
				fmt.Println("No packs installed.")
				return nil
			}
			for _, p := range packs {
				m := p.Manifest
				fmt.Printf("%-24s v%-10s %d articles, %d entities",
					m.Name, m.Version, m.GraphStats.Articles, m.GraphStats.Entities)
				if m.EvalScores != nil {
					fmt.Printf(", accuracy %.0f%%", m.EvalScores.Accuracy*100)
				}
				fmt.Println()
				if m.Description != "" {
					fmt.Printf("    %s\n", strings.TrimSpace(m.Description))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&packsDir, "packs-dir", defaultPacksDir(), "installation directory")
	return cmd
}
