package pack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DBName is the graph store's name inside a pack: a single file for
// small packs or a directory for large ones.
const DBName = "pack.db"

// requiredFiles are the members every valid pack directory carries,
// besides the graph store.
var requiredFiles = []string{ManifestFile, SkillFile, ConfigFile}

// ValidateStructure checks that dir holds a complete pack: all required
// files present, manifest and config parse as JSON, and the graph store
// exists as file or directory.
func ValidateStructure(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("pack: %s is not a directory", dir)
	}

	for _, name := range requiredFiles {
		path := filepath.Join(dir, name)
		fi, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("pack: missing %s: %w", name, err)
		}
		if fi.IsDir() {
			return fmt.Errorf("pack: %s is a directory, want a file", name)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, DBName)); err != nil {
		return fmt.Errorf("pack: missing %s: %w", DBName, err)
	}

	for _, name := range []string{ManifestFile, ConfigFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("pack: reading %s: %w", name, err)
		}
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("pack: %s is not valid JSON: %w", name, err)
		}
	}
	return nil
}
