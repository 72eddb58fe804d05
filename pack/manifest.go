// Package pack implements the knowledge-pack lifecycle: manifest
// handling, structure validation, tarball packaging, installation and
// the installed-pack registry.
package pack

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// ManifestFile is the manifest's filename inside a pack directory.
const ManifestFile = "manifest.json"

// reSemver accepts MAJOR.MINOR.PATCH with optional pre-release and
// build metadata.
var reSemver = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)

// GraphStats summarizes the packaged graph store.
type GraphStats struct {
	Articles      int `json:"articles"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	SizeMB        int `json:"size_mb"`
}

// EvalScores holds the pack's benchmark results, all in [0, 1].
type EvalScores struct {
	Accuracy          float64 `json:"accuracy"`
	HallucinationRate float64 `json:"hallucination_rate"`
	CitationQuality   float64 `json:"citation_quality"`
}

// Manifest describes an installable pack.
type Manifest struct {
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Description string      `json:"description"`
	GraphStats  GraphStats  `json:"graph_stats"`
	EvalScores  *EvalScores `json:"eval_scores,omitempty"`
	SourceURLs  []string    `json:"source_urls,omitempty"`
	CreatedAt   string      `json:"created_at"`
	License     string      `json:"license"`
	Author      string      `json:"author,omitempty"`
	Topics      []string    `json:"topics,omitempty"`
}

// manifestAlias carries the legacy "created" field older packs wrote in
// place of "created_at".
type manifestAlias struct {
	Manifest
	Created string `json:"created,omitempty"`
}

// NewManifest returns a manifest with the creation time stamped.
func NewManifest(name, description, license string) *Manifest {
	return &Manifest{
		Name:        name,
		Version:     "0.1.0",
		Description: description,
		License:     license,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
}

// LoadManifest reads and decodes a manifest file, accepting the legacy
// "created" alias for "created_at".
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pack: reading manifest: %w", err)
	}

	var alias manifestAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return nil, fmt.Errorf("pack: parsing manifest: %w", err)
	}
	m := alias.Manifest
	if m.CreatedAt == "" && alias.Created != "" {
		m.CreatedAt = alias.Created
	}
	return &m, nil
}

// SaveManifest writes the manifest as indented JSON.
func SaveManifest(m *Manifest, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("pack: encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("pack: writing manifest: %w", err)
	}
	return nil
}

// ValidateManifest checks the manifest against the pack schema.
func ValidateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("pack: manifest name is empty")
	}
	if m.Description == "" {
		return fmt.Errorf("pack: manifest description is empty")
	}
	if m.License == "" {
		return fmt.Errorf("pack: manifest license is empty")
	}
	if !reSemver.MatchString(m.Version) {
		return fmt.Errorf("pack: manifest version %q is not semver", m.Version)
	}

	s := m.GraphStats
	if s.Articles < 0 || s.Entities < 0 || s.Relationships < 0 || s.SizeMB < 0 {
		return fmt.Errorf("pack: manifest graph_stats contain negative values")
	}

	if e := m.EvalScores; e != nil {
		for name, v := range map[string]float64{
			"accuracy":           e.Accuracy,
			"hallucination_rate": e.HallucinationRate,
			"citation_quality":   e.CitationQuality,
		} {
			if v < 0 || v > 1 {
				return fmt.Errorf("pack: manifest eval score %s = %v outside [0, 1]", name, v)
			}
		}
	}

	if m.SourceURLs != nil && len(m.SourceURLs) == 0 {
		return fmt.Errorf("pack: manifest source_urls present but empty")
	}
	return nil
}
