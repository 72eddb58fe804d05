package pack

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// InstalledPack is one valid pack found in the install directory.
type InstalledPack struct {
	Name     string
	Dir      string
	Manifest *Manifest
}

// Registry enumerates the valid packs under one install directory. A
// subdirectory counts as a pack iff its structure validates.
type Registry struct {
	installDir string

	mu    sync.RWMutex
	packs map[string]*InstalledPack
}

// NewRegistry scans installDir and returns the registry. A missing
// install directory yields an empty registry, not an error.
func NewRegistry(installDir string) (*Registry, error) {
	r := &Registry{installDir: installDir}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh rescans the install directory.
func (r *Registry) Refresh() error {
	packs := make(map[string]*InstalledPack)

	entries, err := os.ReadDir(r.installDir)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.packs = packs
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("pack: scanning %s: %w", r.installDir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.installDir, entry.Name())
		if err := ValidateStructure(dir); err != nil {
			slog.Debug("pack: skipping invalid pack directory", "dir", dir, "error", err)
			continue
		}
		m, err := LoadManifest(filepath.Join(dir, ManifestFile))
		if err != nil {
			slog.Debug("pack: skipping pack with unreadable manifest", "dir", dir, "error", err)
			continue
		}
		packs[entry.Name()] = &InstalledPack{Name: entry.Name(), Dir: dir, Manifest: m}
	}

	r.mu.Lock()
	r.packs = packs
	r.mu.Unlock()
	return nil
}

// GetPack returns an installed pack by name.
func (r *Registry) GetPack(name string) (*InstalledPack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packs[name]
	return p, ok
}

// ListPacks returns all installed packs sorted by name.
func (r *Registry) ListPacks() []*InstalledPack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*InstalledPack, 0, len(r.packs))
	for _, p := range r.packs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns how many valid packs are installed.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.packs)
}
