package pack

import (
	"fmt"
	"os"
	"path/filepath"
)

// Installer installs and upgrades packs under one install directory.
type Installer struct {
	installDir string
}

// NewInstaller creates an installer rooted at installDir.
func NewInstaller(installDir string) *Installer {
	return &Installer{installDir: installDir}
}

// Install extracts a pack tarball into the install directory. Fails if
// a pack with the same name is already installed; use Update to
// upgrade.
func (in *Installer) Install(tarball string) (string, error) {
	return Unpackage(tarball, in.installDir)
}

// Update replaces an installed pack with the archive's contents,
// preserving the previous installation's eval/results directory.
func (in *Installer) Update(name, tarball string) (string, error) {
	current := filepath.Join(in.installDir, name)
	if _, err := os.Stat(current); err != nil {
		return "", fmt.Errorf("pack: %s is not installed: %w", name, err)
	}

	// Move the old version aside so a failed upgrade can roll back.
	backup, err := os.MkdirTemp(in.installDir, ".upgrade-*")
	if err != nil {
		return "", fmt.Errorf("pack: upgrading %s: %w", name, err)
	}
	defer os.RemoveAll(backup)
	old := filepath.Join(backup, name)
	if err := os.Rename(current, old); err != nil {
		return "", fmt.Errorf("pack: upgrading %s: %w", name, err)
	}

	target, err := Unpackage(tarball, in.installDir)
	if err != nil {
		os.Rename(old, current)
		return "", err
	}
	if filepath.Base(target) != name {
		os.RemoveAll(target)
		os.Rename(old, current)
		return "", fmt.Errorf("pack: archive installs as %s, expected %s", filepath.Base(target), name)
	}

	// Carry the previous installation's eval results forward.
	results := filepath.Join(old, "eval", "results")
	if _, err := os.Stat(results); err == nil {
		dest := filepath.Join(target, "eval", "results")
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", fmt.Errorf("pack: restoring results: %w", err)
		}
		// New archives may ship an empty results dir; ours wins.
		os.RemoveAll(dest)
		if err := os.Rename(results, dest); err != nil {
			return "", fmt.Errorf("pack: restoring results: %w", err)
		}
	}
	return target, nil
}

// Uninstall removes an installed pack.
func (in *Installer) Uninstall(name string) error {
	target := filepath.Join(in.installDir, name)
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("pack: %s is not installed: %w", name, err)
	}
	return os.RemoveAll(target)
}
