package pack

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafeArchive marks tarballs containing absolute paths, parent
// traversal or links.
var ErrUnsafeArchive = errors.New("pack: unsafe archive member")

// includedTopLevel lists the pack members packaging picks up. README
// and eval material ride along when present.
var includedTopLevel = []string{
	ManifestFile, DBName, SkillFile, ConfigFile, "README.md", "eval",
}

var excludedSuffixes = []string{".tmp", ".cache", ".log", ".pyc"}

// excluded reports whether a relative member path is filtered out of
// the archive: hidden files, cache directories and scratch suffixes.
func excluded(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, ".") || part == "__pycache__" || part == "cache" {
			return true
		}
	}
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(rel, suffix) {
			return true
		}
	}
	return false
}

// Package validates a pack directory and writes it as a gzipped
// tarball. Member paths inside the archive are relative to the pack
// root.
func Package(dir, outPath string) error {
	if err := ValidateStructure(dir); err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("pack: creating archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, name := range includedTopLevel {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue // optional member
			}
			return fmt.Errorf("pack: %w", err)
		}
		err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			if excluded(rel) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return addMember(tw, p, filepath.ToSlash(rel), info)
		})
		if err != nil {
			return fmt.Errorf("pack: archiving %s: %w", name, err)
		}
	}
	return nil
}

func addMember(tw *tar.Writer, path, rel string, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = rel
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Unpackage extracts a pack tarball into installDir/<pack_name>. The
// archive is extracted to a temp directory first and moved into place
// atomically once its structure validates. Members with absolute
// paths, ".." segments, or link types are rejected outright.
func Unpackage(tarball, installDir string) (string, error) {
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return "", fmt.Errorf("pack: creating install dir: %w", err)
	}

	// Temp dir on the same filesystem so the final rename is atomic.
	tmp, err := os.MkdirTemp(installDir, ".unpack-*")
	if err != nil {
		return "", fmt.Errorf("pack: creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := extract(tarball, tmp); err != nil {
		return "", err
	}
	if err := ValidateStructure(tmp); err != nil {
		return "", fmt.Errorf("pack: extracted archive is not a valid pack: %w", err)
	}

	m, err := LoadManifest(filepath.Join(tmp, ManifestFile))
	if err != nil {
		return "", err
	}
	if err := ValidateManifest(m); err != nil {
		return "", err
	}

	target := filepath.Join(installDir, m.Name)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("pack: %s is already installed", m.Name)
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", fmt.Errorf("pack: installing %s: %w", m.Name, err)
	}
	return target, nil
}

func extract(tarball, dest string) error {
	f, err := os.Open(tarball)
	if err != nil {
		return fmt.Errorf("pack: opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("pack: reading archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("pack: reading archive: %w", err)
		}

		name := hdr.Name
		if strings.HasPrefix(name, "/") || containsDotDot(name) {
			return fmt.Errorf("%w: path %q", ErrUnsafeArchive, name)
		}

		path := filepath.Join(dest, filepath.FromSlash(name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("pack: extracting %s: %w", name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("pack: extracting %s: %w", name, err)
			}
			out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("pack: extracting %s: %w", name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("pack: extracting %s: %w", name, err)
			}
			out.Close()
		case tar.TypeSymlink, tar.TypeLink:
			return fmt.Errorf("%w: link member %q", ErrUnsafeArchive, name)
		default:
			return fmt.Errorf("%w: member %q has type %d", ErrUnsafeArchive, name, hdr.Typeflag)
		}
	}
}

func containsDotDot(name string) bool {
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
