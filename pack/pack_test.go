package pack

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestPack lays out a minimal valid pack directory.
func writeTestPack(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	m := NewManifest(name, "A test knowledge pack.", "CC-BY-SA-4.0")
	m.GraphStats = GraphStats{Articles: 12, Entities: 40, Relationships: 25, SizeMB: 1}
	require.NoError(t, SaveManifest(m, filepath.Join(dir, ManifestFile)))
	require.NoError(t, SavePackConfig(DefaultPackConfig(), filepath.Join(dir, ConfigFile)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SkillFile), []byte(GenerateSkill(m)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DBName), []byte("sqlite-bytes"), 0o644))
	return dir
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFile)

	m := NewManifest("physics-expert", "Physics reference pack.", "MIT")
	m.Version = "1.2.3-rc.1+build.7"
	m.GraphStats = GraphStats{Articles: 100, Entities: 500, Relationships: 300, SizeMB: 42}
	m.EvalScores = &EvalScores{Accuracy: 0.81, HallucinationRate: 0.05, CitationQuality: 0.9}
	m.Topics = []string{"mechanics", "optics"}

	require.NoError(t, SaveManifest(m, path))
	got, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestLoadManifestCreatedAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFile)
	raw := `{"name":"old-pack","version":"1.0.0","description":"d","license":"MIT","created":"2024-01-02T03:04:05Z"}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", m.CreatedAt)
}

func TestValidateManifest(t *testing.T) {
	valid := func() *Manifest {
		m := NewManifest("p", "desc", "MIT")
		return m
	}

	assert.NoError(t, ValidateManifest(valid()))

	m := valid()
	m.Name = ""
	assert.Error(t, ValidateManifest(m))

	m = valid()
	m.Version = "1.0"
	assert.Error(t, ValidateManifest(m), "short version is not semver")

	m = valid()
	m.Version = "2.0.0-alpha.1+linux"
	assert.NoError(t, ValidateManifest(m), "pre-release and build metadata allowed")

	m = valid()
	m.GraphStats.Articles = -1
	assert.Error(t, ValidateManifest(m))

	m = valid()
	m.EvalScores = &EvalScores{Accuracy: 1.2}
	assert.Error(t, ValidateManifest(m))

	m = valid()
	m.License = ""
	assert.Error(t, ValidateManifest(m))

	m = valid()
	m.SourceURLs = []string{}
	assert.Error(t, ValidateManifest(m))
}

func TestTriggerKeywords(t *testing.T) {
	triggers := TriggerKeywords("physics-expert")
	assert.Contains(t, triggers, "physics")
	assert.Contains(t, triggers, "quantum")
	assert.Contains(t, triggers, "relativity")
	assert.NotContains(t, triggers, "expert")

	// Unrecognized names still trigger on their own words.
	triggers = TriggerKeywords("knitting_patterns")
	assert.Equal(t, []string{"knitting", "patterns"}, triggers)
}

func TestGenerateSkill(t *testing.T) {
	m := NewManifest("history-pack", "European history.", "MIT")
	m.GraphStats.Articles = 7

	skill := GenerateSkill(m)
	assert.True(t, strings.HasPrefix(skill, "---\n"))
	assert.Contains(t, skill, "name: history-pack")
	assert.Contains(t, skill, "version: 0.1.0")
	assert.Contains(t, skill, "triggers: [")
	assert.Contains(t, skill, "empire")
	assert.Contains(t, skill, "7 articles")
}

func TestValidateStructure(t *testing.T) {
	dir := writeTestPack(t, "valid-pack")
	assert.NoError(t, ValidateStructure(dir))

	require.NoError(t, os.Remove(filepath.Join(dir, SkillFile)))
	assert.Error(t, ValidateStructure(dir))
}

func TestValidateStructureBadJSON(t *testing.T) {
	dir := writeTestPack(t, "broken-pack")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("{not json"), 0o644))
	assert.Error(t, ValidateStructure(dir))
}

func TestValidateStructureDBDirectory(t *testing.T) {
	dir := writeTestPack(t, "dir-db-pack")
	require.NoError(t, os.Remove(filepath.Join(dir, DBName)))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DBName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DBName, "graph.db"), []byte("x"), 0o644))
	assert.NoError(t, ValidateStructure(dir))
}

func TestPackageUnpackageRoundTrip(t *testing.T) {
	dir := writeTestPack(t, "rt-pack")

	// Optional and excluded members.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# rt-pack\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "eval"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eval", "questions.jsonl"),
		[]byte(`{"id":"q1","question":"?","ground_truth":"a"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eval", "debug.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	tarball := filepath.Join(t.TempDir(), "rt-pack.tar.gz")
	require.NoError(t, Package(dir, tarball))

	installDir := t.TempDir()
	target, err := Unpackage(tarball, installDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(installDir, "rt-pack"), target)

	assert.NoError(t, ValidateStructure(target))

	wantManifest, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	gotManifest, err := os.ReadFile(filepath.Join(target, ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, wantManifest, gotManifest)

	wantDB, err := os.ReadFile(filepath.Join(dir, DBName))
	require.NoError(t, err)
	gotDB, err := os.ReadFile(filepath.Join(target, DBName))
	require.NoError(t, err)
	assert.Equal(t, wantDB, gotDB)

	_, err = os.Stat(filepath.Join(target, "eval", "questions.jsonl"))
	assert.NoError(t, err, "eval material rides along")
	_, err = os.Stat(filepath.Join(target, "eval", "debug.log"))
	assert.True(t, os.IsNotExist(err), "log files excluded")
	_, err = os.Stat(filepath.Join(target, ".hidden"))
	assert.True(t, os.IsNotExist(err), "hidden files excluded")
}

func TestPackageRejectsInvalidDir(t *testing.T) {
	dir := writeTestPack(t, "incomplete")
	require.NoError(t, os.Remove(filepath.Join(dir, ManifestFile)))
	err := Package(dir, filepath.Join(t.TempDir(), "out.tar.gz"))
	assert.Error(t, err)
}

func TestUnpackageRejectsExisting(t *testing.T) {
	dir := writeTestPack(t, "dup-pack")
	tarball := filepath.Join(t.TempDir(), "dup.tar.gz")
	require.NoError(t, Package(dir, tarball))

	installDir := t.TempDir()
	_, err := Unpackage(tarball, installDir)
	require.NoError(t, err)
	_, err = Unpackage(tarball, installDir)
	assert.ErrorContains(t, err, "already installed")
}

func TestExcluded(t *testing.T) {
	cases := map[string]bool{
		"manifest.json":        false,
		"eval/questions.jsonl": false,
		".hidden":              true,
		"eval/.DS_Store":       true,
		"cache/page.html":      true,
		"__pycache__/mod.pyc":  true,
		"eval/run.log":         true,
		"pack.db":              false,
		"notes.tmp":            true,
		"eval/results/r1.json": false,
	}
	for rel, want := range cases {
		assert.Equal(t, want, excluded(rel), rel)
	}
}
