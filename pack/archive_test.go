package pack

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeHostileTar builds a tarball whose members are produced by fn.
func writeHostileTar(t *testing.T, fn func(tw *tar.Writer)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostile.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	fn(tw)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func writeRegular(t *testing.T, tw *tar.Writer, name, content string) {
	t.Helper()
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(content)),
	}))
	_, err := tw.Write([]byte(content))
	require.NoError(t, err)
}

func TestUnpackageRejectsTraversal(t *testing.T) {
	tarball := writeHostileTar(t, func(tw *tar.Writer) {
		writeRegular(t, tw, "../escape.txt", "pwned")
	})

	_, err := Unpackage(tarball, t.TempDir())
	assert.ErrorIs(t, err, ErrUnsafeArchive)
}

func TestUnpackageRejectsAbsolutePath(t *testing.T) {
	tarball := writeHostileTar(t, func(tw *tar.Writer) {
		writeRegular(t, tw, "/etc/evil", "pwned")
	})

	_, err := Unpackage(tarball, t.TempDir())
	assert.ErrorIs(t, err, ErrUnsafeArchive)
}

func TestUnpackageRejectsSymlink(t *testing.T) {
	tarball := writeHostileTar(t, func(tw *tar.Writer) {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "pack.db",
			Typeflag: tar.TypeSymlink,
			Linkname: "/etc/passwd",
		}))
	})

	_, err := Unpackage(tarball, t.TempDir())
	assert.ErrorIs(t, err, ErrUnsafeArchive)
}

func TestUnpackageRejectsHardlink(t *testing.T) {
	tarball := writeHostileTar(t, func(tw *tar.Writer) {
		writeRegular(t, tw, "target.txt", "x")
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "link.txt",
			Typeflag: tar.TypeLink,
			Linkname: "target.txt",
		}))
	})

	_, err := Unpackage(tarball, t.TempDir())
	assert.ErrorIs(t, err, ErrUnsafeArchive)
}

func TestUnpackageRejectsIncompletePack(t *testing.T) {
	// Structurally safe archive that is not a pack.
	tarball := writeHostileTar(t, func(tw *tar.Writer) {
		writeRegular(t, tw, "readme.txt", "not a pack")
	})

	_, err := Unpackage(tarball, t.TempDir())
	assert.ErrorContains(t, err, "not a valid pack")
}

func TestInstallerUpdatePreservesResults(t *testing.T) {
	dir := writeTestPack(t, "upgr-pack")
	tarball := filepath.Join(t.TempDir(), "v1.tar.gz")
	require.NoError(t, Package(dir, tarball))

	installDir := t.TempDir()
	in := NewInstaller(installDir)
	target, err := in.Install(tarball)
	require.NoError(t, err)

	// Accumulate eval results in the installed copy.
	results := filepath.Join(target, "eval", "results")
	require.NoError(t, os.MkdirAll(results, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(results, "run1.json"), []byte(`{"accuracy":0.8}`), 0o644))

	// Ship a new version.
	m, err := LoadManifest(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	m.Version = "0.2.0"
	require.NoError(t, SaveManifest(m, filepath.Join(dir, ManifestFile)))
	tarball2 := filepath.Join(t.TempDir(), "v2.tar.gz")
	require.NoError(t, Package(dir, tarball2))

	target, err = in.Update("upgr-pack", tarball2)
	require.NoError(t, err)

	upgraded, err := LoadManifest(filepath.Join(target, ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", upgraded.Version)

	data, err := os.ReadFile(filepath.Join(target, "eval", "results", "run1.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"accuracy":0.8}`, string(data))
}

func TestInstallerUpdateRollsBackOnBadArchive(t *testing.T) {
	dir := writeTestPack(t, "rb-pack")
	tarball := filepath.Join(t.TempDir(), "v1.tar.gz")
	require.NoError(t, Package(dir, tarball))

	installDir := t.TempDir()
	in := NewInstaller(installDir)
	_, err := in.Install(tarball)
	require.NoError(t, err)

	bad := writeHostileTar(t, func(tw *tar.Writer) {
		writeRegular(t, tw, "../x", "pwned")
	})
	_, err = in.Update("rb-pack", bad)
	require.Error(t, err)

	// The previous installation survives the failed upgrade.
	assert.NoError(t, ValidateStructure(filepath.Join(installDir, "rb-pack")))
}

func TestInstallerUninstall(t *testing.T) {
	dir := writeTestPack(t, "rm-pack")
	tarball := filepath.Join(t.TempDir(), "rm.tar.gz")
	require.NoError(t, Package(dir, tarball))

	installDir := t.TempDir()
	in := NewInstaller(installDir)
	_, err := in.Install(tarball)
	require.NoError(t, err)

	require.NoError(t, in.Uninstall("rm-pack"))
	_, err = os.Stat(filepath.Join(installDir, "rm-pack"))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, in.Uninstall("rm-pack"), "second uninstall fails")
}

func TestRegistry(t *testing.T) {
	installDir := t.TempDir()
	in := NewInstaller(installDir)

	for _, name := range []string{"zeta-pack", "alpha-pack"} {
		dir := writeTestPack(t, name)
		tarball := filepath.Join(t.TempDir(), name+".tar.gz")
		require.NoError(t, Package(dir, tarball))
		_, err := in.Install(tarball)
		require.NoError(t, err)
	}
	// An invalid subdirectory must not register.
	require.NoError(t, os.MkdirAll(filepath.Join(installDir, "not-a-pack"), 0o755))

	r, err := NewRegistry(installDir)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count())

	packs := r.ListPacks()
	require.Len(t, packs, 2)
	assert.Equal(t, "alpha-pack", packs[0].Name)
	assert.Equal(t, "zeta-pack", packs[1].Name)

	p, ok := r.GetPack("alpha-pack")
	require.True(t, ok)
	assert.Equal(t, "alpha-pack", p.Manifest.Name)

	_, ok = r.GetPack("not-a-pack")
	assert.False(t, ok)

	// Refresh picks up removals.
	require.NoError(t, in.Uninstall("zeta-pack"))
	require.NoError(t, r.Refresh())
	assert.Equal(t, 1, r.Count())
}

func TestRegistryMissingDir(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "nowhere"))
	require.NoError(t, err)
	assert.Zero(t, r.Count())
	assert.Empty(t, r.ListPacks())
}

func TestLoadQuestions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.jsonl")
	content := `{"id":"q1","question":"What is entropy?","ground_truth":"A measure of disorder.","difficulty":"easy"}

{"id":"q2","question":"Who proved the halting problem undecidable?","ground_truth":"Alan Turing","category":"computing"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	qs, err := LoadQuestions(path)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "q1", qs[0].ID)
	assert.Equal(t, "easy", qs[0].Difficulty)
	assert.Equal(t, "computing", qs[1].Category)
}

func TestLoadQuestionsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"q1\"\n"), 0o644))
	_, err := LoadQuestions(path)
	assert.ErrorContains(t, err, "line 1")

	require.NoError(t, os.WriteFile(path, []byte(`{"question":"no id","ground_truth":"x"}`+"\n"), 0o644))
	_, err = LoadQuestions(path)
	assert.ErrorContains(t, err, "required")
}
