package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher([]string{"*.pyc", ".git", "build/*.o"})
	require.NoError(t, err)

	assert.True(t, m.Match("a/b/c.pyc"))
	assert.True(t, m.Match(".git"))
	assert.True(t, m.Match("sub/.git/config"))
	assert.True(t, m.Match("build/x.o"))
	assert.False(t, m.Match("src/x.o"))
	assert.False(t, m.Match("main.go"))

	var nilMatcher *Matcher
	assert.False(t, nilMatcher.Match("anything"))
}

func TestNewMatcher_BadPattern(t *testing.T) {
	_, err := NewMatcher([]string{"[a-"})
	require.ErrorIs(t, err, ErrBadPattern)
}

func TestEnumerate_ExcludesAndSkips(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", "b")
	writeFile(t, root, "a/z.txt", "z")
	writeFile(t, root, "a/cache.pyc", "x")
	writeFile(t, root, ".git/HEAD", "ref")
	writeFile(t, root, "backups/old.zip", "zip")
	writeFile(t, root, "a/.tmp-half-123", "partial")

	m, err := NewMatcher([]string{"*.pyc", ".git"})
	require.NoError(t, err)

	listing, err := Enumerate(root, m, filepath.Join(root, "backups"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/z.txt", "b.txt"}, listing.Files)
	assert.Empty(t, listing.Errors)
}

func TestEnumerate_MissingRoot(t *testing.T) {
	_, err := Enumerate(filepath.Join(t.TempDir(), "nope"), nil)
	require.Error(t, err)
}

func TestCopyFileAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o640))

	dst := filepath.Join(dir, "nested", "dst.bin")
	require.NoError(t, CopyFileAtomic(src, dst, 3))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteAtomic_RenameFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	orig := rename
	rename = func(string, string) error { return errors.New("crash before rename") }
	t.Cleanup(func() { rename = orig })

	err := WriteAtomic(target, func(w io.Writer) error {
		_, err := w.Write([]byte("new"))
		return err
	})
	require.Error(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed")
}

func TestStatsAndCleanupTemp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/b/c.txt", "123")
	writeFile(t, root, "d.txt", "45")
	writeFile(t, root, ".tmp-orphan-1", "")

	require.NoError(t, CleanupTemp(root))
	_, err := os.Stat(filepath.Join(root, ".tmp-orphan-1"))
	assert.True(t, os.IsNotExist(err))

	st, err := Stats(root)
	require.NoError(t, err)
	assert.Equal(t, TreeStats{Files: 2, Directories: 2, Bytes: 5}, st)

	files, err := ListFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c.txt", "d.txt"}, files)
}
