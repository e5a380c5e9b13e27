package diff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestDiff_Minimality(t *testing.T) {
	base, cand := t.TempDir(), t.TempDir()
	for _, root := range []string{base, cand} {
		put(t, root, "same.txt", "unchanged")
		put(t, root, "dir/same.txt", "unchanged too")
	}
	put(t, base, "changed.txt", "v1")
	put(t, cand, "changed.txt", "v2")
	put(t, base, "grown.txt", "abc")
	put(t, cand, "grown.txt", "abcd")
	put(t, cand, "new.txt", "fresh")
	put(t, cand, "newdir/deep/x.txt", "x")
	put(t, base, "deleted.txt", "gone")

	res, err := New().Diff(base, cand)
	require.NoError(t, err)

	assert.Equal(t, Result{
		{Path: "changed.txt", Kind: Modified},
		{Path: "grown.txt", Kind: Modified},
		{Path: "new.txt", Kind: Added},
		{Path: "newdir/deep/x.txt", Kind: Added},
	}, res)
	assert.False(t, res.Contains("same.txt"))
	assert.False(t, res.Contains("deleted.txt"))
	assert.True(t, res.Contains("new.txt"))
}

func TestDiff_IdenticalTreesAreEmpty(t *testing.T) {
	base, cand := t.TempDir(), t.TempDir()
	for _, root := range []string{base, cand} {
		put(t, root, "a", "1")
		put(t, root, "b/c", "2")
	}
	res, err := New().Diff(base, cand)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestDiff_TypeChanges(t *testing.T) {
	base, cand := t.TempDir(), t.TempDir()
	// file in base became a directory in candidate
	put(t, base, "thing", "file")
	put(t, cand, "thing/inner.txt", "now a dir")
	// directory in base became a file in candidate
	put(t, base, "other/inner.txt", "dir")
	put(t, cand, "other", "now a file")

	res, err := New().Diff(base, cand)
	require.NoError(t, err)
	assert.Equal(t, Result{
		{Path: "other", Kind: Modified},
		{Path: "thing/inner.txt", Kind: Added},
	}, res)
}

func TestDiff_LargeFilesUseDigest(t *testing.T) {
	base, cand := t.TempDir(), t.TempDir()
	big := strings.Repeat("x", 4096)
	put(t, base, "same.bin", big)
	put(t, cand, "same.bin", big)
	put(t, base, "diff.bin", big)
	put(t, cand, "diff.bin", big[:4095]+"y")

	res, err := New(WithLargeFileThreshold(1024)).Diff(base, cand)
	require.NoError(t, err)
	assert.Equal(t, []string{"diff.bin"}, res.Paths())
}

func TestDiff_Filter(t *testing.T) {
	base, cand := t.TempDir(), t.TempDir()
	put(t, cand, "keep.txt", "k")
	put(t, cand, "skip.log", "s")
	put(t, cand, "cache/a", "a")

	e := New(WithFilter(func(rel string) bool {
		return strings.HasSuffix(rel, ".log") || rel == "cache"
	}))
	res, err := e.Diff(base, cand)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, res.Paths())
}

func TestDiff_MissingBaseTreatsEverythingAsAdded(t *testing.T) {
	cand := t.TempDir()
	put(t, cand, "a", "1")
	res, err := New().Diff(filepath.Join(t.TempDir(), "absent"), cand)
	require.NoError(t, err)
	assert.Equal(t, Result{{Path: "a", Kind: Added}}, res)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "modified", Modified.String())
}
