package hasher

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string, order []string) {
	t.Helper()
	for _, rel := range order {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(files[rel]), 0o644))
	}
}

var sample = map[string]string{
	"a.txt":         "alpha",
	"dir/b.txt":     "bravo",
	"dir/sub/c.txt": "charlie",
	"z.bin":         "zulu",
}

func TestHashFile_MatchesSHA256(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	data := make([]byte, 3*DefaultChunkSize+17)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(p, data, 0o644))

	for _, chunk := range []int{1, 100, DefaultChunkSize, 1 << 20} {
		d, err := New(WithChunkSize(chunk)).HashFile(p)
		require.NoError(t, err)
		assert.Equal(t, Digest(sha256.Sum256(data)), d, "chunk %d", chunk)
	}
}

func TestHashTree_Deterministic(t *testing.T) {
	ctx := context.Background()
	t1, t2 := t.TempDir(), t.TempDir()

	// Build the two trees in opposite creation order.
	writeTree(t, t1, sample, []string{"a.txt", "dir/b.txt", "dir/sub/c.txt", "z.bin"})
	writeTree(t, t2, sample, []string{"z.bin", "dir/sub/c.txt", "dir/b.txt", "a.txt"})

	h := New(WithConcurrency(4))
	d1, err := h.HashTree(ctx, t1)
	require.NoError(t, err)
	d1again, err := h.HashTree(ctx, t1)
	require.NoError(t, err)
	d2, err := New(WithConcurrency(1)).HashTree(ctx, t2)
	require.NoError(t, err)

	assert.Equal(t, d1, d1again)
	assert.Equal(t, d1, d2)
}

func TestHashTree_SensitiveToContentAndPath(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	writeTree(t, base, map[string]string{"a": "1"}, []string{"a"})
	renamed := t.TempDir()
	writeTree(t, renamed, map[string]string{"b": "1"}, []string{"b"})
	changed := t.TempDir()
	writeTree(t, changed, map[string]string{"a": "2"}, []string{"a"})

	h := New()
	db, err := h.HashTree(ctx, base)
	require.NoError(t, err)
	dr, err := h.HashTree(ctx, renamed)
	require.NoError(t, err)
	dc, err := h.HashTree(ctx, changed)
	require.NoError(t, err)

	assert.NotEqual(t, db, dr)
	assert.NotEqual(t, db, dc)
}

func TestHash_Dispatch(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, sample, []string{"a.txt", "dir/b.txt", "dir/sub/c.txt", "z.bin"})
	h := New()

	fd, err := h.Hash(context.Background(), filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, Digest(sha256.Sum256([]byte("alpha"))), fd)

	td, err := h.Hash(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEqual(t, fd, td)
}

func TestHashTree_UnreadableFileAborts(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	dir := t.TempDir()
	writeTree(t, dir, sample, []string{"a.txt", "z.bin"})
	require.NoError(t, os.Chmod(filepath.Join(dir, "z.bin"), 0))

	_, err := New().HashTree(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "z.bin")
}

func TestHashTree_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, sample, []string{"a.txt", "dir/b.txt"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().HashTree(ctx, dir)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseDigest(t *testing.T) {
	d := Digest(sha256.Sum256([]byte("x")))
	got, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, got)

	_, err = ParseDigest("abcd")
	require.Error(t, err)
}
