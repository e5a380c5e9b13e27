package compress

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"a.txt":            "alpha",
		"sub/b.txt":        "bravo bravo bravo",
		"sub/deep/c.bin":   string(bytes.Repeat([]byte{0, 1, 2, 3}, 4096)),
		"sub/deep/empty.x": "",
	}
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o640))
	}
	return root
}

func assertSameTree(t *testing.T, want, got string) {
	t.Helper()
	err := filepath.WalkDir(want, func(p string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(want, p)
		a, err := os.ReadFile(p)
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(got, rel))
		require.NoError(t, err, rel)
		assert.Equal(t, a, b, rel)
		return nil
	})
	require.NoError(t, err)
}

func TestCompress_RoundTripEveryFormat(t *testing.T) {
	ctx := context.Background()
	src := buildTree(t)

	for _, f := range Formats {
		if f == None {
			continue
		}
		t.Run(string(f), func(t *testing.T) {
			out := t.TempDir()
			level := ClampLevel(f, 6)
			archive, err := Compress(ctx, src, filepath.Join(out, "snap"), f, level)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(out, "snap"+f.Extension()), archive)

			require.NoError(t, Check(ctx, archive, f))

			dest := filepath.Join(out, "restored")
			require.NoError(t, Decompress(ctx, archive, f, dest))
			assertSameTree(t, src, dest)

			fh, err := os.Open(archive)
			require.NoError(t, err)
			defer fh.Close()
			streamed := filepath.Join(out, "streamed")
			require.NoError(t, DecompressReader(ctx, fh, f, streamed))
			assertSameTree(t, src, streamed)
		})
	}
}

func TestCompress_ZipStoreLevel(t *testing.T) {
	src := buildTree(t)
	out := t.TempDir()
	archive, err := Compress(context.Background(), src, filepath.Join(out, "snap"), Zip, 0)
	require.NoError(t, err)
	require.NoError(t, Check(context.Background(), archive, Zip))
}

func TestCompress_NoneWritesNothing(t *testing.T) {
	out := t.TempDir()
	archive, err := Compress(context.Background(), buildTree(t), filepath.Join(out, "snap"), None, 0)
	require.NoError(t, err)
	assert.Empty(t, archive)
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCompress_RejectsBeforeIO(t *testing.T) {
	out := t.TempDir()
	dest := filepath.Join(out, "snap")

	_, err := Compress(context.Background(), "/does/not/exist", dest, "rar", 5)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Compress(context.Background(), "/does/not/exist", dest, Gzip, 12)
	require.ErrorIs(t, err, ErrInvalidLevel)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCompress_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := t.TempDir()
	_, err := Compress(ctx, buildTree(t), filepath.Join(out, "snap"), Gzip, 5)
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial archive is published")
}

func TestParseFormatAndValidate(t *testing.T) {
	f, err := ParseFormat(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, Zstd, f)
	_, err = ParseFormat("7z")
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.NoError(t, Validate(Zstd, 22))
	assert.ErrorIs(t, Validate(Zstd, 23), ErrInvalidLevel)
	assert.NoError(t, Validate(Zip, 0))
	assert.ErrorIs(t, Validate(Bz2, 0), ErrInvalidLevel)
	assert.NoError(t, Validate(None, 99))

	assert.Equal(t, 9, ClampLevel(Lzma, 40))
	assert.Equal(t, 1, ClampLevel(Gzip, -3))
}

func TestDecompress_RejectsEscapingEntry(t *testing.T) {
	var buf bytes.Buffer
	w, err := newStreamWriter(&buf, Gzip, 5)
	require.NoError(t, err)
	tw := tar.NewWriter(w)
	body := []byte("pwned")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err = tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, w.Close())

	parent := t.TempDir()
	dest := filepath.Join(parent, "out")
	err = DecompressReader(context.Background(), &buf, Gzip, dest)
	require.ErrorIs(t, err, ErrUnsafePath)
	_, statErr := os.Stat(filepath.Join(parent, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSafeJoin(t *testing.T) {
	dest := t.TempDir()
	got, err := safeJoin(dest, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "a", "b.txt"), got)

	for _, bad := range []string{"../x", "/etc/passwd", "a/../../x"} {
		_, err := safeJoin(dest, bad)
		assert.ErrorIs(t, err, ErrUnsafePath, bad)
	}
}
