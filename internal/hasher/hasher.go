// Package hasher computes SHA-256 content digests for files and directory
// trees. Tree digests fold per-file digests in sorted relative-path order so
// identical trees always hash identically.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kebairia/snapkeep/internal/fsutil"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the streaming read size used when none is configured.
const DefaultChunkSize = 8 * 1024

// Digest is a SHA-256 sum.
type Digest [sha256.Size]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// ParseDigest decodes the hex form produced by String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest %q: %w", s, err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("parse digest %q: want %d bytes, got %d", s, len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithChunkSize sets the read buffer size for streaming file hashes.
func WithChunkSize(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.chunkSize = n
		}
	}
}

// WithConcurrency caps the number of files hashed at once by HashTree.
func WithConcurrency(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.workers = n
		}
	}
}

type Hasher struct {
	chunkSize int
	workers   int
}

func New(opts ...Option) *Hasher {
	h := &Hasher{chunkSize: DefaultChunkSize, workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash digests path as a file or, if it is a directory, as a tree.
func (h *Hasher) Hash(ctx context.Context, path string) (Digest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Digest{}, err
	}
	if info.IsDir() {
		return h.HashTree(ctx, path)
	}
	return h.HashFile(path)
}

// HashFile streams the file through SHA-256 in chunkSize reads.
func (h *Hasher) HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	sum := sha256.New()
	if _, err := io.CopyBuffer(onlyWriter{sum}, onlyReader{f}, make([]byte, h.chunkSize)); err != nil {
		return Digest{}, fmt.Errorf("read %q: %w", path, err)
	}
	var d Digest
	sum.Sum(d[:0])
	return d, nil
}

// HashTree digests every regular file under root. Files are hashed
// concurrently but folded as relpath, NUL, file digest in sorted order.
func (h *Hasher) HashTree(ctx context.Context, root string) (Digest, error) {
	files, err := fsutil.ListFiles(root)
	if err != nil {
		return Digest{}, fmt.Errorf("list %q: %w", root, err)
	}
	digests, err := h.HashFiles(ctx, root, files)
	if err != nil {
		return Digest{}, err
	}
	return Fold(files, digests), nil
}

// HashFiles hashes root/rel for each rel, returning digests index-aligned
// with files. The first failure cancels the remaining work.
func (h *Hasher) HashFiles(ctx context.Context, root string, files []string) ([]Digest, error) {
	digests := make([]Digest, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := h.HashFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return digests, nil
}

// Fold combines per-file digests into a tree digest. files must be sorted
// and index-aligned with digests.
func Fold(files []string, digests []Digest) Digest {
	sum := sha256.New()
	for i, rel := range files {
		io.WriteString(sum, rel)
		sum.Write([]byte{0})
		sum.Write(digests[i][:])
	}
	var d Digest
	sum.Sum(d[:0])
	return d
}

// onlyReader and onlyWriter hide ReaderFrom/WriterTo so CopyBuffer honors
// the configured chunk size.
type onlyReader struct{ io.Reader }
type onlyWriter struct{ io.Writer }
