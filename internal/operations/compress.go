package operations

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kebairia/snapkeep/internal/compress"
	"github.com/kebairia/snapkeep/internal/fsutil"
	"github.com/kebairia/snapkeep/internal/metadata"
	"golang.org/x/sync/errgroup"
)

// archive compresses the staged tree next to it and encrypts the result
// when configured. It returns "" for compression none.
func (e *Engine) archive(ctx context.Context, staging, destBase string) (string, error) {
	path, err := compress.Compress(ctx, staging, destBase, e.cfg.Compression, e.cfg.CompressionLevel)
	if err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}
	if path == "" || !e.cfg.Encryption.Enabled {
		return path, nil
	}

	c, err := e.cipherFor(ctx)
	if err != nil {
		os.Remove(path)
		return "", err
	}
	enc, err := c.EncryptFile(path)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("encrypt snapshot: %w", err)
	}
	return enc, nil
}

// openArchive returns the plaintext archive stream of snap.
func (e *Engine) openArchive(ctx context.Context, snap metadata.Snapshot) (io.Reader, io.Closer, error) {
	if !snap.Encrypted {
		f, err := os.Open(snap.ArchivePath)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
	c, err := e.cipherFor(ctx)
	if err != nil {
		return nil, nil, err
	}
	return c.OpenFile(snap.ArchivePath)
}

// extractArchive unpacks snap's archive into dest. Any ciphertext left after
// the archive's own end is read so that age authenticates the last chunk.
func (e *Engine) extractArchive(ctx context.Context, snap metadata.Snapshot, dest string) error {
	r, closer, err := e.openArchive(ctx, snap)
	if err != nil {
		return fmt.Errorf("open archive of %s: %w", snap.ID, err)
	}
	defer closer.Close()

	if err := compress.DecompressReader(ctx, r, snap.Compression, dest); err != nil {
		return fmt.Errorf("extract %s: %w", snap.ID, err)
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("read archive of %s: %w", snap.ID, err)
	}
	return nil
}

// materialize writes snap's files into dest, overwriting what is there. The
// staged tree is preferred over the archive when it was kept.
func (e *Engine) materialize(ctx context.Context, snap metadata.Snapshot, dest string) error {
	if hasDir(snap.DirPath) {
		return e.copyTree(ctx, snap.DirPath, dest)
	}
	if snap.ArchivePath == "" {
		return fmt.Errorf("snapshot %s has neither a staged tree nor an archive", snap.ID)
	}
	return e.extractArchive(ctx, snap, dest)
}

func (e *Engine) copyTree(ctx context.Context, src, dest string) error {
	files, err := fsutil.ListFiles(src)
	if err != nil {
		return fmt.Errorf("list %q: %w", src, err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers())
	for _, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fsutil.CopyFileAtomic(
				filepath.Join(src, filepath.FromSlash(rel)),
				filepath.Join(dest, filepath.FromSlash(rel)),
				e.cfg.ChunkSize,
			)
		})
	}
	return g.Wait()
}

// effectiveTree returns a directory holding the tree that the last
// snapshot of chain reconstructs. A lone full snapshot with a kept staged
// tree is used in place; anything else is restored into a temp directory
// that cleanup removes.
func (e *Engine) effectiveTree(ctx context.Context, chain []metadata.Snapshot) (string, func(), error) {
	noop := func() {}
	if len(chain) == 1 && hasDir(chain[0].DirPath) {
		return chain[0].DirPath, noop, nil
	}
	tmp, err := os.MkdirTemp("", "snapkeep-base-*")
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { os.RemoveAll(tmp) }
	for _, s := range chain {
		if err := e.materialize(ctx, s, tmp); err != nil {
			cleanup()
			return "", noop, err
		}
	}
	return tmp, cleanup, nil
}

func hasDir(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
