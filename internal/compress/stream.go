package compress

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// newStreamWriter wraps w with the compressor for format.
func newStreamWriter(w io.Writer, format Format, level int) (io.WriteCloser, error) {
	switch format {
	case Gzip:
		return gzip.NewWriterLevel(w, level)
	case Bz2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
	case Lzma:
		return xz.WriterConfig{DictCap: xzDictCap(level)}.NewWriter(w)
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func newStreamReader(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case Gzip:
		return gzip.NewReader(r)
	case Bz2:
		return bzip2.NewReader(r, nil)
	case Lzma:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// xzDictCap trades memory for ratio; xz has no level knob of its own.
func xzDictCap(level int) int {
	switch {
	case level <= 3:
		return 1 << 20
	case level <= 6:
		return 4 << 20
	default:
		return 8 << 20
	}
}

func writeStream(ctx context.Context, w io.Writer, root string, files []string, format Format, level int) error {
	cw, err := newStreamWriter(w, format, level)
	if err != nil {
		return err
	}
	if err := writeTar(ctx, tar.NewWriter(cw), root, files); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

func writeTar(ctx context.Context, tw *tar.Writer, root string, files []string) error {
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addTarEntry(tw, root, rel); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	return nil
}

func addTarEntry(tw *tar.Writer, root, rel string) error {
	path := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("header for %q: %w", rel, err)
	}
	hdr.Name = rel
	hdr.Format = tar.FormatPAX
	// owner names make archives host dependent
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %q: %w", rel, err)
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("write entry %q: %w", rel, err)
	}
	return nil
}

func readStreamFile(ctx context.Context, archivePath string, format Format, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return readStream(ctx, f, format, destDir)
}

func readStream(ctx context.Context, r io.Reader, format Format, destDir string) error {
	cr, err := newStreamReader(r, format)
	if err != nil {
		return err
	}
	defer cr.Close()

	tr := tar.NewReader(cr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm(), hdr.ModTime); err != nil {
				return fmt.Errorf("entry %q: %w", hdr.Name, err)
			}
		}
	}
}

// writeEntry materializes one archive entry, preserving mode and mtime.
func writeEntry(target string, r io.Reader, perm os.FileMode, modTime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if !modTime.IsZero() {
		_ = os.Chtimes(target, modTime, modTime)
	}
	return nil
}
