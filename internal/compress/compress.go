// Package compress turns a staged snapshot tree into a single archive file
// and back. Zip is the container format; gzip, bz2, lzma and zstd compress a
// tar stream of the tree.
package compress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kebairia/snapkeep/internal/fsutil"
)

// ErrUnsupportedFormat is returned for a Format value outside the known set.
var ErrUnsupportedFormat = errors.New("unsupported compression format")

// ErrInvalidLevel is returned when a level is outside the format's range.
var ErrInvalidLevel = errors.New("invalid compression level")

// ErrUnsafePath is returned when an archive entry would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

type Format string

const (
	None Format = "none"
	Zip  Format = "zip"
	Gzip Format = "gzip"
	Bz2  Format = "bz2"
	Lzma Format = "lzma"
	Zstd Format = "zstd"
)

// Formats lists every supported format.
var Formats = []Format{None, Zip, Gzip, Bz2, Lzma, Zstd}

type levelRange struct{ min, max int }

var levels = map[Format]levelRange{
	None: {0, 0},
	Zip:  {0, 9},
	Gzip: {1, 9},
	Bz2:  {1, 9},
	Lzma: {1, 9},
	Zstd: {1, 22},
}

var extensions = map[Format]string{
	None: "",
	Zip:  ".zip",
	Gzip: ".tar.gz",
	Bz2:  ".tar.bz2",
	Lzma: ".tar.xz",
	Zstd: ".tar.zst",
}

// ParseFormat maps a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levels[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// Validate checks the format and that level fits the format's range. None
// accepts any level since it is never used.
func Validate(format Format, level int) error {
	r, ok := levels[format]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if format == None {
		return nil
	}
	if level < r.min || level > r.max {
		return fmt.Errorf("%w: %s accepts %d..%d, got %d", ErrInvalidLevel, format, r.min, r.max, level)
	}
	return nil
}

// Extension is the file suffix used for archives of this format.
func (f Format) Extension() string { return extensions[f] }

// ClampLevel moves level into the format's accepted range.
func ClampLevel(format Format, level int) int {
	r, ok := levels[format]
	if !ok {
		return level
	}
	return max(r.min, min(level, r.max))
}

// Compress archives every regular file under sourceTree into
// destBase+format.Extension() and returns that path. Format and level are
// validated before any I/O.
func Compress(ctx context.Context, sourceTree, destBase string, format Format, level int) (string, error) {
	if err := Validate(format, level); err != nil {
		return "", err
	}
	if format == None {
		return "", nil
	}

	files, err := fsutil.ListFiles(sourceTree)
	if err != nil {
		return "", fmt.Errorf("list %q: %w", sourceTree, err)
	}

	archivePath := destBase + format.Extension()
	err = fsutil.WriteAtomic(archivePath, func(w io.Writer) error {
		switch format {
		case Zip:
			return writeZip(ctx, w, sourceTree, files, level)
		default:
			return writeStream(ctx, w, sourceTree, files, format, level)
		}
	})
	if err != nil {
		return "", fmt.Errorf("write %s archive %q: %w", format, archivePath, err)
	}
	return archivePath, nil
}

// Decompress extracts archivePath into destDir.
func Decompress(ctx context.Context, archivePath string, format Format, destDir string) error {
	if _, ok := levels[format]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if format == None {
		return fmt.Errorf("%w: nothing to extract for format none", ErrUnsupportedFormat)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %q: %w", destDir, err)
	}

	var err error
	switch format {
	case Zip:
		err = readZip(ctx, archivePath, destDir)
	default:
		err = readStreamFile(ctx, archivePath, format, destDir)
	}
	if err != nil {
		return fmt.Errorf("extract %s archive %q: %w", format, archivePath, err)
	}
	return nil
}

// DecompressReader extracts an archive read from r. Zip needs random access,
// so it is spooled to a temporary file first.
func DecompressReader(ctx context.Context, r io.Reader, format Format, destDir string) error {
	if format != Zip {
		if _, ok := levels[format]; !ok || format == None {
			return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
		}
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return fmt.Errorf("create %q: %w", destDir, err)
		}
		return readStream(ctx, r, format, destDir)
	}

	tmp, err := os.CreateTemp("", "snapkeep-zip-*")
	if err != nil {
		return fmt.Errorf("spool zip: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("spool zip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("spool zip: %w", err)
	}
	return Decompress(ctx, tmp.Name(), Zip, destDir)
}

// Check reads every entry of the archive to the end, which exercises the
// container structure and, for zip, each entry's CRC.
func Check(ctx context.Context, archivePath string, format Format) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return CheckReader(ctx, f, format)
}

// CheckReader is Check for an archive supplied as a stream.
func CheckReader(ctx context.Context, r io.Reader, format Format) error {
	dir, err := os.MkdirTemp("", "snapkeep-check-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	return DecompressReader(ctx, r, format, dir)
}

// safeJoin resolves an archive entry name under destDir.
func safeJoin(destDir, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	target := filepath.Join(destDir, clean)
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}
