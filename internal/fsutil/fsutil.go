package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// tempPrefix marks in-flight files that have not been renamed into place.
const tempPrefix = ".tmp-"

// Hooks overridable by tests to inject failures between write and publish.
var (
	rename     = os.Rename
	createTemp = os.CreateTemp
)

func EnsureDirectoryExist(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dirPath, err)
	}
	return nil
}

// WriteAtomic streams fn's output into a temp file next to path, syncs it,
// and renames it over path. On error path is left untouched.
func WriteAtomic(path string, fn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := EnsureDirectoryExist(dir); err != nil {
		return err
	}

	tmp, err := createTemp(dir, tempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = fn(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %q: %w", tmpPath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", tmpPath, err)
	}
	if err = rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %q to %q: %w", tmpPath, path, err)
	}
	return nil
}

// CopyFileAtomic copies src to dst through a temp file in dst's directory,
// keeping src's permission bits and modification time.
func CopyFileAtomic(src, dst string, bufSize int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}

	err = WriteAtomic(dst, func(w io.Writer) error {
		_, err := io.CopyBuffer(w, in, make([]byte, bufSize))
		return err
	})
	if err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// ListFiles returns the slash-separated relative paths of every regular file
// under root, sorted.
func ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// TreeStats summarizes a directory tree. The root itself is not counted as
// a directory.
type TreeStats struct {
	Files       int
	Directories int
	Bytes       int64
}

func Stats(root string) (TreeStats, error) {
	var st TreeStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch {
		case path == root:
		case d.IsDir():
			st.Directories++
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			st.Files++
			st.Bytes += info.Size()
		}
		return nil
	})
	return st, err
}

// CleanupTemp removes orphaned temp files left in dir by an interrupted
// WriteAtomic.
func CleanupTemp(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, e.Name()))
	}
	return nil
}

// IsTemp reports whether name is an in-flight WriteAtomic file.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}
