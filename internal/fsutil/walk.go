package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrBadPattern is returned by NewMatcher for a malformed glob.
var ErrBadPattern = errors.New("bad exclusion pattern")

// Matcher decides whether a relative path is excluded. A pattern matches if
// it matches the whole slash-separated path or any single path element, so
// "*.pyc" excludes files at any depth and ".git" excludes the directory
// wherever it appears.
type Matcher struct {
	patterns []string
}

func NewMatcher(patterns []string) (*Matcher, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, p, err)
		}
	}
	return &Matcher{patterns: append([]string(nil), patterns...)}, nil
}

// Match reports whether rel (slash-separated) is excluded.
func (m *Matcher) Match(rel string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	elems := strings.Split(rel, "/")
	for _, p := range m.patterns {
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		for _, e := range elems {
			if ok, _ := path.Match(p, e); ok {
				return true
			}
		}
	}
	return false
}

// PathError ties a walk failure to the path it happened on.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }
func (e *PathError) Unwrap() error { return e.Err }

// Listing is the result of Enumerate.
type Listing struct {
	// Files are sorted slash-separated paths relative to the root.
	Files []string
	// Errors holds entries that could not be read; they are absent from Files.
	Errors []*PathError
}

// Enumerate lists the regular files under root that m does not exclude.
// Absolute paths in skip (typically the backup directory) are pruned. Only a
// failure to read root itself is returned as an error.
func Enumerate(root string, m *Matcher, skip ...string) (Listing, error) {
	var out Listing

	skipSet := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		if abs, err := filepath.Abs(s); err == nil {
			skipSet[abs] = struct{}{}
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return out, err
	}

	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absRoot {
				return err
			}
			out.Errors = append(out.Errors, &PathError{Path: p, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == absRoot {
			return nil
		}
		if _, ok := skipSet[p]; ok {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if m.Match(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !IsTemp(d.Name()) {
			out.Files = append(out.Files, rel)
		}
		return nil
	})
	if err != nil {
		return Listing{}, fmt.Errorf("walk %q: %w", root, err)
	}
	sort.Strings(out.Files)
	return out, nil
}
