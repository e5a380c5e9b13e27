// Package diff compares two directory trees and reports what a differential
// snapshot must carry: paths new in the candidate and paths whose content
// changed. Deletions are not reported.
package diff

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/zeebo/xxh3"
)

// DefaultLargeFileThreshold is the size from which files are compared by
// digest rather than byte-by-byte.
const DefaultLargeFileThreshold = 1 << 20

type Kind int

const (
	Added Kind = iota
	Modified
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Change is one regular file that differs between the trees.
type Change struct {
	Path string // slash-separated, relative to the tree roots
	Kind Kind
}

// Result lists changes sorted by path.
type Result []Change

// Paths returns the changed paths in sorted order.
func (r Result) Paths() []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = c.Path
	}
	return out
}

// Contains reports whether p is part of the result.
func (r Result) Contains(p string) bool {
	i := sort.Search(len(r), func(i int) bool { return r[i].Path >= p })
	return i < len(r) && r[i].Path == p
}

// Option configures an Engine.
type Option func(*Engine)

// WithLargeFileThreshold sets the size from which xxh3 digests replace a
// byte comparison.
func WithLargeFileThreshold(n int64) Option {
	return func(e *Engine) { e.largeFile = n }
}

// WithFilter drops paths for which skip returns true. Directories that are
// skipped are not descended into.
func WithFilter(skip func(rel string) bool) Option {
	return func(e *Engine) { e.skip = skip }
}

type Engine struct {
	largeFile int64
	skip      func(rel string) bool
}

func New(opts ...Option) *Engine {
	e := &Engine{largeFile: DefaultLargeFileThreshold}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Diff returns every regular file under candidate that is absent from base
// or whose content differs.
func (e *Engine) Diff(base, candidate string) (Result, error) {
	var out Result
	if err := e.compareDir(base, candidate, "", &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (e *Engine) compareDir(base, candidate, rel string, out *Result) error {
	candEntries, err := os.ReadDir(filepath.Join(candidate, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("read candidate %q: %w", rel, err)
	}

	baseEntries, err := os.ReadDir(filepath.Join(base, filepath.FromSlash(rel)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read base %q: %w", rel, err)
	}
	baseByName := make(map[string]fs.DirEntry, len(baseEntries))
	for _, be := range baseEntries {
		baseByName[be.Name()] = be
	}

	for _, ce := range candEntries {
		childRel := path.Join(rel, ce.Name())
		if e.skip != nil && e.skip(childRel) {
			continue
		}
		be, inBase := baseByName[ce.Name()]

		switch {
		case ce.IsDir():
			if inBase && be.IsDir() {
				if err := e.compareDir(base, candidate, childRel, out); err != nil {
					return err
				}
				continue
			}
			// new directory, or a file replaced by a directory
			if err := e.addAll(candidate, childRel, out); err != nil {
				return err
			}
		case ce.Type().IsRegular():
			if !inBase {
				*out = append(*out, Change{Path: childRel, Kind: Added})
				continue
			}
			if !be.Type().IsRegular() {
				*out = append(*out, Change{Path: childRel, Kind: Modified})
				continue
			}
			same, err := e.sameContent(
				filepath.Join(base, filepath.FromSlash(childRel)),
				filepath.Join(candidate, filepath.FromSlash(childRel)),
			)
			if err != nil {
				return err
			}
			if !same {
				*out = append(*out, Change{Path: childRel, Kind: Modified})
			}
		}
	}
	return nil
}

// addAll records every regular file below rel in candidate as Added.
func (e *Engine) addAll(candidate, rel string, out *Result) error {
	root := filepath.Join(candidate, filepath.FromSlash(rel))
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		sub, err := filepath.Rel(candidate, p)
		if err != nil {
			return err
		}
		sub = filepath.ToSlash(sub)
		if e.skip != nil && p != root && e.skip(sub) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			*out = append(*out, Change{Path: sub, Kind: Added})
		}
		return nil
	})
}

func (e *Engine) sameContent(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ai.Size() != bi.Size() {
		return false, nil
	}
	if ai.Size() >= e.largeFile {
		da, err := digest(a)
		if err != nil {
			return false, err
		}
		db, err := digest(b)
		if err != nil {
			return false, err
		}
		return da == db, nil
	}
	return sameBytes(a, b)
}

func digest(p string) (xxh3.Uint128, error) {
	f, err := os.Open(p)
	if err != nil {
		return xxh3.Uint128{}, err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return xxh3.Uint128{}, fmt.Errorf("read %q: %w", p, err)
	}
	return h.Sum128(), nil
}

func sameBytes(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	const chunk = 32 * 1024
	ba, bb := make([]byte, chunk), make([]byte, chunk)
	for {
		na, errA := io.ReadFull(fa, ba)
		nb, errB := io.ReadFull(fb, bb)
		if na != nb || !bytes.Equal(ba[:na], bb[:nb]) {
			return false, nil
		}
		doneA := errors.Is(errA, io.EOF) || errors.Is(errA, io.ErrUnexpectedEOF)
		doneB := errors.Is(errB, io.EOF) || errors.Is(errB, io.ErrUnexpectedEOF)
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA == doneB, nil
		}
	}
}
