package consolidate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kebairia/snapkeep/internal/fsutil"
)

// Categories maps a lower-case extension to the directory its files are
// moved into.
var Categories = map[string]string{
	".jpg": "images", ".jpeg": "images", ".png": "images",
	".gif": "images", ".bmp": "images", ".svg": "images",

	".pdf": "documents", ".doc": "documents", ".docx": "documents",
	".txt": "documents", ".md": "documents", ".rst": "documents",

	".py": "source", ".js": "source", ".java": "source",
	".cpp": "source", ".h": "source", ".css": "source", ".html": "source",

	".json": "data", ".yaml": "data", ".yml": "data",
	".xml": "data", ".csv": "data", ".sqlite": "data",

	".zip": "archives", ".tar": "archives", ".gz": "archives",
	".bz2": "archives", ".xz": "archives", ".7z": "archives",
}

// organize moves each categorized file to <root>/<category>/<name>. Files
// already under their category directory stay put.
func (c *Consolidator) organize(ctx context.Context, root string, protect *fsutil.Matcher, rep *Report) int {
	listing, err := fsutil.Enumerate(root, protect, c.skip()...)
	if err != nil {
		rep.fail(StepOrganize, root, err)
		return 0
	}
	for _, pe := range listing.Errors {
		rep.fail(StepOrganize, pe.Path, pe.Err)
	}

	moved := 0
	for _, rel := range listing.Files {
		if err := ctx.Err(); err != nil {
			rep.fail(StepOrganize, "", err)
			break
		}
		category, ok := Categories[strings.ToLower(path.Ext(rel))]
		if !ok || strings.HasPrefix(rel, category+"/") {
			continue
		}

		dir := filepath.Join(root, category)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			rep.fail(StepOrganize, rel, err)
			continue
		}
		dst, err := c.freeName(dir, path.Base(rel))
		if err != nil {
			rep.fail(StepOrganize, rel, err)
			continue
		}
		if err := os.Rename(filepath.Join(root, filepath.FromSlash(rel)), dst); err != nil {
			rep.fail(StepOrganize, rel, err)
			continue
		}
		c.log.Debug("organized file", "from", rel, "to", dst)
		moved++
	}
	return moved
}

// freeName returns dir/name, or dir/{stem}_{unix}{ext} when that is taken,
// then dir/{stem}_{unix}_{n}{ext}.
func (c *Consolidator) freeName(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
		return candidate, nil
	} else if err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	base := fmt.Sprintf("%s_%d", stem, c.now().Unix())
	for n := 0; n < 10000; n++ {
		alt := base
		if n > 0 {
			alt = fmt.Sprintf("%s_%d", base, n)
		}
		candidate = filepath.Join(dir, alt+ext)
		_, err := os.Lstat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %q in %q", name, dir)
}
