package consolidate

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kebairia/snapkeep/internal/fsutil"
)

// clean removes every file or directory matching a transient pattern.
// Protected paths that are not transient are not descended into. It returns
// the number of entries removed; a removed directory counts once.
func (c *Consolidator) clean(ctx context.Context, root string, transient, protect *fsutil.Matcher, rep *Report) int {
	removed := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			rep.fail(StepClean, p, err)
			return nil
		}
		if p == root {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.insideBackupDir(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case transient.Match(rel):
			if d.IsDir() {
				err = os.RemoveAll(p)
			} else {
				err = os.Remove(p)
			}
			if err != nil {
				rep.fail(StepClean, rel, err)
				return nil
			}
			c.log.Debug("removed transient", "path", rel)
			removed++
			if d.IsDir() {
				return fs.SkipDir
			}
		case protect.Match(rel):
			if d.IsDir() {
				return fs.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		rep.fail(StepClean, root, err)
	}
	return removed
}
