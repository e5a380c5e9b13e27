package consolidate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kebairia/snapkeep/internal/config"
	"github.com/kebairia/snapkeep/internal/fsutil"
	"github.com/kebairia/snapkeep/internal/hasher"
	"golang.org/x/sync/errgroup"
)

// ErrBirthTimeUnavailable is reported for duplicate groups that the
// creation_time policy cannot order.
var ErrBirthTimeUnavailable = errors.New("file birth time unavailable")

// birthTime is overridable by tests; filesystems differ in whether they
// record it.
var birthTime = statxBirthTime

type member struct {
	rel string
	abs string
}

// dedup hashes every file, groups them by digest and deletes all but one
// member of each group. It returns the number of files deleted.
func (c *Consolidator) dedup(ctx context.Context, root string, protect *fsutil.Matcher, rep *Report) int {
	listing, err := fsutil.Enumerate(root, protect, c.skip()...)
	if err != nil {
		rep.fail(StepDedup, root, err)
		return 0
	}
	for _, pe := range listing.Errors {
		rep.fail(StepDedup, pe.Path, pe.Err)
	}

	digests := c.hashAll(ctx, root, listing.Files, rep)
	if ctx.Err() != nil {
		return 0
	}

	groups := make(map[hasher.Digest][]member)
	var order []hasher.Digest
	for i, rel := range listing.Files {
		d, ok := digests[i]
		if !ok {
			continue
		}
		if _, seen := groups[d]; !seen {
			order = append(order, d)
		}
		groups[d] = append(groups[d], member{rel: rel, abs: filepath.Join(root, filepath.FromSlash(rel))})
	}

	removed := 0
	for _, d := range order {
		g := groups[d]
		if len(g) < 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			rep.fail(StepDedup, "", err)
			break
		}
		keep, err := c.survivor(g)
		if err != nil {
			rep.fail(StepDedup, g[0].rel, err)
			c.log.Warn("duplicate group left alone", "digest", d.String(), "files", len(g), "error", err.Error())
			continue
		}
		for i, m := range g {
			if i == keep {
				continue
			}
			if err := os.Remove(m.abs); err != nil {
				rep.fail(StepDedup, m.rel, err)
				continue
			}
			c.log.Debug("removed duplicate", "path", m.rel, "kept", g[keep].rel)
			removed++
		}
	}
	return removed
}

// hashAll returns digests keyed by index into files. Unreadable files are
// reported and left out.
func (c *Consolidator) hashAll(ctx context.Context, root string, files []string, rep *Report) map[int]hasher.Digest {
	results := make([]hasher.Digest, len(files))
	errs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = c.hasher.HashFile(filepath.Join(root, filepath.FromSlash(rel)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rep.fail(StepDedup, "", err)
		return nil
	}

	out := make(map[int]hasher.Digest, len(files))
	for i := range files {
		if errs[i] != nil {
			rep.fail(StepDedup, files[i], errs[i])
			continue
		}
		out[i] = results[i]
	}
	return out
}

// survivor picks the index of the member to keep. Members arrive in sorted
// path order, which breaks ties.
func (c *Consolidator) survivor(g []member) (int, error) {
	var stamp func(m member) (time.Time, error)
	switch c.cfg.DedupKeep {
	case config.KeepFirstSeen:
		return 0, nil
	case config.KeepModificationTime:
		stamp = func(m member) (time.Time, error) {
			info, err := os.Stat(m.abs)
			if err != nil {
				return time.Time{}, err
			}
			return info.ModTime(), nil
		}
	default:
		stamp = func(m member) (time.Time, error) { return birthTime(m.abs) }
	}

	times := make([]time.Time, len(g))
	for i, m := range g {
		t, err := stamp(m)
		if err != nil {
			return 0, err
		}
		times[i] = t
	}
	idx := make([]int, len(g))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return times[idx[a]].Before(times[idx[b]]) })
	return idx[0], nil
}
