package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kebairia/snapkeep/internal/diff"
	"github.com/kebairia/snapkeep/internal/fsutil"
	"github.com/kebairia/snapkeep/internal/metadata"
	"github.com/kebairia/snapkeep/internal/progress"
	"golang.org/x/sync/errgroup"
)

const (
	FullPrefix         = "project_backup"
	DifferentialPrefix = "differential_backup"

	idTimeLayout  = "20060102_150405"
	stagingPrefix = ".staging-"
)

// CreateFullSnapshot copies every eligible file under root into a new
// snapshot. Per-file copy failures are recorded in the returned progress and
// the file is left out; any other failure removes what the run created.
func (e *Engine) CreateFullSnapshot(ctx context.Context, root string) (metadata.Snapshot, progress.BackupProgress, error) {
	tracker := progress.NewTracker(e.cfg.Observer)
	snap, err := e.createFull(ctx, root, tracker)
	return snap, tracker.Snapshot(), err
}

// CreateDifferentialSnapshot stores only the files under root that are new
// or changed relative to the tree that baseID reconstructs.
func (e *Engine) CreateDifferentialSnapshot(ctx context.Context, baseID, root string) (metadata.Snapshot, progress.BackupProgress, error) {
	tracker := progress.NewTracker(e.cfg.Observer)
	snap, err := e.createDifferential(ctx, baseID, root, tracker)
	return snap, tracker.Snapshot(), err
}

func (e *Engine) createFull(ctx context.Context, root string, tracker *progress.Tracker) (metadata.Snapshot, error) {
	if err := e.validate(); err != nil {
		return e.abort(tracker, metadata.Full, err)
	}
	root, err := e.checkRoot(root)
	if err != nil {
		return e.abort(tracker, metadata.Full, err)
	}
	if e.cfg.Encryption.Enabled {
		if _, err := e.cipherFor(ctx); err != nil {
			return e.abort(tracker, metadata.Full, err)
		}
	}

	tracker.Start(0)
	matcher, _ := fsutil.NewMatcher(e.cfg.Exclude)
	listing, err := fsutil.Enumerate(root, matcher, e.dir)
	if err != nil {
		return e.abort(tracker, metadata.Full, err)
	}
	for _, pe := range listing.Errors {
		tracker.Error(pe.Error())
	}

	return e.build(ctx, tracker, build{
		prefix: FullPrefix,
		kind:   metadata.Full,
		root:   root,
		files:  listing.Files,
	})
}

func (e *Engine) createDifferential(ctx context.Context, baseID, root string, tracker *progress.Tracker) (metadata.Snapshot, error) {
	if err := e.validate(); err != nil {
		return e.abort(tracker, metadata.Differential, err)
	}
	if !e.cfg.Differential.Enabled {
		return e.abort(tracker, metadata.Differential,
			fmt.Errorf("%w: differential snapshots are disabled", ErrConfig))
	}
	root, err := e.checkRoot(root)
	if err != nil {
		return e.abort(tracker, metadata.Differential, err)
	}

	idx, err := e.store.Load()
	if err != nil {
		return e.abort(tracker, metadata.Differential, err)
	}
	if _, ok := idx.Find(baseID); !ok {
		return e.abort(tracker, metadata.Differential,
			fmt.Errorf("%w: unknown base snapshot %q: %w", ErrConfig, baseID, metadata.ErrNotFound))
	}
	chain, err := idx.Chain(baseID)
	if err != nil {
		return e.abort(tracker, metadata.Differential, fmt.Errorf("%w: %w", ErrConfig, err))
	}
	// chain holds the root full snapshot plus len(chain)-1 differentials
	if len(chain) > e.cfg.Differential.MaxChain {
		return e.abort(tracker, metadata.Differential,
			fmt.Errorf("%w: base %q already has %d differentials, max_chain is %d",
				ErrConfig, baseID, len(chain)-1, e.cfg.Differential.MaxChain))
	}
	if e.cfg.Encryption.Enabled || anyEncrypted(chain) {
		if _, err := e.cipherFor(ctx); err != nil {
			return e.abort(tracker, metadata.Differential, err)
		}
	}

	tracker.Start(0)
	baseTree, cleanup, err := e.effectiveTree(ctx, chain)
	if err != nil {
		return e.abort(tracker, metadata.Differential, fmt.Errorf("materialize base %q: %w", baseID, err))
	}
	defer cleanup()

	matcher, _ := fsutil.NewMatcher(e.cfg.Exclude)
	skipRel := e.relativeBackupDir(root)
	d := diff.New(diff.WithFilter(func(rel string) bool {
		if skipRel != "" && (rel == skipRel || strings.HasPrefix(rel, skipRel+"/")) {
			return true
		}
		return matcher.Match(rel) || fsutil.IsTemp(filepath.Base(rel))
	}))
	changes, err := d.Diff(baseTree, root)
	if err != nil {
		return e.abort(tracker, metadata.Differential, fmt.Errorf("diff against %q: %w", baseID, err))
	}
	e.log.Debug("differential changes", "base", baseID, "changed", len(changes))

	return e.build(ctx, tracker, build{
		prefix: DifferentialPrefix,
		kind:   metadata.Differential,
		baseID: baseID,
		root:   root,
		files:  changes.Paths(),
	})
}

// build is one snapshot run after its file set is known.
type build struct {
	prefix string
	kind   metadata.Kind
	baseID string
	root   string
	files  []string
}

func (e *Engine) build(ctx context.Context, tracker *progress.Tracker, b build) (_ metadata.Snapshot, err error) {
	start := e.clock.Now()

	if err := fsutil.EnsureDirectoryExist(e.dir); err != nil {
		return e.abort(tracker, b.kind, err)
	}
	id, staging, err := e.reserveID(b.prefix, start)
	if err != nil {
		return e.abort(tracker, b.kind, err)
	}
	log := e.log.With("snapshot", id)

	var archivePath, publishedDir string
	defer func() {
		if err == nil {
			return
		}
		os.RemoveAll(staging)
		if publishedDir != "" {
			os.RemoveAll(publishedDir)
		}
		if archivePath != "" {
			os.Remove(archivePath)
		}
	}()

	tracker.SetTotal(len(b.files))
	copied, err := e.copyFiles(ctx, b.root, staging, b.files, tracker)
	if err != nil {
		return e.abort(tracker, b.kind, err)
	}

	digest, err := e.hasher.HashTree(ctx, staging)
	if err != nil {
		return e.abort(tracker, b.kind, fmt.Errorf("hash staged tree: %w", err))
	}
	stats, err := fsutil.Stats(staging)
	if err != nil {
		return e.abort(tracker, b.kind, fmt.Errorf("measure staged tree: %w", err))
	}

	archivePath, err = e.archive(ctx, staging, filepath.Join(e.dir, id))
	if err != nil {
		return e.abort(tracker, b.kind, err)
	}
	var archiveSize int64
	if archivePath != "" {
		if info, err := os.Stat(archivePath); err == nil {
			archiveSize = info.Size()
		}
	}

	if e.cfg.KeepStaged {
		publishedDir = filepath.Join(e.dir, id)
		if err = os.Rename(staging, publishedDir); err != nil {
			publishedDir = ""
			return e.abort(tracker, b.kind, fmt.Errorf("publish staged tree: %w", err))
		}
	} else if err = os.RemoveAll(staging); err != nil {
		return e.abort(tracker, b.kind, fmt.Errorf("remove staged tree: %w", err))
	}

	snap := metadata.Snapshot{
		ID:                 id,
		ContentHash:        digest.String(),
		SizeBytes:          stats.Bytes,
		FileCount:          stats.Files,
		DirectoryCount:     stats.Directories,
		Kind:               b.kind,
		Compression:        e.cfg.Compression,
		Encrypted:          e.cfg.Encryption.Enabled,
		DifferentialBaseID: b.baseID,
		CreatedAt:          start.UTC(),
		DirPath:            publishedDir,
		ArchivePath:        archivePath,
		ArchiveSizeBytes:   archiveSize,
		Files:              copied,
	}
	if err = e.store.Append(snap); err != nil {
		return e.abort(tracker, b.kind, fmt.Errorf("record snapshot: %w", err))
	}

	log.Info("snapshot created",
		"kind", b.kind,
		"files", snap.FileCount,
		"bytes", snap.SizeBytes,
		"archive", snap.ArchivePath,
		"content_hash", snap.ContentHash,
	)

	if removed, perr := e.Prune(ctx); perr != nil {
		log.Warn("retention failed", "error", perr.Error())
		tracker.Error("retention: " + perr.Error())
	} else if len(removed) > 0 {
		log.Info("retention removed snapshots", "ids", removed)
	}

	tracker.Complete()
	e.metrics.SnapshotFinished(string(b.kind), string(progress.Completed),
		snap.FileCount, snap.SizeBytes, e.clock.Now().Sub(start), e.clock.Now())
	return snap, nil
}

// copyFiles copies root/rel to staging/rel for every file on a bounded pool.
// A file that fails to copy is reported and skipped; only cancellation stops
// the run. It returns the files that were copied, sorted.
func (e *Engine) copyFiles(ctx context.Context, root, staging string, files []string, tracker *progress.Tracker) ([]string, error) {
	ok := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers())
	for i, rel := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tracker.Begin(rel)
			defer tracker.Done()

			src := filepath.Join(root, filepath.FromSlash(rel))
			dst := filepath.Join(staging, filepath.FromSlash(rel))
			if err := fsutil.CopyFileAtomic(src, dst, e.cfg.ChunkSize); err != nil {
				tracker.Error(fmt.Sprintf("copy %s: %v", rel, err))
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	copied := make([]string, 0, len(files))
	for i, rel := range files {
		if ok[i] {
			copied = append(copied, rel)
		}
	}
	return copied, nil
}

// reserveID picks prefix_YYYYMMDD_HHMMSS, adding _N while the id is taken,
// and claims it by creating its staging directory.
func (e *Engine) reserveID(prefix string, at time.Time) (string, string, error) {
	idx, err := e.store.Load()
	if err != nil {
		return "", "", err
	}
	base := prefix + "_" + at.Format(idTimeLayout)
	for n := 0; ; n++ {
		id := base
		if n > 0 {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		if _, taken := idx.Find(id); taken || e.artifactsExist(id) {
			continue
		}
		staging := filepath.Join(e.dir, stagingPrefix+id)
		err := os.Mkdir(staging, 0o755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("create staging directory: %w", err)
		}
		return id, staging, nil
	}
}

func (e *Engine) artifactsExist(id string) bool {
	matches, _ := filepath.Glob(filepath.Join(e.dir, id) + "*")
	for _, m := range matches {
		name := filepath.Base(m)
		if name == id || strings.HasPrefix(name, id+".") {
			return true
		}
	}
	return false
}

func (e *Engine) checkRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: resolve root %q: %v", ErrConfig, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: source root: %v", ErrConfig, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: source root %q is not a directory", ErrConfig, abs)
	}
	return abs, nil
}

// relativeBackupDir is the backup directory relative to root, or "" when it
// lies outside root.
func (e *Engine) relativeBackupDir(root string) string {
	dir, err := filepath.Abs(e.dir)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}

// abort fails the run and returns err.
func (e *Engine) abort(tracker *progress.Tracker, kind metadata.Kind, err error) (metadata.Snapshot, error) {
	p := tracker.Snapshot()
	tracker.Fail(err)
	e.log.Error("snapshot failed", "kind", kind, "error", err.Error())
	if !p.StartedAt.IsZero() {
		e.metrics.SnapshotFinished(string(kind), string(progress.Failed), 0, 0, e.clock.Now().Sub(p.StartedAt), e.clock.Now())
	}
	return metadata.Snapshot{}, err
}

func anyEncrypted(chain []metadata.Snapshot) bool {
	for _, s := range chain {
		if s.Encrypted {
			return true
		}
	}
	return false
}
