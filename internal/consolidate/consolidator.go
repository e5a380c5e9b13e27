// Package consolidate tidies a project tree after taking a safety snapshot
// of it: files are grouped by type, duplicate content is removed and
// transient artifacts are purged.
package consolidate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kebairia/snapkeep/internal/config"
	"github.com/kebairia/snapkeep/internal/fsutil"
	"github.com/kebairia/snapkeep/internal/hasher"
	"github.com/kebairia/snapkeep/internal/logger"
	"github.com/kebairia/snapkeep/internal/metadata"
	"github.com/kebairia/snapkeep/internal/metrics"
	"github.com/kebairia/snapkeep/internal/progress"
)

// Step names used in reports and metrics.
const (
	StepBackup   = "backup"
	StepOrganize = "organize"
	StepDedup    = "dedup"
	StepClean    = "clean"
)

// Snapshotter takes the safety snapshot.
type Snapshotter interface {
	CreateFullSnapshot(ctx context.Context, root string) (metadata.Snapshot, progress.BackupProgress, error)
}

// StepError ties a failure to the step and path it happened on.
type StepError struct {
	Step string
	Path string
	Err  error
}

func (e *StepError) Error() string {
	if e.Path == "" {
		return e.Step + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %v", e.Step, e.Path, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Report summarizes one Run.
type Report struct {
	SnapshotID        string
	OrganizedFiles    int
	RemovedDuplicates int
	CleanedTransient  int
	Errors            []*StepError
}

func (r *Report) fail(step, path string, err error) {
	r.Errors = append(r.Errors, &StepError{Step: step, Path: path, Err: err})
}

type Option func(*Consolidator)

func WithLogger(l logger.Logger) Option {
	return func(c *Consolidator) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Consolidator) { c.metrics = m }
}

// WithExclude protects paths from organize and dedup. Clean still removes
// protected paths that match a transient pattern.
func WithExclude(patterns []string) Option {
	return func(c *Consolidator) { c.exclude = append([]string(nil), patterns...) }
}

// WithHashing sets the dedup read size and worker count.
func WithHashing(chunkSize, workers int) Option {
	return func(c *Consolidator) {
		c.hasher = hasher.New(hasher.WithChunkSize(chunkSize), hasher.WithConcurrency(workers))
		if workers > 0 {
			c.workers = workers
		}
	}
}

// WithNow replaces the clock used for collision suffixes.
func WithNow(now func() time.Time) Option {
	return func(c *Consolidator) { c.now = now }
}

type Consolidator struct {
	cfg       config.ConsolidateConfig
	snapshots Snapshotter
	backupDir string
	exclude   []string

	hasher  *hasher.Hasher
	workers int
	log     logger.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// New returns a Consolidator. backupDir is never touched by the mutating
// steps, even when it lies inside the consolidated root.
func New(snapshots Snapshotter, backupDir string, cfg config.ConsolidateConfig, opts ...Option) *Consolidator {
	c := &Consolidator{
		cfg:       cfg,
		snapshots: snapshots,
		backupDir: backupDir,
		hasher:    hasher.New(),
		workers:   4,
		log:       logger.Global(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run takes a full snapshot of root and, only if that succeeds, organizes,
// deduplicates and cleans it as configured. Step failures are collected in
// the report; a failed snapshot stops the run before anything is changed.
func (c *Consolidator) Run(ctx context.Context, root string) Report {
	var rep Report

	root, err := filepath.Abs(root)
	if err != nil {
		rep.fail(StepBackup, root, err)
		return rep
	}
	protect, err := fsutil.NewMatcher(c.exclude)
	if err != nil {
		rep.fail(StepBackup, "", err)
		return rep
	}
	transient, err := fsutil.NewMatcher(c.cfg.TransientPatterns)
	if err != nil {
		rep.fail(StepClean, "", err)
		return rep
	}

	snap, _, err := c.snapshots.CreateFullSnapshot(ctx, root)
	if err != nil {
		rep.fail(StepBackup, "", err)
		c.log.Error("safety snapshot failed, nothing was changed", "root", root, "error", err.Error())
		return rep
	}
	rep.SnapshotID = snap.ID
	log := c.log.With("root", root, "snapshot", snap.ID)

	steps := []struct {
		name    string
		metric  string
		enabled bool
		count   *int
		run     func() int
	}{
		{StepOrganize, "organized", c.cfg.Organize, &rep.OrganizedFiles,
			func() int { return c.organize(ctx, root, protect, &rep) }},
		{StepDedup, "deduplicated", c.cfg.Dedup, &rep.RemovedDuplicates,
			func() int { return c.dedup(ctx, root, protect, &rep) }},
		{StepClean, "cleaned", c.cfg.Clean, &rep.CleanedTransient,
			func() int { return c.clean(ctx, root, transient, protect, &rep) }},
	}
	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			rep.fail(s.name, "", err)
			return rep
		}
		*s.count = s.run()
		c.metrics.Consolidated(s.metric, *s.count)
		log.Info("consolidation step finished", "step", s.name, "count", *s.count)
	}

	if len(rep.Errors) > 0 {
		log.Warn("consolidation finished with errors", "errors", len(rep.Errors))
	}
	return rep
}

func (c *Consolidator) skip() []string {
	if c.backupDir == "" {
		return nil
	}
	return []string{c.backupDir}
}

// insideBackupDir reports whether the absolute path p is the backup
// directory or below it.
func (c *Consolidator) insideBackupDir(p string) bool {
	if c.backupDir == "" {
		return false
	}
	dir, err := filepath.Abs(c.backupDir)
	if err != nil {
		return false
	}
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}
