package operations

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/kebairia/snapkeep/internal/metadata"
	"github.com/kebairia/snapkeep/internal/progress"
)

// ErrUnknownRun is returned for a RunHandle the Runner never issued.
var ErrUnknownRun = errors.New("unknown run handle")

// RunHandle identifies a background snapshot run.
type RunHandle string

type run struct {
	tracker *progress.Tracker
	cancel  context.CancelFunc
	done    chan struct{}

	snap metadata.Snapshot
	err  error
}

// Runner starts snapshot runs in the background and lets callers poll,
// wait for and cancel them.
type Runner struct {
	engine *Engine

	mu   sync.Mutex
	runs map[RunHandle]*run
}

func NewRunner(engine *Engine) *Runner {
	return &Runner{engine: engine, runs: make(map[RunHandle]*run)}
}

// StartBackup begins a full snapshot of root.
func (r *Runner) StartBackup(ctx context.Context, root string) RunHandle {
	return r.start(ctx, func(ctx context.Context, t *progress.Tracker) (metadata.Snapshot, error) {
		return r.engine.createFull(ctx, root, t)
	})
}

// StartDifferential begins a differential snapshot of root against baseID.
func (r *Runner) StartDifferential(ctx context.Context, baseID, root string) RunHandle {
	return r.start(ctx, func(ctx context.Context, t *progress.Tracker) (metadata.Snapshot, error) {
		return r.engine.createDifferential(ctx, baseID, root, t)
	})
}

func (r *Runner) start(ctx context.Context, fn func(context.Context, *progress.Tracker) (metadata.Snapshot, error)) RunHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := RunHandle(uuid.NewString())
	rn := &run{
		tracker: progress.NewTracker(r.engine.cfg.Observer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	r.runs[h] = rn
	r.mu.Unlock()

	go func() {
		defer close(rn.done)
		defer cancel()
		rn.snap, rn.err = fn(ctx, rn.tracker)
	}()
	return h
}

func (r *Runner) lookup(h RunHandle) (*run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[h]
	return rn, ok
}

// GetProgress returns a copy of the run's current progress.
func (r *Runner) GetProgress(h RunHandle) (progress.BackupProgress, bool) {
	rn, ok := r.lookup(h)
	if !ok {
		return progress.BackupProgress{}, false
	}
	return rn.tracker.Snapshot(), true
}

// Wait blocks until the run ends and returns its outcome.
func (r *Runner) Wait(h RunHandle) (metadata.Snapshot, error) {
	rn, ok := r.lookup(h)
	if !ok {
		return metadata.Snapshot{}, ErrUnknownRun
	}
	<-rn.done
	return rn.snap, rn.err
}

// Cancel asks the run to stop at the next file boundary. It reports whether
// the handle is known.
func (r *Runner) Cancel(h RunHandle) bool {
	rn, ok := r.lookup(h)
	if ok {
		rn.cancel()
	}
	return ok
}

// Forget drops a finished run. Running runs are kept.
func (r *Runner) Forget(h RunHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rn, ok := r.runs[h]; ok {
		select {
		case <-rn.done:
			delete(r.runs, h)
		default:
		}
	}
}

func (r *Runner) ListSnapshots() ([]metadata.Snapshot, error) {
	return r.engine.ListSnapshots()
}

func (r *Runner) Verify(ctx context.Context, id string) VerificationReport {
	return r.engine.VerifySnapshot(ctx, id)
}
