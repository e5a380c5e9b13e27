package progress

import (
	"slices"
	"sync"
	"time"
)

// Status is the lifecycle state of one backup run.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// BackupProgress is a point-in-time view of a run.
type BackupProgress struct {
	TotalFiles     int       `json:"total_files"`
	ProcessedFiles int       `json:"processed_files"`
	CurrentFile    string    `json:"current_file"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	Errors         []string  `json:"errors,omitempty"`
}

// PercentComplete returns processed/total in the range [0, 100].
func (p BackupProgress) PercentComplete() float64 {
	if p.TotalFiles == 0 {
		return 0
	}
	return float64(p.ProcessedFiles) / float64(p.TotalFiles) * 100
}

// Elapsed is EndedAt-StartedAt, or the time since StartedAt for a run that
// has not ended yet.
func (p BackupProgress) Elapsed() time.Duration {
	if p.StartedAt.IsZero() {
		return 0
	}
	if p.EndedAt.IsZero() {
		return time.Since(p.StartedAt)
	}
	return p.EndedAt.Sub(p.StartedAt)
}

// Observer receives a copy of the progress after every change.
type Observer interface {
	OnProgress(BackupProgress)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(BackupProgress)

func (f ObserverFunc) OnProgress(p BackupProgress) { f(p) }

// ChannelObserver forwards snapshots into ch without blocking the run. When
// the consumer falls behind, intermediate snapshots are dropped.
func ChannelObserver(ch chan<- BackupProgress) Observer {
	return ObserverFunc(func(p BackupProgress) {
		select {
		case ch <- p:
		default:
		}
	})
}

// Tracker owns the BackupProgress of a single run. It is safe for
// concurrent use by the run's workers.
type Tracker struct {
	mu       sync.Mutex
	state    BackupProgress
	observer Observer
	now      func() time.Time
}

// NewTracker returns a tracker in the Pending state.
func NewTracker(observer Observer) *Tracker {
	return &Tracker{
		state:    BackupProgress{Status: Pending},
		observer: observer,
		now:      time.Now,
	}
}

// Start moves the run to Running.
func (t *Tracker) Start(total int) {
	t.update(func(p *BackupProgress) {
		p.Status = Running
		p.TotalFiles = total
		p.StartedAt = t.now()
	})
}

// SetTotal changes the number of expected file units.
func (t *Tracker) SetTotal(total int) {
	t.update(func(p *BackupProgress) { p.TotalFiles = total })
}

// Begin records the file currently being processed.
func (t *Tracker) Begin(file string) {
	t.update(func(p *BackupProgress) { p.CurrentFile = file })
}

// Done marks one file unit as processed, successfully or not.
func (t *Tracker) Done() {
	t.update(func(p *BackupProgress) { p.ProcessedFiles++ })
}

// Error appends a message to the ordered error list.
func (t *Tracker) Error(msg string) {
	t.update(func(p *BackupProgress) { p.Errors = append(p.Errors, msg) })
}

// Complete moves the run to Completed.
func (t *Tracker) Complete() { t.finish(Completed) }

// Fail records err and moves the run to Failed.
func (t *Tracker) Fail(err error) {
	t.update(func(p *BackupProgress) {
		if err != nil {
			p.Errors = append(p.Errors, err.Error())
		}
	})
	t.finish(Failed)
}

func (t *Tracker) finish(s Status) {
	t.update(func(p *BackupProgress) {
		if p.Status.Terminal() {
			return
		}
		p.Status = s
		p.CurrentFile = ""
		p.EndedAt = t.now()
	})
}

// Snapshot returns a copy that the caller may keep.
func (t *Tracker) Snapshot() BackupProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

func (t *Tracker) update(fn func(*BackupProgress)) {
	t.mu.Lock()
	fn(&t.state)
	snap := t.copyLocked()
	t.mu.Unlock()

	if t.observer != nil {
		t.observer.OnProgress(snap)
	}
}

func (t *Tracker) copyLocked() BackupProgress {
	cp := t.state
	cp.Errors = slices.Clone(t.state.Errors)
	return cp
}
