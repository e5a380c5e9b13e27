package operations

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kebairia/snapkeep/internal/fsutil"
	"github.com/kebairia/snapkeep/internal/metadata"
)

// RestoreSnapshot reconstructs snapshot id into dest: the chain's full
// snapshot first, then each differential in order. Files already in dest
// are overwritten; nothing is deleted.
func (e *Engine) RestoreSnapshot(ctx context.Context, id, dest string) error {
	idx, err := e.store.Load()
	if err != nil {
		return err
	}
	chain, err := idx.Chain(id)
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDirectoryExist(dest); err != nil {
		return err
	}

	for _, snap := range chain {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.log.Debug("restoring snapshot layer", "snapshot", snap.ID, "kind", snap.Kind, "dest", dest)
		if err := e.materialize(ctx, snap, dest); err != nil {
			return fmt.Errorf("restore %s: %w", snap.ID, err)
		}
	}
	e.log.Info("snapshot restored", "snapshot", id, "layers", len(chain), "dest", dest)
	return nil
}

// Prune applies retention: the newest MaxSnapshots records are kept, along
// with every snapshot a kept differential depends on. It returns the ids it
// removed. MaxSnapshots 0 keeps everything.
func (e *Engine) Prune(_ context.Context) ([]string, error) {
	if e.cfg.MaxSnapshots <= 0 {
		return nil, nil
	}

	var doomed []metadata.Snapshot
	err := e.store.Update(func(idx *metadata.Index) error {
		doomed = doomed[:0]
		n := len(idx.Backups)
		if n <= e.cfg.MaxSnapshots {
			return nil
		}

		keep := make(map[string]bool, n)
		for _, s := range idx.Backups[n-e.cfg.MaxSnapshots:] {
			keep[s.ID] = true
			chain, err := idx.Chain(s.ID)
			if err != nil {
				// a broken chain keeps what it can still reach
				e.log.Warn("retention found a broken chain", "snapshot", s.ID, "error", err.Error())
				continue
			}
			for _, c := range chain {
				keep[c.ID] = true
			}
		}

		kept := make([]metadata.Snapshot, 0, n)
		for _, s := range idx.Backups {
			if keep[s.ID] {
				kept = append(kept, s)
			} else {
				doomed = append(doomed, s)
			}
		}
		idx.Backups = kept
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(doomed))
	var errs []error
	for _, s := range doomed {
		ids = append(ids, s.ID)
		if err := removeArtifacts(s); err != nil {
			e.log.Warn("could not remove snapshot files", "snapshot", s.ID, "error", err.Error())
			errs = append(errs, fmt.Errorf("remove %s: %w", s.ID, err))
		}
	}
	return ids, errors.Join(errs...)
}

func removeArtifacts(s metadata.Snapshot) error {
	if s.DirPath != "" {
		if err := os.RemoveAll(s.DirPath); err != nil {
			return err
		}
	}
	if s.ArchivePath != "" {
		if err := os.Remove(s.ArchivePath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
