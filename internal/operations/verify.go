package operations

import (
	"context"
	"fmt"
	"os"

	"github.com/kebairia/snapkeep/internal/compress"
	"github.com/kebairia/snapkeep/internal/fsutil"
	"github.com/kebairia/snapkeep/internal/metadata"
)

// VerificationReport is the outcome of VerifySnapshot. A check is false
// when it failed or could not run; Errors says why. EncryptionCheck only
// means something when Encrypted is set.
type VerificationReport struct {
	SnapshotID      string   `json:"snapshot_id"`
	MetadataCheck   bool     `json:"metadata_check"`
	ContentCheck    bool     `json:"content_check"`
	HashCheck       bool     `json:"hash_check"`
	SizeCheck       bool     `json:"size_check"`
	Encrypted       bool     `json:"encrypted"`
	EncryptionCheck bool     `json:"encryption_check"`
	Errors          []string `json:"errors,omitempty"`
}

// OK reports whether every applicable check passed.
func (r VerificationReport) OK() bool {
	ok := r.MetadataCheck && r.ContentCheck && r.HashCheck && r.SizeCheck && len(r.Errors) == 0
	if r.Encrypted {
		ok = ok && r.EncryptionCheck
	}
	return ok
}

func (r *VerificationReport) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// VerifySnapshot re-derives the content hash and size of snapshot id and
// checks its archive. The backup directory is only read.
func (e *Engine) VerifySnapshot(ctx context.Context, id string) VerificationReport {
	rep := VerificationReport{SnapshotID: id}

	idx, err := e.store.Load()
	if err != nil {
		rep.fail("load index: %v", err)
		return rep
	}
	snap, ok := idx.Find(id)
	if !ok {
		rep.fail("no metadata record for %s", id)
		return rep
	}
	rep.Encrypted = snap.Encrypted
	rep.MetadataCheck = e.checkRecord(&rep, idx, snap)

	// tree is what gets hashed and measured
	var tree string
	if hasDir(snap.DirPath) {
		tree = snap.DirPath
	}

	var extracted string
	switch {
	case snap.ArchivePath != "":
		tmp, err := os.MkdirTemp("", "snapkeep-verify-*")
		if err != nil {
			rep.fail("create scratch directory: %v", err)
			return rep
		}
		defer os.RemoveAll(tmp)

		if err := e.extractArchive(ctx, snap, tmp); err != nil {
			rep.fail("archive unreadable: %v", err)
		} else {
			rep.ContentCheck = true
			rep.EncryptionCheck = snap.Encrypted
			extracted = tmp
		}
		if snap.Encrypted && !rep.EncryptionCheck {
			rep.fail("archive %s could not be decrypted with the configured key", snap.ArchivePath)
		}
		if tree == "" {
			tree = extracted
		}
	case snap.Compression == compress.None:
		rep.ContentCheck = tree != ""
		if tree == "" {
			rep.fail("staged tree %q is missing", snap.DirPath)
		}
	default:
		rep.fail("snapshot %s records %s compression but no archive", id, snap.Compression)
	}

	if tree == "" {
		return rep
	}

	digest, err := e.hasher.HashTree(ctx, tree)
	if err != nil {
		rep.fail("hash %s: %v", tree, err)
	} else if digest.String() != snap.ContentHash {
		rep.fail("content hash mismatch: recorded %s, computed %s", snap.ContentHash, digest)
	} else {
		rep.HashCheck = true
	}

	// a kept staged tree and its archive must agree
	if rep.HashCheck && extracted != "" && tree != extracted {
		ad, err := e.hasher.HashTree(ctx, extracted)
		if err != nil || ad.String() != snap.ContentHash {
			rep.HashCheck = false
			rep.fail("archive content differs from staged tree")
		}
	}

	stats, err := fsutil.Stats(tree)
	switch {
	case err != nil:
		rep.fail("measure %s: %v", tree, err)
	case stats.Bytes != snap.SizeBytes || stats.Files != snap.FileCount:
		rep.fail("size mismatch: recorded %d bytes in %d files, found %d bytes in %d files",
			snap.SizeBytes, snap.FileCount, stats.Bytes, stats.Files)
	default:
		rep.SizeCheck = true
	}

	e.log.Debug("snapshot verified", "snapshot", id, "ok", rep.OK(), "errors", len(rep.Errors))
	return rep
}

func (e *Engine) checkRecord(rep *VerificationReport, idx metadata.Index, snap metadata.Snapshot) bool {
	ok := true
	if snap.ContentHash == "" {
		rep.fail("record %s has no content hash", snap.ID)
		ok = false
	}
	if err := compress.Validate(snap.Compression, compress.ClampLevel(snap.Compression, 1)); err != nil {
		rep.fail("record %s: %v", snap.ID, err)
		ok = false
	}
	if snap.Kind == metadata.Differential {
		if _, err := idx.Chain(snap.ID); err != nil {
			rep.fail("%v", err)
			ok = false
		}
	}
	return ok
}
