package metadata

import (
	"time"

	"github.com/kebairia/snapkeep/internal/compress"
)

const (
	// IndexFilename is the snapshot index inside the backup directory.
	IndexFilename = "backup_metadata.json"
	// CorruptSuffix is appended to an index that failed to parse.
	CorruptSuffix = ".bak"
	// ConfigVersion tags the index schema.
	ConfigVersion = "2.0"
)

type Kind string

const (
	Full         Kind = "full"
	Differential Kind = "differential"
)

// Snapshot describes one completed backup. Records are never edited after
// they are appended to the index.
type Snapshot struct {
	ID                 string          `json:"id"`
	ContentHash        string          `json:"content_hash"`
	SizeBytes          int64           `json:"size_bytes"`
	FileCount          int             `json:"file_count"`
	DirectoryCount     int             `json:"directory_count"`
	Kind               Kind            `json:"kind"`
	Compression        compress.Format `json:"compression"`
	Encrypted          bool            `json:"encrypted"`
	DifferentialBaseID string          `json:"differential_base_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	DirPath            string          `json:"dir_path,omitempty"`
	ArchivePath        string          `json:"archive_path,omitempty"`
	ArchiveSizeBytes   int64           `json:"archive_size_bytes,omitempty"`
	Files              []string        `json:"files"`
}

// Index is the durable list of every snapshot in a backup directory.
type Index struct {
	Backups       []Snapshot `json:"backups"`
	ConfigVersion string     `json:"config_version"`
}

// NewIndex returns an empty index tagged with the current schema version.
func NewIndex() Index {
	return Index{Backups: []Snapshot{}, ConfigVersion: ConfigVersion}
}

// Find returns the snapshot with id.
func (idx Index) Find(id string) (Snapshot, bool) {
	for _, s := range idx.Backups {
		if s.ID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Chain returns the snapshots needed to reconstruct id, root full snapshot
// first and id itself last.
func (idx Index) Chain(id string) ([]Snapshot, error) {
	var chain []Snapshot
	seen := make(map[string]bool)
	for cur := id; ; {
		if seen[cur] {
			return nil, &ChainError{ID: id, Reason: "cycle at " + cur}
		}
		seen[cur] = true
		s, ok := idx.Find(cur)
		if !ok {
			return nil, &ChainError{ID: id, Reason: "missing " + cur}
		}
		chain = append(chain, s)
		if s.Kind != Differential {
			break
		}
		cur = s.DifferentialBaseID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Dependents returns the ids whose DifferentialBaseID is id.
func (idx Index) Dependents(id string) []string {
	var out []string
	for _, s := range idx.Backups {
		if s.Kind == Differential && s.DifferentialBaseID == id {
			out = append(out, s.ID)
		}
	}
	return out
}

// ChainError reports a broken differential chain.
type ChainError struct {
	ID     string
	Reason string
}

func (e *ChainError) Error() string {
	return "snapshot chain for " + e.ID + " is broken: " + e.Reason
}

func (e *ChainError) Unwrap() error { return ErrNotFound }
