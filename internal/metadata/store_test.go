package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kebairia/snapkeep/internal/compress"
	"github.com/kebairia/snapkeep/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), WithLogger(logger.Nop()), WithLockTimeout(5*time.Second))
}

func full(id string) Snapshot {
	return Snapshot{
		ID:          id,
		ContentHash: "abc",
		Kind:        Full,
		Compression: compress.Zip,
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Files:       []string{"a.txt"},
	}
}

func TestLoad_MissingIsEmpty(t *testing.T) {
	s := newTestStore(t)
	idx, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, idx.Backups)
	assert.Equal(t, ConfigVersion, idx.ConfigVersion)
}

func TestAppend_PersistsAndRoundTrips(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(full("project_backup_20240501_120000")))
	diff := Snapshot{ID: "differential_backup_20240501_120500", Kind: Differential, DifferentialBaseID: "project_backup_20240501_120000"}
	require.NoError(t, s.Append(diff))

	reopened := NewStore(filepath.Dir(s.Path()), WithLogger(logger.Nop()))
	list, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, full("project_backup_20240501_120000"), list[0])
	assert.Equal(t, Differential, list[1].Kind)

	got, err := reopened.Get("differential_backup_20240501_120500")
	require.NoError(t, err)
	assert.Equal(t, "project_backup_20240501_120000", got.DifferentialBaseID)

	_, err = reopened.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppend_RejectsDuplicateAndUnknownBase(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(full("a")))
	require.ErrorIs(t, s.Append(full("a")), ErrDuplicate)
	require.ErrorIs(t, s.Append(Snapshot{ID: "d", Kind: Differential, DifferentialBaseID: "ghost"}), ErrNotFound)

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLoad_CorruptIndexMovedAside(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	idx, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, idx.Backups)

	bak, err := os.ReadFile(s.Path() + CorruptSuffix)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(bak))
	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.Append(full("fresh")))
	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSave_CrashBeforeRenameKeepsPreviousIndex(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(full("first")))

	orig := renameFile
	renameFile = func(string, string) error { return errors.New("killed before rename") }
	err := s.Append(full("second"))
	renameFile = orig
	require.Error(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "first", list[0].ID)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp index must not linger")
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(full(id)))
	}
	require.NoError(t, s.Remove("b", "zzz"))
	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, []string{list[0].ID, list[1].ID})
}

func TestAppend_ConcurrentWritersSerialize(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Append(full(string(rune('a'+i)))))
		}()
	}
	wg.Wait()

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 8)
}

func TestIndex_Chain(t *testing.T) {
	idx := NewIndex()
	idx.Backups = append(idx.Backups,
		full("f"),
		Snapshot{ID: "d1", Kind: Differential, DifferentialBaseID: "f"},
		Snapshot{ID: "d2", Kind: Differential, DifferentialBaseID: "d1"},
	)
	chain, err := idx.Chain("d2")
	require.NoError(t, err)
	assert.Equal(t, []string{"f", "d1", "d2"}, []string{chain[0].ID, chain[1].ID, chain[2].ID})
	assert.Equal(t, []string{"d1"}, idx.Dependents("f"))

	_, err = idx.Chain("ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLockName(t *testing.T) {
	name := lockName("/var/backups/backup_metadata.json")
	assert.Regexp(t, `^[a-z]+[a-z0-9.-]*$`, name)
	assert.LessOrEqual(t, len(name), 40)
}
