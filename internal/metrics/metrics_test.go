package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_SnapshotFinished(t *testing.T) {
	c := NewCollector()
	at := time.Unix(1700000000, 0)
	c.SnapshotFinished("full", "completed", 3, 300, time.Second, at)
	c.SnapshotFinished("differential", "failed", 9, 900, time.Second, at.Add(time.Hour))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.snapshots.WithLabelValues("full", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.snapshots.WithLabelValues("differential", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.snapshotFiles))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.snapshotBytes))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(c.lastSuccess))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.SnapshotFinished("full", "completed", 1, 1, time.Second, time.Now())
	c.Consolidated("cleaned", 4)
	assert.NoError(t, c.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := NewCollector()
	c.Consolidated("deduplicated", 2)
	c.Consolidated("cleaned", 0)

	path := filepath.Join(t.TempDir(), "snapkeep.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `snapkeep_consolidate_files_total{step="deduplicated"} 2`), text)
	assert.False(t, strings.Contains(text, `step="cleaned"`))
}
