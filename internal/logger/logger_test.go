package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONToFile(t *testing.T) {
	orig := globalSugar
	t.Cleanup(func() { globalSugar = orig })

	path := filepath.Join(t.TempDir(), "log.json")
	log, err := Init(WithLevel("warn"), WithFormat(FormatJSON), WithOutputs(path))
	require.NoError(t, err)

	log.Info("dropped")
	log.With("snapshot", "project_backup_1").Warn("kept", "files", 3)
	Cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "project_backup_1", entry["snapshot"])
	assert.EqualValues(t, 3, entry["files"])
}

func TestInit_Rejects(t *testing.T) {
	_, err := Init(WithLevel("loud"))
	assert.Error(t, err)
	_, err = Init(WithFormat("xml"))
	assert.Error(t, err)
}

func TestGlobalBeforeInitIsSilent(t *testing.T) {
	assert.NotPanics(t, func() { Global().Error("nobody listens") })
	assert.NotPanics(t, func() { Nop().With("k", "v").Info("x") })
}
