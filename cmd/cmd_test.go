package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { differentialBase = "" })
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestCLI_BackupListVerifyRestore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	textfile := filepath.Join(t.TempDir(), "snapkeep.prom")

	out := run(t, "--log-level", "error", "--metrics-textfile", textfile, "backup", root)
	id := strings.Fields(out)[0]
	assert.True(t, strings.HasPrefix(id, "project_backup_"), out)

	prom, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "snapkeep_snapshots_total")

	out = run(t, "--log-level", "error", "--root", root, "list")
	assert.Contains(t, out, id)

	out = run(t, "--log-level", "error", "--root", root, "verify", id)
	assert.Contains(t, out, "hash")
	assert.NotContains(t, out, "FAIL")

	dest := t.TempDir()
	run(t, "--log-level", "error", "--root", root, "restore", id, dest)
	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestCLI_Diff(t *testing.T) {
	base, cand := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "a.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cand, "a.txt"), []byte("2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cand, "b.txt"), []byte("new"), 0o644))

	out := run(t, "--log-level", "error", "diff", base, cand)
	assert.Contains(t, out, "modified a.txt")
	assert.Contains(t, out, "added    b.txt")
}
