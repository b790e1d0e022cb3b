package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func setupSessions(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SESSIONS_DIR", dir)
	t.Setenv("LOG_OUTPUT_PATHS", "stderr")
	t.Setenv("LOG_LEVEL", "error")

	for _, sid := range []string{"old", "fresh"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sid, "uploads"), 0o755))
	}
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old"), past, past))
	return dir
}

func TestReapDryRun(t *testing.T) {
	dir := setupSessions(t)

	out, err := execute(t, "reap", "--ttl", "24h", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would remove old")
	assert.NotContains(t, out, "fresh")
	assert.DirExists(t, filepath.Join(dir, "old"))
}

func TestReapRemovesStaleSessions(t *testing.T) {
	dir := setupSessions(t)

	out, err := execute(t, "reap", "--ttl", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "removed old")
	assert.NoDirExists(t, filepath.Join(dir, "old"))
	assert.DirExists(t, filepath.Join(dir, "fresh"))
}

func TestReapUsesConfiguredTTL(t *testing.T) {
	dir := setupSessions(t)
	t.Setenv("SESSION_TTL", "72h")

	out, err := execute(t, "reap")
	require.NoError(t, err)
	assert.NotContains(t, out, "removed")
	assert.DirExists(t, filepath.Join(dir, "old"))
}

func TestRunRequiresFile(t *testing.T) {
	setupSessions(t)

	_, err := execute(t, "run")
	assert.Error(t, err)

	_, err = execute(t, "run", filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()
	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "reap"})

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("lang"))
	assert.NotNil(t, run.Flags().Lookup("extract-only"))
}
