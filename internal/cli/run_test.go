package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runsystem/internal/orchestrator"
	"github.com/roach88/runsystem/internal/profiler"
	"github.com/roach88/runsystem/internal/store"
	"github.com/roach88/runsystem/internal/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	suite := filepath.Join(dir, "suite")
	require.NoError(t, os.MkdirAll(suite, 0o755))
	path := filepath.Join(dir, "config.yaml")
	cfg := "test_suite: " + suite + "\nbuild_dir: " + filepath.Join(dir, "build") + "\ncc: clang\ncxx: clang++\n" + body
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

// nopRunner succeeds without doing anything, so builds produce no programs.
type nopRunner struct{ commands int }

func (r *nopRunner) Run(context.Context, profiler.Command) error {
	r.commands++
	return nil
}

func TestRunMissingFlags(t *testing.T) {
	code, _, stderr := execute(t, "run", "--db", filepath.Join(t.TempDir(), "r.db"))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "required flag")
	assert.Contains(t, stderr, "config")
}

func TestRunInvalidConfig(t *testing.T) {
	path := writeConfig(t, "threads: -1\n")

	code, stdout, _ := execute(t, "--format", "json", "run", "--config", path, "--db", filepath.Join(t.TempDir(), "r.db"))
	assert.Equal(t, ExitCommandError, code)
	assert.Equal(t, ErrCodeConfig, decodeError(t, stdout).Code)
}

func TestRunPersistsEmptyRuns(t *testing.T) {
	path := writeConfig(t, "opt_flags: [\"-O1\", \"-O3\"]\n")
	db := filepath.Join(t.TempDir(), "r.db")
	runner := &nopRunner{}

	out := &bytes.Buffer{}
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "json"},
		Runner:      runner,
		LookPath:    func(name string) (string, error) { return name, nil },
		Clock:       testutil.NewDeterministicClock(),
	}
	cmd := newRunCommand(opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "--db", db})
	require.NoError(t, cmd.Execute())

	var got []orchestrator.RunSummary
	decodeData(t, out.String(), &got)
	require.Len(t, got, 2)
	assert.Equal(t, "-O1", got[0].Options)
	assert.Equal(t, "-O3", got[1].Options)
	assert.Zero(t, got[1].Loops)
	assert.Equal(t, 6, runner.commands, "configure, clean and build per run")

	st, err := store.OpenSQLite(db)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, got[0].RunID, runs[0].ID)
	assert.Equal(t, "2024-01-02T15:04:05Z", runs[0].DateTime)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, "feature_flags: [\"\", \"-fno-unroll-loops\"]\n")

	code, stdout, stderr := execute(t, "--format", "json", "validate", "--config", path, "--check-env=false")
	require.Equal(t, ExitSuccess, code, stderr)

	var got ValidationResult
	decodeData(t, stdout, &got)
	assert.True(t, got.Valid)
	assert.Equal(t, []string{"-O2", "-O2 -fno-unroll-loops"}, got.Runs)
	assert.Equal(t, "oprofile", got.Config.Profiler)
}

func TestValidate_MissingTool(t *testing.T) {
	path := writeConfig(t, "cmake: /nonexistent/cmake-42\n")

	code, stdout, _ := execute(t, "--format", "json", "validate", "--config", path)
	assert.Equal(t, ExitCommandError, code)
	assert.Equal(t, ErrCodeConfig, decodeError(t, stdout).Code)
}
