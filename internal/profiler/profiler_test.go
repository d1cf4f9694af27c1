package profiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runsystem/internal/disasm"
)

// fakeRunner records commands and answers opannotate with a canned log.
type fakeRunner struct {
	mu       sync.Mutex
	commands []Command
	log      []byte
	fail     map[string]error
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) error {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	if err, ok := f.fail[filepath.Base(cmd.Name)]; ok {
		return err
	}
	if filepath.Base(cmd.Name) == "opannotate" && cmd.Stdout != nil {
		_, err := cmd.Stdout.Write(f.log)
		return err
	}
	return nil
}

func newFakeRunner(t *testing.T) *fakeRunner {
	t.Helper()
	log, err := os.ReadFile(filepath.Join("testdata", "kernel.log"))
	require.NoError(t, err)
	return &fakeRunner{log: log}
}

func newContext(t *testing.T, r Runner) Context {
	t.Helper()
	dir := t.TempDir()
	return Context{
		Application: "app",
		RunLine:     "./kernel  --size 10",
		LogPath:     filepath.Join(dir, "kernel.profile.log"),
		WorkDir:     dir,
		Runner:      r,
	}
}

var kernelOffsets = []string{filepath.Join("testdata", "kernel.c.offsets")}

func TestOprofile_CommandsAndMetrics(t *testing.T) {
	r := newFakeRunner(t)
	pc := newContext(t, r)
	a, err := NewRegistry().Get("oprofile")
	require.NoError(t, err)

	got, err := a(nil).Run(context.Background(), pc, nil, kernelOffsets)
	require.NoError(t, err)

	require.Len(t, r.commands, 2)
	assert.Equal(t, "operf", r.commands[0].Name)
	assert.Equal(t, []string{
		"-e", "LLC_MISSES:10000",
		"-e", "CPU_CLK_UNHALTED:100000:0:0:1",
		"./kernel", "--size", "10",
	}, r.commands[0].Args)
	assert.Equal(t, pc.WorkDir, r.commands[0].Dir)

	assert.Equal(t, "opannotate", r.commands[1].Name)
	assert.Equal(t, []string{"--source", "--assembly", "./kernel", "--size", "10"}, r.commands[1].Args)

	written, err := os.ReadFile(pc.LogPath)
	require.NoError(t, err)
	assert.Equal(t, r.log, written)

	assert.Equal(t, disasm.Metrics{
		"app.kernel.3": {Function: "main", Time: 1160, CodeSize: 12, LLCMisses: 160},
		"app.kernel.9": {Function: "helper", Time: 460, CodeSize: 6},
	}, got)
}

func TestOprofile_ArgsAndProfilerPath(t *testing.T) {
	r := newFakeRunner(t)
	pc := newContext(t, r)
	pc.ProfilerPath = "/opt/oprofile/bin"
	f, err := NewRegistry().Get("oprofile-bytes")
	require.NoError(t, err)

	_, err = f(nil).Run(context.Background(), pc,
		[]string{"--oprof-counter", "INST_RETIRED", "--oprof-cpu-num=5000"}, kernelOffsets)
	require.NoError(t, err)

	require.Len(t, r.commands, 2)
	assert.Equal(t, "/opt/oprofile/bin/operf", r.commands[0].Name)
	assert.Equal(t, []string{"-e", "INST_RETIRED:5000:0:0:1", "./kernel", "--size", "10"}, r.commands[0].Args,
		"the bytes variant records no LLC event")
	assert.Equal(t, "/opt/oprofile/bin/opannotate", r.commands[1].Name)
}

func TestOprofile_ToolFailureStopsBeforeAnnotate(t *testing.T) {
	r := newFakeRunner(t)
	r.fail = map[string]error{"operf": &ToolError{Tool: "operf", ExitCode: 1}}
	pc := newContext(t, r)
	f, err := NewRegistry().Get("oprofile")
	require.NoError(t, err)

	_, err = f(nil).Run(context.Background(), pc, nil, kernelOffsets)
	require.Error(t, err)
	assert.True(t, IsToolError(err))
	assert.Len(t, r.commands, 1)
}

func TestOprofile_MalformedLogIsFormatError(t *testing.T) {
	r := &fakeRunner{log: []byte("0000000000401126 <main>:\nnot an instruction\n")}
	pc := newContext(t, r)
	f, err := NewRegistry().Get("oprofile")
	require.NoError(t, err)

	_, err = f(nil).Run(context.Background(), pc, nil, kernelOffsets)
	require.Error(t, err)
	assert.True(t, disasm.IsFormatError(err))
	assert.False(t, IsToolError(err))
}

func TestOprofile_RejectsBadInput(t *testing.T) {
	f, err := NewRegistry().Get("oprofile")
	require.NoError(t, err)

	pc := newContext(t, newFakeRunner(t))
	pc.RunLine = "   "
	_, err = f(nil).Run(context.Background(), pc, nil, kernelOffsets)
	assert.ErrorContains(t, err, "empty run line")

	pc = newContext(t, newFakeRunner(t))
	_, err = f(nil).Run(context.Background(), pc, []string{"--bogus"}, kernelOffsets)
	assert.ErrorContains(t, err, "parse oprofile args")
}

func TestParseOprofileArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    OprofileOptions
		wantErr string
	}{
		{name: "defaults", want: OprofileOptions{Counter: DefaultCounter, CPUNum: DefaultCPUNum, LLCNum: DefaultLLCNum}},
		{
			name: "overrides",
			args: []string{"--oprof-counter=CYCLES", "--oprof-cpu-num", "1", "--oprof-llc-num=2"},
			want: OprofileOptions{Counter: "CYCLES", CPUNum: 1, LLCNum: 2},
		},
		{name: "positional", args: []string{"extra"}, wantErr: "unexpected argument"},
		{name: "non-positive", args: []string{"--oprof-llc-num=0"}, wantErr: "must be positive"},
		{name: "not a number", args: []string{"--oprof-cpu-num=lots"}, wantErr: "parse oprofile args"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOprofileArgs(tt.args)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_BuiltinsAndLoadDir(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"oprofile", "oprofile-bytes", "oprofile-jumps"}, r.Names())

	added, err := r.LoadDir(filepath.Join("testdata", "adapters"))
	require.NoError(t, err)
	assert.Equal(t, []string{"oprofile-cycles"}, added)

	f, err := r.Get("oprofile-cycles")
	require.NoError(t, err)
	a, ok := f(nil).(*Oprofile)
	require.True(t, ok)
	assert.Equal(t, "oprofile-cycles", a.Name())
	assert.Equal(t, "jumps", a.Classifier.Name())
	assert.False(t, a.LLC)
	assert.Equal(t, "CPU_CYCLES", a.Counter)

	_, err = r.Get("perf")
	assert.ErrorContains(t, err, "unknown profiler adapter")
}

func TestRegistry_DescriptorCounterIsDefault(t *testing.T) {
	r := NewRegistry()
	_, err := r.LoadDir(filepath.Join("testdata", "adapters"))
	require.NoError(t, err)
	f, err := r.Get("oprofile-cycles")
	require.NoError(t, err)

	run := newFakeRunner(t)
	_, err = f(nil).Run(context.Background(), newContext(t, run), nil, kernelOffsets)
	require.NoError(t, err)
	assert.Equal(t, []string{"-e", "CPU_CYCLES:100000:0:0:1", "./kernel", "--size", "10"}, run.commands[0].Args)

	run = newFakeRunner(t)
	_, err = f(nil).Run(context.Background(), newContext(t, run), []string{"--oprof-counter=OTHER"}, kernelOffsets)
	require.NoError(t, err)
	assert.Equal(t, "OTHER:100000:0:0:1", run.commands[0].Args[1])
}

func TestRegistry_LoadDirErrors(t *testing.T) {
	write := func(t *testing.T, body string) string {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "x.yaml"), []byte(body), 0o644))
		return dir
	}
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "duplicate", body: "name: oprofile\n", wantErr: "already registered"},
		{name: "unnamed", body: "classifier: flat\n", wantErr: "no name"},
		{name: "bad classifier", body: "name: x\nclassifier: wide\n", wantErr: "unknown instruction classifier"},
		{name: "bad base", body: "name: x\nbase: perf\n", wantErr: "unknown base"},
		{name: "unknown key", body: "name: x\nsampling: 3\n", wantErr: "parse adapter descriptor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().LoadDir(write(t, tt.body))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestToolError(t *testing.T) {
	err := &ToolError{Tool: "operf", ExitCode: 3, Stderr: "no permission", Err: errors.New("exit status 3")}
	assert.Equal(t, "operf exited with status 3: no permission", err.Error())
	assert.True(t, IsToolError(err))

	wrapped := &ToolError{Tool: "make", Err: context.Canceled}
	assert.ErrorIs(t, wrapped, context.Canceled)
	assert.True(t, strings.HasPrefix(wrapped.Error(), "make failed"))
}

func TestOprofile_Tools(t *testing.T) {
	f, err := NewRegistry().Get("oprofile-jumps")
	require.NoError(t, err)
	tu, ok := f(nil).(ToolUser)
	require.True(t, ok)
	assert.Equal(t, []string{"operf", "opannotate"}, tu.Tools())

	pc := Context{ProfilerPath: "/opt/op"}
	assert.Equal(t, "/opt/op/operf", pc.Tool("operf"))
	assert.Equal(t, "operf", Context{}.Tool("operf"))
}
