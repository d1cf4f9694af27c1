package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalConfig(extra string) []byte {
	return []byte("test_suite: suite\nbuild_dir: build\ncc: clang\ncxx: clang++\n" + extra)
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(minimalConfig(""))
	require.NoError(t, err)

	assert.Equal(t, "cmake", cfg.CMake)
	assert.Equal(t, "make", cfg.Make)
	assert.Equal(t, runtime.NumCPU(), cfg.Threads)
	assert.Equal(t, DefaultProfiler, cfg.Profiler)
	assert.Equal(t, []string{}, cfg.ProfilerArgs)
	assert.Equal(t, []string{"-O2"}, cfg.OptFlags)
	assert.Equal(t, []string{""}, cfg.FeatureFlags)
	assert.Equal(t, ".offsets", cfg.OffsetsSuffix)
	assert.Equal(t, ".features", cfg.FeaturesSuffix)
	assert.Equal(t, "loop.features", cfg.FeaturesFile)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, "baseline", cfg.ConnectedRunID)
	assert.Equal(t, []string{"-O2", "-O3"}, cfg.OptFlags)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join("testdata", "missing.yaml"))
	assert.True(t, IsConfigError(err))

	_, err = LoadConfig(filepath.Join("testdata", "unknown_key.yaml"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "optimisation")
}

func TestParseConfig_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "missing compiler", data: []byte("test_suite: suite\nbuild_dir: build\ncc: clang\n")},
		{name: "negative threads", data: minimalConfig("threads: -2\n")},
		{name: "suffix without dot", data: minimalConfig("offsets_suffix: offsets\n")},
		{name: "features file with dir", data: minimalConfig("features_file: out/loop.features\n")},
		{name: "profiler name", data: minimalConfig("profiler: \"op profile\"\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.data)
			require.Error(t, err)
			assert.True(t, IsConfigError(err), "got %v", err)
		})
	}
}

func TestCheckEnvironment(t *testing.T) {
	found := map[string]bool{"cmake": true, "make": true, "clang": true, "clang++": true,
		"/opt/op/operf": true, "/opt/op/opannotate": true}
	lookPath := func(name string) (string, error) {
		if found[name] {
			return name, nil
		}
		return "", errors.New(name + ": not found")
	}
	newCfg := func() *Config {
		cfg, err := ParseConfig(minimalConfig("profiler_path: /opt/op\n"))
		require.NoError(t, err)
		cfg.TestSuite = t.TempDir()
		return cfg
	}
	tools := []string{"operf", "opannotate"}

	require.NoError(t, newCfg().CheckEnvironment(lookPath, tools))

	cfg := newCfg()
	cfg.ProfilerPath = ""
	err := cfg.CheckEnvironment(lookPath, tools)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "profiler_path", ce.Field)

	cfg = newCfg()
	cfg.CXX = "g++"
	require.ErrorAs(t, cfg.CheckEnvironment(lookPath, nil), &ce)
	assert.Equal(t, "cxx", ce.Field)

	cfg = newCfg()
	cfg.TestSuite = filepath.Join(cfg.TestSuite, "absent")
	require.ErrorAs(t, cfg.CheckEnvironment(lookPath, nil), &ce)
	assert.Equal(t, "test_suite", ce.Field)

	cfg = newCfg()
	file := filepath.Join(t.TempDir(), "CMakeLists.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg.TestSuite = file
	require.ErrorAs(t, cfg.CheckEnvironment(lookPath, nil), &ce)
	assert.Contains(t, ce.Msg, "not a directory")
}

func TestCombinations(t *testing.T) {
	cfg := &Config{
		OptFlags:     []string{"-O2", "-O3"},
		FeatureFlags: []string{"", "-funroll-loops"},
	}
	assert.Equal(t, []string{
		"-O2",
		"-O2 -funroll-loops",
		"-O3",
		"-O3 -funroll-loops",
	}, cfg.Combinations())

	cfg = &Config{OptFlags: []string{""}, FeatureFlags: []string{"-fvectorize"}}
	assert.Equal(t, []string{"-fvectorize"}, cfg.Combinations())
}
