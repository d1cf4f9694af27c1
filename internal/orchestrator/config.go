package orchestrator

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is a run configuration.
type Config struct {
	// TestSuite is the CMake source tree of the programs to build and profile.
	TestSuite string `yaml:"test_suite" json:"test_suite"`
	BuildDir  string `yaml:"build_dir" json:"build_dir"`
	CC        string `yaml:"cc" json:"cc"`
	CXX       string `yaml:"cxx" json:"cxx"`
	CMake     string `yaml:"cmake" json:"cmake"`
	Make      string `yaml:"make" json:"make"`
	Threads   int    `yaml:"threads" json:"threads"`

	// Profiler names the adapter. ProfilerArgs are passed to it verbatim.
	Profiler     string   `yaml:"profiler" json:"profiler"`
	ProfilerPath string   `yaml:"profiler_path" json:"profiler_path"`
	ProfilerArgs []string `yaml:"profiler_args" json:"profiler_args"`
	AdapterDir   string   `yaml:"adapter_dir" json:"adapter_dir"`

	// Every optimization flag is combined with every feature flag set; an
	// empty feature flag set adds nothing.
	OptFlags     []string `yaml:"opt_flags" json:"opt_flags"`
	FeatureFlags []string `yaml:"feature_flags" json:"feature_flags"`

	ConnectedRunID string `yaml:"connected_run_id" json:"connected_run_id"`
	OffsetsSuffix  string `yaml:"offsets_suffix" json:"offsets_suffix"`
	FeaturesSuffix string `yaml:"features_suffix" json:"features_suffix"`
	FeaturesFile   string `yaml:"features_file" json:"features_file"`
}

// Defaults for optional configuration fields.
const (
	DefaultProfiler       = "oprofile"
	DefaultOffsetsSuffix  = ".offsets"
	DefaultFeaturesSuffix = ".features"
	DefaultFeaturesFile   = "loop.features"
)

// ConfigError reports an unusable configuration. It is raised before any
// run is created.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Msg
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Msg)
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// LoadConfig reads, defaults and schema-checks the YAML configuration at
// path. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: err.Error()}
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig on an in-memory document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Msg: err.Error()}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in every optional field left empty.
func (c *Config) ApplyDefaults() {
	if c.CMake == "" {
		c.CMake = "cmake"
	}
	if c.Make == "" {
		c.Make = "make"
	}
	if c.Threads == 0 {
		c.Threads = runtime.NumCPU()
	}
	if c.Profiler == "" {
		c.Profiler = DefaultProfiler
	}
	if c.ProfilerArgs == nil {
		c.ProfilerArgs = []string{}
	}
	if len(c.OptFlags) == 0 {
		c.OptFlags = []string{"-O2"}
	}
	if len(c.FeatureFlags) == 0 {
		c.FeatureFlags = []string{""}
	}
	if c.OffsetsSuffix == "" {
		c.OffsetsSuffix = DefaultOffsetsSuffix
	}
	if c.FeaturesSuffix == "" {
		c.FeaturesSuffix = DefaultFeaturesSuffix
	}
	if c.FeaturesFile == "" {
		c.FeaturesFile = DefaultFeaturesFile
	}
}

// Validate checks c against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	v := ctx.Encode(c)
	if err := v.Err(); err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	if err := schema.LookupPath(cue.ParsePath("#Config")).Unify(v).Validate(cue.Concrete(true)); err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	return nil
}

// LookPathFunc resolves a program name the way exec.LookPath does.
type LookPathFunc func(file string) (string, error)

// CheckEnvironment verifies that the test suite exists and that every tool
// resolves. Profiler tools are looked up under ProfilerPath when it is set.
func (c *Config) CheckEnvironment(lookPath LookPathFunc, profilerTools []string) error {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	info, err := os.Stat(c.TestSuite)
	if err != nil {
		return &ConfigError{Field: "test_suite", Msg: err.Error()}
	}
	if !info.IsDir() {
		return &ConfigError{Field: "test_suite", Msg: c.TestSuite + " is not a directory"}
	}
	for _, tool := range []struct{ field, name string }{
		{"cmake", c.CMake},
		{"make", c.Make},
		{"cc", c.CC},
		{"cxx", c.CXX},
	} {
		if _, err := lookPath(tool.name); err != nil {
			return &ConfigError{Field: tool.field, Msg: err.Error()}
		}
	}
	for _, name := range profilerTools {
		p := name
		if c.ProfilerPath != "" {
			p = filepath.Join(c.ProfilerPath, name)
		}
		if _, err := lookPath(p); err != nil {
			return &ConfigError{Field: "profiler_path", Msg: err.Error()}
		}
	}
	return nil
}

// Combinations returns the option strings of every run, optimization flag
// major.
func (c *Config) Combinations() []string {
	var out []string
	for _, opt := range c.OptFlags {
		for _, feat := range c.FeatureFlags {
			switch {
			case feat == "":
				out = append(out, opt)
			case opt == "":
				out = append(out, feat)
			default:
				out = append(out, opt+" "+feat)
			}
		}
	}
	return out
}
