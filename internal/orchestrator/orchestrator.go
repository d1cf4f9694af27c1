// Package orchestrator drives the build → profile → persist pipeline over
// a matrix of compiler flag combinations.
//
// Each combination is one Run and goes through the stages CONFIGURE, CLEAN,
// BUILD, DISCOVER_EXECUTABLES, PROFILE_EACH and PERSIST in order. Runs are
// executed one after another; they share the build directory.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/roach88/runsystem/internal/disasm"
	"github.com/roach88/runsystem/internal/features"
	"github.com/roach88/runsystem/internal/model"
	"github.com/roach88/runsystem/internal/profiler"
)

// instrumentationFlags make the compiler dump loop features before and
// after each pass and the offsets of every block.
const instrumentationFlags = "-mllvm -dump-loop-features -mllvm -loop-features-file=%s -mllvm -dump-loop-offsets"

// Stage names, in execution order.
const (
	StageConfigure = "CONFIGURE"
	StageClean     = "CLEAN"
	StageBuild     = "BUILD"
	StageDiscover  = "DISCOVER_EXECUTABLES"
	StageProfile   = "PROFILE_EACH"
	StagePersist   = "PERSIST"
)

// Store is what the orchestrator writes results to.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetOrCreateFunction(ctx context.Context, f *model.Function) (bool, error)
	CreateLoop(ctx context.Context, l *model.Loop) error
	CreateFeatures(ctx context.Context, f *model.Features) error
	CreateLoopFeatures(ctx context.Context, lf *model.LoopFeatures) error
}

// Clock supplies the start time of each run.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Orchestrator runs the configured matrix.
type Orchestrator struct {
	cfg      *Config
	store    Store
	registry *profiler.Registry
	adapter  profiler.Adapter
	runner   profiler.Runner
	clock    Clock
	lookPath LookPathFunc
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunner replaces the os/exec runner used for every external program.
func WithRunner(r profiler.Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLookPath replaces exec.LookPath for tool checks.
func WithLookPath(f LookPathFunc) Option {
	return func(o *Orchestrator) { o.lookPath = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New resolves the adapter and checks the environment. Every problem it
// reports is a *ConfigError, raised before any run exists.
func New(cfg *Config, st Store, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:    cfg,
		store:  st,
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = profiler.NewRegistry()
	}
	if o.runner == nil {
		o.runner = profiler.ExecRunner{Logger: o.logger}
	}

	if cfg.AdapterDir != "" {
		added, err := o.registry.LoadDir(cfg.AdapterDir)
		if err != nil {
			return nil, &ConfigError{Field: "adapter_dir", Msg: err.Error()}
		}
		o.logger.Debug("loaded adapter descriptors", "dir", cfg.AdapterDir, "adapters", added)
	}
	factory, err := o.registry.Get(cfg.Profiler)
	if err != nil {
		return nil, &ConfigError{Field: "profiler", Msg: err.Error()}
	}
	o.adapter = factory(o.logger)

	var tools []string
	if tu, ok := o.adapter.(profiler.ToolUser); ok {
		tools = tu.Tools()
	}
	if err := cfg.CheckEnvironment(o.lookPath, tools); err != nil {
		return nil, err
	}

	for _, p := range []*string{&cfg.TestSuite, &cfg.BuildDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, &ConfigError{Msg: err.Error()}
		}
		*p = abs
	}
	return o, nil
}

// RunContext is the state of one run.
type RunContext struct {
	Options      string
	Started      time.Time
	BuildDir     string
	FeaturesFile string
	Logger       *slog.Logger
}

// Flags returns the compiler flags of the run: its options followed by the
// instrumentation flags.
func (rc *RunContext) Flags() string {
	inst := fmt.Sprintf(instrumentationFlags, rc.FeaturesFile)
	if rc.Options == "" {
		return inst
	}
	return rc.Options + " " + inst
}

// RunSummary describes one completed run.
type RunSummary struct {
	RunID       string `json:"run_id"`
	Options     string `json:"options"`
	Executables int    `json:"executables"`
	Skipped     int    `json:"skipped"`
	Loops       int    `json:"loops"`
}

// Run executes every combination in order. A format error in profiler or
// feature output, a store error or a failed configure step ends the whole
// invocation; runs already persisted stay.
func (o *Orchestrator) Run(ctx context.Context) ([]RunSummary, error) {
	var summaries []RunSummary
	for _, opts := range o.cfg.Combinations() {
		rc := &RunContext{
			Options:      opts,
			Started:      o.clock.Now(),
			BuildDir:     o.cfg.BuildDir,
			FeaturesFile: o.cfg.FeaturesFile,
			Logger:       o.logger.With("options", opts),
		}
		sum, err := o.runOne(ctx, rc)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// profiled is the outcome of profiling one executable.
type profiled struct {
	exe     Executable
	metrics disasm.Metrics
	// snapshots by qualified block ID, in emission order.
	snapshots map[string][]features.Snapshot
}

func (o *Orchestrator) runOne(ctx context.Context, rc *RunContext) (RunSummary, error) {
	sum := RunSummary{Options: rc.Options}
	rc.Logger.Info("run started")

	if err := o.stage(ctx, rc, StageConfigure, func() error {
		if err := os.MkdirAll(rc.BuildDir, 0o755); err != nil {
			return fmt.Errorf("create build dir: %w", err)
		}
		return o.runner.Run(ctx, profiler.Command{
			Name: o.cfg.CMake,
			Args: []string{
				"-G", "Unix Makefiles",
				"-DCMAKE_C_COMPILER=" + o.cfg.CC,
				"-DCMAKE_CXX_COMPILER=" + o.cfg.CXX,
				"-DCMAKE_C_FLAGS=" + rc.Flags(),
				"-DCMAKE_CXX_FLAGS=" + rc.Flags(),
				o.cfg.TestSuite,
			},
			Dir: rc.BuildDir,
		})
	}); err != nil {
		return sum, err
	}

	if err := o.stage(ctx, rc, StageClean, func() error {
		err := o.runner.Run(ctx, profiler.Command{Name: o.cfg.Make, Args: []string{"clean"}, Dir: rc.BuildDir})
		return o.tolerate(ctx, rc, StageClean, err)
	}); err != nil {
		return sum, err
	}

	if err := o.stage(ctx, rc, StageBuild, func() error {
		err := o.runner.Run(ctx, profiler.Command{
			Name: o.cfg.Make,
			Args: []string{"-k", "-j" + strconv.Itoa(o.cfg.Threads)},
			Dir:  rc.BuildDir,
		})
		return o.tolerate(ctx, rc, StageBuild, err)
	}); err != nil {
		return sum, err
	}

	var exes []Executable
	if err := o.stage(ctx, rc, StageDiscover, func() error {
		var err error
		exes, err = Discover(rc.BuildDir, o.cfg.OffsetsSuffix, o.cfg.FeaturesSuffix, o.cfg.FeaturesFile)
		return err
	}); err != nil {
		return sum, err
	}

	var results []profiled
	if err := o.stage(ctx, rc, StageProfile, func() error {
		var err error
		results, err = o.profileAll(ctx, rc, exes, &sum)
		return err
	}); err != nil {
		return sum, err
	}

	if err := o.stage(ctx, rc, StagePersist, func() error {
		return o.persist(ctx, rc, results, &sum)
	}); err != nil {
		return sum, err
	}

	rc.Logger.Info("run finished", "run_id", sum.RunID, "executables", sum.Executables,
		"skipped", sum.Skipped, "loops", sum.Loops)
	return sum, nil
}

// stage runs fn as the named stage, logging its duration. A cancelled
// context stops the run before the stage starts.
func (o *Orchestrator) stage(ctx context.Context, rc *RunContext, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run %q: before %s: %w", rc.Options, name, err)
	}
	start := time.Now()
	rc.Logger.Debug("stage started", "stage", name)
	if err := fn(); err != nil {
		rc.Logger.Error("stage failed", "stage", name, "error", err)
		return fmt.Errorf("run %q: %s: %w", rc.Options, name, err)
	}
	rc.Logger.Info("stage complete", "stage", name, "duration", time.Since(start))
	return nil
}

// tolerate turns a tool failure into a warning. Cancellation still ends
// the run.
func (o *Orchestrator) tolerate(ctx context.Context, rc *RunContext, stage string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if profiler.IsToolError(err) {
		rc.Logger.Warn("continuing after tool failure", "stage", stage, "error", err)
		return nil
	}
	return err
}

func (o *Orchestrator) profileAll(ctx context.Context, rc *RunContext, exes []Executable, sum *RunSummary) ([]profiled, error) {
	parser := features.NewParser(rc.Logger)
	var results []profiled
	for _, exe := range exes {
		logger := rc.Logger.With("executable", exe.Path)
		switch {
		case len(exe.OffsetFiles) == 0:
			logger.Debug("skipping executable without offset files")
			continue
		case exe.RunLine == "":
			logger.Debug("skipping executable without run line")
			sum.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pc := profiler.Context{
			Application:  exe.Name,
			RunLine:      exe.RunLine,
			LogPath:      filepath.Join(rc.BuildDir, exe.Name+".profile.log"),
			ProfilerPath: o.cfg.ProfilerPath,
			WorkDir:      filepath.Dir(exe.Path),
			Runner:       o.runner,
		}
		metrics, err := o.adapter.Run(ctx, pc, o.cfg.ProfilerArgs, exe.OffsetFiles)
		if err != nil {
			if profiler.IsToolError(err) && ctx.Err() == nil {
				logger.Warn("skipping executable after profiler failure", "error", err)
				sum.Skipped++
				continue
			}
			return nil, fmt.Errorf("profile %s: %w", exe.Name, err)
		}

		snaps, err := collectSnapshots(parser, exe)
		if err != nil {
			return nil, err
		}
		logger.Debug("profiled executable", "blocks", len(metrics), "snapshot_blocks", len(snaps))
		results = append(results, profiled{exe: exe, metrics: metrics, snapshots: snaps})
		sum.Executables++
	}
	return results, nil
}

// collectSnapshots parses the feature files of exe and groups snapshots by
// qualified block ID. A per-source file joins the blocks of its own base.
// The shared features_file names no source, so each of its snapshots joins
// the block with that ID under every offset base of the executable.
func collectSnapshots(parser *features.Parser, exe Executable) (map[string][]features.Snapshot, error) {
	snaps := make(map[string][]features.Snapshot)
	for _, path := range exe.FeatureFiles {
		ss, err := parser.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("features of %s: %w", exe.Name, err)
		}
		for _, s := range ss {
			qid := model.QualifiedID(exe.Name, path, s.BlockID)
			snaps[qid] = append(snaps[qid], s)
		}
	}
	if exe.SharedFeatures == "" {
		return snaps, nil
	}
	ss, err := parser.ParseFile(exe.SharedFeatures)
	if err != nil {
		return nil, fmt.Errorf("features of %s: %w", exe.Name, err)
	}
	var bases []string
	for _, f := range exe.OffsetFiles {
		if b := model.BaseFilename(f); !slices.Contains(bases, b) {
			bases = append(bases, b)
		}
	}
	for _, s := range ss {
		for _, b := range bases {
			qid := model.QualifiedID(exe.Name, b, s.BlockID)
			snaps[qid] = append(snaps[qid], s)
		}
	}
	return snaps, nil
}

func (o *Orchestrator) persist(ctx context.Context, rc *RunContext, results []profiled, sum *RunSummary) error {
	run := model.Run{
		Options:        rc.Options,
		DateTime:       rc.Started.UTC().Format(time.RFC3339),
		ConnectedRunID: o.cfg.ConnectedRunID,
	}
	if err := o.store.CreateRun(ctx, &run); err != nil {
		return err
	}
	sum.RunID = run.ID
	rc.Logger.Info("run created", "run_id", run.ID)

	sort.Slice(results, func(i, j int) bool { return results[i].exe.Path < results[j].exe.Path })
	for _, r := range results {
		for _, qid := range r.metrics.SortedIDs() {
			m := r.metrics[qid]
			file, blockID, ok := model.SplitQualifiedID(r.exe.Name, qid)
			if !ok {
				return fmt.Errorf("block %q does not belong to %s", qid, r.exe.Name)
			}
			fn := model.Function{
				Application:  r.exe.Name,
				Filename:     file,
				FunctionName: m.Function,
				RunID:        run.ID,
			}
			if _, err := o.store.GetOrCreateFunction(ctx, &fn); err != nil {
				return err
			}
			loop := model.Loop{
				LoopID:     blockID,
				ExecTime:   m.Time,
				CodeSize:   m.CodeSize,
				LLCMisses:  m.LLCMisses,
				FunctionID: fn.ID,
			}
			if err := o.store.CreateLoop(ctx, &loop); err != nil {
				return err
			}
			sum.Loops++

			for _, s := range r.snapshots[qid] {
				f := model.Features{PassName: s.PassName, Place: s.Place, FeaturesSet: s.Features}
				if err := o.store.CreateFeatures(ctx, &f); err != nil {
					return err
				}
				lf := model.LoopFeatures{BlockID: loop.ID, FeaturesID: f.ID, Order: s.Order}
				if err := o.store.CreateLoopFeatures(ctx, &lf); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
