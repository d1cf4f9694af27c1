package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/runsystem/internal/disasm"
	"github.com/roach88/runsystem/internal/model"
	"github.com/roach88/runsystem/internal/offsets"
	"github.com/roach88/runsystem/internal/profiler"
)

// BlockResult is one measured block in command output.
type BlockResult struct {
	ID        string `json:"id"`
	Function  string `json:"function"`
	Time      int64  `json:"time"`
	CodeSize  int64  `json:"code_size"`
	LLCMisses int64  `json:"llc_misses"`
}

func blockResults(ms disasm.Metrics) []BlockResult {
	out := make([]BlockResult, 0, len(ms))
	for _, id := range ms.SortedIDs() {
		m := ms[id]
		out = append(out, BlockResult{ID: id, Function: m.Function, Time: m.Time, CodeSize: m.CodeSize, LLCMisses: m.LLCMisses})
	}
	return out
}

func writeBlocks(w io.Writer, blocks []BlockResult) {
	if len(blocks) == 0 {
		io.WriteString(w, "(no blocks measured)\n")
		return
	}
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "%-32s %-24s %12s %6s %10s\n", "BLOCK", "FUNCTION", "TIME", "SIZE", "LLC")
	for _, b := range blocks {
		p.Fprintf(w, "%-32s %-24s %12d %6d %10d\n", b.ID, b.Function, b.Time, b.CodeSize, b.LLCMisses)
	}
}

// ProfileOptions holds flags for the profile command.
type ProfileOptions struct {
	*RootOptions
	Adapter      string
	AdapterDir   string
	Application  string
	RunLine      string
	Log          string
	Offsets      []string
	ProfilerPath string

	// Runner overrides the process runner (for testing).
	Runner profiler.Runner
}

// NewProfileCommand creates the profile command.
func NewProfileCommand(rootOpts *RootOptions) *cobra.Command {
	return newProfileCommand(&ProfileOptions{RootOptions: rootOpts})
}

func newProfileCommand(opts *ProfileOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile [-- adapter-args...]",
		Short: "Profile one program with a profiler adapter",
		Long: `Run a profiler adapter once, outside of any run, and print the metrics
of every block described by the offset files. Nothing is stored.

Arguments after -- are passed to the adapter.

Example:
  runsystem profile --application kernel --run-line './kernel 100' \
    --log kernel.log --offsets kernel.c.offsets -- --oprof-cpu-num=50000`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Adapter, "adapter", "oprofile", "profiler adapter name")
	cmd.Flags().StringVar(&opts.AdapterDir, "adapter-dir", "", "directory of adapter descriptors")
	cmd.Flags().StringVar(&opts.Application, "application", "", "application name used in block IDs (required)")
	cmd.Flags().StringVar(&opts.RunLine, "run-line", "", "command line of the program (required)")
	cmd.Flags().StringVar(&opts.Log, "log", "", "where to write the annotated disassembly (required)")
	cmd.Flags().StringSliceVar(&opts.Offsets, "offsets", nil, "offset files (required, repeatable)")
	cmd.Flags().StringVar(&opts.ProfilerPath, "profiler-path", "", "directory holding the profiler's tools")
	for _, name := range []string{"application", "run-line", "log", "offsets"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runProfile(opts *ProfileOptions, args []string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	reg := profiler.NewRegistry()
	if opts.AdapterDir != "" {
		if _, err := reg.LoadDir(opts.AdapterDir); err != nil {
			return WrapExitError(ExitCommandError, "failed to load adapters", err)
		}
	}
	factory, err := reg.Get(opts.Adapter)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown adapter", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to resolve working directory", err)
	}
	pc := profiler.Context{
		Application:  opts.Application,
		RunLine:      opts.RunLine,
		LogPath:      opts.Log,
		ProfilerPath: opts.ProfilerPath,
		WorkDir:      workDir,
		Runner:       opts.Runner,
	}
	if pc.Runner == nil {
		pc.Runner = profiler.ExecRunner{Logger: logger}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	metrics, err := factory(logger).Run(ctx, pc, args, opts.Offsets)
	if err != nil {
		return fail("profiling failed", err)
	}
	blocks := blockResults(metrics)
	return formatter.Render(blocks, func(w io.Writer) { writeBlocks(w, blocks) })
}

// ExtractOptions holds flags for the extract command.
type ExtractOptions struct {
	*RootOptions
	Log         string
	Application string
	Classifier  string
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtractOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract <offset-files...>",
		Short: "Compute block metrics from an existing annotated log",
		Long: `Reduce an annotated disassembly log written earlier by a profiler to
per-block metrics, using the given offset files. No program is run.

Example:
  runsystem extract --log kernel.log --application kernel kernel.c.offsets
  runsystem extract --log kernel.log --application kernel --classifier jumps *.offsets`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Log, "log", "", "annotated disassembly log (required)")
	cmd.Flags().StringVar(&opts.Application, "application", "", "application name used in block IDs (default: log file name up to its first dot)")
	cmd.Flags().StringVar(&opts.Classifier, "classifier", "flat", "instruction classifier (flat|bytes|jumps)")
	_ = cmd.MarkFlagRequired("log")

	return cmd
}

func runExtract(opts *ExtractOptions, offsetFiles []string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	classifier, err := disasm.ClassifierByName(opts.Classifier)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown classifier", err)
	}
	app := opts.Application
	if app == "" {
		app = model.BaseFilename(opts.Log)
	}

	idx, err := offsets.Load(app, offsetFiles)
	if err != nil {
		return fail("failed to read offset files", err)
	}
	formatter.VerboseLog("Indexed %d block(s), %d orphan offset(s) dropped", len(idx.Entries()), idx.Orphans())

	ex := disasm.NewExtractor(classifier)
	ex.Logger = logger
	metrics, err := ex.ExtractFile(opts.Log, idx)
	if err != nil {
		return fail("extraction failed", err)
	}
	blocks := blockResults(metrics)
	return formatter.Render(blocks, func(w io.Writer) { writeBlocks(w, blocks) })
}
