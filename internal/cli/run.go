package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/runsystem/internal/orchestrator"
	"github.com/roach88/runsystem/internal/profiler"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	StoreOptions
	Config string

	// Runner, LookPath and Clock override the orchestrator's process
	// runner, tool lookup and wall clock (for testing). Nil keeps the
	// defaults.
	Runner   profiler.Runner
	LookPath orchestrator.LookPathFunc
	Clock    orchestrator.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	return newRunCommand(opts)
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build, profile and store every flag combination",
		Long: `Build the configured test suite once per combination of optimization
and feature flags, profile each program that has a RUN line, and store
the per-loop measurements and feature snapshots as one run per combination.

Runs execute one after another in the same build directory. Interrupting
stops before the next stage; runs already stored are kept.

Example:
  runsystem run --config suite.yaml --db ./runs.db
  runsystem run --config suite.yaml --driver mysql --db 'user:pw@tcp(db:3306)/runs'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "run configuration file (required)")
	_ = cmd.MarkFlagRequired("config")
	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := orchestrator.LoadConfig(opts.Config)
	if err != nil {
		return fail("failed to load configuration", err)
	}
	formatter.VerboseLog("Loaded %s: %d run(s)", opts.Config, len(cfg.Combinations()))

	st, err := openStore(&opts.StoreOptions, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if opts.Runner != nil {
		orchOpts = append(orchOpts, orchestrator.WithRunner(opts.Runner))
	}
	if opts.LookPath != nil {
		orchOpts = append(orchOpts, orchestrator.WithLookPath(opts.LookPath))
	}
	if opts.Clock != nil {
		orchOpts = append(orchOpts, orchestrator.WithClock(opts.Clock))
	}
	orch, err := orchestrator.New(cfg, st, orchOpts...)
	if err != nil {
		return fail("invalid environment", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summaries, err := orch.Run(ctx)
	if err != nil {
		// Runs finished before the failure are stored; report them anyway.
		if len(summaries) > 0 {
			_ = formatter.Render(summaries, func(w io.Writer) { writeSummaries(w, summaries) })
		}
		return fail("run failed", err)
	}
	return formatter.Render(summaries, func(w io.Writer) { writeSummaries(w, summaries) })
}

func writeSummaries(w io.Writer, summaries []orchestrator.RunSummary) {
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  %-30q executables=%d skipped=%d loops=%d\n",
			s.RunID, s.Options, s.Executables, s.Skipped, s.Loops)
	}
}
