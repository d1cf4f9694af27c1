package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/runsystem/internal/orchestrator"
	"github.com/roach88/runsystem/internal/profiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                 `json:"valid"`
	Config *orchestrator.Config `json:"config"`
	Runs   []string             `json:"runs"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Config   string
	CheckEnv bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a run configuration without building anything",
		Long: `Decode the run configuration, apply defaults, check it against the
schema and, unless --check-env=false, resolve every tool it names.

Prints the effective configuration and the option string of every run
the configuration would produce.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "run configuration file (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().BoolVar(&opts.CheckEnv, "check-env", true, "resolve the test suite and tools")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := orchestrator.LoadConfig(opts.Config)
	if err != nil {
		return fail("invalid configuration", err)
	}

	if opts.CheckEnv {
		reg := profiler.NewRegistry()
		if cfg.AdapterDir != "" {
			if _, err := reg.LoadDir(cfg.AdapterDir); err != nil {
				return fail("invalid configuration", &orchestrator.ConfigError{Field: "adapter_dir", Msg: err.Error()})
			}
		}
		factory, err := reg.Get(cfg.Profiler)
		if err != nil {
			return fail("invalid configuration", &orchestrator.ConfigError{Field: "profiler", Msg: err.Error()})
		}
		var tools []string
		if tu, ok := factory(nil).(profiler.ToolUser); ok {
			tools = tu.Tools()
		}
		formatter.VerboseLog("Checking tools for profiler %s", cfg.Profiler)
		if err := cfg.CheckEnvironment(nil, tools); err != nil {
			return fail("invalid environment", err)
		}
	}

	result := ValidationResult{Valid: true, Config: cfg, Runs: cfg.Combinations()}
	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s is valid: %d run(s)\n", opts.Config, len(result.Runs))
		for _, r := range result.Runs {
			fmt.Fprintf(w, "  %q\n", r)
		}
	})
}
