package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/runsystem/internal/compare"
	"github.com/roach88/runsystem/internal/model"
	"github.com/roach88/runsystem/internal/store"
)

// ApplicationView lists the source files of one application in a run.
type ApplicationView struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

// RunView is the detail view of a run.
type RunView struct {
	Run          model.Run         `json:"run"`
	Applications []ApplicationView `json:"applications"`
}

// ProgramView lists the functions of an application in a run.
type ProgramView struct {
	RunID       string           `json:"run_id"`
	Application string           `json:"application"`
	Functions   []model.Function `json:"functions"`
}

// FunctionView lists the loops of a function.
type FunctionView struct {
	Function model.Function `json:"function"`
	Loops    []model.Loop   `json:"loops"`
}

// LoopView shows a loop with its Before/After snapshot pairs.
type LoopView struct {
	Loop  model.Loop     `json:"loop"`
	Pairs []compare.Pair `json:"pairs"`
}

// storeCommand runs fn against the store selected by opts.
func storeCommand(rootOpts *RootOptions, opts *StoreOptions, cmd *cobra.Command, fn func(ctx context.Context, st *store.Store, f *OutputFormatter) error) error {
	logger := newLogger(rootOpts, cmd.ErrOrStderr())
	st, err := openStore(opts, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, st, newFormatter(rootOpts, cmd))
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{}

	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List stored runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return storeCommand(rootOpts, opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				runs, err := st.ListRuns(ctx)
				if err != nil {
					return fail("failed to list runs", err)
				}
				return f.Render(runs, func(w io.Writer) { writeRuns(w, runs) })
			})
		},
	}
	addStoreFlags(cmd, opts)

	return cmd
}

func writeRuns(w io.Writer, runs []model.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "(no runs)")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %q", r.ID, r.DateTime, r.Options)
		if r.ConnectedRunID != "" {
			fmt.Fprintf(w, "  connected=%s", r.ConnectedRunID)
		}
		fmt.Fprintln(w)
	}
}

// NewShowCommand creates the show command and its views.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a stored run, program, function or loop",
		Long: `Browse stored results:

  show run <run-id>                    applications and files of a run
  show program <run-id> <application>  functions of an application
  show function <function-id>          loops of a function
  show loop <loop-id>                  Before/After snapshot pairs of a loop`,
	}

	cmd.AddCommand(newShowRunCommand(rootOpts))
	cmd.AddCommand(newShowProgramCommand(rootOpts))
	cmd.AddCommand(newShowFunctionCommand(rootOpts))
	cmd.AddCommand(newShowLoopCommand(rootOpts))

	return cmd
}

func newShowRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{}
	cmd := &cobra.Command{
		Use:           "run <run-id>",
		Short:         "Show the applications and files of a run",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return storeCommand(rootOpts, opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				view, err := buildRunView(ctx, st, args[0])
				if err != nil {
					return fail("failed to show run", err)
				}
				return f.Render(view, func(w io.Writer) {
					fmt.Fprintf(w, "Run %s (%s)\n", view.Run.ID, view.Run.DateTime)
					fmt.Fprintf(w, "Options: %q\n", view.Run.Options)
					for _, app := range view.Applications {
						fmt.Fprintf(w, "  %s: %s\n", app.Name, strings.Join(app.Files, ", "))
					}
				})
			})
		},
	}
	addStoreFlags(cmd, opts)
	return cmd
}

func buildRunView(ctx context.Context, st *store.Store, runID string) (RunView, error) {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return RunView{}, err
	}
	view := RunView{Run: run, Applications: []ApplicationView{}}
	apps, err := st.Distinct(ctx, model.CollectionFunctions, "application", map[string]string{"run_id": runID})
	if err != nil {
		return RunView{}, err
	}
	for _, app := range apps {
		files, err := st.Distinct(ctx, model.CollectionFunctions, "filename",
			map[string]string{"run_id": runID, "application": app})
		if err != nil {
			return RunView{}, err
		}
		view.Applications = append(view.Applications, ApplicationView{Name: app, Files: files})
	}
	return view, nil
}

func newShowProgramCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{}
	cmd := &cobra.Command{
		Use:           "program <run-id> <application>",
		Short:         "Show the functions of an application in a run",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return storeCommand(rootOpts, opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				if _, err := st.GetRun(ctx, args[0]); err != nil {
					return fail("failed to show program", err)
				}
				fns, err := st.FindFunctions(ctx, map[string]string{"run_id": args[0], "application": args[1]})
				if err != nil {
					return fail("failed to show program", err)
				}
				view := ProgramView{RunID: args[0], Application: args[1], Functions: fns}
				return f.Render(view, func(w io.Writer) {
					fmt.Fprintf(w, "Program %s in run %s\n", view.Application, view.RunID)
					for _, fn := range view.Functions {
						fmt.Fprintf(w, "  %s  %s (%s)\n", fn.ID, fn.FunctionName, fn.Filename)
					}
				})
			})
		},
	}
	addStoreFlags(cmd, opts)
	return cmd
}

func newShowFunctionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{}
	cmd := &cobra.Command{
		Use:           "function <function-id>",
		Short:         "Show the loops of a function",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return storeCommand(rootOpts, opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				fn, err := st.GetFunction(ctx, args[0])
				if err != nil {
					return fail("failed to show function", err)
				}
				loops, err := st.FindLoops(ctx, map[string]string{"function_id": fn.ID})
				if err != nil {
					return fail("failed to show function", err)
				}
				view := FunctionView{Function: fn, Loops: loops}
				return f.Render(view, func(w io.Writer) {
					fmt.Fprintf(w, "Function %s in %s/%s\n", fn.FunctionName, fn.Application, fn.Filename)
					writeLoops(w, loops)
				})
			})
		},
	}
	addStoreFlags(cmd, opts)
	return cmd
}

func writeLoops(w io.Writer, loops []model.Loop) {
	p := message.NewPrinter(language.English)
	for _, l := range loops {
		p.Fprintf(w, "  %s  loop %-6s time=%d size=%d llc=%d\n", l.ID, l.LoopID, l.ExecTime, l.CodeSize, l.LLCMisses)
	}
}

func newShowLoopCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{}
	var aligned bool
	cmd := &cobra.Command{
		Use:           "loop <loop-id>",
		Short:         "Show the Before/After snapshot pairs of a loop",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return storeCommand(rootOpts, opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				loop, err := st.GetLoop(ctx, args[0])
				if err != nil {
					return fail("failed to show loop", err)
				}
				c := compare.New(st, newLogger(rootOpts, cmd.ErrOrStderr()))
				c.Aligned = aligned
				pairs, err := c.LoopFeatureSets(ctx, loop.ID)
				if err != nil {
					return fail("failed to show loop", err)
				}
				view := LoopView{Loop: loop, Pairs: pairs}
				return f.Render(view, func(w io.Writer) {
					writeLoops(w, []model.Loop{loop})
					for i, p := range pairs {
						fmt.Fprintf(w, "  pair %d: %s -> %s\n", i, describeSnapshot(p.Before), describeSnapshot(p.After))
						writeFeatureDiff(w, p.Before, p.After)
					}
				})
			})
		},
	}
	addStoreFlags(cmd, opts)
	cmd.Flags().BoolVar(&aligned, "aligned", false, "keep unpaired snapshots")
	return cmd
}

func describeSnapshot(f *model.Features) string {
	if f == nil {
		return "(none)"
	}
	return fmt.Sprintf("%s %s [%d features]", f.Place, f.PassName, len(f.FeaturesSet))
}

// writeFeatureDiff prints every feature of a pair, one per line. Features
// outside the interpreted schema are marked with '*'; changed values with '!'.
func writeFeatureDiff(w io.Writer, before, after *model.Features) {
	var b, a model.FeatureSet
	if before != nil {
		b = before.FeaturesSet
	}
	if after != nil {
		a = after.FeaturesSet
	}
	union := make(model.FeatureSet, len(b)+len(a))
	for k, v := range b {
		union[k] = v
	}
	for k, v := range a {
		union[k] = v
	}
	for _, name := range union.SortedKeys() {
		label := name
		if !model.Known(name) {
			label += "*"
		}
		from, to := featureString(b, name), featureString(a, name)
		mark := " "
		if from != to {
			mark = "!"
		}
		fmt.Fprintf(w, "   %s %-24s %s -> %s\n", mark, label, from, to)
	}
}

func featureString(fs model.FeatureSet, name string) string {
	if v, ok := fs.Int(name); ok {
		return strconv.FormatInt(v, 10)
	}
	if v, ok := fs.Bool(name); ok {
		return strconv.FormatBool(v)
	}
	if raw, ok := fs[name].(model.FeatureRaw); ok {
		return string(raw)
	}
	return "-"
}
