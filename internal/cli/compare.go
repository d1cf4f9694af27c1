package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/runsystem/internal/compare"
	"github.com/roach88/runsystem/internal/store"
)

// NewClosestCommand creates the closest command.
func NewClosestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{}

	cmd := &cobra.Command{
		Use:   "closest <run-id>",
		Short: "Suggest runs to compare against",
		Long: `List up to three runs whose options are most similar to those of the
given run. The ranking is a text similarity over the option strings and
is only a suggestion.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return storeCommand(rootOpts, opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				matches, err := compare.New(st, newLogger(rootOpts, cmd.ErrOrStderr())).ClosestRuns(ctx, args[0])
				if err != nil {
					return fail("failed to find closest runs", err)
				}
				return f.Render(matches, func(w io.Writer) {
					if len(matches) == 0 {
						fmt.Fprintln(w, "(no similar runs)")
					}
					for _, m := range matches {
						fmt.Fprintf(w, "%s  %.3f  %q\n", m.Run.ID, m.Score, m.Run.Options)
					}
				})
			})
		},
	}
	addStoreFlags(cmd, opts)

	return cmd
}

// NewCompareCommand creates the compare command.
func NewCompareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{}
	var compareTo string

	cmd := &cobra.Command{
		Use:   "compare <run-id> --to <run-id>",
		Short: "Compare the loops of two runs",
		Long: `Put every loop of a run next to its counterpart in another run. A
counterpart is the loop with the same block ID in the function with the
same name, application and file; when there is no such loop, or more
than one, the loop is listed as unmatched.

The summary gives geometric means of compared/current ratios over the
matched loops.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return storeCommand(rootOpts, opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				rep, err := compare.New(st, newLogger(rootOpts, cmd.ErrOrStderr())).CompareRuns(ctx, args[0], compareTo)
				if err != nil {
					return fail("failed to compare runs", err)
				}
				return f.Render(rep, func(w io.Writer) { writeReport(w, rep) })
			})
		},
	}
	addStoreFlags(cmd, opts)
	cmd.Flags().StringVar(&compareTo, "to", "", "run to compare against (required)")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func writeReport(w io.Writer, rep compare.Report) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Run %s %q vs %s %q\n\n", rep.Run.ID, rep.Run.Options, rep.CompareTo.ID, rep.CompareTo.Options)
	p.Fprintf(w, "%-24s %-6s %12s %12s %6s %6s\n", "FUNCTION", "LOOP", "TIME", "VS", "SIZE", "VS")
	for _, lc := range rep.Loops {
		if lc.Compared == nil {
			p.Fprintf(w, "%-24s %-6s %12d %12s %6d %6s\n",
				lc.Function.FunctionName, lc.Current.LoopID, lc.Current.ExecTime, "-", lc.Current.CodeSize, "-")
			continue
		}
		p.Fprintf(w, "%-24s %-6s %12d %12d %6d %6d\n",
			lc.Function.FunctionName, lc.Current.LoopID, lc.Current.ExecTime, lc.Compared.ExecTime,
			lc.Current.CodeSize, lc.Compared.CodeSize)
	}
	s := rep.Summary
	p.Fprintf(w, "\nmatched=%d unmatched=%d", s.Matched, s.Unmatched)
	for _, g := range []struct {
		name string
		v    *float64
	}{{"time", s.ExecTimeGeoMean}, {"size", s.CodeSizeGeoMean}, {"llc", s.LLCMissesGeoMean}} {
		if g.v != nil {
			p.Fprintf(w, " %s×%.3f", g.name, *g.v)
		}
	}
	p.Fprintln(w)
}
