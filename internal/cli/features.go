package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/runsystem/internal/features"
	"github.com/roach88/runsystem/internal/model"
)

// FeatureRecord is one parsed snapshot with the file it came from.
type FeatureRecord struct {
	File        string `json:"file"`
	QualifiedID string `json:"qualified_id,omitempty"`
	features.Snapshot
}

// FeaturesResult holds the output of the features command.
type FeaturesResult struct {
	Records []FeatureRecord `json:"records"`
	Skipped int             `json:"skipped"`
}

// FeaturesOptions holds flags for the features command.
type FeaturesOptions struct {
	*RootOptions
	Application string
}

// NewFeaturesCommand creates the features command.
func NewFeaturesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FeaturesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "features <files...>",
		Short: "Parse loop feature snapshot files",
		Long: `Parse feature files written by the instrumented compiler and print
every loop snapshot. Files are read in order as one batch, so the order
numbers continue from one file to the next. Records of other types are
counted and skipped.

With --application, each snapshot also gets the qualified block ID it
would be joined on during a run.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeatures(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Application, "application", "", "application name for qualified block IDs")

	return cmd
}

func runFeatures(opts *FeaturesOptions, files []string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	parser := features.NewParser(logger)
	result := FeaturesResult{Records: []FeatureRecord{}}
	for _, file := range files {
		snaps, err := parser.ParseFile(file)
		if err != nil {
			return fail("failed to parse features", err)
		}
		for _, s := range snaps {
			rec := FeatureRecord{File: file, Snapshot: s}
			if opts.Application != "" {
				rec.QualifiedID = model.QualifiedID(opts.Application, file, s.BlockID)
			}
			result.Records = append(result.Records, rec)
		}
	}
	result.Skipped = parser.Skipped
	formatter.VerboseLog("Parsed %d snapshot(s), skipped %d record(s)", len(result.Records), result.Skipped)

	return formatter.Render(result, func(w io.Writer) {
		for _, r := range result.Records {
			id := r.BlockID
			if r.QualifiedID != "" {
				id = r.QualifiedID
			}
			fmt.Fprintf(w, "[%d] %s %-6s %s (%d features)\n", r.Order, id, r.Place, r.PassName, len(r.Features))
		}
		if result.Skipped > 0 {
			fmt.Fprintf(w, "%d record(s) of other types skipped\n", result.Skipped)
		}
	})
}
