package compare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/aclements/go-moremath/stats"

	"github.com/roach88/runsystem/internal/model"
	"github.com/roach88/runsystem/internal/store"
)

// Closest-run search parameters.
const (
	ClosestLimit         = 3
	ClosestMinTermFreq   = 1
	ClosestMinDocFreq    = 1
	ClosestMaxQueryTerms = 25
)

// Store is the subset of the result store the comparator reads.
type Store interface {
	GetRun(ctx context.Context, id string) (model.Run, error)
	GetFunction(ctx context.Context, id string) (model.Function, error)
	FindFunctions(ctx context.Context, match map[string]string) ([]model.Function, error)
	FindLoops(ctx context.Context, match map[string]string) ([]model.Loop, error)
	FindLoopFeatures(ctx context.Context, loopID string) ([]model.LoopFeatures, error)
	GetFeatures(ctx context.Context, id string) (model.Features, error)
	Similar(ctx context.Context, q store.SimilarQuery) ([]store.Match, error)
}

// Comparator answers comparison queries over a Store.
type Comparator struct {
	Store  Store
	Logger *slog.Logger
	// Aligned keeps unmatched Before/After snapshots, paired with nil.
	Aligned bool
}

// New creates a comparator over s.
func New(s Store, logger *slog.Logger) *Comparator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparator{Store: s, Logger: logger}
}

// LoopFeatureSets returns the Before/After snapshot pairs of the loop with
// ID loopID. Links whose snapshot no longer exists are skipped.
func (c *Comparator) LoopFeatureSets(ctx context.Context, loopID string) ([]Pair, error) {
	links, err := c.Store.FindLoopFeatures(ctx, loopID)
	if err != nil {
		return nil, fmt.Errorf("loop feature sets: %w", err)
	}
	snaps := make([]model.Features, 0, len(links))
	for _, lf := range links {
		f, err := c.Store.GetFeatures(ctx, lf.FeaturesID)
		if errors.Is(err, store.ErrNotFound) {
			c.Logger.Debug("feature snapshot missing", "loop_id", loopID, "features_id", lf.FeaturesID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loop feature sets: %w", err)
		}
		snaps = append(snaps, f)
	}
	if c.Aligned {
		return PairSnapshotsAligned(snaps), nil
	}
	return PairSnapshots(snaps), nil
}

// RunMatch is a run suggested for comparison.
type RunMatch struct {
	Run   model.Run `json:"run"`
	Score float64   `json:"score"`
}

// ClosestRuns suggests up to ClosestLimit runs whose options text is most
// similar to run runID's. The suggestion is advisory.
func (c *Comparator) ClosestRuns(ctx context.Context, runID string) ([]RunMatch, error) {
	run, err := c.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("closest runs: %w", err)
	}
	matches, err := c.Store.Similar(ctx, store.SimilarQuery{
		Collection:    model.CollectionRuns,
		Field:         "options",
		Like:          run.Options,
		ExcludeID:     runID,
		MinTermFreq:   ClosestMinTermFreq,
		MinDocFreq:    ClosestMinDocFreq,
		MaxQueryTerms: ClosestMaxQueryTerms,
		Limit:         ClosestLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("closest runs: %w", err)
	}
	out := make([]RunMatch, 0, len(matches))
	for _, m := range matches {
		r, err := c.Store.GetRun(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("closest runs: %w", err)
		}
		out = append(out, RunMatch{Run: r, Score: m.Score})
	}
	return out, nil
}

// CorrespondingFunction finds fn's counterpart in run compareRunID: the
// single function with the same name, application and filename. ok is
// false when there is none or more than one.
func (c *Comparator) CorrespondingFunction(ctx context.Context, compareRunID string, fn model.Function) (model.Function, bool, error) {
	fns, err := c.Store.FindFunctions(ctx, map[string]string{
		"run_id":        compareRunID,
		"function_name": fn.FunctionName,
		"application":   fn.Application,
		"filename":      fn.Filename,
	})
	if err != nil {
		return model.Function{}, false, fmt.Errorf("corresponding function: %w", err)
	}
	if len(fns) != 1 {
		return model.Function{}, false, nil
	}
	return fns[0], true, nil
}

// CorrespondingLoop finds the loop with loopID under function
// compareFunctionID. ok is false when there is none or more than one.
func (c *Comparator) CorrespondingLoop(ctx context.Context, compareFunctionID, loopID string) (model.Loop, bool, error) {
	loops, err := c.Store.FindLoops(ctx, map[string]string{
		"function_id": compareFunctionID,
		"loop_id":     loopID,
	})
	if err != nil {
		return model.Loop{}, false, fmt.Errorf("corresponding loop: %w", err)
	}
	if len(loops) != 1 {
		return model.Loop{}, false, nil
	}
	return loops[0], true, nil
}

// LoopComparison is one loop of the current run next to its counterpart.
// Compared is nil when no counterpart could be determined.
type LoopComparison struct {
	Function         model.Function  `json:"function"`
	Current          model.Loop      `json:"current"`
	ComparedFunction *model.Function `json:"compared_function,omitempty"`
	Compared         *model.Loop     `json:"compared,omitempty"`
}

// Summary aggregates a run comparison. Ratios are compared/current and are
// taken over matched loops whose metric is non-zero on both sides; a
// geomean is only set when at least one ratio exists.
type Summary struct {
	Matched          int      `json:"matched"`
	Unmatched        int      `json:"unmatched"`
	ExecTimeGeoMean  *float64 `json:"exec_time_geomean,omitempty"`
	CodeSizeGeoMean  *float64 `json:"code_size_geomean,omitempty"`
	LLCMissesGeoMean *float64 `json:"llc_misses_geomean,omitempty"`
}

// Report is the result of CompareRuns.
type Report struct {
	Run       model.Run        `json:"run"`
	CompareTo model.Run        `json:"compare_to"`
	Loops     []LoopComparison `json:"loops"`
	Summary   Summary          `json:"summary"`
}

// CompareRuns puts every loop of run runID next to its counterpart in run
// compareTo. Loops are listed by function name, then in creation order.
func (c *Comparator) CompareRuns(ctx context.Context, runID, compareTo string) (Report, error) {
	run, err := c.Store.GetRun(ctx, runID)
	if err != nil {
		return Report{}, fmt.Errorf("compare runs: %w", err)
	}
	other, err := c.Store.GetRun(ctx, compareTo)
	if err != nil {
		return Report{}, fmt.Errorf("compare runs: %w", err)
	}
	fns, err := c.Store.FindFunctions(ctx, map[string]string{"run_id": runID})
	if err != nil {
		return Report{}, fmt.Errorf("compare runs: %w", err)
	}

	rep := Report{Run: run, CompareTo: other, Loops: []LoopComparison{}}
	var timeRatios, sizeRatios, llcRatios []float64
	for _, fn := range fns {
		loops, err := c.Store.FindLoops(ctx, map[string]string{"function_id": fn.ID})
		if err != nil {
			return Report{}, fmt.Errorf("compare runs: %w", err)
		}
		cfn, fnOK, err := c.CorrespondingFunction(ctx, compareTo, fn)
		if err != nil {
			return Report{}, err
		}
		for _, l := range loops {
			lc := LoopComparison{Function: fn, Current: l}
			if fnOK {
				cl, ok, err := c.CorrespondingLoop(ctx, cfn.ID, l.LoopID)
				if err != nil {
					return Report{}, err
				}
				if ok {
					lc.ComparedFunction = &cfn
					lc.Compared = &cl
					timeRatios = appendRatio(timeRatios, cl.ExecTime, l.ExecTime)
					sizeRatios = appendRatio(sizeRatios, cl.CodeSize, l.CodeSize)
					llcRatios = appendRatio(llcRatios, cl.LLCMisses, l.LLCMisses)
				}
			}
			if lc.Compared != nil {
				rep.Summary.Matched++
			} else {
				rep.Summary.Unmatched++
			}
			rep.Loops = append(rep.Loops, lc)
		}
	}
	rep.Summary.ExecTimeGeoMean = geomean(timeRatios)
	rep.Summary.CodeSizeGeoMean = geomean(sizeRatios)
	rep.Summary.LLCMissesGeoMean = geomean(llcRatios)
	c.Logger.Debug("compared runs", "run_id", runID, "compare_to", compareTo,
		"matched", rep.Summary.Matched, "unmatched", rep.Summary.Unmatched)
	return rep, nil
}

func appendRatio(ratios []float64, compared, current int64) []float64 {
	if compared <= 0 || current <= 0 {
		return ratios
	}
	return append(ratios, float64(compared)/float64(current))
}

func geomean(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	gm := stats.GeoMean(xs)
	if math.IsNaN(gm) {
		return nil
	}
	return &gm
}
