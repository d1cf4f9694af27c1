package store

import (
	"context"
	"fmt"

	"github.com/roach88/runsystem/internal/model"
)

// CreateRun stores r and sets r.ID. Entity IDs are kept out of stored
// bodies; readers set them from the document ID.
func (s *Store) CreateRun(ctx context.Context, r *model.Run) error {
	doc := *r
	doc.ID = ""
	id, err := s.Create(ctx, model.CollectionRuns, doc)
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (model.Run, error) {
	var r model.Run
	if err := s.Get(ctx, model.CollectionRuns, id, &r); err != nil {
		return model.Run{}, err
	}
	r.ID = id
	return r, nil
}

// ListRuns returns every run in creation order.
func (s *Store) ListRuns(ctx context.Context) ([]model.Run, error) {
	return searchAs[model.Run](ctx, s, Query{Collection: model.CollectionRuns}, func(r *model.Run, id string) { r.ID = id })
}

// GetOrCreateFunction finds the function with f's (run, application,
// filename, function name) or stores f. Either way f.ID is set.
func (s *Store) GetOrCreateFunction(ctx context.Context, f *model.Function) (created bool, err error) {
	doc := *f
	doc.ID = ""
	id, created, err := s.GetOrCreate(ctx, model.CollectionFunctions, f.Key(), doc)
	if err != nil {
		return false, err
	}
	f.ID = id
	return created, nil
}

// GetFunction loads a function by ID.
func (s *Store) GetFunction(ctx context.Context, id string) (model.Function, error) {
	var f model.Function
	if err := s.Get(ctx, model.CollectionFunctions, id, &f); err != nil {
		return model.Function{}, err
	}
	f.ID = id
	return f, nil
}

// FindFunctions returns the functions matching every field in match
// (JSON field names, e.g. "run_id"), sorted by function name.
func (s *Store) FindFunctions(ctx context.Context, match map[string]string) ([]model.Function, error) {
	q := Query{Collection: model.CollectionFunctions, Match: match, SortBy: "function_name"}
	return searchAs[model.Function](ctx, s, q, func(f *model.Function, id string) { f.ID = id })
}

// CreateLoop stores l and sets l.ID.
func (s *Store) CreateLoop(ctx context.Context, l *model.Loop) error {
	doc := *l
	doc.ID = ""
	id, err := s.Create(ctx, model.CollectionLoops, doc)
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// GetLoop loads a loop by ID.
func (s *Store) GetLoop(ctx context.Context, id string) (model.Loop, error) {
	var l model.Loop
	if err := s.Get(ctx, model.CollectionLoops, id, &l); err != nil {
		return model.Loop{}, err
	}
	l.ID = id
	return l, nil
}

// FindLoops returns the loops matching every field in match, in creation
// order.
func (s *Store) FindLoops(ctx context.Context, match map[string]string) ([]model.Loop, error) {
	q := Query{Collection: model.CollectionLoops, Match: match}
	return searchAs[model.Loop](ctx, s, q, func(l *model.Loop, id string) { l.ID = id })
}

// CreateFeatures stores f and sets f.ID.
func (s *Store) CreateFeatures(ctx context.Context, f *model.Features) error {
	doc := *f
	doc.ID = ""
	id, err := s.Create(ctx, model.CollectionFeatures, doc)
	if err != nil {
		return err
	}
	f.ID = id
	return nil
}

// GetFeatures loads a feature snapshot by ID.
func (s *Store) GetFeatures(ctx context.Context, id string) (model.Features, error) {
	var f model.Features
	if err := s.Get(ctx, model.CollectionFeatures, id, &f); err != nil {
		return model.Features{}, err
	}
	f.ID = id
	return f, nil
}

// CreateLoopFeatures stores lf and sets lf.ID.
func (s *Store) CreateLoopFeatures(ctx context.Context, lf *model.LoopFeatures) error {
	doc := *lf
	doc.ID = ""
	id, err := s.Create(ctx, model.CollectionLoopFeatures, doc)
	if err != nil {
		return err
	}
	lf.ID = id
	return nil
}

// FindLoopFeatures returns the feature links of the loop with ID loopID,
// ascending by order.
func (s *Store) FindLoopFeatures(ctx context.Context, loopID string) ([]model.LoopFeatures, error) {
	q := Query{
		Collection: model.CollectionLoopFeatures,
		Match:      map[string]string{"block_id": loopID},
		SortBy:     "order",
	}
	return searchAs[model.LoopFeatures](ctx, s, q, func(lf *model.LoopFeatures, id string) { lf.ID = id })
}

// searchAs runs q and decodes every result into T, using setID to attach
// the document ID.
func searchAs[T any](ctx context.Context, s *Store, q Query, setID func(*T, string)) ([]T, error) {
	docs, err := s.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.Decode(&v); err != nil {
			return nil, fmt.Errorf("search %s: %w", q.Collection, err)
		}
		setID(&v, d.ID)
		out = append(out, v)
	}
	return out, nil
}
