package offsets

import (
	"errors"

	"github.com/roach88/runsystem/internal/model"
)

// Entry is one range in the application-qualified ID space.
type Entry struct {
	QualifiedID string
	Function    string
	Range       Range
}

// Index merges the offset files of one application into a single
// qualified ID space keyed application.baseFilename.blockID.
type Index struct {
	Application string
	Files       []*File
}

// NewIndex builds an index over files for application.
func NewIndex(application string, files ...*File) *Index {
	return &Index{Application: application, Files: files}
}

// Load parses every path and indexes the results.
func Load(application string, paths []string) (*Index, error) {
	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		f, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return NewIndex(application, files...), nil
}

// Entries returns every range in file order.
func (idx *Index) Entries() []Entry {
	var out []Entry
	for _, f := range idx.Files {
		for _, fn := range f.Functions {
			for _, r := range fn.Ranges {
				out = append(out, Entry{
					QualifiedID: model.QualifiedID(idx.Application, f.Path, r.BlockID),
					Function:    fn.Name,
					Range:       r,
				})
			}
		}
	}
	return out
}

// Functions returns the ranges grouped by function name across all files,
// preserving first-seen order of function names.
func (idx *Index) Functions() ([]string, map[string][]Entry) {
	var order []string
	byFunc := make(map[string][]Entry)
	for _, e := range idx.Entries() {
		if _, ok := byFunc[e.Function]; !ok {
			order = append(order, e.Function)
		}
		byFunc[e.Function] = append(byFunc[e.Function], e)
	}
	return order, byFunc
}

// Orphans returns the number of dropped records across all files.
func (idx *Index) Orphans() int {
	n := 0
	for _, f := range idx.Files {
		n += f.Orphans
	}
	return n
}

// Validate runs File.Validate on every file and joins the failures.
func (idx *Index) Validate() error {
	var errs []error
	for _, f := range idx.Files {
		if err := f.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
