// Package offsets reads the per-translation-unit offset files emitted by
// compiler instrumentation.
//
// An offset file lists, one per line, either a bare function name or a
// record "[start, end] - blockID". Start and end are instruction ordinals
// relative to the most recently named function, not addresses. A function
// name line sets the context for every record that follows it until the
// next function name or end of file.
package offsets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/runsystem/internal/model"
)

var recordPattern = regexp.MustCompile(`^\s*\[(\d+)\s*,\s*(\d+)\]\s*-\s*(\d+)`)

// Range is one block's instruction ordinal span within a function.
type Range struct {
	Start   int
	End     int
	BlockID string
}

// FunctionRanges holds the ranges of one function in file order.
type FunctionRanges struct {
	Name   string
	Ranges []Range
}

// File is a parsed offset file.
type File struct {
	Path      string
	Functions []FunctionRanges

	// Orphans counts records that appeared before any function name.
	// They have no function context and are dropped.
	Orphans int
}

// Base returns the translation unit name used in qualified block IDs.
func (f *File) Base() string {
	return model.BaseFilename(f.Path)
}

// FormatError reports a malformed offset record.
type FormatError struct {
	Path string
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

// IsFormatError reports whether err is (or wraps) a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// ParseFile opens and parses the offset file at path.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open offset file: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads an offset file from r. path is used for error messages and
// for the translation unit name.
func Parse(r io.Reader, path string) (*File, error) {
	file := &File{Path: path}
	byName := make(map[string]int)
	current := -1

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		m := recordPattern.FindStringSubmatch(line)
		if m == nil {
			// Anything that is not a record names a function.
			name := strings.TrimSpace(line)
			idx, ok := byName[name]
			if !ok {
				idx = len(file.Functions)
				byName[name] = idx
				file.Functions = append(file.Functions, FunctionRanges{Name: name})
			}
			current = idx
			continue
		}

		start, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, &FormatError{Path: path, Line: lineNo, Msg: fmt.Sprintf("bad start %q", m[1])}
		}
		end, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, &FormatError{Path: path, Line: lineNo, Msg: fmt.Sprintf("bad end %q", m[2])}
		}
		if start > end {
			return nil, &FormatError{Path: path, Line: lineNo, Msg: fmt.Sprintf("range start %d after end %d", start, end)}
		}
		if current < 0 {
			file.Orphans++
			continue
		}
		fn := &file.Functions[current]
		fn.Ranges = append(fn.Ranges, Range{Start: start, End: end, BlockID: m[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read offset file %s: %w", path, err)
	}
	return file, nil
}

// Validate checks that each function's ranges are ordered by start and
// do not overlap. Parse keeps ranges as written, so nested loops, whose
// ranges enclose each other, parse fine and fail here.
func (f *File) Validate() error {
	for _, fn := range f.Functions {
		for i := 1; i < len(fn.Ranges); i++ {
			prev, cur := fn.Ranges[i-1], fn.Ranges[i]
			if cur.Start < prev.Start {
				return fmt.Errorf("%s: function %s: block %s starts before block %s", f.Path, fn.Name, cur.BlockID, prev.BlockID)
			}
			if cur.Start <= prev.End {
				return fmt.Errorf("%s: function %s: block %s overlaps block %s", f.Path, fn.Name, cur.BlockID, prev.BlockID)
			}
		}
	}
	return nil
}
