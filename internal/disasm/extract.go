package disasm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/roach88/runsystem/internal/offsets"
)

// BlockMetrics are the aggregate measurements of one block.
type BlockMetrics struct {
	Function  string `json:"function"`
	Time      int64  `json:"time"`
	CodeSize  int64  `json:"code_size"`
	LLCMisses int64  `json:"llc_misses"`
}

// Metrics maps qualified block IDs to their measurements.
type Metrics map[string]BlockMetrics

// Add records m under id, summing with any earlier measurement of the same
// block (repeated profiling passes over one block accumulate).
func (ms Metrics) Add(id string, m BlockMetrics) {
	prev, ok := ms[id]
	if !ok {
		ms[id] = m
		return
	}
	prev.Time += m.Time
	prev.CodeSize += m.CodeSize
	prev.LLCMisses += m.LLCMisses
	ms[id] = prev
}

// SortedIDs returns the qualified block IDs in lexical order.
func (ms Metrics) SortedIDs() []string {
	ids := make([]string, 0, len(ms))
	for id := range ms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FormatError reports a log line that does not have the expected shape.
// Line parsing cannot resynchronize after one, so it is always fatal.
type FormatError struct {
	Log  string
	Line int
	Text string
	// Reason is set when the line is well formed but out of place.
	Reason string
}

func (e *FormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s:%d: wrong format for profiler output: %s: %q", e.Log, e.Line, e.Reason, e.Text)
	}
	return fmt.Sprintf("%s:%d: wrong format for profiler output: %q", e.Log, e.Line, e.Text)
}

// IsFormatError reports whether err is (or wraps) a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Extractor reduces an annotated disassembly log to block metrics.
type Extractor struct {
	Classifier Classifier
	Logger     *slog.Logger
}

// NewExtractor creates an extractor using classifier c.
func NewExtractor(c Classifier) *Extractor {
	return &Extractor{Classifier: c, Logger: slog.Default()}
}

// ExtractFile runs Extract on the log at path.
func (e *Extractor) ExtractFile(path string, idx *offsets.Index) (Metrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiler log: %w", err)
	}
	defer f.Close()
	return e.Extract(f, path, idx)
}

// Extract computes the metrics of every range in idx from the log read
// from r. name is used in error messages.
//
// Ranges whose function has no header in the log, or whose end ordinal is
// not reached before EOF, produce no entry. A blank line or another
// function header while ranges are open is a FormatError.
func (e *Extractor) Extract(r io.Reader, name string, idx *offsets.Index) (Metrics, error) {
	if e.Classifier == nil {
		return nil, fmt.Errorf("extract %s: no instruction classifier", name)
	}
	lines, err := readLines(r)
	if err != nil {
		return nil, fmt.Errorf("read profiler log %s: %w", name, err)
	}

	if err := idx.Validate(); err != nil {
		e.logger().Warn("offset ranges overlap or are out of order", "error", err)
	}

	results := make(Metrics)
	order, byFunc := idx.Functions()
	for _, fn := range order {
		entries := byFunc[fn]
		header, addr, found := findHeader(lines, fn)
		if !found {
			e.logger().Debug("function not in profiler log", "function", fn, "blocks", len(entries))
			continue
		}
		blocks, err := e.scanFunction(lines, header, addr, name, entries)
		if err != nil {
			return nil, err
		}
		for i, b := range blocks {
			if !b.done {
				e.logger().Debug("block end not reached", "block", entries[i].QualifiedID, "function", fn)
				continue
			}
			results.Add(entries[i].QualifiedID, BlockMetrics{
				Function:  fn,
				Time:      b.time,
				CodeSize:  b.codeSize,
				LLCMisses: b.llcMisses,
			})
		}
	}
	return results, nil
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// blockState tracks one range while its function is scanned.
type blockState struct {
	start, end int64
	started    bool
	done       bool
	time       int64
	codeSize   int64
	llcMisses  int64
}

// scanFunction walks the body that starts after lines[header] and matches
// every entry in a single pass. The scan stops once all blocks are
// resolved or at EOF. The body of a function ends at a blank line or the
// next header, so reaching either with blocks still open is a FormatError.
func (e *Extractor) scanFunction(lines []string, header int, startAddr uint64, logName string, entries []offsets.Entry) ([]blockState, error) {
	blocks := make([]blockState, len(entries))
	for i, en := range entries {
		blocks[i] = blockState{start: int64(en.Range.Start), end: int64(en.Range.End)}
	}

	remaining := len(blocks)
	prev := startAddr
	var ordinal int64
	for i := header + 1; i < len(lines) && remaining > 0; i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			return nil, &FormatError{Log: logName, Line: i + 1, Text: line, Reason: "function body ended with open blocks"}
		}
		if IsHeader(line) {
			return nil, &FormatError{Log: logName, Line: i + 1, Text: line, Reason: "next function started with open blocks"}
		}
		ins, ok := ParseInstruction(line)
		if !ok {
			return nil, &FormatError{Log: logName, Line: i + 1, Text: line}
		}
		size := int64(ins.Address) - int64(prev)
		prev = ins.Address

		for j := range blocks {
			b := &blocks[j]
			if b.done {
				continue
			}
			if !b.started {
				if ordinal == b.start {
					b.started = true
					b.time = ins.Samples
					b.llcMisses = ins.LLCSamples
				}
				continue
			}
			if ordinal < b.end {
				b.time += ins.Samples
				b.llcMisses += ins.LLCSamples
			}
			b.codeSize += size
			if ordinal == b.end {
				b.done = true
				remaining--
			}
		}
		ordinal += e.Classifier.Step(ins.Mnemonic, size)
	}
	return blocks, nil
}

// findHeader returns the index and address of the first header for fn.
func findHeader(lines []string, fn string) (int, uint64, bool) {
	for i, line := range lines {
		if addr, ok := ParseHeaderFor(line, fn); ok {
			return i, addr, true
		}
	}
	return 0, 0, false
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
