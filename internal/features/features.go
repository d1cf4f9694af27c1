// Package features parses the loop feature snapshots the instrumented
// compiler writes before and after each pass.
//
// A features file is a concatenation of JSON records without separators.
// A record ends at the first line that begins with '}'; the check is on the
// first character of the line, not on brace depth, so nested objects may
// close anywhere except column zero and a record whose outer brace is
// indented runs into the next one.
package features

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/runsystem/internal/model"
)

// RecordTypeLoop is the only record type turned into snapshots.
const RecordTypeLoop = "loop"

// Snapshot is one recognised feature record.
type Snapshot struct {
	BlockID  string           `json:"block_id"`
	Place    model.Place      `json:"place"`
	PassName string           `json:"pass_name"`
	Features model.FeatureSet `json:"features"`
	// Order is the record's position among all snapshots of a parse batch.
	Order int64 `json:"order"`
}

// FormatError reports a record that cannot be decoded.
type FormatError struct {
	File string
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s:%d: malformed feature record: %s", e.File, e.Line, e.Msg)
}

// IsFormatError reports whether err is (or wraps) a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Parser turns feature files into snapshots. One Parser is one batch:
// Order keeps increasing across every file it reads.
type Parser struct {
	Logger *slog.Logger
	// Skipped counts records of unrecognised types.
	Skipped int

	next int64
}

// NewParser returns a parser with a fresh order counter.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{Logger: logger}
}

// ParseFile parses the features file at path.
func (p *Parser) ParseFile(path string) ([]Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open features file: %w", err)
	}
	defer f.Close()
	return p.Parse(f, path)
}

// Parse reads records from r. name identifies r in errors.
func (p *Parser) Parse(r io.Reader, name string) ([]Snapshot, error) {
	var (
		out       []Snapshot
		buf       bytes.Buffer
		lineNo    int
		startLine int
	)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			lineNo++
			if startLine == 0 && strings.TrimSpace(line) != "" {
				startLine = lineNo
			}
			buf.WriteString(line)
			if strings.HasPrefix(line, "}") {
				snap, ok, derr := p.decode(buf.Bytes(), name, startLine)
				if derr != nil {
					return nil, derr
				}
				if ok {
					out = append(out, snap)
				}
				buf.Reset()
				startLine = 0
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read features file %s: %w", name, err)
		}
	}
	if strings.TrimSpace(buf.String()) != "" {
		return nil, &FormatError{File: name, Line: startLine, Msg: "record is not terminated"}
	}
	return out, nil
}

type record struct {
	Type      string           `json:"type"`
	ID        blockID          `json:"id"`
	PassPlace string           `json:"pass_place"`
	Features  model.FeatureSet `json:"features"`
}

// blockID accepts the identifier either as a JSON string or a number.
type blockID string

func (b *blockID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = blockID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number, got %s", data)
	}
	*b = blockID(n.String())
	return nil
}

func (p *Parser) decode(data []byte, name string, line int) (Snapshot, bool, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Snapshot{}, false, &FormatError{File: name, Line: line, Msg: err.Error()}
	}
	if rec.Type != RecordTypeLoop {
		p.Skipped++
		p.Logger.Debug("skipping feature record", "type", rec.Type, "file", name, "line", line)
		return Snapshot{}, false, nil
	}
	if rec.ID == "" {
		return Snapshot{}, false, &FormatError{File: name, Line: line, Msg: "record has no id"}
	}
	placeStr, pass, _ := strings.Cut(rec.PassPlace, " ")
	place, err := model.ParsePlace(placeStr)
	if err != nil {
		return Snapshot{}, false, &FormatError{File: name, Line: line, Msg: err.Error()}
	}
	if rec.Features == nil {
		rec.Features = model.FeatureSet{}
	}
	snap := Snapshot{
		BlockID:  string(rec.ID),
		Place:    place,
		PassName: pass,
		Features: rec.Features,
		Order:    p.next,
	}
	p.next++
	return snap, true, nil
}
