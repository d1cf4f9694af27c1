package features

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runsystem/internal/model"
)

func TestParseFile(t *testing.T) {
	p := NewParser(nil)
	got, err := p.ParseFile(filepath.Join("testdata", "kernel.c.features"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, p.Skipped, "the function record is dropped")

	before := got[0]
	assert.Equal(t, "3", before.BlockID)
	assert.Equal(t, model.PlaceBefore, before.Place)
	assert.Equal(t, "Loop Rotate", before.PassName)
	assert.Equal(t, int64(0), before.Order)
	n, ok := before.Features.Int("numIVUsers")
	require.True(t, ok)
	assert.Equal(t, int64(1), n)

	after := got[1]
	assert.Equal(t, "3", after.BlockID, "string and numeric ids are the same block")
	assert.Equal(t, model.PlaceAfter, after.Place)
	assert.Equal(t, int64(1), after.Order)
	empty, ok := after.Features.Bool("isEmpty")
	require.True(t, ok)
	assert.False(t, empty)
	assert.Equal(t, model.FeatureRaw("0.5"), after.Features["avgWeight"])
}

func TestParse_KRecordsRoundTrip(t *testing.T) {
	for _, k := range []int{0, 1, 2, 7} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			var b strings.Builder
			for i := 0; i < k; i++ {
				place := "Before"
				if i%2 == 1 {
					place = "After"
				}
				fmt.Fprintf(&b, "{\n  \"type\": \"loop\",\n  \"id\": \"%d\",\n  \"pass_place\": \"%s LICM\",\n  \"features\": {\"numCalls\": %d}\n}\n", i, place, i)
			}
			got, err := NewParser(nil).Parse(strings.NewReader(b.String()), "gen")
			require.NoError(t, err)
			require.Len(t, got, k)
			for i, s := range got {
				assert.Equal(t, fmt.Sprint(i), s.BlockID)
				assert.Equal(t, int64(i), s.Order)
				calls, _ := s.Features.Int("numCalls")
				assert.Equal(t, int64(i), calls)
			}
		})
	}
}

func TestParse_NestedCloseNotAtLineStart(t *testing.T) {
	in := `{"type": "loop", "id": 1, "pass_place": "After X",
  "features": {
    "numIVUsers": 2
  }
}
`
	got, err := NewParser(nil).Parse(strings.NewReader(in), "nested")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "X", got[0].PassName)
}

func TestParse_IndentedOuterCloseMisSplits(t *testing.T) {
	// The outer brace of the first record is indented, so the record only
	// ends at the second record's closing line and the buffer holds two
	// objects.
	in := "{\"type\": \"loop\", \"id\": 1, \"pass_place\": \"Before X\", \"features\": {}\n  }\n" +
		"{\"type\": \"loop\", \"id\": 2, \"pass_place\": \"After X\", \"features\": {}\n}\n"
	_, err := NewParser(nil).Parse(strings.NewReader(in), "indented")
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
	assert.Contains(t, err.Error(), "indented:1:")
}

func TestParse_OrderSpansFilesOfOneBatch(t *testing.T) {
	rec := func(id string) string {
		return fmt.Sprintf("{\"type\": \"loop\", \"id\": %q, \"pass_place\": \"Before P\", \"features\": {}\n}\n", id)
	}
	p := NewParser(nil)
	first, err := p.Parse(strings.NewReader(rec("a")+rec("b")), "one")
	require.NoError(t, err)
	second, err := p.Parse(strings.NewReader(rec("c")), "two")
	require.NoError(t, err)

	assert.Equal(t, []int64{0, 1}, []int64{first[0].Order, first[1].Order})
	assert.Equal(t, int64(2), second[0].Order)

	fresh, err := NewParser(nil).Parse(strings.NewReader(rec("c")), "two")
	require.NoError(t, err)
	assert.Equal(t, int64(0), fresh[0].Order)
}

func TestParse_PassNameKeepsInnerSpacing(t *testing.T) {
	in := "{\"type\": \"loop\", \"id\": 1, \"pass_place\": \"After Loop  Strength Reduce\", \"features\": {}\n}\n"
	got, err := NewParser(nil).Parse(strings.NewReader(in), "x")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Loop  Strength Reduce", got[0].PassName)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{name: "bad json", in: "{\"type\": loop\n}\n", wantErr: "bad json:1:"},
		{name: "bad place", in: "{\"type\": \"loop\", \"id\": 1, \"pass_place\": \"During X\"\n}\n", wantErr: "invalid place"},
		{name: "missing id", in: "{\"type\": \"loop\", \"pass_place\": \"After X\"\n}\n", wantErr: "no id"},
		{name: "unterminated", in: "{\"type\": \"loop\"}\n\n{\"type\": \"loop\",\n", wantErr: "unterminated:1: malformed feature record: record is not terminated"},
		{name: "bad feature", in: "{\"type\": \"loop\", \"id\": 1, \"pass_place\": \"After X\", \"features\": [1]\n}\n", wantErr: "bad feature:1:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(nil).Parse(strings.NewReader(tt.in), tt.name)
			require.Error(t, err)
			assert.True(t, IsFormatError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_TrailingWhitespaceIgnored(t *testing.T) {
	in := "{\"type\": \"loop\", \"id\": 1, \"pass_place\": \"After X\", \"features\": {}\n}\n\n   \n"
	got, err := NewParser(nil).Parse(strings.NewReader(in), "ws")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestParse_LastLineWithoutNewline(t *testing.T) {
	in := "{\"type\": \"loop\", \"id\": 1, \"pass_place\": \"After X\", \"features\": {}\n}"
	got, err := NewParser(nil).Parse(strings.NewReader(in), "eof")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
