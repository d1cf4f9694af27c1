package disasm

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runsystem/internal/offsets"
	"github.com/roach88/runsystem/internal/testutil"
)

// buildLog renders a function body with one instruction per mnemonic at
// 4-byte strides starting at base, each annotated with samples.
func buildLog(fn string, base uint64, samples int64, mnemonics ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%016x <%s>:\n", base, fn)
	for i, m := range mnemonics {
		fmt.Fprintf(&b, "%d  : %x: %s\n", samples, base+uint64(4*i), m)
	}
	return b.String()
}

func index(t *testing.T, app, path, content string) *offsets.Index {
	t.Helper()
	f, err := offsets.Parse(strings.NewReader(content), path)
	require.NoError(t, err)
	return offsets.NewIndex(app, f)
}

func TestExtract_TwoBlocksWithNop(t *testing.T) {
	log := buildLog("myFunc", 0x1000, 10,
		"add", "add", "add", "nop", "add", "add", "add", "add", "add", "add", "add")
	idx := index(t, "app", "file.offsets", "myFunc\n[0,4] - 7\n[5,9] - 8\n")

	got, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "log", idx)
	require.NoError(t, err)

	// The nop shares ordinal 3 with the next add, so block 7 covers five
	// annotated lines and block 8 four.
	assert.Equal(t, Metrics{
		"app.file.7": {Function: "myFunc", Time: 50, CodeSize: 20},
		"app.file.8": {Function: "myFunc", Time: 40, CodeSize: 16},
	}, got)
}

func TestExtract_EnclosingRangeSumsCoveredInstructions(t *testing.T) {
	for _, n := range []int{2, 3, 8, 17} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			mnemonics := make([]string, n)
			for i := range mnemonics {
				mnemonics[i] = "mov"
			}
			log := buildLog("f", 0x4000, 7, mnemonics...)
			idx := index(t, "a", "u.offsets", fmt.Sprintf("f\n[0,%d] - 1\n", n-1))

			got, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "log", idx)
			require.NoError(t, err)

			// Instructions 0..n-2 are inside the block; instruction n-1 ends it.
			want := BlockMetrics{Function: "f", Time: int64(7 * (n - 1)), CodeSize: int64(4 * (n - 1))}
			assert.Equal(t, want, got["a.u.1"])
		})
	}
}

func TestExtract_ByteDeltaPolicy(t *testing.T) {
	log := "0000000000002000 <g>:\n" +
		"  5 : 2000: push\n" +
		"  6 : 2001: mov\n" +
		"  7 : 2004: add\n" +
		"  8 : 2008: ret\n"
	idx := index(t, "app", "g.offsets", "g\n[0,4] - 1\n")

	got, err := NewExtractor(ByteDeltaStep{}).Extract(strings.NewReader(log), "log", idx)
	require.NoError(t, err)
	assert.Equal(t, BlockMetrics{Function: "g", Time: 18, CodeSize: 8}, got["app.g.1"])
}

func TestExtract_JumpAwarePolicy(t *testing.T) {
	log := "0000000000003000 <h>:\n" +
		"  1 : 3000: cmp\n" +
		"  2 : 3003: jne\n" +
		"  3 : 3005: add\n" +
		"  4 : 3008: ret\n"
	idx := index(t, "app", "h.offsets", "h\n[0,4] - 2\n")

	got, err := NewExtractor(JumpAwareStep{}).Extract(strings.NewReader(log), "log", idx)
	require.NoError(t, err)
	assert.Equal(t, BlockMetrics{Function: "h", Time: 6, CodeSize: 8}, got["app.h.2"])

	// The same log under the flat policy ends the block at a different line.
	flat, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "log", idx)
	require.NoError(t, err)
	assert.Empty(t, flat, "flat ordinals never reach 4 in a four-instruction body")
}

func TestExtract_MalformedLineIsFatal(t *testing.T) {
	log := "0000000000001000 <f>:\n" +
		"  1 : 1000: add\n" +
		":    x += 1;\n" +
		"  1 : 1004: add\n"
	idx := index(t, "app", "f.offsets", "f\n[0,1] - 1\n[1,2] - 2\n")

	_, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "run.log", idx)
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
	assert.Contains(t, err.Error(), "run.log:3")
}

func TestExtract_LinesAfterResolvedBlocksAreNotParsed(t *testing.T) {
	log := "0000000000001000 <f>:\n" +
		"  1 : 1000: add\n" +
		"  1 : 1004: add\n" +
		"this would be fatal if it were read\n"
	idx := index(t, "app", "f.offsets", "f\n[0,1] - 1\n")

	got, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "log", idx)
	require.NoError(t, err)
	assert.Equal(t, BlockMetrics{Function: "f", Time: 1, CodeSize: 4}, got["app.f.1"])
}

func TestExtract_MissingFunctionIsAbsent(t *testing.T) {
	log := buildLog("present", 0x1000, 1, "add", "add")
	idx := index(t, "app", "f.offsets", "absent\n[0,1] - 1\npresent\n[0,1] - 2\n")

	got, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "log", idx)
	require.NoError(t, err)
	_, ok := got["app.f.1"]
	assert.False(t, ok, "no header means no metrics, not zeros")
	assert.Contains(t, got, "app.f.2")
}

func TestExtract_BodyEndingWithOpenBlocksIsFatal(t *testing.T) {
	tests := []struct {
		name, log, reason string
		line              int
	}{
		{
			name: "blank line",
			log: "0000000000001000 <f>:\n" +
				"  1 : 1000: add\n" +
				"\n" +
				"  1 : 1004: add\n" +
				"  1 : 1008: add\n",
			reason: "function body ended",
			line:   3,
		},
		{
			name:   "next header",
			log:    buildLog("f", 0x1000, 1, "add") + buildLog("g", 0x2000, 1, "add", "add"),
			reason: "next function started",
			line:   3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := index(t, "app", "f.offsets", "f\n[0,2] - 1\n")

			got, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(tt.log), "run.log", idx)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, IsFormatError(err))
			assert.Contains(t, err.Error(), fmt.Sprintf("run.log:%d", tt.line))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestExtract_UnreachedEndAtEOFIsAbsent(t *testing.T) {
	log := buildLog("a", 0x1000, 1, "add", "add")
	idx := index(t, "app", "f.offsets", "a\n[0,5] - 1\n")

	got, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "log", idx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtract_ResolvedFunctionMayBeFollowedByAnother(t *testing.T) {
	log := buildLog("a", 0x1000, 2, "add", "add") + "\n" + buildLog("b", 0x2000, 3, "add", "add")
	idx := index(t, "app", "f.offsets", "a\n[0,1] - 1\nb\n[0,1] - 2\n")

	got, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "log", idx)
	require.NoError(t, err)
	assert.Equal(t, Metrics{
		"app.f.1": {Function: "a", Time: 2, CodeSize: 4},
		"app.f.2": {Function: "b", Time: 3, CodeSize: 4},
	}, got)
}

// The offset file below names its first record before any function, so
// block 7 has no context and is dropped; block 8 is measured once its end
// ordinal is reached.
func TestExtract_OrphanRecordBeforeFunction(t *testing.T) {
	const offsetsFile = "[0,4] - 7\n myFunc\n[5,9] - 8"
	tests := []struct {
		name string
		nop  int
		want Metrics
	}{
		{
			name: "nop last",
			nop:  9,
			want: Metrics{"app.file.8": {Function: "myFunc", Time: 40, CodeSize: 16}},
		},
		{
			// Nine non-nop instructions never reach ordinal 9.
			name: "nop inside",
			nop:  3,
			want: Metrics{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mnemonics := make([]string, 10)
			for i := range mnemonics {
				mnemonics[i] = "add"
			}
			mnemonics[tt.nop] = "nop"
			log := buildLog("myFunc", 0x1000, 10, mnemonics...)

			f, err := offsets.Parse(strings.NewReader(offsetsFile), "file.offsets")
			require.NoError(t, err)
			assert.Equal(t, 1, f.Orphans)

			got, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "log", offsets.NewIndex("app", f))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "app.file.7")
		})
	}
}

func TestExtract_RecurringIDsAreSummed(t *testing.T) {
	log := buildLog("f", 0x1000, 3, "add", "add", "add")
	idx := index(t, "app", "f.offsets", "f\n[0,1] - 1\n[1,2] - 1\n")

	got, err := NewExtractor(FlatStep{}).Extract(strings.NewReader(log), "log", idx)
	require.NoError(t, err)
	assert.Equal(t, BlockMetrics{Function: "f", Time: 6, CodeSize: 8}, got["app.f.1"])
}

func TestExtract_RequiresClassifier(t *testing.T) {
	_, err := (&Extractor{}).Extract(strings.NewReader(""), "log", offsets.NewIndex("app"))
	assert.ErrorContains(t, err, "no instruction classifier")
}

func TestMetricsAddAndSortedIDs(t *testing.T) {
	ms := Metrics{}
	ms.Add("b", BlockMetrics{Function: "f", Time: 1, CodeSize: 2, LLCMisses: 3})
	ms.Add("a", BlockMetrics{Function: "g", Time: 1})
	ms.Add("b", BlockMetrics{Function: "f", Time: 10, CodeSize: 20, LLCMisses: 30})

	assert.Equal(t, []string{"a", "b"}, ms.SortedIDs())
	assert.Equal(t, BlockMetrics{Function: "f", Time: 11, CodeSize: 22, LLCMisses: 33}, ms["b"])
}

func TestExtractFile_OprofileSampleGolden(t *testing.T) {
	idx, err := offsets.Load("app", []string{filepath.Join("testdata", "kernel.c.offsets")})
	require.NoError(t, err)

	got, err := NewExtractor(FlatStep{}).ExtractFile(filepath.Join("testdata", "kernel.log"), idx)
	require.NoError(t, err)

	testutil.AssertGoldenJSON(t, "oprofile_sample", got)
}
