// Package compare relates stored measurements: Before/After feature
// snapshots of one loop, and loops of one run with their counterparts in
// another.
package compare

import "github.com/roach88/runsystem/internal/model"

// Pair is a Before/After snapshot pair. A nil side means no snapshot.
type Pair struct {
	Before *model.Features `json:"before"`
	After  *model.Features `json:"after"`
}

// PairSnapshots pairs snapshots given in ascending emission order.
//
// Snapshots are split into a Before and an After sequence. A snapshot with
// the same place as the one just before it replaces that sequence's last
// entry instead of being appended, so a run of same-place snapshots
// contributes only its most recent one. The sequences are then zipped by
// position and the longer one's tail is dropped.
func PairSnapshots(snaps []model.Features) []Pair {
	before, after := splitByPlace(snaps)
	n := min(len(before), len(after))
	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, Pair{Before: before[i], After: after[i]})
	}
	return pairs
}

// PairSnapshotsAligned is PairSnapshots without dropping the longer tail:
// unmatched entries are paired with nil.
func PairSnapshotsAligned(snaps []model.Features) []Pair {
	before, after := splitByPlace(snaps)
	n := max(len(before), len(after))
	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		var p Pair
		if i < len(before) {
			p.Before = before[i]
		}
		if i < len(after) {
			p.After = after[i]
		}
		pairs = append(pairs, p)
	}
	return pairs
}

func splitByPlace(snaps []model.Features) (before, after []*model.Features) {
	var prev model.Place
	for i := range snaps {
		s := &snaps[i]
		seq := &before
		if s.Place == model.PlaceAfter {
			seq = &after
		}
		if s.Place == prev && len(*seq) > 0 {
			(*seq)[len(*seq)-1] = s
		} else {
			*seq = append(*seq, s)
		}
		prev = s.Place
	}
	return before, after
}
