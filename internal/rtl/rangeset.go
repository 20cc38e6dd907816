package rtl

import (
	"sort"

	"github.com/hollyjit/hollyjit/internal/jiterr"
)

// halfOpen is a [start, end) integer interval.
type halfOpen struct {
	start, end uint32
}

// RangeSet stores, per owner id, a disjoint set of half-open integer ranges
// and answers point/interval contention queries against them. The allocator
// uses one RangeSet per hardware register type, keyed by register number, to
// track where a pinned hardware register is already spoken for so that
// coalescing never introduces a conflict.
//
// Grounded on fox::jit::RangeSet (linear_register_allocator.h/.cpp): the
// original keys a std::multimap<pair<id,end>, start> so that both contention
// queries resolve with a single upper_bound lookup. A sorted per-owner slice
// gives the same asymptotics without needing an ordered-pair key.
type RangeSet struct {
	byOwner map[uint32][]halfOpen
}

// NewRangeSet constructs an empty range set.
func NewRangeSet() *RangeSet {
	return &RangeSet{byOwner: make(map[uint32][]halfOpen)}
}

// Clear erases all stored ranges.
func (s *RangeSet) Clear() {
	s.byOwner = make(map[uint32][]halfOpen)
}

// AddRange records [start, end) for owner, merging with any ranges of the
// same owner that it touches or overlaps. It panics (InvariantViolation) if
// the new range properly overlaps an existing, non-adjacent range for the
// same owner — callers are expected to only add disjoint ranges.
func (s *RangeSet) AddRange(owner, start, end uint32) {
	if start >= end {
		return
	}
	ranges := s.byOwner[owner]

	merged := halfOpen{start: start, end: end}
	out := ranges[:0:0]
	for _, r := range ranges {
		switch {
		case r.end < merged.start || r.start > merged.end:
			// Disjoint and not adjacent; keep as-is.
			out = append(out, r)
		case r.end == merged.start || r.start == merged.end || overlaps(r, merged):
			if overlaps(r, merged) && r.end != merged.start && r.start != merged.end {
				jiterr.Raise("RangeSet.AddRange", "overlapping range for same owner")
			}
			if r.start < merged.start {
				merged.start = r.start
			}
			if r.end > merged.end {
				merged.end = r.end
			}
		default:
			out = append(out, r)
		}
	}
	out = append(out, merged)
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	s.byOwner[owner] = out
}

func overlaps(a, b halfOpen) bool {
	return a.start < b.end && b.start < a.end
}

// IsContended reports whether owner has a stored range covering position.
func (s *RangeSet) IsContended(owner, position uint32) bool {
	for _, r := range s.byOwner[owner] {
		if r.start <= position && position < r.end {
			return true
		}
		if r.start > position {
			break
		}
	}
	return false
}

// IsContendedRange reports whether owner has any stored range overlapping
// [start, end).
func (s *RangeSet) IsContendedRange(owner, start, end uint32) bool {
	for _, r := range s.byOwner[owner] {
		if r.start >= end {
			break
		}
		if overlaps(r, halfOpen{start: start, end: end}) {
			return true
		}
	}
	return false
}
