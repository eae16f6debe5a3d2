package types

import (
	"fmt"
	"sort"
)

// ByteRange is a contiguous span of volume bytes.
type ByteRange struct {
	Offset uint64 `json:"offset" yaml:"offset"`
	Length uint64 `json:"length" yaml:"length"`
}

// End returns the first offset past the range.
func (r ByteRange) End() uint64 {
	return r.Offset + r.Length
}

// IsEmpty reports whether the range covers no bytes.
func (r ByteRange) IsEmpty() bool {
	return r.Length == 0
}

// Overlap returns the number of bytes shared by r and o.
func (r ByteRange) Overlap(o ByteRange) uint64 {
	start := max(r.Offset, o.Offset)
	end := min(r.End(), o.End())
	if end <= start {
		return 0
	}
	return end - start
}

// String returns a compact representation of the range
func (r ByteRange) String() string {
	return fmt.Sprintf("[%d+%d]", r.Offset, r.Length)
}

// TotalLength sums the lengths of all ranges.
func TotalLength(ranges []ByteRange) uint64 {
	var total uint64
	for _, r := range ranges {
		total += r.Length
	}
	return total
}

// Discontinuities counts how many ranges do not start where the previous one ended.
func Discontinuities(ranges []ByteRange) int {
	breaks := 0
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Offset != ranges[i-1].End() {
			breaks++
		}
	}
	return breaks
}

// CoalesceAdjacent merges ranges that directly follow each other, preserving order.
func CoalesceAdjacent(ranges []ByteRange) []ByteRange {
	out := make([]ByteRange, 0, len(ranges))
	for _, r := range ranges {
		if r.IsEmpty() {
			continue
		}
		if n := len(out); n > 0 && out[n-1].End() == r.Offset {
			out[n-1].Length += r.Length
			continue
		}
		out = append(out, r)
	}
	return out
}

// TrimToSize cuts the sequence so that it covers exactly size bytes, or fewer
// when the ranges are shorter than size.
func TrimToSize(ranges []ByteRange, size uint64) []ByteRange {
	out := make([]ByteRange, 0, len(ranges))
	remaining := size
	for _, r := range ranges {
		if remaining == 0 {
			break
		}
		if r.Length > remaining {
			r.Length = remaining
		}
		out = append(out, r)
		remaining -= r.Length
	}
	return out
}

// ValidateRanges checks that every range lies within [0, capacity) and that
// no two ranges of the same sequence overlap.
func ValidateRanges(ranges []ByteRange, capacity uint64) error {
	if len(ranges) == 0 {
		return fmt.Errorf("no byte ranges")
	}
	for _, r := range ranges {
		if r.IsEmpty() {
			return fmt.Errorf("empty byte range at offset %d", r.Offset)
		}
		if r.End() < r.Offset || r.End() > capacity {
			return fmt.Errorf("byte range %s exceeds capacity %d", r, capacity)
		}
	}
	sorted := append([]ByteRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Offset < sorted[i-1].End() {
			return fmt.Errorf("byte ranges %s and %s overlap", sorted[i-1], sorted[i])
		}
	}
	return nil
}

// RangeSet is a sorted, merged set of ranges supporting overlap queries.
type RangeSet struct {
	ranges []ByteRange
}

// NewRangeSet builds a set from arbitrary, possibly overlapping ranges.
func NewRangeSet(ranges []ByteRange) *RangeSet {
	sorted := make([]ByteRange, 0, len(ranges))
	for _, r := range ranges {
		if !r.IsEmpty() {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	merged := make([]ByteRange, 0, len(sorted))
	for _, r := range sorted {
		if n := len(merged); n > 0 && r.Offset <= merged[n-1].End() {
			if r.End() > merged[n-1].End() {
				merged[n-1].Length = r.End() - merged[n-1].Offset
			}
			continue
		}
		merged = append(merged, r)
	}
	return &RangeSet{ranges: merged}
}

// Ranges returns the merged ranges in ascending order.
func (s *RangeSet) Ranges() []ByteRange {
	return append([]ByteRange(nil), s.ranges...)
}

// Overlaps reports whether r shares at least one byte with the set.
func (s *RangeSet) Overlaps(r ByteRange) bool {
	return s.OverlapBytes(r) > 0
}

// OverlapBytes returns how many bytes of r are covered by the set.
func (s *RangeSet) OverlapBytes(r ByteRange) uint64 {
	if s == nil || r.IsEmpty() {
		return 0
	}
	// first range whose end is past r.Offset
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End() > r.Offset })
	var total uint64
	for ; i < len(s.ranges) && s.ranges[i].Offset < r.End(); i++ {
		total += s.ranges[i].Overlap(r)
	}
	return total
}

// Complement returns the gaps of the set within [0, capacity).
func (s *RangeSet) Complement(capacity uint64) []ByteRange {
	var out []ByteRange
	var cursor uint64
	for _, r := range s.ranges {
		if r.Offset >= capacity {
			break
		}
		if r.Offset > cursor {
			out = append(out, ByteRange{Offset: cursor, Length: r.Offset - cursor})
		}
		cursor = max(cursor, r.End())
	}
	if cursor < capacity {
		out = append(out, ByteRange{Offset: cursor, Length: capacity - cursor})
	}
	return out
}
