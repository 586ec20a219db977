package svm

import (
	"math"
	"math/bits"
)

// Range is a half-open interval [Lower, Upper) of operator rows.
type Range struct {
	Lower int
	Upper int
}

func (r Range) Len() int {
	return r.Upper - r.Lower
}

func (r Range) Empty() bool {
	return r.Upper <= r.Lower
}

// Pairs is the number of lower-triangle entries (i, j) with j <= i owned by
// the rows of r.
func (r Range) Pairs() uint64 {
	if r.Empty() {
		return 0
	}
	return triangular(uint64(r.Upper)) - triangular(uint64(r.Lower))
}

// PartitionRows splits the lower triangle of an n×n matrix into parts
// contiguous row ranges holding roughly n(n+1)/(2·parts) entries each.
// Row i contributes i+1 entries, so the cut points are found by inverting the
// cumulative count i(i+1)/2 in closed form rather than by scanning.
func PartitionRows(n, parts int) []Range {
	return splitRows(0, n, parts)
}

// RowRange returns the rows owned by rank out of parts.
func RowRange(n, rank, parts int) Range {
	if parts <= 1 {
		return Range{Lower: 0, Upper: n}
	}
	return Range{
		Lower: boundary(0, n, rank, parts),
		Upper: boundary(0, n, rank+1, parts),
	}
}

// splitRows divides the rows [lower, upper) into parts ranges of equal
// triangular work. It is also used to share one rank's rows among workers.
func splitRows(lower, upper, parts int) []Range {
	if parts < 1 {
		parts = 1
	}
	ranges := make([]Range, parts)
	prev := lower
	for r := 0; r < parts; r++ {
		next := boundary(lower, upper, r+1, parts)
		ranges[r] = Range{Lower: prev, Upper: next}
		prev = next
	}
	return ranges
}

// boundary is the first row of part r when [lower, upper) is cut into parts.
func boundary(lower, upper, r, parts int) int {
	if r <= 0 {
		return lower
	}
	if r >= parts {
		return upper
	}
	base := triangular(uint64(lower))
	total := triangular(uint64(upper)) - base
	target := base + mulDiv(total, uint64(r), uint64(parts))
	return rowReaching(target, lower, upper)
}

// rowReaching returns the smallest row i in [lower, upper] whose cumulative
// entry count i(i+1)/2 reaches target. The root of i² + i − 2·target = 0
// gives the estimate; the integer steps afterwards absorb float rounding.
func rowReaching(target uint64, lower, upper int) int {
	estimate := (math.Sqrt(1+8*float64(target)) - 1) / 2
	i := int(math.Ceil(estimate))
	if i < lower {
		i = lower
	}
	if i > upper {
		i = upper
	}
	for i < upper && triangular(uint64(i)) < target {
		i++
	}
	for i > lower && triangular(uint64(i-1)) >= target {
		i--
	}
	return i
}

// triangular computes i(i+1)/2 through a 128-bit product so that the
// intermediate i(i+1) cannot overflow.
func triangular(i uint64) uint64 {
	hi, lo := bits.Mul64(i, i+1)
	return hi<<63 | lo>>1
}

// mulDiv computes ⌊x·num/den⌋ with a 128-bit intermediate. num <= den.
func mulDiv(x, num, den uint64) uint64 {
	hi, lo := bits.Mul64(x, num)
	quo, _ := bits.Div64(hi, lo, den)
	return quo
}
