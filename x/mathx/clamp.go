package mathx

import "golang.org/x/exp/constraints"

// Clamp bounds config-supplied periods and counts. Swapped bounds are
// tolerated.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	lo, hi = min(lo, hi), max(lo, hi)
	return min(max(v, lo), hi)
}

// Fits reports whether n bytes starting at off lie inside a window of
// length bytes, without overflowing.
func Fits[T constraints.Unsigned](off, n, length T) bool {
	end := off + n
	return end >= off && end <= length
}
