package image

import "golang.org/x/exp/constraints"

// PageSize is the fixed page granularity of every mapping.
const PageSize = 0x1000

// AlignDown rounds v down to a multiple of to (a power of two).
func AlignDown[I constraints.Unsigned](v, to I) I {
	return v &^ (to - 1)
}

// AlignUp rounds v up to a multiple of to (a power of two).
func AlignUp[I constraints.Unsigned](v, to I) I {
	return AlignDown(v+to-1, to)
}
