// Package radix sorts (key, index) pairs with a data-parallel least
// significant digit radix sort.
//
// Keys are 16 bits wide and sorted in four passes of one 4-bit digit each.
// Each pass counts digits per thread group, composes the per-group counts
// into global scatter offsets with a two-level prefix sum, and scatters every
// element into a fresh buffer. Elements with equal digits keep their relative
// order inside a group and groups are laid out in group order, so every pass
// is stable and the four passes together sort by the full key.
package radix

const (
	// DigitBits is the width of one radix digit.
	DigitBits = 4
	// Buckets is the number of distinct digit values.
	Buckets = 1 << DigitBits
	// Passes is the number of digit passes needed to cover KeyBits.
	Passes = 4
	// KeyBits is the width of a sortable key.
	KeyBits = DigitBits * Passes
	// MaxKey is the largest sortable key.
	MaxKey = 1<<KeyBits - 1
	// GroupSize is the number of consecutive slots one thread group owns.
	GroupSize = 64
)

// Digit extracts the pass-th 4-bit digit of key, lowest digit first.
func Digit(key uint32, pass int) uint32 {
	return (key >> (DigitBits * uint(pass))) & (Buckets - 1)
}
