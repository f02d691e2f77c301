package radix

import (
	"errors"
	"fmt"
)

var (
	ErrCapacity          = errors.New("radix: input exceeds sorter capacity")
	ErrKeyRange          = errors.New("radix: key wider than 16 bits")
	ErrCountMismatch     = errors.New("radix: digit counts do not cover the input")
	ErrRankOutOfRange    = errors.New("radix: scatter rank out of range")
	ErrHistogramMismatch = errors.New("radix: digit histogram changed across a pass")
	ErrNotBijective      = errors.New("radix: permutation is not a bijection")
	ErrUnsorted          = errors.New("radix: keys are not sorted")
	ErrUnstable          = errors.New("radix: equal keys were reordered")
)

// CheckKeyRange reports the first key that does not fit in KeyBits.
func CheckKeyRange(keys []uint32) error {
	for i, k := range keys {
		if k > MaxKey {
			return fmt.Errorf("%w: keys[%d] = %d", ErrKeyRange, i, k)
		}
	}
	return nil
}

// CheckBijection verifies that perm contains every value in [0, len(perm))
// exactly once.
func CheckBijection(perm []uint32) error {
	seen := make([]bool, len(perm))
	for r, idx := range perm {
		if int(idx) >= len(perm) {
			return fmt.Errorf("%w: rank %d holds index %d of %d", ErrNotBijective, r, idx, len(perm))
		}
		if seen[idx] {
			return fmt.Errorf("%w: index %d appears twice", ErrNotBijective, idx)
		}
		seen[idx] = true
	}
	return nil
}

// CheckSorted verifies that keys is non-decreasing.
func CheckSorted(keys []uint32) error {
	for r := 1; r < len(keys); r++ {
		if keys[r] < keys[r-1] {
			return fmt.Errorf("%w: rank %d (%d) < rank %d (%d)", ErrUnsorted, r, keys[r], r-1, keys[r-1])
		}
	}
	return nil
}

// CheckStable verifies a sort result against its input: keys[r] must equal
// input[perm[r]], keys must be sorted, and equal keys must keep ascending
// original indices.
func CheckStable(input, keys, perm []uint32) error {
	if len(keys) != len(input) || len(perm) != len(input) {
		return fmt.Errorf("%w: lengths %d/%d/%d", ErrUnstable, len(input), len(keys), len(perm))
	}
	if err := CheckBijection(perm); err != nil {
		return err
	}
	if err := CheckSorted(keys); err != nil {
		return err
	}
	for r := range keys {
		if keys[r] != input[perm[r]] {
			return fmt.Errorf("%w: rank %d key %d, input[%d] = %d", ErrUnstable, r, keys[r], perm[r], input[perm[r]])
		}
		if r > 0 && keys[r] == keys[r-1] && perm[r] < perm[r-1] {
			return fmt.Errorf("%w: key %d at ranks %d,%d", ErrUnstable, keys[r], r-1, r)
		}
	}
	return nil
}

// DigitHistogram counts the pass-th digit over keys.
func DigitHistogram(keys []uint32, pass int) [Buckets]int {
	var h [Buckets]int
	for _, k := range keys {
		h[Digit(k, pass)]++
	}
	return h
}

// DigitHistograms counts every digit position over keys. Equal histograms
// before and after a pass mean no element was lost or duplicated.
func DigitHistograms(keys []uint32) [Passes][Buckets]int {
	var h [Passes][Buckets]int
	for _, k := range keys {
		for pass := 0; pass < Passes; pass++ {
			h[pass][Digit(k, pass)]++
		}
	}
	return h
}
