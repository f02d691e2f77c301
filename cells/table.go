// Package cells maps every occupied hash bucket to its contiguous range of
// ranks in the sorted key order.
package cells

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/pbf/compute"
)

// Empty marks a bucket no particle hashed to.
const Empty = math.MaxUint32

// groupSize is the number of entries one thread group handles.
const groupSize = 64

var (
	ErrKeyOutOfTable     = errors.New("cells: key outside the hash table")
	ErrRangeInconsistent = errors.New("cells: cell range inconsistent with sorted keys")
)

// Table holds, for every hash h, the half-open rank range [Start[h], End[h])
// of the sorted keys equal to h, or Empty in both for unused buckets.
type Table struct {
	Start []uint32
	End   []uint32

	dev      *compute.Device
	pipeline *compute.Pipeline
	reset    compute.KernelID
	build    compute.KernelID

	// Uniform for the build in flight.
	keys []uint32
}

// NewTable allocates a table with size buckets, all empty.
func NewTable(dev *compute.Device, size uint32) (*Table, error) {
	if dev == nil {
		return nil, compute.ErrNoCompute
	}
	if size == 0 {
		return nil, fmt.Errorf("cells: table size must be positive")
	}

	t := &Table{
		Start: make([]uint32, size),
		End:   make([]uint32, size),
		dev:   dev,
	}
	p, err := compute.Compile(
		compute.KernelSpec{Name: "cells_reset", Fn: t.resetKernel},
		compute.KernelSpec{Name: "cells_build", Fn: t.buildKernel},
	)
	if err != nil {
		return nil, err
	}
	t.pipeline = p
	t.reset = p.MustLookup("cells_reset")
	t.build = p.MustLookup("cells_build")

	for i := range t.Start {
		t.Start[i] = Empty
		t.End[i] = Empty
	}
	return t, nil
}

// Size returns the number of buckets.
func (t *Table) Size() uint32 {
	return uint32(len(t.Start))
}

// Build rebuilds the table from keys sorted ascending. A key that does not
// fit the table aborts the build with ErrKeyOutOfTable.
func (t *Table) Build(sortedKeys []uint32) error {
	t.keys = sortedKeys
	defer func() {
		t.keys = nil
	}()

	if err := t.dev.Dispatch(t.pipeline, t.reset, compute.Groups(len(t.Start), groupSize)); err != nil {
		return err
	}
	if err := t.dev.Dispatch(t.pipeline, t.build, compute.Groups(len(sortedKeys), groupSize)); err != nil {
		return err
	}
	return nil
}

// Range returns the rank range of bucket h. Hashes outside the table and
// empty buckets report ok=false, which callers treat as zero neighbors.
func (t *Table) Range(h uint32) (start, end uint32, ok bool) {
	if h >= uint32(len(t.Start)) {
		return 0, 0, false
	}
	start, end = t.Start[h], t.End[h]
	if start == Empty {
		return 0, 0, false
	}
	return start, end, true
}

// Occupancy returns the number of non-empty buckets and the longest range.
func (t *Table) Occupancy() (occupied, maxRun int) {
	for h, s := range t.Start {
		if s == Empty {
			continue
		}
		occupied++
		maxRun = max(maxRun, int(t.End[h]-s))
	}
	return occupied, maxRun
}

func (t *Table) resetKernel(g int) {
	start := g * groupSize
	end := min(start+groupSize, len(t.Start))
	for h := start; h < end; h++ {
		t.Start[h] = Empty
		t.End[h] = Empty
	}
}

// buildKernel runs one thread per rank. Only the first and last rank of a
// run write, so every bucket has exactly one writer per field.
func (t *Table) buildKernel(g int) {
	keys := t.keys
	n := len(keys)
	start := g * groupSize
	end := min(start+groupSize, n)
	for r := start; r < end; r++ {
		h := keys[r]
		if h >= uint32(len(t.Start)) {
			panic(fmt.Errorf("%w: rank %d key %d, size %d", ErrKeyOutOfTable, r, h, len(t.Start)))
		}
		if r == 0 || keys[r-1] != h {
			t.Start[h] = uint32(r)
		}
		if r == n-1 || keys[r+1] != h {
			t.End[h] = uint32(r + 1)
		}
	}
}

// Check verifies the table against the sorted keys it was built from: every
// rank of bucket h lies in [Start[h], End[h]), the range holds only h, and
// buckets absent from the keys are empty.
func Check(t *Table, sortedKeys []uint32) error {
	n := uint32(len(sortedKeys))
	present := make([]bool, len(t.Start))
	for r, h := range sortedKeys {
		if h >= uint32(len(t.Start)) {
			return fmt.Errorf("%w: rank %d key %d", ErrKeyOutOfTable, r, h)
		}
		present[h] = true
		s, e := t.Start[h], t.End[h]
		if s == Empty || uint32(r) < s || uint32(r) >= e {
			return fmt.Errorf("%w: rank %d of bucket %d outside [%d,%d)", ErrRangeInconsistent, r, h, s, e)
		}
	}
	for h := range t.Start {
		s, e := t.Start[h], t.End[h]
		if !present[h] {
			if s != Empty || e != Empty {
				return fmt.Errorf("%w: bucket %d should be empty, has [%d,%d)", ErrRangeInconsistent, h, s, e)
			}
			continue
		}
		if s >= e || e > n {
			return fmt.Errorf("%w: bucket %d range [%d,%d) of %d", ErrRangeInconsistent, h, s, e, n)
		}
		if (s > 0 && sortedKeys[s-1] == uint32(h)) || (e < n && sortedKeys[e] == uint32(h)) {
			return fmt.Errorf("%w: bucket %d range [%d,%d) not maximal", ErrRangeInconsistent, h, s, e)
		}
	}
	return nil
}
