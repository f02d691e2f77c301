package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// DomainCells returns the number of cells covering a box with the given half
// extents, with one cell of margin per axis for particles on the boundary.
func DomainCells(extents mgl32.Vec3, cellSize float32) int {
	if cellSize <= 0 {
		return 0
	}
	total := int64(1)
	for axis := 0; axis < 3; axis++ {
		cells := int64(math.Ceil(float64(2*extents[axis]/cellSize))) + 1
		if cells < 1 {
			cells = 1
		}
		total *= cells
		if total > int64(MaxTableSize) {
			return int(MaxTableSize)
		}
	}
	return int(total)
}

// TableSize picks the hash table size for n particles in a domain of
// domainCells cells: the smallest prime at least max(2n, domainCells),
// clamped to MaxTableSize.
func TableSize(n, domainCells int) uint32 {
	target := max(2*n, domainCells, 1)
	if target >= int(MaxTableSize) {
		return MaxTableSize
	}
	for p := uint32(target); p < MaxTableSize; p++ {
		if isPrime(p) {
			return p
		}
	}
	return MaxTableSize
}

func isPrime(v uint32) bool {
	if v < 2 {
		return false
	}
	if v%2 == 0 {
		return v == 2
	}
	for d := uint32(3); d*d <= v; d += 2 {
		if v%d == 0 {
			return false
		}
	}
	return true
}
