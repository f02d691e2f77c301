// Package spatial maps particle positions to integer cell hashes.
package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Large odd primes for mixing, one per axis.
const (
	primeX uint32 = 73856093
	primeY uint32 = 19349663
	primeZ uint32 = 83492791
)

// MaxTableSize is the largest prime below 2^16, so every hash fits in four
// 4-bit radix digits.
const MaxTableSize uint32 = 65521

// Coord is an integer cell coordinate.
type Coord [3]int32

// CellCoord returns the cell containing position: the component-wise floor
// of (position - center) / cellSize.
func CellCoord(position, center mgl32.Vec3, cellSize float32) Coord {
	rel := position.Sub(center).Mul(1 / cellSize)
	return Coord{
		int32(math.Floor(float64(rel[0]))),
		int32(math.Floor(float64(rel[1]))),
		int32(math.Floor(float64(rel[2]))),
	}
}

// HashCell combines a cell coordinate into [0, tableSize) using wrapping
// uint32 arithmetic. Negative coordinates wrap through two's complement.
func HashCell(c Coord, tableSize uint32) uint32 {
	h := uint32(c[0])*primeX + uint32(c[1])*primeY + uint32(c[2])*primeZ
	return h % tableSize
}

// Hash returns the cell hash of position.
func Hash(position, center mgl32.Vec3, cellSize float32, tableSize uint32) uint32 {
	return HashCell(CellCoord(position, center, cellSize), tableSize)
}

// Neighborhood holds the 27 cell offsets {-1,0,1}^3, center first.
var Neighborhood = func() [27]Coord {
	var offs [27]Coord
	n := 1
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				offs[n] = Coord{dx, dy, dz}
				n++
			}
		}
	}
	return offs
}()

// NeighborHashes writes the distinct hashes of c and its 26 neighbors into
// dst and returns how many there are. Offsets whose hash collides with an
// earlier one are folded so no bucket is visited twice.
func NeighborHashes(c Coord, tableSize uint32, dst *[27]uint32) int {
	n := 0
	for _, off := range Neighborhood {
		h := HashCell(Coord{c[0] + off[0], c[1] + off[1], c[2] + off[2]}, tableSize)
		dup := false
		for i := 0; i < n; i++ {
			if dst[i] == h {
				dup = true
				break
			}
		}
		if !dup {
			dst[n] = h
			n++
		}
	}
	return n
}
