package solver

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/pbf/components"
)

// ParticleBuffer is a read-only view of the last published particles.
type ParticleBuffer struct {
	data []components.Particle
}

// Len returns the number of particles.
func (b ParticleBuffer) Len() int {
	return len(b.data)
}

// At returns particle i.
func (b ParticleBuffer) At(i int) components.Particle {
	return b.data[i]
}

// Positions appends every position to dst and returns the extended slice.
func (b ParticleBuffer) Positions(dst []mgl32.Vec3) []mgl32.Vec3 {
	for _, p := range b.data {
		dst = append(dst, p.Position)
	}
	return dst
}

// CopyTo copies the particles into dst and returns the number copied.
func (b ParticleBuffer) CopyTo(dst []components.Particle) int {
	return copy(dst, b.data)
}

// DensityBuffer is a read-only view of the last published densities.
type DensityBuffer struct {
	data []float32
}

// Len returns the number of densities.
func (b DensityBuffer) Len() int {
	return len(b.data)
}

// At returns the density of particle i.
func (b DensityBuffer) At(i int) float32 {
	return b.data[i]
}

// CopyTo copies the densities into dst and returns the number copied.
func (b DensityBuffer) CopyTo(dst []float32) int {
	return copy(dst, b.data)
}

// GetParticleBuffer returns a view of the last published particles. The view
// is only valid until the next Step.
func (s *Solver) GetParticleBuffer() ParticleBuffer {
	return ParticleBuffer{data: s.particles.Front()}
}

// GetDensityBuffer returns a view of the last published densities. Before
// the first frame every density is zero.
func (s *Solver) GetDensityBuffer() DensityBuffer {
	return DensityBuffer{data: s.published}
}
