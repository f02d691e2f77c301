// Package components defines the particle record and the ECS components used
// to describe initial particle emitters.
package components

import "github.com/go-gl/mathgl/mgl32"

// Particle is the per-particle state owned by the solver.
type Particle struct {
	Position mgl32.Vec3
	Velocity mgl32.Vec3
}

// Shape selects how an emitter places its particles.
type Shape uint8

const (
	ShapePlanar  Shape = iota // Square grid on the horizontal plane through the volume center
	ShapeLattice              // Cubic lattice filling the volume
	ShapeRandom               // Uniform random points inside the volume
)

// String returns the config name of the shape.
func (s Shape) String() string {
	names := ShapeNames()
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// ShapeNames returns the config names of all shapes, in Shape order.
func ShapeNames() []string {
	return []string{"planar", "lattice", "random"}
}

// ParseShape maps a config name to a Shape.
func ParseShape(name string) (Shape, bool) {
	for i, n := range ShapeNames() {
		if n == name {
			return Shape(i), true
		}
	}
	return 0, false
}

// Emitter describes how many particles a block contributes and how they are laid out.
type Emitter struct {
	Order   int     // Particles are spawned in ascending Order
	Name    string
	Shape   Shape
	Count   int
	Spacing float32 // 0 = derived from Count and the volume
	Jitter  float32 // Random offset as a fraction of spacing
}

// Volume is the axis-aligned box an emitter fills.
type Volume struct {
	Center  mgl32.Vec3
	Extents mgl32.Vec3 // Half sizes
}

// Contains reports whether p lies inside the box, borders included.
func (v Volume) Contains(p mgl32.Vec3) bool {
	for axis := 0; axis < 3; axis++ {
		if p[axis] < v.Center[axis]-v.Extents[axis] || p[axis] > v.Center[axis]+v.Extents[axis] {
			return false
		}
	}
	return true
}

// Clamp moves p onto the nearest point of the box.
func (v Volume) Clamp(p mgl32.Vec3) mgl32.Vec3 {
	for axis := 0; axis < 3; axis++ {
		lo := v.Center[axis] - v.Extents[axis]
		hi := v.Center[axis] + v.Extents[axis]
		p[axis] = min(max(p[axis], lo), hi)
	}
	return p
}

// InitialVelocity is the velocity every particle of an emitter starts with.
type InitialVelocity struct {
	mgl32.Vec3
}
