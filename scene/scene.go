// Package scene builds the initial particle set from a world of emitters.
package scene

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/pbf/components"
	"github.com/pthm-cable/pbf/config"
)

var (
	// ErrEmpty is returned by Spawn when the emitters produce no particles.
	ErrEmpty = errors.New("scene: no particles to spawn")

	// ErrInvalidEmitter is returned for emitters that cannot be placed.
	ErrInvalidEmitter = errors.New("scene: invalid emitter")
)

// Scene holds emitter entities and the domain their particles are clamped into.
type Scene struct {
	world *ecs.World

	emitterMapper *ecs.Map3[components.Emitter, components.Volume, components.InitialVelocity]
	emitterFilter *ecs.Filter3[components.Emitter, components.Volume, components.InitialVelocity]

	domain    components.Volume
	seed      int64
	nextOrder int
}

// New creates a scene with one emitter per configured entry.
func New(cfg *config.Config, seed int64) (*Scene, error) {
	s := NewEmpty(components.Volume{Center: cfg.Derived.Center, Extents: cfg.Derived.Extents}, seed)

	for i, ec := range cfg.Emitters {
		shape, ok := components.ParseShape(ec.Shape)
		if !ok {
			return nil, fmt.Errorf("%w: emitter %d (%s) has unknown shape %q", ErrInvalidEmitter, i, ec.Name, ec.Shape)
		}
		e := components.Emitter{
			Name:    ec.Name,
			Shape:   shape,
			Count:   ec.Count,
			Spacing: float32(ec.Spacing),
			Jitter:  float32(ec.Jitter),
		}
		v := components.Volume{Center: vec3(ec.Center), Extents: vec3(ec.Extents)}
		if _, err := s.AddEmitter(e, v, components.InitialVelocity{Vec3: vec3(ec.Velocity)}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewEmpty creates a scene without emitters.
func NewEmpty(domain components.Volume, seed int64) *Scene {
	world := ecs.NewWorld()
	return &Scene{
		world:         world,
		emitterMapper: ecs.NewMap3[components.Emitter, components.Volume, components.InitialVelocity](world),
		emitterFilter: ecs.NewFilter3[components.Emitter, components.Volume, components.InitialVelocity](world),
		domain:        domain,
		seed:          seed,
	}
}

// AddEmitter registers an emitter. Emitters spawn in the order they were added.
func (s *Scene) AddEmitter(e components.Emitter, v components.Volume, vel components.InitialVelocity) (ecs.Entity, error) {
	if e.Count < 0 {
		return ecs.Entity{}, fmt.Errorf("%w: %s has negative count %d", ErrInvalidEmitter, e.Name, e.Count)
	}
	if e.Spacing < 0 || e.Jitter < 0 {
		return ecs.Entity{}, fmt.Errorf("%w: %s has negative spacing or jitter", ErrInvalidEmitter, e.Name)
	}
	for axis := 0; axis < 3; axis++ {
		if v.Extents[axis] < 0 {
			return ecs.Entity{}, fmt.Errorf("%w: %s has negative extents", ErrInvalidEmitter, e.Name)
		}
	}

	e.Order = s.nextOrder
	s.nextOrder++
	return s.emitterMapper.NewEntity(&e, &v, &vel), nil
}

// Domain returns the box all particles are clamped into.
func (s *Scene) Domain() components.Volume {
	return s.domain
}

// Count returns the number of particles Spawn will produce.
func (s *Scene) Count() int {
	total := 0
	query := s.emitterFilter.Query()
	for query.Next() {
		e, _, _ := query.Get()
		total += e.Count
	}
	return total
}

type emitterEntry struct {
	emitter  components.Emitter
	volume   components.Volume
	velocity mgl32.Vec3
}

// Spawn places every emitter's particles. The result depends only on the
// emitters and the seed.
func (s *Scene) Spawn() ([]components.Particle, error) {
	var entries []emitterEntry
	query := s.emitterFilter.Query()
	for query.Next() {
		e, v, vel := query.Get()
		if e.Count == 0 {
			continue
		}
		entries = append(entries, emitterEntry{emitter: *e, volume: *v, velocity: vel.Vec3})
	}
	slices.SortFunc(entries, func(a, b emitterEntry) int {
		return a.emitter.Order - b.emitter.Order
	})

	total := 0
	for _, entry := range entries {
		total += entry.emitter.Count
	}
	if total == 0 {
		return nil, ErrEmpty
	}

	rng := rand.New(rand.NewSource(s.seed))
	particles := make([]components.Particle, 0, total)
	for _, entry := range entries {
		particles = s.place(particles, entry, rng)
	}
	return particles, nil
}

func (s *Scene) place(dst []components.Particle, entry emitterEntry, rng *rand.Rand) []components.Particle {
	e, v := entry.emitter, entry.volume
	lo := v.Center.Sub(v.Extents)

	var step mgl32.Vec3
	switch e.Shape {
	case components.ShapePlanar:
		perRow := int(math.Ceil(math.Sqrt(float64(e.Count))))
		spacing := e.Spacing
		if spacing == 0 {
			spacing = v.Extents[0] / float32(perRow)
		}
		step = mgl32.Vec3{spacing, 0, spacing}
		for i := 0; i < e.Count; i++ {
			x, z := i%perRow, i/perRow
			p := mgl32.Vec3{lo[0] + float32(x)*spacing, v.Center[1], lo[2] + float32(z)*spacing}
			dst = append(dst, s.particle(p, step, e.Jitter, entry.velocity, rng))
		}

	case components.ShapeLattice:
		perSide := int(math.Ceil(math.Cbrt(float64(e.Count))))
		if e.Spacing > 0 {
			step = mgl32.Vec3{e.Spacing, e.Spacing, e.Spacing}
		} else {
			step = v.Extents.Mul(2 / float32(perSide))
		}
		for i := 0; i < e.Count; i++ {
			x, y, z := i%perSide, (i/perSide)%perSide, i/(perSide*perSide)
			p := mgl32.Vec3{
				lo[0] + (float32(x)+0.5)*step[0],
				lo[1] + (float32(y)+0.5)*step[1],
				lo[2] + (float32(z)+0.5)*step[2],
			}
			dst = append(dst, s.particle(p, step, e.Jitter, entry.velocity, rng))
		}

	case components.ShapeRandom:
		size := v.Extents.Mul(2)
		for i := 0; i < e.Count; i++ {
			p := mgl32.Vec3{
				lo[0] + rng.Float32()*size[0],
				lo[1] + rng.Float32()*size[1],
				lo[2] + rng.Float32()*size[2],
			}
			dst = append(dst, s.particle(p, step, 0, entry.velocity, rng))
		}
	}
	return dst
}

// particle applies jitter and clamps into the domain.
func (s *Scene) particle(p, step mgl32.Vec3, jitter float32, vel mgl32.Vec3, rng *rand.Rand) components.Particle {
	if jitter > 0 {
		for axis := 0; axis < 3; axis++ {
			p[axis] += (rng.Float32()*2 - 1) * jitter * step[axis]
		}
	}
	return components.Particle{Position: s.domain.Clamp(p), Velocity: vel}
}

func vec3(v [3]float64) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}
