package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/pbf/components"
	"github.com/pthm-cable/pbf/config"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func unitDomain() components.Volume {
	return components.Volume{Extents: mgl32.Vec3{1, 1, 1}}
}

func TestDefaultPlanarBlock(t *testing.T) {
	cfg := loadConfig(t)
	s, err := New(cfg, 1)
	require.NoError(t, err)

	particles, err := s.Spawn()
	require.NoError(t, err)
	require.Len(t, particles, cfg.Simulation.ParticleCount)

	area := float32(cfg.Simulation.AreaSize)
	perRow := 32 // ceil(sqrt(1000))
	spacing := area / float32(perRow)

	assert.Equal(t, mgl32.Vec3{-area, 0, -area}, particles[0].Position)
	assert.InDelta(t, -area+spacing, particles[perRow+1].Position[0], 1e-5)
	assert.InDelta(t, -area+spacing, particles[perRow+1].Position[2], 1e-5)

	for i, p := range particles {
		assert.Zero(t, p.Position[1], "particle %d off the y plane", i)
		assert.Equal(t, mgl32.Vec3{}, p.Velocity)
		assert.True(t, s.Domain().Contains(p.Position), "particle %d outside domain", i)
	}
}

func TestLatticeFillsVolume(t *testing.T) {
	s := NewEmpty(unitDomain(), 1)
	_, err := s.AddEmitter(
		components.Emitter{Shape: components.ShapeLattice, Count: 8},
		components.Volume{Extents: mgl32.Vec3{1, 1, 1}},
		components.InitialVelocity{},
	)
	require.NoError(t, err)

	particles, err := s.Spawn()
	require.NoError(t, err)
	require.Len(t, particles, 8)

	seen := map[mgl32.Vec3]bool{}
	for _, p := range particles {
		for axis := 0; axis < 3; axis++ {
			assert.InDelta(t, 0.5, abs(p.Position[axis]), 1e-6)
		}
		seen[p.Position] = true
	}
	assert.Len(t, seen, 8)
}

func TestRandomIsSeeded(t *testing.T) {
	spawn := func(seed int64) []components.Particle {
		s := NewEmpty(unitDomain(), seed)
		_, err := s.AddEmitter(
			components.Emitter{Shape: components.ShapeRandom, Count: 200},
			components.Volume{Center: mgl32.Vec3{0.25, 0, 0}, Extents: mgl32.Vec3{0.5, 0.5, 0.5}},
			components.InitialVelocity{},
		)
		require.NoError(t, err)
		particles, err := s.Spawn()
		require.NoError(t, err)
		return particles
	}

	a, b := spawn(7), spawn(7)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, spawn(8))

	box := components.Volume{Center: mgl32.Vec3{0.25, 0, 0}, Extents: mgl32.Vec3{0.5, 0.5, 0.5}}
	for i, p := range a {
		assert.True(t, box.Contains(p.Position), "particle %d outside emitter volume", i)
	}
}

func TestSpawnIsRepeatable(t *testing.T) {
	s := NewEmpty(unitDomain(), 3)
	_, err := s.AddEmitter(
		components.Emitter{Shape: components.ShapePlanar, Count: 50, Jitter: 0.4},
		components.Volume{Extents: mgl32.Vec3{1, 1, 1}},
		components.InitialVelocity{},
	)
	require.NoError(t, err)

	first, err := s.Spawn()
	require.NoError(t, err)
	second, err := s.Spawn()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestJitterClampedIntoDomain(t *testing.T) {
	s := NewEmpty(unitDomain(), 5)
	_, err := s.AddEmitter(
		components.Emitter{Shape: components.ShapeLattice, Count: 64, Jitter: 1},
		components.Volume{Extents: mgl32.Vec3{2, 2, 2}}, // larger than the domain
		components.InitialVelocity{},
	)
	require.NoError(t, err)

	particles, err := s.Spawn()
	require.NoError(t, err)
	for i, p := range particles {
		assert.True(t, s.Domain().Contains(p.Position), "particle %d at %v outside domain", i, p.Position)
	}
}

func TestEmitterOrderAndVelocity(t *testing.T) {
	s := NewEmpty(unitDomain(), 1)
	left := components.Volume{Center: mgl32.Vec3{-0.5, 0, 0}, Extents: mgl32.Vec3{0.25, 0.25, 0.25}}
	right := components.Volume{Center: mgl32.Vec3{0.5, 0, 0}, Extents: mgl32.Vec3{0.25, 0.25, 0.25}}

	_, err := s.AddEmitter(components.Emitter{Name: "left", Shape: components.ShapeRandom, Count: 10}, left,
		components.InitialVelocity{Vec3: mgl32.Vec3{1, 0, 0}})
	require.NoError(t, err)
	_, err = s.AddEmitter(components.Emitter{Name: "empty", Shape: components.ShapePlanar}, right,
		components.InitialVelocity{})
	require.NoError(t, err)
	_, err = s.AddEmitter(components.Emitter{Name: "right", Shape: components.ShapeRandom, Count: 5}, right,
		components.InitialVelocity{Vec3: mgl32.Vec3{-1, 0, 0}})
	require.NoError(t, err)

	assert.Equal(t, 15, s.Count())

	particles, err := s.Spawn()
	require.NoError(t, err)
	require.Len(t, particles, 15)
	for i, p := range particles {
		if i < 10 {
			assert.True(t, left.Contains(p.Position))
			assert.Equal(t, mgl32.Vec3{1, 0, 0}, p.Velocity)
		} else {
			assert.True(t, right.Contains(p.Position))
			assert.Equal(t, mgl32.Vec3{-1, 0, 0}, p.Velocity)
		}
	}
}

func TestSpawnErrors(t *testing.T) {
	s := NewEmpty(unitDomain(), 1)
	_, err := s.Spawn()
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = s.AddEmitter(components.Emitter{Count: -1}, unitDomain(), components.InitialVelocity{})
	assert.ErrorIs(t, err, ErrInvalidEmitter)

	_, err = s.AddEmitter(components.Emitter{Count: 1}, components.Volume{Extents: mgl32.Vec3{-1, 1, 1}}, components.InitialVelocity{})
	assert.ErrorIs(t, err, ErrInvalidEmitter)

	_, err = s.AddEmitter(components.Emitter{Count: 0}, unitDomain(), components.InitialVelocity{})
	require.NoError(t, err)
	_, err = s.Spawn()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestConfigEmitters(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Emitters = []config.EmitterConfig{
		{Name: "column", Shape: "lattice", Count: 27, Extents: [3]float64{1, 2, 1}},
		{Name: "rain", Shape: "random", Count: 10, Center: [3]float64{0, 3, 0}, Extents: [3]float64{1, 1, 1}, Velocity: [3]float64{0, -2, 0}},
	}

	s, err := New(cfg, 9)
	require.NoError(t, err)
	particles, err := s.Spawn()
	require.NoError(t, err)
	require.Len(t, particles, 37)
	assert.Equal(t, mgl32.Vec3{0, -2, 0}, particles[36].Velocity)

	cfg.Emitters = []config.EmitterConfig{{Name: "bad", Shape: "torus", Count: 1}}
	_, err = New(cfg, 9)
	assert.ErrorIs(t, err, ErrInvalidEmitter)
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
