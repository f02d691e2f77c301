package solver

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/pbf/config"
)

// Params are the scalar inputs of a frame. They are read once at the start
// of Step and stay constant for the whole frame.
type Params struct {
	CellSize           float32    // Smoothing radius and hash cell edge
	Center             mgl32.Vec3 // Domain center
	Extents            mgl32.Vec3 // Domain half sizes
	Gravity            mgl32.Vec3
	Mass               float32
	TargetDensity      float32
	PressureMultiplier float32
	ViscosityStrength  float32
	CollisionDamping   float32 // Fraction of normal velocity kept on wall contact
	PredictionFactor   float32 // Look-ahead in seconds for neighbor search positions
	MaxDeltaTime       float32 // Step clamps dt to this; 0 disables the clamp
	Diagnostics        bool    // Check sort and cell range invariants every frame
}

// ParamsFromConfig builds solver parameters from the simulation section.
func ParamsFromConfig(cfg *config.Config) Params {
	sim := cfg.Simulation
	return Params{
		CellSize:           float32(sim.ParticleRadius),
		Center:             cfg.Derived.Center,
		Extents:            cfg.Derived.Extents,
		Gravity:            cfg.Derived.Gravity,
		Mass:               float32(sim.Mass),
		TargetDensity:      float32(sim.TargetDensity),
		PressureMultiplier: float32(sim.PressureMultiplier),
		ViscosityStrength:  float32(sim.ViscosityStrength),
		CollisionDamping:   float32(sim.CollisionDamping),
		PredictionFactor:   float32(sim.PredictionFactor),
		MaxDeltaTime:       float32(sim.MaxDT),
		Diagnostics:        sim.Diagnostics,
	}
}

// Validate reports the first parameter the solver cannot run with.
func (p Params) Validate() error {
	scalars := []struct {
		name     string
		v        float32
		positive bool
	}{
		{"cell size", p.CellSize, true},
		{"mass", p.Mass, true},
		{"target density", p.TargetDensity, true},
		{"pressure multiplier", p.PressureMultiplier, false},
		{"viscosity strength", p.ViscosityStrength, false},
		{"collision damping", p.CollisionDamping, false},
		{"prediction factor", p.PredictionFactor, false},
		{"max delta time", p.MaxDeltaTime, false},
	}
	for _, s := range scalars {
		if !finite(s.v) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidParams, s.name, s.v)
		}
		if s.positive && s.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidParams, s.name, s.v)
		}
		if !s.positive && s.v < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidParams, s.name, s.v)
		}
	}
	if p.CollisionDamping > 1 {
		return fmt.Errorf("%w: collision damping above 1", ErrInvalidParams)
	}
	for _, v := range []struct {
		name string
		v    mgl32.Vec3
	}{{"center", p.Center}, {"extents", p.Extents}, {"gravity", p.Gravity}} {
		if !finiteVec(v.v) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidParams, v.name, v.v)
		}
	}
	for axis := 0; axis < 3; axis++ {
		if p.Extents[axis] < 0 {
			return fmt.Errorf("%w: negative extent %v", ErrInvalidParams, p.Extents)
		}
	}
	return nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteVec(v mgl32.Vec3) bool {
	return finite(v[0]) && finite(v[1]) && finite(v[2])
}
