// Package config provides configuration loading and access for the fluid simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/pbf/spatial"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Screen     ScreenConfig     `yaml:"screen"`
	Simulation SimulationConfig `yaml:"simulation"`
	Compute    ComputeConfig    `yaml:"compute"`
	Emitters   []EmitterConfig  `yaml:"emitters"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Stream     StreamConfig     `yaml:"stream"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// ScreenConfig holds display settings for the viewer.
type ScreenConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// SimulationConfig holds the fluid parameters read by the solver every frame.
type SimulationConfig struct {
	ParticleCount      int        `yaml:"particle_count"`      // Used when no emitters are configured
	AreaSize           float64    `yaml:"area_size"`           // Half size of the cubic domain
	Center             [3]float64 `yaml:"center"`              // Domain center
	Gravity            [3]float64 `yaml:"gravity"`             // Acceleration applied every frame
	Mass               float64    `yaml:"mass"`                // Mass of one particle
	ParticleRadius     float64    `yaml:"particle_radius"`     // Smoothing radius, also the hash cell size
	TargetDensity      float64    `yaml:"target_density"`      // Rest density
	PressureMultiplier float64    `yaml:"pressure_multiplier"` // Stiffness of the equation of state
	ViscosityStrength  float64    `yaml:"viscosity_strength"`
	CollisionDamping   float64    `yaml:"collision_damping"` // Velocity kept after hitting a wall (0-1)
	PredictionFactor   float64    `yaml:"prediction_factor"` // Look-ahead in seconds for neighbor search
	DT                 float64    `yaml:"dt"`                // Fixed step for headless runs
	MaxDT              float64    `yaml:"max_dt"`            // Larger steps are clamped
	Diagnostics        bool       `yaml:"diagnostics"`       // Run invariant checks every frame
}

// ComputeConfig holds settings for the emulated compute device.
type ComputeConfig struct {
	Workers int `yaml:"workers"` // 0 = GOMAXPROCS
}

// EmitterConfig describes one block of initial particles.
type EmitterConfig struct {
	Name     string     `yaml:"name"`
	Shape    string     `yaml:"shape"` // planar, lattice or random
	Count    int        `yaml:"count"`
	Center   [3]float64 `yaml:"center"`
	Extents  [3]float64 `yaml:"extents"` // Half sizes; zero means the whole domain
	Spacing  float64    `yaml:"spacing"` // 0 = derived from count and extents
	Jitter   float64    `yaml:"jitter"`  // Random offset as a fraction of spacing
	Velocity [3]float64 `yaml:"velocity"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window"` // Seconds of sim time per stats window
	PerfCollectorWindow int     `yaml:"perf_collector_window"`
}

// StreamConfig holds the websocket frame stream settings.
type StreamConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	IntervalMS int    `yaml:"interval_ms"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	DT32          float32    // Simulation.DT as float32
	Center        mgl32.Vec3 // Simulation.Center
	Extents       mgl32.Vec3 // Half sizes of the domain box
	Gravity       mgl32.Vec3 // Simulation.Gravity
	ParticleCount int        // Sum of emitter counts
	TableSize     uint32     // Hash table buckets for ParticleCount particles
	ScreenW32     float32    // Screen.Width as float32
	ScreenH32     float32    // Screen.Height as float32
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()

	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	sim := &c.Simulation
	c.Derived.DT32 = float32(sim.DT)
	c.Derived.Center = vec3(sim.Center)
	c.Derived.Extents = mgl32.Vec3{float32(sim.AreaSize), float32(sim.AreaSize), float32(sim.AreaSize)}
	c.Derived.Gravity = vec3(sim.Gravity)
	c.Derived.ScreenW32 = float32(c.Screen.Width)
	c.Derived.ScreenH32 = float32(c.Screen.Height)

	// Synthesize the planar block the host used when no emitters are given
	if len(c.Emitters) == 0 {
		c.Emitters = []EmitterConfig{
			{
				Name:   "default",
				Shape:  "planar",
				Count:  sim.ParticleCount,
				Center: sim.Center,
			},
		}
	}

	// Emitters without a volume fill the domain
	for i := range c.Emitters {
		e := &c.Emitters[i]
		if e.Shape == "" {
			e.Shape = "planar"
		}
		if e.Extents == [3]float64{} {
			e.Extents = [3]float64{sim.AreaSize, sim.AreaSize, sim.AreaSize}
		}
	}

	total := 0
	for _, e := range c.Emitters {
		total += max(e.Count, 0)
	}
	c.Derived.ParticleCount = total

	cells := spatial.DomainCells(c.Derived.Extents, float32(sim.ParticleRadius))
	c.Derived.TableSize = spatial.TableSize(total, cells)
}

func vec3(v [3]float64) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
