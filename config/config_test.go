package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/pbf/spatial"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Simulation.ParticleCount)
	assert.Equal(t, mgl32.Vec3{0, -9.8, 0}, cfg.Derived.Gravity)
	assert.Equal(t, mgl32.Vec3{5, 5, 5}, cfg.Derived.Extents)

	// No emitters configured: one planar block of particle_count.
	require.Len(t, cfg.Emitters, 1)
	assert.Equal(t, "planar", cfg.Emitters[0].Shape)
	assert.Equal(t, 1000, cfg.Derived.ParticleCount)
	assert.Equal(t, [3]float64{5, 5, 5}, cfg.Emitters[0].Extents)

	assert.GreaterOrEqual(t, cfg.Derived.TableSize, uint32(2000))
	assert.LessOrEqual(t, cfg.Derived.TableSize, spatial.MaxTableSize)
}

func TestLoadMergesUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fluid.yaml")
	data := `
simulation:
  area_size: 2
  gravity: [0, 0, -1]
emitters:
  - name: column
    shape: lattice
    count: 300
  - name: splash
    shape: random
    count: 50
    extents: [0.5, 0.5, 0.5]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Untouched fields keep their defaults.
	assert.Equal(t, 1.0, cfg.Simulation.Mass)
	assert.Equal(t, mgl32.Vec3{0, 0, -1}, cfg.Derived.Gravity)
	assert.Equal(t, 350, cfg.Derived.ParticleCount)
	require.Len(t, cfg.Emitters, 2)
	assert.Equal(t, [3]float64{2, 2, 2}, cfg.Emitters[0].Extents)
	assert.Equal(t, [3]float64{0.5, 0.5, 0.5}, cfg.Emitters[1].Extents)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulation: [1, 2"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestWriteYAMLSnapshotReloads(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Simulation.TargetDensity = 7

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7.0, again.Simulation.TargetDensity)
	assert.Equal(t, cfg.Derived, again.Derived)
}

func TestCfgRequiresInit(t *testing.T) {
	prev := global
	t.Cleanup(func() { global = prev })

	global = nil
	assert.Panics(t, func() { Cfg() })

	require.NoError(t, Init(""))
	assert.NotNil(t, Cfg())
}
