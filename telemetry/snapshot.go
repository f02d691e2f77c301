package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/pbf/components"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the published particle state of one frame, enough to
// restart a run from it.
type Snapshot struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Seed    int64  `json:"seed"`

	Frame   uint64  `json:"frame"`
	SimTime float64 `json:"sim_time"`

	Center  [3]float32 `json:"center"`
	Extents [3]float32 `json:"extents"`

	Particles []ParticleState `json:"particles"`

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// ParticleState holds one particle.
type ParticleState struct {
	Position [3]float32 `json:"p"`
	Velocity [3]float32 `json:"v"`
	Density  float32    `json:"rho,omitempty"`
}

// NewSnapshot copies the published particles and densities. densities may be
// nil or shorter than particles.
func NewSnapshot(frame uint64, simTime float64, particles []components.Particle, densities []float32) *Snapshot {
	s := &Snapshot{
		Version:   SnapshotVersion,
		Frame:     frame,
		SimTime:   simTime,
		Particles: make([]ParticleState, len(particles)),
	}
	for i, p := range particles {
		s.Particles[i] = ParticleState{Position: p.Position, Velocity: p.Velocity}
		if i < len(densities) {
			s.Particles[i].Density = densities[i]
		}
	}
	return s
}

// ToParticles converts the stored state back into solver input.
func (s *Snapshot) ToParticles() []components.Particle {
	out := make([]components.Particle, len(s.Particles))
	for i, p := range s.Particles {
		out[i] = components.Particle{Position: mgl32.Vec3(p.Position), Velocity: mgl32.Vec3(p.Velocity)}
	}
	return out
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_%d", snapshot.Frame)
	if snapshot.Bookmark != nil {
		sanitized := strings.ReplaceAll(string(snapshot.Bookmark.Type), " ", "_")
		name = fmt.Sprintf("snapshot_%d_%s", snapshot.Frame, sanitized)
	}
	name += ".json"

	path := filepath.Join(dir, name)

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}

	return &snapshot, nil
}
