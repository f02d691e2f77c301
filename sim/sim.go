// Package sim wires a solver run together: initial particles, the compute
// device, telemetry, snapshots and the optional frame stream.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/pbf/components"
	"github.com/pthm-cable/pbf/compute"
	"github.com/pthm-cable/pbf/config"
	"github.com/pthm-cable/pbf/scene"
	"github.com/pthm-cable/pbf/solver"
	"github.com/pthm-cable/pbf/stream"
	"github.com/pthm-cable/pbf/telemetry"
)

// bookmarkHistory is the number of windows bookmarks are judged against.
const bookmarkHistory = 10

// MaxConsecutiveAborts is how many frames in a row may fail before a
// headless run gives up.
const MaxConsecutiveAborts = 100

// ErrStalled is returned by RunHeadless when frames keep aborting.
var ErrStalled = errors.New("sim: frames keep aborting")

// Options configures a run.
type Options struct {
	Config         *config.Config
	Seed           int64
	LogStats       bool    // Log window and perf stats via slog
	StatsWindowSec float64 // 0 = use config
	SnapshotDir    string  // Snapshots are saved here on bookmarks (empty = off)
	OutputDir      string  // CSV logs and config copy (empty = off)
	Resume         *telemetry.Snapshot
	Stream         *stream.Server
	StatsCallback  func(telemetry.FrameStats)
}

// Sim owns one fluid run.
type Sim struct {
	cfg   *config.Config
	seed  int64
	runID string

	dev    *compute.Device
	solver *solver.Solver

	perfCollector    *telemetry.PerfCollector
	collector        *telemetry.Collector
	bookmarkDetector *telemetry.BookmarkDetector
	outputManager    *telemetry.OutputManager
	snapshotDir      string
	logStats         bool
	statsCallback    func(telemetry.FrameStats)

	stream *stream.Server
	paused bool

	// Scratch copies of the published buffers
	particles []components.Particle
	positions []mgl32.Vec3
	densities []float32
}

// New builds the initial particles (or restores them from opts.Resume) and
// prepares every subsystem.
func New(opts Options) (*Sim, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("sim: no config")
	}

	runID := telemetry.NewRunID()
	s := &Sim{
		cfg:              cfg,
		seed:             opts.Seed,
		runID:            runID,
		perfCollector:    telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		bookmarkDetector: telemetry.NewBookmarkDetector(bookmarkHistory),
		snapshotDir:      opts.SnapshotDir,
		logStats:         opts.LogStats,
		statsCallback:    opts.StatsCallback,
		stream:           opts.Stream,
	}

	statsWindow := cfg.Telemetry.StatsWindow
	if opts.StatsWindowSec > 0 {
		statsWindow = opts.StatsWindowSec
	}
	s.collector = telemetry.NewCollector(statsWindow, cfg.Derived.DT32, runID)

	var (
		initial   []components.Particle
		solverOps = []solver.Option{solver.WithRecorder(s.perfCollector)}
	)
	if opts.Resume != nil {
		initial = opts.Resume.ToParticles()
		solverOps = append(solverOps, solver.WithClock(opts.Resume.Frame, opts.Resume.SimTime))
		s.seed = opts.Resume.Seed
		s.collector.Reset(opts.Resume.Frame)
	} else {
		sc, err := scene.New(cfg, opts.Seed)
		if err != nil {
			return nil, err
		}
		if initial, err = sc.Spawn(); err != nil {
			return nil, err
		}
	}

	dev, err := compute.NewDevice(cfg.Compute.Workers)
	if err != nil {
		return nil, err
	}
	s.dev = dev

	s.solver, err = solver.New(dev, initial, solver.ParamsFromConfig(cfg), solverOps...)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("creating solver: %w", err)
	}
	s.particles = make([]components.Particle, len(initial))
	s.densities = make([]float32, len(initial))

	s.outputManager, err = telemetry.NewOutputManager(opts.OutputDir, runID)
	if err != nil {
		dev.Close()
		return nil, err
	}
	if err := s.outputManager.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config", "error", err)
	}

	slog.Info("simulation ready",
		"run_id", runID,
		"seed", s.seed,
		"particles", len(initial),
		"table_size", s.solver.TableSize(),
		"workers", dev.Workers(),
		"resumed", opts.Resume != nil,
	)
	return s, nil
}

// Step advances one frame of dt seconds and runs the per-frame hooks. The
// returned error is the solver's; an aborted frame is also counted in the
// window stats.
func (s *Sim) Step(dt float32) error {
	s.applyControls()
	if s.paused {
		return nil
	}

	err := s.solver.Step(dt)
	if err != nil {
		s.collector.RecordAbort()
	} else {
		s.collector.RecordFrame()
	}

	s.publishStream()
	s.flushTelemetry()
	return err
}

// UpdateHeadless advances one fixed-size frame.
func (s *Sim) UpdateHeadless() error {
	return s.Step(s.cfg.Derived.DT32)
}

// RunHeadless steps until ctx is done or maxFrames frames are published
// (0 = unlimited). It returns ErrStalled, wrapping the last frame error, after
// MaxConsecutiveAborts failed frames in a row.
func (s *Sim) RunHeadless(ctx context.Context, maxFrames uint64) error {
	aborts := 0
	for ctx.Err() == nil {
		if maxFrames > 0 && s.Frame() >= maxFrames {
			slog.Info("max frames reached", "frame", s.Frame())
			return nil
		}
		if s.paused {
			// Stream clients can pause a headless run
			time.Sleep(10 * time.Millisecond)
		}

		err := s.UpdateHeadless()
		if err == nil {
			aborts = 0
			continue
		}
		aborts++
		if aborts >= MaxConsecutiveAborts {
			return fmt.Errorf("%w: %d in a row at frame %d: %w", ErrStalled, aborts, s.Frame(), err)
		}
	}
	return nil
}

// applyControls drains pending stream control messages.
func (s *Sim) applyControls() {
	if s.stream == nil {
		return
	}
	for {
		select {
		case c := <-s.stream.Controls():
			s.applyControl(c)
		default:
			return
		}
	}
}

func (s *Sim) applyControl(c stream.Control) {
	if c.Paused != nil {
		s.paused = *c.Paused
	}
	p := s.solver.Params()
	set := func(dst *float32, v *float64) {
		if v != nil {
			*dst = float32(*v)
		}
	}
	set(&p.TargetDensity, c.TargetDensity)
	set(&p.PressureMultiplier, c.PressureMultiplier)
	set(&p.ViscosityStrength, c.ViscosityStrength)
	set(&p.CollisionDamping, c.CollisionDamping)
	if err := s.solver.SetParams(p); err != nil {
		slog.Warn("rejected stream control", "error", err)
	}
}

func (s *Sim) publishStream() {
	if s.stream == nil || !s.stream.Due() {
		return
	}
	s.positions = s.solver.GetParticleBuffer().Positions(s.positions[:0])
	s.solver.GetDensityBuffer().CopyTo(s.densities)
	if _, err := s.stream.Publish(s.solver.Frame(), s.solver.SimTime(), s.positions, s.densities); err != nil {
		slog.Error("failed to publish frame", "error", err)
	}
}

// Solver returns the underlying solver.
func (s *Sim) Solver() *solver.Solver {
	return s.solver
}

// Perf returns the phase timing collector.
func (s *Sim) Perf() *telemetry.PerfCollector {
	return s.perfCollector
}

// Frame returns the number of published frames.
func (s *Sim) Frame() uint64 {
	return s.solver.Frame()
}

// RunID returns the identifier written with every output record.
func (s *Sim) RunID() string {
	return s.runID
}

// Paused reports whether stepping is paused.
func (s *Sim) Paused() bool {
	return s.paused
}

// SetPaused pauses or resumes stepping.
func (s *Sim) SetPaused(paused bool) {
	s.paused = paused
}

// Close flushes output and stops the device workers.
func (s *Sim) Close() error {
	err := s.outputManager.Close()
	s.dev.Close()
	return err
}
