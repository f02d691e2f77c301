package sim

import (
	"log/slog"

	"github.com/pthm-cable/pbf/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles bookmarks.
func (s *Sim) flushTelemetry() {
	frame := s.solver.Frame()
	if !s.collector.ShouldFlush(frame) {
		return
	}

	stats := s.collector.Flush(s.sample())
	perfStats := s.perfCollector.Stats()

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}

	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if err := s.outputManager.WriteTelemetry(stats); err != nil {
		slog.Error("failed to write telemetry", "error", err)
	}
	if err := s.outputManager.WritePerf(perfStats, stats.WindowEndFrame); err != nil {
		slog.Error("failed to write perf", "error", err)
	}

	for _, bm := range s.bookmarkDetector.Check(stats) {
		if s.logStats {
			bm.LogBookmark()
		}
		if err := s.outputManager.WriteBookmark(bm); err != nil {
			slog.Error("failed to write bookmark", "error", err)
		}
		if s.snapshotDir != "" {
			s.saveSnapshot(&bm)
		}
	}
}

// sample copies the published buffers into the scratch slices.
func (s *Sim) sample() telemetry.Sample {
	s.solver.GetParticleBuffer().CopyTo(s.particles)
	s.solver.GetDensityBuffer().CopyTo(s.densities)
	occupied, maxRun := s.solver.Occupancy()
	return telemetry.Sample{
		Frame:         s.solver.Frame(),
		SimTime:       s.solver.SimTime(),
		Particles:     s.particles,
		Densities:     s.densities,
		OccupiedCells: occupied,
		MaxCellRun:    maxRun,
	}
}

// saveSnapshot creates and saves a snapshot to disk.
func (s *Sim) saveSnapshot(bookmark *telemetry.Bookmark) {
	snapshot := s.Snapshot()
	snapshot.Bookmark = bookmark

	path, err := telemetry.SaveSnapshot(snapshot, s.snapshotDir)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}

	slog.Info("snapshot saved", "path", path, "frame", snapshot.Frame)
}

// Snapshot captures the published state of the current frame.
func (s *Sim) Snapshot() *telemetry.Snapshot {
	s.solver.GetParticleBuffer().CopyTo(s.particles)
	s.solver.GetDensityBuffer().CopyTo(s.densities)

	snapshot := telemetry.NewSnapshot(s.solver.Frame(), s.solver.SimTime(), s.particles, s.densities)
	snapshot.RunID = s.runID
	snapshot.Seed = s.seed
	snapshot.Center = s.cfg.Derived.Center
	snapshot.Extents = s.cfg.Derived.Extents
	return snapshot
}

// SaveSnapshot writes the current state to the snapshot directory, or to the
// output directory when no snapshot directory is set.
func (s *Sim) SaveSnapshot() (string, error) {
	snapshot := s.Snapshot()
	if s.snapshotDir != "" {
		return telemetry.SaveSnapshot(snapshot, s.snapshotDir)
	}
	return s.outputManager.WriteSnapshot(snapshot)
}
