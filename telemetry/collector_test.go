package telemetry

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/pbf/components"
)

func TestCollector_WindowFrames(t *testing.T) {
	c := NewCollector(2.0, 1.0/120, "run")
	if got := c.WindowDurationFrames(); got != 240 {
		t.Errorf("WindowDurationFrames = %d, want 240", got)
	}

	for _, tt := range []struct {
		dt   float32
		want uint64
	}{
		{1.0 / 30, 30},
		{1.0 / 60, 60},
		{1.0 / 120, 120},
		{1.0 / 240, 240},
	} {
		if got := NewCollector(1.0, tt.dt, "run").WindowDurationFrames(); got != tt.want {
			t.Errorf("dt=%v: WindowDurationFrames = %d, want %d", tt.dt, got, tt.want)
		}
	}

	// Window shorter than one frame still flushes every frame
	if got := NewCollector(0.001, 1.0/60, "run").WindowDurationFrames(); got != 1 {
		t.Errorf("short window frames = %d, want 1", got)
	}
}

func TestCollector_ShouldFlush(t *testing.T) {
	c := NewCollector(1.0, 0.25, "run")

	if c.ShouldFlush(3) {
		t.Error("should not flush before the window ends")
	}
	if !c.ShouldFlush(4) {
		t.Error("should flush at the window boundary")
	}

	c.Flush(Sample{Frame: 4})
	if c.ShouldFlush(7) {
		t.Error("should not flush before the next window ends")
	}
	if !c.ShouldFlush(8) {
		t.Error("should flush at the next window boundary")
	}
}

func TestCollector_Flush(t *testing.T) {
	c := NewCollector(1.0, 0.25, "run")
	for i := 0; i < 3; i++ {
		c.RecordFrame()
	}
	c.RecordAbort()

	particles := []components.Particle{
		{Velocity: mgl32.Vec3{3, 4, 0}},
		{Velocity: mgl32.Vec3{0, 1, 0}},
	}
	stats := c.Flush(Sample{
		Frame:         4,
		SimTime:       0.75,
		Particles:     particles,
		Densities:     []float32{2, 4},
		OccupiedCells: 2,
		MaxCellRun:    1,
	})

	if stats.RunID != "run" {
		t.Errorf("RunID = %q, want %q", stats.RunID, "run")
	}
	if stats.WindowStartFrame != 0 || stats.WindowEndFrame != 4 {
		t.Errorf("window = [%d, %d], want [0, 4]", stats.WindowStartFrame, stats.WindowEndFrame)
	}
	if stats.Frames != 3 || stats.AbortedFrames != 1 {
		t.Errorf("frames = %d aborted = %d, want 3 and 1", stats.Frames, stats.AbortedFrames)
	}
	if stats.Particles != 2 {
		t.Errorf("particles = %d, want 2", stats.Particles)
	}
	if stats.DensityMean != 3 || stats.DensityMax != 4 {
		t.Errorf("density mean = %v max = %v, want 3 and 4", stats.DensityMean, stats.DensityMax)
	}
	if math.Abs(stats.SpeedMax-5) > 1e-6 || math.Abs(stats.SpeedMean-3) > 1e-6 {
		t.Errorf("speed mean = %v max = %v, want 3 and 5", stats.SpeedMean, stats.SpeedMax)
	}
	if stats.OccupiedCells != 2 || stats.MaxCellRun != 1 {
		t.Errorf("cells = %d run = %d, want 2 and 1", stats.OccupiedCells, stats.MaxCellRun)
	}

	next := c.Flush(Sample{Frame: 8})
	if next.Frames != 0 || next.AbortedFrames != 0 {
		t.Error("counters should reset after flush")
	}
	if next.WindowStartFrame != 4 {
		t.Errorf("next window start = %d, want 4", next.WindowStartFrame)
	}
}
