package telemetry

import (
	"math"

	"github.com/pthm-cable/pbf/components"
)

// Collector accumulates frame outcomes within time windows and produces FrameStats.
type Collector struct {
	windowDurationSec    float64
	windowDurationFrames uint64
	dt                   float32
	runID                string

	// Current window tracking
	windowStartFrame uint64

	// Counters for current window
	frames  int
	aborted int

	// Scratch for distribution stats
	densities []float64
	speeds    []float64
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per frame (used for frame-to-time conversion)
func NewCollector(windowDurationSec float64, dt float32, runID string) *Collector {
	// dt arrives as float32, so the quotient lands just below whole frame counts
	framesPerWindow := uint64(1)
	if dt > 0 && windowDurationSec > float64(dt) {
		framesPerWindow = uint64(math.Round(windowDurationSec / float64(dt)))
	}

	return &Collector{
		windowDurationSec:    windowDurationSec,
		windowDurationFrames: framesPerWindow,
		dt:                   dt,
		runID:                runID,
	}
}

// RecordFrame records a published frame.
func (c *Collector) RecordFrame() {
	c.frames++
}

// RecordAbort records a discarded frame.
func (c *Collector) RecordAbort() {
	c.aborted++
}

// ShouldFlush returns true if enough frames have been published to flush the window.
func (c *Collector) ShouldFlush(currentFrame uint64) bool {
	return currentFrame-c.windowStartFrame >= c.windowDurationFrames
}

// Sample is the published state a window is summarized from.
type Sample struct {
	Frame         uint64
	SimTime       float64
	Particles     []components.Particle
	Densities     []float32
	OccupiedCells int
	MaxCellRun    int
}

// Flush produces a FrameStats and resets counters for the next window.
func (c *Collector) Flush(s Sample) FrameStats {
	c.densities = c.densities[:0]
	for _, d := range s.Densities {
		c.densities = append(c.densities, float64(d))
	}
	c.speeds = c.speeds[:0]
	for _, p := range s.Particles {
		c.speeds = append(c.speeds, float64(p.Velocity.Len()))
	}

	density := ComputeDistribution(c.densities)
	motion := ComputeDistribution(c.speeds)

	stats := FrameStats{
		RunID:            c.runID,
		WindowStartFrame: c.windowStartFrame,
		WindowEndFrame:   s.Frame,
		SimTimeSec:       s.SimTime,

		Particles:     len(s.Particles),
		Frames:        c.frames,
		AbortedFrames: c.aborted,

		DensityMean: density.Mean,
		DensityStd:  density.Std,
		DensityP10:  density.P10,
		DensityP50:  density.P50,
		DensityP90:  density.P90,
		DensityMax:  density.Max,

		SpeedMean: motion.Mean,
		SpeedMax:  motion.Max,

		OccupiedCells: s.OccupiedCells,
		MaxCellRun:    s.MaxCellRun,
	}

	// Reset for next window
	c.windowStartFrame = s.Frame
	c.frames = 0
	c.aborted = 0

	return stats
}

// WindowDurationFrames returns the number of frames per window.
func (c *Collector) WindowDurationFrames() uint64 {
	return c.windowDurationFrames
}

// Reset discards the current window and starts a new one at frame.
func (c *Collector) Reset(frame uint64) {
	c.windowStartFrame = frame
	c.frames = 0
	c.aborted = 0
}
