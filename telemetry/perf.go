package telemetry

import (
	"fmt"
	"log/slog"
	"time"
)

// Phase names for one solver frame, in execution order.
const (
	PhasePredict    = "predict"
	PhaseHash       = "hash"
	PhaseSort       = "sort"
	PhaseCellRanges = "cell_ranges"
	PhaseDensity    = "density"
	PhaseForces     = "forces"
	PhaseIntegrate  = "integrate"
	PhasePublish    = "publish"
)

// Phases lists every frame phase in execution order.
var Phases = []string{
	PhasePredict, PhaseHash, PhaseSort, PhaseCellRanges,
	PhaseDensity, PhaseForces, PhaseIntegrate, PhasePublish,
}

// SortPasses is the number of radix passes timed inside the sort phase.
const SortPasses = 4

// SortPassName names the sub-phase of radix pass i.
func SortPassName(i int) string {
	return fmt.Sprintf("pass%d", i)
}

// subPhaseKey joins a phase and one of its sub-phases.
func subPhaseKey(phase, sub string) string {
	return phase + "/" + sub
}

// PerfSample holds the timings of one solver step.
type PerfSample struct {
	StepDuration time.Duration
	Phases       map[string]time.Duration
	SubPhases    map[string]time.Duration // keyed "phase/sub"
}

// PerfCollector times solver steps and their phases over a rolling window.
// It implements the solver's phase recorder.
type PerfCollector struct {
	now func() time.Time

	windowSize  int
	samples     []PerfSample
	writeIndex  int
	sampleCount int

	current    PerfSample
	stepStart  time.Time
	phaseStart time.Time
	lastPhase  string
	subStart   time.Time
	lastSub    string

	// Render frame timing (viewer only)
	lastFrameTime time.Time
	frameDuration time.Duration
}

// NewPerfCollector creates a collector averaging over windowSize steps.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		now:        time.Now,
		windowSize: windowSize,
		samples:    make([]PerfSample, windowSize),
	}
}

// StartStep begins timing a solver step.
func (p *PerfCollector) StartStep() {
	p.stepStart = p.now()
	p.current = PerfSample{
		Phases:    make(map[string]time.Duration),
		SubPhases: make(map[string]time.Duration),
	}
	p.lastPhase = ""
	p.lastSub = ""
}

// StartPhase ends the running phase, if any, and starts timing phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := p.now()
	p.endPhase(now)
	p.phaseStart = now
	p.lastPhase = phase
}

// StartSubPhase ends the running sub-phase, if any, and starts timing sub
// within the current phase. Sub-phases end with their phase.
func (p *PerfCollector) StartSubPhase(sub string) {
	if p.lastPhase == "" {
		return
	}
	now := p.now()
	p.endSubPhase(now)
	p.subStart = now
	p.lastSub = sub
}

func (p *PerfCollector) endSubPhase(now time.Time) {
	if p.lastSub != "" {
		p.current.SubPhases[subPhaseKey(p.lastPhase, p.lastSub)] += now.Sub(p.subStart)
		p.lastSub = ""
	}
}

func (p *PerfCollector) endPhase(now time.Time) {
	p.endSubPhase(now)
	if p.lastPhase != "" {
		p.current.Phases[p.lastPhase] += now.Sub(p.phaseStart)
	}
}

// EndStep finishes the step and records its sample. Aborted steps are
// recorded too, with the phases they reached.
func (p *PerfCollector) EndStep() {
	now := p.now()
	p.endPhase(now)
	p.lastPhase = ""
	p.current.StepDuration = now.Sub(p.stepStart)

	p.samples[p.writeIndex] = p.current
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// RecordFrame records render frame timing.
func (p *PerfCollector) RecordFrame() {
	now := p.now()
	if !p.lastFrameTime.IsZero() {
		p.frameDuration = now.Sub(p.lastFrameTime)
	}
	p.lastFrameTime = now
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgStepDuration time.Duration
	MinStepDuration time.Duration
	MaxStepDuration time.Duration

	// Average durations and share of the average step
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	// Average sub-phase durations, keyed "phase/sub"
	SubPhaseAvg map[string]time.Duration

	StepsPerSecond float64

	// Render frames (viewer only)
	FrameDuration time.Duration
	FPS           float64
}

// SortPassAvg returns the average duration of radix pass i.
func (s PerfStats) SortPassAvg(i int) time.Duration {
	return s.SubPhaseAvg[subPhaseKey(PhaseSort, SortPassName(i))]
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	stats := PerfStats{
		PhaseAvg:      make(map[string]time.Duration),
		PhasePct:      make(map[string]float64),
		SubPhaseAvg:   make(map[string]time.Duration),
		FrameDuration: p.frameDuration,
	}
	if p.frameDuration > 0 {
		stats.FPS = float64(time.Second) / float64(p.frameDuration)
	}
	if p.sampleCount == 0 {
		return stats
	}

	var total time.Duration
	phaseSum := make(map[string]time.Duration)
	subSum := make(map[string]time.Duration)
	for i, s := range p.samples[:p.sampleCount] {
		total += s.StepDuration
		if i == 0 || s.StepDuration < stats.MinStepDuration {
			stats.MinStepDuration = s.StepDuration
		}
		stats.MaxStepDuration = max(stats.MaxStepDuration, s.StepDuration)
		for phase, d := range s.Phases {
			phaseSum[phase] += d
		}
		for sub, d := range s.SubPhases {
			subSum[sub] += d
		}
	}

	count := time.Duration(p.sampleCount)
	stats.AvgStepDuration = total / count
	for phase, sum := range phaseSum {
		stats.PhaseAvg[phase] = sum / count
		if stats.AvgStepDuration > 0 {
			stats.PhasePct[phase] = float64(stats.PhaseAvg[phase]) / float64(stats.AvgStepDuration) * 100
		}
	}
	for sub, sum := range subSum {
		stats.SubPhaseAvg[sub] = sum / count
	}
	if stats.AvgStepDuration > 0 {
		stats.StepsPerSecond = float64(time.Second) / float64(stats.AvgStepDuration)
	}
	return stats
}

// LogStats logs performance statistics.
func (s PerfStats) LogStats() {
	attrs := []any{
		"avg_step_us", s.AvgStepDuration.Microseconds(),
		"min_step_us", s.MinStepDuration.Microseconds(),
		"max_step_us", s.MaxStepDuration.Microseconds(),
		"steps_per_sec", int(s.StepsPerSecond),
	}

	if s.FPS > 0 {
		attrs = append(attrs, "fps", int(s.FPS))
	}

	for _, phase := range Phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, phase+"_pct", int(pct*10)/10.0)
		}
	}
	for i := 0; i < SortPasses; i++ {
		if d := s.SortPassAvg(i); d > 0 {
			attrs = append(attrs, "sort_"+SortPassName(i)+"_us", d.Microseconds())
		}
	}

	slog.Info("perf", attrs...)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_step_us", s.AvgStepDuration.Microseconds()),
		slog.Int64("min_step_us", s.MinStepDuration.Microseconds()),
		slog.Int64("max_step_us", s.MaxStepDuration.Microseconds()),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
	}

	if s.FPS > 0 {
		attrs = append(attrs, slog.Float64("fps", s.FPS))
	}

	for phase, pct := range s.PhasePct {
		attrs = append(attrs, slog.Float64(phase+"_pct", pct))
	}

	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	RunID         string  `csv:"run_id"`
	WindowEnd     uint64  `csv:"window_end"`
	AvgStepUS     int64   `csv:"avg_step_us"`
	MinStepUS     int64   `csv:"min_step_us"`
	MaxStepUS     int64   `csv:"max_step_us"`
	StepsPerSec   float64 `csv:"steps_per_sec"`
	FPS           float64 `csv:"fps"`
	PredictPct    float64 `csv:"predict_pct"`
	HashPct       float64 `csv:"hash_pct"`
	SortPct       float64 `csv:"sort_pct"`
	CellRangesPct float64 `csv:"cell_ranges_pct"`
	DensityPct    float64 `csv:"density_pct"`
	ForcesPct     float64 `csv:"forces_pct"`
	IntegratePct  float64 `csv:"integrate_pct"`
	PublishPct    float64 `csv:"publish_pct"`
	SortPass0US   int64   `csv:"sort_pass0_us"`
	SortPass1US   int64   `csv:"sort_pass1_us"`
	SortPass2US   int64   `csv:"sort_pass2_us"`
	SortPass3US   int64   `csv:"sort_pass3_us"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(windowEnd uint64) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:     windowEnd,
		AvgStepUS:     s.AvgStepDuration.Microseconds(),
		MinStepUS:     s.MinStepDuration.Microseconds(),
		MaxStepUS:     s.MaxStepDuration.Microseconds(),
		StepsPerSec:   s.StepsPerSecond,
		FPS:           s.FPS,
		PredictPct:    s.PhasePct[PhasePredict],
		HashPct:       s.PhasePct[PhaseHash],
		SortPct:       s.PhasePct[PhaseSort],
		CellRangesPct: s.PhasePct[PhaseCellRanges],
		DensityPct:    s.PhasePct[PhaseDensity],
		ForcesPct:     s.PhasePct[PhaseForces],
		IntegratePct:  s.PhasePct[PhaseIntegrate],
		PublishPct:    s.PhasePct[PhasePublish],
		SortPass0US:   s.SortPassAvg(0).Microseconds(),
		SortPass1US:   s.SortPassAvg(1).Microseconds(),
		SortPass2US:   s.SortPassAvg(2).Microseconds(),
		SortPass3US:   s.SortPassAvg(3).Microseconds(),
	}
}
