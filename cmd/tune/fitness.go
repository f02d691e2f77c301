package main

import (
	"math"
	"slices"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/pbf/components"
	"github.com/pthm-cable/pbf/compute"
	"github.com/pthm-cable/pbf/config"
	"github.com/pthm-cable/pbf/scene"
	"github.com/pthm-cable/pbf/solver"
	"github.com/pthm-cable/pbf/telemetry"
)

// failedFitness scores runs that could not be simulated or blew up.
const failedFitness = 1e6

// Fitness weights.
const (
	cvWeight    = 0.5
	speedWeight = 0.1
	abortWeight = 10.0
)

// FitnessEvaluator runs headless simulations and computes fitness.
type FitnessEvaluator struct {
	params      *ParamVector
	frames      int
	seeds       []int64
	workers     int
	baseConfig  *config.Config
	statsWindow float64

	mu          sync.Mutex
	lastDensity float64 // mean density error from the most recent Evaluate call
	bestFitness float64
	bestWindows []telemetry.FrameStats
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, frames int, seeds []int64, workers int, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		frames:      frames,
		seeds:       seeds,
		workers:     workers,
		baseConfig:  baseCfg,
		statsWindow: 0.5,
		bestFitness: math.Inf(1),
	}
}

// LastDensityError returns the density error from the most recent evaluation.
func (fe *FitnessEvaluator) LastDensityError() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastDensity
}

// BestWindows returns the window stats of the best seed of the best evaluation.
func (fe *FitnessEvaluator) BestWindows() []telemetry.FrameStats {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestWindows
}

// runResult holds the window stats from one simulation run.
type runResult struct {
	windows []telemetry.FrameStats
	failed  bool
}

type seedResult struct {
	fitness      float64
	densityError float64
	windows      []telemetry.FrameStats
}

// Evaluate computes fitness for a parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]seedResult, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			result := fe.runSimulation(x, s)
			fitness, densityErr := fe.computeFitness(result)
			results[idx] = seedResult{fitness: fitness, densityError: densityErr, windows: result.windows}
		}(i, seed)
	}
	wg.Wait()

	var totalFitness, totalDensity float64
	bestSeed := 0
	for i, r := range results {
		totalFitness += r.fitness
		totalDensity += r.densityError
		if r.fitness < results[bestSeed].fitness {
			bestSeed = i
		}
	}

	n := float64(len(fe.seeds))
	avgFitness := totalFitness / n

	fe.mu.Lock()
	if avgFitness < fe.bestFitness {
		fe.bestFitness = avgFitness
		fe.bestWindows = results[bestSeed].windows
	}
	fe.lastDensity = totalDensity / n
	fe.mu.Unlock()

	return avgFitness
}

// runSimulation executes a single headless run for a fixed number of frames.
func (fe *FitnessEvaluator) runSimulation(x []float64, seed int64) *runResult {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)

	result := &runResult{}

	sc, err := scene.New(cfg, seed)
	if err != nil {
		result.failed = true
		return result
	}
	particles, err := sc.Spawn()
	if err != nil {
		result.failed = true
		return result
	}

	dev, err := compute.NewDevice(fe.workers)
	if err != nil {
		result.failed = true
		return result
	}
	defer dev.Close()

	sim, err := solver.New(dev, particles, solver.ParamsFromConfig(cfg))
	if err != nil {
		result.failed = true
		return result
	}

	dt := cfg.Derived.DT32
	collector := telemetry.NewCollector(fe.statsWindow, dt, "")
	state := make([]components.Particle, len(particles))
	densities := make([]float32, len(particles))

	for i := 0; i < fe.frames; i++ {
		if err := sim.Step(dt); err != nil {
			collector.RecordAbort()
			continue
		}
		collector.RecordFrame()

		if collector.ShouldFlush(sim.Frame()) {
			sim.GetParticleBuffer().CopyTo(state)
			sim.GetDensityBuffer().CopyTo(densities)
			occupied, maxRun := sim.Occupancy()
			result.windows = append(result.windows, collector.Flush(telemetry.Sample{
				Frame:         sim.Frame(),
				SimTime:       sim.SimTime(),
				Particles:     state,
				Densities:     densities,
				OccupiedCells: occupied,
				MaxCellRun:    maxRun,
			}))
		}
	}
	return result
}

// copyConfig returns a copy of the base config that evaluations may modify.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	cfg.Emitters = slices.Clone(fe.baseConfig.Emitters)
	return &cfg
}

// computeFitness scores the settled second half of a run: density close to
// the target, uniform, calm, and without aborted frames.
func (fe *FitnessEvaluator) computeFitness(r *runResult) (fitness, densityErr float64) {
	if r.failed || len(r.windows) == 0 {
		return failedFitness, math.Inf(1)
	}

	target := fe.baseConfig.Simulation.TargetDensity
	settled := r.windows[len(r.windows)/2:]

	densityErrs := make([]float64, len(settled))
	cvs := make([]float64, len(settled))
	speeds := make([]float64, len(settled))
	var frames, aborted int
	for i, w := range settled {
		densityErrs[i] = math.Abs(w.DensityP50/target - 1)
		cvs[i] = cv(w.DensityMean, w.DensityStd)
		speeds[i] = w.SpeedMean
		frames += w.Frames
		aborted += w.AbortedFrames
	}

	densityErr = stat.Mean(densityErrs, nil)
	fitness = densityErr + cvWeight*stat.Mean(cvs, nil) + speedWeight*stat.Mean(speeds, nil)
	if total := frames + aborted; total > 0 {
		fitness += abortWeight * float64(aborted) / float64(total)
	}
	if math.IsNaN(fitness) || math.IsInf(fitness, 0) {
		return failedFitness, densityErr
	}
	return fitness, densityErr
}

// cv returns the coefficient of variation, 0 for a zero mean.
func cv(mean, std float64) float64 {
	if mean == 0 {
		return 0
	}
	return std / mean
}
