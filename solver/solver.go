// Package solver advances a particle fluid one frame at a time on an emulated
// data-parallel device.
//
// A frame predicts positions, hashes them into a bounded table, sorts the
// particle indices by hash with the radix sorter, builds per-cell rank ranges
// and then runs the density, force and integration kernels. Each kernel
// visits only the particles in the 27 cells around its own, reached through
// the sorted permutation. A frame either completes and is published or fails
// and leaves the previously published state untouched.
package solver

import (
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/pbf/cells"
	"github.com/pthm-cable/pbf/components"
	"github.com/pthm-cable/pbf/compute"
	"github.com/pthm-cable/pbf/radix"
	"github.com/pthm-cable/pbf/spatial"
	"github.com/pthm-cable/pbf/telemetry"
)

// GroupSize is the number of particles one thread group handles.
const GroupSize = 64

// PhaseRecorder receives frame phase boundaries. *telemetry.PerfCollector
// implements it.
type PhaseRecorder interface {
	StartStep()
	StartPhase(phase string)
	EndStep()
}

// SubPhaseRecorder is a PhaseRecorder that also times each radix pass
// inside the sort phase.
type SubPhaseRecorder interface {
	PhaseRecorder
	StartSubPhase(sub string)
}

type frameKernels struct {
	predict   compute.KernelID
	hash      compute.KernelID
	density   compute.KernelID
	forces    compute.KernelID
	integrate compute.KernelID
}

// Solver owns all particle buffers and the compiled frame pipeline.
type Solver struct {
	dev       *compute.Device
	params    Params
	n         int
	groups    int
	tableSize uint32

	particles *compute.PingPong[components.Particle]
	predicted []mgl32.Vec3
	keys      []uint32
	density   []float32
	accel     []mgl32.Vec3
	published []float32 // density of the last published frame

	sorter   *radix.Sorter
	table    *cells.Table
	pipeline *compute.Pipeline
	k        frameKernels

	// Uniforms for the frame in flight.
	frameParams Params
	dt          float32
	perm        []uint32

	frame    uint64
	simTime  float64
	aborted  uint64
	recorder PhaseRecorder

	// Cell table occupancy of the last published frame
	occupied int
	maxRun   int
}

// Option configures a Solver.
type Option func(*Solver)

// WithRecorder times every frame phase with rec.
func WithRecorder(rec PhaseRecorder) Option {
	return func(s *Solver) {
		s.recorder = rec
	}
}

// WithTableSize overrides the hash table size policy. Sizes above
// spatial.MaxTableSize are clamped.
func WithTableSize(size uint32) Option {
	return func(s *Solver) {
		s.tableSize = min(size, spatial.MaxTableSize)
	}
}

// WithClock starts the frame counter and simulation time at the given values,
// for runs resumed from a snapshot.
func WithClock(frame uint64, simTime float64) Option {
	return func(s *Solver) {
		s.frame = frame
		s.simTime = simTime
	}
}

// New validates the inputs, allocates every buffer and compiles the frame
// pipeline. initial is copied.
func New(dev *compute.Device, initial []components.Particle, params Params, opts ...Option) (*Solver, error) {
	if dev == nil {
		return nil, ErrNoCompute
	}
	n := len(initial)
	if n == 0 {
		return nil, ErrNoParticles
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	for i, p := range initial {
		if !finiteVec(p.Position) || !finiteVec(p.Velocity) {
			return nil, fmt.Errorf("%w: particle %d is not finite", ErrInvalidParams, i)
		}
	}

	s := &Solver{
		dev:       dev,
		params:    params,
		n:         n,
		groups:    compute.Groups(n, GroupSize),
		particles: compute.NewPingPong[components.Particle](n),
		predicted: make([]mgl32.Vec3, n),
		keys:      make([]uint32, n),
		density:   make([]float32, n),
		accel:     make([]mgl32.Vec3, n),
		published: make([]float32, n),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tableSize == 0 {
		cellsInDomain := spatial.DomainCells(params.Extents, params.CellSize)
		s.tableSize = spatial.TableSize(n, cellsInDomain)
	}
	copy(s.particles.Front(), initial)

	sortOpts := []radix.Option{radix.WithDiagnostics(params.Diagnostics)}
	if rec, ok := s.recorder.(SubPhaseRecorder); ok {
		sortOpts = append(sortOpts, radix.WithPassHook(func(pass int) {
			rec.StartSubPhase(telemetry.SortPassName(pass))
		}))
	}
	sorter, err := radix.NewSorter(dev, n, sortOpts...)
	if err != nil {
		return nil, err
	}
	s.sorter = sorter

	table, err := cells.NewTable(dev, s.tableSize)
	if err != nil {
		return nil, err
	}
	s.table = table

	p, err := compute.Compile(
		compute.KernelSpec{Name: "predict", Fn: s.predictKernel},
		compute.KernelSpec{Name: "hash", Fn: s.hashKernel},
		compute.KernelSpec{Name: "density", Fn: s.densityKernel},
		compute.KernelSpec{Name: "forces", Fn: s.forcesKernel},
		compute.KernelSpec{Name: "integrate", Fn: s.integrateKernel},
	)
	if err != nil {
		return nil, err
	}
	s.pipeline = p
	s.k = frameKernels{
		predict:   p.MustLookup("predict"),
		hash:      p.MustLookup("hash"),
		density:   p.MustLookup("density"),
		forces:    p.MustLookup("forces"),
		integrate: p.MustLookup("integrate"),
	}

	slog.Debug("solver ready",
		"particles", n,
		"table_size", s.tableSize,
		"groups", s.groups,
		"workers", dev.Workers(),
	)
	return s, nil
}

// Step advances the simulation by dt seconds. dt <= 0 is a no-op and dt
// above MaxDeltaTime is clamped. On error the frame is discarded: the
// returned error wraps ErrFrameAborted and the cause.
func (s *Solver) Step(dt float32) error {
	if !(dt > 0) {
		return nil
	}
	s.frameParams = s.params
	if maxDT := s.frameParams.MaxDeltaTime; maxDT > 0 && dt > maxDT {
		dt = maxDT
	}
	s.dt = dt
	defer func() {
		s.perm = nil
	}()

	s.startStep()
	stage, err := s.runFrame()
	if err != nil {
		s.endStep()
		s.aborted++
		slog.Warn("frame aborted", "frame", s.frame, "stage", stage, "error", err)
		return fmt.Errorf("%w at %s: %w", ErrFrameAborted, stage, err)
	}

	// Publish.
	s.startPhase(telemetry.PhasePublish)
	s.particles.Swap()
	copy(s.published, s.density)
	s.occupied, s.maxRun = s.table.Occupancy()
	s.frame++
	s.simTime += float64(dt)
	s.endStep()
	return nil
}

// runFrame executes every stage up to, but not including, publication and
// returns the name of the failing stage.
func (s *Solver) runFrame() (string, error) {
	s.startPhase(telemetry.PhasePredict)
	if err := s.dev.Dispatch(s.pipeline, s.k.predict, s.groups); err != nil {
		return telemetry.PhasePredict, err
	}

	s.startPhase(telemetry.PhaseHash)
	if err := s.dev.Dispatch(s.pipeline, s.k.hash, s.groups); err != nil {
		return telemetry.PhaseHash, err
	}

	s.startPhase(telemetry.PhaseSort)
	s.sorter.SetDiagnostics(s.frameParams.Diagnostics)
	sorted, err := s.sorter.Sort(s.keys)
	if err != nil {
		return telemetry.PhaseSort, err
	}
	s.perm = sorted.Permutation

	s.startPhase(telemetry.PhaseCellRanges)
	if err := s.table.Build(sorted.Keys); err != nil {
		return telemetry.PhaseCellRanges, err
	}
	if s.frameParams.Diagnostics {
		if err := cells.Check(s.table, sorted.Keys); err != nil {
			return telemetry.PhaseCellRanges, err
		}
	}

	s.startPhase(telemetry.PhaseDensity)
	if err := s.dev.Dispatch(s.pipeline, s.k.density, s.groups); err != nil {
		return telemetry.PhaseDensity, err
	}

	s.startPhase(telemetry.PhaseForces)
	if err := s.dev.Dispatch(s.pipeline, s.k.forces, s.groups); err != nil {
		return telemetry.PhaseForces, err
	}

	s.startPhase(telemetry.PhaseIntegrate)
	if err := s.dev.Dispatch(s.pipeline, s.k.integrate, s.groups); err != nil {
		return telemetry.PhaseIntegrate, err
	}
	return "", nil
}

// slots returns the particle range owned by group g.
func (s *Solver) slots(g int) (start, end int) {
	start = g * GroupSize
	end = min(start+GroupSize, s.n)
	return start, end
}

func (s *Solver) predictKernel(g int) {
	p := &s.frameParams
	src := s.particles.Front()
	start, end := s.slots(g)
	for i := start; i < end; i++ {
		v := src[i].Velocity.Add(p.Gravity.Mul(s.dt))
		s.predicted[i] = src[i].Position.Add(v.Mul(p.PredictionFactor))
	}
}

func (s *Solver) hashKernel(g int) {
	p := &s.frameParams
	start, end := s.slots(g)
	for i := start; i < end; i++ {
		s.keys[i] = spatial.Hash(s.predicted[i], p.Center, p.CellSize, s.tableSize)
	}
}

// forEachNeighbor calls fn for every particle j whose predicted position is
// within the smoothing radius of particle i, including i itself. Buckets
// shared by several of the 27 cells are visited once.
func (s *Solver) forEachNeighbor(i int, fn func(j uint32, offset mgl32.Vec3, d float32)) {
	p := &s.frameParams
	h := p.CellSize
	pos := s.predicted[i]
	coord := spatial.CellCoord(pos, p.Center, h)

	var hashes [27]uint32
	count := spatial.NeighborHashes(coord, s.tableSize, &hashes)
	for _, key := range hashes[:count] {
		start, end, ok := s.table.Range(key)
		if !ok {
			continue
		}
		for r := start; r < end; r++ {
			j := s.perm[r]
			offset := s.predicted[j].Sub(pos)
			d := offset.Len()
			if d < h {
				fn(j, offset, d)
			}
		}
	}
}

func (s *Solver) densityKernel(g int) {
	p := &s.frameParams
	start, end := s.slots(g)
	for i := start; i < end; i++ {
		var sum float32
		s.forEachNeighbor(i, func(_ uint32, _ mgl32.Vec3, d float32) {
			sum += p.Mass * DensityKernel(d, p.CellSize)
		})
		s.density[i] = max(sum, DensityEpsilon)
	}
}

// pressure converts density into pressure with a linear equation of state.
func pressure(density float32, p *Params) float32 {
	return (density - p.TargetDensity) * p.PressureMultiplier
}

// separation is the unit direction from i towards j used when the two
// particles coincide. It depends only on index order so the pair pushes
// apart symmetrically.
func separation(i int, j uint32) mgl32.Vec3 {
	if int(j) > i {
		return mgl32.Vec3{1, 0, 0}
	}
	return mgl32.Vec3{-1, 0, 0}
}

func (s *Solver) forcesKernel(g int) {
	p := &s.frameParams
	h := p.CellSize
	src := s.particles.Front()
	start, end := s.slots(g)
	for i := start; i < end; i++ {
		rhoI := s.density[i]
		pI := pressure(rhoI, p)
		velI := src[i].Velocity

		var pressureForce, viscosityForce mgl32.Vec3
		s.forEachNeighbor(i, func(j uint32, offset mgl32.Vec3, d float32) {
			if int(j) == i {
				return
			}
			var dir mgl32.Vec3
			if d > 0 {
				dir = offset.Mul(1 / d)
			} else {
				dir = separation(i, j)
			}
			rhoJ := s.density[j]
			shared := (pI + pressure(rhoJ, p)) / 2
			slope := DensityDerivative(d, h)
			pressureForce = pressureForce.Add(dir.Mul(slope * shared * p.Mass / rhoJ))

			w := ViscosityKernel(d, h)
			viscosityForce = viscosityForce.Add(src[j].Velocity.Sub(velI).Mul(w))
		})

		s.accel[i] = pressureForce.Mul(1 / rhoI).Add(viscosityForce.Mul(p.ViscosityStrength))
	}
}

func (s *Solver) integrateKernel(g int) {
	p := &s.frameParams
	src, dst := s.particles.Front(), s.particles.Back()
	lo := p.Center.Sub(p.Extents)
	hi := p.Center.Add(p.Extents)
	start, end := s.slots(g)
	for i := start; i < end; i++ {
		vel := src[i].Velocity.Add(p.Gravity.Add(s.accel[i]).Mul(s.dt))
		pos := src[i].Position.Add(vel.Mul(s.dt))

		// Degenerate numerics: hold the particle in place.
		if !finiteVec(pos) || !finiteVec(vel) {
			pos, vel = src[i].Position, mgl32.Vec3{}
		}

		for axis := 0; axis < 3; axis++ {
			if pos[axis] < lo[axis] {
				pos[axis] = lo[axis]
				vel[axis] = -vel[axis] * p.CollisionDamping
			} else if pos[axis] > hi[axis] {
				pos[axis] = hi[axis]
				vel[axis] = -vel[axis] * p.CollisionDamping
			}
		}
		dst[i] = components.Particle{Position: pos, Velocity: vel}
	}
}

func (s *Solver) startStep() {
	if s.recorder != nil {
		s.recorder.StartStep()
	}
}

func (s *Solver) startPhase(phase string) {
	if s.recorder != nil {
		s.recorder.StartPhase(phase)
	}
}

func (s *Solver) endStep() {
	if s.recorder != nil {
		s.recorder.EndStep()
	}
}

// Params returns the parameters the next frame will use.
func (s *Solver) Params() Params {
	return s.params
}

// SetParams replaces the parameters from the next frame on. The domain and
// cell size may change; the hash table keeps its size.
func (s *Solver) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.params = p
	return nil
}

// Frame returns the number of published frames.
func (s *Solver) Frame() uint64 {
	return s.frame
}

// SimTime returns the simulated seconds of all published frames.
func (s *Solver) SimTime() float64 {
	return s.simTime
}

// AbortedFrames returns how many frames were discarded.
func (s *Solver) AbortedFrames() uint64 {
	return s.aborted
}

// TableSize returns the number of hash buckets.
func (s *Solver) TableSize() uint32 {
	return s.tableSize
}

// Occupancy returns the number of occupied cells and the largest cell
// population of the last published frame. Both are zero before the first.
func (s *Solver) Occupancy() (occupied, maxRun int) {
	return s.occupied, s.maxRun
}

// GetParticleCount returns N.
func (s *Solver) GetParticleCount() int {
	return s.n
}

// MaxSpeed returns the largest published particle speed.
func (s *Solver) MaxSpeed() float32 {
	var best float32
	for _, p := range s.particles.Front() {
		best = max(best, p.Velocity.Len())
	}
	return best
}
