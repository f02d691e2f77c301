package radix

import (
	"fmt"
	"slices"

	"github.com/pthm-cable/pbf/compute"
)

// PassInfo is a copy of the sorter tables after one digit pass.
type PassInfo struct {
	Pass                 int
	BlockData            []uint32 // [group][digit] counts
	BlockPrefixSum       []uint32 // group-major exclusive scan of BlockData
	BlockPrefixSumOutput []uint32 // global scatter base per [group][digit]
	LocalPrefixSum       []uint32 // per-slot rank among same-digit group predecessors
	Keys                 []uint32 // keys after the scatter
	Permutation          []uint32 // original indices after the scatter
}

// Result holds the sorted keys and the permutation of original indices.
// Permutation[r] is the original index of the element with rank r.
// Both slices belong to the Sorter and are valid until the next Sort.
type Result struct {
	Keys        []uint32
	Permutation []uint32
}

// Len returns the number of sorted elements.
func (r Result) Len() int {
	return len(r.Keys)
}

// Option configures a Sorter.
type Option func(*Sorter)

// WithDiagnostics enables the O(N) invariant checks after every pass.
func WithDiagnostics(on bool) Option {
	return func(s *Sorter) {
		s.diagnostics = on
	}
}

// WithPassHook registers fn to be called as each pass begins.
func WithPassHook(fn func(pass int)) Option {
	return func(s *Sorter) {
		s.passHook = fn
	}
}

// WithPassObserver registers fn to receive a snapshot after every pass.
func WithPassObserver(fn func(PassInfo)) Option {
	return func(s *Sorter) {
		s.observer = fn
	}
}

type sortKernels struct {
	load      compute.KernelID
	reset     compute.KernelID
	count     compute.KernelID
	transpose compute.KernelID
	gather    compute.KernelID
	scatter   compute.KernelID
}

// Sorter owns every buffer the sort needs for up to capacity elements.
type Sorter struct {
	dev         *compute.Device
	capacity    int
	diagnostics bool
	observer    func(PassInfo)
	passHook    func(pass int)

	keys *compute.PingPong[uint32]
	perm *compute.PingPong[uint32]

	blockData            []uint32
	localPrefixSum       []uint32
	blockPrefixSum       []uint32
	blockPrefixSumOutput []uint32
	digitMajor           []uint32 // blockData transposed to [digit][group]
	digitMajorScan       []uint32

	scanner  *compute.Scanner
	pipeline *compute.Pipeline
	k        sortKernels

	// Uniforms for the dispatch in flight.
	input  []uint32
	n      int
	groups int
	pass   int
}

// NewSorter allocates a sorter for up to capacity elements.
func NewSorter(dev *compute.Device, capacity int, opts ...Option) (*Sorter, error) {
	if dev == nil {
		return nil, compute.ErrNoCompute
	}
	if capacity < 0 {
		return nil, fmt.Errorf("radix: negative capacity %d", capacity)
	}

	table := compute.Groups(capacity, GroupSize) * Buckets
	s := &Sorter{
		dev:                  dev,
		capacity:             capacity,
		keys:                 compute.NewPingPong[uint32](capacity),
		perm:                 compute.NewPingPong[uint32](capacity),
		blockData:            make([]uint32, table),
		localPrefixSum:       make([]uint32, capacity),
		blockPrefixSum:       make([]uint32, table),
		blockPrefixSumOutput: make([]uint32, table),
		digitMajor:           make([]uint32, table),
		digitMajorScan:       make([]uint32, table),
	}
	for _, opt := range opts {
		opt(s)
	}

	scanner, err := compute.NewScanner(dev, table)
	if err != nil {
		return nil, err
	}
	s.scanner = scanner

	p, err := compute.Compile(
		compute.KernelSpec{Name: "radix_load", Fn: s.loadKernel},
		compute.KernelSpec{Name: "radix_reset", Fn: s.resetKernel},
		compute.KernelSpec{Name: "radix_count", Fn: s.countKernel},
		compute.KernelSpec{Name: "radix_transpose", Fn: s.transposeKernel},
		compute.KernelSpec{Name: "radix_gather", Fn: s.gatherKernel},
		compute.KernelSpec{Name: "radix_scatter", Fn: s.scatterKernel},
	)
	if err != nil {
		return nil, err
	}
	s.pipeline = p
	s.k = sortKernels{
		load:      p.MustLookup("radix_load"),
		reset:     p.MustLookup("radix_reset"),
		count:     p.MustLookup("radix_count"),
		transpose: p.MustLookup("radix_transpose"),
		gather:    p.MustLookup("radix_gather"),
		scatter:   p.MustLookup("radix_scatter"),
	}

	return s, nil
}

// Capacity returns the largest input the sorter accepts.
func (s *Sorter) Capacity() int {
	return s.capacity
}

// Diagnostics reports whether invariant checks run after every pass.
func (s *Sorter) Diagnostics() bool {
	return s.diagnostics
}

// SetDiagnostics toggles the per-pass checks for subsequent sorts.
func (s *Sorter) SetDiagnostics(on bool) {
	s.diagnostics = on
}

// Sort orders the indices 0..len(keys)-1 by keys[i], stable for equal keys.
// keys is only read. An empty input is a no-op.
func (s *Sorter) Sort(keys []uint32) (Result, error) {
	n := len(keys)
	if n > s.capacity {
		return Result{}, fmt.Errorf("%w: %d > %d", ErrCapacity, n, s.capacity)
	}
	if n == 0 {
		return Result{Keys: s.keys.Front()[:0], Permutation: s.perm.Front()[:0]}, nil
	}
	if s.diagnostics {
		if err := CheckKeyRange(keys); err != nil {
			return Result{}, err
		}
	}

	s.input, s.n, s.groups = keys, n, compute.Groups(n, GroupSize)
	defer func() {
		s.input = nil
	}()

	s.keys.Reset()
	s.perm.Reset()
	if err := s.dev.Dispatch(s.pipeline, s.k.load, s.groups); err != nil {
		return Result{}, err
	}

	for pass := 0; pass < Passes; pass++ {
		if err := s.runPass(pass); err != nil {
			return Result{}, fmt.Errorf("radix pass %d: %w", pass, err)
		}
	}

	res := Result{
		Keys:        s.keys.Front()[:n],
		Permutation: s.perm.Front()[:n],
	}
	if s.diagnostics {
		if err := CheckSorted(res.Keys); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// runPass sorts the front buffers by digit pass into the back buffers and
// publishes them.
func (s *Sorter) runPass(pass int) error {
	s.pass = pass
	if s.passHook != nil {
		s.passHook(pass)
	}

	var before [Passes][Buckets]int
	if s.diagnostics {
		before = DigitHistograms(s.keys.Front()[:s.n])
	}

	// Reset, then local count and scan.
	if err := s.dev.Dispatch(s.pipeline, s.k.reset, s.groups); err != nil {
		return err
	}
	if err := s.dev.Dispatch(s.pipeline, s.k.count, s.groups); err != nil {
		return err
	}

	// Block scan, group-major. Its total must account for every element.
	table := s.groups * Buckets
	total, err := s.scanner.Exclusive(s.blockData[:table], s.blockPrefixSum[:table])
	if err != nil {
		return err
	}
	if int(total) != s.n {
		return fmt.Errorf("%w: counted %d of %d", ErrCountMismatch, total, s.n)
	}

	// Block scan, digit-major: group bases are contiguous within a digit.
	tableGroups := compute.Groups(table, GroupSize)
	if err := s.dev.Dispatch(s.pipeline, s.k.transpose, tableGroups); err != nil {
		return err
	}
	if _, err := s.scanner.Exclusive(s.digitMajor[:table], s.digitMajorScan[:table]); err != nil {
		return err
	}
	if err := s.dev.Dispatch(s.pipeline, s.k.gather, tableGroups); err != nil {
		return err
	}

	if err := s.dev.Dispatch(s.pipeline, s.k.scatter, s.groups); err != nil {
		return err
	}
	s.keys.Swap()
	s.perm.Swap()

	if s.diagnostics {
		if after := DigitHistograms(s.keys.Front()[:s.n]); after != before {
			return ErrHistogramMismatch
		}
		if err := CheckBijection(s.perm.Front()[:s.n]); err != nil {
			return err
		}
	}
	if s.observer != nil {
		s.observer(s.passInfo(pass))
	}
	return nil
}

func (s *Sorter) passInfo(pass int) PassInfo {
	table := s.groups * Buckets
	return PassInfo{
		Pass:                 pass,
		BlockData:            slices.Clone(s.blockData[:table]),
		BlockPrefixSum:       slices.Clone(s.blockPrefixSum[:table]),
		BlockPrefixSumOutput: slices.Clone(s.blockPrefixSumOutput[:table]),
		LocalPrefixSum:       slices.Clone(s.localPrefixSum[:s.n]),
		Keys:                 slices.Clone(s.keys.Front()[:s.n]),
		Permutation:          slices.Clone(s.perm.Front()[:s.n]),
	}
}

// slots returns the slot range owned by group g.
func (s *Sorter) slots(g int) (start, end int) {
	start = g * GroupSize
	end = min(start+GroupSize, s.n)
	return start, end
}

// loadKernel copies the input keys and seeds the identity permutation.
func (s *Sorter) loadKernel(g int) {
	keys, perm := s.keys.Front(), s.perm.Front()
	start, end := s.slots(g)
	for i := start; i < end; i++ {
		keys[i] = s.input[i]
		perm[i] = uint32(i)
	}
}

func (s *Sorter) resetKernel(g int) {
	clear(s.blockData[g*Buckets : (g+1)*Buckets])
}

// countKernel walks the group's slots in order, so equal digits receive
// strictly increasing local ranks in submission order.
func (s *Sorter) countKernel(g int) {
	keys := s.keys.Front()
	counts := s.blockData[g*Buckets : (g+1)*Buckets]
	start, end := s.slots(g)
	for i := start; i < end; i++ {
		d := Digit(keys[i], s.pass)
		s.localPrefixSum[i] = counts[d]
		counts[d]++
	}
}

func (s *Sorter) transposeKernel(t int) {
	table := s.groups * Buckets
	start := t * GroupSize
	end := min(start+GroupSize, table)
	for idx := start; idx < end; idx++ {
		g, d := idx/Buckets, idx%Buckets
		s.digitMajor[d*s.groups+g] = s.blockData[idx]
	}
}

func (s *Sorter) gatherKernel(t int) {
	table := s.groups * Buckets
	start := t * GroupSize
	end := min(start+GroupSize, table)
	for idx := start; idx < end; idx++ {
		g, d := idx/Buckets, idx%Buckets
		s.blockPrefixSumOutput[idx] = s.digitMajorScan[d*s.groups+g]
	}
}

// scatterKernel writes every element of the group to its global rank.
func (s *Sorter) scatterKernel(g int) {
	srcKeys, dstKeys := s.keys.Front(), s.keys.Back()[:s.n]
	srcPerm, dstPerm := s.perm.Front(), s.perm.Back()[:s.n]
	base := s.blockPrefixSumOutput[g*Buckets : (g+1)*Buckets]
	start, end := s.slots(g)
	for i := start; i < end; i++ {
		d := Digit(srcKeys[i], s.pass)
		rank := base[d] + s.localPrefixSum[i]
		if s.diagnostics && rank >= uint32(s.n) {
			panic(fmt.Errorf("%w: slot %d rank %d, n=%d", ErrRankOutOfRange, i, rank, s.n))
		}
		dstKeys[rank] = srcKeys[i]
		dstPerm[rank] = srcPerm[i]
	}
}
