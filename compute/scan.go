package compute

import "fmt"

// ScanBlockSize is the number of elements one group scans locally.
const ScanBlockSize = 256

// Scanner computes exclusive prefix sums of uint32 slices on a device.
//
// The scan runs in two levels: every block of ScanBlockSize elements is
// scanned locally while its total is written to a block-sum table, the
// block sums are scanned (recursively, by a smaller Scanner), and each block
// then adds its scanned offset. All scratch memory is allocated up front.
type Scanner struct {
	dev      *Device
	capacity int

	sums    []uint32 // per-block totals
	offsets []uint32 // exclusive scan of sums
	next    *Scanner // scans sums when there is more than one block

	pipeline *Pipeline
	local    KernelID
	add      KernelID

	// Bound for the duration of one Exclusive call.
	src, dst []uint32
	n        int
}

// NewScanner creates a scanner able to handle up to capacity elements.
func NewScanner(dev *Device, capacity int) (*Scanner, error) {
	if dev == nil {
		return nil, ErrNoCompute
	}
	if capacity < 0 {
		return nil, fmt.Errorf("compute: negative scan capacity %d", capacity)
	}

	blocks := Groups(capacity, ScanBlockSize)
	if blocks < 1 {
		blocks = 1
	}

	s := &Scanner{
		dev:      dev,
		capacity: capacity,
		sums:     make([]uint32, blocks),
		offsets:  make([]uint32, blocks),
	}

	p, err := Compile(
		KernelSpec{Name: "scan_local", Fn: s.scanLocal},
		KernelSpec{Name: "scan_add", Fn: s.addOffsets},
	)
	if err != nil {
		return nil, err
	}
	s.pipeline = p
	s.local = p.MustLookup("scan_local")
	s.add = p.MustLookup("scan_add")

	if blocks > 1 {
		next, err := NewScanner(dev, blocks)
		if err != nil {
			return nil, err
		}
		s.next = next
	}

	return s, nil
}

// Capacity returns the largest input the scanner accepts.
func (s *Scanner) Capacity() int {
	return s.capacity
}

// Exclusive writes the exclusive prefix sum of src into dst and returns the
// total. dst may alias src.
func (s *Scanner) Exclusive(src, dst []uint32) (uint32, error) {
	n := len(src)
	if len(dst) < n {
		return 0, fmt.Errorf("compute: scan destination too short: %d < %d", len(dst), n)
	}
	if n > s.capacity {
		return 0, fmt.Errorf("compute: scan of %d elements exceeds capacity %d", n, s.capacity)
	}
	if n == 0 {
		return 0, nil
	}

	s.src, s.dst, s.n = src, dst[:n], n
	defer func() {
		s.src, s.dst = nil, nil
	}()

	blocks := Groups(n, ScanBlockSize)
	if err := s.dev.Dispatch(s.pipeline, s.local, blocks); err != nil {
		return 0, err
	}
	if blocks == 1 {
		return s.sums[0], nil
	}

	total, err := s.next.Exclusive(s.sums[:blocks], s.offsets[:blocks])
	if err != nil {
		return 0, err
	}
	if err := s.dev.Dispatch(s.pipeline, s.add, blocks); err != nil {
		return 0, err
	}
	return total, nil
}

// scanLocal scans one block and records its total.
func (s *Scanner) scanLocal(block int) {
	start := block * ScanBlockSize
	end := min(start+ScanBlockSize, s.n)

	var acc uint32
	for i := start; i < end; i++ {
		v := s.src[i]
		s.dst[i] = acc
		acc += v
	}
	s.sums[block] = acc
}

// addOffsets adds the scanned block offset to every element of the block.
func (s *Scanner) addOffsets(block int) {
	off := s.offsets[block]
	if off == 0 {
		return
	}
	start := block * ScanBlockSize
	end := min(start+ScanBlockSize, s.n)
	for i := start; i < end; i++ {
		s.dst[i] += off
	}
}
