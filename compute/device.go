// Package compute emulates a data-parallel device on top of a goroutine pool.
//
// Work is expressed as kernels that run once per thread group. A dispatch
// returns only after every group has retired, so consecutive dispatches are
// separated by a device-wide barrier.
package compute

import (
	"fmt"
	"runtime"
	"sync"
)

// inlineThreshold is the minimum group count handed to the worker pool.
// Below this, running on the caller is faster than the channel round trip.
const inlineThreshold = 4

// workChunk is a contiguous range of thread groups for one worker.
type workChunk struct {
	name       string
	fn         KernelFunc
	start, end int
}

// Device owns a persistent pool of workers that execute kernel dispatches.
type Device struct {
	numWorkers int

	// Worker pool channels
	workChan chan workChunk    // sends work to workers
	doneChan chan *KernelError // workers signal completion
	stopChan chan struct{}     // signals workers to exit
	wg       sync.WaitGroup    // tracks active workers
	mu       sync.Mutex        // one dispatch in flight at a time
	running  bool              // true if workers are running
	closed   bool
}

// NewDevice creates a device with the given worker count.
// Zero selects GOMAXPROCS; a negative count means no compute capability.
func NewDevice(workers int) (*Device, error) {
	if workers < 0 {
		return nil, fmt.Errorf("%w: %d workers", ErrNoCompute, workers)
	}
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Device{numWorkers: workers}, nil
}

// Workers returns the number of worker goroutines the device dispatches to.
func (d *Device) Workers() int {
	return d.numWorkers
}

// startWorkers launches persistent worker goroutines.
func (d *Device) startWorkers() {
	if d.running {
		return
	}

	d.workChan = make(chan workChunk, d.numWorkers)
	d.doneChan = make(chan *KernelError, d.numWorkers)
	d.stopChan = make(chan struct{})
	d.running = true

	for i := 0; i < d.numWorkers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (d *Device) stopWorkers() {
	if !d.running {
		return
	}

	close(d.stopChan)
	d.wg.Wait()
	close(d.workChan)
	close(d.doneChan)
	d.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (d *Device) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			return
		case chunk, ok := <-d.workChan:
			if !ok {
				return
			}
			d.doneChan <- runGroups(chunk.name, chunk.fn, chunk.start, chunk.end)
		}
	}
}

// Dispatch runs kernel id of p once for every group in [0, groups) and waits
// for all of them to retire. A panicking group is reported as *KernelError;
// the other groups of the dispatch still run to completion.
func (d *Device) Dispatch(p *Pipeline, id KernelID, groups int) error {
	k, err := p.kernel(id)
	if err != nil {
		return err
	}
	if groups < 0 {
		return fmt.Errorf("dispatch %s: negative group count %d", k.name, groups)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	if groups == 0 {
		return nil
	}

	if groups < inlineThreshold || d.numWorkers == 1 {
		if kerr := runGroups(k.name, k.fn, 0, groups); kerr != nil {
			return kerr
		}
		return nil
	}

	d.startWorkers()

	chunkSize := (groups + d.numWorkers - 1) / d.numWorkers
	chunksDispatched := 0
	for w := 0; w < d.numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > groups {
			end = groups
		}
		if start >= end {
			continue
		}

		d.workChan <- workChunk{name: k.name, fn: k.fn, start: start, end: end}
		chunksDispatched++
	}

	// Barrier: every chunk reports back before the next dispatch may start.
	var first *KernelError
	for i := 0; i < chunksDispatched; i++ {
		kerr := <-d.doneChan
		if kerr != nil && (first == nil || kerr.Group < first.Group) {
			first = kerr
		}
	}
	if first != nil {
		return first
	}
	return nil
}

// Close stops the worker pool. Further dispatches fail with ErrDeviceClosed.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopWorkers()
	d.closed = true
}

// Groups returns the number of groups of groupSize needed to cover n items.
func Groups(n, groupSize int) int {
	if n <= 0 || groupSize <= 0 {
		return 0
	}
	return (n + groupSize - 1) / groupSize
}

// runGroups executes groups [start, end) and returns the first failure.
func runGroups(name string, fn KernelFunc, start, end int) *KernelError {
	var first *KernelError
	for g := start; g < end; g++ {
		if kerr := runGroup(name, fn, g); kerr != nil && first == nil {
			first = kerr
		}
	}
	return first
}

func runGroup(name string, fn KernelFunc, group int) (kerr *KernelError) {
	defer func() {
		if r := recover(); r != nil {
			kerr = &KernelError{Kernel: name, Group: group, Value: r}
		}
	}()
	fn(group)
	return nil
}
