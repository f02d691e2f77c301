// Radix sort harness - sorts random keys on the emulated device, checks every
// pass and dumps the intermediate tables.
//
// Usage: go run ./cmd/radixcheck -n 256 -dump
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"text/tabwriter"

	"github.com/pthm-cable/pbf/cells"
	"github.com/pthm-cable/pbf/compute"
	"github.com/pthm-cable/pbf/radix"
)

func main() {
	n := flag.Int("n", 128, "Number of keys")
	keyRange := flag.Int("range", 256, "Keys are drawn from [0, range)")
	seed := flag.Int64("seed", 1, "Random seed")
	workers := flag.Int("workers", 0, "Compute workers (0 = GOMAXPROCS)")
	dump := flag.Bool("dump", false, "Print the per-pass tables and cell ranges")
	flag.Parse()

	if *keyRange <= 0 || *keyRange > radix.MaxKey+1 {
		log.Fatalf("-range must be in [1, %d]", radix.MaxKey+1)
	}

	rng := rand.New(rand.NewSource(*seed))
	keys := make([]uint32, *n)
	for i := range keys {
		keys[i] = uint32(rng.Intn(*keyRange))
	}

	dev, err := compute.NewDevice(*workers)
	if err != nil {
		log.Fatalf("creating device: %v", err)
	}
	defer dev.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 1, ' ', 0)
	failed := false
	prev := keys

	observer := func(info radix.PassInfo) {
		before := radix.DigitHistogram(prev, info.Pass)
		after := radix.DigitHistogram(info.Keys, info.Pass)
		status := "ok"
		if before != after {
			status = "HISTOGRAM MISMATCH"
			failed = true
		}
		fmt.Printf("pass %d: digit histogram %v %s\n", info.Pass, after, status)
		if *dump {
			dumpPass(w, info)
		}
		prev = info.Keys // observer snapshots are copies
	}

	sorter, err := radix.NewSorter(dev, *n, radix.WithDiagnostics(true), radix.WithPassObserver(observer))
	if err != nil {
		log.Fatalf("creating sorter: %v", err)
	}

	result, err := sorter.Sort(keys)
	if err != nil {
		log.Fatalf("sort failed: %v", err)
	}

	for _, check := range []struct {
		name string
		err  error
	}{
		{"sorted", radix.CheckSorted(result.Keys)},
		{"bijection", radix.CheckBijection(result.Permutation)},
		{"stable", radix.CheckStable(keys, result.Keys, result.Permutation)},
	} {
		if check.err != nil {
			fmt.Printf("%-10s FAIL: %v\n", check.name, check.err)
			failed = true
		} else {
			fmt.Printf("%-10s ok\n", check.name)
		}
	}

	table, err := cells.NewTable(dev, uint32(*keyRange))
	if err != nil {
		log.Fatalf("creating cell table: %v", err)
	}
	if err := table.Build(result.Keys); err != nil {
		log.Fatalf("building cell table: %v", err)
	}
	if err := cells.Check(table, result.Keys); err != nil {
		fmt.Printf("%-10s FAIL: %v\n", "cells", err)
		failed = true
	} else {
		occupied, maxRun := table.Occupancy()
		fmt.Printf("%-10s ok (%d occupied, longest run %d)\n", "cells", occupied, maxRun)
	}

	if *dump {
		fmt.Fprintln(w, "\nkey\tstart\tend")
		for h := uint32(0); h < table.Size(); h++ {
			if start, end, ok := table.Range(h); ok {
				fmt.Fprintf(w, "%d\t%d\t%d\n", h, start, end)
			}
		}
		w.Flush()
	}

	if failed {
		os.Exit(1)
	}
}

// dumpPass prints the group tables of one pass, one row per thread group.
func dumpPass(w *tabwriter.Writer, info radix.PassInfo) {
	groups := len(info.BlockData) / radix.Buckets
	for _, table := range []struct {
		name string
		data []uint32
	}{
		{"block data", info.BlockData},
		{"block prefix sum", info.BlockPrefixSum},
		{"scatter base", info.BlockPrefixSumOutput},
	} {
		fmt.Fprintf(w, "  %s\n", table.name)
		for g := 0; g < groups; g++ {
			fmt.Fprintf(w, "  g%d", g)
			for _, v := range table.data[g*radix.Buckets : (g+1)*radix.Buckets] {
				fmt.Fprintf(w, "\t%d", v)
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintf(w, "  local prefix sum\t%v\n", info.LocalPrefixSum)
	w.Flush()
}
