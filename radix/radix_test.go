package radix

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/pthm-cable/pbf/compute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSorter(t testing.TB, capacity int, opts ...Option) *Sorter {
	t.Helper()
	dev, err := compute.NewDevice(4)
	require.NoError(t, err)
	t.Cleanup(dev.Close)
	s, err := NewSorter(dev, capacity, opts...)
	require.NoError(t, err)
	return s
}

func randomKeys(n int, limit uint32, seed uint64) []uint32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = rng.Uint32N(limit)
	}
	return keys
}

// referenceSort returns the stable order of indices by key.
func referenceSort(keys []uint32) []uint32 {
	perm := make([]uint32, len(keys))
	for i := range perm {
		perm[i] = uint32(i)
	}
	slices.SortStableFunc(perm, func(a, b uint32) int {
		return int(keys[a]) - int(keys[b])
	})
	return perm
}

func TestDigit(t *testing.T) {
	key := uint32(0xBEEF)
	assert.Equal(t, uint32(0xF), Digit(key, 0))
	assert.Equal(t, uint32(0xE), Digit(key, 1))
	assert.Equal(t, uint32(0xE), Digit(key, 2))
	assert.Equal(t, uint32(0xB), Digit(key, 3))
}

func TestSortSmallStable(t *testing.T) {
	s := newTestSorter(t, 16, WithDiagnostics(true))

	res, err := s.Sort([]uint32{5, 3, 5, 1, 2, 5})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 5, 5, 5}, res.Keys)
	assert.Equal(t, []uint32{3, 4, 1, 0, 2, 5}, res.Permutation)
}

func TestSortPermutationIsBijection(t *testing.T) {
	for _, n := range []int{0, 1, 2, 63, 64, 65, 128, 256, 4096} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			s := newTestSorter(t, 4096)
			keys := randomKeys(n, MaxKey+1, uint64(n)+1)

			res, err := s.Sort(keys)
			require.NoError(t, err)
			assert.Equal(t, n, res.Len())
			assert.NoError(t, CheckBijection(res.Permutation))
		})
	}
}

func TestSortMatchesStableReference(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		limit uint32
	}{
		{"harness 128", 128, 256},
		{"harness 256", 256, 256},
		{"few distinct", 1000, 4},
		{"full range", 5000, MaxKey + 1},
		{"partial last group", 4097, 8191},
	}
	for _, tt := range tests {
		for _, diag := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s diag=%v", tt.name, diag), func(t *testing.T) {
				s := newTestSorter(t, tt.n, WithDiagnostics(diag))
				keys := randomKeys(tt.n, tt.limit, 42)

				res, err := s.Sort(keys)
				require.NoError(t, err)
				assert.Equal(t, referenceSort(keys), res.Permutation)
				assert.NoError(t, CheckStable(keys, res.Keys, res.Permutation))
			})
		}
	}
}

func TestSortDoesNotModifyInput(t *testing.T) {
	s := newTestSorter(t, 300)
	keys := randomKeys(300, 1000, 7)
	orig := slices.Clone(keys)

	_, err := s.Sort(keys)
	require.NoError(t, err)
	assert.Equal(t, orig, keys)
}

func TestSortReusesBuffers(t *testing.T) {
	s := newTestSorter(t, 512)
	for seed := uint64(1); seed <= 5; seed++ {
		keys := randomKeys(int(100*seed), MaxKey+1, seed)
		res, err := s.Sort(keys)
		require.NoError(t, err)
		assert.Equal(t, referenceSort(keys), res.Permutation)
	}
}

func TestSortAllEqualKeysKeepsOrder(t *testing.T) {
	s := newTestSorter(t, 200)
	keys := make([]uint32, 200)
	for i := range keys {
		keys[i] = 0x1234
	}

	res, err := s.Sort(keys)
	require.NoError(t, err)
	for r, idx := range res.Permutation {
		assert.Equal(t, uint32(r), idx)
	}
}

func TestSortErrors(t *testing.T) {
	s := newTestSorter(t, 4, WithDiagnostics(true))

	_, err := s.Sort(make([]uint32, 5))
	assert.ErrorIs(t, err, ErrCapacity)

	_, err = s.Sort([]uint32{1, MaxKey + 1})
	assert.ErrorIs(t, err, ErrKeyRange)

	_, err = NewSorter(nil, 4)
	assert.ErrorIs(t, err, compute.ErrNoCompute)
}

func TestPassHookOrder(t *testing.T) {
	var events []string
	s := newTestSorter(t, 100,
		WithPassHook(func(pass int) { events = append(events, fmt.Sprintf("start %d", pass)) }),
		WithPassObserver(func(p PassInfo) { events = append(events, fmt.Sprintf("done %d", p.Pass)) }),
	)

	_, err := s.Sort(randomKeys(100, 1<<KeyBits, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"start 0", "done 0", "start 1", "done 1",
		"start 2", "done 2", "start 3", "done 3",
	}, events)

	// Empty input runs no passes
	events = nil
	_, err = s.Sort(nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPassObserverHistograms(t *testing.T) {
	for _, n := range []int{128, 256} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			keys := randomKeys(n, 256, uint64(n))
			want := DigitHistograms(keys)

			var passes []PassInfo
			s := newTestSorter(t, n, WithPassObserver(func(p PassInfo) {
				passes = append(passes, p)
			}))
			_, err := s.Sort(keys)
			require.NoError(t, err)
			require.Len(t, passes, Passes)

			for _, p := range passes {
				assert.Equal(t, want, DigitHistograms(p.Keys), "pass %d", p.Pass)
				assert.NoError(t, CheckBijection(p.Permutation), "pass %d", p.Pass)

				// Block counts sum to n and the raw scan ends at n.
				groups := compute.Groups(n, GroupSize)
				require.Len(t, p.BlockData, groups*Buckets)
				var sum uint32
				for _, c := range p.BlockData {
					sum += c
				}
				assert.Equal(t, uint32(n), sum)
				last := len(p.BlockData) - 1
				assert.Equal(t, uint32(n), p.BlockPrefixSum[last]+p.BlockData[last])

				// Keys are sorted by the digits covered so far.
				mask := uint32(1)<<(DigitBits*(p.Pass+1)) - 1
				for r := 1; r < n; r++ {
					assert.LessOrEqual(t, p.Keys[r-1]&mask, p.Keys[r]&mask)
				}
			}
			// Keys below 256 have zero high digits.
			assert.Equal(t, n, want[2][0])
			assert.Equal(t, n, want[3][0])
		})
	}
}

func TestScatterBases(t *testing.T) {
	// Three groups: the base of (g, d) counts every smaller digit plus the
	// same digit in earlier groups.
	keys := make([]uint32, 3*GroupSize)
	for i := range keys {
		keys[i] = uint32(i % 3)
	}
	var first PassInfo
	s := newTestSorter(t, len(keys), WithPassObserver(func(p PassInfo) {
		if p.Pass == 0 {
			first = p
		}
	}))
	_, err := s.Sort(keys)
	require.NoError(t, err)

	out := first.BlockPrefixSumOutput
	digitTotal := [Buckets]uint32{}
	for g := 0; g < 3; g++ {
		for d := 0; d < Buckets; d++ {
			digitTotal[d] += first.BlockData[g*Buckets+d]
		}
	}
	for g := 0; g < 3; g++ {
		for d := 0; d < Buckets; d++ {
			var want uint32
			for dd := 0; dd < d; dd++ {
				want += digitTotal[dd]
			}
			for gg := 0; gg < g; gg++ {
				want += first.BlockData[gg*Buckets+d]
			}
			assert.Equal(t, want, out[g*Buckets+d], "group %d digit %d", g, d)
		}
	}
}

func TestCheckers(t *testing.T) {
	assert.NoError(t, CheckBijection([]uint32{2, 0, 1}))
	assert.ErrorIs(t, CheckBijection([]uint32{0, 0, 1}), ErrNotBijective)
	assert.ErrorIs(t, CheckBijection([]uint32{0, 3, 1}), ErrNotBijective)

	assert.NoError(t, CheckSorted([]uint32{1, 1, 2}))
	assert.ErrorIs(t, CheckSorted([]uint32{2, 1}), ErrUnsorted)

	input := []uint32{7, 3, 7}
	assert.NoError(t, CheckStable(input, []uint32{3, 7, 7}, []uint32{1, 0, 2}))
	assert.ErrorIs(t, CheckStable(input, []uint32{3, 7, 7}, []uint32{1, 2, 0}), ErrUnstable)

	assert.Equal(t, [Buckets]int{0: 1, 3: 2}, DigitHistogram([]uint32{0x30, 0x31, 0x03}, 1))
}

func BenchmarkSort(b *testing.B) {
	for _, n := range []int{4096, 65536} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			s := newTestSorter(b, n)
			keys := randomKeys(n, MaxKey+1, 1)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Sort(keys); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
