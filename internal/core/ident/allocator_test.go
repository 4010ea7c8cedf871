package ident

import (
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocateN(t *testing.T, a *Allocator, n int) []ID {
	t.Helper()
	out := make([]ID, 0, n)
	for i := 0; i < n; i++ {
		id, err := a.Allocate()
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

func TestAllocateReusesLowestFreed(t *testing.T) {
	a := NewAllocator(1)

	assert.Equal(t, []ID{1, 2, 3}, allocateN(t, a, 3))
	require.True(t, a.TryFree(2))
	assert.Equal(t, 2, a.Runs())

	id, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, ID(2), id)
	assert.Equal(t, 1, a.Runs(), "runs merge back together")
}

func TestTryAssignTwice(t *testing.T) {
	a := NewAllocator(1)
	assert.True(t, a.TryAssign(42))
	assert.False(t, a.TryAssign(42))
	assert.True(t, a.Contains(42))
}

func TestBelowMinRejected(t *testing.T) {
	a := NewAllocator(100)
	assert.False(t, a.TryAssign(99))
	assert.False(t, a.TryFree(99))
	assert.False(t, a.TryFree(100), "never allocated")

	id, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, ID(100), id)
}

func TestZeroMinNeverHandsOutNone(t *testing.T) {
	a := NewAllocator(None)
	id, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, ID(1), id)
}

func TestAllocateSkipsStaticAssignments(t *testing.T) {
	a := NewAllocator(1)
	require.True(t, a.TryAssign(2))
	require.True(t, a.TryAssign(4))

	assert.Equal(t, []ID{1, 3, 5}, allocateN(t, a, 3))
	assert.Equal(t, 1, a.Runs())
	assert.Equal(t, 5, a.Len())
}

func TestTryAssignMergesNeighbours(t *testing.T) {
	a := NewAllocator(1)
	require.True(t, a.TryAssign(10))
	require.True(t, a.TryAssign(12))
	assert.Equal(t, 2, a.Runs())

	require.True(t, a.TryAssign(11))
	assert.Equal(t, 1, a.Runs())
	assert.Equal(t, []ID{10, 11, 12}, a.Enumerate().Collect())
}

func TestTryFreeSplitsAndShrinks(t *testing.T) {
	a := NewAllocator(1)
	allocateN(t, a, 5)

	require.True(t, a.TryFree(3))
	assert.Equal(t, []ID{1, 2, 4, 5}, a.Enumerate().Collect())

	require.True(t, a.TryFree(1))
	require.True(t, a.TryFree(5))
	assert.Equal(t, []ID{2, 4}, a.Enumerate().Collect())
	assert.False(t, a.TryFree(3))

	require.True(t, a.TryFree(2))
	require.True(t, a.TryFree(4))
	assert.Zero(t, a.Runs())
	assert.Empty(t, a.Enumerate().Collect())
}

func TestExhaustion(t *testing.T) {
	a := NewAllocator(Max - 1)
	allocateN(t, a, 2)

	_, err := a.Allocate()
	assert.ErrorIs(t, err, ErrExhausted)

	require.True(t, a.TryFree(Max))
	id, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, Max, id)
}

func TestEnumerateIsSnapshot(t *testing.T) {
	a := NewAllocator(1)
	allocateN(t, a, 3)
	it := a.Enumerate()
	require.True(t, a.TryFree(2))
	assert.Equal(t, []ID{1, 2, 3}, it.Collect())
}

// Random operations checked against a plain set.
func TestMatchesReferenceModel(t *testing.T) {
	const span = 64
	rng := rand.New(rand.NewSource(7))
	a := NewAllocator(1)
	model := map[ID]bool{}

	lowestFree := func() ID {
		for id := ID(1); ; id++ {
			if !model[id] {
				return id
			}
		}
	}

	for step := 0; step < 5000; step++ {
		id := ID(rng.Intn(span) + 1)
		switch rng.Intn(3) {
		case 0:
			want := lowestFree()
			got, err := a.Allocate()
			require.NoError(t, err)
			require.Equal(t, want, got, "step %d", step)
			model[got] = true
		case 1:
			require.Equal(t, !model[id], a.TryAssign(id), "step %d assign %d", step, id)
			model[id] = true
		case 2:
			require.Equal(t, model[id], a.TryFree(id), "step %d free %d", step, id)
			delete(model, id)
		}
	}

	want := make([]ID, 0, len(model))
	for id := range model {
		want = append(want, id)
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	assert.Equal(t, len(model), a.Len())
	assert.Equal(t, want, append([]ID{}, a.Enumerate().Collect()...))
}

func TestConcurrentAllocateIsUnique(t *testing.T) {
	a := NewAllocator(1024)
	const workers, per = 8, 500

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[ID]bool{}
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id, err := a.Allocate()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*per, a.Len())
	assert.Equal(t, 1, a.Runs())
	first, ok := a.Enumerate().First()
	require.True(t, ok)
	assert.Equal(t, ID(1024), first)
}
