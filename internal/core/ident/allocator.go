// Package ident hands out and recycles the numeric identifiers that name
// replicated objects across the network.
package ident

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/zeusync/replinet/pkg/sequence"
)

// ID names a replicated object. The zero value means "no identifier".
type ID uint32

const (
	None ID = 0
	Max  ID = math.MaxUint32
)

func (id ID) String() string {
	return fmt.Sprintf("#%d", uint32(id))
}

var ErrExhausted = errors.New("identifier space exhausted")

// Allocator tracks allocated identifiers as a sorted list of half-open runs.
//
// bounds holds alternating starts and ends: [s0, e0, s1, e1, ...] means
// [s0, e0) and [s1, e1) are allocated. Boundaries are strictly increasing, so
// two runs never touch. Ends are kept as uint64 to represent Max+1.
type Allocator struct {
	mu     sync.Mutex
	min    uint64
	bounds []uint64
}

// NewAllocator returns an empty allocator handing out identifiers >= min.
// A zero min is raised to 1 so None is never allocated.
func NewAllocator(min ID) *Allocator {
	if min == None {
		min = 1
	}
	return &Allocator{min: uint64(min)}
}

// Min returns the lowest identifier the allocator manages.
func (a *Allocator) Min() ID {
	return ID(a.min)
}

// Allocate returns the lowest free identifier >= min. Because every allocated
// identifier is >= min, the answer is either min itself or the end of the
// first run, which keeps the common case O(1).
func (a *Allocator) Allocate() (ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.bounds) == 0 || a.bounds[0] > a.min {
		id := a.min
		if len(a.bounds) > 0 && a.bounds[0] == id+1 {
			a.bounds[0] = id
		} else {
			a.bounds = insertRun(a.bounds, 0, id)
		}
		return ID(id), nil
	}

	id := a.bounds[1]
	if id > uint64(Max) {
		return None, ErrExhausted
	}
	a.bounds[1] = id + 1
	if len(a.bounds) > 2 && a.bounds[2] == a.bounds[1] {
		a.bounds = append(a.bounds[:1], a.bounds[3:]...)
	}
	return ID(id), nil
}

// TryAssign marks a specific identifier as allocated. It reports false when
// the identifier is below min or already taken.
func (a *Allocator) TryAssign(id ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := uint64(id)
	if v < a.min {
		return false
	}

	i := a.search(v)
	if i%2 == 1 {
		return false
	}

	joinsLeft := i > 0 && a.bounds[i-1] == v
	joinsRight := i < len(a.bounds) && a.bounds[i] == v+1

	switch {
	case joinsLeft && joinsRight:
		a.bounds = append(a.bounds[:i-1], a.bounds[i+1:]...)
	case joinsLeft:
		a.bounds[i-1] = v + 1
	case joinsRight:
		a.bounds[i] = v
	default:
		a.bounds = insertRun(a.bounds, i, v)
	}
	return true
}

// TryFree releases an identifier. It reports false when the identifier is
// below min or not allocated.
func (a *Allocator) TryFree(id ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := uint64(id)
	if v < a.min {
		return false
	}

	i := a.search(v)
	if i%2 == 0 {
		return false
	}

	start, end := a.bounds[i-1], a.bounds[i]
	switch {
	case start == v && end == v+1:
		a.bounds = append(a.bounds[:i-1], a.bounds[i+1:]...)
	case start == v:
		a.bounds[i-1] = v + 1
	case end == v+1:
		a.bounds[i] = v
	default:
		// split [start, end) into [start, v) and [v+1, end)
		a.bounds = append(a.bounds, 0, 0)
		copy(a.bounds[i+2:], a.bounds[i:])
		a.bounds[i] = v
		a.bounds[i+1] = v + 1
	}
	return true
}

// Contains reports whether id is currently allocated.
func (a *Allocator) Contains(id ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.search(uint64(id))%2 == 1
}

// Len returns the number of allocated identifiers.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var n uint64
	for i := 0; i < len(a.bounds); i += 2 {
		n += a.bounds[i+1] - a.bounds[i]
	}
	return int(n)
}

// Runs returns the number of disjoint allocated runs.
func (a *Allocator) Runs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bounds) / 2
}

// Enumerate yields every allocated identifier in increasing order. The
// iterator walks a snapshot taken at call time, so it is finite and safe to
// use while the allocator keeps changing; it is meant for diagnostics.
func (a *Allocator) Enumerate() *sequence.Iterator[ID] {
	a.mu.Lock()
	snapshot := make([]uint64, len(a.bounds))
	copy(snapshot, a.bounds)
	a.mu.Unlock()

	return sequence.FromSeq(func(yield func(ID) bool) {
		for i := 0; i < len(snapshot); i += 2 {
			for v := snapshot[i]; v < snapshot[i+1]; v++ {
				if !yield(ID(v)) {
					return
				}
			}
		}
	})
}

// search returns the index of the first boundary strictly greater than v.
// An odd result means v lies inside an allocated run.
func (a *Allocator) search(v uint64) int {
	return sort.Search(len(a.bounds), func(i int) bool { return a.bounds[i] > v })
}

func insertRun(bounds []uint64, at int, v uint64) []uint64 {
	bounds = append(bounds, 0, 0)
	copy(bounds[at+2:], bounds[at:])
	bounds[at] = v
	bounds[at+1] = v + 1
	return bounds
}
