package binmerge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// DiffRegion is a maximal contiguous run of bytes that differ between
// the two inputs at the same absolute offset. Regions are immutable
// once appended to a RegionStore.
type DiffRegion struct {
	Offset uint64
	Length uint64
}

func (r DiffRegion) End() uint64 {
	return r.Offset + r.Length
}

func (r DiffRegion) String() string {
	return fmt.Sprintf("[%#x..%#x)", r.Offset, r.End())
}

// Regions land in fixed-size chunks so readers never touch a slice the
// writer may be reallocating.
const regionChunkLen = 1 << 12

type regionChunk [regionChunkLen]DiffRegion

// RegionStore is the append-only ordered sequence of regions the
// scanner discovers. Single writer, any number of concurrent readers.
// An entry is fully written before the length is published, so a
// reader that observed Len()==N may Get(i) for any i<N without racing
// the writer.
type RegionStore struct {
	length atomic.Int64
	chunks atomic.Pointer[[]*regionChunk]

	done chan struct{}

	term sync.Mutex
	fail error
	over bool
}

func NewRegionStore() *RegionStore {
	s := &RegionStore{done: make(chan struct{})}
	s.chunks.Store(&[]*regionChunk{})
	return s
}

// Append publishes one more region. Caller must be the single scan
// writer; out-of-order or overlapping appends are a bug, not an input
// condition.
func (s *RegionStore) Append(r DiffRegion) {
	if r.Length == 0 {
		panic("binmerge: empty diff region")
	}
	n := s.length.Load()
	if n > 0 && s.Get(int(n-1)).End() >= r.Offset {
		panic("binmerge: out-of-order diff region append")
	}
	s.term.Lock()
	over := s.over
	s.term.Unlock()
	if over {
		panic("binmerge: append to a finished region store")
	}

	ci, off := int(n/regionChunkLen), n%regionChunkLen
	tab := *s.chunks.Load()
	if ci == len(tab) {
		grown := make([]*regionChunk, len(tab)+1)
		copy(grown, tab)
		grown[ci] = new(regionChunk)
		s.chunks.Store(&grown)
		tab = grown
	}
	tab[ci][off] = r
	s.length.Add(1)
}

func (s *RegionStore) Len() int {
	return int(s.length.Load())
}

func (s *RegionStore) Get(i int) DiffRegion {
	if i < 0 || int64(i) >= s.length.Load() {
		panic(fmt.Sprintf("binmerge: region index %d out of range", i))
	}
	tab := *s.chunks.Load()
	return tab[i/regionChunkLen][i%regionChunkLen]
}

// Snapshot copies the prefix appended so far. Safe while the scanner
// is still appending.
func (s *RegionStore) Snapshot() []DiffRegion {
	n := s.Len()
	out := make([]DiffRegion, n)
	for i := 0; i < n; i++ {
		out[i] = s.Get(i)
	}
	return out
}

// TotalBytes is the sum of all region lengths appended so far.
func (s *RegionStore) TotalBytes() uint64 {
	var sum uint64
	for i, n := 0, s.Len(); i < n; i++ {
		sum += s.Get(i).Length
	}
	return sum
}

// Close marks discovery as exhaustive. No further appends may happen.
func (s *RegionStore) Close() {
	s.term.Lock()
	defer s.term.Unlock()
	if s.over {
		return
	}
	s.over = true
	close(s.done)
}

// Fail marks the scan as aborted by err. Regions appended so far stay
// valid, but the store never reaches the closed state.
func (s *RegionStore) Fail(err error) {
	s.term.Lock()
	defer s.term.Unlock()
	if s.over {
		return
	}
	s.over = true
	s.fail = err
	close(s.done)
}

// Closed reports whether the scan completed successfully, i.e. the
// store holds every region of the input pair.
func (s *RegionStore) Closed() bool {
	s.term.Lock()
	defer s.term.Unlock()
	return s.over && s.fail == nil
}

// Err returns the scan failure, if any.
func (s *RegionStore) Err() error {
	s.term.Lock()
	defer s.term.Unlock()
	return s.fail
}

// WaitDone blocks until the store is closed or failed, or ctx expires.
func (s *RegionStore) WaitDone(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
