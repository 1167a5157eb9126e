package binmerge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionStoreAppendGet(t *testing.T) {
	s := NewRegionStore()
	assert.Equal(t, 0, s.Len())

	s.Append(DiffRegion{Offset: 10, Length: 3})
	s.Append(DiffRegion{Offset: 20, Length: 1})
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, DiffRegion{Offset: 10, Length: 3}, s.Get(0))
	assert.Equal(t, DiffRegion{Offset: 20, Length: 1}, s.Get(1))
	assert.Equal(t, uint64(4), s.TotalBytes())
	assert.Equal(t, []DiffRegion{{10, 3}, {20, 1}}, s.Snapshot())
}

func TestRegionStoreInvariants(t *testing.T) {
	s := NewRegionStore()
	s.Append(DiffRegion{Offset: 10, Length: 5})

	assert.Panics(t, func() { s.Append(DiffRegion{Offset: 12, Length: 1}) }, "overlap")
	assert.Panics(t, func() { s.Append(DiffRegion{Offset: 15, Length: 1}) }, "adjacent, not separated by a matching byte")
	assert.Panics(t, func() { s.Append(DiffRegion{Offset: 30, Length: 0}) }, "empty region")
	assert.Panics(t, func() { s.Get(1) })

	s.Close()
	assert.Panics(t, func() { s.Append(DiffRegion{Offset: 30, Length: 1}) }, "append after close")
}

func TestRegionStoreChunkGrowth(t *testing.T) {
	s := NewRegionStore()
	const n = regionChunkLen*2 + 17
	for i := 0; i < n; i++ {
		s.Append(DiffRegion{Offset: uint64(2 * i), Length: 1})
	}
	require.Equal(t, n, s.Len())
	for i := 0; i < n; i++ {
		assert.Equal(t, uint64(2*i), s.Get(i).Offset)
	}
}

// A reader that observed Len()==N must be able to Get(i) for i<N
// without ever seeing a torn or reordered entry.
func TestRegionStoreConcurrentReads(t *testing.T) {
	s := NewRegionStore()
	const n = 50_000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			s.Append(DiffRegion{Offset: uint64(2 * i), Length: 1})
		}
		s.Close()
	}()

	for !s.Closed() {
		l := s.Len()
		for _, i := range []int{0, l / 2, l - 1} {
			if i < 0 || i >= l {
				continue
			}
			r := s.Get(i)
			assert.Equal(t, uint64(2*i), r.Offset)
			assert.Equal(t, uint64(1), r.Length)
		}
	}
	wg.Wait()
	assert.Equal(t, n, s.Len())
}

func TestRegionStoreTerminalStates(t *testing.T) {
	s := NewRegionStore()
	assert.False(t, s.Closed())
	assert.Nil(t, s.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitDone(ctx), context.DeadlineExceeded)

	s.Close()
	assert.True(t, s.Closed())
	assert.Nil(t, s.WaitDone(context.Background()))

	f := NewRegionStore()
	boom := errors.New("boom")
	f.Fail(boom)
	assert.False(t, f.Closed())
	assert.Equal(t, boom, f.Err())
	assert.Equal(t, boom, f.WaitDone(context.Background()))

	// terminal state is sticky
	f.Close()
	assert.False(t, f.Closed())
	assert.Equal(t, boom, f.Err())
}
