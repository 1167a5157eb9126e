package binmerge

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oberien/binmerge/binmerge_errors"
	"github.com/oberien/binmerge/utils"
)

// Defaults tuned for ~1 GB/s per input: blocks large enough to
// amortize per-read overhead, queue shallow enough that peak memory
// stays bounded no matter how large the inputs are.
const (
	defaultBlockSize     = 8 << 20
	defaultPrefetchDepth = 4
)

type ScanOptions struct {
	BlockSize     int
	PrefetchDepth int
}

func (o *ScanOptions) SetDefaults() {
	if o.BlockSize == 0 {
		o.BlockSize = defaultBlockSize
	}
	if o.PrefetchDepth == 0 {
		o.PrefetchDepth = defaultPrefetchDepth
	}
}

// Scanner walks the two inputs in lock-step over fixed-size blocks and
// appends every differing byte range to the store, in offset order. A
// region closes at the first matching byte after it, so differences
// spanning adjacent blocks come out as one region.
type Scanner struct {
	left, right *FileReader
	store       *RegionStore
	opts        ScanOptions
	log         utils.Logger

	bytesDone atomic.Int64
	rate      utils.AvgVal // MB/s, one sample per block pair
}

func NewScanner(left, right *FileReader, store *RegionStore, opts ScanOptions, log utils.Logger) *Scanner {
	opts.SetDefaults()
	return &Scanner{left: left, right: right, store: store, opts: opts, log: log}
}

// BytesScanned reports lock-step progress in bytes per input.
func (sc *Scanner) BytesScanned() int64 {
	return sc.bytesDone.Load()
}

// Rate is the average scan throughput in MB/s per input.
func (sc *Scanner) Rate() float64 {
	return sc.rate.Val()
}

type scanBlock struct {
	data []byte
	err  error
}

// prefetch reads [0,limit) of f sequentially, one block per message.
// A read failure is delivered in-band and ends the stream; there is no
// retry, failing storage is the scenario this tool exists for.
func (sc *Scanner) prefetch(ctx context.Context, f *FileReader, limit int64) <-chan scanBlock {
	out := make(chan scanBlock, sc.opts.PrefetchDepth)
	go func() {
		defer close(out)
		for pos := int64(0); pos < limit; {
			size := int64(sc.opts.BlockSize)
			if rem := limit - pos; size > rem {
				size = rem
			}
			buf := make([]byte, size)
			n, err := f.ReadAt(buf, pos)
			if err == nil && int64(n) < size {
				err = fmt.Errorf("%w: %s at %#x: short read", binmerge_errors.ErrRead, f.path, pos)
			}
			select {
			case out <- scanBlock{data: buf[:n], err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
			pos += size
		}
	}()
	return out
}

// Scan runs discovery to completion. On success the store is closed;
// on a read failure the store is failed with that error. Cancellation
// stops appends and leaves the store valid but not closed.
func (sc *Scanner) Scan(ctx context.Context) error {
	start := time.Now()
	shared := min(sc.left.Size(), sc.right.Size())
	total := max(sc.left.Size(), sc.right.Size())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lblocks := sc.prefetch(ctx, sc.left, shared)
	rblocks := sc.prefetch(ctx, sc.right, shared)

	pos := int64(0)
	diffStart := int64(-1)
	flush := func(end int64) {
		if diffStart >= 0 {
			sc.append(DiffRegion{Offset: uint64(diffStart), Length: uint64(end - diffStart)})
			diffStart = -1
		}
	}

	for pos < shared {
		blockStart := time.Now() // wall clock, I/O wait included
		lb, err := sc.nextBlock(ctx, lblocks, sc.left)
		if err != nil {
			return err
		}
		rb, err := sc.nextBlock(ctx, rblocks, sc.right)
		if err != nil {
			return err
		}

		a, b := lb, rb // equal lengths, both streams read [0,shared)
		if diffStart < 0 && bytes.Equal(a, b) {
			pos += int64(len(a))
		} else {
			for i := range a {
				if a[i] == b[i] {
					flush(pos + int64(i))
				} else if diffStart < 0 {
					diffStart = pos + int64(i)
				}
			}
			pos += int64(len(a))
		}

		sc.bytesDone.Store(pos)
		ScanBytes.Add(float64(len(a)))
		if el := time.Since(blockStart).Seconds(); el > 0 {
			sc.rate.Add(float64(len(a)) / float64(1<<20) / el)
		}
	}

	// The shorter input's missing tail counts as always-differing
	// against the longer one's tail: exactly one region ending at the
	// larger size, coalesced with a pending region touching it.
	if total > shared {
		if diffStart < 0 {
			diffStart = shared
		}
		flush(total)
	} else {
		flush(shared)
	}
	sc.bytesDone.Store(total)

	sc.store.Close()
	elapsed := time.Since(start)
	ScanDuration.Observe(elapsed.Seconds())
	sc.log.Info("scan complete",
		"regions", sc.store.Len(),
		"bytes", shared,
		"elapsed", elapsed,
		"avg_mb_per_s", sc.rate.Val())
	return nil
}

func (sc *Scanner) nextBlock(ctx context.Context, blocks <-chan scanBlock, f *FileReader) ([]byte, error) {
	var blk scanBlock
	select {
	case blk = <-blocks:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if blk.err != nil {
		sc.store.Fail(blk.err)
		return nil, blk.err
	}
	if len(blk.data) == 0 {
		// the stream only ends early when the prefetcher was canceled
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := fmt.Errorf("%w: %s: block stream ended early", binmerge_errors.ErrRead, f.path)
		sc.store.Fail(err)
		return nil, err
	}
	return blk.data, nil
}

func (sc *Scanner) append(r DiffRegion) {
	sc.store.Append(r)
	ScanRegions.Inc()
	sc.log.Debug("diff region", "index", sc.store.Len()-1, "offset", r.Offset, "length", r.Length)
}
