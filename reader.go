package binmerge

import (
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/oberien/binmerge/binmerge_errors"
)

// Cache granularity for random-access reads (the hexdump views). The
// scan path reads sequentially and bypasses the cache entirely.
const readerChunkLen = 1 << 20

// FileReader is a strictly read-only random-access view over one input
// file. It never holds more than the LRU chunk cache in memory, so
// multi-terabyte inputs are fine.
type FileReader struct {
	f     *os.File
	path  string
	size  int64
	cache *lru.Cache[int64, []byte]
}

func OpenFileReader(path string, cacheChunks int) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", binmerge_errors.ErrOpen, path, err)
	}
	// Stat reports size 0 for block devices, seek to the end instead.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %s", binmerge_errors.ErrOpen, path, err)
	}
	cache, err := lru.New[int64, []byte](cacheChunks)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %s", binmerge_errors.ErrOpen, path, err)
	}
	return &FileReader{f: f, path: path, size: size, cache: cache}, nil
}

func (r *FileReader) Path() string {
	return r.path
}

func (r *FileReader) Size() int64 {
	return r.size
}

// ReadAt fills p from the given offset. Offsets past the end yield a
// short read; any other failure is a ReadError of this session, never
// retried (the underlying storage may itself be the failing part).
func (r *FileReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	if max := r.size - off; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := r.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: %s at %#x: %s", binmerge_errors.ErrRead, r.path, off, err)
	}
	return n, nil
}

// ReadCached returns up to n bytes at off, clipped to the file size,
// served from the chunk cache. Meant for viewer-style random access.
func (r *FileReader) ReadCached(off int64, n int) ([]byte, error) {
	if off < 0 || off >= r.size {
		return nil, nil
	}
	if max := r.size - off; int64(n) > max {
		n = int(max)
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		pos := off + int64(len(out))
		chunk, err := r.chunk(pos / readerChunkLen)
		if err != nil {
			return nil, err
		}
		in := pos % readerChunkLen
		take := len(chunk) - int(in)
		if rem := n - len(out); take > rem {
			take = rem
		}
		if take <= 0 {
			break
		}
		out = append(out, chunk[in:in+int64(take)]...)
	}
	return out, nil
}

func (r *FileReader) chunk(idx int64) ([]byte, error) {
	if c, ok := r.cache.Get(idx); ok {
		return c, nil
	}
	off := idx * readerChunkLen
	size := int64(readerChunkLen)
	if max := r.size - off; size > max {
		size = max
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r.f, off, size), buf); err != nil {
		return nil, fmt.Errorf("%w: %s at %#x: %s", binmerge_errors.ErrRead, r.path, off, err)
	}
	r.cache.Add(idx, buf)
	return buf, nil
}

func (r *FileReader) Close() error {
	r.cache.Purge()
	return r.f.Close()
}
