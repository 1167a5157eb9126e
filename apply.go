package binmerge

import (
	"context"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash"

	"github.com/oberien/binmerge/binmerge_errors"
	"github.com/oberien/binmerge/utils"
)

const applyBufLen = 8 << 20

// ConfirmFunc is the proceed/cancel gate consulted before the first
// destination byte is written. How it is presented to the operator is
// the collaborator's business; the applier only needs the outcome.
type ConfirmFunc func() bool

// Applier streams both inputs plus the decision table into a fresh
// destination file. It never writes to either input. The destination
// is written under a ".partial" suffix and promoted by rename only
// once every byte landed, so a failed apply leaves no file that could
// pass for a finished merge.
type Applier struct {
	left, right *FileReader
	store       *RegionStore
	decisions   *DecisionTracker
	log         utils.Logger
}

func NewApplier(left, right *FileReader, store *RegionStore, decisions *DecisionTracker, log utils.Logger) *Applier {
	return &Applier{left: left, right: right, store: store, decisions: decisions, log: log}
}

func (a *Applier) Apply(ctx context.Context, dest string, confirm ConfirmFunc) error {
	// Applying against a still-growing (or aborted) store would
	// silently miss trailing differences.
	if err := a.store.Err(); err != nil {
		return fmt.Errorf("%w: scan aborted: %s", binmerge_errors.ErrScanIncomplete, err)
	}
	if !a.store.Closed() {
		return fmt.Errorf("%w: %d regions so far", binmerge_errors.ErrScanIncomplete, a.store.Len())
	}
	if i, ok := a.decisions.FirstUnresolved(); ok {
		return fmt.Errorf("%w: region %d %s", binmerge_errors.ErrUnresolvedDiff, i, a.store.Get(i))
	}
	if confirm == nil || !confirm() {
		return binmerge_errors.ErrApplyCanceled
	}

	start := time.Now()
	total := max(a.left.Size(), a.right.Size())
	part := dest + ".partial"

	// The destination opens now, at apply time, not at session start.
	// If another process swaps the path between an earlier check and
	// this open we write somewhere unintended. Known limitation,
	// there is no easy portable fix.
	f, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", binmerge_errors.ErrApply, part, err)
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(part)
		return fmt.Errorf("%w: %s", binmerge_errors.ErrApply, err)
	}

	digest := xxhash.New()
	buf := make([]byte, applyBufLen)
	var written int64
	pos := int64(0)
	count := a.store.Len()
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		r := a.store.Get(i)
		// bytes outside any region are equal in both inputs
		if err := a.copyRange(f, digest, a.left, pos, int64(r.Offset)-pos, buf, &written); err != nil {
			return fail(err)
		}
		d := a.decisions.Get(i)
		src := a.left // TakeLeft and KeepAsIs both keep the left bytes
		if d == TakeRight {
			src = a.right
		}
		if err := a.copyRange(f, digest, src, int64(r.Offset), int64(r.Length), buf, &written); err != nil {
			return fail(err)
		}
		pos = int64(r.End())
		a.log.Debug("merged region", "index", i+1, "of", count, "decision", d.String())
	}
	if err := a.copyRange(f, digest, a.left, pos, total-pos, buf, &written); err != nil {
		return fail(err)
	}

	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("%w: %s", binmerge_errors.ErrApply, err)
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("%w: %s", binmerge_errors.ErrApply, err)
	}

	elapsed := time.Since(start)
	ApplyDuration.Observe(elapsed.Seconds())
	a.log.Info("apply committed",
		"dest", dest,
		"bytes", written,
		"regions", count,
		"elapsed", elapsed,
		"xxhash", fmt.Sprintf("%016x", digest.Sum64()))
	return nil
}

// copyRange streams length bytes of src starting at off into the
// destination, clipped to src's size: a chosen side shorter than the
// range contributes only the bytes it has. That only happens for the
// trailing region of an unequal-length pair.
func (a *Applier) copyRange(w io.Writer, digest hash.Hash64, src *FileReader, off, length int64, buf []byte, written *int64) error {
	if length <= 0 || off >= src.Size() {
		return nil
	}
	if rem := src.Size() - off; length > rem {
		length = rem
	}
	for length > 0 {
		chunk := buf
		if int64(len(chunk)) > length {
			chunk = chunk[:length]
		}
		n, err := src.ReadAt(chunk, off)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s at %#x: short read", binmerge_errors.ErrRead, src.path, off)
		}
		if _, err := w.Write(chunk[:n]); err != nil {
			return err
		}
		_, _ = digest.Write(chunk[:n])
		ApplyBytes.Add(float64(n))
		*written += int64(n)
		off += int64(n)
		length -= int64(n)
	}
	return nil
}
