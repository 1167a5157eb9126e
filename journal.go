package binmerge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/oberien/binmerge/binmerge_errors"
)

var ErrJournalClosed = errors.New("binmerge: journal is closed")

// Journal persists merge decisions across runs. Recovering a
// multi-terabyte pair rarely fits one sitting, so decisions are
// written through to a pebble database keyed by (offset,length) and
// loaded back once a later scan of the same pair completes.
//
// Key space: 'F' -> input-pair fingerprint, 'D' ++ offset ++ length ->
// one decision byte.
type Journal struct {
	db     *pebble.DB
	closed atomic.Bool
}

var keyFingerprint = []byte{'F'}

func decisionKey(r DiffRegion) []byte {
	key := make([]byte, 0, 17)
	key = append(key, 'D')
	key = binary.BigEndian.AppendUint64(key, r.Offset)
	key = binary.BigEndian.AppendUint64(key, r.Length)
	return key
}

// OpenJournal opens (or creates) the journal at dir. fp identifies the
// input pair; a journal recorded for a different pair is refused
// rather than silently applied.
func OpenJournal(dir string, fp uint64) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	want := binary.BigEndian.AppendUint64(nil, fp)
	have, closer, err := db.Get(keyFingerprint)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		if err := db.Set(keyFingerprint, want, pebble.Sync); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: %w", err)
		}
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("journal: %w", err)
	default:
		match := string(have) == string(want)
		_ = closer.Close()
		if !match {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %s", binmerge_errors.ErrJournalMismatch, dir)
		}
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Put(r DiffRegion, d MergeDecision) error {
	if j.closed.Load() {
		return ErrJournalClosed
	}
	if d == Unresolved {
		return j.db.Delete(decisionKey(r), pebble.Sync)
	}
	return j.db.Set(decisionKey(r), []byte{byte(d)}, pebble.Sync)
}

// Restore feeds journaled decisions into the tracker for every region
// the store holds. Call once the scan is complete; a region that no
// longer exists in the store keeps its journal entry but is ignored.
func (j *Journal) Restore(store *RegionStore, t *DecisionTracker) (int, error) {
	if j.closed.Load() {
		return 0, ErrJournalClosed
	}
	restored := 0
	for i, n := 0, store.Len(); i < n; i++ {
		val, closer, err := j.db.Get(decisionKey(store.Get(i)))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return restored, fmt.Errorf("journal: %w", err)
		}
		if len(val) == 1 && MergeDecision(val[0]) <= KeepAsIs {
			t.restore(i, MergeDecision(val[0]))
			restored++
		}
		_ = closer.Close()
	}
	return restored, nil
}

func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	return j.db.Close()
}
