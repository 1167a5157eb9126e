package binmerge

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"

	"github.com/oberien/binmerge/utils"
)

type Options struct {
	Scan        ScanOptions
	CacheChunks int    // random-access chunk cache per input
	JournalDir  string // empty disables decision persistence
	Logger      utils.Logger
}

func (o *Options) SetDefaults() {
	o.Scan.SetDefaults()
	if o.CacheChunks == 0 {
		o.CacheChunks = 32
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
}

var ErrScanStarted = errors.New("binmerge: scan already started")
var ErrApplyRunning = errors.New("binmerge: an apply is already running")

// Session binds the two open inputs, the discovered regions and their
// decisions for one merge. The inputs stay open read-only for the
// whole session; only the applier writes, and only to the destination.
type Session struct {
	ID          uuid.UUID
	left, right *FileReader

	store     *RegionStore
	decisions *DecisionTracker
	scanner   *Scanner
	journal   *Journal
	log       utils.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	applying atomic.Bool
}

func NewSession(leftPath, rightPath string, opts Options) (*Session, error) {
	opts.SetDefaults()
	left, err := OpenFileReader(leftPath, opts.CacheChunks)
	if err != nil {
		return nil, err
	}
	right, err := OpenFileReader(rightPath, opts.CacheChunks)
	if err != nil {
		_ = left.Close()
		return nil, err
	}

	s := &Session{
		ID:    uuid.Must(uuid.NewV7()),
		left:  left,
		right: right,
		log:   opts.Logger,
	}
	s.store = NewRegionStore()
	s.decisions = NewDecisionTracker(s.store)
	s.scanner = NewScanner(left, right, s.store, opts.Scan, opts.Logger)

	if left.Size() != right.Size() {
		// reported, not fatal: the difference becomes one trailing region
		s.log.Warn("input sizes differ",
			"left", left.Size(),
			"right", right.Size(),
			"tail", max(left.Size(), right.Size())-min(left.Size(), right.Size()))
	}

	if opts.JournalDir != "" {
		j, err := OpenJournal(opts.JournalDir, s.fingerprint())
		if err != nil {
			_ = left.Close()
			_ = right.Close()
			return nil, err
		}
		s.journal = j
		s.decisions.journal = j
	}

	s.log.Info("session opened",
		"id", s.ID, "left", leftPath, "right", rightPath)
	return s, nil
}

// fingerprint ties a journal to this input pair.
func (s *Session) fingerprint() uint64 {
	h := xxhash.New()
	_, _ = h.Write([]byte(s.left.Path()))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(s.right.Path()))
	var sizes [17]byte
	binary.BigEndian.PutUint64(sizes[1:], uint64(s.left.Size()))
	binary.BigEndian.PutUint64(sizes[9:], uint64(s.right.Size()))
	_, _ = h.Write(sizes[:])
	return h.Sum64()
}

// StartScan launches discovery on its own goroutine. Decision changes
// and store reads proceed independently while it runs.
func (s *Session) StartScan(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrScanStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.scanner.Scan(ctx); err != nil {
			s.log.Error("scan aborted", "err", err)
			return
		}
		if s.journal == nil {
			return
		}
		n, err := s.journal.Restore(s.store, s.decisions)
		if err != nil {
			s.log.Error("journal restore failed", "err", err)
			return
		}
		if n > 0 {
			s.log.Info("decisions restored from journal", "count", n)
		}
	}()
	return nil
}

// WaitScan blocks until the scan worker is done, including the journal
// restore that follows a completed scan.
func (s *Session) WaitScan() {
	s.wg.Wait()
}

func (s *Session) Left() *FileReader  { return s.left }
func (s *Session) Right() *FileReader { return s.right }

// Regions is the growing ordered sequence of discovered regions, safe
// to read concurrently with the scan.
func (s *Session) Regions() *RegionStore {
	return s.store
}

func (s *Session) SetDecision(i int, d MergeDecision) error {
	return s.decisions.Set(i, d)
}

func (s *Session) Decision(i int) MergeDecision {
	return s.decisions.Get(i)
}

func (s *Session) Decisions() *DecisionTracker {
	return s.decisions
}

// Progress reports scan position and average throughput per input.
func (s *Session) Progress() (bytes int64, mbPerSec float64) {
	return s.scanner.BytesScanned(), s.scanner.Rate()
}

// Apply streams the merged result to dest, gated on scan completion,
// full decision coverage and the confirm gate. Single-writer: one
// apply at a time per session.
func (s *Session) Apply(ctx context.Context, dest string, confirm ConfirmFunc) error {
	if !s.applying.CompareAndSwap(false, true) {
		return ErrApplyRunning
	}
	defer s.applying.Store(false)
	return NewApplier(s.left, s.right, s.store, s.decisions, s.log).Apply(ctx, dest, confirm)
}

// Close cancels a running scan, waits for the worker and releases the
// input handles and the journal. Regions discovered so far stay valid.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	errs = append(errs, s.left.Close(), s.right.Close())
	return errors.Join(errs...)
}
