package binmerge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oberien/binmerge/binmerge_errors"
)

func newTestSession(t *testing.T, a, b []byte, opts Options) *Session {
	t.Helper()
	opts.Scan.BlockSize = 16
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	sess, err := NewSession(writeInput(t, "left", a), writeInput(t, "right", b), opts)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	require.NoError(t, sess.StartScan(context.Background()))
	sess.WaitScan()
	require.True(t, sess.Regions().Closed())
	return sess
}

func proceed() bool { return true }

func decideAll(t *testing.T, sess *Session, d MergeDecision) {
	t.Helper()
	for i := 0; i < sess.Regions().Len(); i++ {
		require.NoError(t, sess.SetDecision(i, d))
	}
}

func fixturePair() (a, b []byte) {
	a = bytes.Repeat([]byte{0x11}, 100)
	b = bytes.Clone(a)
	b[5] ^= 1
	for i := 14; i < 19; i++ {
		b[i] ^= 1
	}
	b[70] ^= 1
	return a, b
}

func TestApplyAllTakeLeftReproducesLeft(t *testing.T) {
	a, b := fixturePair()
	sess := newTestSession(t, a, b, Options{})
	require.Equal(t, 3, sess.Regions().Len())
	decideAll(t, sess, TakeLeft)

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, sess.Apply(context.Background(), dest, proceed))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	_, err = os.Stat(dest + ".partial")
	assert.True(t, os.IsNotExist(err))
}

func TestApplyAllTakeRightReproducesRight(t *testing.T) {
	a, b := fixturePair()
	sess := newTestSession(t, a, b, Options{})
	decideAll(t, sess, TakeRight)

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, sess.Apply(context.Background(), dest, proceed))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestApplyMixedDecisions(t *testing.T) {
	a, b := fixturePair()
	sess := newTestSession(t, a, b, Options{})
	require.NoError(t, sess.SetDecision(0, TakeRight))
	require.NoError(t, sess.SetDecision(1, TakeLeft))
	require.NoError(t, sess.SetDecision(2, KeepAsIs))

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, sess.Apply(context.Background(), dest, proceed))

	want := bytes.Clone(a)
	copy(want[5:6], b[5:6]) // region 0 taken from the right file
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestApplyUnresolvedFails(t *testing.T) {
	a, b := fixturePair()
	sess := newTestSession(t, a, b, Options{})
	require.NoError(t, sess.SetDecision(0, TakeLeft)) // 1 and 2 undecided

	dest := filepath.Join(t.TempDir(), "out")
	err := sess.Apply(context.Background(), dest, proceed)
	assert.ErrorIs(t, err, binmerge_errors.ErrUnresolvedDiff)

	_, serr := os.Stat(dest)
	assert.True(t, os.IsNotExist(serr))
	_, serr = os.Stat(dest + ".partial")
	assert.True(t, os.IsNotExist(serr))
}

func TestApplyBeforeScanCompleteFails(t *testing.T) {
	a, b := fixturePair()
	sess, err := NewSession(writeInput(t, "left", a), writeInput(t, "right", b), Options{
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer sess.Close()

	dest := filepath.Join(t.TempDir(), "out")
	err = sess.Apply(context.Background(), dest, proceed)
	assert.ErrorIs(t, err, binmerge_errors.ErrScanIncomplete)
	_, serr := os.Stat(dest)
	assert.True(t, os.IsNotExist(serr))
}

func TestApplyConfirmGate(t *testing.T) {
	a, b := fixturePair()
	sess := newTestSession(t, a, b, Options{})
	decideAll(t, sess, TakeLeft)

	dest := filepath.Join(t.TempDir(), "out")
	err := sess.Apply(context.Background(), dest, func() bool { return false })
	assert.ErrorIs(t, err, binmerge_errors.ErrApplyCanceled)

	// no gate at all counts as declined
	err = sess.Apply(context.Background(), dest, nil)
	assert.ErrorIs(t, err, binmerge_errors.ErrApplyCanceled)

	_, serr := os.Stat(dest)
	assert.True(t, os.IsNotExist(serr))
}

func TestApplyUnequalLengthTail(t *testing.T) {
	a := bytes.Repeat([]byte{0x11}, 64)
	b := append(bytes.Clone(a), bytes.Repeat([]byte{0x33}, 20)...)

	sess := newTestSession(t, a, b, Options{})
	require.Equal(t, 1, sess.Regions().Len())

	// taking the right side materializes the longer tail
	require.NoError(t, sess.SetDecision(0, TakeRight))
	dest := filepath.Join(t.TempDir(), "out-right")
	require.NoError(t, sess.Apply(context.Background(), dest, proceed))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	// taking the left side contributes nothing for the tail
	sess2 := newTestSession(t, a, b, Options{})
	require.NoError(t, sess2.SetDecision(0, TakeLeft))
	dest2 := filepath.Join(t.TempDir(), "out-left")
	require.NoError(t, sess2.Apply(context.Background(), dest2, proceed))
	got, err = os.ReadFile(dest2)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestApplyDestinationUnwritable(t *testing.T) {
	a, b := fixturePair()
	sess := newTestSession(t, a, b, Options{})
	decideAll(t, sess, TakeLeft)

	dest := filepath.Join(t.TempDir(), "no", "such", "dir", "out")
	err := sess.Apply(context.Background(), dest, proceed)
	assert.ErrorIs(t, err, binmerge_errors.ErrApply)
}

func TestSessionJournalPersistsDecisions(t *testing.T) {
	a, b := fixturePair()
	left := writeInput(t, "left", a)
	right := writeInput(t, "right", b)
	journal := filepath.Join(t.TempDir(), "journal")

	opts := Options{
		Scan:       ScanOptions{BlockSize: 16},
		JournalDir: journal,
		Logger:     quietLogger(),
	}

	sess, err := NewSession(left, right, opts)
	require.NoError(t, err)
	require.NoError(t, sess.StartScan(context.Background()))
	sess.WaitScan()
	require.NoError(t, sess.SetDecision(0, TakeRight))
	require.NoError(t, sess.SetDecision(2, KeepAsIs))
	require.NoError(t, sess.Close())

	sess, err = NewSession(left, right, opts)
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.StartScan(context.Background()))
	sess.WaitScan()

	assert.Equal(t, TakeRight, sess.Decision(0))
	assert.Equal(t, Unresolved, sess.Decision(1))
	assert.Equal(t, KeepAsIs, sess.Decision(2))
}

func TestSessionStartScanOnce(t *testing.T) {
	a, b := fixturePair()
	sess := newTestSession(t, a, b, Options{})
	assert.ErrorIs(t, sess.StartScan(context.Background()), ErrScanStarted)
}
