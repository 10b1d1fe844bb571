package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func rangeWithMinLSN(t *testing.T, id uint64, lsn uint64) *Range {
	t.Helper()
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	r := NewRange(id, nil, nil, kd)
	r.Set(&Stmt{Type: StmtReplace, Key: mustKey(t, kd, 1), Value: []byte("v"), LSN: lsn}, nil)
	return r
}

func TestSchedulerHeapsPeekDumpReturnsOldestMinLSN(t *testing.T) {
	h := newSchedulerHeaps()
	a := rangeWithMinLSN(t, 1, 10)
	b := rangeWithMinLSN(t, 2, 3)
	c := rangeWithMinLSN(t, 3, 7)

	h.Track(a)
	h.Track(b)
	h.Track(c)

	require.Same(t, b, h.PeekDump())
}

func TestSchedulerHeapsFixDumpReordersAfterMinLSNChange(t *testing.T) {
	h := newSchedulerHeaps()
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	a := rangeWithMinLSN(t, 1, 10)
	b := rangeWithMinLSN(t, 2, 3)
	h.Track(a)
	h.Track(b)
	require.Same(t, b, h.PeekDump())

	// insertLocked only ever lowers min_lsn, so drive a below b's by
	// inserting a strictly older write into a.
	a.Set(&Stmt{Type: StmtReplace, Key: mustKey(t, kd, 2), Value: []byte("v"), LSN: 1}, nil)
	h.FixDump(a)
	require.Same(t, a, h.PeekDump())
}

func TestSchedulerHeapsPeekCompactReturnsMostRuns(t *testing.T) {
	h := newSchedulerHeaps()
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	few := NewRange(1, nil, nil, kd)
	many := NewRange(2, nil, nil, kd)
	many.runs = []*Run{{}, {}, {}}

	h.Track(few)
	h.Track(many)
	require.Same(t, many, h.PeekCompact())
}

func TestSchedulerHeapsUntrackRemovesFromBothHeaps(t *testing.T) {
	h := newSchedulerHeaps()
	a := rangeWithMinLSN(t, 1, 1)
	h.Track(a)
	require.Same(t, a, h.PeekDump())

	h.Untrack(a)
	require.Nil(t, h.PeekDump())
	require.Nil(t, h.PeekCompact())
	require.Equal(t, -1, a.dumpHeapIdx)
	require.Equal(t, -1, a.compactHeapIdx)
}
