package storage

import (
	"log/slog"
	"os"
	"testing"

	"github.com/arkdb/vinyl/internal/data/compress"
	"github.com/stretchr/testify/require"
)

func TestParseRunFileNameAcceptsIndexAndRunExtensions(t *testing.T) {
	desc, ext, ok := parseRunFileName("0000000000000000.0000000000000000.3.index")
	require.True(t, ok)
	require.Equal(t, "index", ext)
	require.EqualValues(t, 3, desc.runID)

	_, _, ok = parseRunFileName("not-a-run-file.txt")
	require.False(t, ok)
}

func TestRecoverOnFreshDirectoryIsNoOp(t *testing.T) {
	dir := t.TempDir()
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx := NewLSMIndex("test/idx", kd, DefaultIndexOptions(), true, dir)
	require.NoError(t, Recover(idx, slog.Default()))
	require.NoError(t, idx.tree.VerifyCoverage())
}

func TestRecoverRebuildsSingleRangeFromOnDiskRun(t *testing.T) {
	dir := t.TempDir()
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	opts := DefaultIndexOptions()

	w, err := NewRunWriter(dir, kd, compress.NewLZ4(), opts.PageSize, opts.LSN, 0, 0)
	require.NoError(t, err)
	require.NoError(t, w.Add(&Stmt{Type: StmtReplace, Key: mustKey(t, kd, 1), Value: []byte("a"), LSN: 1}))
	require.NoError(t, w.Add(&Stmt{Type: StmtReplace, Key: mustKey(t, kd, 2), Value: []byte("b"), LSN: 2}))
	run, err := w.Close()
	require.NoError(t, err)
	run.Unref()

	idx := NewLSMIndex("test/idx", kd, opts, true, dir)
	require.NoError(t, Recover(idx, slog.Default()))
	require.NoError(t, idx.tree.VerifyCoverage())

	r := idx.tree.Find(mustKey(t, kd, 1))
	require.Equal(t, 1, r.RunCount())

	tm := NewTxnManager(10, slog.Default())
	txn := tm.Begin(TxnReadOnly)
	it := NewReadIter(idx, txn, txn.vlsn, IterEQ, mustKey(t, kd, 2), slog.Default())
	defer it.Close()
	s, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, []byte("b"), s.Value)
}

func TestRecoverIgnoresFilesFromADifferentIndexIncarnation(t *testing.T) {
	dir := t.TempDir()
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	opts := DefaultIndexOptions()

	w, err := NewRunWriter(dir, kd, compress.NewLZ4(), opts.PageSize, 999, 0, 0)
	require.NoError(t, err)
	require.NoError(t, w.Add(&Stmt{Type: StmtReplace, Key: mustKey(t, kd, 1), Value: []byte("a"), LSN: 1}))
	run, err := w.Close()
	require.NoError(t, err)
	run.Unref()

	idx := NewLSMIndex("test/idx", kd, opts, true, dir) // opts.LSN == 0, files tagged 999
	require.NoError(t, Recover(idx, slog.Default()))
	require.NoError(t, idx.tree.VerifyCoverage())
	require.Zero(t, idx.tree.Find(mustKey(t, kd, 1)).RunCount())
}

func TestGCRemovesFilesForRangesNoLongerInTheTree(t *testing.T) {
	dir := t.TempDir()
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	opts := DefaultIndexOptions()

	w, err := NewRunWriter(dir, kd, compress.NewLZ4(), opts.PageSize, opts.LSN, 7, 0)
	require.NoError(t, err)
	require.NoError(t, w.Add(&Stmt{Type: StmtReplace, Key: mustKey(t, kd, 1), Value: []byte("a"), LSN: 1}))
	run, err := w.Close()
	require.NoError(t, err)
	run.Unref()

	idx := NewLSMIndex("test/idx", kd, opts, true, dir) // range 7 is not tracked by this tree

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	require.NoError(t, GC(idx, slog.Default()))

	remaining, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, remaining)
}
