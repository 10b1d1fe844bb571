package storage

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *LSMIndex {
	t.Helper()
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	return NewLSMIndex("test/idx", kd, DefaultIndexOptions(), true, t.TempDir())
}

func TestTxnManagerBeginFixesReadOnlyViewImmediately(t *testing.T) {
	tm := NewTxnManager(5, slog.Default())
	txn := tm.Begin(TxnReadOnly)
	require.True(t, txn.vlsnFixed)
	require.EqualValues(t, 5, txn.vlsn)
}

func TestTxnManagerWriteWriteConflictAbortsTheLoserAtPrepare(t *testing.T) {
	tm := NewTxnManager(0, slog.Default())
	idx := newTestIndex(t)
	k := mustKey(t, idx.kd, 1)

	reader := tm.Begin(TxnReadWrite)
	tm.TrackRead(idx, reader, k, false)

	writer := tm.Begin(TxnReadWrite)
	tm.SetWrite(idx, writer, &Stmt{Type: StmtReplace, Key: k, Value: []byte("v"), LSN: 0})
	require.NoError(t, tm.Prepare(writer))

	require.True(t, reader.isAborted)
	require.Error(t, tm.Prepare(reader))
}

func TestTxnManagerGapReadNotAbortedByDelete(t *testing.T) {
	tm := NewTxnManager(0, slog.Default())
	idx := newTestIndex(t)
	k := mustKey(t, idx.kd, 1)

	reader := tm.Begin(TxnReadWrite)
	tm.TrackRead(idx, reader, k, true)

	writer := tm.Begin(TxnReadWrite)
	tm.SetWrite(idx, writer, &Stmt{Type: StmtDelete, Key: k, LSN: 0})
	require.NoError(t, tm.Prepare(writer))

	require.False(t, reader.isAborted)
}

func TestTxnManagerSetWriteMergesConsecutiveUpsertsIntoOneWrite(t *testing.T) {
	tm := NewTxnManager(0, slog.Default())
	idx := newTestIndex(t)
	k := mustKey(t, idx.kd, 1)

	txn := tm.Begin(TxnReadWrite)
	tm.SetWrite(idx, txn, &Stmt{Type: StmtUpsert, Key: k, Ops: []UpsertOp{{FieldIndex: 1, Kind: OpAdd, Arg: 1}}})
	tm.SetWrite(idx, txn, &Stmt{Type: StmtUpsert, Key: k, Ops: []UpsertOp{{FieldIndex: 1, Kind: OpAdd, Arg: 2}}})

	ws := txn.writeSet()
	require.Len(t, ws, 1)
	require.Equal(t, StmtUpsert, ws[0].stmt.Type)
	require.Len(t, ws[0].stmt.Ops, 1)
	require.EqualValues(t, 3, ws[0].stmt.Ops[0].Arg)
}

func TestTxnManagerRollbackToSavepointUndoesLaterWrites(t *testing.T) {
	tm := NewTxnManager(0, slog.Default())
	idx := newTestIndex(t)
	k1 := mustKey(t, idx.kd, 1)
	k2 := mustKey(t, idx.kd, 2)

	txn := tm.Begin(TxnReadWrite)
	tm.SetWrite(idx, txn, &Stmt{Type: StmtReplace, Key: k1, Value: []byte("a")})
	sp := tm.Savepoint(txn)
	tm.SetWrite(idx, txn, &Stmt{Type: StmtReplace, Key: k2, Value: []byte("b")})
	require.Len(t, txn.writeSet(), 2)

	tm.RollbackToSavepoint(txn, sp)
	require.Len(t, txn.writeSet(), 1)
	require.Zero(t, compareKeys(idx.kd, k1, txn.writeSet()[0].stmt.Key))
}

func TestTxnManagerCommitAppliesWritesIntoIndex(t *testing.T) {
	tm := NewTxnManager(0, slog.Default())
	idx := newTestIndex(t)
	k := mustKey(t, idx.kd, 1)

	txn := tm.Begin(TxnReadWrite)
	tm.SetWrite(idx, txn, &Stmt{Type: StmtReplace, Key: k, Value: []byte("v")})
	require.NoError(t, tm.Prepare(txn))
	require.NoError(t, tm.Commit(txn, 1))

	r := idx.tree.Find(k)
	require.Equal(t, 1, r.ActiveMem().Count())
}
