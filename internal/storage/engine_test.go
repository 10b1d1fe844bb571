package storage

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	e := NewEngine(cfg, slog.Default())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngineReplaceCommitGetRoundTrips(t *testing.T) {
	e := newTestEngine(t)
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx, err := e.CreateIndex("space", "primary", kd, DefaultIndexOptions(), true)
	require.NoError(t, err)

	k := mustKey(t, kd, 1)
	txn, err := e.Begin(TxnReadWrite)
	require.NoError(t, err)
	require.NoError(t, e.Replace(txn, idx, k, []byte("hello")))
	require.NoError(t, e.Prepare(txn))
	require.NoError(t, e.Commit(txn, 1))

	readTxn, err := e.Begin(TxnReadOnly)
	require.NoError(t, err)
	s, err := e.Get(readTxn, idx, k)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), s.Value)
}

func TestEngineGetOnMissingKeyReturnsTupleNotFound(t *testing.T) {
	e := newTestEngine(t)
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx, err := e.CreateIndex("space", "primary", kd, DefaultIndexOptions(), true)
	require.NoError(t, err)

	txn, err := e.Begin(TxnReadOnly)
	require.NoError(t, err)
	_, err = e.Get(txn, idx, mustKey(t, kd, 404))
	require.True(t, errors.Is(err, ErrTupleNotFound))
}

func TestEngineDeleteKeyRemovesVisibleTuple(t *testing.T) {
	e := newTestEngine(t)
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx, err := e.CreateIndex("space", "primary", kd, DefaultIndexOptions(), true)
	require.NoError(t, err)
	k := mustKey(t, kd, 1)

	txn, err := e.Begin(TxnReadWrite)
	require.NoError(t, err)
	require.NoError(t, e.Replace(txn, idx, k, []byte("v")))
	require.NoError(t, e.Prepare(txn))
	require.NoError(t, e.Commit(txn, 1))

	del, err := e.Begin(TxnReadWrite)
	require.NoError(t, err)
	require.NoError(t, e.DeleteKey(del, idx, k))
	require.NoError(t, e.Prepare(del))
	require.NoError(t, e.Commit(del, 2))

	readTxn, err := e.Begin(TxnReadOnly)
	require.NoError(t, err)
	_, err = e.Get(readTxn, idx, k)
	require.True(t, errors.Is(err, ErrTupleNotFound))
}

func TestEngineUpsertRejectsPrimaryKeyFieldOnUniqueIndex(t *testing.T) {
	e := newTestEngine(t)
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx, err := e.CreateIndex("space", "primary", kd, DefaultIndexOptions(), true)
	require.NoError(t, err)

	txn, err := e.Begin(TxnReadWrite)
	require.NoError(t, err)
	err = e.Upsert(txn, idx, mustKey(t, kd, 1), nil, []UpsertOp{{FieldIndex: 0, Kind: OpSet, Arg: 9}})
	require.ErrorIs(t, err, ErrCantUpdatePrimaryKey)
}

func TestEngineUpsertAppliesOpsOverExistingReplace(t *testing.T) {
	e := newTestEngine(t)
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx, err := e.CreateIndex("space", "primary", kd, DefaultIndexOptions(), true)
	require.NoError(t, err)
	k := mustKey(t, kd, 1)

	txn, err := e.Begin(TxnReadWrite)
	require.NoError(t, err)
	require.NoError(t, e.Replace(txn, idx, k, append(field(0), field(10)...)))
	require.NoError(t, e.Prepare(txn))
	require.NoError(t, e.Commit(txn, 1))

	up, err := e.Begin(TxnReadWrite)
	require.NoError(t, err)
	require.NoError(t, e.Upsert(up, idx, k, nil, []UpsertOp{{FieldIndex: 1, Kind: OpAdd, Arg: 5}}))
	require.NoError(t, e.Prepare(up))
	require.NoError(t, e.Commit(up, 2))

	readTxn, err := e.Begin(TxnReadOnly)
	require.NoError(t, err)
	s, err := e.Get(readTxn, idx, k)
	require.NoError(t, err)
	require.EqualValues(t, 15, fieldAt(s.Value, 1))
}

func TestEngineGetOnNonUniqueIndexWithPartialKeyErrors(t *testing.T) {
	e := newTestEngine(t)
	kd := NewKeyDef(
		KeyPart{FieldIndex: 1, Type: FieldUnsigned},
		KeyPart{FieldIndex: 0, Type: FieldUnsigned},
	)
	idx, err := e.CreateIndex("space", "secondary", kd, DefaultIndexOptions(), false)
	require.NoError(t, err)

	partial, err := NewKey(kd, uint64(1))
	require.NoError(t, err)

	txn, err := e.Begin(TxnReadOnly)
	require.NoError(t, err)
	_, err = e.Get(txn, idx, partial)
	require.ErrorIs(t, err, ErrMoreThanOneTuple)
}

func TestEngineRollbackDiscardsUncommittedWrites(t *testing.T) {
	e := newTestEngine(t)
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx, err := e.CreateIndex("space", "primary", kd, DefaultIndexOptions(), true)
	require.NoError(t, err)
	k := mustKey(t, kd, 1)

	txn, err := e.Begin(TxnReadWrite)
	require.NoError(t, err)
	require.NoError(t, e.Replace(txn, idx, k, []byte("v")))
	e.Rollback(txn)

	readTxn, err := e.Begin(TxnReadOnly)
	require.NoError(t, err)
	_, err = e.Get(readTxn, idx, k)
	require.True(t, errors.Is(err, ErrTupleNotFound))
}

func TestEngineRollbackToSavepointKeepsEarlierWrites(t *testing.T) {
	e := newTestEngine(t)
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx, err := e.CreateIndex("space", "primary", kd, DefaultIndexOptions(), true)
	require.NoError(t, err)
	k1 := mustKey(t, kd, 1)
	k2 := mustKey(t, kd, 2)

	txn, err := e.Begin(TxnReadWrite)
	require.NoError(t, err)
	require.NoError(t, e.Replace(txn, idx, k1, []byte("a")))
	sp := e.Savepoint(txn)
	require.NoError(t, e.Replace(txn, idx, k2, []byte("b")))
	e.RollbackToSavepoint(txn, sp)
	require.NoError(t, e.Prepare(txn))
	require.NoError(t, e.Commit(txn, 1))

	readTxn, err := e.Begin(TxnReadOnly)
	require.NoError(t, err)
	_, err = e.Get(readTxn, idx, k1)
	require.NoError(t, err)
	_, err = e.Get(readTxn, idx, k2)
	require.True(t, errors.Is(err, ErrTupleNotFound))
}

func TestEngineStatsReportsQuotaAndIndexCounts(t *testing.T) {
	e := newTestEngine(t)
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	_, err := e.CreateIndex("space", "primary", kd, DefaultIndexOptions(), true)
	require.NoError(t, err)

	stats, ok := e.Stats("space", "primary")
	require.True(t, ok)
	require.Equal(t, 1, stats.RangeCount)
	require.GreaterOrEqual(t, stats.QuotaLimit, int64(0))
}
