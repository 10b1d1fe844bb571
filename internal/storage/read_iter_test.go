package storage

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadIterSurfacesReplaceSkipsDeleteAndSquashesUpsert(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx := NewLSMIndex("test/idx", kd, DefaultIndexOptions(), true, t.TempDir())

	kLive := mustKey(t, kd, 1)
	kDead := mustKey(t, kd, 2)
	kUpserted := mustKey(t, kd, 3)

	r := idx.tree.FindForWrite(kLive)
	r.Set(&Stmt{Type: StmtReplace, Key: kLive, Value: []byte("v1"), LSN: 1}, nil)
	r.Set(&Stmt{Type: StmtReplace, Key: kDead, Value: []byte("v2"), LSN: 1}, nil)
	r.Set(&Stmt{Type: StmtDelete, Key: kDead, LSN: 2}, nil)
	r.Set(&Stmt{Type: StmtReplace, Key: kUpserted, Value: append(field(0), field(10)...), LSN: 1}, nil)
	r.Set(&Stmt{Type: StmtUpsert, Key: kUpserted, Ops: []UpsertOp{{FieldIndex: 1, Kind: OpAdd, Arg: 5}}, LSN: 2}, nil)

	tm := NewTxnManager(10, slog.Default())
	txn := tm.Begin(TxnReadOnly)

	it := NewReadIter(idx, txn, txn.vlsn, IterGE, nil, slog.Default())
	defer it.Close()

	var got []*Stmt
	for {
		s, err := it.Next()
		require.NoError(t, err)
		if s == nil {
			break
		}
		got = append(got, s)
	}

	require.Len(t, got, 2)
	require.Zero(t, compareKeys(kd, got[0].Key, kLive))
	require.Equal(t, []byte("v1"), got[0].Value)
	require.Zero(t, compareKeys(kd, got[1].Key, kUpserted))
	require.Equal(t, StmtReplace, got[1].Type)
	require.EqualValues(t, 15, fieldAt(got[1].Value, 1))
}

func TestReadIterEQStopsAfterTargetKey(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx := NewLSMIndex("test/idx", kd, DefaultIndexOptions(), true, t.TempDir())

	k1 := mustKey(t, kd, 1)
	k2 := mustKey(t, kd, 2)
	r := idx.tree.FindForWrite(k1)
	r.Set(&Stmt{Type: StmtReplace, Key: k1, Value: []byte("a"), LSN: 1}, nil)
	r.Set(&Stmt{Type: StmtReplace, Key: k2, Value: []byte("b"), LSN: 1}, nil)

	tm := NewTxnManager(10, slog.Default())
	txn := tm.Begin(TxnReadOnly)

	it := NewReadIter(idx, txn, txn.vlsn, IterEQ, k1, slog.Default())
	defer it.Close()

	first, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, []byte("a"), first.Value)

	second, err := it.Next()
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestReadIterVLSNHidesStatementsNewerThanReadView(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx := NewLSMIndex("test/idx", kd, DefaultIndexOptions(), true, t.TempDir())

	k := mustKey(t, kd, 1)
	r := idx.tree.FindForWrite(k)
	r.Set(&Stmt{Type: StmtReplace, Key: k, Value: []byte("old"), LSN: 1}, nil)

	tm := NewTxnManager(1, slog.Default())
	txn := tm.Begin(TxnReadOnly)

	r.Set(&Stmt{Type: StmtReplace, Key: k, Value: []byte("new"), LSN: 5}, nil)

	it := NewReadIter(idx, txn, txn.vlsn, IterEQ, k, slog.Default())
	defer it.Close()

	s, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, []byte("old"), s.Value)
}
