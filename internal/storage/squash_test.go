package storage

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSquashUpsertChainCollapsesChainIntoReplace(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx := NewLSMIndex("test/idx", kd, DefaultIndexOptions(), true, t.TempDir())
	k := mustKey(t, kd, 1)

	r := idx.tree.FindForWrite(k)
	r.Set(&Stmt{Type: StmtReplace, Key: k, Value: append(field(0), field(10)...), LSN: 1}, nil)
	// Freeze the base out of the active mem so the two upserts below
	// land as a genuine unresolved chain instead of being squashed
	// immediately by Range.Set (which only defers when it can't see an
	// older version in the active mem).
	r.Freeze()
	r.Set(&Stmt{Type: StmtUpsert, Key: k, Ops: []UpsertOp{{FieldIndex: 1, Kind: OpAdd, Arg: 5}}, LSN: 2}, nil)
	r.Set(&Stmt{Type: StmtUpsert, Key: k, Ops: []UpsertOp{{FieldIndex: 1, Kind: OpAdd, Arg: 3}}, LSN: 3}, nil)

	require.NoError(t, SquashUpsertChain(idx, k, slog.Default()))

	node := r.ActiveMem().seek(k, true)
	require.NotNil(t, node)
	require.Equal(t, StmtReplace, node.stmt.Type)
	require.EqualValues(t, 3, node.stmt.LSN)
	require.EqualValues(t, 18, fieldAt(node.stmt.Value, 1))
}

func TestSquashUpsertChainLeavesBaselessChainUntouched(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx := NewLSMIndex("test/idx", kd, DefaultIndexOptions(), true, t.TempDir())
	k := mustKey(t, kd, 1)

	r := idx.tree.FindForWrite(k)
	// A placeholder write for an unrelated key, frozen out of the active
	// mem, makes the range non-empty without supplying a base for k, so
	// Range.Set can't resolve the upsert below immediately and must
	// store it raw (§4.6: rangeEmpty is false but OlderLSN(k) is nil).
	other := mustKey(t, kd, 99)
	r.Set(&Stmt{Type: StmtReplace, Key: other, Value: []byte("x"), LSN: 1}, nil)
	r.Freeze()

	r.Set(&Stmt{Type: StmtUpsert, Key: k, Ops: []UpsertOp{{FieldIndex: 1, Kind: OpAdd, Arg: 5}}, LSN: 2}, nil)

	require.NoError(t, SquashUpsertChain(idx, k, slog.Default()))

	node := r.ActiveMem().seek(k, true)
	require.NotNil(t, node)
	require.Equal(t, StmtUpsert, node.stmt.Type)
}

func TestSquashUpsertChainNoOpOnPlainReplace(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	idx := NewLSMIndex("test/idx", kd, DefaultIndexOptions(), true, t.TempDir())
	k := mustKey(t, kd, 1)

	r := idx.tree.FindForWrite(k)
	r.Set(&Stmt{Type: StmtReplace, Key: k, Value: []byte("v"), LSN: 1}, nil)

	require.NoError(t, SquashUpsertChain(idx, k, slog.Default()))

	node := r.ActiveMem().seek(k, true)
	require.NotNil(t, node)
	require.Equal(t, StmtReplace, node.stmt.Type)
	require.EqualValues(t, 1, node.stmt.LSN)
}
