package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeSetDiscardsDeleteWithNothingToMask(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	r := NewRange(0, nil, nil, kd)

	del := &Stmt{Type: StmtDelete, Key: mustKey(t, kd, 1), LSN: 1}
	squash := r.Set(del, nil)

	require.False(t, squash)
	require.True(t, r.ActiveMem().Empty())
}

func TestRangeSetKeepsDeleteThatMasksAnOlderVersion(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	r := NewRange(0, nil, nil, kd)
	k := mustKey(t, kd, 1)

	r.Set(&Stmt{Type: StmtReplace, Key: k, Value: []byte("v"), LSN: 1}, nil)
	r.Set(&Stmt{Type: StmtDelete, Key: k, LSN: 2}, nil)

	require.Equal(t, 2, r.ActiveMem().Count())
}

func TestRangeSetAppliesUpsertImmediatelyOnEmptyRange(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	r := NewRange(0, nil, nil, kd)
	k := mustKey(t, kd, 1)

	up := &Stmt{Type: StmtUpsert, Key: k, Value: append(field(0), field(1)...), LSN: 1}
	squash := r.Set(up, nil)

	require.False(t, squash)
	require.Equal(t, 1, r.ActiveMem().Count())
}

func TestRangeSetAppliesUpsertOverExistingReplace(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	r := NewRange(0, nil, nil, kd)
	k := mustKey(t, kd, 1)

	r.Set(&Stmt{Type: StmtReplace, Key: k, Value: append(field(0), field(10)...), LSN: 1}, nil)
	up := &Stmt{Type: StmtUpsert, Key: k, Ops: []UpsertOp{{FieldIndex: 1, Kind: OpAdd, Arg: 5}}, LSN: 2}
	r.Set(up, nil)

	node := r.ActiveMem().seek(k, true)
	require.NotNil(t, node)
	require.EqualValues(t, 15, fieldAt(node.stmt.Value, 1))
}

func TestRangeContainsRespectsOpenBounds(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	begin := mustKey(t, kd, 10)
	end := mustKey(t, kd, 20)
	r := NewRange(0, begin, end, kd)

	require.False(t, r.Contains(mustKey(t, kd, 9)))
	require.True(t, r.Contains(mustKey(t, kd, 10)))
	require.True(t, r.Contains(mustKey(t, kd, 19)))
	require.False(t, r.Contains(mustKey(t, kd, 20)))
}

func TestRangeDumpLifecycleReplacesFrozenMemsWithRun(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	r := NewRange(0, nil, nil, kd)
	r.Set(&Stmt{Type: StmtReplace, Key: mustKey(t, kd, 1), Value: []byte("v"), LSN: 1}, nil)

	dumped := r.DumpableMems()
	require.Len(t, dumped, 1)
	require.Len(t, r.FrozenMems(), 1) // still linked until CompleteDump

	run := &Run{meta: RunMeta{MinLSN: 1, MaxLSN: 1}}
	r.CompleteDump(dumped, run)

	require.Empty(t, r.FrozenMems())
	require.Len(t, r.Runs(), 1)
}
