package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemInsertTracksUsedBytesAndMinLSN(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)

	k1 := mustKey(t, kd, 1)
	k2 := mustKey(t, kd, 2)

	s1 := &Stmt{Type: StmtReplace, Key: k1, Value: []byte("a"), LSN: 5}
	s2 := &Stmt{Type: StmtReplace, Key: k2, Value: []byte("bb"), LSN: 2}

	require.Nil(t, m.Insert(s1))
	require.Nil(t, m.Insert(s2))

	require.Equal(t, 2, m.Count())
	require.Equal(t, s1.size()+s2.size(), m.UsedBytes())

	lsn, ok := m.MinLSN()
	require.True(t, ok)
	require.EqualValues(t, 2, lsn)
}

func TestMemInsertAtSameKeyAndLSNReplacesInPlace(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)
	k := mustKey(t, kd, 1)

	first := &Stmt{Type: StmtReplace, Key: k, Value: []byte("v1"), LSN: 1}
	second := &Stmt{Type: StmtReplace, Key: k, Value: []byte("v2"), LSN: 1}

	require.Nil(t, m.Insert(first))
	replaced := m.Insert(second)
	require.Same(t, first, replaced)
	require.Equal(t, 1, m.Count())
}

func TestMemOlderLSNFindsNewestStrictlyOlderVersion(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)
	k := mustKey(t, kd, 1)

	v1 := &Stmt{Type: StmtReplace, Key: k, LSN: 1}
	v3 := &Stmt{Type: StmtReplace, Key: k, LSN: 3}
	v5 := &Stmt{Type: StmtReplace, Key: k, LSN: 5}

	m.Insert(v1)
	m.Insert(v3)
	m.Insert(v5)

	older := m.OlderLSN(&Stmt{Key: k, LSN: 4})
	require.Same(t, v3, older)

	noneOlder := m.OlderLSN(&Stmt{Key: k, LSN: 1})
	require.Nil(t, noneOlder)
}

func TestMemVersionIncrementsOnEveryInsert(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)
	require.EqualValues(t, 0, m.Version())

	m.Insert(&Stmt{Key: mustKey(t, kd, 1), LSN: 1})
	require.EqualValues(t, 1, m.Version())

	m.Insert(&Stmt{Key: mustKey(t, kd, 2), LSN: 1})
	require.EqualValues(t, 2, m.Version())
}

func TestMemSeekFindsFirstKeyGreaterOrEqual(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)
	for _, v := range []uint64{10, 20, 30} {
		m.Insert(&Stmt{Key: mustKey(t, kd, v), LSN: 1})
	}

	node := m.seek(mustKey(t, kd, 15), true)
	require.NotNil(t, node)
	require.Zero(t, compareKeys(kd, node.stmt.Key, mustKey(t, kd, 20)))

	backward := m.seek(mustKey(t, kd, 25), false)
	require.NotNil(t, backward)
	require.Zero(t, compareKeys(kd, backward.stmt.Key, mustKey(t, kd, 20)))
}

func TestMemEmptyReportsNoStatements(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)
	require.True(t, m.Empty())
	m.Insert(&Stmt{Key: mustKey(t, kd, 1), LSN: 1})
	require.False(t, m.Empty())
}
