package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemIterNextKeyWalksForwardUnderVLSN(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)
	for _, v := range []uint64{1, 2, 3} {
		m.Insert(&Stmt{Type: StmtReplace, Key: mustKey(t, kd, v), LSN: 1})
	}

	it := newMemIter(m, kd, IterGE, nil, 10)
	var got []*Stmt
	s, err := it.NextKey(nil)
	for s != nil {
		require.NoError(t, err)
		got = append(got, s)
		s, err = it.NextKey(s)
	}
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Zero(t, compareKeys(kd, got[0].Key, mustKey(t, kd, 1)))
	require.Zero(t, compareKeys(kd, got[1].Key, mustKey(t, kd, 2)))
	require.Zero(t, compareKeys(kd, got[2].Key, mustKey(t, kd, 3)))
}

func TestMemIterSkipsVersionsNewerThanVLSN(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)
	k := mustKey(t, kd, 1)
	m.Insert(&Stmt{Type: StmtReplace, Key: k, LSN: 1, Value: []byte("old")})
	m.Insert(&Stmt{Type: StmtReplace, Key: k, LSN: 5, Value: []byte("new")})

	it := newMemIter(m, kd, IterEQ, k, 2)
	s, err := it.NextKey(nil)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, []byte("old"), s.Value)
}

func TestMemIterNextLSNWalksOlderDuplicatesWithinVLSN(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)
	k := mustKey(t, kd, 1)
	m.Insert(&Stmt{Type: StmtReplace, Key: k, LSN: 1})
	m.Insert(&Stmt{Type: StmtReplace, Key: k, LSN: 3})
	m.Insert(&Stmt{Type: StmtReplace, Key: k, LSN: 5})

	it := newMemIter(m, kd, IterEQ, k, 5)
	first, err := it.NextKey(nil)
	require.NoError(t, err)
	require.EqualValues(t, 5, first.LSN)

	second, err := it.NextLSN(first)
	require.NoError(t, err)
	require.EqualValues(t, 3, second.LSN)

	third, err := it.NextLSN(second)
	require.NoError(t, err)
	require.EqualValues(t, 1, third.LSN)

	fourth, err := it.NextLSN(third)
	require.NoError(t, err)
	require.Nil(t, fourth)
}

func TestMemIterRestoreDetectsMutationAndReseeks(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	m := NewMem(kd, 0)
	k1 := mustKey(t, kd, 1)
	m.Insert(&Stmt{Type: StmtReplace, Key: k1, LSN: 1})

	it := newMemIter(m, kd, IterGE, nil, 10)
	first, err := it.NextKey(nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	res, err := it.Restore(first)
	require.NoError(t, err)
	require.Equal(t, RestoreUnchanged, res)

	m.Insert(&Stmt{Type: StmtReplace, Key: k1, LSN: 2})
	res, err = it.Restore(first)
	require.NoError(t, err)
	require.Equal(t, RestoreMoved, res)
}
