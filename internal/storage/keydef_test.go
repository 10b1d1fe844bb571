package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareKeysOrdersUnsignedAscending(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})

	k1, err := NewKey(kd, uint64(1))
	require.NoError(t, err)
	k2, err := NewKey(kd, uint64(2))
	require.NoError(t, err)

	require.Negative(t, compareKeys(kd, k1, k2))
	require.Positive(t, compareKeys(kd, k2, k1))
	require.Zero(t, compareKeys(kd, k1, k1))
}

func TestCompareKeysOrdersSignedIntegersAroundZero(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldInteger})

	neg, err := NewKey(kd, int64(-5))
	require.NoError(t, err)
	pos, err := NewKey(kd, int64(5))
	require.NoError(t, err)

	require.Negative(t, compareKeys(kd, neg, pos))
}

func TestCompareKeysOrdersStringsLexicographically(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldString})

	a, err := NewKey(kd, "apple")
	require.NoError(t, err)
	b, err := NewKey(kd, "banana")
	require.NoError(t, err)

	require.Negative(t, compareKeys(kd, a, b))
}

func TestCompareKeysComparesPrefixesBeforeLength(t *testing.T) {
	kd := NewKeyDef(
		KeyPart{FieldIndex: 0, Type: FieldUnsigned},
		KeyPart{FieldIndex: 1, Type: FieldString},
	)

	full, err := NewKey(kd, uint64(1), "a")
	require.NoError(t, err)
	prefix, err := NewKey(kd, uint64(1))
	require.NoError(t, err)

	// A prefix key compares equal on its shared parts; compareKeys only
	// walks min(len(a), len(b)) parts, matching §4.1's partial-key scans.
	require.Zero(t, compareKeys(kd, prefix, full))
}

func TestIsFullKeyRequiresEveryPart(t *testing.T) {
	kd := NewKeyDef(
		KeyPart{FieldIndex: 0, Type: FieldUnsigned},
		KeyPart{FieldIndex: 1, Type: FieldString},
	)

	full, err := NewKey(kd, uint64(1), "a")
	require.NoError(t, err)
	partial, err := NewKey(kd, uint64(1))
	require.NoError(t, err)

	require.True(t, isFullKey(kd, full))
	require.False(t, isFullKey(kd, partial))
}

func TestNewKeyRejectsTooManyValues(t *testing.T) {
	kd := NewKeyDef(KeyPart{FieldIndex: 0, Type: FieldUnsigned})
	_, err := NewKey(kd, uint64(1), uint64(2))
	require.Error(t, err)
}
