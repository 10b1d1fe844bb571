package storage

import (
	"bytes"
	"fmt"

	"github.com/arkdb/vinyl/internal/data/encoding"
)

// FieldType names the wire type of one key part. Only the types needed
// by the comparator (§4.1: fixed-size integers compare as integers,
// strings compare unsigned-lexicographic) are distinguished.
type FieldType uint8

const (
	FieldUnsigned FieldType = iota
	FieldInteger
	FieldString
)

// KeyPart is one component of a KeyDef: which field of the tuple it
// projects, and how to compare it.
type KeyPart struct {
	FieldIndex int
	Type       FieldType
}

// KeyDef is the ordered list of key parts that defines a total order
// over statement keys for one index (§3 "Key definition").
type KeyDef struct {
	Parts []KeyPart
}

// NewKeyDef builds a key definition from field parts in order.
func NewKeyDef(parts ...KeyPart) *KeyDef {
	return &KeyDef{Parts: append([]KeyPart(nil), parts...)}
}

func (kd *KeyDef) partCount() int { return len(kd.Parts) }

// Key is an opaque, already-encoded key: a slice of per-part encoded
// byte strings in key-def order. A "prefix key" simply has fewer
// entries than the full key definition (§4.1).
type Key [][]byte

// NewKey encodes a fixed list of Go values into a Key using the given
// key definition. Unsigned/integer parts go through the teacher's
// Fixed encoder's EncodeOrdered path so byte order matches numeric
// order; string parts go through String's EncodeOrdered path. Both are
// adapted from the teacher's columnar internal/data/encoding package,
// applied one part at a time instead of encoding a whole column.
func NewKey(kd *KeyDef, values ...interface{}) (Key, error) {
	if len(values) > len(kd.Parts) {
		return nil, fmt.Errorf("vinyl: key has %d parts, key def has %d", len(values), len(kd.Parts))
	}
	out := make(Key, len(values))
	fixed := encoding.NewFixed()
	strs := encoding.NewString()
	for i, v := range values {
		part := kd.Parts[i]
		buf := &byteBuffer{}
		switch part.Type {
		case FieldUnsigned, FieldInteger:
			n, err := toInt64(v)
			if err != nil {
				return nil, err
			}
			if err := fixed.EncodeOrdered(buf, n, part.Type == FieldInteger); err != nil {
				return nil, fmt.Errorf("vinyl: encode key part %d: %w", i, err)
			}
		case FieldString:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("vinyl: key part %d expects string, got %T", i, v)
			}
			if err := strs.EncodeOrdered(buf, s); err != nil {
				return nil, fmt.Errorf("vinyl: encode key part %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("vinyl: unknown field type %d", part.Type)
		}
		out[i] = buf.data
	}
	return out, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("vinyl: key part expects an integer, got %T", v)
	}
}

// byteBuffer is a minimal io.Writer adapter; avoids pulling in
// bytes.Buffer's growth machinery for single small writes.
type byteBuffer struct{ data []byte }

func (b *byteBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// comparePart compares two encoded parts of the same field type.
func comparePart(t FieldType, a, b []byte) int {
	// Every part is encoded to be directly byte-comparable (fixed
	// width big-endian ints with sign-flip, raw string bytes) so a
	// plain bytes.Compare is correct for every FieldType.
	_ = t
	return bytes.Compare(a, b)
}

// compareKeys compares two Keys under a key definition. A key with
// fewer parts than the full definition acts as a prefix: it is equal
// to any full key whose leading parts match (§4.1).
func compareKeys(kd *KeyDef, a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if cmp := comparePart(kd.Parts[i].Type, a[i], b[i]); cmp != 0 {
			return cmp
		}
	}
	// Shorter key is a prefix match: equal for ordering purposes.
	if len(a) == len(b) {
		return 0
	}
	return 0
}

// isFullKey reports whether k specifies every part of kd.
func isFullKey(kd *KeyDef, k Key) bool {
	return len(k) == len(kd.Parts)
}
