package storage

// cmpKey compares two statements by key only (§4.1 "cmp(a, b)").
func cmpKey(kd *KeyDef, a, b *Stmt) int {
	return compareKeys(kd, a.Key, b.Key)
}

// cmpFull breaks key ties with lsn descending (§4.1 "cmp_full(a, b)"):
// among equal keys, the statement with the higher lsn sorts first.
func cmpFull(kd *KeyDef, a, b *Stmt) int {
	if c := cmpKey(kd, a, b); c != 0 {
		return c
	}
	switch {
	case a.LSN > b.LSN:
		return -1
	case a.LSN < b.LSN:
		return 1
	default:
		return 0
	}
}

// IterType drives seek direction and stop conditions for every
// iterator in the stack (§4.3).
type IterType uint8

const (
	IterGE IterType = iota
	IterGT
	IterLE
	IterLT
	IterEQ
)

// forward reports whether this iteration type scans left-to-right.
func (t IterType) forward() bool {
	switch t {
	case IterGE, IterGT, IterEQ:
		return true
	default:
		return false
	}
}

// normalizeIterType maps an empty search key to the direction-neutral
// default per §4.3: "initial direction with an empty key is mapped to
// GE / LE".
func normalizeIterType(t IterType, key Key) IterType {
	if len(key) > 0 {
		return t
	}
	if t.forward() {
		return IterGE
	}
	return IterLE
}
