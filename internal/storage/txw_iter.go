package storage

import "sort"

// txwIter exposes one transaction's own uncommitted writes to an index
// as a read-path source, so a transaction sees its own changes before
// they are ever applied to a range (§4.3.3 "Composes N sub-iterators
// (txw, active mem, frozen mems, runs)").
type txwIter struct {
	kd    *KeyDef
	itype IterType
	key   Key

	stmts []*Stmt // sorted by key in the iterator's direction
	pos   int
}

func newTxwIter(kd *KeyDef, idx *LSMIndex, txn *Txn, itype IterType, key Key) *txwIter {
	var stmts []*Stmt
	for _, w := range txn.writeSet() {
		if w.index == idx {
			stmts = append(stmts, w.stmt)
		}
	}
	itype = normalizeIterType(itype, key)
	sort.Slice(stmts, func(i, j int) bool {
		c := compareKeys(kd, stmts[i].Key, stmts[j].Key)
		if itype.forward() {
			return c < 0
		}
		return c > 0
	})

	start := 0
	if key != nil {
		start = sort.Search(len(stmts), func(i int) bool {
			c := compareKeys(kd, stmts[i].Key, key)
			if itype.forward() {
				return c >= 0
			}
			return c <= 0
		})
		if itype == IterGT || itype == IterLT {
			for start < len(stmts) && compareKeys(kd, stmts[start].Key, key) == 0 {
				start++
			}
		}
	}

	return &txwIter{kd: kd, itype: itype, key: key, stmts: stmts, pos: start - 1}
}

func (it *txwIter) stops(s *Stmt) bool {
	if s == nil {
		return true
	}
	switch it.itype {
	case IterEQ:
		return it.key != nil && compareKeys(it.kd, s.Key, it.key) != 0
	}
	return false
}

func (it *txwIter) NextKey(last *Stmt) (*Stmt, error) {
	it.pos++
	if it.pos >= len(it.stmts) {
		return nil, nil
	}
	s := it.stmts[it.pos]
	if it.stops(s) {
		return nil, nil
	}
	return s, nil
}

// NextLSN: a transaction's own write-set has at most one entry per
// key (set_write always merges), so there is never an older duplicate.
func (it *txwIter) NextLSN(last *Stmt) (*Stmt, error) { return nil, nil }

// Restore: the write-set is captured at construction time and the
// captured slice never changes afterwards, so there is nothing to
// re-seek.
func (it *txwIter) Restore(last *Stmt) (RestoreResult, error) { return RestoreUnchanged, nil }

func (it *txwIter) Close() {}
