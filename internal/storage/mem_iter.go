package storage

// memIter walks a Mem's skip list under MVCC, implementing §4.3.2
// "Mem iterator". Within a key's lsn-descending run of duplicates, it
// picks the newest entry with lsn <= vlsn as the key's representative,
// then NextLSN walks strictly-older duplicates still <= vlsn.
type memIter struct {
	mem   *Mem
	kd    *KeyDef
	itype IterType
	key   Key
	vlsn  uint64

	cur     *memNode
	started bool
	lastVer uint64
}

func newMemIter(mem *Mem, kd *KeyDef, itype IterType, key Key, vlsn uint64) *memIter {
	return &memIter{mem: mem, kd: kd, itype: normalizeIterType(itype, key), key: key, vlsn: vlsn}
}

// groupStart returns the first (highest-lsn) node of n's key group.
func (it *memIter) groupStart(n *memNode) *memNode {
	if n == nil {
		return nil
	}
	for {
		prev := it.mem.nodeBefore(n)
		if prev == nil || cmpKey(it.kd, prev.stmt, n.stmt) != 0 {
			return n
		}
		n = prev
	}
}

// representative scans forward within n's key group for the first
// statement with lsn <= vlsn, or nil if the whole group is too new.
func (it *memIter) representative(n *memNode) *memNode {
	start := it.groupStart(n)
	for c := start; c != nil; c = it.mem.nodeAfter(c) {
		if c != start && cmpKey(it.kd, c.stmt, start.stmt) != 0 {
			break
		}
		if c.stmt.LSN <= it.vlsn {
			return c
		}
	}
	return nil
}

// nextGroupNode returns the first node of the key group adjacent to
// n's group, in the iterator's direction.
func (it *memIter) nextGroupNode(n *memNode) *memNode {
	start := it.groupStart(n)
	if it.itype.forward() {
		// walk to the end of this group, then one more
		c := start
		for {
			nxt := it.mem.nodeAfter(c)
			if nxt == nil || cmpKey(it.kd, nxt.stmt, start.stmt) != 0 {
				return nxt
			}
			c = nxt
		}
	}
	prev := it.mem.nodeBefore(start)
	return it.groupStart(prev)
}

func (it *memIter) stops(n *memNode) bool {
	if n == nil {
		return true
	}
	switch it.itype {
	case IterEQ:
		return cmpKey(it.kd, n.stmt, &Stmt{Key: it.key}) != 0
	case IterGE, IterGT:
		return it.key != nil && cmpKey(it.kd, n.stmt, &Stmt{Key: it.key}) < 0
	case IterLE, IterLT:
		return it.key != nil && cmpKey(it.kd, n.stmt, &Stmt{Key: it.key}) > 0
	}
	return false
}

func (it *memIter) seekInitial() *memNode {
	n := it.mem.seek(it.key, it.itype.forward())
	if n == nil {
		return nil
	}
	switch it.itype {
	case IterGT:
		if it.key != nil && cmpKey(it.kd, n.stmt, &Stmt{Key: it.key}) == 0 {
			n = it.nextGroupNode(n)
		}
	case IterLT:
		if it.key != nil && cmpKey(it.kd, n.stmt, &Stmt{Key: it.key}) == 0 {
			n = it.nextGroupNode(n)
		}
	}
	return n
}

func (it *memIter) NextKey(last *Stmt) (*Stmt, error) {
	it.lastVer = it.mem.Version()

	if !it.started {
		it.started = true
		n := it.seekInitial()
		for n != nil {
			if it.stops(n) {
				it.cur = nil
				return nil, nil
			}
			if rep := it.representative(n); rep != nil {
				it.cur = rep
				return rep.stmt, nil
			}
			n = it.nextGroupNode(n)
		}
		it.cur = nil
		return nil, nil
	}

	if it.cur == nil {
		return nil, nil
	}
	n := it.nextGroupNode(it.cur)
	for n != nil {
		if it.stops(n) {
			it.cur = nil
			return nil, nil
		}
		if rep := it.representative(n); rep != nil {
			it.cur = rep
			return rep.stmt, nil
		}
		n = it.nextGroupNode(n)
	}
	it.cur = nil
	return nil, nil
}

func (it *memIter) NextLSN(last *Stmt) (*Stmt, error) {
	if it.cur == nil {
		return nil, nil
	}
	n := it.mem.nodeAfter(it.cur)
	if n == nil || cmpKey(it.kd, n.stmt, it.cur.stmt) != 0 {
		return nil, nil
	}
	if n.stmt.LSN > it.vlsn {
		return nil, nil
	}
	it.cur = n
	return n.stmt, nil
}

func (it *memIter) Restore(last *Stmt) (RestoreResult, error) {
	if it.mem.Version() == it.lastVer {
		return RestoreUnchanged, nil
	}
	it.lastVer = it.mem.Version()
	if last == nil {
		it.started = false
		it.cur = nil
		return RestoreMoved, nil
	}
	n := it.mem.seek(last.Key, true)
	if n != nil && cmpFull(it.kd, n.stmt, last) == 0 {
		it.cur = n
		return RestoreUnchanged, nil
	}
	it.key = last.Key
	it.started = false
	it.cur = nil
	return RestoreMoved, nil
}

func (it *memIter) Close() {}
