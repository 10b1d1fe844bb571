package storage

import "sort"

// runIter walks a Run's pages under MVCC (§4.3.1 "Run iterator").
// Runs are immutable once opened, so unlike memIter there is no
// mutation to detect within a single run: Restore always reports
// unchanged. The "invalid" outcome the spec describes is about the
// surrounding range/index being replaced by a compaction; that check
// lives in mergeIter/rangeIter, which snapshot index/range version
// around the page-load suspension point (§4.3.3, §4.3.4).
type runIter struct {
	run   *Run
	kd    *KeyDef
	itype IterType
	key   Key
	vlsn  uint64

	pageIdx int
	stmtIdx int
	page    *Page

	started bool
	cur     *Stmt
}

func newRunIter(run *Run, kd *KeyDef, itype IterType, key Key, vlsn uint64) *runIter {
	return &runIter{run: run, kd: kd, itype: normalizeIterType(itype, key), key: key, vlsn: vlsn}
}

// findStartPage returns the page index whose statement range could
// contain the first candidate for the search key and direction.
func (it *runIter) findStartPage() int {
	n := it.run.PageCount()
	if n == 0 {
		return -1
	}
	if it.key == nil {
		if it.itype.forward() {
			return 0
		}
		return n - 1
	}
	// largest i such that pages[i].MinKey <= key
	i := sort.Search(n, func(i int) bool {
		return compareKeys(it.kd, it.run.PageMinKey(i), it.key) > 0
	})
	i--
	if i < 0 {
		i = 0
	}
	return i
}

func (it *runIter) loadPage(idx int) error {
	if idx < 0 || idx >= it.run.PageCount() {
		it.page = nil
		return nil
	}
	p, err := it.run.ReadPage(idx)
	if err != nil {
		return err
	}
	it.page = p
	it.pageIdx = idx
	return nil
}

func (it *runIter) stmtAt(pageIdx, stmtIdx int) *Stmt {
	if it.page == nil || it.pageIdx != pageIdx {
		if err := it.loadPage(pageIdx); err != nil || it.page == nil {
			return nil
		}
	}
	if stmtIdx < 0 || stmtIdx >= len(it.page.Statements) {
		return nil
	}
	return it.page.Statements[stmtIdx]
}

// advance moves (pageIdx, stmtIdx) one statement in the iterator's
// direction, crossing page boundaries as needed. Returns nil at end
// of stream.
func (it *runIter) advance(pageIdx, stmtIdx int) (int, int, *Stmt) {
	if it.pageIdx != pageIdx || it.page == nil {
		if err := it.loadPage(pageIdx); err != nil || it.page == nil {
			return 0, 0, nil
		}
	}
	if it.itype.forward() {
		stmtIdx++
		if stmtIdx >= len(it.page.Statements) {
			pageIdx++
			stmtIdx = 0
			if err := it.loadPage(pageIdx); err != nil || it.page == nil {
				return 0, 0, nil
			}
		}
	} else {
		stmtIdx--
		if stmtIdx < 0 {
			pageIdx--
			if pageIdx < 0 {
				return 0, 0, nil
			}
			if err := it.loadPage(pageIdx); err != nil || it.page == nil {
				return 0, 0, nil
			}
			stmtIdx = len(it.page.Statements) - 1
		}
	}
	if stmtIdx < 0 || stmtIdx >= len(it.page.Statements) {
		return 0, 0, nil
	}
	return pageIdx, stmtIdx, it.page.Statements[stmtIdx]
}

func (it *runIter) stops(s *Stmt) bool {
	if s == nil {
		return true
	}
	switch it.itype {
	case IterEQ:
		return it.key != nil && compareKeys(it.kd, s.Key, it.key) != 0
	case IterGE, IterGT:
		return it.key != nil && compareKeys(it.kd, s.Key, it.key) < 0
	case IterLE, IterLT:
		return it.key != nil && compareKeys(it.kd, s.Key, it.key) > 0
	}
	return false
}

// representative finds, from (pageIdx, stmtIdx) forward within the
// current key's duplicate run, the newest statement with lsn <= vlsn.
func (it *runIter) representative(pageIdx, stmtIdx int) (int, int, *Stmt) {
	s := it.stmtAt(pageIdx, stmtIdx)
	if s == nil {
		return 0, 0, nil
	}
	groupKey := s.Key
	p, si, cur := pageIdx, stmtIdx, s
	for cur != nil && compareKeys(it.kd, cur.Key, groupKey) == 0 {
		if cur.LSN <= it.vlsn {
			return p, si, cur
		}
		np, nsi, next := it.advanceForward(p, si)
		if next == nil {
			break
		}
		p, si, cur = np, nsi, next
	}
	return 0, 0, nil
}

// advanceForward always walks toward higher keys/lower lsn within a
// group, independent of the iterator's overall direction, since lsn
// duplicates are always stored ascending-key/descending-lsn on disk.
func (it *runIter) advanceForward(pageIdx, stmtIdx int) (int, int, *Stmt) {
	if it.pageIdx != pageIdx || it.page == nil {
		if err := it.loadPage(pageIdx); err != nil || it.page == nil {
			return 0, 0, nil
		}
	}
	stmtIdx++
	if stmtIdx >= len(it.page.Statements) {
		pageIdx++
		if err := it.loadPage(pageIdx); err != nil || it.page == nil {
			return 0, 0, nil
		}
		stmtIdx = 0
	}
	if stmtIdx >= len(it.page.Statements) {
		return 0, 0, nil
	}
	return pageIdx, stmtIdx, it.page.Statements[stmtIdx]
}

// skipGroup moves past all remaining duplicates of the key at
// (pageIdx, stmtIdx), returning the position of the next distinct key
// in the iterator's direction.
func (it *runIter) skipGroup(pageIdx, stmtIdx int) (int, int, *Stmt) {
	s := it.stmtAt(pageIdx, stmtIdx)
	if s == nil {
		return 0, 0, nil
	}
	groupKey := s.Key
	if it.itype.forward() {
		p, si, cur := pageIdx, stmtIdx, s
		for cur != nil && compareKeys(it.kd, cur.Key, groupKey) == 0 {
			np, nsi, next := it.advanceForward(p, si)
			p, si, cur = np, nsi, next
		}
		return p, si, cur
	}
	// backward: the group's first (newest-lsn) member is the page/idx
	// we started enumerating from when we entered the group; walk
	// backward from there.
	return it.advance(pageIdx, stmtIdx)
}

func (it *runIter) NextKey(last *Stmt) (*Stmt, error) {
	if !it.started {
		it.started = true
		p := it.findStartPage()
		if p < 0 {
			return nil, nil
		}
		if err := it.loadPage(p); err != nil {
			return nil, err
		}
		startIdx := 0
		if !it.itype.forward() {
			startIdx = len(it.page.Statements) - 1
		}
		s := it.stmtAt(p, startIdx)
		for s != nil {
			// The start page may begin (or, backward, end) with keys on
			// the near side of the search key; step over them.
			if it.key != nil {
				c := compareKeys(it.kd, s.Key, it.key)
				if (it.itype.forward() && c < 0) || (!it.itype.forward() && c > 0) {
					np, ni, next := it.skipGroup(p, startIdx)
					p, startIdx, s = np, ni, next
					continue
				}
			}
			if it.itype == IterGT || it.itype == IterLT {
				if it.key != nil && compareKeys(it.kd, s.Key, it.key) == 0 {
					np, ni, next := it.skipGroup(p, startIdx)
					p, startIdx, s = np, ni, next
					continue
				}
			}
			if it.stops(s) {
				return nil, nil
			}
			rp, ri, rep := it.representative(p, startIdx)
			if rep != nil {
				it.loadPage(rp)
				it.pageIdx, it.stmtIdx, it.cur = rp, ri, rep
				return rep, nil
			}
			np, ni, next := it.skipGroup(p, startIdx)
			p, startIdx, s = np, ni, next
		}
		return nil, nil
	}

	p, si, s := it.skipGroup(it.pageIdx, it.stmtIdx)
	for s != nil {
		if it.stops(s) {
			return nil, nil
		}
		rp, ri, rep := it.representative(p, si)
		if rep != nil {
			it.loadPage(rp)
			it.pageIdx, it.stmtIdx, it.cur = rp, ri, rep
			return rep, nil
		}
		np, ni, next := it.skipGroup(p, si)
		p, si, s = np, ni, next
	}
	return nil, nil
}

func (it *runIter) NextLSN(last *Stmt) (*Stmt, error) {
	cur := it.stmtAt(it.pageIdx, it.stmtIdx)
	if cur == nil {
		return nil, nil
	}
	p, si, s := it.advanceForward(it.pageIdx, it.stmtIdx)
	if s == nil || compareKeys(it.kd, s.Key, cur.Key) != 0 {
		return nil, nil
	}
	if s.LSN > it.vlsn {
		return nil, nil
	}
	it.loadPage(p)
	it.pageIdx, it.stmtIdx = p, si
	return s, nil
}

func (it *runIter) Restore(last *Stmt) (RestoreResult, error) {
	return RestoreUnchanged, nil
}

func (it *runIter) Close() {
	it.run.Unref()
}
