package storage

import "log/slog"

// mergeEntry is one source's contribution to the current key's
// duplicate chain, kept sorted by lsn descending (§4.3.3 "Merge
// iterator").
type mergeEntry struct {
	srcIdx int
	stmt   *Stmt
}

// mergeIter composes N sub-iterators (txw, active mem, frozen mems,
// runs) for one range, registered youngest to oldest, and merges them
// under MVCC (§4.3.3). Sources whose current key equals the winning
// key are folded into an lsn-sorted duplicate group; next_lsn walks
// that group, pulling further duplicates from a source's own chain
// once its entry is consumed.
type mergeIter struct {
	kd     *KeyDef
	itype  IterType
	sources []Iterator

	peeked        []*Stmt
	lastGroupSrcs []int
	group         []mergeEntry

	logger *slog.Logger
}

// NewMergeIter composes sources, which must already be constructed
// with the same itype/key/vlsn so their individual NextKey(nil) calls
// seek correctly.
func NewMergeIter(kd *KeyDef, itype IterType, sources []Iterator, logger *slog.Logger) *mergeIter {
	return &mergeIter{
		kd:      kd,
		itype:   itype,
		sources: sources,
		peeked:  make([]*Stmt, len(sources)),
		logger:  logger,
	}
}

func (it *mergeIter) winnerBetter(a, b *Stmt) bool {
	c := compareKeys(it.kd, a.Key, b.Key)
	if it.itype.forward() {
		return c < 0
	}
	return c > 0
}

// locate refills the peek slots of the sources that fed the previous
// group (every source when no group is pending: on the first call, after
// Restore reset the merge, or after end of stream), picks the winning
// key among all current peeks, and groups every source tied on that
// key, sorted by lsn descending. Returns the group's front (newest)
// statement, or nil at end of stream.
func (it *mergeIter) locate() (*Stmt, error) {
	refill := it.lastGroupSrcs
	if refill == nil && it.group == nil {
		for i := range it.sources {
			refill = append(refill, i)
		}
	}
	for _, i := range refill {
		s, err := it.sources[i].NextKey(nil)
		if err != nil {
			return nil, err
		}
		it.peeked[i] = s
	}
	it.lastGroupSrcs = nil

	var winner *Stmt
	for _, s := range it.peeked {
		if s == nil {
			continue
		}
		if winner == nil || it.winnerBetter(s, winner) {
			winner = s
		}
	}
	if winner == nil {
		it.group = nil
		return nil, nil
	}

	var group []mergeEntry
	var groupSrcs []int
	for i, s := range it.peeked {
		if s != nil && compareKeys(it.kd, s.Key, winner.Key) == 0 {
			group = append(group, mergeEntry{srcIdx: i, stmt: s})
			groupSrcs = append(groupSrcs, i)
			it.peeked[i] = nil
		}
	}
	for i := 1; i < len(group); i++ {
		for j := i; j > 0 && group[j].stmt.LSN > group[j-1].stmt.LSN; j-- {
			group[j], group[j-1] = group[j-1], group[j]
		}
	}
	it.group = group
	it.lastGroupSrcs = groupSrcs
	return group[0].stmt, nil
}

func (it *mergeIter) NextKey(last *Stmt) (*Stmt, error) {
	return it.locate()
}

// NextLSN advances past the current front of the duplicate group,
// pulling a replacement from that entry's own source if one exists,
// and returns the new front (or nil once the group is exhausted).
func (it *mergeIter) NextLSN(last *Stmt) (*Stmt, error) {
	if len(it.group) == 0 {
		return nil, nil
	}
	popped := it.group[0]
	rest := it.group[1:]

	next, err := it.sources[popped.srcIdx].NextLSN(popped.stmt)
	if err != nil {
		return nil, err
	}
	if next == nil {
		it.group = rest
	} else {
		entry := mergeEntry{srcIdx: popped.srcIdx, stmt: next}
		pos := len(rest)
		for pos > 0 && rest[pos-1].stmt.LSN < entry.stmt.LSN {
			pos--
		}
		merged := make([]mergeEntry, 0, len(rest)+1)
		merged = append(merged, rest[:pos]...)
		merged = append(merged, entry)
		merged = append(merged, rest[pos:]...)
		it.group = merged
	}
	if len(it.group) == 0 {
		return nil, nil
	}
	return it.group[0].stmt, nil
}

// SquashUpsert implements §4.3.3 "squash_upsert": while the current
// statement is an UPSERT, advance with NextLSN and apply it onto the
// older statement, until a REPLACE/DELETE base is found or the chain
// runs out (leaving an UPSERT with no base).
func (it *mergeIter) SquashUpsert(cur *Stmt) (*Stmt, error) {
	for cur != nil && cur.Type == StmtUpsert {
		older, err := it.NextLSN(cur)
		if err != nil {
			return nil, err
		}
		if older == nil {
			return cur, nil
		}
		cur = applyUpsert(it.kd, cur, older, it.logger)
		if cur.Type != StmtUpsert {
			return cur, nil
		}
	}
	return cur, nil
}

func (it *mergeIter) Restore(last *Stmt) (RestoreResult, error) {
	moved := false
	for _, s := range it.sources {
		res, err := s.Restore(last)
		if err != nil {
			return RestoreUnchanged, err
		}
		if res == RestoreMoved {
			moved = true
		}
	}
	if moved {
		it.peeked = make([]*Stmt, len(it.sources))
		it.group = nil
		it.lastGroupSrcs = nil
		return RestoreMoved, nil
	}
	return RestoreUnchanged, nil
}

func (it *mergeIter) Close() {
	for _, s := range it.sources {
		s.Close()
	}
}
