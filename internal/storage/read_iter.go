package storage

import "log/slog"

// ReadIter is the outward-facing iterator (§4.3.5 "Read iterator"):
// it walks ranges via rangeIter and, for each, merges txw + active
// mem (+ shadow children's active mems, if the range is mid-split) +
// frozen mems + runs under vlsn, squashing UPSERT chains and skipping
// DELETEs.
type ReadIter struct {
	idx    *LSMIndex
	txn    *Txn
	vlsn   uint64
	itype  IterType
	key    Key
	logger *slog.Logger

	ranges  *rangeIter
	curMerge *mergeIter
	curRange *Range
	txw     *txwIter

	stopKey Key
	done    bool
}

// NewReadIter opens a read iterator over idx at vlsn, starting from
// key in the given direction.
func NewReadIter(idx *LSMIndex, txn *Txn, vlsn uint64, itype IterType, key Key, logger *slog.Logger) *ReadIter {
	itype = normalizeIterType(itype, key)
	return &ReadIter{
		idx:     idx,
		txn:     txn,
		vlsn:    vlsn,
		itype:   itype,
		key:     key,
		logger:  logger,
		ranges:  newRangeIter(idx.tree, itype, key),
		txw:     newTxwIter(idx.kd, idx, txn, itype, key),
		stopKey: key,
	}
}

func (it *ReadIter) openNextRange() bool {
	if it.curMerge != nil {
		it.curMerge.Close()
	}
	r := it.ranges.Next()
	if r == nil {
		it.curRange = nil
		it.curMerge = nil
		return false
	}
	it.curRange = r

	var sources []Iterator
	sources = append(sources, it.txw)
	sources = append(sources, newMemIter(r.ActiveMem(), it.idx.kd, it.itype, nil, it.vlsn))
	for _, child := range it.idx.tree.ShadowChildrenOf(r) {
		sources = append(sources, newMemIter(child.ActiveMem(), it.idx.kd, it.itype, nil, it.vlsn))
	}
	for _, m := range r.FrozenMems() {
		sources = append(sources, newMemIter(m, it.idx.kd, it.itype, nil, it.vlsn))
	}
	for _, run := range r.Runs() {
		run.Ref()
		sources = append(sources, newRunIter(run, it.idx.kd, it.itype, nil, it.vlsn))
	}

	it.curMerge = NewMergeIter(it.idx.kd, it.itype, sources, it.logger)
	return true
}

// Next returns the next visible REPLACE tuple, or nil at end of
// stream. DELETEs are skipped transparently; UPSERT chains are
// resolved via squash before being surfaced.
func (it *ReadIter) Next() (*Stmt, error) {
	if it.done {
		return nil, nil
	}
	if it.curRange == nil {
		if !it.openNextRange() {
			it.done = true
			return nil, nil
		}
	}

	for {
		cand, err := it.curMerge.NextKey(nil)
		if err != nil {
			return nil, err
		}
		if cand == nil {
			if !it.openNextRange() {
				it.done = true
				return nil, nil
			}
			continue
		}
		if it.itype == IterEQ && it.stopKey != nil && compareKeys(it.idx.kd, cand.Key, it.stopKey) != 0 {
			it.done = true
			return nil, nil
		}
		resolved, err := it.curMerge.SquashUpsert(cand)
		if err != nil {
			return nil, err
		}
		if resolved.Type == StmtDelete {
			continue
		}
		return resolved, nil
	}
}

func (it *ReadIter) Close() {
	if it.curMerge != nil {
		it.curMerge.Close()
	}
}
