package storage

import (
	"log/slog"
	"math"
)

// WriteIterator streams statements for a new run during dump or
// compaction, filtering and squashing relative to the oldest active
// read view (§4.5 "Write iterator"). Source mem/run iterators are
// constructed at vlsn = +inf so every duplicate of a key is visible;
// the filtering described below is applied explicitly here instead of
// relying on a single-reader MVCC cut.
type WriteIterator struct {
	kd          *KeyDef
	merge       *mergeIter
	oldestVlsn  uint64
	isLastLevel bool
	logger      *slog.Logger

	pending []*Stmt
	done    bool
}

// NewWriteIterator composes mems and runs (mems first, per §4.5
// "Inputs: ... mems first, runs next") into a write iterator.
func NewWriteIterator(kd *KeyDef, mems []*Mem, runs []*Run, oldestVlsn uint64, isLastLevel bool, logger *slog.Logger) *WriteIterator {
	var sources []Iterator
	for _, m := range mems {
		sources = append(sources, newMemIter(m, kd, IterGE, nil, math.MaxUint64))
	}
	for _, run := range runs {
		run.Ref()
		sources = append(sources, newRunIter(run, kd, IterGE, nil, math.MaxUint64))
	}
	return &WriteIterator{
		kd:          kd,
		merge:       NewMergeIter(kd, IterGE, sources, logger),
		oldestVlsn:  oldestVlsn,
		isLastLevel: isLastLevel,
		logger:      logger,
	}
}

// Next returns the next statement to persist, or nil at end of stream
// (§4.5 rules 1-4, applied per distinct key).
func (w *WriteIterator) Next() (*Stmt, error) {
	for {
		if len(w.pending) > 0 {
			s := w.pending[0]
			w.pending = w.pending[1:]
			return s, nil
		}
		if w.done {
			return nil, nil
		}

		cand, err := w.merge.NextKey(nil)
		if err != nil {
			return nil, err
		}
		if cand == nil {
			w.done = true
			continue
		}

		var newer []*Stmt
		cur := cand
		for cur != nil && cur.LSN > w.oldestVlsn {
			newer = append(newer, cur)
			cur, err = w.merge.NextLSN(cur)
			if err != nil {
				return nil, err
			}
		}

		var rep *Stmt
		if cur != nil {
			if cur.Type == StmtUpsert {
				rep, err = w.merge.SquashUpsert(cur)
				if err != nil {
					return nil, err
				}
			} else {
				rep = cur
			}
		}

		if w.isLastLevel && rep != nil {
			switch rep.Type {
			case StmtDelete:
				rep = nil
			case StmtUpsert:
				rep = applyUpsert(w.kd, rep, nil, w.logger)
			}
		}

		w.pending = append(w.pending, newer...)
		if rep != nil {
			w.pending = append(w.pending, rep)
		}
	}
}

func (w *WriteIterator) Close() { w.merge.Close() }
