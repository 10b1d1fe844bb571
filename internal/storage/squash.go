package storage

import (
	"log/slog"
	"math"
)

// SquashUpsertChain implements §4.6 "squash_upserts": walks the full
// visible history of key (at vlsn = +inf) across the covering range's
// mems and runs, resolves the UPSERT chain into a REPLACE, and
// reinserts it at the same lsn as the newest UPSERT it consumed. A
// concurrent insert of a newer version for the same key is folded in
// naturally, since Mem.Insert only ever replaces the exact (key, lsn)
// slot the squasher targets (§4.6: "must not alter visibility for any
// transaction").
//
// Run at eager-enqueue time; callers are expected to run this in a
// background worker, not on the commit path.
func SquashUpsertChain(idx *LSMIndex, key Key, logger *slog.Logger) error {
	r := idx.tree.FindForWrite(key)
	if r == nil {
		return nil
	}

	mems := append([]*Mem{r.ActiveMem()}, r.FrozenMems()...)
	runs := r.Runs()

	var sources []Iterator
	for _, m := range mems {
		sources = append(sources, newMemIter(m, idx.kd, IterEQ, key, math.MaxUint64))
	}
	for _, run := range runs {
		run.Ref()
		sources = append(sources, newRunIter(run, idx.kd, IterEQ, key, math.MaxUint64))
	}
	merge := NewMergeIter(idx.kd, IterEQ, sources, logger)
	defer merge.Close()

	cand, err := merge.NextKey(nil)
	if err != nil || cand == nil {
		return err
	}
	if cand.Type != StmtUpsert {
		return nil
	}
	newestLSN := cand.LSN

	resolved, err := merge.SquashUpsert(cand)
	if err != nil {
		return err
	}
	if resolved.Type == StmtUpsert {
		// Chain ran out without a REPLACE/DELETE base; nothing to
		// collapse yet, a future squash attempt may find one.
		return nil
	}

	replace := resolved.clone()
	replace.Type = StmtReplace
	replace.LSN = newestLSN
	replace.NUpserts = 0
	r.Set(replace, logger)
	return nil
}
