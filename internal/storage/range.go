package storage

import (
	"log/slog"
	"sync"
)

// Range is a contiguous partition of the key space (§3 "Range"). It
// owns one mutable active mem, an ordered list of frozen mems, and a
// run list (newest first). shadow is set on a split/merge child while
// its predecessor's dump/compaction task is still writing; the range
// iterator uses it to skip children that have not yet taken ownership
// of their runs (§4.3.4).
type Range struct {
	mu sync.RWMutex

	id    uint64
	begin Key
	end   Key

	kd *KeyDef

	activeMem  *Mem
	frozenMems []*Mem
	runs       []*Run // newest first

	usedBytes    int64
	minLSN       uint64
	hasMinLSN    bool
	nCompactions int
	version      uint64

	shadow *Range

	nextEpoch uint64

	// dumpHeapIdx/compactHeapIdx track this range's position in the
	// scheduler's two heaps (§4.8), enabling O(log n) fix-ups instead
	// of a linear scan whenever a range's min_lsn or run_count changes.
	// -1 means "not currently in that heap".
	dumpHeapIdx    int
	compactHeapIdx int
}

// NewRange creates a range covering [begin, end) with a fresh empty
// active mem. begin == nil means -inf; end == nil means +inf.
func NewRange(id uint64, begin, end Key, kd *KeyDef) *Range {
	r := &Range{id: id, begin: begin, end: end, kd: kd, dumpHeapIdx: -1, compactHeapIdx: -1}
	r.activeMem = NewMem(kd, r.nextEpoch)
	r.nextEpoch++
	return r
}

func (r *Range) ID() uint64 { return r.id }
func (r *Range) Begin() Key { return r.begin }
func (r *Range) End() Key   { return r.end }

// Contains reports whether key falls in [begin, end).
func (r *Range) Contains(key Key) bool {
	if r.begin != nil && compareKeys(r.kd, key, r.begin) < 0 {
		return false
	}
	if r.end != nil && compareKeys(r.kd, key, r.end) >= 0 {
		return false
	}
	return true
}

func (r *Range) Shadow() *Range    { return r.shadow }
func (r *Range) SetShadow(s *Range) { r.shadow = s }

func (r *Range) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func (r *Range) UsedBytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usedBytes
}

func (r *Range) MinLSN() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minLSN, r.hasMinLSN
}

func (r *Range) RunCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

func (r *Range) NCompactions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nCompactions
}

// DeadPageCount sums the tombstone-page count across the range's runs,
// used to break run-count ties in the compaction heap so a range
// carrying more dead pages compacts first (§4.8 "Compaction heap").
func (r *Range) DeadPageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int
	for _, run := range r.runs {
		n += run.TombstonePageCount()
	}
	return n
}

// ActiveMem returns the range's live mutable mem for read-path
// iterator construction. Callers must not mutate it directly.
func (r *Range) ActiveMem() *Mem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeMem
}

// FrozenMems returns a snapshot of the frozen mem list, oldest first.
func (r *Range) FrozenMems() []*Mem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Mem, len(r.frozenMems))
	copy(out, r.frozenMems)
	return out
}

// Runs returns a snapshot of the run list, newest first.
func (r *Range) Runs() []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Run, len(r.runs))
	copy(out, r.runs)
	return out
}

// Set implements range_set (§4.4 "Insert"): links stmt into the active
// mem, applying the DELETE-discard and UPSERT-immediate-apply
// optimizations. Returns whether a background upsert squash should be
// requested for stmt's key.
func (r *Range) Set(stmt *Stmt, logger *slog.Logger) (squashNeeded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch stmt.Type {
	case StmtDelete:
		if len(r.frozenMems) == 0 && len(r.runs) == 0 {
			if r.activeMem.OlderLSN(stmt) == nil {
				// No older version anywhere in the range: the DELETE
				// has nothing to mask, discard it entirely.
				return false
			}
		}
		r.insertLocked(stmt)
		return false

	case StmtUpsert:
		older := r.activeMem.OlderLSN(stmt)
		rangeEmpty := len(r.frozenMems) == 0 && len(r.runs) == 0 && r.activeMem.Empty()
		if rangeEmpty || (older != nil && older.Type != StmtUpsert) {
			applied := applyUpsert(r.kd, stmt, older, logger)
			r.insertLocked(applied)
			return false
		}
		crossed := stmt.bumpUpserts(older)
		r.insertLocked(stmt)
		return crossed

	default: // StmtReplace, StmtSelect (select never reaches a range)
		r.insertLocked(stmt)
		return false
	}
}

// insertLocked must be called with r.mu held.
func (r *Range) insertLocked(stmt *Stmt) {
	wasEmpty := r.activeMem.Empty()
	r.activeMem.Insert(stmt)
	if wasEmpty {
		r.minLSN, r.hasMinLSN = stmt.LSN, true
	} else if !r.hasMinLSN || stmt.LSN < r.minLSN {
		r.minLSN = stmt.LSN
	}
	r.usedBytes += stmt.size()
	r.version++
}

// Freeze moves the active mem to the frozen list and installs a fresh
// empty one, required before any source is handed to a write iterator
// (§4.4 "Freeze").
func (r *Range) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freezeLocked()
}

func (r *Range) freezeLocked() {
	if r.activeMem.Empty() {
		return
	}
	r.frozenMems = append(r.frozenMems, r.activeMem)
	r.activeMem = NewMem(r.kd, r.nextEpoch)
	r.nextEpoch++
}

// DumpableMems freezes the active mem (if non-empty) and returns the
// full frozen list to be consumed by a dump task (§4.4 "Dump task").
func (r *Range) DumpableMems() []*Mem {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freezeLocked()
	out := make([]*Mem, len(r.frozenMems))
	copy(out, r.frozenMems)
	return out
}

// CompleteDump replaces the dumped mems with a single new run at the
// head of the run list, recomputes used_bytes/min_lsn, and bumps
// version (§4.4 "Dump task": "On success").
func (r *Range) CompleteDump(dumped []*Mem, run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozenMems = dropMems(r.frozenMems, dumped)
	r.runs = append([]*Run{run}, r.runs...)
	r.recomputeLocked()
	r.version++
}

// AbandonDump is called when a dump task fails: the frozen mems stay
// linked for the next attempt (§4.4: "the shadow mems remain linked
// and will be retried").
func (r *Range) AbandonDump() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
}

func dropMems(all, dumped []*Mem) []*Mem {
	dumpedSet := make(map[*Mem]bool, len(dumped))
	for _, m := range dumped {
		dumpedSet[m] = true
	}
	out := all[:0:0]
	for _, m := range all {
		if !dumpedSet[m] {
			out = append(out, m)
		}
	}
	return out
}

func (r *Range) recomputeLocked() {
	var used int64
	var minLSN uint64
	hasMin := false
	accumulate := func(lsn uint64, ok bool, bytes int64) {
		used += bytes
		if ok && (!hasMin || lsn < minLSN) {
			minLSN, hasMin = lsn, true
		}
	}
	if !r.activeMem.Empty() {
		lsn, ok := r.activeMem.MinLSN()
		accumulate(lsn, ok, r.activeMem.UsedBytes())
	}
	for _, m := range r.frozenMems {
		lsn, ok := m.MinLSN()
		accumulate(lsn, ok, m.UsedBytes())
	}
	for _, run := range r.runs {
		accumulate(run.MinLSN(), true, run.TotalBytes())
	}
	r.usedBytes = used
	r.minLSN, r.hasMinLSN = minLSN, hasMin
}

// ReplaceRuns swaps a set of consumed runs for a new compacted run
// (used when a compaction does not split, i.e. produces one child that
// is really just this range in place — see rangetree.go for the
// split path).
func (r *Range) ReplaceRuns(consumed []*Run, replacement *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	consumedSet := make(map[*Run]bool, len(consumed))
	for _, run := range consumed {
		consumedSet[run] = true
	}
	kept := r.runs[:0:0]
	for _, run := range r.runs {
		if !consumedSet[run] {
			kept = append(kept, run)
		}
	}
	if replacement != nil {
		kept = append(kept, replacement)
	}
	r.runs = kept
	r.nCompactions++
	r.recomputeLocked()
	r.version++
	for _, run := range consumed {
		run.Unref()
	}
}
