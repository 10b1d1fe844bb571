package storage

import "container/heap"

// dumpHeap is a min-heap of ranges ordered by range.min_lsn ascending:
// the oldest dirty mem dumps first (§4.8 "Dump heap").
type dumpHeap struct {
	items []*Range
}

func (h *dumpHeap) Len() int { return len(h.items) }

func (h *dumpHeap) Less(i, j int) bool {
	li, okI := h.items[i].MinLSN()
	lj, okJ := h.items[j].MinLSN()
	if !okI {
		return false
	}
	if !okJ {
		return true
	}
	return li < lj
}

func (h *dumpHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].dumpHeapIdx = i
	h.items[j].dumpHeapIdx = j
}

func (h *dumpHeap) Push(x any) {
	r := x.(*Range)
	r.dumpHeapIdx = len(h.items)
	h.items = append(h.items, r)
}

func (h *dumpHeap) Pop() any {
	n := len(h.items)
	r := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	r.dumpHeapIdx = -1
	return r
}

// compactHeap is a max-heap of ranges ordered by run_count descending,
// breaking ties by dead-page count descending so that, among ranges
// equally due for compaction, the one wasting the most space on
// tombstoned pages goes first (§4.8 "Compaction heap").
type compactHeap struct {
	items []*Range
}

func (h *compactHeap) Len() int { return len(h.items) }

func (h *compactHeap) Less(i, j int) bool {
	ci, cj := h.items[i].RunCount(), h.items[j].RunCount()
	if ci != cj {
		return ci > cj
	}
	return h.items[i].DeadPageCount() > h.items[j].DeadPageCount()
}

func (h *compactHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].compactHeapIdx = i
	h.items[j].compactHeapIdx = j
}

func (h *compactHeap) Push(x any) {
	r := x.(*Range)
	r.compactHeapIdx = len(h.items)
	h.items = append(h.items, r)
}

func (h *compactHeap) Pop() any {
	n := len(h.items)
	r := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	r.compactHeapIdx = -1
	return r
}

// schedulerHeaps bundles both heaps with the push/fix/remove
// operations the scheduler needs, keeping each range's own heap index
// up to date so a min_lsn or run_count change can be applied in
// O(log n) instead of a linear scan.
type schedulerHeaps struct {
	dump    dumpHeap
	compact compactHeap
}

func newSchedulerHeaps() *schedulerHeaps {
	return &schedulerHeaps{}
}

// Track registers a range in both heaps.
func (s *schedulerHeaps) Track(r *Range) {
	heap.Push(&s.dump, r)
	heap.Push(&s.compact, r)
}

// Untrack removes a range from both heaps, e.g. when it is replaced by
// compaction children.
func (s *schedulerHeaps) Untrack(r *Range) {
	if r.dumpHeapIdx >= 0 {
		heap.Remove(&s.dump, r.dumpHeapIdx)
	}
	if r.compactHeapIdx >= 0 {
		heap.Remove(&s.compact, r.compactHeapIdx)
	}
}

// FixDump re-establishes the dump heap invariant after r's min_lsn
// changes.
func (s *schedulerHeaps) FixDump(r *Range) {
	if r.dumpHeapIdx >= 0 {
		heap.Fix(&s.dump, r.dumpHeapIdx)
	}
}

// FixCompact re-establishes the compaction heap invariant after r's
// run_count changes.
func (s *schedulerHeaps) FixCompact(r *Range) {
	if r.compactHeapIdx >= 0 {
		heap.Fix(&s.compact, r.compactHeapIdx)
	}
}

// PeekDump returns the range with the oldest min_lsn, or nil if empty.
func (s *schedulerHeaps) PeekDump() *Range {
	if s.dump.Len() == 0 {
		return nil
	}
	return s.dump.items[0]
}

// PeekCompact returns the range with the most runs, or nil if empty.
func (s *schedulerHeaps) PeekCompact() *Range {
	if s.compact.Len() == 0 {
		return nil
	}
	return s.compact.items[0]
}
