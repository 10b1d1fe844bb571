package storage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// schedulerTask is a self-contained unit of work a worker goroutine
// executes without touching any host-thread-only state directly; it
// only reads its captured sources and returns a result the scheduler
// applies back on the host goroutine (§5 "workers receive
// self-contained tasks holding references to the necessary sources").
type schedulerTask interface {
	execute(ctx context.Context) error
	complete()
	abort()
}

// Scheduler runs the two priority heaps and a worker pool executing
// dump/compaction tasks (§4.8). The host-thread single-goroutine model
// from the original is relaxed to "callers drive Tick", guarded
// by mu for the heaps and range-tree mutation; everything else in this
// package already tolerates concurrent readers via per-object locks.
type Scheduler struct {
	mu sync.Mutex

	idx     *LSMIndex
	logger  *slog.Logger
	heaps   *schedulerHeaps
	quota   *Quota
	vlsnFloor func() uint64

	threads int
	group   *errgroup.Group
	groupCtx context.Context
	cancel  context.CancelFunc
	sem     chan struct{}

	runIDCounter uint64

	backoff         time.Duration
	lastErr         error

	checkpointLSN   uint64
	checkpointCond  *sync.Cond
	dirtyMinLSN     func() (uint64, bool)
}

const (
	minBackoff = 1 * time.Second
	maxBackoff = 60 * time.Second
)

// NewScheduler creates a scheduler for idx with a worker pool of the
// given size (vinyl.threads, default 1).
func NewScheduler(idx *LSMIndex, quota *Quota, threads int, logger *slog.Logger) *Scheduler {
	if threads <= 0 {
		threads = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	s := &Scheduler{
		idx:      idx,
		logger:   logger,
		heaps:    newSchedulerHeaps(),
		quota:    quota,
		threads:  threads,
		group:    group,
		groupCtx: groupCtx,
		cancel:   cancel,
		sem:      make(chan struct{}, threads),
	}
	s.checkpointCond = sync.NewCond(&s.mu)
	for _, r := range idx.tree.AllStable() {
		s.heaps.Track(r)
	}
	return s
}

// Touch re-fixes both heaps for r after its min_lsn or run_count
// changed (called by the write path after Range.Set / CompleteDump).
func (s *Scheduler) Touch(r *Range) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.dumpHeapIdx < 0 && r.compactHeapIdx < 0 {
		s.heaps.Track(r)
		return
	}
	s.heaps.FixDump(r)
	s.heaps.FixCompact(r)
}

// Untrack removes r from both heaps, e.g. once it is replaced by
// compaction children.
func (s *Scheduler) Untrack(r *Range) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heaps.Untrack(r)
}

// Tick runs one iteration of the scheduler's main loop (§4.8 "Main
// loop"): decide whether a dump or compaction is due, and if so submit
// it to the worker pool. Intended to be called repeatedly by a driving
// goroutine (e.g. on a ticker, or after every write once quota.used
// crosses the watermark).
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	task, ok := s.pickTaskLocked()
	s.mu.Unlock()
	if !ok {
		return
	}
	s.submit(ctx, task)
}

func (s *Scheduler) pickTaskLocked() (schedulerTask, bool) {
	wantDump := false
	if s.quota != nil && s.quota.Used() >= s.quota.Watermark() {
		wantDump = true
	}
	if lsn, ok := s.dirtyMinLSNLocked(); ok && lsn <= s.checkpointLSN {
		wantDump = true
	}

	if wantDump {
		if r := s.heaps.PeekDump(); r != nil {
			s.runIDCounter++
			return &dumpTask{sched: s, r: r, runID: s.runIDCounter, oldestVlsn: s.vlsnFloorOrMax()}, true
		}
	}
	if r := s.heaps.PeekCompact(); r != nil && r.RunCount() >= s.idx.opts.CompactWM {
		s.runIDCounter++
		return &compactTask{sched: s, r: r, runID: s.runIDCounter, oldestVlsn: s.vlsnFloorOrMax()}, true
	}
	return nil, false
}

func (s *Scheduler) dirtyMinLSNLocked() (uint64, bool) {
	if s.dirtyMinLSN == nil {
		return 0, false
	}
	return s.dirtyMinLSN()
}

func (s *Scheduler) vlsnFloorOrMax() uint64 {
	if s.vlsnFloor == nil {
		return ^uint64(0)
	}
	return s.vlsnFloor()
}

// submit hands task to the worker pool and returns without waiting; at
// most s.threads tasks execute at once. A separate goroutine receives
// the task's result over a channel, runs complete or abort (without
// s.mu, since both may call Touch/Untrack), then updates the backoff
// under s.mu and wakes checkpoint waiters.
func (s *Scheduler) submit(ctx context.Context, task schedulerTask) {
	done := make(chan error, 1)
	s.group.Go(func() error {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		err := task.execute(s.groupCtx)
		done <- err
		return nil // errors are surfaced via done, not the group, so one
		           // task's failure never cancels its siblings
	})

	go func() {
		err := <-done
		if err != nil {
			task.abort()
		} else {
			task.complete()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.lastErr = err
			if s.backoff == 0 {
				s.backoff = minBackoff
			} else {
				s.backoff *= 2
				if s.backoff > maxBackoff {
					s.backoff = maxBackoff
				}
			}
			if s.logger != nil {
				s.logger.Warn("scheduler task failed", "error", err, "backoff", s.backoff)
			}
		} else {
			s.backoff = 0
		}
		s.checkpointCond.Broadcast()
	}()
}

// RequestCheckpoint records lsn as checkpoint_lsn (§4.8 "Checkpoint
// request").
func (s *Scheduler) RequestCheckpoint(lsn uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointLSN = lsn
}

// WaitCheckpoint blocks until every dirty mem's min_lsn exceeds
// checkpoint_lsn, or the scheduler is throttled by a failure, in which
// case the last scheduler error is returned.
func (s *Scheduler) WaitCheckpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		lsn, ok := s.dirtyMinLSNLocked()
		if !ok || lsn > s.checkpointLSN {
			return nil
		}
		if s.backoff > 0 {
			return s.lastErr
		}
		s.checkpointCond.Wait()
	}
}

// SetDirtyMinLSNFunc wires the callback used to find the oldest dirty
// mem's min_lsn across all ranges (owned by the Engine, which knows
// the full range set).
func (s *Scheduler) SetDirtyMinLSNFunc(f func() (uint64, bool)) { s.dirtyMinLSN = f }

// SetVLSNFloorFunc wires the callback used to compute oldest_vlsn from
// the transaction manager.
func (s *Scheduler) SetVLSNFloorFunc(f func() uint64) { s.vlsnFloor = f }

// Close cancels in-flight tasks' context and joins the worker pool
// (§5 "Cancellation": "in-flight ones are joined").
func (s *Scheduler) Close() error {
	s.cancel()
	return s.group.Wait()
}

// dumpTask freezes a range's mems and writes them to a new run
// (§4.4 "Dump task").
type dumpTask struct {
	sched      *Scheduler
	r          *Range
	runID      uint64
	oldestVlsn uint64

	dumped []*Mem
	run    *Run
}

func (t *dumpTask) execute(ctx context.Context) error {
	t.dumped = t.r.DumpableMems()
	if len(t.dumped) == 0 {
		return nil
	}
	wi := NewWriteIterator(t.sched.idx.kd, t.dumped, nil, t.oldestVlsn, false, t.sched.logger)
	defer wi.Close()

	opts := t.sched.idx.opts
	w, err := NewRunWriter(t.sched.idx.dir, t.sched.idx.kd, compressorFor(opts), opts.PageSize, opts.LSN, t.r.id, t.runID)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			w.Abort()
			return ctx.Err()
		default:
		}
		s, err := wi.Next()
		if err != nil {
			w.Abort()
			return err
		}
		if s == nil {
			break
		}
		if err := w.Add(s); err != nil {
			w.Abort()
			return err
		}
	}
	if w.IsEmpty() {
		w.Abort()
		t.run = nil
		return nil
	}
	run, err := w.Close()
	if err != nil {
		return err
	}
	t.run = run
	return nil
}

func (t *dumpTask) complete() {
	if len(t.dumped) == 0 {
		return
	}
	if t.run == nil {
		t.r.AbandonDump()
		return
	}
	t.r.CompleteDump(t.dumped, t.run)
	t.sched.idx.tree.AccountDump()
	t.sched.Touch(t.r)
}

func (t *dumpTask) abort() {
	t.r.AbandonDump()
}

// compactTask consumes a range's full content and writes one
// compacted run, splitting into two successor ranges when the split
// condition holds (§4.4 "Compaction task").
type compactTask struct {
	sched      *Scheduler
	r          *Range
	runID      uint64
	oldestVlsn uint64

	mems []*Mem
	runs []*Run
	run  *Run

	splitKey Key
	doSplit  bool

	left, right *Range
}

func (t *compactTask) execute(ctx context.Context) error {
	t.mems = t.r.DumpableMems()
	t.runs = t.r.Runs()

	t.doSplit, t.splitKey = evaluateSplit(t.sched.idx.opts, t.r)
	isLastLevel := !t.doSplit && t.r.NCompactions() >= 1 && len(t.runs) <= 1

	if t.doSplit {
		// Publish the shadow children before the (potentially long)
		// write-iterator pass below so concurrent writers route to them
		// immediately (§4.4: "new mems go to the children") instead of
		// landing in t.r, where they would otherwise be stranded once
		// t.r is unlinked in complete().
		leftID := t.sched.idx.tree.NextRangeID()
		rightID := t.sched.idx.tree.NextRangeID()
		t.left = NewRange(leftID, t.r.begin, t.splitKey, t.sched.idx.kd)
		t.right = NewRange(rightID, t.splitKey, t.r.end, t.sched.idx.kd)
		t.sched.idx.tree.BeginSplit(t.r, []*Range{t.left, t.right})
	}

	wi := NewWriteIterator(t.sched.idx.kd, t.mems, t.runs, t.oldestVlsn, isLastLevel, t.sched.logger)
	defer wi.Close()

	opts := t.sched.idx.opts
	w, err := NewRunWriter(t.sched.idx.dir, t.sched.idx.kd, compressorFor(opts), opts.PageSize, opts.LSN, t.r.id, t.runID)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			w.Abort()
			return ctx.Err()
		default:
		}
		s, err := wi.Next()
		if err != nil {
			w.Abort()
			return err
		}
		if s == nil {
			break
		}
		if err := w.Add(s); err != nil {
			w.Abort()
			return err
		}
	}
	if w.IsEmpty() {
		w.Abort()
		return nil
	}
	run, err := w.Close()
	if err != nil {
		return err
	}
	t.run = run
	return nil
}

func (t *compactTask) complete() {
	consumed := append([]*Run{}, t.runs...)
	if !t.doSplit {
		t.r.ReplaceRuns(consumed, t.run)
		t.sched.Touch(t.r)
		return
	}
	// Split: t.left/t.right were published as shadow children of t.r
	// back in execute(), before the write-iterator pass, so any
	// statement committed while the compaction was running already
	// landed directly in one of them. What's left in t.r itself is
	// whatever arrived in the brief window between snapshotting the
	// consumed mems/runs and BeginSplit — fold that into the correct
	// child by key before unlinking t.r for good.
	left, right := t.left, t.right
	if t.run != nil {
		left.runs = []*Run{t.run}
		right.runs = []*Run{t.run}
		t.run.Ref()
	}
	for _, s := range collectPendingStmts(t.r.DumpableMems()) {
		if compareKeys(t.sched.idx.kd, s.Key, t.splitKey) < 0 {
			left.Set(s, t.sched.logger)
		} else {
			right.Set(s, t.sched.logger)
		}
	}
	if err := t.sched.idx.tree.CommitSplit(t.r, []*Range{left, right}, len(consumed), 1); err != nil {
		t.sched.logger.Warn("compaction split commit failed", "error", err)
		t.sched.idx.tree.AbortSplit([]*Range{left, right})
		return
	}
	t.sched.Untrack(t.r)
	t.sched.Touch(left)
	t.sched.Touch(right)
	for _, run := range consumed {
		run.Unref()
	}
}

func (t *compactTask) abort() {
	if t.doSplit && t.left != nil {
		// t.left/t.right are already published in the tree (execute set
		// them up before the write pass); undo that, first folding back
		// anything writers sent them in the meantime so it isn't lost.
		pending := collectPendingStmts(t.left.DumpableMems())
		pending = append(pending, collectPendingStmts(t.right.DumpableMems())...)
		sort.Slice(pending, func(i, j int) bool { return pending[i].LSN < pending[j].LSN })
		for _, s := range pending {
			t.r.Set(s, t.sched.logger)
		}
		t.sched.idx.tree.AbortSplit([]*Range{t.left, t.right})
	}
	t.r.AbandonDump()
}

// collectPendingStmts gathers every statement sitting in mems, sorted
// by lsn ascending so upsert chains replay in commit order when folded
// into a different range.
func collectPendingStmts(mems []*Mem) []*Stmt {
	var out []*Stmt
	for _, m := range mems {
		out = append(out, m.AllStmts()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LSN < out[j].LSN })
	return out
}

// evaluateSplit implements the split condition from §4.4 "Compaction
// task": n_compactions >= 1 AND the oldest run's total bytes >= 4/3 ×
// range_size AND its median key differs from its first key. The split
// key is the oldest run's middle page's min key.
func evaluateSplit(opts IndexOptions, r *Range) (bool, Key) {
	runs := r.Runs()
	if r.NCompactions() < 1 || len(runs) == 0 {
		return false, nil
	}
	oldest := runs[len(runs)-1]
	if oldest.TotalBytes()*splitSizeDenominator < opts.RangeSize*splitSizeNumerator {
		return false, nil
	}
	mid := oldest.PageCount() / 2
	if mid >= oldest.PageCount() {
		return false, nil
	}
	splitKey := oldest.PageMinKey(mid)
	if oldest.PageCount() > 0 && compareKeys(r.kd, splitKey, oldest.PageMinKey(0)) == 0 {
		return false, nil
	}
	if r.begin != nil && compareKeys(r.kd, splitKey, r.begin) == 0 {
		return false, nil
	}
	return true, splitKey
}
