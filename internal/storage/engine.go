package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Engine is the single top-level value holding all engine state, the
// Go analogue of the original's process-wide env with background
// threads (§9 "Global mutable state"): one value initialized at
// startup, torn down before exit, with every index, the transaction
// manager, and every scheduler reachable from it.
type Engine struct {
	mu sync.RWMutex

	cfg    Config
	logger *slog.Logger

	quota *Quota
	txm   *TxnManager

	indexes map[string]*engineIndex

	closed bool
}

type engineIndex struct {
	idx       *LSMIndex
	scheduler *Scheduler
}

// NewEngine creates an engine (env_new, §6 "Host API"). Indexes are
// opened with CreateIndex, which also recovers any runs already on disk.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	cfg = cfg.normalized()
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		quota:   NewQuota(cfg.MemoryLimit),
		txm:     NewTxnManager(0, logger),
		indexes: make(map[string]*engineIndex),
	}
	return e
}

// CreateIndex implements index_new: creates (or, if present on disk,
// recovers) the index rooted at "<vinyl_dir>/<space>/<indexName>".
func (e *Engine) CreateIndex(space, indexName string, kd *KeyDef, opts IndexOptions, unique bool) (*LSMIndex, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	key := space + "/" + indexName
	if _, exists := e.indexes[key]; exists {
		return nil, fmt.Errorf("vinyl: index %s already open", key)
	}

	dir := filepath.Join(e.cfg.VinylDir, space, indexName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create index dir: %v", ErrIO, err)
	}

	idx := NewLSMIndex(key, kd, opts, unique, dir)
	if err := Recover(idx, e.logger); err != nil {
		return nil, err
	}

	sched := NewScheduler(idx, e.quota, e.cfg.Threads, e.logger)
	sched.SetVLSNFloorFunc(e.txm.VLSNFloor)
	sched.SetDirtyMinLSNFunc(func() (uint64, bool) { return dirtyMinLSN(idx) })
	e.quota.SetNudge(func() { sched.Tick(context.Background()) })

	e.indexes[key] = &engineIndex{idx: idx, scheduler: sched}
	return idx, nil
}

// Index looks up an already-open index by "space/indexName".
func (e *Engine) Index(space, indexName string) (*LSMIndex, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ei, ok := e.indexes[space+"/"+indexName]
	if !ok {
		return nil, false
	}
	return ei.idx, true
}

// DropIndex implements index_drop: stops the index's scheduler and
// unlinks its directory.
func (e *Engine) DropIndex(space, indexName string) error {
	e.mu.Lock()
	key := space + "/" + indexName
	ei, ok := e.indexes[key]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.indexes, key)
	e.mu.Unlock()

	if err := ei.scheduler.Close(); err != nil {
		e.logger.Warn("index drop: scheduler close error", "index", key, "error", err)
	}
	return os.RemoveAll(ei.idx.dir)
}

// dirtyMinLSN finds the oldest min_lsn among all of idx's ranges.
func dirtyMinLSN(idx *LSMIndex) (uint64, bool) {
	var min uint64
	found := false
	for _, r := range idx.tree.AllStable() {
		lsn, ok := r.MinLSN()
		if !ok {
			continue
		}
		if !found || lsn < min {
			min, found = lsn, true
		}
	}
	return min, found
}

// Begin implements begin(env) -> tx.
func (e *Engine) Begin(typ TxnType) (*Txn, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrEngineClosed
	}
	return e.txm.Begin(typ), nil
}

// Replace implements data.replace: set_write a REPLACE for key/value.
func (e *Engine) Replace(txn *Txn, idx *LSMIndex, key Key, value []byte) error {
	return e.setWrite(txn, idx, &Stmt{Type: StmtReplace, Key: key, Value: value})
}

// DeleteKey implements data.delete_key.
func (e *Engine) DeleteKey(txn *Txn, idx *LSMIndex, key Key) error {
	return e.setWrite(txn, idx, &Stmt{Type: StmtDelete, Key: key})
}

// Upsert implements data.upsert.
func (e *Engine) Upsert(txn *Txn, idx *LSMIndex, key Key, value []byte, ops []UpsertOp) error {
	if idx.unique && len(ops) > 0 {
		for _, op := range ops {
			if op.FieldIndex == 0 {
				return ErrCantUpdatePrimaryKey
			}
		}
	}
	return e.setWrite(txn, idx, &Stmt{Type: StmtUpsert, Key: key, Value: value, Ops: ops})
}

func (e *Engine) setWrite(txn *Txn, idx *LSMIndex, stmt *Stmt) error {
	if txn.isAborted {
		return ErrTransactionConflict
	}
	e.txm.SetWrite(idx, txn, stmt)
	return nil
}

// Get implements data.get: a point lookup by key at txn's read view.
// part_count < full on a non-unique index always returns
// ErrMoreThanOneTuple (§8 "Boundary behaviors"), even with zero actual
// matches, since the core cannot prove uniqueness of a partial-key
// range without scanning it.
func (e *Engine) Get(txn *Txn, idx *LSMIndex, key Key) (*Stmt, error) {
	if !idx.unique && !isFullKey(idx.kd, key) {
		return nil, ErrMoreThanOneTuple
	}
	e.txm.TrackRead(idx, txn, key, false)

	vlsn := e.readViewLSN(txn)
	it := NewReadIter(idx, txn, vlsn, IterEQ, key, e.logger)
	defer it.Close()
	s, err := it.Next()
	if err != nil {
		return nil, err
	}
	if s == nil {
		e.txm.TrackRead(idx, txn, key, true)
		return nil, ErrTupleNotFound
	}
	return s, nil
}

func (e *Engine) readViewLSN(txn *Txn) uint64 {
	if txn.vlsnFixed {
		return txn.vlsn
	}
	return e.currentLSN()
}

func (e *Engine) currentLSN() uint64 {
	e.txm.mu.Lock()
	defer e.txm.mu.Unlock()
	return e.txm.lsn
}

// Cursor implements cursor open/next/close via ReadIter directly; it
// is exported as a thin constructor since ReadIter already satisfies
// the contract.
func (e *Engine) Cursor(txn *Txn, idx *LSMIndex, itype IterType, key Key) *ReadIter {
	vlsn := e.readViewLSN(txn)
	return NewReadIter(idx, txn, vlsn, itype, key, e.logger)
}

// Prepare implements prepare(tx).
func (e *Engine) Prepare(txn *Txn) error { return e.txm.Prepare(txn) }

// Commit implements commit(tx, lsn): applies every write into its
// covering range, charges the quota, and nudges each touched index's
// scheduler.
func (e *Engine) Commit(txn *Txn, lsn uint64) error {
	touched := make(map[*LSMIndex]bool)
	for _, w := range txn.writeSet() {
		touched[w.index] = true
	}
	if err := e.txm.Commit(txn, lsn); err != nil {
		return err
	}
	for _, w := range txn.writeSet() {
		e.quota.Use(w.stmt.size())
	}
	e.mu.RLock()
	for idx := range touched {
		if ei, ok := e.indexes[idx.Name]; ok {
			for _, r := range idx.tree.AllStable() {
				ei.scheduler.Touch(r)
			}
		}
	}
	e.mu.RUnlock()
	return nil
}

// Rollback implements rollback(tx).
func (e *Engine) Rollback(txn *Txn) { e.txm.Rollback(txn) }

// Savepoint / RollbackToSavepoint implement the eponymous host API.
func (e *Engine) Savepoint(txn *Txn) Savepoint { return e.txm.Savepoint(txn) }
func (e *Engine) RollbackToSavepoint(txn *Txn, sp Savepoint) {
	e.txm.RollbackToSavepoint(txn, sp)
}

// Close tears down every index's scheduler (env_delete).
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	indexes := e.indexes
	e.mu.Unlock()

	var firstErr error
	for _, ei := range indexes {
		if err := ei.scheduler.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
