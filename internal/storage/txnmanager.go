package storage

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// TxnManager assigns txn ids, maintains the ordered set of active read
// views, and exposes the transaction control surface of §4.7 (§3
// "Transaction manager").
type TxnManager struct {
	mu sync.Mutex

	logger *slog.Logger

	nextTSN uint64
	lsn     uint64

	roCount, rwCount int

	// readViews holds the active transactions with a fixed read view, in
	// the order they were fixed (sortReadViews orders them by (vlsn,
	// tsn)), used to compute vlsn_floor.
	readViews []*Txn
}

// NewTxnManager creates a manager seeded at the given starting lsn
// (e.g. the vclock sum at the end of recovery, §4.7 "At recovery").
func NewTxnManager(startLSN uint64, logger *slog.Logger) *TxnManager {
	return &TxnManager{lsn: startLSN, logger: logger}
}

// Begin allocates a new transaction; RO transactions fix their read
// view to the current lsn immediately (§4.7 "begin").
func (tm *TxnManager) Begin(typ TxnType) *Txn {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.nextTSN++
	txn := newTxn(tm.nextTSN, typ)
	if typ == TxnReadOnly {
		txn.vlsn = tm.lsn
		txn.vlsnFixed = true
		tm.readViews = append(tm.readViews, txn)
		tm.roCount++
	} else {
		tm.rwCount++
	}
	return txn
}

// VLSNFloor returns min(active read-view vlsn, current lsn): anything
// with lsn <= floor is safe to merge/drop (§3 "Transaction manager").
func (tm *TxnManager) VLSNFloor() uint64 {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	floor := tm.lsn
	for _, t := range tm.readViews {
		if t.vlsnFixed && t.vlsn < floor {
			floor = t.vlsn
		}
	}
	return floor
}

// TrackRead implements §4.7 "track_read".
func (tm *TxnManager) TrackRead(idx *LSMIndex, txn *Txn, key Key, isGap bool) {
	if txn.typ == TxnReadOnly || txn.isAborted {
		return
	}
	if _, hasWrite := txn.writes[txnKey{idx, keyString(key)}]; hasWrite {
		return
	}
	idx.trackRead(key, txn, isGap)
	txn.log = append(txn.log, logEntry{isWrite: false, read: readEntry{index: idx, key: key, isGap: isGap}})
}

// SetWrite implements §4.7 "set_write": merges stmt into the txn's
// write-set for (idx, stmt.Key), combining with any prior entry.
func (tm *TxnManager) SetWrite(idx *LSMIndex, txn *Txn, stmt *Stmt) {
	k := txnKey{idx, keyString(stmt.Key)}
	if pos, ok := txn.writes[k]; ok {
		prior := txn.log[pos].write.stmt
		merged := mergeWriteSet(tm.kdFor(idx), prior, stmt, tm.logger)
		txn.log[pos].write.stmt = merged
		return
	}
	txn.log = append(txn.log, logEntry{isWrite: true, write: writeEntry{index: idx, stmt: stmt}})
	txn.writes[k] = len(txn.log) - 1
}

func (tm *TxnManager) kdFor(idx *LSMIndex) *KeyDef { return idx.kd }

// mergeWriteSet implements the three cases of §4.7 "set_write": a new
// UPSERT over an old UPSERT combines ops; a new UPSERT over
// REPLACE/DELETE applies immediately; anything else replaces.
func mergeWriteSet(kd *KeyDef, old, new *Stmt, logger *slog.Logger) *Stmt {
	if new.Type != StmtUpsert {
		return new
	}
	if old.Type == StmtUpsert {
		combined := old.clone()
		combined.Ops = squashOps(old.Ops, new.Ops)
		combined.LSN = new.LSN
		combined.Value = new.Value
		return combined
	}
	return applyUpsert(kd, new, old, logger)
}

// Prepare implements §4.7 "prepare": fails if the txn was already
// marked aborted by a racing writer; otherwise, for every write,
// demotes every +inf reader at that key to a fixed vlsn, except gap
// readers at a DELETE (which never conflict).
func (tm *TxnManager) Prepare(txn *Txn) error {
	if txn.isAborted {
		return fmt.Errorf("%w: txn %d was aborted by a concurrent writer", ErrTransactionConflict, txn.tsn)
	}

	tm.mu.Lock()
	currentLSN := tm.lsn
	tm.mu.Unlock()

	for _, w := range txn.writeSet() {
		for _, reader := range w.index.readersAt(w.stmt.Key) {
			if reader.txn == txn {
				continue
			}
			if reader.isGap && w.stmt.Type == StmtDelete {
				continue
			}
			if reader.txn.vlsnFixed {
				continue
			}
			reader.txn.vlsn = currentLSN
			reader.txn.vlsnFixed = true
			tm.mu.Lock()
			tm.readViews = append(tm.readViews, reader.txn)
			tm.mu.Unlock()
			reader.txn.isAborted = true
		}
	}
	return nil
}

// Commit implements §4.7 "commit": stamps every write with lsn,
// applies it into its covering range, then releases the transaction's
// tracking state. lsn must be monotonic and is supplied by the host's
// WAL.
func (tm *TxnManager) Commit(txn *Txn, lsn uint64) error {
	tm.mu.Lock()
	if lsn > tm.lsn {
		tm.lsn = lsn
	}
	tm.mu.Unlock()

	for _, w := range txn.writeSet() {
		stamped := w.stmt.clone()
		stamped.LSN = lsn
		w.index.apply(stamped, tm.logger)
	}

	txn.state = TxnCommitted
	tm.release(txn)
	return nil
}

// Rollback implements §4.7 "rollback": discards the whole log.
func (tm *TxnManager) Rollback(txn *Txn) {
	for _, idx := range txn.touchedIndexes() {
		idx.untrackReadsFor(txn)
	}
	txn.state = TxnRolledBack
	tm.release(txn)
}

// Savepoint returns a marker usable with RollbackToSavepoint (§4.7
// "savepoint").
func (tm *TxnManager) Savepoint(txn *Txn) Savepoint { return txn.savepoint() }

// RollbackToSavepoint splices the log back to sp, undoing every entry
// recorded since: removed reads drop from their index's read-set,
// removed writes drop from the txn's write-set (§4.7
// "rollback_to_savepoint").
func (tm *TxnManager) RollbackToSavepoint(txn *Txn, sp Savepoint) {
	cut := int(sp)
	if cut > len(txn.log) {
		cut = len(txn.log)
	}
	for i := len(txn.log) - 1; i >= cut; i-- {
		e := txn.log[i]
		if e.isWrite {
			delete(txn.writes, txnKey{e.write.index, keyString(e.write.stmt.Key)})
		} else {
			idx, ks := e.read.index, keyString(e.read.key)
			idx.mu.Lock()
			entries := idx.readSet[ks]
			for j := len(entries) - 1; j >= 0; j-- {
				if entries[j].txn == txn {
					idx.readSet[ks] = append(entries[:j:j], entries[j+1:]...)
					break
				}
			}
			idx.mu.Unlock()
		}
	}
	txn.log = txn.log[:cut]
}

func (tm *TxnManager) release(txn *Txn) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if txn.typ == TxnReadOnly {
		tm.roCount--
	} else {
		tm.rwCount--
	}
	for i, t := range tm.readViews {
		if t == txn {
			tm.readViews = append(tm.readViews[:i], tm.readViews[i+1:]...)
			break
		}
	}
}

// touchedIndexes returns the distinct indexes referenced by the txn's
// log, for rollback's read-set cleanup.
func (t *Txn) touchedIndexes() []*LSMIndex {
	seen := make(map[*LSMIndex]bool)
	var out []*LSMIndex
	for _, e := range t.log {
		var idx *LSMIndex
		if e.isWrite {
			idx = e.write.index
		} else {
			idx = e.read.index
		}
		if idx != nil && !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// sortReadViews keeps readViews ordered by (vlsn, tsn) as entries are
// fixed out of order by Prepare; callers that need the ordering
// (VLSNFloor does not) should call this first.
func (tm *TxnManager) sortReadViews() {
	sort.Slice(tm.readViews, func(i, j int) bool {
		a, b := tm.readViews[i], tm.readViews[j]
		if a.vlsn != b.vlsn {
			return a.vlsn < b.vlsn
		}
		return a.tsn < b.tsn
	})
}
