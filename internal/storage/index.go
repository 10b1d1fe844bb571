package storage

import (
	"log/slog"
	"sync"
)

// LSMIndex is one logical index: a key definition, its options, the
// range tree holding its data, and the per-key read-set used for
// conflict detection (§3 "Index (LSM)", §4.7 "track_read").
type LSMIndex struct {
	Name string

	kd   *KeyDef
	opts IndexOptions
	tree *RangeTree

	dir string // "<vinyl_dir>/<space_id>/<index_id>"

	unique bool

	mu       sync.Mutex
	readSet  map[string][]*readSetEntry
}

type readSetEntry struct {
	txn   *Txn
	isGap bool
}

// NewLSMIndex creates an empty index rooted at dir.
func NewLSMIndex(name string, kd *KeyDef, opts IndexOptions, unique bool, dir string) *LSMIndex {
	return &LSMIndex{
		Name:    name,
		kd:      kd,
		opts:    opts.normalized(),
		tree:    NewRangeTree(kd),
		dir:     dir,
		unique:  unique,
		readSet: make(map[string][]*readSetEntry),
	}
}

func (idx *LSMIndex) KeyDef() *KeyDef       { return idx.kd }
func (idx *LSMIndex) Options() IndexOptions { return idx.opts }
func (idx *LSMIndex) Tree() *RangeTree      { return idx.tree }
func (idx *LSMIndex) Dir() string           { return idx.dir }
func (idx *LSMIndex) Unique() bool          { return idx.unique }

// Bsize reports the index's approximate byte size (index_bsize, §6
// "Host API").
func (idx *LSMIndex) Bsize() int64 {
	_, _, _, sizeBytes := idx.tree.Stats()
	return sizeBytes
}

// keyString builds a collision-free map key from a Key's parts: each
// part is length-prefixed so "ab"+"c" cannot collide with "a"+"bc".
func keyString(k Key) string {
	var b []byte
	for _, p := range k {
		var lenBuf [4]byte
		lenBuf[0] = byte(len(p))
		lenBuf[1] = byte(len(p) >> 8)
		lenBuf[2] = byte(len(p) >> 16)
		lenBuf[3] = byte(len(p) >> 24)
		b = append(b, lenBuf[:]...)
		b = append(b, p...)
	}
	return string(b)
}

// trackRead records that txn observed key (§4.7 "track_read"): no-op
// for RO or already-aborted txns, and skipped if txn already holds a
// write on this key (a transaction never conflicts with itself).
func (idx *LSMIndex) trackRead(key Key, txn *Txn, isGap bool) {
	if txn.typ == TxnReadOnly || txn.isAborted {
		return
	}
	if _, hasWrite := txn.writes[txnKey{idx, keyString(key)}]; hasWrite {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ks := keyString(key)
	idx.readSet[ks] = append(idx.readSet[ks], &readSetEntry{txn: txn, isGap: isGap})
}

// untrackReadsFor removes every read-set entry belonging to txn,
// called on rollback/savepoint-splice (§4.7 "rollback").
func (idx *LSMIndex) untrackReadsFor(txn *Txn) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for ks, entries := range idx.readSet {
		kept := entries[:0:0]
		for _, e := range entries {
			if e.txn != txn {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(idx.readSet, ks)
		} else {
			idx.readSet[ks] = kept
		}
	}
}

// readersAt returns the read-set entries for key, for prepare-time
// conflict resolution.
func (idx *LSMIndex) readersAt(key Key) []*readSetEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entries := idx.readSet[keyString(key)]
	out := make([]*readSetEntry, len(entries))
	copy(out, entries)
	return out
}

// apply links stmt into the covering range (the write path's terminal
// step, shared by commit and recovery replay).
func (idx *LSMIndex) apply(stmt *Stmt, logger *slog.Logger) {
	r := idx.tree.FindForWrite(stmt.Key)
	if r == nil {
		return
	}
	sizeBefore := r.UsedBytes()
	r.Set(stmt, logger)
	sizeAfter := r.UsedBytes()
	idx.tree.AccountInsert(sizeAfter - sizeBefore)
}
