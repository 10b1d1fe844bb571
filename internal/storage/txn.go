package storage

import "math"

// TxnType distinguishes read-only from read-write transactions.
type TxnType int

const (
	TxnReadOnly TxnType = iota
	TxnReadWrite
)

// TxnState is a transaction's lifecycle stage.
type TxnState int

const (
	TxnReady TxnState = iota
	TxnCommitted
	TxnRolledBack
)

// vlsnInf marks a RW transaction's read view as "not yet fixed": it
// sees every commit up to whatever lsn it eventually commits at,
// until a conflicting writer demotes it (§3 "Transaction").
const vlsnInf = math.MaxUint64

// writeEntry is one key's pending write within a transaction's
// write-set (§4.7 "set_write").
type writeEntry struct {
	index *LSMIndex
	stmt  *Stmt
}

// readEntry is one key a transaction has observed, tracked so a
// concurrent writer can detect a conflict at prepare time (§4.7
// "track_read").
type readEntry struct {
	index *LSMIndex
	key   Key
	isGap bool
}

// logEntry records one write-set or read-set insertion in commit
// order, so that rollback/savepoint can splice the log and undo each
// entry precisely (§4.7 "rollback / savepoint").
type logEntry struct {
	isWrite bool
	write   writeEntry
	read    readEntry
}

// Txn is one transaction: its write-set and read-set keyed by
// (index, key), and its read view (§3 "Transaction").
type Txn struct {
	tsn   uint64
	typ   TxnType
	state TxnState

	vlsn       uint64
	vlsnFixed  bool
	isAborted  bool

	log []logEntry

	// writes maps (index, string(key)) -> index into log for O(1)
	// merge-on-write (§4.7 "set_write": "If a prior entry exists").
	writes map[txnKey]int
	reads  map[txnKey]bool
}

type txnKey struct {
	index *LSMIndex
	key   string
}

func newTxn(tsn uint64, typ TxnType) *Txn {
	t := &Txn{
		tsn:     tsn,
		typ:     typ,
		state:   TxnReady,
		writes:  make(map[txnKey]int),
		reads:   make(map[txnKey]bool),
	}
	if typ == TxnReadOnly {
		t.vlsn = 0
		t.vlsnFixed = false
	} else {
		t.vlsn = vlsnInf
		t.vlsnFixed = false
	}
	return t
}

func (t *Txn) TSN() uint64    { return t.tsn }
func (t *Txn) Type() TxnType  { return t.typ }
func (t *Txn) State() TxnState { return t.state }
func (t *Txn) VLSN() uint64   { return t.vlsn }
func (t *Txn) IsAborted() bool { return t.isAborted }

// Savepoint is an opaque marker into the transaction's log, returned
// by Savepoint and consumed by RollbackToSavepoint.
type Savepoint int

func (t *Txn) savepoint() Savepoint { return Savepoint(len(t.log)) }

// writeSet returns the transaction's merged per-key writes in commit
// order, for the prepare/commit path.
func (t *Txn) writeSet() []writeEntry {
	out := make([]writeEntry, 0, len(t.writes))
	for _, e := range t.log {
		if e.isWrite {
			out = append(out, e.write)
		}
	}
	return out
}
