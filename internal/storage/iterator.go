package storage

// RestoreResult is the distinguished outcome of Restore: not an error,
// per §7 "An iterator invalidation caused by concurrent mutation is
// NOT an error".
type RestoreResult int

const (
	RestoreUnchanged RestoreResult = iota
	RestoreMoved
)

// Iterator is the common capability set shared by run_iter, mem_iter,
// and txw_iter (§4.3 "A common iterator capability set").
type Iterator interface {
	// NextKey returns the next statement with a key strictly beyond
	// last's key (nil last means "first"), in the iterator's
	// configured direction, or nil at end of stream.
	NextKey(last *Stmt) (*Stmt, error)

	// NextLSN returns the next (older) statement with the same key as
	// last, or nil if none remains.
	NextLSN(last *Stmt) (*Stmt, error)

	// Restore re-seeks after a possible mutation, given the last
	// delivered statement (or nil).
	Restore(last *Stmt) (RestoreResult, error)

	Close()
}
