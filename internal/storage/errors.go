package storage

import "errors"

// Error taxonomy. The engine only ever returns one of these (optionally
// wrapped with extra context via %w) — see spec §6 "Error surface" and
// §7 "Error handling design". Callers should compare with errors.Is.
var (
	// ErrOutOfMemory is returned when an allocation fails. Any partial
	// operation is rolled back before this is surfaced.
	ErrOutOfMemory = errors.New("vinyl: out of memory")

	// ErrIO covers read/write/fsync failures. Background tasks (dump,
	// compaction, squash) abort and the scheduler throttles; already
	// committed data is never lost.
	ErrIO = errors.New("vinyl: io error")

	// ErrInvalidRun is returned when a run file fails an on-disk
	// invariant during recovery (corrupt page index, bad CRC, ...).
	ErrInvalidRun = errors.New("vinyl: invalid run")

	// ErrFormatMismatch is returned when a file's header does not match
	// the engine's expected filetype/version.
	ErrFormatMismatch = errors.New("vinyl: format mismatch")

	// ErrTupleFound is returned by a unique-constrained replace/insert
	// that collides with an existing tuple.
	ErrTupleFound = errors.New("vinyl: tuple found")

	// ErrTupleNotFound is returned by Get with a full key when no tuple
	// matches. Never returned by iteration.
	ErrTupleNotFound = errors.New("vinyl: tuple not found")

	// ErrCantUpdatePrimaryKey is returned when an UPSERT's update
	// program would modify a primary-key field.
	ErrCantUpdatePrimaryKey = errors.New("vinyl: upsert cannot update primary key")

	// ErrTransactionConflict is returned synchronously from Prepare;
	// the engine never retries on behalf of the caller.
	ErrTransactionConflict = errors.New("vinyl: transaction conflict")

	// ErrMoreThanOneTuple is returned by Get when a partial key is used
	// against a non-unique index (ambiguous point lookup).
	ErrMoreThanOneTuple = errors.New("vinyl: more than one tuple matches")

	// ErrUpsertUniqueSecondaryKey is returned when an UPSERT targets a
	// unique secondary index, which the engine cannot apply safely.
	ErrUpsertUniqueSecondaryKey = errors.New("vinyl: upsert on unique secondary key")

	// ErrEngineClosed is returned by any call made after Close.
	ErrEngineClosed = errors.New("vinyl: engine is closed")
)
