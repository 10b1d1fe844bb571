package storage

import (
	"time"

	"github.com/arkdb/vinyl/internal/data/compress"
)

// compressorFor returns the page compressor a run writer should use
// for an index with the given options. Every index uses LZ4 block
// compression today; this indirection is the seam a future per-index
// "compression" option would hang off.
func compressorFor(opts IndexOptions) compress.Compressor {
	return compress.NewLZ4()
}

// Config holds engine-wide settings. Parsing these out of a config file
// or CLI flags is the host's job (out of scope for the core, per spec
// §1); the engine only needs the typed values.
type Config struct {
	// VinylDir is the root path holding per-index subdirectories
	// "<space_id>/<index_id>".
	VinylDir string

	// MemoryLimit is the byte cap handed to the quota (vinyl.memory_limit).
	MemoryLimit int64

	// Threads is the worker pool size (vinyl.threads). Defaults to 1.
	Threads int

	// CheckpointInterval is carried in the configuration but the engine
	// does not read it: there is no background ticker, and the scheduler
	// is only nudged when a write brings quota usage to the watermark.
	CheckpointInterval time.Duration
}

// DefaultConfig returns the engine defaults used when a field is left
// at its zero value.
func DefaultConfig(vinylDir string) Config {
	return Config{
		VinylDir:           vinylDir,
		MemoryLimit:        64 * 1024 * 1024,
		Threads:            1,
		CheckpointInterval: 500 * time.Millisecond,
	}
}

func (c Config) normalized() Config {
	if c.Threads <= 0 {
		c.Threads = 1
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 64 * 1024 * 1024
	}
	return c
}

// IndexOptions holds the per-index options named in spec §6.
type IndexOptions struct {
	// RangeSize is the target bytes per range before a compaction may
	// split it (range_size).
	RangeSize int64

	// PageSize is the target bytes per run page (page_size).
	PageSize int64

	// CompactWM is the minimum run count that triggers compaction for
	// a range (compact_wm).
	CompactWM int

	// LSN is the index creation lsn, embedded in every run/index
	// filename for this index (lsn).
	LSN uint64
}

// DefaultIndexOptions mirrors the values used in spec §8's end-to-end
// scenarios.
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		RangeSize: 64 * 1024,
		PageSize:  8 * 1024,
		CompactWM: 4,
	}
}

func (o IndexOptions) normalized() IndexOptions {
	if o.RangeSize <= 0 {
		o.RangeSize = 64 * 1024
	}
	if o.PageSize <= 0 {
		o.PageSize = 8 * 1024
	}
	if o.CompactWM <= 0 {
		o.CompactWM = 4
	}
	return o
}

// upsertThreshold bounds the number of chained UPSERTs squashed eagerly
// before a background squash is requested (§4.4, VY_UPSERT_THRESHOLD in
// the original source). Not derived analytically — see DESIGN.md.
const upsertThreshold = 128

// splitSizeNumerator/splitSizeDenominator form the 4/3 factor from
// §4.4's split condition.
const splitSizeNumerator, splitSizeDenominator = 4, 3
