package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/arkdb/vinyl/internal/data/bitmap"
	"github.com/arkdb/vinyl/internal/data/compress"
)

// PageInfo is one page-index entry (§3 "Run": "page-info records").
type PageInfo struct {
	MinKey  Key
	Offset  int64
	Size    int64
	RawSize int64
	MinLSN  uint64
	MaxLSN  uint64
}

// RunMeta is a run's metadata record (§3 "Run").
type RunMeta struct {
	RunID     uint64
	RangeID   uint64
	MinLSN    uint64
	MaxLSN    uint64
	PageCount int
	TotalBytes int64
	RangeMin  Key
	RangeMax  Key
}

// runFileName builds the "<index_lsn:016x>.<range_id:016x>.<run_id:d>.<ext>"
// name from spec §6.
func runFileName(indexLSN, rangeID, runID uint64, ext string) string {
	return fmt.Sprintf("%016x.%016x.%d.%s", indexLSN, rangeID, runID, ext)
}

// Run is an on-disk immutable sorted file (§3 "Run"). The data file
// descriptor is refcounted: a background reader (e.g. a page load
// issued by an iterator right before the run is swapped out) may hold
// a reference past the run's logical death; the fd only closes when
// the last ref is released (§5 "Shared resources").
type Run struct {
	meta  RunMeta
	pages []PageInfo
	kd    *KeyDef
	comp  compress.Compressor

	dataPath string

	mu       sync.Mutex
	file     *os.File
	refs     int32
	tombstonePages *roaring.Bitmap

	cache pageCache
}

// pageCache is an LRU of the two most recently decoded pages per open
// run (§4.3.1 "page cache of size 2").
type pageCache struct {
	mu      sync.Mutex
	idx     [2]int
	pages   [2]*Page
	filled  [2]bool
}

func (c *pageCache) get(i int) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for slot := 0; slot < 2; slot++ {
		if c.filled[slot] && c.idx[slot] == i {
			return c.pages[slot], true
		}
	}
	return nil, false
}

func (c *pageCache) put(i int, p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Evict slot 0 (simple 2-entry FIFO/LRU: newest always goes to
	// slot 1, prior occupant of slot 1 moves to slot 0).
	c.idx[0], c.pages[0], c.filled[0] = c.idx[1], c.pages[1], c.filled[1]
	c.idx[1], c.pages[1], c.filled[1] = i, p, true
}

// OpenRun opens an existing run's .index and .run files.
func OpenRun(dir string, kd *KeyDef, comp compress.Compressor, indexLSN, rangeID, runID uint64) (*Run, error) {
	indexPath := filepath.Join(dir, runFileName(indexLSN, rangeID, runID, "index"))
	dataPath := filepath.Join(dir, runFileName(indexLSN, rangeID, runID, "run"))

	meta, pages, tombstones, err := readIndexFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open run index %s: %v", ErrInvalidRun, indexPath, err)
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open run data %s: %v", ErrIO, dataPath, err)
	}

	return &Run{
		meta:           meta,
		pages:          pages,
		kd:             kd,
		comp:           comp,
		dataPath:       dataPath,
		file:           f,
		refs:           1,
		tombstonePages: tombstones,
	}, nil
}

// Ref increments the run's fd refcount; callers (e.g. a background
// page-load goroutine) must pair every Ref with an Unref.
func (r *Run) Ref() { atomic.AddInt32(&r.refs, 1) }

// Unref decrements the refcount, closing the fd once it reaches zero —
// even if the run has already been logically deleted from its range
// (§5 "Shared resources").
func (r *Run) Unref() {
	if atomic.AddInt32(&r.refs, -1) == 0 {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.file != nil {
			r.file.Close()
			r.file = nil
		}
	}
}

func (r *Run) MinLSN() uint64    { return r.meta.MinLSN }
func (r *Run) MaxLSN() uint64    { return r.meta.MaxLSN }
func (r *Run) PageCount() int    { return len(r.pages) }
func (r *Run) TotalBytes() int64 { return r.meta.TotalBytes }
func (r *Run) RunID() uint64     { return r.meta.RunID }

// PageMinKey returns the min key of page i, used by the run iterator's
// binary search over pages (§4.3.1).
func (r *Run) PageMinKey(i int) Key { return r.pages[i].MinKey }

// TombstonePageCount reports how many pages contain at least one
// DELETE — used by the scheduler to prioritize compaction of runs
// with the most reclaimable dead space.
func (r *Run) TombstonePageCount() int {
	if r.tombstonePages == nil {
		return 0
	}
	return int(r.tombstonePages.GetCardinality())
}

// ReadPage returns the decoded page at index i, using the 2-entry
// cache before falling back to disk.
func (r *Run) ReadPage(i int) (*Page, error) {
	if i < 0 || i >= len(r.pages) {
		return nil, fmt.Errorf("%w: page index %d out of range", ErrInvalidRun, i)
	}
	if p, ok := r.cache.get(i); ok {
		return p, nil
	}

	r.mu.Lock()
	f := r.file
	r.mu.Unlock()
	if f == nil {
		return nil, fmt.Errorf("%w: run fd closed", ErrIO)
	}

	info := r.pages[i]
	section := io.NewSectionReader(f, info.Offset, info.Size)
	p, err := decodePage(section, r.comp)
	if err != nil {
		return nil, fmt.Errorf("%w: decode page %d: %v", ErrInvalidRun, i, err)
	}
	r.cache.put(i, p)
	return p, nil
}

// --- index file encoding -----------------------------------------------
//
// .index contents, per spec §6: one RUN record followed by page_count
// PAGE records. Encoded here as a simple length-prefixed binary stream
// rather than the original's IPROTO/msgpack framing — the meta-space
// indirection (BOX_VINYL_RUN_ID etc.) is host wire-protocol machinery
// that is explicitly out of scope (§1).

func writeIndexFile(path string, meta RunMeta, pages []PageInfo, tombstones *roaring.Bitmap) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create index file: %v", ErrIO, err)
	}
	w := bufio.NewWriter(f)

	writeUint64(w, meta.RunID)
	writeUint64(w, meta.RangeID)
	writeUint64(w, meta.MinLSN)
	writeUint64(w, meta.MaxLSN)
	writeUint32(w, uint32(meta.PageCount))
	writeUint64(w, uint64(meta.TotalBytes))
	writeKey(w, meta.RangeMin)
	writeKey(w, meta.RangeMax)

	for _, pi := range pages {
		writeKey(w, pi.MinKey)
		writeUint64(w, uint64(pi.Offset))
		writeUint64(w, uint64(pi.Size))
		writeUint64(w, uint64(pi.RawSize))
		writeUint64(w, pi.MinLSN)
		writeUint64(w, pi.MaxLSN)
	}

	if tombstones == nil {
		tombstones = roaring.New()
	}
	tsBytes, err := bitmap.ToBytes(tombstones)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: serialize tombstone bitmap: %v", ErrIO, err)
	}
	writeUint32(w, uint32(len(tsBytes)))
	w.Write(tsBytes)

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: flush index file: %v", ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync index file: %v", ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close index file: %v", ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename index file: %v", ErrIO, err)
	}
	return nil
}

func readIndexFile(path string) (RunMeta, []PageInfo, *roaring.Bitmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunMeta{}, nil, nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var meta RunMeta
	meta.RunID = readUint64(r)
	meta.RangeID = readUint64(r)
	meta.MinLSN = readUint64(r)
	meta.MaxLSN = readUint64(r)
	meta.PageCount = int(readUint32(r))
	meta.TotalBytes = int64(readUint64(r))
	meta.RangeMin = readKey(r)
	meta.RangeMax = readKey(r)

	pages := make([]PageInfo, meta.PageCount)
	for i := range pages {
		pages[i] = PageInfo{
			MinKey:  readKey(r),
			Offset:  int64(readUint64(r)),
			Size:    int64(readUint64(r)),
			RawSize: int64(readUint64(r)),
			MinLSN:  readUint64(r),
			MaxLSN:  readUint64(r),
		}
	}

	tsLen := readUint32(r)
	tsBytes := make([]byte, tsLen)
	io.ReadFull(r, tsBytes)
	tombstones := roaring.New()
	if tsLen > 0 {
		decoded, err := bitmap.FromBytes(tsBytes)
		if err != nil {
			return RunMeta{}, nil, nil, fmt.Errorf("decode tombstone bitmap: %w", err)
		}
		tombstones = decoded
	}

	return meta, pages, tombstones, nil
}

func writeUint64(w io.Writer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeUint32(w io.Writer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func readUint64(r io.Reader) uint64 {
	var b [8]byte
	io.ReadFull(r, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func readUint32(r io.Reader) uint32 {
	var b [4]byte
	io.ReadFull(r, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func writeKey(w io.Writer, k Key) {
	writeUint32(w, uint32(len(k)))
	for _, p := range k {
		writeUint32(w, uint32(len(p)))
		w.Write(p)
	}
}

func readKey(r io.Reader) Key {
	n := readUint32(r)
	if n == 0 {
		return nil
	}
	k := make(Key, n)
	for i := range k {
		l := readUint32(r)
		b := make([]byte, l)
		io.ReadFull(r, b)
		k[i] = b
	}
	return k
}
