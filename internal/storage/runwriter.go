package storage

import (
	"bufio"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring"
	"github.com/arkdb/vinyl/internal/data/compress"
)

// RunWriter builds a new on-disk run from a stream of already-ordered
// statements (the output of the write iterator, §4.5 "Dump" and §4.6
// "Compaction"). Statements must arrive in (key, lsn-descending) order;
// the writer slices them into pages of roughly PageSize bytes each.
type RunWriter struct {
	dir       string
	kd        *KeyDef
	comp      compress.Compressor
	pageSize  int64
	indexLSN  uint64
	rangeID   uint64
	runID     uint64

	file    *os.File
	buf     *bufio.Writer
	offset  int64

	pending     []*Stmt
	pendingSize int64

	pages      []PageInfo
	tombstones *roaring.Bitmap

	minLSN, maxLSN     uint64
	haveLSN            bool
	rangeMin, rangeMax Key
	total              int64
}

// NewRunWriter opens the .run data file for a new run and prepares to
// accept statements. The .index file is only written on Close, once
// all pages are known, so a crash mid-dump never leaves a run that
// "exists" from the recovery scan's point of view (§7 "Recovery").
func NewRunWriter(dir string, kd *KeyDef, comp compress.Compressor, pageSize int64, indexLSN, rangeID, runID uint64) (*RunWriter, error) {
	dataPath := dir + "/" + runFileName(indexLSN, rangeID, runID, "run")
	f, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: create run data file: %v", ErrIO, err)
	}
	return &RunWriter{
		dir:        dir,
		kd:         kd,
		comp:       comp,
		pageSize:   pageSize,
		indexLSN:   indexLSN,
		rangeID:    rangeID,
		runID:      runID,
		file:       f,
		buf:        bufio.NewWriter(f),
		tombstones: roaring.New(),
	}, nil
}

// Add appends one statement. Statements must be handed in ascending
// (key, lsn-descending) order; Add does not re-sort.
func (w *RunWriter) Add(s *Stmt) error {
	w.pending = append(w.pending, s)
	w.pendingSize += s.size()

	if !w.haveLSN {
		w.minLSN, w.maxLSN = s.LSN, s.LSN
		w.haveLSN = true
	} else {
		if s.LSN < w.minLSN {
			w.minLSN = s.LSN
		}
		if s.LSN > w.maxLSN {
			w.maxLSN = s.LSN
		}
	}
	if w.rangeMin == nil || compareKeys(w.kd, s.Key, w.rangeMin) < 0 {
		w.rangeMin = s.Key
	}
	if w.rangeMax == nil || compareKeys(w.kd, s.Key, w.rangeMax) > 0 {
		w.rangeMax = s.Key
	}

	if w.pendingSize >= w.pageSize {
		return w.flushPage()
	}
	return nil
}

func (w *RunWriter) flushPage() error {
	if len(w.pending) == 0 {
		return nil
	}
	p := buildPage(w.pending)
	if p.HasDelete {
		w.tombstones.Add(uint32(len(w.pages)))
	}

	// rawSize is measured before compression; re-derive it from the
	// encoded records rather than paying for a second pass.
	rawSize := int64(0)
	for _, s := range w.pending {
		rawSize += int64(len(encodeStmt(s))) + 4 // + row-index slot
	}

	countBefore := w.offset
	if err := encodePage(w.buf, p, w.comp); err != nil {
		return fmt.Errorf("%w: encode page: %v", ErrIO, err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("%w: flush page: %v", ErrIO, err)
	}
	stat, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat run file: %v", ErrIO, err)
	}
	size := stat.Size() - countBefore

	w.pages = append(w.pages, PageInfo{
		MinKey:  p.MinKey,
		Offset:  countBefore,
		Size:    size,
		RawSize: rawSize,
		MinLSN:  p.MinLSN,
		MaxLSN:  p.MaxLSN,
	})
	w.offset = stat.Size()
	w.total += size

	w.pending = w.pending[:0]
	w.pendingSize = 0
	return nil
}

// Close flushes any pending page, writes the .index file, fsyncs both
// files, and returns the opened Run ready for use.
func (w *RunWriter) Close() (*Run, error) {
	if err := w.flushPage(); err != nil {
		return nil, err
	}
	if err := w.file.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync run data file: %v", ErrIO, err)
	}
	if err := w.file.Close(); err != nil {
		return nil, fmt.Errorf("%w: close run data file: %v", ErrIO, err)
	}

	meta := RunMeta{
		RunID:      w.runID,
		RangeID:    w.rangeID,
		MinLSN:     w.minLSN,
		MaxLSN:     w.maxLSN,
		PageCount:  len(w.pages),
		TotalBytes: w.total,
		RangeMin:   w.rangeMin,
		RangeMax:   w.rangeMax,
	}
	indexPath := w.dir + "/" + runFileName(w.indexLSN, w.rangeID, w.runID, "index")
	if err := writeIndexFile(indexPath, meta, w.pages, w.tombstones); err != nil {
		return nil, err
	}

	return OpenRun(w.dir, w.kd, w.comp, w.indexLSN, w.rangeID, w.runID)
}

// Abort discards a run under construction, e.g. when the write
// iterator errors out mid-dump. It best-effort removes the partial
// data file; no .index file was ever written for it.
func (w *RunWriter) Abort() {
	w.file.Close()
	os.Remove(w.dir + "/" + runFileName(w.indexLSN, w.rangeID, w.runID, "run"))
}

// IsEmpty reports whether no statements were ever added — the caller
// should Abort rather than Close in that case (§4.5: "an empty dump
// produces no run").
func (w *RunWriter) IsEmpty() bool {
	return len(w.pages) == 0 && len(w.pending) == 0
}
