package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// runDescriptor is one "<index_lsn>.<range_id>.<run_id>" triple parsed
// from a directory entry during recovery (§4.10 step 1).
type runDescriptor struct {
	indexLSN uint64
	rangeID  uint64
	runID    uint64
}

// parseRunFileName parses "<index_lsn:016x>.<range_id:016x>.<run_id:d>.<ext>"
// (§6 "File names").
func parseRunFileName(name string) (runDescriptor, string, bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 4 {
		return runDescriptor{}, "", false
	}
	lsn, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return runDescriptor{}, "", false
	}
	rangeID, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return runDescriptor{}, "", false
	}
	runID, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return runDescriptor{}, "", false
	}
	ext := parts[3]
	if ext != "index" && ext != "run" {
		return runDescriptor{}, "", false
	}
	return runDescriptor{indexLSN: lsn, rangeID: rangeID, runID: runID}, ext, true
}

// Recover implements §4.10 "Recovery": scans idx.Dir(), collects the
// (range_id, run_id) descriptors whose index_lsn matches the index's
// creation lsn, reconstructs ranges in range_id-descending order
// (newest split children first, since a compaction's children get
// higher ids than the range they replaced), and verifies coverage.
func Recover(idx *LSMIndex, logger *slog.Logger) error {
	entries, err := os.ReadDir(idx.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // fresh index, nothing to recover
		}
		return fmt.Errorf("%w: read index dir %s: %v", ErrIO, idx.dir, err)
	}

	seen := make(map[runDescriptor]bool)
	var descriptors []runDescriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		desc, ext, ok := parseRunFileName(e.Name())
		if !ok || ext != "index" {
			continue
		}
		if desc.indexLSN != idx.opts.LSN {
			continue // belongs to a different index incarnation, GC candidate
		}
		if !seen[desc] {
			seen[desc] = true
			descriptors = append(descriptors, desc)
		}
	}

	sort.Slice(descriptors, func(i, j int) bool {
		if descriptors[i].rangeID != descriptors[j].rangeID {
			return descriptors[i].rangeID > descriptors[j].rangeID
		}
		return descriptors[i].runID < descriptors[j].runID
	})

	var rebuilt []*Range
	var curRangeID uint64
	var curRuns []*Run
	haveCur := false

	flush := func() error {
		if !haveCur {
			return nil
		}
		r, err := buildRecoveredRange(idx, curRangeID, curRuns)
		if err != nil {
			return err
		}
		if r != nil {
			rebuilt = append(rebuilt, r)
		}
		return nil
	}

	for _, d := range descriptors {
		if !haveCur || d.rangeID != curRangeID {
			if err := flush(); err != nil {
				return err
			}
			curRangeID = d.rangeID
			curRuns = nil
			haveCur = true
		}
		expectedRunID := uint64(len(curRuns))
		if d.runID != expectedRunID {
			return fmt.Errorf("%w: range %d missing run %d (found %d next)", ErrInvalidRun, d.rangeID, expectedRunID, d.runID)
		}
		run, err := OpenRun(idx.dir, idx.kd, compressorFor(idx.opts), d.indexLSN, d.rangeID, d.runID)
		if err != nil {
			return err
		}
		curRuns = append(curRuns, run)
	}
	if err := flush(); err != nil {
		return err
	}

	if len(rebuilt) == 0 {
		return nil // fresh index
	}

	sort.Slice(rebuilt, func(i, j int) bool {
		return compareKeys(idx.kd, rebuilt[i].begin, rebuilt[j].begin) < 0
	})
	// A run's recorded RangeMin/RangeMax are the extent of the data it
	// happens to hold, not the range's declared boundary: the outermost
	// ranges are always open-ended (only interior split keys are real
	// boundaries), so force -inf/+inf back onto the ends regardless of
	// what the newest run's data touched.
	rebuilt[0].begin = nil
	rebuilt[len(rebuilt)-1].end = nil

	tree := NewRangeTree(idx.kd)
	tree.ranges = rebuilt
	if max := maxRangeID(rebuilt); max > tree.rangeIDMax {
		tree.rangeIDMax = max
	}
	idx.tree = tree

	if err := idx.tree.VerifyCoverage(); err != nil {
		if logger != nil {
			logger.Warn("recovered range tree fails coverage check", "error", err)
		}
		return err
	}
	return nil
}

// buildRecoveredRange derives a range's [begin, end) from its newest
// run's recorded bounds; runs are attached newest-first per the
// invariant in §3 "Range".
func buildRecoveredRange(idx *LSMIndex, rangeID uint64, runs []*Run) (*Range, error) {
	if len(runs) == 0 {
		return nil, nil
	}
	newest := runs[len(runs)-1]
	r := NewRange(rangeID, newest.meta.RangeMin, newest.meta.RangeMax, idx.kd)
	for i := len(runs) - 1; i >= 0; i-- {
		r.runs = append(r.runs, runs[i])
	}
	r.recomputeLocked()
	return r, nil
}

func maxRangeID(ranges []*Range) uint64 {
	var max uint64
	for _, r := range ranges {
		if r.id > max {
			max = r.id
		}
	}
	return max
}

// GC implements §4.10 step 5: after a successful checkpoint, re-scan
// the directory and unlink any run/index file that does not belong to
// a current range.
func GC(idx *LSMIndex, logger *slog.Logger) error {
	entries, err := os.ReadDir(idx.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read index dir %s: %v", ErrIO, idx.dir, err)
	}

	live := make(map[uint64]bool)
	for _, r := range idx.tree.AllStable() {
		live[r.id] = true
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		desc, _, ok := parseRunFileName(e.Name())
		if !ok {
			continue
		}
		if desc.indexLSN != idx.opts.LSN || !live[desc.rangeID] {
			path := filepath.Join(idx.dir, e.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				if logger != nil {
					logger.Warn("gc: failed to remove orphaned file", "path", path, "error", err)
				}
			}
		}
	}
	return nil
}
