package storage

// IndexStats summarizes one index's current shape for introspection
// (§6 "Introspection"): range/run counts, bytes, and the quota's view
// of memory pressure.
type IndexStats struct {
	Name          string
	RangeCount    int
	RunCount      int
	StmtCount     int64
	SizeBytes     int64
	QuotaUsed     int64
	QuotaLimit    int64
	QuotaWatermark int64
}

// Stats implements the box.stat()-style per-index introspection call.
func (e *Engine) Stats(space, indexName string) (IndexStats, bool) {
	idx, ok := e.Index(space, indexName)
	if !ok {
		return IndexStats{}, false
	}
	rangeCount, runCount, stmtCount, sizeBytes := idx.tree.Stats()
	return IndexStats{
		Name:           idx.Name,
		RangeCount:     rangeCount,
		RunCount:       runCount,
		StmtCount:      stmtCount,
		SizeBytes:      sizeBytes,
		QuotaUsed:      e.quota.Used(),
		QuotaLimit:     e.quota.Limit(),
		QuotaWatermark: e.quota.Watermark(),
	}, true
}

// AllStats returns stats for every currently open index.
func (e *Engine) AllStats() []IndexStats {
	e.mu.RLock()
	names := make([]string, 0, len(e.indexes))
	for name := range e.indexes {
		names = append(names, name)
	}
	e.mu.RUnlock()

	out := make([]IndexStats, 0, len(names))
	for _, name := range names {
		e.mu.RLock()
		ei := e.indexes[name]
		e.mu.RUnlock()
		if ei == nil {
			continue
		}
		rangeCount, runCount, stmtCount, sizeBytes := ei.idx.tree.Stats()
		out = append(out, IndexStats{
			Name:           ei.idx.Name,
			RangeCount:     rangeCount,
			RunCount:       runCount,
			StmtCount:      stmtCount,
			SizeBytes:      sizeBytes,
			QuotaUsed:      e.quota.Used(),
			QuotaLimit:     e.quota.Limit(),
			QuotaWatermark: e.quota.Watermark(),
		})
	}
	return out
}
