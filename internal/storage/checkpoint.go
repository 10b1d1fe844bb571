package storage

import (
	"fmt"
	"sync"
)

// Checkpoint implements checkpoint(env) (§6 "Host API", §4.10
// "Checkpointing"): stamps the current lsn as every index's
// checkpoint_lsn, waits for each to drain its dirty mems via a dump,
// then runs GC to unlink files left behind by superseded runs.
func (e *Engine) Checkpoint() error {
	lsn := e.currentLSN()
	e.mu.RLock()
	indexes := make([]*engineIndex, 0, len(e.indexes))
	for _, ei := range e.indexes {
		indexes = append(indexes, ei)
	}
	e.mu.RUnlock()

	for _, ei := range indexes {
		ei.scheduler.RequestCheckpoint(lsn)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(indexes))
	for i, ei := range indexes {
		wg.Add(1)
		go func(i int, ei *engineIndex) {
			defer wg.Done()
			errs[i] = ei.scheduler.WaitCheckpoint()
		}(i, ei)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("vinyl: checkpoint index %s: %w", indexes[i].idx.Name, err)
		}
	}

	for _, ei := range indexes {
		if err := GC(ei.idx, e.logger); err != nil {
			return err
		}
	}
	return nil
}

// WaitCheckpoint implements wait_checkpoint(env, vclock): records lsn as
// each open index's checkpoint target (RequestCheckpoint) and blocks
// until every index has drained mems older than lsn. Unlike Checkpoint
// it runs no GC afterwards.
func (e *Engine) WaitCheckpoint(lsn uint64) error {
	e.mu.RLock()
	indexes := make([]*engineIndex, 0, len(e.indexes))
	for _, ei := range e.indexes {
		indexes = append(indexes, ei)
	}
	e.mu.RUnlock()

	for _, ei := range indexes {
		ei.scheduler.RequestCheckpoint(lsn)
		if err := ei.scheduler.WaitCheckpoint(); err != nil {
			return fmt.Errorf("vinyl: wait_checkpoint index %s: %w", ei.idx.Name, err)
		}
	}
	return nil
}

