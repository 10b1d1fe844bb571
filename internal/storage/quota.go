package storage

import (
	"sync"
	"time"
)

// Quota tracks bytes used against a configured limit and throttles
// writers, nudging the scheduler once usage crosses an adaptively
// computed watermark (§3 "Quota", §4.9 "Quota and watermark").
type Quota struct {
	mu   sync.Mutex
	cond *sync.Cond

	limit     int64
	watermark int64
	used      int64

	onNudge func()

	// Inputs to the watermark formula (§4.9): the 10th-percentile
	// observed dump bandwidth, an EWMA of the tx write rate, and the
	// largest dumpable range's byte size.
	dumpBandwidthP10    float64
	txWriteRateEWMA     float64
	maxDumpableRangeSize int64
}

// NewQuota creates a quota with the given byte limit. limit == 0
// means every writer blocks forever (§8 "Boundary behaviors").
func NewQuota(limit int64) *Quota {
	q := &Quota{limit: limit, watermark: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetNudge installs the callback invoked (without q.mu held) once used
// crosses the watermark, e.g. Scheduler.Tick.
func (q *Quota) SetNudge(f func()) {
	q.mu.Lock()
	q.onNudge = f
	q.mu.Unlock()
}

func (q *Quota) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

func (q *Quota) Watermark() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.watermark
}

func (q *Quota) Limit() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Use implements the throttle algorithm on each write (§4.9): accounts
// size, nudges the scheduler at the watermark, and blocks while used
// is at or above limit.
func (q *Quota) Use(size int64) {
	q.mu.Lock()
	q.used += size
	crossedWatermark := q.used >= q.watermark
	nudge := q.onNudge
	q.mu.Unlock()
	if crossedWatermark && nudge != nil {
		nudge()
	}

	q.mu.Lock()
	// A zero limit blocks every writer forever by design (§8: "every
	// write blocks forever on quota_cond; no data loss"), since used
	// is never negative and so never drops below a limit of zero.
	for q.limit == 0 || q.used >= q.limit {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Release implements quota release on mem/run deallocation (§4.9):
// "used -= size; if used < limit -> broadcast(quota_cond)".
func (q *Quota) Release(size int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used -= size
	if q.used < 0 {
		q.used = 0
	}
	if q.limit == 0 || q.used < q.limit {
		q.cond.Broadcast()
	}
}

// UpdateRates feeds the watermark formula fresh observations; call
// periodically from the scheduler after a dump/compaction completes
// (dump bandwidth) and from the commit path (write rate).
func (q *Quota) UpdateRates(dumpBandwidthP10, txWriteRateEWMA float64, maxDumpableRangeSize int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dumpBandwidthP10 = dumpBandwidthP10
	q.txWriteRateEWMA = txWriteRateEWMA
	q.maxDumpableRangeSize = maxDumpableRangeSize
	q.recomputeWatermarkLocked()
}

// recomputeWatermarkLocked implements: gap = max_dumpable_range_bytes
// × tx_write_rate / dump_bandwidth; watermark = max(0, limit - gap).
func (q *Quota) recomputeWatermarkLocked() {
	if q.dumpBandwidthP10 <= 0 {
		q.watermark = q.limit
		return
	}
	gap := float64(q.maxDumpableRangeSize) * q.txWriteRateEWMA / q.dumpBandwidthP10
	wm := float64(q.limit) - gap
	if wm < 0 {
		wm = 0
	}
	q.watermark = int64(wm)
}

// rateTracker is a small helper for the EWMA/percentile inputs to
// UpdateRates, exercised by the scheduler's periodic rate refresh.
type rateTracker struct {
	mu sync.Mutex

	ewma     float64
	alpha    float64
	samples  []float64
	lastTick time.Time
}

func newRateTracker(alpha float64) *rateTracker {
	return &rateTracker{alpha: alpha}
}

func (r *rateTracker) Observe(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ewma == 0 {
		r.ewma = v
	} else {
		r.ewma = r.alpha*v + (1-r.alpha)*r.ewma
	}
}

func (r *rateTracker) EWMA() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ewma
}

// ObserveBandwidthSample records one dump's bytes-per-second for the
// 10th-percentile bandwidth estimate.
func (r *rateTracker) ObserveBandwidthSample(bytesPerSec float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, bytesPerSec)
	if len(r.samples) > 64 {
		r.samples = r.samples[len(r.samples)-64:]
	}
}

// P10 returns the 10th-percentile of recorded bandwidth samples.
func (r *rateTracker) P10() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), r.samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := (len(sorted) * 10) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
