package report

import (
	"sync"
	"time"

	"page-harvester/pkg/models"
)

// Aggregator accumulates run counters behind a single mutex. It is the one
// piece of state the workers share: exactly one of RecordSuccess or
// RecordFailure runs per processed URL, and the latency average only moves
// on success. The aggregate itself is commutative, so update order across
// workers does not matter.
type Aggregator struct {
	mu sync.Mutex

	runID     string
	startedAt time.Time
	cfg       models.ConfigSnapshot

	succeeded    int64
	failed       int64
	avgLatencyMs float64
}

// NewAggregator creates a zero-valued aggregator for a run starting now.
func NewAggregator(runID string, cfg models.ConfigSnapshot) *Aggregator {
	return &Aggregator{
		runID:     runID,
		startedAt: time.Now(),
		cfg:       cfg,
	}
}

// RecordSuccess registers one successfully processed URL and folds its
// processing latency into the rolling average.
func (a *Aggregator) RecordSuccess(latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.succeeded++
	ms := float64(latency.Milliseconds())
	// Incremental mean: avg += (x - avg) / n
	a.avgLatencyMs += (ms - a.avgLatencyMs) / float64(a.succeeded)
}

// RecordFailure registers one terminally failed URL. No latency update;
// the average covers successes only.
func (a *Aggregator) RecordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed++
}

// Snapshot returns the current report state without finalizing the run.
func (a *Aggregator) Snapshot() models.RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buildLocked(time.Now())
}

// Finalize stamps the end time and returns the terminal report.
func (a *Aggregator) Finalize() models.RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buildLocked(time.Now())
}

// buildLocked assembles a RunReport; caller must hold the mutex.
func (a *Aggregator) buildLocked(now time.Time) models.RunReport {
	total := a.succeeded + a.failed
	denom := total
	if denom < 1 {
		denom = 1
	}

	return models.RunReport{
		RunID:             a.runID,
		TotalProcessed:    total,
		Succeeded:         a.succeeded,
		Failed:            a.failed,
		FailureRatePct:    float64(a.failed) / float64(denom) * 100,
		AvgResponseTimeMs: a.avgLatencyMs,
		StartedAt:         a.startedAt,
		FinishedAt:        now,
		Duration:          now.Sub(a.startedAt).String(),
		Config:            a.cfg,
	}
}
