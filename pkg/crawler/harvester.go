package crawler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"page-harvester/pkg/analytics"
	"page-harvester/pkg/config"
	"page-harvester/pkg/extract"
	"page-harvester/pkg/fetch"
	"page-harvester/pkg/models"
	"page-harvester/pkg/quality"
	"page-harvester/pkg/report"
	"page-harvester/pkg/storage"
	"page-harvester/pkg/utils"
)

// Harvester orchestrates one single-pass run: every start URL is processed
// exactly once and ends up with exactly one outcome in the sink, either a
// PageRecord or an ErrorRecord.
type Harvester struct {
	log     *logrus.Entry
	cfg     *config.CrawlConfig
	fetcher fetch.PageFetcher
	robots  *fetch.RobotsGate // nil when the robots gate is disabled
	sink    storage.ResultSink
	agg     *report.Aggregator

	runID            string
	processedCounter atomic.Int64
	globalSemaphore  *semaphore.Weighted
}

// NewHarvester creates a Harvester. The fetcher should already carry the
// retry policy; the harvester itself never retries.
func NewHarvester(
	cfg *config.CrawlConfig,
	fetcher fetch.PageFetcher,
	robots *fetch.RobotsGate,
	sink storage.ResultSink,
	baseLogger *logrus.Entry,
) *Harvester {
	runID := uuid.NewString()
	logger := baseLogger.WithField("run_id", runID)

	return &Harvester{
		log:             logger,
		cfg:             cfg,
		fetcher:         fetcher,
		robots:          robots,
		sink:            sink,
		agg:             report.NewAggregator(runID, snapshotConfig(cfg)),
		runID:           runID,
		globalSemaphore: semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
}

// RunID returns the identifier stamped into records and the final report.
func (h *Harvester) RunID() string {
	return h.runID
}

// Run executes the harvest: seeds the deduplicated start URLs, processes
// them with max_concurrency workers, then persists the finalized report.
// Returns the context error if the run was cut short, nil otherwise.
func (h *Harvester) Run(ctx context.Context) error {
	startTime := time.Now()

	urls := h.seedURLs()
	h.log.WithFields(logrus.Fields{
		"url_count":       len(urls),
		"max_concurrency": h.cfg.MaxConcurrency,
	}).Info("Starting harvest run")

	workChan := make(chan string, len(urls))
	for _, u := range urls {
		workChan <- u
	}
	close(workChan)

	var wg sync.WaitGroup
	for i := 0; i < h.cfg.MaxConcurrency; i++ {
		wg.Add(1)
		workerLog := h.log.WithField("worker_id", i)
		go func() {
			defer wg.Done()
			h.worker(ctx, workChan, workerLog)
		}()
	}
	wg.Wait()

	finalReport := h.agg.Finalize()
	if err := h.sink.SaveReport(finalReport); err != nil {
		h.log.Errorf("Failed to persist run report: %v", err)
	}

	h.logSummary(finalReport, time.Since(startTime))
	return ctx.Err()
}

// seedURLs deduplicates the start URLs preserving first-seen order and
// caps the list at max_items.
func (h *Harvester) seedURLs() []string {
	seen := make(map[string]bool, len(h.cfg.StartURLs))
	urls := make([]string, 0, len(h.cfg.StartURLs))
	for _, u := range h.cfg.StartURLs {
		if seen[u] {
			h.log.WithField("url", u).Debug("Skipping duplicate start URL")
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		if len(urls) >= h.cfg.MaxItems {
			h.log.Warnf("Start URL list truncated to max_items (%d)", h.cfg.MaxItems)
			break
		}
	}
	return urls
}

// worker runs the loop for a single worker goroutine, draining the work
// channel until it is empty or the context is cancelled.
func (h *Harvester) worker(ctx context.Context, workChan <-chan string, workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for pageURL := range workChan {
		select {
		case <-ctx.Done():
			workerLog.Warnf("Worker shutting down due to context cancellation: %v", ctx.Err())
			return
		default:
		}

		if err := h.globalSemaphore.Acquire(ctx, 1); err != nil {
			workerLog.Warnf("Worker shutting down while acquiring semaphore: %v", err)
			return
		}
		h.processSingleURL(ctx, pageURL, workerLog)
		h.globalSemaphore.Release(1)
	}
}

// processSingleURL runs the per-URL pipeline and reports exactly one
// terminal outcome: fetch -> extract -> optional quality -> optional
// analytics -> sink. Quality scoring runs before analytics so the score
// never sees analytics fields. A run cancelled mid-flight leaves the
// remaining URLs without an outcome rather than recording false failures.
func (h *Harvester) processSingleURL(ctx context.Context, pageURL string, workerLog *logrus.Entry) {
	taskLog := workerLog.WithField("url", pageURL)
	taskStart := time.Now()

	h.processedCounter.Add(1)

	if h.robots != nil && !h.robots.Allowed(ctx, pageURL) {
		taskLog.Warn("URL disallowed by robots.txt")
		h.recordFailure(pageURL, utils.ErrRobotsDisallowed, taskLog)
		return
	}

	res, err := h.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			taskLog.Warnf("Fetch cancelled: %v", err)
			return
		}
		taskLog.Errorf("Fetch failed terminally: %v", err)
		h.recordFailure(pageURL, err, taskLog)
		return
	}

	rec, err := extract.FromHTML(res.HTML, pageURL, time.Now().UTC())
	if err != nil {
		taskLog.Errorf("Extraction failed: %v", err)
		h.recordFailure(pageURL, err, taskLog)
		return
	}

	if h.cfg.DataQualityCheck {
		score := quality.Score(quality.Snapshot(rec))
		rec.DataQuality = &score
	}
	if h.cfg.EnableAnalytics {
		block := analytics.Compute(rec)
		rec.Analytics = &block
	}

	elapsed := time.Since(taskStart)
	rec.Metadata = &models.RecordMetadata{
		CapturedAt:   time.Now().UTC(),
		SourceURL:    res.FinalURL,
		ProcessingMs: elapsed.Milliseconds(),
		Version:      models.RecordVersion,
		RunID:        h.runID,
	}

	if err := h.sink.SaveRecord(rec); err != nil {
		taskLog.Errorf("Failed to persist record: %v", err)
		h.recordFailure(pageURL, err, taskLog)
		return
	}

	h.agg.RecordSuccess(elapsed)
	taskLog.WithFields(logrus.Fields{
		"title":      rec.Title,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("Page harvested")
}

// recordFailure writes the ErrorRecord and counts the failure. This is the
// only failure path, keeping the one-outcome-per-URL invariant in a single
// place.
func (h *Harvester) recordFailure(pageURL string, cause error, taskLog *logrus.Entry) {
	errRec := &models.ErrorRecord{
		Error:     true,
		URL:       pageURL,
		Message:   cause.Error(),
		ErrorType: utils.CategorizeError(cause),
		Timestamp: time.Now().UTC(),
	}
	if saveErr := h.sink.SaveError(errRec); saveErr != nil {
		taskLog.Errorf("Failed to persist error record: %v", saveErr)
	}
	h.agg.RecordFailure()
}

// logSummary prints the end-of-run block.
func (h *Harvester) logSummary(rep models.RunReport, duration time.Duration) {
	h.log.Info("========================================================================")
	h.log.Info("HARVEST FINISHED")
	h.log.Infof("Duration:         %v", duration)
	h.log.Infof("Processed:        %d (succeeded: %d, failed: %d)", rep.TotalProcessed, rep.Succeeded, rep.Failed)
	h.log.Infof("Failure rate:     %.1f%%", rep.FailureRatePct)
	h.log.Infof("Avg latency:      %.0fms (successes only)", rep.AvgResponseTimeMs)
	h.log.Info("========================================================================")
}

// snapshotConfig copies the report-relevant slice of the configuration.
func snapshotConfig(cfg *config.CrawlConfig) models.ConfigSnapshot {
	return models.ConfigSnapshot{
		StartURLs:        cfg.StartURLs,
		MaxConcurrency:   cfg.MaxConcurrency,
		MaxItems:         cfg.MaxItems,
		OutputFormat:     cfg.OutputFormat,
		EnableAnalytics:  cfg.EnableAnalytics,
		DataQualityCheck: cfg.DataQualityCheck,
	}
}
