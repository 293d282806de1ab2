package crawler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"page-harvester/pkg/config"
	"page-harvester/pkg/fetch"
	"page-harvester/pkg/models"
	"page-harvester/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

const samplePage = `<!DOCTYPE html>
<html>
<head>
	<title>Sample Page</title>
	<meta name="description" content="A sample page">
</head>
<body>
	<h1>Welcome</h1>
	<h2>Section</h2>
	<p>Some visible body text with enough words to count.</p>
	<a href="/one">one</a>
	<a href="/two">two</a>
	<img src="/pic.png">
</body>
</html>`

// stubFetcher serves canned HTML per URL and records which URLs were fetched.
type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string]string // url -> html
	failing map[string]error  // url -> terminal error
	fetched []string
}

func (s *stubFetcher) Fetch(ctx context.Context, pageURL string) (*fetch.Result, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, pageURL)
	s.mu.Unlock()

	if err, ok := s.failing[pageURL]; ok {
		return nil, err
	}
	html, ok := s.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("%w: no route for %s", utils.ErrNavigation, pageURL)
	}
	return &fetch.Result{HTML: html, FinalURL: pageURL, Title: "Sample Page"}, nil
}

func (s *stubFetcher) Close() {}

func (s *stubFetcher) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetched)
}

// memorySink is an in-memory ResultSink keeping the one-outcome-per-URL
// rule the same way the badger sink does.
type memorySink struct {
	mu      sync.Mutex
	records map[string]*models.PageRecord
	errors  map[string]*models.ErrorRecord
	report  *models.RunReport
}

func newMemorySink() *memorySink {
	return &memorySink{
		records: make(map[string]*models.PageRecord),
		errors:  make(map[string]*models.ErrorRecord),
	}
}

func (m *memorySink) SaveRecord(rec *models.PageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.URL] = rec
	delete(m.errors, rec.URL)
	return nil
}

func (m *memorySink) SaveError(errRec *models.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[errRec.URL] = errRec
	delete(m.records, errRec.URL)
	return nil
}

func (m *memorySink) SaveReport(report models.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.report = &report
	return nil
}

func (m *memorySink) RecordCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *memorySink) Close() error { return nil }

func harvestConfig(urls ...string) *config.CrawlConfig {
	return &config.CrawlConfig{
		StartURLs:      urls,
		MaxConcurrency: 2,
		MaxItems:       100,
	}
}

func TestRun_SingleURLWithBothToggles(t *testing.T) {
	cfg := harvestConfig("https://example.com/a")
	cfg.EnableAnalytics = true
	cfg.DataQualityCheck = true

	fetcher := &stubFetcher{pages: map[string]string{"https://example.com/a": samplePage}}
	sink := newMemorySink()
	h := NewHarvester(cfg, fetcher, nil, sink, testLogger())

	require.NoError(t, h.Run(context.Background()))

	rec, ok := sink.records["https://example.com/a"]
	require.True(t, ok)
	assert.Empty(t, sink.errors)

	assert.Equal(t, "Sample Page", rec.Title)
	assert.Equal(t, 2, rec.LinkCount)
	assert.Equal(t, 1, rec.ImageCount)
	assert.Equal(t, []string{"Welcome", "Section"}, rec.Headings)
	assert.Equal(t, "A sample page", rec.MetaDescription)

	require.NotNil(t, rec.DataQuality)
	assert.Equal(t, 8, rec.DataQuality.TotalFields)
	require.NotNil(t, rec.Analytics)
	assert.Equal(t, 0.5, rec.Analytics.MediaRichness)
	require.NotNil(t, rec.Metadata)
	assert.Equal(t, h.RunID(), rec.Metadata.RunID)
	assert.Equal(t, models.RecordVersion, rec.Metadata.Version)

	require.NotNil(t, sink.report)
	assert.Equal(t, int64(1), sink.report.TotalProcessed)
	assert.Equal(t, int64(1), sink.report.Succeeded)
	assert.Equal(t, 0.0, sink.report.FailureRatePct)
}

func TestRun_TogglesOffOmitSubObjects(t *testing.T) {
	cfg := harvestConfig("https://example.com/a")
	fetcher := &stubFetcher{pages: map[string]string{"https://example.com/a": samplePage}}
	sink := newMemorySink()

	require.NoError(t, NewHarvester(cfg, fetcher, nil, sink, testLogger()).Run(context.Background()))

	rec := sink.records["https://example.com/a"]
	require.NotNil(t, rec)
	assert.Nil(t, rec.DataQuality)
	assert.Nil(t, rec.Analytics)
	assert.NotNil(t, rec.Metadata)
}

func TestRun_QualityScoreExcludesAnalytics(t *testing.T) {
	cfg := harvestConfig("https://example.com/a")
	cfg.EnableAnalytics = true
	cfg.DataQualityCheck = true

	fetcher := &stubFetcher{pages: map[string]string{"https://example.com/a": samplePage}}
	sink := newMemorySink()
	require.NoError(t, NewHarvester(cfg, fetcher, nil, sink, testLogger()).Run(context.Background()))

	rec := sink.records["https://example.com/a"]
	require.NotNil(t, rec.DataQuality)
	// The denominator stays at the 8 primary fields even with analytics on
	assert.Equal(t, 8, rec.DataQuality.TotalFields)
	assert.NotContains(t, rec.DataQuality.MissingFields, "analytics")
}

func TestRun_FailedURLGetsErrorRecord(t *testing.T) {
	cfg := harvestConfig("https://example.com/ok", "https://example.com/dead")
	fetcher := &stubFetcher{
		pages: map[string]string{"https://example.com/ok": samplePage},
		failing: map[string]error{
			"https://example.com/dead": fmt.Errorf("%w: %w", utils.ErrRetryFailed, utils.ErrPageTimeout),
		},
	}
	sink := newMemorySink()

	require.NoError(t, NewHarvester(cfg, fetcher, nil, sink, testLogger()).Run(context.Background()))

	assert.Contains(t, sink.records, "https://example.com/ok")
	assert.NotContains(t, sink.records, "https://example.com/dead")

	errRec, ok := sink.errors["https://example.com/dead"]
	require.True(t, ok)
	assert.True(t, errRec.Error)
	assert.Equal(t, "RetryFailed_PageTimeout", errRec.ErrorType)
	assert.NotEmpty(t, errRec.Message)

	require.NotNil(t, sink.report)
	assert.Equal(t, int64(2), sink.report.TotalProcessed)
	assert.Equal(t, int64(1), sink.report.Failed)
	assert.InDelta(t, 50.0, sink.report.FailureRatePct, 1e-9)
}

func TestRun_DuplicateStartURLsProcessedOnce(t *testing.T) {
	cfg := harvestConfig(
		"https://example.com/a",
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/a",
	)
	fetcher := &stubFetcher{pages: map[string]string{
		"https://example.com/a": samplePage,
		"https://example.com/b": samplePage,
	}}
	sink := newMemorySink()

	require.NoError(t, NewHarvester(cfg, fetcher, nil, sink, testLogger()).Run(context.Background()))

	assert.Equal(t, 2, fetcher.fetchCount())
	assert.Len(t, sink.records, 2)
	assert.Equal(t, int64(2), sink.report.TotalProcessed)
}

func TestRun_MaxItemsCapsSeedList(t *testing.T) {
	cfg := harvestConfig(
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
	)
	cfg.MaxItems = 2
	fetcher := &stubFetcher{pages: map[string]string{
		"https://example.com/1": samplePage,
		"https://example.com/2": samplePage,
		"https://example.com/3": samplePage,
	}}
	sink := newMemorySink()

	require.NoError(t, NewHarvester(cfg, fetcher, nil, sink, testLogger()).Run(context.Background()))

	assert.Equal(t, 2, fetcher.fetchCount())
	assert.NotContains(t, sink.records, "https://example.com/3")
}

func TestRun_AllFailuresFullFailureRate(t *testing.T) {
	cfg := harvestConfig("https://example.com/x", "https://example.com/y")
	fetcher := &stubFetcher{pages: map[string]string{}}
	sink := newMemorySink()

	require.NoError(t, NewHarvester(cfg, fetcher, nil, sink, testLogger()).Run(context.Background()))

	assert.Len(t, sink.errors, 2)
	assert.Empty(t, sink.records)
	assert.InDelta(t, 100.0, sink.report.FailureRatePct, 1e-9)
	assert.Equal(t, 0.0, sink.report.AvgResponseTimeMs)
}

func TestRun_CancelledContextReturnsErr(t *testing.T) {
	urls := make([]string, 50)
	pages := make(map[string]string, 50)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
		pages[urls[i]] = samplePage
	}
	cfg := harvestConfig(urls...)
	fetcher := &stubFetcher{pages: pages}
	sink := newMemorySink()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewHarvester(cfg, fetcher, nil, sink, testLogger()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fetcher.fetchCount())
}

func TestRun_SinkSaveErrorCountsAsFailure(t *testing.T) {
	cfg := harvestConfig("https://example.com/a")
	fetcher := &stubFetcher{pages: map[string]string{"https://example.com/a": samplePage}}
	sink := &failingSink{memorySink: newMemorySink()}

	require.NoError(t, NewHarvester(cfg, fetcher, nil, sink, testLogger()).Run(context.Background()))

	require.NotNil(t, sink.report)
	assert.Equal(t, int64(1), sink.report.Failed)
	assert.Equal(t, int64(0), sink.report.Succeeded)
}

// failingSink rejects record writes but accepts errors and the report.
type failingSink struct {
	*memorySink
}

func (f *failingSink) SaveRecord(rec *models.PageRecord) error {
	return fmt.Errorf("%w: disk full", utils.ErrDatabase)
}
