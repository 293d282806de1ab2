package models

import "time"

// RecordVersion is stamped into every record's metadata block.
const RecordVersion = "1.0.0"

// PageRecord is the result of extracting one successfully loaded page.
// It is created once per successful fetch and immutable afterwards, except
// for the optional DataQuality and Analytics enrichments attached before it
// reaches the sink.
type PageRecord struct {
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	Text            string   `json:"text"` // First 5000 chars of visible body text
	LinkCount       int      `json:"link_count"`
	ImageCount      int      `json:"image_count"`
	Headings        []string `json:"headings"` // h1-h3 text, trimmed, document order
	MetaDescription string   `json:"meta_description"`
	CrawledAt       string   `json:"crawled_at"` // RFC3339

	DataQuality *QualityScore   `json:"data_quality,omitempty"`
	Analytics   *AnalyticsBlock `json:"analytics,omitempty"`
	Metadata    *RecordMetadata `json:"metadata,omitempty"`
}

// QualityScore is the completeness ratio over a record's primary fields.
// It is computed from a snapshot taken BEFORE analytics enrichment, so
// analytics fields never enter the denominator.
type QualityScore struct {
	Overall       float64  `json:"overall"`      // Filled / total, in [0,1]
	Completeness  int      `json:"completeness"` // Count of filled fields
	TotalFields   int      `json:"total_fields"`
	MissingFields []string `json:"missing_fields"`
}

// AnalyticsBlock holds secondary metrics derived from primary fields.
type AnalyticsBlock struct {
	ContentLength      int     `json:"content_length"`
	ReadingTimeMin     int     `json:"reading_time_min"` // ceil(words / 200)
	HasMetaDescription bool    `json:"has_meta_description"`
	HeadingCount       int     `json:"heading_count"`
	MediaRichness      float64 `json:"media_richness"` // images / max(links, 1)
}

// RecordMetadata describes how and when a record was captured.
type RecordMetadata struct {
	CapturedAt   time.Time `json:"captured_at"`
	SourceURL    string    `json:"source_url"`
	ProcessingMs int64     `json:"processing_ms"`
	Version      string    `json:"version"`
	RunID        string    `json:"run_id"`
}

// ErrorRecord is emitted instead of a PageRecord when a URL fails
// terminally. It shares nothing with PageRecord beyond the sink.
type ErrorRecord struct {
	Error     bool      `json:"error"` // Always true
	URL       string    `json:"url"`
	Message   string    `json:"message"`
	ErrorType string    `json:"error_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfigSnapshot is the slice of the run configuration recorded in the
// final report.
type ConfigSnapshot struct {
	StartURLs        []string `json:"start_urls"`
	MaxConcurrency   int      `json:"max_concurrency"`
	MaxItems         int      `json:"max_items"`
	OutputFormat     string   `json:"output_format"`
	EnableAnalytics  bool     `json:"enable_analytics"`
	DataQualityCheck bool     `json:"data_quality_check"`
}

// RunReport is the end-of-run aggregate. Created zero-valued at run start,
// updated incrementally by the aggregator, persisted once at run end under
// a fixed key.
type RunReport struct {
	RunID             string         `json:"run_id"`
	TotalProcessed    int64          `json:"total_processed"`
	Succeeded         int64          `json:"succeeded"`
	Failed            int64          `json:"failed"`
	FailureRatePct    float64        `json:"failure_rate_pct"`      // failed / max(total, 1) * 100
	AvgResponseTimeMs float64        `json:"avg_response_time_ms"` // Rolling average over successes
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	Duration          string         `json:"duration"`
	Config            ConfigSnapshot `json:"config"`
}
