package storage

import (
	"page-harvester/pkg/models"
)

// ResultSink receives the terminal outcome of every processed URL. A URL
// ends up with exactly one of a PageRecord or an ErrorRecord; writing one
// removes any previously written counterpart for the same URL.
type ResultSink interface {
	// SaveRecord persists a successfully harvested page, keyed by URL
	SaveRecord(rec *models.PageRecord) error

	// SaveError persists the terminal failure for a URL, keyed by URL
	SaveError(errRec *models.ErrorRecord) error

	// SaveReport persists the run report under a fixed key, replacing
	// any report from an earlier run in the same state directory
	SaveReport(report models.RunReport) error

	// RecordCount returns the number of stored page records
	RecordCount() (int, error)

	// Close cleanly closes the underlying store
	Close() error
}
