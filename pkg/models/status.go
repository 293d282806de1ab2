package models

// PageOutcome represents the terminal classification of one processed URL
// as observed by the run aggregator. A URL moves pending -> succeeded or
// pending -> failed and never back; the fetcher may retry internally before
// reporting, but that is opaque here.
type PageOutcome string

const (
	OutcomeUnset     PageOutcome = ""          // Zero value = unset/unknown
	OutcomePending   PageOutcome = "pending"   // Queued but not finished
	OutcomeSucceeded PageOutcome = "succeeded" // PageRecord written
	OutcomeFailed    PageOutcome = "failed"    // ErrorRecord written
)

// String implements fmt.Stringer for logging
func (o PageOutcome) String() string {
	if o == "" {
		return "unset"
	}
	return string(o)
}

// IsTerminal returns true once the outcome can no longer change
func (o PageOutcome) IsTerminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}
