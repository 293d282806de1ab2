package analytics

import (
	"math"
	"strings"
	"unicode/utf8"

	"page-harvester/pkg/models"
)

// wordsPerMinute is the reading-speed assumption behind the reading-time
// estimate.
const wordsPerMinute = 200

// Compute derives the analytics block from a record's primary fields.
// Called after quality scoring so the score never sees these values.
// Pure and deterministic.
func Compute(rec *models.PageRecord) models.AnalyticsBlock {
	return models.AnalyticsBlock{
		ContentLength:      utf8.RuneCountInString(rec.Text),
		ReadingTimeMin:     readingTime(rec.Text),
		HasMetaDescription: rec.MetaDescription != "",
		HeadingCount:       len(rec.Headings),
		MediaRichness:      mediaRichness(rec.ImageCount, rec.LinkCount),
	}
}

// readingTime estimates minutes to read as ceil(words / 200). The word
// count splits on single spaces only; runs of whitespace undercount.
// Kept as-is for output compatibility.
func readingTime(text string) int {
	words := len(strings.Split(text, " "))
	return int(math.Ceil(float64(words) / float64(wordsPerMinute)))
}

// mediaRichness is images per link with the denominator floored at 1, so
// the ratio stays finite for pages without links.
func mediaRichness(images, links int) float64 {
	denom := links
	if denom < 1 {
		denom = 1
	}
	return float64(images) / float64(denom)
}
