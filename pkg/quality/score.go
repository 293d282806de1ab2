package quality

import (
	"sort"

	"page-harvester/pkg/models"
)

// Snapshot flattens a record's primary fields into the key-to-value mapping
// the scorer consumes. It must be taken before analytics enrichment;
// enrichment fields are deliberately absent so they never enter the
// denominator.
func Snapshot(rec *models.PageRecord) map[string]any {
	return map[string]any{
		"url":              rec.URL,
		"title":            rec.Title,
		"text":             rec.Text,
		"link_count":       rec.LinkCount,
		"image_count":      rec.ImageCount,
		"headings":         rec.Headings,
		"meta_description": rec.MetaDescription,
		"crawled_at":       rec.CrawledAt,
	}
}

// Score computes the completeness ratio over a flat field snapshot.
// Pure and deterministic: missing fields are reported in sorted order.
//
// A field counts as filled when its value is truthy and not an empty
// string. Zero counts and false booleans therefore register as missing —
// behavior kept as-is for output compatibility with existing consumers.
func Score(snapshot map[string]any) models.QualityScore {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	score := models.QualityScore{
		TotalFields:   len(keys),
		MissingFields: []string{},
	}
	for _, k := range keys {
		if isFilled(snapshot[k]) {
			score.Completeness++
		} else {
			score.MissingFields = append(score.MissingFields, k)
		}
	}

	if score.TotalFields > 0 {
		score.Overall = float64(score.Completeness) / float64(score.TotalFields)
	}
	return score
}

// isFilled applies the truthiness predicate to a snapshot value.
func isFilled(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []string:
		return len(val) > 0
	case []any:
		return len(val) > 0
	default:
		return true
	}
}
