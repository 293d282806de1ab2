package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"page-harvester/pkg/models"
	"page-harvester/pkg/utils"
)

// MaxTextLength caps the body text stored per record.
const MaxTextLength = 5000

// FromHTML reads the fixed field set out of a rendered HTML snapshot and
// returns a PageRecord without quality or analytics enrichment. It performs
// no network calls and is deterministic given identical input.
func FromHTML(html, sourceURL string, now time.Time) (*models.PageRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML for '%s': %w", utils.ErrParsing, sourceURL, err)
	}

	rec := &models.PageRecord{
		URL:             sourceURL,
		Title:           strings.TrimSpace(doc.Find("title").First().Text()),
		Text:            bodyText(doc),
		LinkCount:       doc.Find("a").Length(),
		ImageCount:      doc.Find("img").Length(),
		Headings:        headings(doc),
		MetaDescription: metaDescription(doc),
		CrawledAt:       now.UTC().Format(time.RFC3339),
	}

	return rec, nil
}

// bodyText returns the visible body text with whitespace collapsed to
// single spaces, truncated to MaxTextLength characters. Script, style and
// noscript contents are excluded; they are markup payload, not visible text.
func bodyText(doc *goquery.Document) string {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return ""
	}

	clone := body.Clone()
	clone.Find("script, style, noscript, template").Remove()

	text := strings.Join(strings.Fields(clone.Text()), " ")
	return truncate(text, MaxTextLength)
}

// headings collects h1-h3 text in document order. Trimmed; empty headings
// are skipped.
func headings(doc *goquery.Document) []string {
	var out []string
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			out = append(out, text)
		}
	})
	return out
}

// metaDescription reads the description meta tag, empty string if absent.
func metaDescription(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))
}

// truncate cuts s to at most max runes, never splitting a multi-byte
// character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
