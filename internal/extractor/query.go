package extractor

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// Markers identifying listing entries and their fields.
const (
	entryIDPrefix  = "question-summary-"
	entryIDAttr    = "data-post-id"
	timeClass      = "relativetime"
	timeAttr       = "title"
	labelClass     = "post-tag"
	entrySelectors = "[id^='" + entryIDPrefix + "'], [" + entryIDAttr + "]"
)

// entryNodes returns the outermost listing entries in document order. An
// element nested inside another entry is part of that entry, not a new one.
func entryNodes(doc *goquery.Document) *goquery.Selection {
	return doc.Find(entrySelectors).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered(entrySelectors).Length() == 0
	})
}

// firstWithClass finds the first descendant carrying the class token.
func firstWithClass(s *goquery.Selection, class string) *goquery.Selection {
	return s.Find("." + class).First()
}

// allWithClass finds every descendant carrying the class token.
func allWithClass(s *goquery.Selection, class string) *goquery.Selection {
	return s.Find("." + class)
}

// stripWhitespace removes every whitespace rune, not just the outer ones.
func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
