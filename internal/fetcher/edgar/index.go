package edgar

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Dead ends on an otherwise healthy index page. Retrying cannot fix these,
// so they classify as permanent failures.
var (
	ErrNoDocumentTable = errors.New("no document table on index page")
	ErrNoPrimaryLink   = errors.New("no primary document link on index page")
)

// PrimaryDocumentHref picks the filing's main document out of an index
// page: the first link in the tableFile table that ends in .htm or .html
// and is not itself an index page.
func PrimaryDocumentHref(indexHTML []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(indexHTML))
	if err != nil {
		return "", fmt.Errorf("parse index page: %w", err)
	}

	table := doc.Find("table.tableFile").First()
	if table.Length() == 0 {
		return "", ErrNoDocumentTable
	}

	var href string
	table.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		h, ok := s.Attr("href")
		if !ok {
			return true
		}
		lower := strings.ToLower(h)
		if (strings.HasSuffix(lower, ".htm") || strings.HasSuffix(lower, ".html")) &&
			!strings.Contains(lower, "index") {
			href = h
			return false
		}
		return true
	})
	if href == "" {
		return "", ErrNoPrimaryLink
	}
	return href, nil
}
