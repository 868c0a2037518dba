// Package edgar resolves catalog rows to EDGAR document URLs and fetches
// them under the pipeline's pacing and retry policy.
package edgar

import (
	"fmt"
	"strings"
)

// DefaultBaseURL is the EDGAR host all archive paths hang off.
const DefaultBaseURL = "https://www.sec.gov"

// NormalizeFilename trims the catalog Filename and removes embedded spaces,
// which appear in older index rows.
func NormalizeFilename(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "")
}

// IsDirectDocument reports whether the path already names a fetchable
// document rather than an accession folder.
func IsDirectDocument(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".txt") ||
		strings.HasSuffix(lower, ".htm") ||
		strings.HasSuffix(lower, ".html")
}

// DirectURL builds the archive URL for a path that names a document.
func DirectURL(baseURL, filename string) string {
	return fmt.Sprintf("%s/Archives/%s", strings.TrimRight(baseURL, "/"), strings.TrimLeft(filename, "/"))
}

// IndexURL builds the filing index page URL for an accession-folder path
// such as edgar/data/320193/000032019318000145. Paths with fewer than four
// segments cannot name a filing.
func IndexURL(baseURL, filename string) (string, error) {
	parts := strings.Split(strings.Trim(filename, "/"), "/")
	if len(parts) < 4 {
		return "", fmt.Errorf("source path %q has no accession folder", filename)
	}
	cik := parts[2]
	folder := parts[3]
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/index.html", strings.TrimRight(baseURL, "/"), cik, folder), nil
}

// DocumentURLFromHref resolves an index-page href to an absolute URL and
// unwraps the interactive viewer redirect EDGAR sometimes links through.
func DocumentURLFromHref(baseURL, href string) string {
	base := strings.TrimRight(baseURL, "/")
	url := fmt.Sprintf("%s/%s", base, strings.TrimLeft(href, "/"))
	return strings.Replace(url, base+"/ix?doc=", base, 1)
}
