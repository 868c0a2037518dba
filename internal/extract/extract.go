// Package extract turns raw filing documents into plain text. Extraction is
// total: any input produces a result, with a low-confidence flag when the
// parse failed or yielded nothing.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/quantfold/filingstream/internal/metrics"
	"github.com/quantfold/filingstream/internal/pipeline"
)

// Chrome elements that carry navigation or styling rather than filing text.
const strippedSelector = "script, style, header, footer, nav, noscript, meta"

// Extractor strips markup and normalizes whitespace.
type Extractor struct{}

// New returns an Extractor.
func New() Extractor {
	return Extractor{}
}

// Extract parses the document as HTML, drops non-content elements, and
// returns the text of the body with one line per text run. When no body
// element exists the whole document is used; when parsing fails the raw
// bytes are normalized as-is and the result is flagged low confidence.
func (Extractor) Extract(raw []byte) pipeline.Extraction {
	out := pipeline.Extraction{RawBytes: len(raw)}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		out.Text = normalizeLines(string(raw))
		out.TextBytes = len(out.Text)
		out.LowConfidence = true
		metrics.IncLowConfidence()
		return out
	}

	doc.Find(strippedSelector).Remove()

	scope := doc.Selection
	if body := doc.Find("body"); body.Length() > 0 {
		scope = body
	}

	var sb strings.Builder
	for _, node := range scope.Nodes {
		collectText(node, &sb)
	}

	out.Text = normalizeLines(sb.String())
	out.TextBytes = len(out.Text)
	if out.Text == "" {
		out.LowConfidence = true
		metrics.IncLowConfidence()
	}
	return out
}

// collectText walks the subtree appending each text node on its own line.
func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte('\n')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

// normalizeLines trims every line and drops the empty ones.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
