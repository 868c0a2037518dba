package extract

import (
	"strings"
	"testing"
)

func TestExtractStripsChromeElements(t *testing.T) {
	t.Parallel()

	raw := []byte(`<html><head><title>Filing</title><style>p { color: red }</style></head>
<body>
<header>EDGAR Online</header>
<nav>Home | Filings</nav>
<script>alert("hi")</script>
<p>Item 1. Business</p>
<p>The company designs consumer electronics.</p>
<footer>Page 1 of 80</footer>
</body></html>`)

	got := New().Extract(raw)

	if got.LowConfidence {
		t.Fatalf("expected confident extraction, got low confidence")
	}
	if strings.Contains(got.Text, "alert") || strings.Contains(got.Text, "color: red") {
		t.Fatalf("script or style leaked into text: %q", got.Text)
	}
	if strings.Contains(got.Text, "EDGAR Online") || strings.Contains(got.Text, "Page 1 of 80") {
		t.Fatalf("header or footer leaked into text: %q", got.Text)
	}
	want := "Item 1. Business\nThe company designs consumer electronics."
	if got.Text != want {
		t.Fatalf("unexpected text:\n got: %q\nwant: %q", got.Text, want)
	}
	if got.RawBytes != len(raw) {
		t.Fatalf("expected RawBytes %d, got %d", len(raw), got.RawBytes)
	}
	if got.TextBytes != len(got.Text) {
		t.Fatalf("expected TextBytes %d, got %d", len(got.Text), got.TextBytes)
	}
}

func TestExtractNormalizesWhitespace(t *testing.T) {
	t.Parallel()

	raw := []byte("<body><p>   Annual   Report   </p><p>\t\n</p><p>Part II</p></body>")
	got := New().Extract(raw)

	if got.Text != "Annual   Report\nPart II" {
		t.Fatalf("unexpected text %q", got.Text)
	}
}

func TestExtractWithoutBodyUsesWholeDocument(t *testing.T) {
	t.Parallel()

	// A bare fragment still parses; the html parser synthesizes the tree.
	raw := []byte("<div>Exhibit 21.1</div><div>Subsidiaries</div>")
	got := New().Extract(raw)

	if got.LowConfidence {
		t.Fatalf("expected confident extraction")
	}
	if got.Text != "Exhibit 21.1\nSubsidiaries" {
		t.Fatalf("unexpected text %q", got.Text)
	}
}

func TestExtractEmptyInputIsLowConfidence(t *testing.T) {
	t.Parallel()

	got := New().Extract(nil)
	if !got.LowConfidence {
		t.Fatalf("expected low confidence for empty input")
	}
	if got.Text != "" {
		t.Fatalf("expected empty text, got %q", got.Text)
	}
}

func TestExtractMarkupOnlyIsLowConfidence(t *testing.T) {
	t.Parallel()

	got := New().Extract([]byte("<body><script>x()</script><style>.a{}</style></body>"))
	if !got.LowConfidence {
		t.Fatalf("expected low confidence when nothing but chrome remains")
	}
}

func TestExtractPlainTextPassesThrough(t *testing.T) {
	t.Parallel()

	raw := []byte("SECURITIES AND EXCHANGE COMMISSION\n\n   Washington, D.C. 20549\n\nFORM 10-K")
	got := New().Extract(raw)

	if got.LowConfidence {
		t.Fatalf("expected confident extraction for plain text")
	}
	want := "SECURITIES AND EXCHANGE COMMISSION\nWashington, D.C. 20549\nFORM 10-K"
	if got.Text != want {
		t.Fatalf("unexpected text:\n got: %q\nwant: %q", got.Text, want)
	}
}
