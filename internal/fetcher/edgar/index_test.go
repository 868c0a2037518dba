package edgar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleIndexPage = `<html><body>
<h1>EDGAR Filing Documents for 0000320193-18-000145</h1>
<table class="tableFile" summary="Document Format Files">
<tr><th>Seq</th><th>Description</th><th>Document</th><th>Type</th><th>Size</th></tr>
<tr><td>&nbsp;</td><td>Complete submission text file</td>
<td><a href="/Archives/edgar/data/320193/000032019318000145/0000320193-18-000145-index.html">0000320193-18-000145-index.html</a></td>
<td>&nbsp;</td><td>12859628</td></tr>
<tr><td>1</td><td>10-K</td>
<td><a href="/Archives/edgar/data/320193/000032019318000145/a10-k20189292018.htm">a10-k20189292018.htm</a></td>
<td>10-K</td><td>1048576</td></tr>
<tr><td>2</td><td>EXHIBIT 21.1</td>
<td><a href="/Archives/edgar/data/320193/000032019318000145/a10-kexhibit211.htm">a10-kexhibit211.htm</a></td>
<td>EX-21.1</td><td>8192</td></tr>
</table>
</body></html>`

func TestPrimaryDocumentHrefPicksFirstDocumentLink(t *testing.T) {
	t.Parallel()

	href, err := PrimaryDocumentHref([]byte(sampleIndexPage))
	require.NoError(t, err)
	require.Equal(t, "/Archives/edgar/data/320193/000032019318000145/a10-k20189292018.htm", href)
}

func TestPrimaryDocumentHrefSkipsNonHTMLLinks(t *testing.T) {
	t.Parallel()

	page := `<table class="tableFile">
<tr><td><a href="/Archives/edgar/data/1/0001-index.html">index</a></td></tr>
<tr><td><a href="/Archives/edgar/data/1/form10k.pdf">pdf</a></td></tr>
<tr><td><a href="/Archives/edgar/data/1/form10k.html">doc</a></td></tr>
</table>`
	href, err := PrimaryDocumentHref([]byte(page))
	require.NoError(t, err)
	require.Equal(t, "/Archives/edgar/data/1/form10k.html", href)
}

func TestPrimaryDocumentHrefNoTable(t *testing.T) {
	t.Parallel()

	_, err := PrimaryDocumentHref([]byte("<html><body><p>maintenance window</p></body></html>"))
	require.ErrorIs(t, err, ErrNoDocumentTable)
}

func TestPrimaryDocumentHrefNoUsableLink(t *testing.T) {
	t.Parallel()

	page := `<table class="tableFile">
<tr><td><a href="/Archives/edgar/data/1/0001-index.html">index only</a></td></tr>
</table>`
	_, err := PrimaryDocumentHref([]byte(page))
	require.ErrorIs(t, err, ErrNoPrimaryLink)
}
