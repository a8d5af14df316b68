package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parse(t testing.TB, src string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestCellText(t *testing.T) {
	doc := parse(t, `<table><tr><td>  12,5
		<span>SOL</span>  </td></tr></table>`)
	require.Equal(t, "12,5 SOL", CellText(doc.Find("td")))
}

func TestLines(t *testing.T) {
	doc := parse(t, `<div class="card">
		<div>BONK</div>
		<div><span>22</span> KOLs</div>
		<p>Market Cap: $1.2M</p>
		<script>var ignored = 1;</script>
	</div>`)

	require.Equal(t, []string{"BONK", "22 KOLs", "Market Cap: $1.2M"}, Lines(doc.Find("div.card")))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "5m ago", Normalize("\t 5m   ago\n"))
	require.Equal(t, "", Normalize("   "))
}
