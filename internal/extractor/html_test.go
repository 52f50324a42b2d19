package extractor

import (
	"strings"
	"testing"
)

const sampleHTML = `<html>
<head><title>ignored</title><style>p { color: red }</style></head>
<body>
<nav>skip this navigation</nav>
<h1>6 Safety Specification</h1>
<p>Overview paragraph.</p>
<h2>6.1 Indications</h2>
<p>Approved for X.</p>
<table>
<tr><th>Risk</th><th>Severity</th></tr>
<tr><td>Risk A</td><td>High</td></tr>
</table>
<footer>skip this footer</footer>
</body>
</html>`

func TestHTMLExtract(t *testing.T) {
	res, err := (&HTMLExtractor{}).Extract(strings.NewReader(sampleHTML), "doc.html")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(res.Blocks) != 1 {
		t.Fatalf("expected one page-1 block, got %d", len(res.Blocks))
	}
	text := res.Blocks[0].Text
	lines := strings.Split(text, "\n")

	// Headings come out as standalone lines in document order.
	if lines[0] != "6 Safety Specification" {
		t.Errorf("first line: %q", lines[0])
	}
	if !strings.Contains(text, "6.1 Indications") {
		t.Error("h2 heading missing")
	}
	if !strings.Contains(text, "Approved for X.") {
		t.Error("paragraph text missing")
	}

	// Chrome elements are skipped.
	if strings.Contains(text, "navigation") || strings.Contains(text, "footer") {
		t.Errorf("nav/footer content leaked: %q", text)
	}
	if strings.Contains(text, "color: red") {
		t.Error("style content leaked")
	}

	// The table is captured as rows, not as text.
	if len(res.Tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(res.Tables))
	}
	rows := res.Tables[0].Rows
	if len(rows) != 2 || rows[1][0] != "Risk A" || rows[1][1] != "High" {
		t.Errorf("rows: %v", rows)
	}
	if strings.Contains(text, "Risk A") {
		t.Error("table cells must not appear in the text block")
	}
}

func TestHTMLExtract_EmptyBody(t *testing.T) {
	res, err := (&HTMLExtractor{}).Extract(strings.NewReader("<html><body></body></html>"), "doc.html")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(res.Blocks) != 0 {
		t.Errorf("expected no blocks, got %d", len(res.Blocks))
	}
}
