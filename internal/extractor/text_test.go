package extractor

import (
	"strings"
	"testing"
)

func TestTextExtract_FormFeedsMarkPages(t *testing.T) {
	src := "page one text\fpage two text\f\fpage four text"
	res, err := (&TextExtractor{}).Extract(strings.NewReader(src), "doc.txt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(res.Blocks) != 3 {
		t.Fatalf("expected 3 non-empty pages, got %d", len(res.Blocks))
	}
	// Page numbers count form feeds, so the blank page still advances
	// the counter.
	if res.Blocks[0].Page != 1 || res.Blocks[1].Page != 2 || res.Blocks[2].Page != 4 {
		t.Errorf("pages: %d %d %d", res.Blocks[0].Page, res.Blocks[1].Page, res.Blocks[2].Page)
	}
	if res.Blocks[2].Text != "page four text" {
		t.Errorf("got %q", res.Blocks[2].Text)
	}
}

func TestTextExtract_NoFormFeedIsSinglePage(t *testing.T) {
	res, err := (&TextExtractor{}).Extract(strings.NewReader("all on one page\nsecond line"), "doc.txt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(res.Blocks) != 1 || res.Blocks[0].Page != 1 {
		t.Fatalf("expected single page-1 block, got %+v", res.Blocks)
	}
}

func TestTextExtract_EmptyInput(t *testing.T) {
	res, err := (&TextExtractor{}).Extract(strings.NewReader("   \n"), "doc.txt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(res.Blocks) != 0 {
		t.Errorf("expected no blocks for whitespace input, got %d", len(res.Blocks))
	}
}

func TestForFile(t *testing.T) {
	cases := []struct {
		filename string
		ok       bool
	}{
		{"report.pdf", true},
		{"report.DOCX", true},
		{"report.html", true},
		{"report.htm", true},
		{"report.txt", true},
		{"report.xlsx", false},
		{"report", false},
	}
	for _, tc := range cases {
		_, err := ForFile(tc.filename)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.filename, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.filename)
		}
		if got := IsSupportedExtension(tc.filename); got != tc.ok {
			t.Errorf("IsSupportedExtension(%s) = %v", tc.filename, got)
		}
	}
}
