package extractor

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clindoc/dsrpop/internal/secdoc"
	"github.com/fumiama/go-docx"
)

// DOCXExtractor handles .docx files. DOCX flows have no fixed pages,
// so all blocks carry page 1. Document tables become TableBlocks.
type DOCXExtractor struct{}

func (p *DOCXExtractor) Extract(r io.Reader, filename string) (*Result, error) {
	// go-docx needs a ReadSeeker+size, so write to temp file.
	tmp, err := os.CreateTemp("", "dsrpop-docx-*.docx")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("seek temp file: %w", err)
	}

	doc, err := docx.Parse(tmp, int64(size))
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	res := &Result{}
	var lines []string

	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			if t := docxParagraphText(it); t != "" {
				lines = append(lines, t)
			}
		case *docx.Table:
			if rows := docxTableRows(it); len(rows) > 0 {
				res.Tables = append(res.Tables, secdoc.TableBlock{Page: 1, Rows: rows})
			}
		}
	}

	if len(lines) > 0 {
		res.Blocks = append(res.Blocks, secdoc.TextBlock{
			Page: 1,
			Text: strings.Join(lines, "\n"),
		})
	}
	return res, nil
}

func docxTableRows(tbl *docx.Table) [][]string {
	var rows [][]string
	for _, tr := range tbl.TableRows {
		var row []string
		for _, tc := range tr.TableCells {
			var cell strings.Builder
			for _, para := range tc.Paragraphs {
				if t := docxParagraphText(para); t != "" {
					if cell.Len() > 0 {
						cell.WriteString("\n")
					}
					cell.WriteString(t)
				}
			}
			row = append(row, cell.String())
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
