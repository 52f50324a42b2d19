package extractor

import (
	"fmt"
	"io"
	"strings"

	"github.com/clindoc/dsrpop/internal/secdoc"
)

// TextExtractor handles plain text files. Form feeds mark page
// boundaries; a file without them is a single page.
type TextExtractor struct{}

func (p *TextExtractor) Extract(r io.Reader, filename string) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}

	res := &Result{}
	for i, page := range strings.Split(string(data), "\f") {
		page = strings.TrimRight(page, "\n")
		if strings.TrimSpace(page) == "" {
			continue
		}
		res.Blocks = append(res.Blocks, secdoc.TextBlock{Page: i + 1, Text: page})
	}
	return res, nil
}
