// Package extractor is the boundary to raw document formats. Each
// extractor converts one format into the page-tagged text and table
// block sequence the indexer consumes. Pages are never skipped or
// reordered.
package extractor

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/clindoc/dsrpop/internal/secdoc"
)

// Result is the ordered block output for one document.
type Result struct {
	Blocks []secdoc.TextBlock
	Tables []secdoc.TableBlock
}

// Extractor converts raw document bytes into blocks.
type Extractor interface {
	Extract(r io.Reader, filename string) (*Result, error)
}

// SupportedExtensions lists source formats this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":  true,
	".html": true,
	".htm":  true,
	".pdf":  true,
	".docx": true,
}

// ForFile returns the appropriate extractor for a filename.
func ForFile(filename string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextExtractor{}, nil
	case ".html", ".htm":
		return &HTMLExtractor{}, nil
	case ".pdf":
		return &PDFExtractor{}, nil
	case ".docx":
		return &DOCXExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}
