// Package populate is the output boundary: it substitutes resolved
// field text into the bracketed placeholders of a DOCX template.
package populate

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/fumiama/go-docx"
)

var placeholderRe = regexp.MustCompile(`\[INSERT_[A-Z0-9_]+\]`)

// Sink holds a loaded template document.
type Sink struct {
	doc *docx.Docx
}

// Load parses a DOCX template from raw bytes.
func Load(data []byte) (*Sink, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Sink{doc: doc}, nil
}

// Placeholders scans paragraphs and table cells for [INSERT_*] tokens
// and returns the sorted unique set.
func (s *Sink) Placeholders() []string {
	found := make(map[string]bool)
	s.eachParagraph(func(p *docx.Paragraph) {
		for _, ph := range placeholderRe.FindAllString(paragraphText(p), -1) {
			found[ph] = true
		}
	})
	out := make([]string, 0, len(found))
	for ph := range found {
		out = append(out, ph)
	}
	sort.Strings(out)
	return out
}

// Populate replaces each placeholder with its value everywhere it
// occurs, returning the number of paragraph replacements per field.
// Placeholders with no value are left in place so a reviewer can see
// what is missing.
func (s *Sink) Populate(values map[string]string) map[string]int {
	counts := make(map[string]int)
	s.eachParagraph(func(p *docx.Paragraph) {
		text := paragraphText(p)
		matches := placeholderRe.FindAllString(text, -1)
		if len(matches) == 0 {
			return
		}
		replaced := text
		changed := false
		for _, ph := range matches {
			v, ok := values[ph]
			if !ok || v == "" {
				continue
			}
			replaced = replaceAll(replaced, ph, v)
			counts[ph]++
			changed = true
		}
		if changed {
			setParagraphText(p, replaced)
		}
	})
	return counts
}

// WriteTo serializes the populated document.
func (s *Sink) WriteTo(w io.Writer) error {
	if _, err := s.doc.WriteTo(w); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func (s *Sink) eachParagraph(fn func(*docx.Paragraph)) {
	for _, item := range s.doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			fn(it)
		case *docx.Table:
			for _, row := range it.TableRows {
				for _, cell := range row.TableCells {
					for _, p := range cell.Paragraphs {
						fn(p)
					}
				}
			}
		}
	}
}

func paragraphText(p *docx.Paragraph) string {
	var buf bytes.Buffer
	for _, child := range p.Children {
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
	return buf.String()
}

// setParagraphText rewrites the paragraph's full text into its first
// run and empties the rest. Placeholders are frequently split across
// runs, so per-run replacement cannot work; formatting of the first
// run wins.
func setParagraphText(p *docx.Paragraph, text string) {
	var texts []*docx.Text
	for _, child := range p.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				texts = append(texts, t)
			}
		}
	}
	if len(texts) == 0 {
		return
	}
	texts[0].Text = text
	for _, t := range texts[1:] {
		t.Text = ""
	}
}

func replaceAll(s, old, new string) string {
	return string(bytes.ReplaceAll([]byte(s), []byte(old), []byte(new)))
}
