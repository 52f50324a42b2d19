// Package heading classifies single lines of extracted text as section
// headings. Patterns are tried in fixed priority order; ties go to the
// earlier pattern, never to a confidence score.
package heading

import (
	"regexp"
	"strings"

	"github.com/clindoc/dsrpop/internal/secdoc"
)

// Kind identifies which pattern accepted a line.
type Kind int

const (
	KindNumeric Kind = iota // "5.5.1.2.4 Deaths"
	KindKeyword             // "Appendix 2", "Table 14", "Figure 3"
	KindCaps                // short all-caps line, lowest confidence
)

// Heading is the evidence extracted from an accepted heading line.
// Key is empty for keyword and caps headings; the indexer assigns a
// synthetic key derived from document order.
type Heading struct {
	Key   string
	Title string
	Level int
	Kind  Kind
}

// Line carries a candidate line with its immediate neighbors, which the
// engine needs for the list-intrusion defense.
type Line struct {
	Prev string
	Text string
	Next string
}

type pattern struct {
	name    string
	extract func(line string) (Heading, bool)
}

// Engine evaluates an ordered list of pure predicate+extractor pairs.
type Engine struct {
	patterns []pattern
}

const (
	maxHeadingLen = 120
	maxCapsLen    = 60
)

var (
	numericRe = regexp.MustCompile(`^(\d+(?:\.\d+){0,5})\.?\s+(\S.*)$`)
	keywordRe = regexp.MustCompile(`^(Appendix|Table|Figure)\s+([A-Z]?\d+(?:[.-]\d+)*)\b\.?:?\s*(.*)$`)
)

func NewEngine() *Engine {
	return &Engine{patterns: []pattern{
		{name: "numeric", extract: matchNumeric},
		{name: "keyword", extract: matchKeyword},
		{name: "caps", extract: matchCaps},
	}}
}

// Classify decides whether a line is a heading. lastKey is the
// numbering key of the last accepted numeric heading in document order
// ("" before the first one). Numeric keys must be non-decreasing; a
// decrease invalidates the candidate and it is treated as body text.
func (e *Engine) Classify(l Line, lastKey string) (Heading, bool) {
	line := strings.TrimSpace(l.Text)
	if line == "" {
		return Heading{}, false
	}
	for _, p := range e.patterns {
		h, ok := p.extract(line)
		if !ok {
			continue
		}
		if h.Kind == KindNumeric && lastKey != "" {
			cmp := secdoc.CompareKeys(h.Key, lastKey)
			if cmp < 0 {
				return Heading{}, false
			}
			// A numeric-looking line inside a list or table cell:
			// surrounded by body text and not advancing the key.
			if cmp <= 0 && isBodyText(l.Prev) && isBodyText(l.Next) {
				return Heading{}, false
			}
		}
		return h, true
	}
	return Heading{}, false
}

func matchNumeric(line string) (Heading, bool) {
	if len(line) > maxHeadingLen {
		return Heading{}, false
	}
	m := numericRe.FindStringSubmatch(line)
	if m == nil {
		return Heading{}, false
	}
	key := m[1]
	title := strings.TrimSpace(m[2])
	if title == "" || !startsUpper(title) {
		return Heading{}, false
	}
	// Heading titles do not end with normal sentence punctuation.
	if strings.ContainsAny(title[len(title)-1:], ".,;:") {
		return Heading{}, false
	}
	return Heading{
		Key:   key,
		Title: title,
		Level: secdoc.KeyLevel(key),
		Kind:  KindNumeric,
	}, true
}

func matchKeyword(line string) (Heading, bool) {
	if len(line) > maxHeadingLen {
		return Heading{}, false
	}
	m := keywordRe.FindStringSubmatch(line)
	if m == nil {
		return Heading{}, false
	}
	level := 1
	if m[1] != "Appendix" {
		level = 2
	}
	title := strings.TrimSpace(line)
	title = strings.TrimRight(title, ".,;:")
	return Heading{Title: title, Level: level, Kind: KindKeyword}, true
}

func matchCaps(line string) (Heading, bool) {
	if len(line) > maxCapsLen {
		return Heading{}, false
	}
	letters := 0
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			return Heading{}, false
		}
		if r >= 'A' && r <= 'Z' {
			letters++
		}
	}
	if letters < 4 {
		return Heading{}, false
	}
	if strings.ContainsAny(line[len(line)-1:], ".,;:") {
		return Heading{}, false
	}
	return Heading{Title: line, Level: 1, Kind: KindCaps}, true
}

func startsUpper(s string) bool {
	return len(s) > 0 && s[0] >= 'A' && s[0] <= 'Z'
}

// isBodyText reports whether a neighboring line is high-confidence body
// text: long running prose or a line ending mid-sentence punctuation,
// and itself not heading-shaped.
func isBodyText(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if _, ok := matchNumeric(line); ok {
		return false
	}
	if _, ok := matchKeyword(line); ok {
		return false
	}
	if len(line) > 80 {
		return true
	}
	return strings.ContainsAny(line[len(line)-1:], ".,;:")
}
