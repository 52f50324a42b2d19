// Package mapping parses the declarative field-mapping artifact: a
// row-oriented markdown table mapping each target placeholder to its
// source section references, page hints, and notes.
package mapping

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Strategy is the extraction strategy for one field.
type Strategy string

const (
	StrategyDirect      Strategy = "direct"
	StrategySynthesize  Strategy = "synthesize"
	StrategyUnavailable Strategy = "unavailable"
)

// FieldRule is one row of the mapping specification.
type FieldRule struct {
	FieldID     string   // bracketed placeholder, e.g. "[INSERT_INDICATIONS]"
	Description string   // field cell text with the placeholder removed
	SourceRefs  []string // section keys in priority order
	Pages       []int    // page hints, sorted, deduplicated
	Strategy    Strategy
	Notes       string
}

// ErrMappingParse means the mapping artifact yielded no usable rules.
// This is fatal: resolution is meaningless without valid rules.
var ErrMappingParse = errors.New("mapping file contains no parsable field rules")

var (
	placeholderRe = regexp.MustCompile(`\[INSERT_[A-Z0-9_]+\]`)
	sectionRefRe  = regexp.MustCompile(`\b\d+(?:\.\d+)*\b`)
	pageRangeRe   = regexp.MustCompile(`(\d+)\s*-\s*(\d+)`)
	pageNumRe     = regexp.MustCompile(`\d+`)
	pipeRowRe     = regexp.MustCompile(`^\s*\|([^|]+)\|([^|]+)\|([^|]*)\|([^|]*)\|`)
)

// Load parses the mapping source into field rules, in row order.
// Duplicate placeholders are kept as independent occurrences.
func Load(source []byte) ([]FieldRule, error) {
	rules := loadTables(source)
	if len(rules) == 0 {
		// Some mapping files are pipe tables without a delimiter row,
		// which markdown does not recognize as tables.
		rules = loadPipeRows(source)
	}
	if len(rules) == 0 {
		return nil, ErrMappingParse
	}
	return rules, nil
}

// loadTables walks the markdown AST for GFM tables.
func loadTables(source []byte) []FieldRule {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(source))

	var rules []FieldRule
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		row, ok := n.(*east.TableRow)
		if !ok {
			return ast.WalkContinue, nil
		}
		var cells []string
		for c := row.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, string(c.Text(source)))
		}
		if rule, ok := ruleFromCells(cells); ok {
			rules = append(rules, rule)
		}
		return ast.WalkSkipChildren, nil
	})
	return rules
}

// loadPipeRows is the lenient fallback: any line shaped like
// "| field | section | pages | notes |".
func loadPipeRows(source []byte) []FieldRule {
	var rules []FieldRule
	for _, line := range strings.Split(string(source), "\n") {
		m := pipeRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if rule, ok := ruleFromCells(m[1:]); ok {
			rules = append(rules, rule)
		}
	}
	return rules
}

func ruleFromCells(cells []string) (FieldRule, bool) {
	if len(cells) < 2 {
		return FieldRule{}, false
	}
	field := strings.TrimSpace(cells[0])
	refCell := strings.TrimSpace(cells[1])
	var pagesCell, notes string
	if len(cells) > 2 {
		pagesCell = strings.TrimSpace(cells[2])
	}
	if len(cells) > 3 {
		notes = strings.TrimSpace(cells[3])
	}

	// Separator and header rows never carry a placeholder.
	placeholder := placeholderRe.FindString(field)
	if placeholder == "" {
		return FieldRule{}, false
	}

	refs := parseSectionRefs(refCell)
	rule := FieldRule{
		FieldID:     placeholder,
		Description: strings.Trim(strings.Replace(field, placeholder, "", 1), " -:"),
		SourceRefs:  refs,
		Pages:       parsePages(pagesCell),
		Notes:       notes,
	}
	rule.Strategy = classify(refCell, notes, refs)
	return rule, true
}

// parseSectionRefs pulls ordered, deduplicated section keys out of a
// reference cell like "Section 6.1", "6.4 + 6.5" or "1.1, 1.2 and 1.3".
func parseSectionRefs(cell string) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, m := range sectionRefRe.FindAllString(cell, -1) {
		if !seen[m] {
			seen[m] = true
			refs = append(refs, m)
		}
	}
	return refs
}

// parsePages handles "89", "34-45" and "15, 22, 34".
func parsePages(cell string) []int {
	if cell == "" || strings.EqualFold(cell, "N/A") || cell == "-" {
		return nil
	}
	seen := make(map[int]bool)
	var pages []int
	for _, part := range strings.Split(cell, ",") {
		part = strings.TrimSpace(part)
		if m := pageRangeRe.FindStringSubmatch(part); m != nil {
			start, _ := strconv.Atoi(m[1])
			end, _ := strconv.Atoi(m[2])
			for p := start; p <= end; p++ {
				if !seen[p] {
					seen[p] = true
					pages = append(pages, p)
				}
			}
			continue
		}
		if m := pageNumRe.FindString(part); m != "" {
			p, _ := strconv.Atoi(m)
			if !seen[p] {
				seen[p] = true
				pages = append(pages, p)
			}
		}
	}
	sort.Ints(pages)
	return pages
}

var unavailableKeywords = []string{
	"n/a",
	"not available",
	"not in source",
	"cannot be populated",
	"external source",
	"safety database",
	"case report",
	"requires query",
}

var synthesisKeywords = []string{
	"synthesis",
	"synthesize",
	"combine",
	"summarize",
	"multiple sections",
	"rewrite",
	"adapt",
}

// classify is a deterministic classification, not a heuristic guess.
// Explicit unavailable markers win; "copy verbatim" forces direct;
// otherwise multiple references or synthesis keywords mean synthesize,
// and a plain single reference is a direct copy.
func classify(refCell, notes string, refs []string) Strategy {
	refLower := strings.ToLower(refCell)
	notesLower := strings.ToLower(notes)

	for _, kw := range unavailableKeywords {
		if strings.Contains(refLower, kw) || strings.Contains(notesLower, kw) {
			return StrategyUnavailable
		}
	}
	if len(refs) == 0 {
		return StrategyUnavailable
	}
	if strings.Contains(notesLower, "copy verbatim") {
		return StrategyDirect
	}
	if len(refs) > 1 {
		return StrategySynthesize
	}
	for _, kw := range synthesisKeywords {
		if strings.Contains(notesLower, kw) {
			return StrategySynthesize
		}
	}
	return StrategyDirect
}

// Reason returns the human-readable unavailable reason for a rule,
// copying the notes verbatim when present.
func (r FieldRule) Reason() string {
	if strings.TrimSpace(r.Notes) != "" {
		return r.Notes
	}
	if len(r.SourceRefs) == 0 {
		return "no source reference declared"
	}
	return fmt.Sprintf("external data required for %s", r.FieldID)
}

// CountByStrategy summarizes a rule set, mirroring the priority
// breakdown reported by the CLI.
func CountByStrategy(rules []FieldRule) map[Strategy]int {
	out := make(map[Strategy]int, 3)
	for _, r := range rules {
		out[r.Strategy]++
	}
	return out
}
