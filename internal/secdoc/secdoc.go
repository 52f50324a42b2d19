package secdoc

import (
	"strconv"
	"strings"
)

// TextBlock is a page-tagged run of text produced by the extractor.
// Blocks are ordered by page, then by original sequence within the page.
type TextBlock struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// TableBlock is a page-tagged table produced by the extractor.
type TableBlock struct {
	Page int        `json:"page"`
	Rows [][]string `json:"rows"`
}

// Flatten renders the table as plain text, one row per line with
// tab-separated cells, for inclusion in a synthesis bundle.
func (t TableBlock) Flatten() string {
	var sb strings.Builder
	for i, row := range t.Rows {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.Join(row, "\t"))
	}
	return sb.String()
}

// Section is one indexed subdivision of the source document.
type Section struct {
	Key       string       `json:"key"`
	Title     string       `json:"title"`
	Level     int          `json:"level"`
	PageStart int          `json:"page_start"`
	PageEnd   int          `json:"page_end"`
	Text      string       `json:"text"`
	Tables    []TableBlock `json:"tables,omitempty"`
	ParentKey string       `json:"parent_key,omitempty"`
}

// DocMeta holds document-level metadata sniffed from the first pages.
// Informational only; nothing in resolution depends on it.
type DocMeta struct {
	DrugName   string `json:"drug_name,omitempty"`
	TradeName  string `json:"trade_name,omitempty"`
	CompoundID string `json:"compound_id,omitempty"`
	TotalPages int    `json:"total_pages"`
}

// Index is the ordered section index of one document. Sections appear
// in document order; byKey is rebuilt on load and never serialized.
type Index struct {
	Meta     DocMeta   `json:"meta"`
	Sections []Section `json:"sections"`

	byKey map[string]int
}

// New builds an Index over the given sections (already in document order).
func New(meta DocMeta, sections []Section) *Index {
	idx := &Index{Meta: meta, Sections: sections}
	idx.rebuild()
	return idx
}

func (idx *Index) rebuild() {
	idx.byKey = make(map[string]int, len(idx.Sections))
	for i, s := range idx.Sections {
		if _, dup := idx.byKey[s.Key]; !dup {
			idx.byKey[s.Key] = i
		}
	}
}

// Lookup returns the section with the exact key.
func (idx *Index) Lookup(key string) (*Section, bool) {
	if idx.byKey == nil {
		idx.rebuild()
	}
	i, ok := idx.byKey[key]
	if !ok {
		return nil, false
	}
	return &idx.Sections[i], true
}

// Parent returns the parent section of s, resolved by key lookup.
func (idx *Index) Parent(s *Section) (*Section, bool) {
	if s.ParentKey == "" {
		return nil, false
	}
	return idx.Lookup(s.ParentKey)
}

// PrefixMatch returns up to max sections whose key equals prefix or
// starts with prefix+".", in document order. A reference to "6.4"
// matches "6.4", "6.4.1", "6.4.2.1" but not "6.40".
func (idx *Index) PrefixMatch(prefix string, max int) []*Section {
	var out []*Section
	for i := range idx.Sections {
		k := idx.Sections[i].Key
		if k == prefix || strings.HasPrefix(k, prefix+".") {
			out = append(out, &idx.Sections[i])
			if max > 0 && len(out) >= max {
				break
			}
		}
	}
	return out
}

// Len returns the number of sections.
func (idx *Index) Len() int { return len(idx.Sections) }

// KeyLevel infers the depth of a numbering key from its dot count.
// "5" is level 1, "5.5.1.2.4" is level 5.
func KeyLevel(key string) int {
	if key == "" {
		return 1
	}
	return strings.Count(key, ".") + 1
}

// CompareKeys orders two numeric dotted keys. Non-numeric groups sort
// after numeric ones so synthetic keys never interleave numbered ones.
func CompareKeys(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		case aerr == nil:
			return -1
		case berr == nil:
			return 1
		default:
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}
