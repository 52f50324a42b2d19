// Package indexer turns page-tagged text and table blocks into an
// ordered hierarchical section index, cached content-addressed.
package indexer

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clindoc/dsrpop/internal/cache"
	"github.com/clindoc/dsrpop/internal/heading"
	"github.com/clindoc/dsrpop/internal/secdoc"
)

// Indexer builds section indexes. The cache handle is explicit; pass
// nil to index without persistence.
type Indexer struct {
	engine *heading.Engine
	cache  cache.Store
	log    *slog.Logger
}

func New(store cache.Store, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		engine: heading.NewEngine(),
		cache:  store,
		log:    log,
	}
}

// ContentHash computes the content address of an input block sequence.
// Identical inputs always hash identically; any changed block changes
// the hash.
func ContentHash(blocks []secdoc.TextBlock, tables []secdoc.TableBlock) string {
	h := sha256.New()
	for _, b := range blocks {
		fmt.Fprintf(h, "t:%d:%d:", b.Page, len(b.Text))
		h.Write([]byte(b.Text))
	}
	for _, t := range tables {
		fmt.Fprintf(h, "T:%d:", t.Page)
		for _, row := range t.Rows {
			for _, cell := range row {
				fmt.Fprintf(h, "%d:", len(cell))
				h.Write([]byte(cell))
			}
			h.Write([]byte{'\n'})
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Index returns the section index for the given blocks. When a cached
// index exists under the same content hash and force is false, the
// cached index is returned unchanged, making indexing idempotent. A
// corrupt cache entry triggers a full rebuild, never a failure.
func (ix *Indexer) Index(blocks []secdoc.TextBlock, tables []secdoc.TableBlock, force bool) (*secdoc.Index, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no text blocks to index")
	}

	key := "index-" + ContentHash(blocks, tables)
	if ix.cache != nil && !force {
		if data, ok := ix.cache.Get(key); ok {
			idx, err := secdoc.Unmarshal(data)
			if err == nil {
				ix.log.Debug("section index cache hit", "key", key, "sections", idx.Len())
				return idx, nil
			}
			ix.log.Warn("corrupt index cache entry, rebuilding", "key", key, "error", err)
		}
	}

	idx := ix.build(blocks, tables)

	if ix.cache != nil {
		data, err := secdoc.Marshal(idx)
		if err != nil {
			return nil, err
		}
		if err := ix.cache.Put(key, data); err != nil {
			ix.log.Warn("index cache write failed", "key", key, "error", err)
		}
	}
	return idx, nil
}

type line struct {
	page int
	text string
}

// build is a single-pass scan over the flattened line stream.
func (ix *Indexer) build(blocks []secdoc.TextBlock, tables []secdoc.TableBlock) *secdoc.Index {
	lines := flatten(blocks)
	lastPage := 0
	for _, l := range lines {
		if l.page > lastPage {
			lastPage = l.page
		}
	}

	var sections []secdoc.Section
	var body strings.Builder
	var current *secdoc.Section
	lastNumericKey := ""
	synthetic := 0

	closeCurrent := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(body.String())
		body.Reset()
		sections = append(sections, *current)
		current = nil
	}

	for i, l := range lines {
		var prev, next string
		if i > 0 {
			prev = lines[i-1].text
		}
		if i+1 < len(lines) {
			next = lines[i+1].text
		}

		h, ok := ix.engine.Classify(heading.Line{Prev: prev, Text: l.text, Next: next}, lastNumericKey)
		if !ok {
			if current == nil && strings.TrimSpace(l.text) != "" {
				// Body text before the first heading opens the preamble.
				current = &secdoc.Section{
					Key:       "preamble",
					Title:     "Preamble",
					Level:     1,
					PageStart: l.page,
				}
			}
			if current != nil {
				if body.Len() > 0 {
					body.WriteString("\n")
				}
				body.WriteString(l.text)
			}
			continue
		}

		closeCurrent()
		key := h.Key
		if key == "" {
			synthetic++
			key = fmt.Sprintf("s%d", synthetic)
		} else {
			lastNumericKey = key
		}
		current = &secdoc.Section{
			Key:       key,
			Title:     h.Title,
			Level:     h.Level,
			PageStart: l.page,
		}
	}
	closeCurrent()

	if len(sections) == 0 || onlyPreamble(sections) {
		// Heading-free input degrades to a single whole-document section.
		all := joinBlocks(blocks)
		sections = []secdoc.Section{{
			Key:       "document",
			Title:     "Document",
			Level:     1,
			PageStart: blocks[0].Page,
			PageEnd:   lastPage,
			Text:      strings.TrimSpace(all),
		}}
	}

	assignPageEnds(sections, lastPage)
	assignParents(sections)
	attributeTables(sections, tables)

	meta := sniffMeta(blocks)
	meta.TotalPages = lastPage

	return secdoc.New(meta, sections)
}

func onlyPreamble(sections []secdoc.Section) bool {
	return len(sections) == 1 && sections[0].Key == "preamble"
}

func flatten(blocks []secdoc.TextBlock) []line {
	var out []line
	for _, b := range blocks {
		for _, t := range strings.Split(b.Text, "\n") {
			out = append(out, line{page: b.Page, text: t})
		}
	}
	return out
}

func joinBlocks(blocks []secdoc.TextBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// assignPageEnds closes each section's page range at the page before
// the next section of the same or shallower level. Sections at the
// same level never overlap.
func assignPageEnds(sections []secdoc.Section, lastPage int) {
	for i := range sections {
		end := lastPage
		for j := i + 1; j < len(sections); j++ {
			if sections[j].Level <= sections[i].Level {
				end = sections[j].PageStart - 1
				break
			}
		}
		if end < sections[i].PageStart {
			end = sections[i].PageStart
		}
		sections[i].PageEnd = end
	}
}

// assignParents links each section to the nearest preceding section of
// a shallower level, by key only.
func assignParents(sections []secdoc.Section) {
	for i := range sections {
		for j := i - 1; j >= 0; j-- {
			if sections[j].Level < sections[i].Level {
				sections[i].ParentKey = sections[j].Key
				break
			}
		}
	}
}

// attributeTables assigns each table to the deepest section whose page
// range contains its page; page-boundary ties go to the section that
// started earlier on that page.
func attributeTables(sections []secdoc.Section, tables []secdoc.TableBlock) {
	for _, t := range tables {
		best := -1
		for i := range sections {
			if t.Page < sections[i].PageStart || t.Page > sections[i].PageEnd {
				continue
			}
			if best == -1 || sections[i].Level > sections[best].Level {
				best = i
			}
		}
		if best == -1 {
			// Before the first section's range; fall back to the first.
			best = 0
		}
		sections[best].Tables = append(sections[best].Tables, t)
	}
}
