package indexer

import (
	"regexp"
	"strings"

	"github.com/clindoc/dsrpop/internal/secdoc"
)

var (
	compoundRe = regexp.MustCompile(`\bRO\d{6,}\b`)
	tradeRe    = regexp.MustCompile(`\(([A-Z]{4,})\)`)
	drugRe     = regexp.MustCompile(`\b([A-Z][a-z]{4,}(?:ib|ab|ide|ine|one))\b`)
)

// sniffMeta scans the first pages for product identifiers: a compound
// number, a parenthesized trade name, and a drug-like generic name.
// Best-effort only.
func sniffMeta(blocks []secdoc.TextBlock) secdoc.DocMeta {
	var meta secdoc.DocMeta
	seen := 0
	for _, b := range blocks {
		if b.Page > 5 {
			break
		}
		seen++
		if meta.CompoundID == "" {
			if m := compoundRe.FindString(b.Text); m != "" {
				meta.CompoundID = m
			}
		}
		if meta.TradeName == "" {
			if m := tradeRe.FindStringSubmatch(b.Text); m != nil {
				meta.TradeName = m[1]
			}
		}
		if meta.DrugName == "" {
			if m := drugRe.FindString(b.Text); m != "" {
				meta.DrugName = strings.TrimSpace(m)
			}
		}
		if seen > 20 {
			break
		}
	}
	return meta
}
