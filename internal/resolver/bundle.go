package resolver

import (
	"fmt"
	"strings"

	"github.com/clindoc/dsrpop/internal/secdoc"
	"github.com/clindoc/dsrpop/internal/synth"
)

// buildBundle concatenates section text and flattened tables into one
// synthesis source bundle, in priority order. When the bundle exceeds
// the token budget, whole lowest-priority sections are dropped first;
// the highest-priority section is kept even if it alone must be cut.
// Returns the bundle and the keys of the sections actually included.
func buildBundle(sections []*secdoc.Section, maxTokens int) (string, []string) {
	var sb strings.Builder
	var keys []string
	used := 0

	for i, s := range sections {
		part := renderSection(s)
		if strings.TrimSpace(part) == "" {
			continue
		}
		tokens := synth.EstimateTokens(part)
		if used+tokens > maxTokens {
			if i == 0 {
				part = truncateToTokens(part, maxTokens)
				sb.WriteString(part)
				keys = append(keys, s.Key)
			}
			break
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(part)
		keys = append(keys, s.Key)
		used += tokens
	}
	return sb.String(), keys
}

func renderSection(s *secdoc.Section) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### Section %s %s\n", s.Key, s.Title)
	sb.WriteString(s.Text)
	for _, t := range s.Tables {
		flat := t.Flatten()
		if flat == "" {
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(flat)
	}
	return sb.String()
}

func truncateToTokens(text string, maxTokens int) string {
	words := strings.Fields(text)
	keep := int(float64(maxTokens) / 1.33)
	if keep <= 0 || keep >= len(words) {
		return text
	}
	return strings.Join(words[:keep], " ") + "\n\n[Content truncated...]"
}
