package populate

import (
	"sort"

	"github.com/clindoc/dsrpop/internal/mapping"
	"github.com/clindoc/dsrpop/internal/resolver"
)

// Report categorizes how each field ended up, for the run summary.
type Report struct {
	Populated     []string `json:"populated"`
	Synthesized   []string `json:"synthesized"`
	Unavailable   []string `json:"unavailable"`
	NotInTemplate []string `json:"not_in_template,omitempty"`
}

// BuildReport classifies resolution records against the placeholders
// actually present in the template. Fields resolved but absent from the
// template are reported, never silently dropped.
func BuildReport(records []resolver.Record, templatePlaceholders []string) Report {
	inTemplate := make(map[string]bool, len(templatePlaceholders))
	for _, ph := range templatePlaceholders {
		inTemplate[ph] = true
	}

	var rep Report
	seen := make(map[string]bool)
	for _, rec := range records {
		if seen[rec.FieldID] {
			continue
		}
		seen[rec.FieldID] = true

		if !inTemplate[rec.FieldID] {
			rep.NotInTemplate = append(rep.NotInTemplate, rec.FieldID)
			continue
		}
		switch rec.Strategy {
		case mapping.StrategyDirect:
			rep.Populated = append(rep.Populated, rec.FieldID)
		case mapping.StrategySynthesize:
			rep.Synthesized = append(rep.Synthesized, rec.FieldID)
		default:
			rep.Unavailable = append(rep.Unavailable, rec.FieldID)
		}
	}

	sort.Strings(rep.Populated)
	sort.Strings(rep.Synthesized)
	sort.Strings(rep.Unavailable)
	sort.Strings(rep.NotInTemplate)
	return rep
}

// Values flattens records into the field→text map the sink consumes.
// Later duplicate occurrences of a field reuse the first record, which
// is the repeated application of the same rule.
func Values(records []resolver.Record) map[string]string {
	values := make(map[string]string, len(records))
	for _, rec := range records {
		if _, ok := values[rec.FieldID]; ok {
			continue
		}
		values[rec.FieldID] = rec.Text
	}
	return values
}
