package resolver

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clindoc/dsrpop/internal/cache"
	"github.com/clindoc/dsrpop/internal/mapping"
	"github.com/clindoc/dsrpop/internal/secdoc"
	"github.com/clindoc/dsrpop/internal/synth"
)

// stubAdapter counts calls and delegates to fn.
type stubAdapter struct {
	mu    sync.Mutex
	calls int
	fn    func(req synth.Request) (string, error)
}

func (a *stubAdapter) Synthesize(ctx context.Context, req synth.Request) (string, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.fn == nil {
		return "synthesized text", nil
	}
	return a.fn(req)
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func testIndex() *secdoc.Index {
	return secdoc.New(secdoc.DocMeta{TotalPages: 50}, []secdoc.Section{
		{Key: "2.1", Title: "Exposure", Level: 2, PageStart: 10, PageEnd: 14, Text: "A total of 1200 subjects were exposed."},
		{Key: "6.1", Title: "Indications", Level: 2, PageStart: 20, PageEnd: 21, Text: "Approved for X."},
		{Key: "6.4", Title: "Identified Risks", Level: 2, PageStart: 30, PageEnd: 34, Text: "Risk A is an identified risk."},
		{Key: "6.5", Title: "Potential Risks", Level: 2, PageStart: 35, PageEnd: 39, Text: "Risk B is a potential risk."},
		{Key: "7", Title: "Appendices", Level: 1, PageStart: 40, PageEnd: 50, Text: ""},
		{Key: "7.1", Title: "Listing One", Level: 2, PageStart: 41, PageEnd: 43, Text: "Listing one content."},
		{Key: "7.2", Title: "Listing Two", Level: 2, PageStart: 44, PageEnd: 46, Text: "Listing two content."},
		{Key: "7.3", Title: "Listing Three", Level: 2, PageStart: 47, PageEnd: 50, Text: "Listing three content."},
	})
}

func newTestResolver(adapter synth.Adapter, store cache.Store) *Resolver {
	return New(adapter, store, nil, Config{MaxRetries: 0})
}

func TestResolve_DirectVerbatim(t *testing.T) {
	adapter := &stubAdapter{}
	r := newTestResolver(adapter, nil)

	rule := mapping.FieldRule{
		FieldID:    "[INSERT_INDICATIONS]",
		SourceRefs: []string{"6.1"},
		Strategy:   mapping.StrategyDirect,
	}
	rec := r.Resolve(context.Background(), rule, testIndex())

	if rec.Strategy != mapping.StrategyDirect {
		t.Fatalf("expected direct, got %s", rec.Strategy)
	}
	if rec.Text != "Approved for X." {
		t.Errorf("direct copy must be verbatim, got %q", rec.Text)
	}
	if len(rec.Sources) != 1 || rec.Sources[0] != "6.1" {
		t.Errorf("expected sources [6.1], got %v", rec.Sources)
	}
	if adapter.callCount() != 0 {
		t.Error("direct resolution must not contact the adapter")
	}
}

func TestResolve_DirectLongSectionFirstParagraph(t *testing.T) {
	long := strings.Repeat("First paragraph sentence. ", 10) + "\n\n" + strings.Repeat("rest ", 2000)
	idx := secdoc.New(secdoc.DocMeta{}, []secdoc.Section{
		{Key: "3", Title: "Long", Level: 1, PageStart: 1, PageEnd: 1, Text: long},
	})
	r := New(&stubAdapter{}, nil, nil, Config{LongSectionRunes: 100})

	rec := r.Resolve(context.Background(), mapping.FieldRule{
		FieldID:    "[INSERT_LONG]",
		SourceRefs: []string{"3"},
		Strategy:   mapping.StrategyDirect,
	}, idx)

	if strings.Contains(rec.Text, "rest") {
		t.Error("expected only the first paragraph of an overlong section")
	}
	if !strings.Contains(rec.Text, "First paragraph sentence.") {
		t.Errorf("first paragraph lost: %q", rec.Text)
	}
}

func TestResolve_SynthesizeBundlesAllSources(t *testing.T) {
	var gotBundle string
	adapter := &stubAdapter{fn: func(req synth.Request) (string, error) {
		gotBundle = req.Bundle
		return "Combined risk summary.", nil
	}}
	r := newTestResolver(adapter, nil)

	rule := mapping.FieldRule{
		FieldID:    "[INSERT_RISK_SUMMARY]",
		SourceRefs: []string{"6.4", "6.5"},
		Strategy:   mapping.StrategySynthesize,
	}
	rec := r.Resolve(context.Background(), rule, testIndex())

	if rec.Strategy != mapping.StrategySynthesize {
		t.Fatalf("expected synthesize, got %s (reason %q)", rec.Strategy, rec.Reason)
	}
	if rec.Text != "Combined risk summary." {
		t.Errorf("got %q", rec.Text)
	}
	if !strings.Contains(gotBundle, "Risk A") || !strings.Contains(gotBundle, "Risk B") {
		t.Errorf("bundle missing source text: %q", gotBundle)
	}
	// Priority order: 6.4 before 6.5.
	if strings.Index(gotBundle, "Risk A") > strings.Index(gotBundle, "Risk B") {
		t.Error("bundle must preserve reference priority order")
	}
	if len(rec.Sources) != 2 || rec.Sources[0] != "6.4" || rec.Sources[1] != "6.5" {
		t.Errorf("expected sources [6.4 6.5], got %v", rec.Sources)
	}
}

func TestResolve_PrefixMatchWithCap(t *testing.T) {
	adapter := &stubAdapter{fn: func(req synth.Request) (string, error) {
		return "ok", nil
	}}
	r := New(adapter, nil, nil, Config{MaxSectionsPerRef: 2})

	rec := r.Resolve(context.Background(), mapping.FieldRule{
		FieldID:    "[INSERT_LISTINGS]",
		SourceRefs: []string{"7.9"}, // no exact or prefix match for 7.9
		Strategy:   mapping.StrategySynthesize,
	}, testIndex())
	if rec.Strategy != mapping.StrategyUnavailable {
		t.Fatalf("expected unavailable for missing key, got %s", rec.Strategy)
	}

	// A ref to a key with no exact match prefix-matches its children,
	// capped and in document order.
	idx := secdoc.New(secdoc.DocMeta{}, []secdoc.Section{
		{Key: "8.1", Title: "One", Level: 2, Text: "one"},
		{Key: "8.2", Title: "Two", Level: 2, Text: "two"},
		{Key: "8.3", Title: "Three", Level: 2, Text: "three"},
	})
	rec = r.Resolve(context.Background(), mapping.FieldRule{
		FieldID:    "[INSERT_EIGHT]",
		SourceRefs: []string{"8"},
		Strategy:   mapping.StrategySynthesize,
	}, idx)
	if len(rec.Sources) != 2 {
		t.Fatalf("expected prefix matches capped at 2, got %v", rec.Sources)
	}
	if rec.Sources[0] != "8.1" || rec.Sources[1] != "8.2" {
		t.Errorf("expected document order [8.1 8.2], got %v", rec.Sources)
	}
}

func TestResolve_MissingSectionUnavailable(t *testing.T) {
	adapter := &stubAdapter{}
	r := newTestResolver(adapter, nil)

	rec := r.Resolve(context.Background(), mapping.FieldRule{
		FieldID:    "[INSERT_MISSING]",
		SourceRefs: []string{"9.9"},
		Strategy:   mapping.StrategyDirect,
	}, testIndex())

	if rec.Strategy != mapping.StrategyUnavailable {
		t.Fatalf("expected unavailable, got %s", rec.Strategy)
	}
	if !strings.Contains(rec.Reason, "not found") || !strings.Contains(rec.Reason, "9.9") {
		t.Errorf("reason must name the missing reference: %q", rec.Reason)
	}
	if !strings.HasPrefix(rec.Text, "[DATA NOT AVAILABLE - ") || !strings.HasSuffix(rec.Text, "]") {
		t.Errorf("placeholder format wrong: %q", rec.Text)
	}
	if adapter.callCount() != 0 {
		t.Error("missing sections must not trigger synthesis")
	}
}

func TestResolve_UnavailableNeverContactsAdapter(t *testing.T) {
	adapter := &stubAdapter{}
	r := newTestResolver(adapter, nil)

	rec := r.Resolve(context.Background(), mapping.FieldRule{
		FieldID:  "[INSERT_CASE_COUNT]",
		Strategy: mapping.StrategyUnavailable,
		Notes:    "Requires query of safety database",
	}, testIndex())

	if adapter.callCount() != 0 {
		t.Fatal("unavailable rule must never contact the adapter")
	}
	// The reason copies the mapping notes verbatim.
	if rec.Text != "[DATA NOT AVAILABLE - Requires query of safety database]" {
		t.Errorf("got %q", rec.Text)
	}
}

func TestResolve_TransportErrorRetried(t *testing.T) {
	adapter := &stubAdapter{fn: func(req synth.Request) (string, error) {
		return "", &synth.SynthesisError{Cause: synth.CauseTransport, Message: "connection reset"}
	}}
	r := New(adapter, nil, nil, Config{MaxRetries: 1})

	rec := r.Resolve(context.Background(), mapping.FieldRule{
		FieldID:    "[INSERT_RISK_SUMMARY]",
		SourceRefs: []string{"6.4", "6.5"},
		Strategy:   mapping.StrategySynthesize,
	}, testIndex())

	if adapter.callCount() != 2 {
		t.Errorf("expected initial call plus 1 retry, got %d calls", adapter.callCount())
	}
	if rec.Strategy != mapping.StrategyUnavailable {
		t.Fatalf("exhausted retries must yield unavailable, got %s", rec.Strategy)
	}
	if !strings.HasPrefix(rec.Reason, "synthesis failed") {
		t.Errorf("got reason %q", rec.Reason)
	}
	// Sources are still reported so the failure is traceable.
	if len(rec.Sources) != 2 {
		t.Errorf("expected sources on failed synthesis, got %v", rec.Sources)
	}
}

func TestResolve_RateLimitNotRetried(t *testing.T) {
	adapter := &stubAdapter{fn: func(req synth.Request) (string, error) {
		return "", &synth.SynthesisError{Cause: synth.CauseRateLimit, Message: "429"}
	}}
	r := New(adapter, nil, nil, Config{MaxRetries: 3})

	rec := r.Resolve(context.Background(), mapping.FieldRule{
		FieldID:    "[INSERT_RISK_SUMMARY]",
		SourceRefs: []string{"6.4"},
		Strategy:   mapping.StrategySynthesize,
	}, testIndex())

	if adapter.callCount() != 1 {
		t.Errorf("rate-limit failures must not be retried, got %d calls", adapter.callCount())
	}
	if rec.Strategy != mapping.StrategyUnavailable {
		t.Errorf("got %s", rec.Strategy)
	}
}

func TestResolve_SynthesisCache(t *testing.T) {
	adapter := &stubAdapter{fn: func(req synth.Request) (string, error) {
		return "cached result", nil
	}}
	store := cache.NewMemStore()
	r := newTestResolver(adapter, store)

	rule := mapping.FieldRule{
		FieldID:    "[INSERT_RISK_SUMMARY]",
		SourceRefs: []string{"6.4", "6.5"},
		Strategy:   mapping.StrategySynthesize,
	}

	first := r.Resolve(context.Background(), rule, testIndex())
	second := r.Resolve(context.Background(), rule, testIndex())

	if adapter.callCount() != 1 {
		t.Errorf("second resolution must hit the cache, got %d calls", adapter.callCount())
	}
	if first.Text != second.Text || second.Text != "cached result" {
		t.Errorf("got %q then %q", first.Text, second.Text)
	}
}

func TestResolveAll_OrderAndConcurrency(t *testing.T) {
	adapter := &stubAdapter{fn: func(req synth.Request) (string, error) {
		return "synth", nil
	}}
	r := New(adapter, nil, nil, Config{MaxConcurrentSynth: 2})

	rules := []mapping.FieldRule{
		{FieldID: "[INSERT_A]", SourceRefs: []string{"6.1"}, Strategy: mapping.StrategyDirect},
		{FieldID: "[INSERT_B]", SourceRefs: []string{"6.4"}, Strategy: mapping.StrategySynthesize},
		{FieldID: "[INSERT_C]", Strategy: mapping.StrategyUnavailable, Notes: "N/A"},
		{FieldID: "[INSERT_D]", SourceRefs: []string{"6.5"}, Strategy: mapping.StrategySynthesize},
	}
	records := r.ResolveAll(context.Background(), rules, testIndex())

	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	// Records come back in rule order regardless of worker scheduling.
	for i, want := range []string{"[INSERT_A]", "[INSERT_B]", "[INSERT_C]", "[INSERT_D]"} {
		if records[i].FieldID != want {
			t.Errorf("record %d: expected %s, got %s", i, want, records[i].FieldID)
		}
	}
	if adapter.callCount() != 2 {
		t.Errorf("expected 2 synthesis calls, got %d", adapter.callCount())
	}
}

func TestResolveAll_CanceledContextSkipsSynthesis(t *testing.T) {
	adapter := &stubAdapter{fn: func(req synth.Request) (string, error) {
		return "should not run", nil
	}}
	r := newTestResolver(adapter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rules := []mapping.FieldRule{
		{FieldID: "[INSERT_A]", SourceRefs: []string{"6.1"}, Strategy: mapping.StrategyDirect},
		{FieldID: "[INSERT_B]", SourceRefs: []string{"6.4"}, Strategy: mapping.StrategySynthesize},
	}
	records := r.ResolveAll(ctx, rules, testIndex())

	// Direct resolution needs no external call and still succeeds.
	if records[0].Strategy != mapping.StrategyDirect {
		t.Errorf("direct record: got %s", records[0].Strategy)
	}
	// Synthesis is skipped, surfaced as unavailable.
	if records[1].Strategy != mapping.StrategyUnavailable {
		t.Errorf("synthesize record: got %s", records[1].Strategy)
	}
	if !strings.Contains(records[1].Reason, "synthesis failed") {
		t.Errorf("got reason %q", records[1].Reason)
	}
}

func TestBuildBundle_DropsLowestPriorityFirst(t *testing.T) {
	big := strings.Repeat("word ", 1000) // ~1330 tokens
	sections := []*secdoc.Section{
		{Key: "1", Title: "First", Text: big},
		{Key: "2", Title: "Second", Text: big},
		{Key: "3", Title: "Third", Text: big},
	}
	bundle, keys := buildBundle(sections, 3000)

	if len(keys) != 2 || keys[0] != "1" || keys[1] != "2" {
		t.Fatalf("expected the first two sections kept, got %v", keys)
	}
	if !strings.Contains(bundle, "### Section 1") || !strings.Contains(bundle, "### Section 2") {
		t.Errorf("bundle missing kept sections")
	}
	if strings.Contains(bundle, "### Section 3") {
		t.Errorf("lowest-priority section must be dropped whole")
	}
}

func TestBuildBundle_TruncatesSoleOversizedSection(t *testing.T) {
	big := strings.Repeat("word ", 5000)
	sections := []*secdoc.Section{{Key: "1", Title: "Huge", Text: big}}
	bundle, keys := buildBundle(sections, 1000)

	if len(keys) != 1 || keys[0] != "1" {
		t.Fatalf("the top-priority section must survive truncation, got %v", keys)
	}
	if !strings.Contains(bundle, "[Content truncated...]") {
		t.Error("expected truncation marker")
	}
	if got := synth.EstimateTokens(bundle); got > 1100 {
		t.Errorf("truncated bundle still too large: %d tokens", got)
	}
}

func TestBuildBundle_IncludesTables(t *testing.T) {
	sections := []*secdoc.Section{{
		Key: "6.4", Title: "Risks", Text: "Narrative.",
		Tables: []secdoc.TableBlock{{Page: 30, Rows: [][]string{{"Risk", "Severity"}, {"Risk A", "High"}}}},
	}}
	bundle, _ := buildBundle(sections, 8000)
	if !strings.Contains(bundle, "Risk A\tHigh") {
		t.Errorf("flattened table missing from bundle: %q", bundle)
	}
}

func TestUnavailableText(t *testing.T) {
	got := UnavailableText("no data")
	if got != "[DATA NOT AVAILABLE - no data]" {
		t.Errorf("got %q", got)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	prevMax := Backoff(0)
	if prevMax < time.Second {
		t.Errorf("attempt 0 backoff too small: %v", prevMax)
	}
	for attempt := 0; attempt < 10; attempt++ {
		d := Backoff(attempt)
		if d > 45*time.Second {
			t.Errorf("attempt %d: backoff %v exceeds cap plus jitter", attempt, d)
		}
	}
}
