// Package resolver routes each field rule to an extraction strategy
// and assembles its source evidence from the section index. Resolution
// of distinct fields is independent: given a frozen index and rule set
// it is pure and repeatable, so synthesize-path fields run on a bounded
// worker pool while direct fields resolve inline.
package resolver

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clindoc/dsrpop/internal/cache"
	"github.com/clindoc/dsrpop/internal/mapping"
	"github.com/clindoc/dsrpop/internal/secdoc"
	"github.com/clindoc/dsrpop/internal/synth"
)

// Record is the immutable per-field resolution outcome.
type Record struct {
	FieldID  string           `json:"field_id"`
	Strategy mapping.Strategy `json:"strategy"`
	Sources  []string         `json:"sources,omitempty"`
	Text     string           `json:"text,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// Config bounds resolution behavior.
type Config struct {
	MaxSectionsPerRef   int // prefix-match cap per source reference
	MaxBundleTokens     int // synthesis bundle budget
	MaxCompletionTokens int // completion budget per synthesis call
	MaxConcurrentSynth  int // worker pool size for the synthesize path
	MaxRetries          int // retries after the first attempt, transport only
	LongSectionRunes    int // direct path: sections longer than this yield first paragraph only
}

func DefaultConfig() Config {
	return Config{
		MaxSectionsPerRef:   5,
		MaxBundleTokens:     8000,
		MaxCompletionTokens: 2000,
		MaxConcurrentSynth:  4,
		MaxRetries:          2,
		LongSectionRunes:    4000,
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.MaxSectionsPerRef <= 0 {
		c.MaxSectionsPerRef = d.MaxSectionsPerRef
	}
	if c.MaxBundleTokens <= 0 {
		c.MaxBundleTokens = d.MaxBundleTokens
	}
	if c.MaxCompletionTokens <= 0 {
		c.MaxCompletionTokens = d.MaxCompletionTokens
	}
	if c.MaxConcurrentSynth <= 0 {
		c.MaxConcurrentSynth = d.MaxConcurrentSynth
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.LongSectionRunes <= 0 {
		c.LongSectionRunes = d.LongSectionRunes
	}
}

// Resolver resolves field rules against a frozen section index.
type Resolver struct {
	cfg     Config
	adapter synth.Adapter
	cache   cache.Store // synthesis result cache, may be nil
	log     *slog.Logger
}

func New(adapter synth.Adapter, store cache.Store, log *slog.Logger, cfg Config) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	cfg.fill()
	return &Resolver{cfg: cfg, adapter: adapter, cache: store, log: log}
}

// ResolveAll resolves every rule, returning records in rule order.
// Direct and unavailable rules resolve inline; synthesize rules go
// through a bounded worker pool since each call is rate-limited by the
// external service. Cancellation stops issuing new synthesis calls;
// in-flight calls finish under their own timeout.
func (r *Resolver) ResolveAll(ctx context.Context, rules []mapping.FieldRule, idx *secdoc.Index) []Record {
	records := make([]Record, len(rules))

	sem := make(chan struct{}, r.cfg.MaxConcurrentSynth)
	var wg sync.WaitGroup

	for i, rule := range rules {
		if rule.Strategy != mapping.StrategySynthesize {
			records[i] = r.Resolve(ctx, rule, idx)
			continue
		}
		wg.Add(1)
		go func(i int, rule mapping.FieldRule) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				records[i] = unavailableRecord(rule, "synthesis failed: run canceled before call")
				return
			}
			records[i] = r.Resolve(ctx, rule, idx)
		}(i, rule)
	}

	wg.Wait()
	return records
}

// Resolve produces the resolution record for a single field rule.
func (r *Resolver) Resolve(ctx context.Context, rule mapping.FieldRule, idx *secdoc.Index) Record {
	// Unavailable rules never contact the synthesis adapter.
	if rule.Strategy == mapping.StrategyUnavailable {
		return unavailableRecord(rule, rule.Reason())
	}

	sections := r.locate(rule, idx)
	if len(sections) == 0 {
		reason := strings.TrimSpace(rule.Notes)
		if reason == "" {
			reason = fmt.Sprintf("source section not found: %s", strings.Join(rule.SourceRefs, ", "))
		}
		return unavailableRecord(rule, reason)
	}

	switch rule.Strategy {
	case mapping.StrategyDirect:
		return r.resolveDirect(rule, sections)
	default:
		return r.resolveSynthesize(ctx, rule, sections)
	}
}

// locate collects matching sections per reference in priority order:
// exact key match first, then prefix match, capped per reference,
// preserving document order and dropping duplicates.
func (r *Resolver) locate(rule mapping.FieldRule, idx *secdoc.Index) []*secdoc.Section {
	var out []*secdoc.Section
	seen := make(map[string]bool)
	for _, ref := range rule.SourceRefs {
		var matches []*secdoc.Section
		if s, ok := idx.Lookup(ref); ok {
			matches = []*secdoc.Section{s}
		} else {
			matches = idx.PrefixMatch(ref, r.cfg.MaxSectionsPerRef)
		}
		for _, s := range matches {
			if !seen[s.Key] {
				seen[s.Key] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// resolveDirect copies the first resolved section's text verbatim.
// This path is contractually lossless; the only transformation is
// trimming, plus a first-paragraph cut for very long sections.
func (r *Resolver) resolveDirect(rule mapping.FieldRule, sections []*secdoc.Section) Record {
	s := sections[0]
	text := strings.TrimSpace(s.Text)
	if len([]rune(text)) > r.cfg.LongSectionRunes {
		text = firstParagraph(text)
	}
	return Record{
		FieldID:  rule.FieldID,
		Strategy: mapping.StrategyDirect,
		Sources:  []string{s.Key},
		Text:     text,
	}
}

func (r *Resolver) resolveSynthesize(ctx context.Context, rule mapping.FieldRule, sections []*secdoc.Section) Record {
	bundle, keys := buildBundle(sections, r.cfg.MaxBundleTokens)
	if strings.TrimSpace(bundle) == "" {
		return unavailableRecord(rule, "source sections contain no text")
	}

	cacheKey := synthCacheKey(rule.FieldID, bundle, rule.Notes)
	if r.cache != nil {
		if data, ok := r.cache.Get(cacheKey); ok {
			return Record{
				FieldID:  rule.FieldID,
				Strategy: mapping.StrategySynthesize,
				Sources:  keys,
				Text:     string(data),
			}
		}
	}

	req := synth.Request{
		Bundle:       bundle,
		Instructions: instructions(rule),
		MaxTokens:    r.cfg.MaxCompletionTokens,
	}

	text, err := r.callWithRetry(ctx, rule.FieldID, req)
	if err != nil {
		return unavailableRecordWithSources(rule, keys, fmt.Sprintf("synthesis failed: %s", err))
	}

	if r.cache != nil {
		if err := r.cache.Put(cacheKey, []byte(text)); err != nil {
			r.log.Warn("synthesis cache write failed", "field", rule.FieldID, "error", err)
		}
	}
	return Record{
		FieldID:  rule.FieldID,
		Strategy: mapping.StrategySynthesize,
		Sources:  keys,
		Text:     text,
	}
}

// callWithRetry issues the adapter call with a small fixed retry budget
// for transient transport failures only. Cancellation stops new
// attempts; the in-flight call completes under the adapter's own
// timeout.
func (r *Resolver) callWithRetry(ctx context.Context, fieldID string, req synth.Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return "", lastErr
			}
			return "", &synth.SynthesisError{Cause: synth.CauseTransport, Message: "run canceled before call"}
		}
		text, err := r.adapter.Synthesize(context.WithoutCancel(ctx), req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !synth.IsRetryable(err) {
			break
		}
		r.log.Warn("retryable synthesis error", "field", fieldID, "attempt", attempt, "error", err)
		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return "", lastErr
		}
	}
	return "", lastErr
}

func instructions(rule mapping.FieldRule) string {
	var sb strings.Builder
	sb.WriteString("Produce the content for the target field ")
	sb.WriteString(rule.FieldID)
	if rule.Description != "" {
		sb.WriteString(" (")
		sb.WriteString(rule.Description)
		sb.WriteString(")")
	}
	sb.WriteString(".")
	if rule.Notes != "" {
		sb.WriteString(" Additional context: ")
		sb.WriteString(rule.Notes)
	}
	return sb.String()
}

// UnavailableText is the fixed, clearly-marked placeholder emitted for
// unresolved fields so downstream consumers can tell "no data" apart
// from "data present but empty".
func UnavailableText(reason string) string {
	return fmt.Sprintf("[DATA NOT AVAILABLE - %s]", reason)
}

func unavailableRecord(rule mapping.FieldRule, reason string) Record {
	return unavailableRecordWithSources(rule, nil, reason)
}

func unavailableRecordWithSources(rule mapping.FieldRule, sources []string, reason string) Record {
	return Record{
		FieldID:  rule.FieldID,
		Strategy: mapping.StrategyUnavailable,
		Sources:  sources,
		Text:     UnavailableText(reason),
		Reason:   reason,
	}
}

func firstParagraph(text string) string {
	if i := strings.Index(text, "\n\n"); i > 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

func synthCacheKey(fieldID, bundle, notes string) string {
	h := sha256.Sum256([]byte(bundle + "\x00" + notes))
	return fmt.Sprintf("synth-%s-%x", strings.Trim(fieldID, "[]"), h[:8])
}
