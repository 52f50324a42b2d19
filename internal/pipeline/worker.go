package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clindoc/dsrpop/internal/extractor"
	"github.com/clindoc/dsrpop/internal/indexer"
	"github.com/clindoc/dsrpop/internal/mapping"
	"github.com/clindoc/dsrpop/internal/populate"
	"github.com/clindoc/dsrpop/internal/resolver"
)

// Worker processes a single population job.
type Worker struct {
	idx *indexer.Indexer
	res *resolver.Resolver
	log *slog.Logger

	pdfFallback bool
}

func NewWorker(idx *indexer.Indexer, res *resolver.Resolver, log *slog.Logger, pdfFallback bool) *Worker {
	return &Worker{
		idx:         idx,
		res:         res,
		log:         log,
		pdfFallback: pdfFallback,
	}
}

// Process runs the full population pipeline for a job. Per-field
// failures surface as unavailable placeholders in the output; only
// input-level failures (unreadable document, unparsable mapping,
// unparsable template) fail the job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID)
	docData, mapData, tplData := job.Inputs()

	// Phase 1: Extract
	job.SetStatus(StatusExtracting, "extracting")
	ex, err := extractor.ForFile(job.DocumentFilename)
	if err != nil {
		log.Error("unsupported format", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "extracting")
		return
	}
	if p, ok := ex.(*extractor.PDFExtractor); ok {
		p.FallbackPdftotext = w.pdfFallback
	}

	result, err := ex.Extract(bytes.NewReader(docData), job.DocumentFilename)
	if err != nil {
		log.Error("extract failed", "error", err)
		job.AddError(fmt.Sprintf("extract: %s", err))
		job.SetStatus(StatusFailed, "extracting")
		return
	}
	if len(result.Blocks) == 0 {
		log.Warn("no extractable text")
		job.AddError("document contains no extractable text")
		job.SetStatus(StatusFailed, "extracting")
		return
	}
	job.ContentHash = indexer.ContentHash(result.Blocks, result.Tables)

	// Phase 2: Index
	job.SetStatus(StatusIndexing, "indexing")
	idx, err := w.idx.Index(result.Blocks, result.Tables, job.ForceReindex)
	if err != nil {
		log.Error("index failed", "error", err)
		job.AddError(fmt.Sprintf("index: %s", err))
		job.SetStatus(StatusFailed, "indexing")
		return
	}
	job.SetSections(idx.Len())
	log.Info("indexed document", "sections", idx.Len(), "pages", idx.Meta.TotalPages)

	// Phase 3: Mapping
	job.SetStatus(StatusMapping, "mapping")
	rules, err := mapping.Load(mapData)
	if err != nil {
		log.Error("mapping load failed", "error", err)
		job.AddError(fmt.Sprintf("mapping: %s", err))
		job.SetStatus(StatusFailed, "mapping")
		return
	}
	log.Info("loaded mapping", "fields", len(rules))

	// Phase 4: Resolve
	job.SetStatus(StatusResolving, "resolving")
	records := w.res.ResolveAll(ctx, rules, idx)
	job.SetResolution(records)

	// Phase 5: Populate
	job.SetStatus(StatusPopulating, "populating")
	sink, err := populate.Load(tplData)
	if err != nil {
		log.Error("template load failed", "error", err)
		job.AddError(fmt.Sprintf("template: %s", err))
		job.SetStatus(StatusFailed, "populating")
		return
	}

	placeholders := sink.Placeholders()
	sink.Populate(populate.Values(records))
	report := populate.BuildReport(records, placeholders)

	var out bytes.Buffer
	if err := sink.WriteTo(&out); err != nil {
		log.Error("write output failed", "error", err)
		job.AddError(fmt.Sprintf("write: %s", err))
		job.SetStatus(StatusFailed, "populating")
		return
	}
	job.SetOutput(out.Bytes(), report)

	// Synthesis failures leave unavailable placeholders in the output
	// but still produce a usable document.
	if hadSynthesisFailures(records) {
		log.Warn("completed with synthesis failures", "unavailable", len(report.Unavailable))
		job.SetStatus(StatusPartial, "done")
		return
	}
	log.Info("job complete",
		"populated", len(report.Populated),
		"synthesized", len(report.Synthesized),
		"unavailable", len(report.Unavailable))
	job.SetStatus(StatusCompleted, "done")
}

func hadSynthesisFailures(records []resolver.Record) bool {
	for _, rec := range records {
		if strings.HasPrefix(rec.Reason, "synthesis failed") {
			return true
		}
	}
	return false
}
