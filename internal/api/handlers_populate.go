package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/clindoc/dsrpop/internal/extractor"
	"github.com/clindoc/dsrpop/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// handlePopulate accepts a multipart upload with three parts:
// "document" (the source report), "mapping" (the markdown field map)
// and "template" (the DOCX shell to fill), and queues a population job.
func (s *Server) handlePopulate(w http.ResponseWriter, r *http.Request) {
	// Limit total request size; extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*3+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	docData, docName, err := s.formFile(r, "document")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !extractor.IsSupportedExtension(docName) {
		jsonError(w, fmt.Sprintf("unsupported document type: %s", filepath.Ext(docName)), http.StatusBadRequest)
		return
	}

	mapData, mapName, err := s.formFile(r, "mapping")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	tplData, tplName, err := s.formFile(r, "template")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !strings.EqualFold(filepath.Ext(tplName), ".docx") {
		jsonError(w, "template must be a .docx file", http.StatusBadRequest)
		return
	}

	docID := r.FormValue("doc_id")
	if docID == "" {
		docID = pipeline.ContentHashHex(docData)[:16]
	}
	force := r.FormValue("force_reindex") == "true"

	now := time.Now()
	job := &pipeline.Job{
		ID:               pipeline.NewJobID(),
		DocID:            docID,
		Status:           pipeline.StatusQueued,
		Phase:            "queued",
		DocumentFilename: docName,
		MappingFilename:  mapName,
		TemplateFilename: tplName,
		ForceReindex:     force,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	job.SetInputs(docData, mapData, tplData)

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"doc_id":   job.DocID,
		"status":   job.Status,
		"poll_url": fmt.Sprintf("/api/populate/%s/status", job.ID),
	})
}

func (s *Server) handlePopulateStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   snap.ID,
		"doc_id":   snap.DocID,
		"status":   snap.Status,
		"phase":    snap.Phase,
		"progress": snap.Progress,
	})
}

// handlePopulateResult streams the populated DOCX once the job is done.
func (s *Server) handlePopulateResult(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	if snap.Status != pipeline.StatusCompleted && snap.Status != pipeline.StatusPartial {
		jsonError(w, fmt.Sprintf("job not finished: %s", snap.Status), http.StatusConflict)
		return
	}
	output, _, _ := job.Output()
	if len(output) == 0 {
		jsonError(w, "no output available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "populated_"+job.TemplateFilename))
	w.Write(output)
}

// handlePopulateReport returns the per-field resolution records and the
// population summary for a finished job.
func (s *Server) handlePopulateReport(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	if snap.Status != pipeline.StatusCompleted && snap.Status != pipeline.StatusPartial {
		jsonError(w, fmt.Sprintf("job not finished: %s", snap.Status), http.StatusConflict)
		return
	}
	_, records, report := job.Output()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":  snap.ID,
		"status":  snap.Status,
		"report":  report,
		"records": records,
	})
}

func (s *Server) formFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%s is required: %w", field, err)
	}
	defer file.Close()

	data, err := readLimited(file, s.cfg.MaxUploadBytes)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", field, err)
	}
	return data, sanitizeFilename(header.Filename), nil
}

func readLimited(f multipart.File, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("exceeds max size (%d bytes)", max)
	}
	return data, nil
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
