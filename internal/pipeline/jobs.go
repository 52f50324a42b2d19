package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/clindoc/dsrpop/internal/populate"
	"github.com/clindoc/dsrpop/internal/resolver"
)

// JobStatus represents the state of a population job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusExtracting JobStatus = "extracting"
	StatusIndexing   JobStatus = "indexing"
	StatusMapping    JobStatus = "mapping"
	StatusResolving  JobStatus = "resolving"
	StatusPopulating JobStatus = "populating"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
)

// Job tracks the state of a single template population run.
type Job struct {
	mu sync.Mutex

	ID    string `json:"job_id"`
	DocID string `json:"doc_id"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	DocumentFilename string `json:"document_filename"`
	MappingFilename  string `json:"mapping_filename"`
	TemplateFilename string `json:"template_filename"`

	ForceReindex bool `json:"force_reindex,omitempty"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	documentData []byte
	mappingData  []byte
	templateData []byte

	records  []resolver.Record
	report   populate.Report
	output   []byte
	errors   []string
	sections int
}

// Progress tracks per-field resolution progress.
type Progress struct {
	Sections    int      `json:"sections"`
	TotalFields int      `json:"total_fields"`
	Direct      int      `json:"direct"`
	Synthesized int      `json:"synthesized"`
	Unavailable int      `json:"unavailable"`
	Errors      []string `json:"errors"`
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetInputs sets the raw input payloads for processing.
func (j *Job) SetInputs(document, mapping, template []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.documentData = document
	j.mappingData = mapping
	j.templateData = template
}

// Inputs returns the raw input payloads.
func (j *Job) Inputs() (document, mapping, template []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.documentData, j.mappingData, j.templateData
}

// SetResolution records the resolution outcome counts and records.
func (j *Job) SetResolution(records []resolver.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = records
	j.Progress.TotalFields = len(records)
	j.Progress.Direct = 0
	j.Progress.Synthesized = 0
	j.Progress.Unavailable = 0
	for _, r := range records {
		switch r.Strategy {
		case "direct":
			j.Progress.Direct++
		case "synthesize":
			j.Progress.Synthesized++
		default:
			j.Progress.Unavailable++
		}
	}
	j.UpdatedAt = time.Now()
}

// SetSections records the section count found by the indexer.
func (j *Job) SetSections(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sections = n
	j.Progress.Sections = n
	j.UpdatedAt = time.Now()
}

// SetOutput stores the populated document and its report.
func (j *Job) SetOutput(output []byte, report populate.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.output = output
	j.report = report
	j.UpdatedAt = time.Now()
}

// Output returns the populated document bytes, the resolution records,
// and the population report.
func (j *Job) Output() ([]byte, []resolver.Record, populate.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.output, j.records, j.report
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID       string    `json:"job_id"`
	DocID    string    `json:"doc_id"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Document string    `json:"document_filename"`
	Progress Progress  `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := j.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	return JobSnapshot{
		ID:       j.ID,
		DocID:    j.DocID,
		Status:   j.Status,
		Phase:    j.Phase,
		Document: j.DocumentFilename,
		Progress: Progress{
			Sections:    j.Progress.Sections,
			TotalFields: j.Progress.TotalFields,
			Direct:      j.Progress.Direct,
			Synthesized: j.Progress.Synthesized,
			Unavailable: j.Progress.Unavailable,
			Errors:      errs,
		},
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
