package models

import "fmt"

// ErrorKind classifies a unit failure.
type ErrorKind string

const (
	ErrKindConfig        ErrorKind = "config"
	ErrKindConnection    ErrorKind = "connection"
	ErrKindTimeout       ErrorKind = "timeout"
	ErrKindQuery         ErrorKind = "query"
	ErrKindSerialization ErrorKind = "serialization"
	ErrKindUpload        ErrorKind = "upload"
)

// ExtractionUnit is the outcome of one (database, query) execution.
type ExtractionUnit struct {
	Database        string    `json:"database"`
	Query           string    `json:"query"`
	Rows            int64     `json:"rows"`
	Columns         int       `json:"columns"`
	ArtifactPath    string    `json:"artifact_path,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
	Kind            ErrorKind `json:"error_kind,omitempty"`
}

// Succeeded reports whether the unit produced an artifact.
func (u ExtractionUnit) Succeeded() bool { return u.Error == "" }

// UploadUnit is the outcome of one file transfer to the remote server.
type UploadUnit struct {
	Database   string `json:"database"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	Attempts   int    `json:"attempts"`
	Delivered  bool   `json:"delivered"`
	Error      string `json:"error,omitempty"`
}

// JobResult aggregates every unit outcome of a job.
type JobResult struct {
	Extractions          []ExtractionUnit `json:"extractions"`
	Uploads              []UploadUnit     `json:"uploads"`
	ExtractionsSucceeded int              `json:"extractions_succeeded"`
	ExtractionsFailed    int              `json:"extractions_failed"`
	UploadsSucceeded     int              `json:"uploads_succeeded"`
	UploadsFailed        int              `json:"uploads_failed"`
	Errors               []string         `json:"errors,omitempty"`
	ElapsedSeconds       float64          `json:"elapsed_seconds"`
}

// AddExtraction records a completed extraction unit and updates the counters.
func (r *JobResult) AddExtraction(u ExtractionUnit) {
	r.Extractions = append(r.Extractions, u)
	if u.Succeeded() {
		r.ExtractionsSucceeded++
		return
	}
	r.ExtractionsFailed++
	r.Errors = append(r.Errors, fmt.Sprintf("extract %s/%s: %s", u.Database, u.Query, u.Error))
}

// AddUpload records a completed upload unit and updates the counters.
func (r *JobResult) AddUpload(u UploadUnit) {
	r.Uploads = append(r.Uploads, u)
	if u.Delivered {
		r.UploadsSucceeded++
		return
	}
	r.UploadsFailed++
	r.Errors = append(r.Errors, fmt.Sprintf("upload %s: %s", u.RemotePath, u.Error))
}

// AppendError records a failure that is not tied to a single unit.
func (r *JobResult) AppendError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Clone returns a deep copy of the result.
func (r *JobResult) Clone() *JobResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Extractions = append([]ExtractionUnit(nil), r.Extractions...)
	out.Uploads = append([]UploadUnit(nil), r.Uploads...)
	out.Errors = append([]string(nil), r.Errors...)
	return &out
}
