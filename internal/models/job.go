package models

import (
	"time"
)

// Document lifecycle states. A job leaves StatusProcessing exactly once.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Supported media types for uploaded documents.
const (
	MediaTypePDF  = "application/pdf"
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Job tracks one uploaded document through the pipeline.
type Job struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	FileRef    string    `json:"file_ref"`
	MediaType  string    `json:"media_type"`
	Status     string    `json:"status"`
	Similarity *int      `json:"similarity,omitempty"`
	Error      *string   `json:"error,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the job has reached completed or failed.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Segment is one input sentence paired with its best corpus match.
type Segment struct {
	Text        string `json:"text"`
	Similarity  int    `json:"similarity"`
	MatchedWith string `json:"matchedWith"`
}

// MatchResult is the stored output of matching for a completed job.
type MatchResult struct {
	DocumentID      string    `json:"documentId"`
	Similarity      int       `json:"similarity"`
	MatchedSegments []Segment `json:"matchedSegments"`
	ProcessedAt     time.Time `json:"processedAt"`
}

// Clone returns a deep copy so callers cannot mutate stored segments.
func (r MatchResult) Clone() MatchResult {
	out := r
	out.MatchedSegments = make([]Segment, len(r.MatchedSegments))
	copy(out.MatchedSegments, r.MatchedSegments)
	return out
}

// IsSupportedMediaType reports whether the pipeline can extract the given type.
func IsSupportedMediaType(mediaType string) bool {
	return mediaType == MediaTypePDF || mediaType == MediaTypeDOCX
}
