package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a translation job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusTranslating Status = "translating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	// StatusReview parks a job whose entity reconciliation needs a human
	// decision before the chapter can be committed.
	StatusReview Status = "review"
)

var allStatuses = []Status{
	StatusPending,
	StatusTranslating,
	StatusCompleted,
	StatusFailed,
	StatusReview,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Job represents a chapter translation job persisted in SQLite.
type Job struct {
	ID            int64
	BookName      string
	SourcePath    string
	ChapterTitle  string
	ModelSpec     string
	// ChapterHint fixes the chapter slot when known at enqueue time, as with
	// EPUB spine positions. 0 defers to the pipeline's numbering.
	ChapterHint int
	Position    int64
	Status        Status
	ErrorMessage  string
	ReviewReason  string
	// ResultJSON stashes the raw pipeline result while a job waits in
	// review so resuming does not repeat the provider calls.
	ResultJSON      string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight translation.
func (j Job) IsProcessing() bool {
	return j.Status == StatusTranslating
}

// InitProgress resets progress fields for a fresh translation attempt.
func (j *Job) InitProgress(stage, message string) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = 0
	j.ErrorMessage = ""
}

// SetProgress updates all three progress fields together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job as failed with the given error message.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ProgressPercent = 0
	j.ProgressMessage = message
	j.ProgressStage = "Failed"
	j.LastHeartbeat = nil
}

// SetReview parks the job for human review with the given reason.
func (j *Job) SetReview(reason string) {
	j.Status = StatusReview
	j.ReviewReason = reason
	j.ProgressStage = "Review"
	j.ProgressMessage = reason
	j.LastHeartbeat = nil
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total       int
	Pending     int
	Translating int
	Completed   int
	Failed      int
	Review      int
}
