package model

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusSplitting  JobStatus = "splitting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusAssembling JobStatus = "assembling"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// statusRank orders the happy path. Failed sits outside the ladder and is
// reachable from any non-terminal status.
var statusRank = map[JobStatus]int{
	JobStatusQueued:     0,
	JobStatusSplitting:  1,
	JobStatusProcessing: 2,
	JobStatusAssembling: 3,
	JobStatusCompleted:  4,
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next respects the monotonic
// job lifecycle: forward steps only, Failed allowed from any non-terminal state.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// FailureKind classifies why a job reached Failed. Empty for non-failed jobs.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureInvalidInput FailureKind = "invalid_input"
	FailureSplit        FailureKind = "split_error"
	FailurePartial      FailureKind = "partial_failure"
	FailureCanceled     FailureKind = "canceled"
	FailureConsistency  FailureKind = "consistency_error"
)

// JobOptions is carried opaquely by the pipeline and handed to the page
// extractor. Zero values fall back to configured defaults at submit time.
type JobOptions struct {
	Model            string  `json:"model,omitempty" yaml:"model"`
	Prompt           string  `json:"prompt,omitempty" yaml:"prompt"`
	MaxAttempts      int     `json:"max_attempts,omitempty" yaml:"max_attempts"`
	FailureThreshold float64 `json:"failure_threshold,omitempty" yaml:"failure_threshold"`
	DedupeSource     bool    `json:"dedupe_source,omitempty" yaml:"dedupe_source"`
}

type Job struct {
	ID              string
	Status          JobStatus
	SourceRef       string
	SourceHash      string
	PageCount       int
	Options         JobOptions
	ResultRef       string
	Failure         FailureKind
	LastError       string
	CallbackURL     string
	CallbackFired   bool
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func NewJob(sourceRef, callbackURL string, opts JobOptions) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		Status:      JobStatusQueued,
		SourceRef:   sourceRef,
		Options:     opts,
		CallbackURL: callbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
