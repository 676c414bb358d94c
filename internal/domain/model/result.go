package model

import (
	"sort"
	"strings"
	"time"
)

// PageFragment is one page's extracted Markdown.
type PageFragment struct {
	PageNumber int    `json:"page_number"`
	Markdown   string `json:"markdown"`
}

// PageError records a page that failed permanently but stayed under the
// job's partial-failure threshold.
type PageError struct {
	PageNumber int    `json:"page_number"`
	Error      string `json:"error"`
	Attempts   int    `json:"attempts"`
}

type JobResult struct {
	JobID       string         `json:"job_id"`
	Fragments   []PageFragment `json:"fragments"`
	PageErrors  []PageError    `json:"page_errors,omitempty"`
	AssembledAt time.Time      `json:"assembled_at"`
}

// Markdown concatenates fragments in page order into the final document.
func (r *JobResult) Markdown() string {
	frags := make([]PageFragment, len(r.Fragments))
	copy(frags, r.Fragments)
	sort.Slice(frags, func(i, j int) bool { return frags[i].PageNumber < frags[j].PageNumber })

	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		parts = append(parts, f.Markdown)
	}
	return strings.Join(parts, "\n\n")
}
