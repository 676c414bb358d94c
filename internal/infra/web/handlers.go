package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pdf2md/internal/domain"
	"pdf2md/internal/domain/model"
	"pdf2md/internal/usecase"
)

// A struct to define the expected JSON request body for submitting a job.
type jobCreateRequest struct {
	SourceRef        string  `json:"source_ref"`
	CallbackURL      string  `json:"callback_url,omitempty"`
	Model            string  `json:"model,omitempty"`
	Prompt           string  `json:"prompt,omitempty"`
	MaxAttempts      int     `json:"max_attempts,omitempty"`
	FailureThreshold float64 `json:"failure_threshold,omitempty"`
	DedupeSource     bool    `json:"dedupe_source,omitempty"`
}

type jobResponse struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	SourceRef   string    `json:"source_ref"`
	PageCount   int       `json:"page_count"`
	ResultRef   string    `json:"result_ref,omitempty"`
	Failure     string    `json:"failure,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	CallbackURL string    `json:"callback_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toJobResponse(job *model.Job) jobResponse {
	return jobResponse{
		ID:          job.ID,
		Status:      string(job.Status),
		SourceRef:   job.SourceRef,
		PageCount:   job.PageCount,
		ResultRef:   job.ResultRef,
		Failure:     string(job.Failure),
		LastError:   job.LastError,
		CallbackURL: job.CallbackURL,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

type pageSummary struct {
	PageNumber int    `json:"page_number"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Handler for submitting a new conversion job.
func jobsCreateHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req jobCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		job, err := jobUC.Submit(ctx, req.SourceRef, req.CallbackURL, model.JobOptions{
			Model:            req.Model,
			Prompt:           req.Prompt,
			MaxAttempts:      req.MaxAttempts,
			FailureThreshold: req.FailureThreshold,
			DedupeSource:     req.DedupeSource,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toJobResponse(job))
	}
}

// Handler for fetching a job with its per-page progress.
func jobGetHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		job, err := jobUC.Get(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}

		tasks, err := jobUC.GetPages(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}

		pages := make([]pageSummary, 0, len(tasks))
		for _, t := range tasks {
			pages = append(pages, pageSummary{
				PageNumber: t.PageNumber,
				Status:     string(t.Status),
				Attempts:   t.AttemptCount,
				LastError:  t.LastError,
			})
		}

		response := struct {
			Job   jobResponse   `json:"job"`
			Pages []pageSummary `json:"pages"`
		}{
			Job:   toJobResponse(job),
			Pages: pages,
		}
		writeJSON(w, http.StatusOK, response)
	}
}

// Handler for downloading the assembled Markdown of a completed job.
func jobResultHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		data, err := jobUC.GetResult(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// Handler for requesting cancellation of a running job.
func jobCancelHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		if err := jobUC.Cancel(ctx, id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// jobsListHandler returns the most recently created jobs.
// It accepts a 'limit' query parameter.
func jobsListHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 200 {
			limit = 50
		}

		jobs, err := jobUC.ListRecent(ctx, limit)
		if err != nil {
			writeError(w, err)
			return
		}

		data := make([]jobResponse, 0, len(jobs))
		for _, j := range jobs {
			data = append(data, toJobResponse(j))
		}

		response := struct {
			Data  []jobResponse `json:"data"`
			Limit int           `json:"limit"`
		}{
			Data:  data,
			Limit: limit,
		}
		writeJSON(w, http.StatusOK, response)
	}
}
