package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"genqueue/internal/domain"
	"genqueue/internal/middleware"
)

// maxRequestBytes caps a submission body.
const maxRequestBytes = 1 << 20

type jobResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

type jobListResponse struct {
	Jobs     []domain.JobRecord       `json:"jobs"`
	Counts   map[domain.JobStatus]int `json:"counts"`
	Capacity int                      `json:"capacity,omitempty"`
}

type capacityReporter interface {
	Capacity() int
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "request_too_large", "payload exceeds 1 MiB")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	a.submit(w, r, req)
}

func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.Store.Get(id)
	if err != nil {
		a.storeError(w, err)
		return
	}
	if !job.Status.IsTerminal() {
		a.error(w, http.StatusConflict, "job_active", "only completed or failed jobs can be retried")
		return
	}
	a.submit(w, r, job.Request)
}

func (a *App) submit(w http.ResponseWriter, r *http.Request, req domain.GenerationRequest) {
	prepared, err := a.Validator.Prepare(req)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			a.json(w, http.StatusBadRequest, map[string]string{
				"error":   "validation_failed",
				"field":   verr.Field,
				"message": verr.Message,
			})
			return
		}
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	id, err := a.Store.Create(prepared)
	if err != nil {
		var capErr *domain.CapacityError
		if errors.As(err, &capErr) {
			a.error(w, http.StatusConflict, "queue_full", capErr.Error())
			return
		}
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("jobs: create failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.Logger.Info().Str("job_id", id).Str("mode", string(prepared.Mode)).Int("count", prepared.Count).Msg("jobs: queued")
	a.json(w, http.StatusAccepted, jobResponse{JobID: id, Status: domain.JobStatusQueued})
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := a.Store.Snapshot()
	resp := jobListResponse{Jobs: jobs, Counts: make(map[domain.JobStatus]int, 4)}
	for _, job := range jobs {
		resp.Counts[job.Status]++
	}
	if c, ok := a.Store.(capacityReporter); ok {
		resp.Capacity = c.Capacity()
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Store.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// DeleteJob dismisses a terminal job or cancels a queued one.
func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.Store.Get(id)
	if err != nil {
		a.storeError(w, err)
		return
	}
	switch {
	case job.Status.IsTerminal():
		err = a.Store.Remove(id)
	case job.Status == domain.JobStatusQueued:
		err = a.Store.Cancel(id)
	default:
		a.error(w, http.StatusConflict, "job_active", "job is processing and cannot be removed")
		return
	}
	if err != nil {
		a.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ClearJobs(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]int{"removed": a.Store.ClearTerminal()})
}

func (a *App) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrNotTerminal), errors.Is(err, domain.ErrNotQueued):
		// lost a race with the scheduler between Get and the mutation
		a.error(w, http.StatusConflict, "job_active", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("jobs: store error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
