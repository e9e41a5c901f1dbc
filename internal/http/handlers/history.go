package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"genqueue/internal/domain"
)

func (a *App) ListHistory(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		a.error(w, http.StatusNotFound, "not_configured", "job history is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := a.History.Recent(r.Context(), limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("history: list failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}
	if jobs == nil {
		jobs = []domain.JobRecord{}
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (a *App) GetHistory(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		a.error(w, http.StatusNotFound, "not_configured", "job history is disabled")
		return
	}
	job, err := a.History.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Msg("history: get failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, job)
}
