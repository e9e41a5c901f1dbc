package handlers

import (
	"net/http"

	"genqueue/internal/domain"
)

type healthResponse struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Queued     int    `json:"queued"`
	Processing int    `json:"processing"`
	Capacity   int    `json:"capacity,omitempty"`
}

// Health reports liveness plus the live queue depth.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Service: "genqueue"}
	if a.Store != nil {
		for _, job := range a.Store.Snapshot() {
			switch job.Status {
			case domain.JobStatusQueued:
				resp.Queued++
			case domain.JobStatusProcessing:
				resp.Processing++
			}
		}
		if c, ok := a.Store.(capacityReporter); ok {
			resp.Capacity = c.Capacity()
		}
	}
	a.json(w, http.StatusOK, resp)
}
