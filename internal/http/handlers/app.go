package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"genqueue/internal/balance"
	"genqueue/internal/domain"
)

// JobStore is the subset of the job store the HTTP surface uses.
type JobStore interface {
	Create(req domain.GenerationRequest) (string, error)
	Get(id string) (domain.JobRecord, error)
	Snapshot() []domain.JobRecord
	Remove(id string) error
	Cancel(id string) error
	ClearTerminal() int
}

// BalanceReader serves the cached provider balance.
type BalanceReader interface {
	Current() (balance.Snapshot, bool)
	Refresh(ctx context.Context) (balance.Snapshot, error)
}

// HistoryReader reads archived terminal jobs.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]domain.JobRecord, error)
	Get(ctx context.Context, id string) (domain.JobRecord, error)
}

type App struct {
	Store     JobStore
	Validator *domain.RequestValidator
	Balance   BalanceReader
	History   HistoryReader
	Logger    zerolog.Logger
}

func NewApp(store JobStore, validator *domain.RequestValidator, logger zerolog.Logger) *App {
	if validator == nil {
		validator = domain.NewRequestValidator(domain.Limits{})
	}
	return &App{Store: store, Validator: validator, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
