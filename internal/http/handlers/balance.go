package handlers

import (
	"net/http"
)

func (a *App) GetBalance(w http.ResponseWriter, r *http.Request) {
	if a.Balance == nil {
		a.error(w, http.StatusNotFound, "not_configured", "balance tracking is disabled")
		return
	}
	snap, ok := a.Balance.Current()
	if !ok || r.URL.Query().Get("refresh") == "1" {
		fresh, err := a.Balance.Refresh(r.Context())
		if err != nil && !ok {
			a.Logger.Warn().Err(err).Msg("balance: refresh failed")
			a.error(w, http.StatusBadGateway, "provider_unavailable", "could not fetch balance")
			return
		}
		snap = fresh
	}
	a.json(w, http.StatusOK, snap)
}
