package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/poker-table-backend/internal/session"
	"github.com/DoyleJ11/poker-table-backend/internal/table"
)

// Table is what the admin API needs from the coordinator.
type Table interface {
	View(ctx context.Context) (session.View, error)
	ConcludeRound(ctx context.Context) error
}

type tableView struct {
	Version    int         `json:"version"`
	NumClients int         `json:"num_clients"`
	ReadyCount int         `json:"ready_count"`
	State      table.State `json:"state"`
}

const requestTimeout = 2 * time.Second

func GetTable(t Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		v, err := t.View(ctx)
		if err != nil {
			http.Error(w, "table unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tableView{
			Version:    v.Version,
			NumClients: v.NumClients,
			ReadyCount: table.ReadyCount(v.State),
			State:      v.State,
		})
	}
}

// ConcludeRound is the external trigger that ends the active round.
func ConcludeRound(t Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		err := t.ConcludeRound(ctx)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, table.ErrRoundNotActive):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "table unavailable", http.StatusServiceUnavailable)
		}
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
