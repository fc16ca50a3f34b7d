package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/poker-table-backend/internal/session"
	"github.com/DoyleJ11/poker-table-backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRoutes(c *session.Coordinator, wsOpts ws.Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/table", GetTable(c))
	r.Post("/round/conclude", ConcludeRound(c))
	r.Get("/ws", ws.Handler(c, wsOpts))
	return r
}
