package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes is anything that mounts its endpoints on a router.
type Routes interface {
	RegisterRoutes(r chi.Router)
}

// NewRouter builds the API router. metrics may be nil.
func NewRouter(metrics http.Handler, routes ...Routes) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", HealthCheckHandler)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	for _, rt := range routes {
		rt.RegisterRoutes(r)
	}
	return r
}
