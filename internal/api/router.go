package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/railquery-data/internal/common/logger"
)

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter mounts the handlers under their routes
func NewRouter(h *Handler, cfg RouterConfig, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if cfg.RequestTimeout > 0 {
		// Handlers answer a deadline with their own 503; Timeout's 504 only
		// reaches clients whose handler wrote nothing
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", h.Health)
	r.Get("/stops", h.SearchStops)
	r.Get("/departures", h.Departures)
	r.Get("/stations/{name}/departures", h.StationDepartures)
	r.Get("/trips/{tripID}/stops", h.TripStops)
	r.Get("/calendar/{date}/services", h.Services)
	r.Post("/query", h.Query)

	return r
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
