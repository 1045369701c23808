// Package app assembles the HTTP router, readiness probes and background
// maintenance loops.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/sarangn19/exam-assistant/internal/adapter/httpserver"
	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// RequestTimeout is the per-request deadline. It covers every attempt, the
// backoff between them and a minute of limiter wait.
func RequestTimeout(cfg config.Config) time.Duration {
	retries := cfg.AIMaxRetries
	if retries < 0 {
		retries = 0
	}
	d := cfg.AIRequestTimeout*time.Duration(retries+1) + cfg.AIRetryMaxDelay*time.Duration(retries) + time.Minute
	if d <= 0 {
		d = 30 * time.Second
	}
	return d
}

// WriteTimeout is the http.Server write deadline. It never fires before the
// request deadline so a slow chat turn still gets its timeout body.
func WriteTimeout(cfg config.Config) time.Duration {
	if floor := RequestTimeout(cfg) + 15*time.Second; cfg.HTTPWriteTimeout < floor {
		return floor
	}
	return cfg.HTTPWriteTimeout
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// admin may be nil, which leaves the cache admin routes unmounted.
func BuildRouter(cfg config.Config, srv *httpserver.Server, admin *httpserver.AdminCredentials) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", httpserver.RequestIDHeader},
		ExposedHeaders:   []string{httpserver.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Group(func(api chi.Router) {
		api.Use(httpserver.TimeoutMiddleware(RequestTimeout(cfg)))
		api.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			wr.Post("/v1/chat", srv.ChatHandler())
			wr.Put("/v1/mode", srv.SetModeHandler())
		})
		api.Get("/v1/modes", srv.ModesHandler())
		api.Get("/v1/conversations/{id}", srv.ConversationHandler())
		if admin != nil {
			srv.MountAdmin(api, *admin)
		}
	})

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	return httpserver.SecurityHeaders(r)
}
