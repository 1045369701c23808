package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sarangn19/exam-assistant/internal/cache"
	"github.com/sarangn19/exam-assistant/internal/domain"
)

// MountAdmin mounts the cache maintenance routes behind Basic auth.
func (s *Server) MountAdmin(r chi.Router, creds AdminCredentials) {
	r.Route("/v1/admin", func(ar chi.Router) {
		ar.Use(BasicAuth(creds))
		ar.Get("/cache/stats", s.CacheStatsHandler())
		ar.Post("/cache/invalidate", s.CacheInvalidateHandler())
		ar.Post("/cache/sweep", s.CacheSweepHandler())
	})
}

// CacheStatsHandler returns cache counters.
func (s *Server) CacheStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Cache.Stats())
	}
}

// CacheInvalidateHandler removes entries matching any of the given criteria.
// An empty body removes nothing.
func (s *Server) CacheInvalidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invalidateRequest
		details, err := decodeJSON(w, r, maxAdminBody, &req)
		if err != nil {
			writeError(w, r, err, details)
			return
		}
		cr := cache.Criteria{
			Category:       domain.Category(req.Category),
			Mode:           domain.ModeID(req.Mode),
			PromptContains: req.PromptContains,
		}
		if req.CreatedBefore != nil {
			cr.CreatedBefore = *req.CreatedBefore
		}
		removed := s.Cache.Invalidate(r.Context(), cr)
		LoggerFrom(r).Info("cache invalidated",
			slog.String("category", req.Category),
			slog.String("mode", req.Mode),
			slog.Int("removed", removed))
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

// CacheSweepHandler purges expired entries now.
func (s *Server) CacheSweepHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Cache.Sweep(r.Context()))
	}
}
