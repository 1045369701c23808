package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/cache"
	"github.com/sarangn19/exam-assistant/internal/domain"
	"github.com/sarangn19/exam-assistant/internal/mode"
	"github.com/sarangn19/exam-assistant/internal/usecase"
)

// Assistant is the orchestration surface the handlers need.
type Assistant interface {
	SendMessage(ctx context.Context, text string, opts usecase.SendOptions) (usecase.Reply, error)
	SetMode(ctx context.Context, id domain.ModeID) (mode.Transition, error)
	Modes() ([]mode.Config, domain.ModeID)
	Conversation(ctx context.Context, id string) (*domain.Conversation, error)
}

// CacheAdmin is the cache maintenance surface exposed to operators.
type CacheAdmin interface {
	Stats() cache.Stats
	Invalidate(ctx context.Context, cr cache.Criteria) int
	Sweep(ctx context.Context) cache.SweepResult
}

// ReadinessCheck probes one dependency.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server aggregates handler dependencies.
type Server struct {
	Assistant Assistant
	Cache     CacheAdmin
	Checks    []ReadinessCheck
	// MaxBodyBytes caps chat request bodies. Inline images make this larger
	// than the text limit.
	MaxBodyBytes int64
}

// NewServer constructs the handler set.
func NewServer(assistant Assistant, c CacheAdmin, maxBodyBytes int64, checks ...ReadinessCheck) *Server {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 8 << 20
	}
	return &Server{Assistant: assistant, Cache: c, Checks: checks, MaxBodyBytes: maxBodyBytes}
}

// ChatHandler runs one assistant turn.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		details, err := decodeJSON(w, r, s.MaxBodyBytes, &req)
		if err != nil {
			writeError(w, r, err, details)
			return
		}
		opts := usecase.SendOptions{
			ConversationID:  strings.TrimSpace(req.ConversationID),
			Mode:            domain.ModeID(req.Mode),
			Title:           req.Title,
			UserID:          req.UserID,
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
			DisableFallback: req.DisableFallback,
		}
		if req.Image != nil {
			opts.Image = &domain.InlineImage{Data: req.Image.Data, MIMEType: req.Image.MIMEType}
		}
		ctx := r.Context()
		if opts.ConversationID != "" {
			ctx = observability.WithConversation(ctx, opts.ConversationID)
		}
		reply, err := s.Assistant.SendMessage(ctx, req.Message, opts)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply, LatencyMS: reply.Latency.Milliseconds()})
	}
}

type chatResponse struct {
	usecase.Reply
	LatencyMS int64 `json:"latency_ms"`
}

// ModesHandler lists the available modes and the current default.
func (s *Server) ModesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		modes, current := s.Assistant.Modes()
		writeJSON(w, http.StatusOK, map[string]any{"current": current, "modes": modes})
	}
}

// SetModeHandler switches the default mode. Transitions outside the allowed
// set succeed and are reported with allowed=false.
func (s *Server) SetModeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req modeRequest
		details, err := decodeJSON(w, r, maxAdminBody, &req)
		if err != nil {
			writeError(w, r, err, details)
			return
		}
		tr, err := s.Assistant.SetMode(r.Context(), domain.ModeID(req.Mode))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, tr)
	}
}

// ConversationHandler returns a stored conversation.
func (s *Server) ConversationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !clientReqID.MatchString(id) {
			writeError(w, r, fmt.Errorf("%w: malformed conversation id", errInvalidArgument), map[string]string{"id": "format"})
			return
		}
		conv, err := s.Assistant.Conversation(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

// HealthzHandler reports liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler runs every readiness check under a shared deadline and
// answers 503 when any fails.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		ok := true
		for _, c := range s.Checks {
			if err := c.Check(ctx); err != nil {
				ok = false
				checks = append(checks, check{Name: c.Name, Details: err.Error()})
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"ready": ok, "checks": checks})
	}
}
