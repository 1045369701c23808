// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sarangn19/exam-assistant/internal/adapter/ai"
	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/cache"
	"github.com/sarangn19/exam-assistant/internal/clock"
	"github.com/sarangn19/exam-assistant/internal/domain"
	"github.com/sarangn19/exam-assistant/internal/mode"
	"github.com/sarangn19/exam-assistant/pkg/textx"
)

// SendOptions tune a single SendMessage call. Zero values use the mode's
// defaults.
type SendOptions struct {
	ConversationID  string
	Mode            domain.ModeID
	Title           string
	UserID          string
	Temperature     *float64
	MaxOutputTokens int
	Image           *domain.InlineImage
	// DisableFallback returns the typed error instead of a degraded reply.
	DisableFallback bool
}

// Reply is the result of one assistant turn.
type Reply struct {
	ConversationID string           `json:"conversation_id"`
	Text           string           `json:"text"`
	Mode           domain.ModeID    `json:"mode"`
	Category       domain.Category  `json:"category"`
	Fingerprint    string           `json:"fingerprint"`
	FromCache      bool             `json:"from_cache"`
	Fallback       bool             `json:"fallback"`
	Usage          domain.Usage     `json:"usage"`
	Model          string           `json:"model,omitempty"`
	Attempts       int              `json:"attempts"`
	Latency        time.Duration    `json:"-"`
	Transition     *mode.Transition `json:"transition,omitempty"`
}

// AssistantConfig bounds input and history.
type AssistantConfig struct {
	HistoryWindow   int
	MaxInputChars   int
	MaxInputBytes   int
	DisableFallback bool
	// GenerateTimeout bounds a coalesced provider call, which no single
	// caller can cancel. Zero leaves it unbounded.
	GenerateTimeout time.Duration
}

// Option customizes an AssistantService.
type Option func(*AssistantService)

// WithPublisher ships a turn event after every provider-backed turn.
func WithPublisher(p domain.TurnPublisher) Option {
	return func(s *AssistantService) { s.events = p }
}

// WithFallback enables degraded replies on unrecoverable provider failures.
func WithFallback(f *ai.FallbackResponder) Option {
	return func(s *AssistantService) { s.fallback = f }
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *AssistantService) { s.clk = c }
}

// AssistantService ties mode selection, conversation context, the response
// cache and the provider together.
type AssistantService struct {
	registry *mode.Registry
	cache    *cache.Cache
	gen      domain.Generator
	convs    domain.ConversationLog
	events   domain.TurnPublisher
	fallback *ai.FallbackResponder
	clk      clock.Clock
	cfg      AssistantConfig

	inflight *coalescer
}

// NewAssistantService constructs the service. convs may be nil, in which case
// conversations live only in the context cache.
func NewAssistantService(reg *mode.Registry, c *cache.Cache, gen domain.Generator, convs domain.ConversationLog, cfg AssistantConfig, opts ...Option) *AssistantService {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	s := &AssistantService{
		registry: reg,
		cache:    c,
		gen:      gen,
		convs:    convs,
		clk:      clock.System(),
		cfg:      cfg,
		inflight: &coalescer{timeout: cfg.GenerateTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SendMessage answers one user message. Cache hits return without calling the
// provider. Provider failures become a labeled fallback reply unless fallback
// is disabled for the call or the service.
func (s *AssistantService) SendMessage(ctx context.Context, text string, opts SendOptions) (Reply, error) {
	const op = "usecase.SendMessage"
	start := s.clk.Now()

	if s.cfg.MaxInputBytes > 0 && len(text) > s.cfg.MaxInputBytes {
		return Reply{}, domain.NewError(domain.KindInputRejected, op, fmt.Errorf("input is %d bytes, limit %d", len(text), s.cfg.MaxInputBytes))
	}
	clean := textx.Sanitize(text, s.cfg.MaxInputChars)
	if clean == "" {
		return Reply{}, domain.NewError(domain.KindInputRejected, op, errors.New("input is empty"))
	}

	modeID := opts.Mode
	if modeID == "" {
		modeID = s.registry.Current()
	}
	cfg, err := s.registry.Get(modeID)
	if err != nil {
		return Reply{}, err
	}

	convID, history := s.openConversation(ctx, opts, modeID)
	ctx = observability.WithConversation(ctx, convID)
	lg := observability.LoggerFromContext(ctx)

	reply := Reply{ConversationID: convID, Mode: modeID}
	if prev := lastMode(history); prev != "" && prev != modeID {
		if tr, err := s.registry.Transition(prev, modeID); err == nil {
			reply.Transition = &tr
			if !tr.Allowed {
				lg.Warn("mode transition outside allowed set",
					slog.String("from", string(tr.From)),
					slog.String("to", string(tr.To)))
			}
		}
	}

	prompt, err := s.registry.BuildPrompt(modeID, clean, auxFrom(history))
	if err != nil {
		return Reply{}, err
	}

	temp := cfg.Temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	maxTokens := cfg.MaxOutputTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}
	// The effective prompt carries the conversation context, so follow-ups
	// in different conversations never share an answer.
	fp := cache.Fingerprint(modeID, prompt, temp, maxTokens)
	reply.Fingerprint = fp
	cacheable := opts.Image == nil

	if cacheable {
		if hit, ok := s.cache.Lookup(ctx, fp); ok {
			reply.Text = hit.Payload.Text
			reply.Category = hit.Category
			reply.FromCache = true
			reply.Usage = hit.Payload.Usage
			reply.Model = hit.Payload.Model
			reply.Latency = s.clk.Now().Sub(start)
			observability.RecordReply(string(modeID), "cache")
			lg.Info("assistant reply served from cache", slog.String("fingerprint", fp), slog.String("category", string(hit.Category)))
			return reply, nil
		}
	}

	category := s.registry.CategoryFor(modeID, clean)
	reply.Category = category
	genOpts := domain.GenerateOptions{Temperature: &temp, MaxOutputTokens: maxTokens, Image: opts.Image}
	env, err := s.generate(ctx, fp, cacheable, prompt, genOpts)
	if err != nil {
		if ctx.Err() != nil || opts.DisableFallback || s.cfg.DisableFallback || s.fallback == nil {
			return Reply{}, err
		}
		fb := s.fallback.Respond(modeID, clean, err)
		lg.Warn("serving fallback reply", slog.String("kind", string(domain.KindOf(err))), slog.Any("error", err))
		reply.Text = fb.Text
		reply.Model = fb.Model
		reply.Fallback = true
		reply.Latency = s.clk.Now().Sub(start)
		observability.RecordReply(string(modeID), "fallback")
		s.publish(ctx, reply)
		return reply, nil
	}

	env.Text = s.registry.Format(modeID, env.Text)
	if cacheable {
		if _, err := s.cache.Store(ctx, fp, category, modeID, clean, env); err != nil {
			lg.Warn("cache store failed", slog.Any("error", err))
		}
	}

	now := s.clk.Now()
	userMsg := domain.Message{Role: domain.RoleUser, Content: clean, Timestamp: start, Metadata: map[string]any{"mode": string(modeID)}}
	asstMsg := domain.Message{Role: domain.RoleAssistant, Content: env.Text, Timestamp: now, Metadata: map[string]any{
		"mode":        string(modeID),
		"category":    string(category),
		"fingerprint": fp,
		"model":       env.Model,
		"total_units": env.Usage.TotalUnits,
	}}
	s.appendTurn(ctx, convID, userMsg, asstMsg)
	s.cache.CacheContext(ctx, convID, cache.ContextSnapshot{RecentHistory: window(append(history, userMsg, asstMsg), s.cfg.HistoryWindow)})

	reply.Text = env.Text
	reply.Usage = env.Usage
	reply.Model = env.Model
	reply.Attempts = env.Attempts
	reply.Latency = now.Sub(start)
	observability.RecordReply(string(modeID), "provider")
	s.publish(ctx, reply)
	lg.Info("assistant reply generated",
		slog.String("fingerprint", fp),
		slog.String("category", string(category)),
		slog.Int("attempts", env.Attempts),
		slog.Int("total_units", env.Usage.TotalUnits),
		slog.Duration("latency", reply.Latency))
	return reply, nil
}

// generate coalesces concurrent identical cacheable requests into one
// provider call.
func (s *AssistantService) generate(ctx context.Context, fp string, coalesce bool, prompt string, opts domain.GenerateOptions) (domain.Envelope, error) {
	if !coalesce {
		return s.gen.Generate(ctx, prompt, opts)
	}
	env, shared, err := s.inflight.do(ctx, fp, func(ctx context.Context) (domain.Envelope, error) {
		return s.gen.Generate(ctx, prompt, opts)
	})
	if shared {
		observability.LoggerFromContext(ctx).Debug("provider call shared with concurrent request", slog.String("fingerprint", fp))
	}
	return env, err
}

// openConversation resolves the conversation id and its recent history. An
// unknown caller-supplied id is created under that id so its turns persist.
func (s *AssistantService) openConversation(ctx context.Context, opts SendOptions, modeID domain.ModeID) (string, []domain.Message) {
	meta := domain.ConversationMeta{ID: opts.ConversationID, Mode: modeID, Title: opts.Title, UserID: opts.UserID}
	if opts.ConversationID == "" {
		return s.createConversation(ctx, meta), nil
	}
	id := opts.ConversationID
	if snap, ok := s.cache.GetContext(ctx, id); ok {
		return id, snap.RecentHistory
	}
	if s.convs == nil {
		return id, nil
	}
	conv, err := s.convs.LoadConversation(ctx, id)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("conversation load failed", slog.Any("error", err))
		return id, nil
	}
	if conv == nil {
		s.createConversation(ctx, meta)
		return id, nil
	}
	h := window(conv.Messages, s.cfg.HistoryWindow)
	s.cache.CacheContext(ctx, id, cache.ContextSnapshot{RecentHistory: h})
	return id, h
}

// createConversation never fails: without a working log the turn proceeds
// under meta.ID or a fresh local id.
func (s *AssistantService) createConversation(ctx context.Context, meta domain.ConversationMeta) string {
	if s.convs != nil {
		id, err := s.convs.CreateConversation(ctx, meta)
		if err == nil && id != "" {
			return id
		}
		observability.LoggerFromContext(ctx).Warn("conversation create failed, using local id", slog.Any("error", err))
	}
	if meta.ID != "" {
		return meta.ID
	}
	return uuid.NewString()
}

func (s *AssistantService) appendTurn(ctx context.Context, convID string, msgs ...domain.Message) {
	if s.convs == nil {
		return
	}
	for _, m := range msgs {
		if err := s.convs.AddMessage(ctx, convID, m); err != nil {
			observability.LoggerFromContext(ctx).Warn("conversation append failed",
				slog.String("role", string(m.Role)),
				slog.Any("error", err))
			return
		}
	}
}

func (s *AssistantService) publish(ctx context.Context, r Reply) {
	if s.events == nil {
		return
	}
	ev := domain.TurnEvent{
		ConversationID: r.ConversationID,
		Mode:           r.Mode,
		Category:       r.Category,
		Fingerprint:    r.Fingerprint,
		Usage:          r.Usage,
		Latency:        r.Latency,
		Attempts:       r.Attempts,
		Fallback:       r.Fallback,
		OccurredAt:     s.clk.Now().UTC(),
	}
	if err := s.events.PublishTurn(ctx, ev); err != nil {
		observability.TurnEventsTotal.WithLabelValues("error").Inc()
		observability.LoggerFromContext(ctx).Warn("turn event publish failed", slog.Any("error", err))
		return
	}
	observability.TurnEventsTotal.WithLabelValues("ok").Inc()
}

// SetMode changes the default mode used when a call names none.
func (s *AssistantService) SetMode(ctx context.Context, id domain.ModeID) (mode.Transition, error) {
	return s.registry.SetMode(ctx, id)
}

// Modes lists every mode with the current default.
func (s *AssistantService) Modes() ([]mode.Config, domain.ModeID) {
	return s.registry.List(), s.registry.Current()
}

// Conversation loads a conversation from the log.
func (s *AssistantService) Conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	if s.convs == nil {
		return nil, fmt.Errorf("%w: conversation log disabled", domain.ErrNotFound)
	}
	conv, err := s.convs.LoadConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.Conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, id)
	}
	return conv, nil
}

func window(msgs []domain.Message, n int) []domain.Message {
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]domain.Message(nil), msgs...)
}

func auxFrom(history []domain.Message) mode.Aux {
	var aux mode.Aux
	for _, m := range history {
		if m.Role == domain.RoleUser || m.Role == domain.RoleAssistant {
			aux.History = append(aux.History, mode.Turn{Role: m.Role, Content: m.Content})
		}
	}
	return aux
}

func lastMode(history []domain.Message) domain.ModeID {
	for i := len(history) - 1; i >= 0; i-- {
		if v, ok := history[i].Metadata["mode"].(string); ok && v != "" {
			return domain.ModeID(v)
		}
	}
	return ""
}
