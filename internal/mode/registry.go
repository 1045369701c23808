// Package mode holds the assistant's behavior profiles and builds the
// effective prompt for each turn.
package mode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/config"
	"github.com/sarangn19/exam-assistant/internal/domain"
)

// Config is one mode's immutable profile.
type Config struct {
	ID              domain.ModeID   `json:"id"`
	SystemPrompt    string          `json:"system_prompt"`
	Instruction     string          `json:"instruction"`
	Temperature     float64         `json:"temperature"`
	MaxOutputTokens int             `json:"max_output_tokens"`
	OutputFormat    OutputFormat    `json:"output_format"`
	AllowedNext     []domain.ModeID `json:"allowed_next_modes"`
	Category        domain.Category `json:"category"`
}

// Allows reports whether next is a sanctioned transition from this mode.
func (c Config) Allows(next domain.ModeID) bool {
	return next == c.ID || slices.Contains(c.AllowedNext, next)
}

// Transition describes a mode change. Allowed is false when the target is
// outside the source mode's allowed set; such changes still take effect.
type Transition struct {
	From    domain.ModeID `json:"from"`
	To      domain.ModeID `json:"to"`
	Allowed bool          `json:"allowed"`
}

func defaults() map[domain.ModeID]Config {
	return map[domain.ModeID]Config{
		domain.ModeGeneral: {
			ID:              domain.ModeGeneral,
			SystemPrompt:    "You are a study assistant for competitive exam aspirants. Answer accurately and concisely.",
			Instruction:     "Answer the question below in clear, exam-oriented language.",
			Temperature:     0.7,
			MaxOutputTokens: 1024,
			OutputFormat:    FormatPlain,
			AllowedNext:     []domain.ModeID{domain.ModeMCQ, domain.ModeEssay, domain.ModeNews},
			Category:        domain.CategoryCommonQueries,
		},
		domain.ModeMCQ: {
			ID:              domain.ModeMCQ,
			SystemPrompt:    "You are an exam coach who explains multiple choice questions.",
			Instruction:     "Identify the correct option, then explain why each other option is wrong.",
			Temperature:     0.3,
			MaxOutputTokens: 1024,
			OutputFormat:    FormatMCQ,
			AllowedNext:     []domain.ModeID{domain.ModeGeneral, domain.ModeNews},
			Category:        domain.CategoryMCQExplanations,
		},
		domain.ModeEssay: {
			ID:              domain.ModeEssay,
			SystemPrompt:    "You are an evaluator of descriptive and essay answers.",
			Instruction:     "Give structured feedback with strengths, improvements and a suggested score out of 10.",
			Temperature:     0.5,
			MaxOutputTokens: 2048,
			OutputFormat:    FormatEssay,
			AllowedNext:     []domain.ModeID{domain.ModeGeneral, domain.ModeMCQ},
			Category:        domain.CategoryEssayFeedback,
		},
		domain.ModeNews: {
			ID:              domain.ModeNews,
			SystemPrompt:    "You summarize current affairs for exam preparation.",
			Instruction:     "Summarize the topic as short bullet points and note its exam relevance.",
			Temperature:     0.4,
			MaxOutputTokens: 1024,
			OutputFormat:    FormatBullets,
			AllowedNext:     []domain.ModeID{domain.ModeGeneral, domain.ModeMCQ},
			Category:        domain.CategoryNewsSummaries,
		},
	}
}

// Registry is the closed set of modes plus the process default mode.
type Registry struct {
	configs map[domain.ModeID]Config

	mu      sync.RWMutex
	current domain.ModeID
}

// NewRegistry builds the registry, applying YAML overrides to known modes.
// An override naming an unknown mode fails construction.
func NewRegistry(initial domain.ModeID, overrides map[string]config.ModePromptOverride) (*Registry, error) {
	configs := defaults()
	for id, o := range overrides {
		m, err := domain.ParseMode(id)
		if err != nil {
			return nil, fmt.Errorf("op=mode.NewRegistry: %w", err)
		}
		c := configs[m]
		if o.SystemPrompt != "" {
			c.SystemPrompt = o.SystemPrompt
		}
		if o.Instruction != "" {
			c.Instruction = o.Instruction
		}
		if o.Temperature != nil {
			if *o.Temperature < 0 || *o.Temperature > 2 {
				return nil, fmt.Errorf("op=mode.NewRegistry: temperature for %s out of range: %v", m, *o.Temperature)
			}
			c.Temperature = *o.Temperature
		}
		if o.MaxOutputTokens > 0 {
			c.MaxOutputTokens = o.MaxOutputTokens
		}
		configs[m] = c
	}
	if initial == "" {
		initial = domain.ModeGeneral
	}
	if _, ok := configs[initial]; !ok {
		return nil, domain.NewError(domain.KindInvalidMode, "mode.NewRegistry", fmt.Errorf("unknown default mode %q", initial))
	}
	return &Registry{configs: configs, current: initial}, nil
}

// Get returns the config of a mode.
func (r *Registry) Get(id domain.ModeID) (Config, error) {
	c, ok := r.configs[id]
	if !ok {
		return Config{}, domain.NewError(domain.KindInvalidMode, "mode.Get", fmt.Errorf("unknown mode %q", id))
	}
	return c, nil
}

// List returns every mode in display order.
func (r *Registry) List() []Config {
	out := make([]Config, 0, len(domain.AllModes))
	for _, id := range domain.AllModes {
		out = append(out, r.configs[id])
	}
	return out
}

// Current returns the process default mode.
func (r *Registry) Current() domain.ModeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Transition evaluates a change from one mode to another without applying it.
func (r *Registry) Transition(from, to domain.ModeID) (Transition, error) {
	if _, ok := r.configs[to]; !ok {
		return Transition{}, domain.NewError(domain.KindInvalidMode, "mode.Transition", fmt.Errorf("unknown mode %q", to))
	}
	src, ok := r.configs[from]
	if !ok {
		return Transition{From: from, To: to, Allowed: true}, nil
	}
	return Transition{From: from, To: to, Allowed: src.Allows(to)}, nil
}

// SetMode switches the default mode. A transition outside the current mode's
// allowed set succeeds and is logged as a warning.
func (r *Registry) SetMode(ctx context.Context, id domain.ModeID) (Transition, error) {
	r.mu.Lock()
	tr, err := r.Transition(r.current, id)
	if err != nil {
		r.mu.Unlock()
		return Transition{}, err
	}
	r.current = id
	r.mu.Unlock()
	if !tr.Allowed {
		observability.LoggerFromContext(ctx).Warn("mode transition outside allowed set",
			slog.String("from", string(tr.From)),
			slog.String("to", string(tr.To)))
	}
	return tr, nil
}

// Aux is auxiliary context serialized into the prompt.
type Aux struct {
	History []Turn         `json:"history,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Turn is a compact history line.
type Turn struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

func (a Aux) empty() bool { return len(a.History) == 0 && len(a.Extra) == 0 }

// BuildPrompt concatenates the system prompt, the serialized auxiliary
// context, the instruction line and the user text, in that order.
func (r *Registry) BuildPrompt(id domain.ModeID, userText string, aux Aux) (string, error) {
	c, err := r.Get(id)
	if err != nil {
		return "", err
	}
	parts := []string{c.SystemPrompt}
	if !aux.empty() {
		raw, err := json.Marshal(aux)
		if err != nil {
			return "", fmt.Errorf("op=mode.BuildPrompt: %w", err)
		}
		parts = append(parts, "Context: "+string(raw))
	}
	parts = append(parts, c.Instruction, "User: "+userText)
	return strings.Join(parts, "\n\n"), nil
}

// Format applies the mode's output formatter. Unknown modes return text
// trimmed but otherwise untouched.
func (r *Registry) Format(id domain.ModeID, text string) string {
	c, ok := r.configs[id]
	if !ok {
		return strings.TrimSpace(text)
	}
	return c.OutputFormat.Apply(text)
}

// CategoryFor returns the cache category for a turn. Only general mode
// inspects the text.
func (r *Registry) CategoryFor(id domain.ModeID, text string) domain.Category {
	if id == domain.ModeGeneral {
		return InferCategory(text)
	}
	if c, ok := r.configs[id]; ok {
		return c.Category
	}
	return domain.CategoryCommonQueries
}

var categoryKeywords = []struct {
	words    []string
	category domain.Category
}{
	{[]string{"news", "current affairs"}, domain.CategoryNewsSummaries},
	{[]string{"mcq", "multiple choice"}, domain.CategoryMCQExplanations},
	{[]string{"essay", "write about"}, domain.CategoryEssayFeedback},
}

// InferCategory maps free text to a category by keyword.
func InferCategory(text string) domain.Category {
	lower := strings.ToLower(text)
	for _, k := range categoryKeywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				return k.category
			}
		}
	}
	return domain.CategoryCommonQueries
}
