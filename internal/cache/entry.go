package cache

import (
	"strings"
	"time"

	"github.com/sarangn19/exam-assistant/internal/domain"
	"github.com/sarangn19/exam-assistant/pkg/textx"
)

// Entry is one cached provider response.
type Entry struct {
	Fingerprint    string          `json:"fingerprint"`
	Category       domain.Category `json:"category"`
	Priority       int             `json:"priority"`
	Mode           domain.ModeID   `json:"mode"`
	Prompt         string          `json:"prompt"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	AccessCount    int             `json:"access_count"`
	Payload        domain.Envelope `json:"payload"`
	SizeBytes      int             `json:"size_bytes"`
}

// Hit is a lookup result. FromCache is always true for hits.
type Hit struct {
	Entry
	FromCache bool `json:"from_cache"`
}

// ContextSnapshot is the recent history of a conversation.
type ContextSnapshot struct {
	ConversationID string           `json:"conversation_id"`
	RecentHistory  []domain.Message `json:"recent_history"`
	CachedAt       time.Time        `json:"cached_at"`
}

type contextEntry struct {
	Snapshot       ContextSnapshot `json:"snapshot"`
	ExpiresAt      time.Time       `json:"expires_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	AccessCount    int             `json:"access_count"`
}

// ranked is implemented by both namespaces so expiry and eviction share code.
type ranked interface {
	expiry() time.Time
	rank() (priority int, lastAccessed time.Time)
	valid() bool
}

func (e *Entry) expiry() time.Time        { return e.ExpiresAt }
func (e *Entry) rank() (int, time.Time)   { return e.Priority, e.LastAccessedAt }
func (e *Entry) valid() bool              { return e.Fingerprint != "" && !e.ExpiresAt.IsZero() }
func (e *contextEntry) expiry() time.Time { return e.ExpiresAt }
func (e *contextEntry) valid() bool       { return e.Snapshot.ConversationID != "" && !e.ExpiresAt.IsZero() }
func (e *contextEntry) rank() (int, time.Time) {
	return domain.CategoryPolicies[domain.CategoryConversationContext].Priority, e.LastAccessedAt
}

// Criteria selects entries for invalidation. Set fields are OR-ed; the zero
// value matches nothing.
type Criteria struct {
	Category       domain.Category `json:"category,omitempty"`
	Mode           domain.ModeID   `json:"mode,omitempty"`
	PromptContains string          `json:"prompt_contains,omitempty"`
	CreatedBefore  time.Time       `json:"created_before,omitempty"`
}

// IsEmpty reports whether no criterion is set.
func (cr Criteria) IsEmpty() bool {
	return cr.Category == "" && cr.Mode == "" && textx.Normalize(cr.PromptContains) == "" && cr.CreatedBefore.IsZero()
}

func (cr Criteria) matches(e *Entry) bool {
	if cr.Category != "" && e.Category == cr.Category {
		return true
	}
	if cr.Mode != "" && e.Mode == cr.Mode {
		return true
	}
	if p := textx.Normalize(cr.PromptContains); p != "" && strings.Contains(e.Prompt, p) {
		return true
	}
	return !cr.CreatedBefore.IsZero() && e.CreatedAt.Before(cr.CreatedBefore)
}

func (cr Criteria) matchesContext(e *contextEntry) bool {
	if cr.Category == domain.CategoryConversationContext {
		return true
	}
	return !cr.CreatedBefore.IsZero() && e.Snapshot.CachedAt.Before(cr.CreatedBefore)
}
