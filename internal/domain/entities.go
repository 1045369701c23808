// Package domain holds the core types and ports of the exam assistant.
package domain

import (
	"context"
	"time"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of a conversation.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ConversationMeta is supplied when a conversation is created.
type ConversationMeta struct {
	// ID requests a caller-chosen id. Creating an id that already exists
	// keeps the stored conversation.
	ID     string `json:"-"`
	Mode   ModeID `json:"mode"`
	Title  string `json:"title,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// Conversation is a persisted message log.
type Conversation struct {
	ID        string           `json:"id"`
	Meta      ConversationMeta `json:"meta"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Messages  []Message        `json:"messages"`
}

// InlineImage is an optional binary attachment sent alongside the prompt.
// Data is base64 encoded as received from the caller.
type InlineImage struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type,omitempty"`
}

// GenerateOptions are the per-call generation parameters. Zero values mean
// "use the client default".
type GenerateOptions struct {
	Temperature     *float64
	TopK            *int
	TopP            *float64
	MaxOutputTokens int
	Image           *InlineImage
	SafetySettings  []SafetySetting
}

// SafetySetting is one provider harm-category threshold.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// Usage reports provider token accounting.
type Usage struct {
	PromptUnits int  `json:"prompt_units"`
	OutputUnits int  `json:"output_units"`
	TotalUnits  int  `json:"total_units"`
	Estimated   bool `json:"estimated,omitempty"`
}

// Envelope is a validated provider response.
type Envelope struct {
	Text         string `json:"text"`
	Usage        Usage  `json:"usage"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
}

// TurnEvent is emitted after a completed assistant turn for downstream analytics.
type TurnEvent struct {
	ConversationID string        `json:"conversation_id"`
	Mode           ModeID        `json:"mode"`
	Category       Category      `json:"category"`
	Fingerprint    string        `json:"fingerprint"`
	Usage          Usage         `json:"usage"`
	Latency        time.Duration `json:"latency_ns"`
	Attempts       int           `json:"attempts"`
	Fallback       bool          `json:"fallback"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// Ports

// Generator produces a completion for an effective prompt.
type Generator interface {
	Generate(ctx Context, prompt string, opts GenerateOptions) (Envelope, error)
}

// ConversationLog persists conversation turns. LoadConversation returns
// (nil, nil) when the id is unknown.
type ConversationLog interface {
	CreateConversation(ctx Context, meta ConversationMeta) (string, error)
	LoadConversation(ctx Context, id string) (*Conversation, error)
	AddMessage(ctx Context, id string, msg Message) error
}

// KVStore is the durable string-keyed store backing cache persistence.
// It is not required to be transactional.
type KVStore interface {
	Get(ctx Context, key string) ([]byte, bool, error)
	Set(ctx Context, key string, value []byte) error
	Delete(ctx Context, key string) error
	Keys(ctx Context, prefix string) ([]string, error)
}

// TurnPublisher ships turn events to an external sink.
type TurnPublisher interface {
	PublishTurn(ctx Context, ev TurnEvent) error
}

// Context is an alias so ports read cleanly; adapters pass context.Context through.
type Context = context.Context
