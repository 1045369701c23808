// Package memory provides an in-process conversation log used in tests and
// when no database is configured.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

// ConversationStore implements domain.ConversationLog in memory.
type ConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*domain.Conversation
	now   func() time.Time
}

// NewConversationStore constructs an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		convs: make(map[string]*domain.Conversation),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *ConversationStore) CreateConversation(_ domain.Context, meta domain.ConversationMeta) (string, error) {
	id := meta.ID
	if id == "" {
		id = uuid.NewString()
	}
	meta.ID = ""
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		s.convs[id] = &domain.Conversation{ID: id, Meta: meta, CreatedAt: now, UpdatedAt: now, Messages: []domain.Message{}}
	}
	return id, nil
}

// LoadConversation returns a copy so callers cannot mutate stored state.
func (s *ConversationStore) LoadConversation(_ domain.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Messages = append([]domain.Message(nil), c.Messages...)
	return &cp, nil
}

func (s *ConversationStore) AddMessage(_ domain.Context, id string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("op=memory.AddMessage: %w", domain.ErrNotFound)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.Timestamp
	return nil
}
