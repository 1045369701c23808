package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

// ConversationRepo implements domain.ConversationLog on the conversations and
// conversation_messages tables.
type ConversationRepo struct {
	Pool PgxPool
	now  func() time.Time
}

// NewConversationRepo constructs a ConversationRepo with the given pool.
func NewConversationRepo(p PgxPool) *ConversationRepo {
	return &ConversationRepo{Pool: p, now: func() time.Time { return time.Now().UTC() }}
}

// CreateConversation inserts a conversation and returns its id. A caller-chosen
// id that already exists is left untouched.
func (r *ConversationRepo) CreateConversation(ctx domain.Context, meta domain.ConversationMeta) (string, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "conversations"),
	)

	id := meta.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now()
	q := `INSERT INTO conversations (id, mode, title, user_id, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.Pool.Exec(ctx, q, id, string(meta.Mode), meta.Title, meta.UserID, now, now); err != nil {
		return "", fmt.Errorf("op=conversation.create: %w", err)
	}
	return id, nil
}

// LoadConversation returns the conversation with its messages in insertion
// order, or nil when the id is unknown.
func (r *ConversationRepo) LoadConversation(ctx domain.Context, id string) (*domain.Conversation, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "conversations"),
	)

	var c domain.Conversation
	var mode string
	q := `SELECT id, mode, title, user_id, created_at, updated_at FROM conversations WHERE id=$1`
	err := r.Pool.QueryRow(ctx, q, id).Scan(&c.ID, &mode, &c.Meta.Title, &c.Meta.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=conversation.load: %w", err)
	}
	c.Meta.Mode = domain.ModeID(mode)

	rows, err := r.Pool.Query(ctx, `SELECT role, content, metadata, created_at FROM conversation_messages WHERE conversation_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("op=conversation.load_messages: %w", err)
	}
	defer rows.Close()
	c.Messages = make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var role string
		var meta []byte
		if err := rows.Scan(&role, &m.Content, &meta, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("op=conversation.load_messages: %w", err)
		}
		m.Role = domain.Role(role)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("op=conversation.load_messages: decode metadata: %w", err)
			}
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=conversation.load_messages: %w", err)
	}
	span.SetAttributes(attribute.Int("conversation.messages", len(c.Messages)))
	return &c, nil
}

// AddMessage appends a message and bumps the conversation's updated_at in one
// transaction.
func (r *ConversationRepo) AddMessage(ctx domain.Context, id string, msg domain.Message) (err error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.AddMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "conversation_messages"),
	)

	var meta []byte
	if len(msg.Metadata) > 0 {
		if meta, err = json.Marshal(msg.Metadata); err != nil {
			return fmt.Errorf("op=conversation.add_message: encode metadata: %w", err)
		}
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=conversation.add_message: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `UPDATE conversations SET updated_at=$2 WHERE id=$1`, id, ts)
	if err != nil {
		return fmt.Errorf("op=conversation.add_message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=conversation.add_message: %w", domain.ErrNotFound)
	}
	q := `INSERT INTO conversation_messages (conversation_id, role, content, metadata, created_at) VALUES ($1,$2,$3,$4,$5)`
	if _, err = tx.Exec(ctx, q, id, string(msg.Role), msg.Content, meta, ts); err != nil {
		return fmt.Errorf("op=conversation.add_message: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=conversation.add_message: commit: %w", err)
	}
	return nil
}
