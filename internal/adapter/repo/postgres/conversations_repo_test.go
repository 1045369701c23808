package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarangn19/exam-assistant/internal/adapter/repo/postgres"
	"github.com/sarangn19/exam-assistant/internal/domain"
)

func TestConversationRepo_Create(t *testing.T) {
	p := &poolStub{}
	r := postgres.NewConversationRepo(p)
	id, err := r.CreateConversation(context.Background(), domain.ConversationMeta{Mode: domain.ModeMCQ, Title: "Polity"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, p.execs, 1)
	assert.Equal(t, id, p.execs[0].args[0])
	assert.Equal(t, "mcq", p.execs[0].args[1])

	r = postgres.NewConversationRepo(&poolStub{execErr: errors.New("boom")})
	_, err = r.CreateConversation(context.Background(), domain.ConversationMeta{Mode: domain.ModeGeneral})
	assert.Error(t, err)
}

func TestConversationRepo_CreateWithID(t *testing.T) {
	p := &poolStub{}
	r := postgres.NewConversationRepo(p)
	id, err := r.CreateConversation(context.Background(), domain.ConversationMeta{ID: "client-1", Mode: domain.ModeNews})
	require.NoError(t, err)
	assert.Equal(t, "client-1", id)
	require.Len(t, p.execs, 1)
	assert.Equal(t, "client-1", p.execs[0].args[0])
	assert.Contains(t, p.execs[0].sql, "ON CONFLICT (id) DO NOTHING")
}

func TestConversationRepo_LoadMissing(t *testing.T) {
	r := postgres.NewConversationRepo(&poolStub{row: rowErr(pgx.ErrNoRows)})
	c, err := r.LoadConversation(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestConversationRepo_LoadWithMessages(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &poolStub{
		row: rowOf("c1", "essay", "Ethics", "u1", ts, ts),
		rows: &rowsStub{data: [][]any{
			{"user", "Evaluate my essay", []byte(nil), ts},
			{"assistant", "Good structure", []byte(`{"category":"essay_feedback"}`), ts.Add(time.Second)},
		}},
	}
	r := postgres.NewConversationRepo(p)
	c, err := r.LoadConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, domain.ModeEssay, c.Meta.Mode)
	assert.Equal(t, "Ethics", c.Meta.Title)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, domain.RoleUser, c.Messages[0].Role)
	assert.Nil(t, c.Messages[0].Metadata)
	assert.Equal(t, "essay_feedback", c.Messages[1].Metadata["category"])
}

func TestConversationRepo_LoadBadMetadata(t *testing.T) {
	ts := time.Now()
	p := &poolStub{
		row:  rowOf("c1", "general", "", "", ts, ts),
		rows: &rowsStub{data: [][]any{{"user", "x", []byte("{not json"), ts}}},
	}
	_, err := postgres.NewConversationRepo(p).LoadConversation(context.Background(), "c1")
	assert.Error(t, err)
}

func TestConversationRepo_AddMessage(t *testing.T) {
	tx := &txStub{execTags: []string{"UPDATE 1", "INSERT 0 1"}}
	r := postgres.NewConversationRepo(&poolStub{tx: tx})
	err := r.AddMessage(context.Background(), "c1", domain.Message{
		Role:     domain.RoleAssistant,
		Content:  "Article 21 protects life and personal liberty.",
		Metadata: map[string]any{"cached": true},
	})
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	require.Len(t, tx.calls, 2)
	assert.Equal(t, []byte(`{"cached":true}`), tx.calls[1].args[3])
}

func TestConversationRepo_AddMessageUnknownConversation(t *testing.T) {
	tx := &txStub{execTags: []string{"UPDATE 0"}}
	r := postgres.NewConversationRepo(&poolStub{tx: tx})
	err := r.AddMessage(context.Background(), "missing", domain.Message{Role: domain.RoleUser, Content: "hi"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestConversationRepo_AddMessageExecError(t *testing.T) {
	tx := &txStub{execErr: errors.New("deadlock")}
	r := postgres.NewConversationRepo(&poolStub{tx: tx})
	err := r.AddMessage(context.Background(), "c1", domain.Message{Role: domain.RoleUser, Content: "hi"})
	require.Error(t, err)
	assert.True(t, tx.rolledBack)
}
