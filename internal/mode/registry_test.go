package mode

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/config"
	"github.com/sarangn19/exam-assistant/internal/domain"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(domain.ModeGeneral, nil)
	require.NoError(t, err)
	return r
}

func capture(ctx context.Context) (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	lg := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return observability.ContextWithLogger(ctx, lg), &buf
}

func TestRegistry_TransitionTable(t *testing.T) {
	r := newRegistry(t)
	cases := []struct {
		from, to domain.ModeID
		allowed  bool
	}{
		{domain.ModeGeneral, domain.ModeMCQ, true},
		{domain.ModeGeneral, domain.ModeEssay, true},
		{domain.ModeGeneral, domain.ModeNews, true},
		{domain.ModeMCQ, domain.ModeGeneral, true},
		{domain.ModeMCQ, domain.ModeNews, true},
		{domain.ModeMCQ, domain.ModeEssay, false},
		{domain.ModeEssay, domain.ModeGeneral, true},
		{domain.ModeEssay, domain.ModeMCQ, true},
		{domain.ModeEssay, domain.ModeNews, false},
		{domain.ModeNews, domain.ModeGeneral, true},
		{domain.ModeNews, domain.ModeMCQ, true},
		{domain.ModeNews, domain.ModeEssay, false},
		{domain.ModeNews, domain.ModeNews, true},
	}
	for _, tc := range cases {
		tr, err := r.Transition(tc.from, tc.to)
		require.NoError(t, err)
		assert.Equal(t, tc.allowed, tr.Allowed, "%s -> %s", tc.from, tc.to)
	}
}

func TestRegistry_SetModeWarnsButSucceeds(t *testing.T) {
	r := newRegistry(t)
	ctx, buf := capture(context.Background())

	tr, err := r.SetMode(ctx, domain.ModeMCQ)
	require.NoError(t, err)
	assert.True(t, tr.Allowed)
	assert.Empty(t, buf.String())

	tr, err = r.SetMode(ctx, domain.ModeEssay)
	require.NoError(t, err)
	assert.False(t, tr.Allowed)
	assert.Equal(t, domain.ModeMCQ, tr.From)
	assert.Equal(t, domain.ModeEssay, r.Current())
	assert.Contains(t, buf.String(), "mode transition outside allowed set")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestRegistry_SetModeUnknown(t *testing.T) {
	r := newRegistry(t)
	_, err := r.SetMode(context.Background(), domain.ModeID("history"))
	require.ErrorIs(t, err, domain.ErrInvalidMode)
	assert.Equal(t, domain.ModeGeneral, r.Current())

	_, err = r.Get("history")
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

func TestRegistry_BuildPromptOrder(t *testing.T) {
	r := newRegistry(t)
	aux := Aux{History: []Turn{{Role: domain.RoleUser, Content: "earlier question"}}}
	p, err := r.BuildPrompt(domain.ModeMCQ, "Which article abolishes untouchability?", aux)
	require.NoError(t, err)

	cfg, _ := r.Get(domain.ModeMCQ)
	iSys := strings.Index(p, cfg.SystemPrompt)
	iCtx := strings.Index(p, "Context: ")
	iIns := strings.Index(p, cfg.Instruction)
	iUser := strings.Index(p, "User: Which article")
	assert.True(t, iSys == 0 && iSys < iCtx && iCtx < iIns && iIns < iUser, p)
	assert.Contains(t, p, `"content":"earlier question"`)
}

func TestRegistry_BuildPromptWithoutAux(t *testing.T) {
	r := newRegistry(t)
	p, err := r.BuildPrompt(domain.ModeGeneral, "hi", Aux{})
	require.NoError(t, err)
	assert.NotContains(t, p, "Context:")

	_, err = r.BuildPrompt("bogus", "hi", Aux{})
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

func TestRegistry_Overrides(t *testing.T) {
	temp := 0.2
	r, err := NewRegistry(domain.ModeNews, map[string]config.ModePromptOverride{
		"essay": {SystemPrompt: "Custom evaluator", Temperature: &temp, MaxOutputTokens: 3000},
	})
	require.NoError(t, err)
	c, _ := r.Get(domain.ModeEssay)
	assert.Equal(t, "Custom evaluator", c.SystemPrompt)
	assert.Equal(t, 0.2, c.Temperature)
	assert.Equal(t, 3000, c.MaxOutputTokens)
	assert.NotEmpty(t, c.Instruction)
	assert.Equal(t, domain.ModeNews, r.Current())

	_, err = NewRegistry(domain.ModeGeneral, map[string]config.ModePromptOverride{"history": {}})
	assert.ErrorIs(t, err, domain.ErrInvalidMode)

	bad := 3.5
	_, err = NewRegistry(domain.ModeGeneral, map[string]config.ModePromptOverride{"mcq": {Temperature: &bad}})
	assert.Error(t, err)

	_, err = NewRegistry("history", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

func TestRegistry_ListOrder(t *testing.T) {
	r := newRegistry(t)
	var ids []domain.ModeID
	for _, c := range r.List() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, domain.AllModes, ids)
}

func TestCategoryFor(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, domain.CategoryNewsSummaries, r.CategoryFor(domain.ModeGeneral, "Latest current affairs on RBI"))
	assert.Equal(t, domain.CategoryMCQExplanations, r.CategoryFor(domain.ModeGeneral, "Give me a Multiple Choice question"))
	assert.Equal(t, domain.CategoryEssayFeedback, r.CategoryFor(domain.ModeGeneral, "write about federalism"))
	assert.Equal(t, domain.CategoryCommonQueries, r.CategoryFor(domain.ModeGeneral, "What is Article 21?"))
	assert.Equal(t, domain.CategoryEssayFeedback, r.CategoryFor(domain.ModeEssay, "news"))
	assert.Equal(t, domain.CategoryMCQExplanations, r.CategoryFor(domain.ModeMCQ, "anything"))
}
