package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

func TestFallbackResponder_LabeledAndDeterministic(t *testing.T) {
	f := NewFallbackResponder()
	cause := domain.NewError(domain.KindServer, "test", errors.New("503"))

	a := f.Respond(domain.ModeMCQ, "Which article abolishes untouchability?", cause)
	b := f.Respond(domain.ModeMCQ, "which article abolishes untouchability?  ", cause)
	assert.True(t, strings.HasPrefix(a.Text, FallbackPrefix))
	assert.Equal(t, a.Text, b.Text)
	assert.Equal(t, FallbackModel, a.Model)
	assert.Contains(t, a.Text, "Eliminate clearly wrong options")
}

func TestFallbackResponder_ReasonFollowsKind(t *testing.T) {
	f := NewFallbackResponder()
	tests := []struct {
		kind domain.Kind
		want string
	}{
		{domain.KindRateLimit, "busy"},
		{domain.KindTimeout, "in time"},
		{domain.KindNetwork, "in time"},
		{domain.KindAuth, "not configured"},
		{domain.KindValidation, "unreadable"},
		{domain.KindServer, "unavailable"},
	}
	for _, tt := range tests {
		env := f.Respond(domain.ModeGeneral, "q", domain.NewError(tt.kind, "test", nil))
		assert.Contains(t, env.Text, tt.want, tt.kind)
	}
}

func TestFallbackResponder_UnknownModeUsesGeneral(t *testing.T) {
	env := NewFallbackResponder().Respond(domain.ModeID("x"), "q", nil)
	assert.Contains(t, env.Text, "rephrasing")
}
