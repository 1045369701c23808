package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

func Test_Load_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
	assert.Equal(t, 3, cfg.AIMaxRetries)
	assert.Equal(t, 60, cfg.AIRequestsPerMinute)
	assert.Equal(t, 1000, cfg.AIRequestsPerHour)
	assert.Equal(t, 1000, cfg.CacheMaxEntries)
	assert.Equal(t, 30*time.Second, cfg.AIRequestTimeout)
	assert.Equal(t, "general", cfg.DefaultMode)
	assert.False(t, cfg.AdminEnabled())
}

func Test_Load_AdminEnabled(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "admin")
	t.Setenv("ADMIN_PASSWORD", "secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AdminEnabled())
}

func Test_Load_RejectsUnknownDefaultMode(t *testing.T) {
	t.Setenv("DEFAULT_MODE", "poetry")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

func Test_Load_RejectsUnknownLimiterBackend(t *testing.T) {
	t.Setenv("LIMITER_BACKEND", "memcached")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=config.Load")
}

func Test_Load_InvalidDuration(t *testing.T) {
	t.Setenv("AI_REQUEST_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)
}

func TestTTLOverrides(t *testing.T) {
	cfg := Config{CacheTTLOverrides: " news_summaries=30m , essay_feedback=6h"}
	got, err := cfg.TTLOverrides()
	require.NoError(t, err)
	assert.Equal(t, map[domain.Category]time.Duration{
		domain.CategoryNewsSummaries: 30 * time.Minute,
		domain.CategoryEssayFeedback: 6 * time.Hour,
	}, got)

	for _, bad := range []string{"news_summaries", "trivia=1h", "news_summaries=-1h", "news_summaries=abc"} {
		_, err := Config{CacheTTLOverrides: bad}.TTLOverrides()
		assert.Error(t, err, bad)
	}
}

func TestGetRetryConfig(t *testing.T) {
	cfg := Config{AppEnv: "prod", AIMaxRetries: 3, AIRetryBaseDelay: time.Second, AIRetryMaxDelay: 30 * time.Second, AIRetryMaxJitter: time.Second, AIRequestTimeout: 30 * time.Second}
	rc := cfg.GetRetryConfig()
	assert.Equal(t, 3, rc.MaxRetries)
	assert.Equal(t, time.Second, rc.BaseDelay)
	assert.Equal(t, 30*time.Second, rc.AttemptTimeout)

	cfg.AppEnv = "test"
	assert.Less(t, cfg.GetRetryConfig().MaxDelay, time.Second)
}
