package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/sarangn19/exam-assistant/internal/adapter/httpserver"
	"github.com/sarangn19/exam-assistant/internal/app"
	"github.com/sarangn19/exam-assistant/internal/cache"
	"github.com/sarangn19/exam-assistant/internal/config"
	"github.com/sarangn19/exam-assistant/internal/domain"
	"github.com/sarangn19/exam-assistant/internal/mode"
	"github.com/sarangn19/exam-assistant/internal/usecase"
)

type assistantStub struct{}

func (assistantStub) SendMessage(_ context.Context, text string, opts usecase.SendOptions) (usecase.Reply, error) {
	return usecase.Reply{ConversationID: "c-1", Text: "echo: " + text, Mode: opts.Mode}, nil
}

func (assistantStub) SetMode(_ context.Context, id domain.ModeID) (mode.Transition, error) {
	return mode.Transition{From: domain.ModeGeneral, To: id, Allowed: true}, nil
}

func (assistantStub) Modes() ([]mode.Config, domain.ModeID) { return nil, domain.ModeGeneral }

func (assistantStub) Conversation(context.Context, string) (*domain.Conversation, error) {
	return nil, domain.ErrNotFound
}

type cacheStub struct{}

func (cacheStub) Stats() cache.Stats                             { return cache.Stats{} }
func (cacheStub) Invalidate(context.Context, cache.Criteria) int { return 0 }
func (cacheStub) Sweep(context.Context) cache.SweepResult        { return cache.SweepResult{} }

func testConfig() config.Config {
	return config.Config{
		CORSAllowOrigins: "https://app.example.com",
		RateLimitPerMin:  100,
		AIMaxRetries:     3,
		AIRequestTimeout: 30 * time.Second,
		AIRetryMaxDelay:  30 * time.Second,
	}
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, app.ParseOrigins(""))
	assert.Equal(t, []string{"*"}, app.ParseOrigins(" * "))
	assert.Equal(t, []string{"*"}, app.ParseOrigins(" , "))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, app.ParseOrigins("https://a.example, https://b.example,"))
}

func TestRequestTimeout(t *testing.T) {
	assert.Equal(t, 4*30*time.Second+3*30*time.Second+time.Minute, app.RequestTimeout(testConfig()))
	assert.Equal(t, time.Minute, app.RequestTimeout(config.Config{}))
}

func TestWriteTimeout_CoversRequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPWriteTimeout = 180 * time.Second
	assert.Equal(t, app.RequestTimeout(cfg)+15*time.Second, app.WriteTimeout(cfg))
	assert.Greater(t, app.WriteTimeout(cfg), app.RequestTimeout(cfg))

	cfg.HTTPWriteTimeout = 10 * time.Minute
	assert.Equal(t, 10*time.Minute, app.WriteTimeout(cfg))
}

func TestBuildRouter_Routes(t *testing.T) {
	srv := httpserver.NewServer(assistantStub{}, cacheStub{}, 0)
	h := app.BuildRouter(testConfig(), srv, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get(httpserver.RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hello","mode":"news"}`))
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"text":"echo: hello"`)
	assert.Contains(t, rec.Body.String(), `"mode":"news"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/cache/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "admin routes stay unmounted without credentials")
}

func TestBuildRouter_AdminMounted(t *testing.T) {
	creds, err := httpserver.NewAdminCredentials("ops", "pw", httpserver.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLen: 8, KeyLen: 16})
	require.NoError(t, err)
	h := app.BuildRouter(testConfig(), httpserver.NewServer(assistantStub{}, cacheStub{}, 0), &creds)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/cache/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/cache/stats", nil)
	req.SetBasicAuth("ops", "pw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRouter_CORSPreflight(t *testing.T) {
	h := app.BuildRouter(testConfig(), httpserver.NewServer(assistantStub{}, cacheStub{}, 0), nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
