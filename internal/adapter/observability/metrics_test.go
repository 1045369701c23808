package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware)
	r.Get("/v1/conversations/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	counter := HTTPRequestsTotal.WithLabelValues("/v1/conversations/{id}", http.MethodGet, http.StatusText(http.StatusNoContent))
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversations/abc", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := CacheLookupsTotal.WithLabelValues("contexts", "hit")
	misses := CacheLookupsTotal.WithLabelValues("contexts", "miss")
	h0, m0 := testutil.ToFloat64(hits), testutil.ToFloat64(misses)

	RecordCacheLookup("contexts", true)
	RecordCacheLookup("contexts", false)
	RecordCacheLookup("contexts", false)

	assert.Equal(t, h0+1, testutil.ToFloat64(hits))
	assert.Equal(t, m0+2, testutil.ToFloat64(misses))
}

func TestAIAndReplyHelpers(t *testing.T) {
	attempts := AIRequestsTotal.WithLabelValues("gemini", "generate", "server_error")
	retries := AIRetriesTotal.WithLabelValues("ServerError")
	replies := AssistantRepliesTotal.WithLabelValues("mcq", "fallback")
	a0, r0, p0 := testutil.ToFloat64(attempts), testutil.ToFloat64(retries), testutil.ToFloat64(replies)

	ObserveAIAttempt("gemini", "generate", "server_error", 20*time.Millisecond)
	RecordRetry("ServerError")
	RecordReply("mcq", "fallback")
	ObserveLimiterWait("memory", 0)

	assert.Equal(t, a0+1, testutil.ToFloat64(attempts))
	assert.Equal(t, r0+1, testutil.ToFloat64(retries))
	assert.Equal(t, p0+1, testutil.ToFloat64(replies))
}
