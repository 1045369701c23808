// Package gemini implements the provider client for the Gemini
// generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarangn19/exam-assistant/internal/adapter/ai"
	"github.com/sarangn19/exam-assistant/internal/adapter/ai/tokencount"
	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/config"
	"github.com/sarangn19/exam-assistant/internal/domain"
)

const (
	provider  = "gemini"
	operation = "generate"

	DefaultTemperature     = 0.7
	DefaultTopK            = 40
	DefaultTopP            = 0.95
	DefaultMaxOutputTokens = 1024

	maxErrorSnippet = 512
)

// DefaultSafetySettings is attached to every request unless overridden.
var DefaultSafetySettings = []domain.SafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
}

// Client implements domain.Generator against the Gemini REST API.
type Client struct {
	hc      *http.Client
	baseURL string
	apiKey  string
	model   string
	retry   *ai.RetryExecutor
	counter *tokencount.Counter
	tracer  trace.Tracer
}

// New constructs a client from configuration. retry drives attempts, backoff
// and the rate limiter.
func New(cfg config.Config, retry *ai.RetryExecutor) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Gemini %s %s", r.Method, r.URL.Host)
		}),
	)
	timeout := cfg.ProviderHTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return NewWithHTTPClient(cfg, retry, &http.Client{Timeout: timeout, Transport: transport})
}

// NewWithHTTPClient is New with an explicit HTTP client.
func NewWithHTTPClient(cfg config.Config, retry *ai.RetryExecutor, hc *http.Client) *Client {
	return &Client{
		hc:      hc,
		baseURL: strings.TrimRight(cfg.GeminiBaseURL, "/"),
		apiKey:  cfg.GeminiAPIKey,
		model:   cfg.GeminiModel,
		retry:   retry,
		counter: tokencount.DefaultCounter,
		tracer:  observability.Tracer("ai.gemini"),
	}
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

// BuildRequest translates a prompt and options into the wire request.
func BuildRequest(prompt string, opts domain.GenerateOptions) (Request, error) {
	parts := []Part{{Text: prompt}}
	if img := opts.Image; img != nil && img.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return Request{}, domain.NewError(domain.KindInvalidRequest, "gemini.BuildRequest", fmt.Errorf("inline image is not valid base64: %w", err))
		}
		mt := strings.TrimSpace(img.MIMEType)
		if mt == "" {
			mt = mimetype.Detect(raw).String()
			if i := strings.IndexByte(mt, ';'); i >= 0 {
				mt = strings.TrimSpace(mt[:i])
			}
		}
		parts = append(parts, Part{InlineData: &InlineData{MimeType: mt, Data: img.Data}})
	}

	gc := GenerationConfig{
		Temperature:     DefaultTemperature,
		TopK:            DefaultTopK,
		TopP:            DefaultTopP,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
	if opts.Temperature != nil {
		gc.Temperature = *opts.Temperature
	}
	if opts.TopK != nil {
		gc.TopK = *opts.TopK
	}
	if opts.TopP != nil {
		gc.TopP = *opts.TopP
	}
	if opts.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = opts.MaxOutputTokens
	}
	safety := opts.SafetySettings
	if len(safety) == 0 {
		safety = DefaultSafetySettings
	}
	return Request{
		Contents:         []Content{{Role: "user", Parts: parts}},
		GenerationConfig: gc,
		SafetySettings:   safety,
	}, nil
}

// Generate sends the prompt and returns a validated envelope.
func (c *Client) Generate(ctx domain.Context, prompt string, opts domain.GenerateOptions) (domain.Envelope, error) {
	lg := observability.LoggerFromContext(ctx)
	if c.apiKey == "" {
		lg.Error("Gemini API key missing", slog.String("provider", provider))
		return domain.Envelope{}, domain.NewError(domain.KindAuth, "gemini.Generate", errors.New("GEMINI_API_KEY missing"))
	}

	ctx, span := c.tracer.Start(ctx, "gemini.Generate", trace.WithAttributes(
		attribute.String("ai.provider", provider),
		attribute.String("ai.model", c.model),
		attribute.Int("ai.prompt_chars", len(prompt)),
	))
	defer span.End()

	req, err := BuildRequest(prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return domain.Envelope{}, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return domain.Envelope{}, domain.NewError(domain.KindInvalidRequest, "gemini.Generate", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	var out Response
	attempts, err := c.retry.Execute(ctx, func(actx context.Context, attempt int) error {
		resp, err := c.do(actx, endpoint, body)
		if err != nil {
			return err
		}
		out = *resp
		return nil
	})
	span.SetAttributes(attribute.Int("ai.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		lg.Error("Gemini API failed after retries",
			slog.String("provider", provider),
			slog.String("model", c.model),
			slog.Int("attempts", attempts),
			slog.Any("error", err))
		return domain.Envelope{}, err
	}

	env := domain.Envelope{
		Text:         ExtractText(&out),
		Model:        c.model,
		FinishReason: FinishReason(&out),
		Attempts:     attempts,
	}
	if out.ModelVersion != "" {
		env.Model = out.ModelVersion
	}
	if u, ok := ExtractUsage(&out); ok {
		env.Usage = u
	} else {
		env.Usage = c.counter.Estimate(prompt, env.Text)
	}
	span.SetAttributes(
		attribute.Int("ai.total_units", env.Usage.TotalUnits),
		attribute.Bool("ai.usage_estimated", env.Usage.Estimated),
	)
	lg.Info("Gemini API call successful",
		slog.String("provider", provider),
		slog.String("model", env.Model),
		slog.Int("attempts", attempts),
		slog.Int("total_units", env.Usage.TotalUnits),
		slog.Bool("usage_estimated", env.Usage.Estimated))
	return env, nil
}

// do performs one HTTP attempt and classifies any failure.
func (c *Client) do(ctx context.Context, endpoint string, body []byte) (*Response, error) {
	const op = "gemini.Generate"
	lg := observability.LoggerFromContext(ctx)
	start := time.Now()

	// Recreate request each attempt to avoid reusing consumed bodies
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, op, err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.hc.Do(r)
	if err != nil {
		kind := domain.KindNetwork
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			kind = domain.KindTimeout
		}
		observability.ObserveAIAttempt(provider, operation, strings.ToLower(string(kind)), time.Since(start))
		lg.Warn("ai provider transport error", slog.String("provider", provider), slog.String("kind", string(kind)), slog.Any("error", err))
		return nil, domain.NewError(kind, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		kind := domain.KindNetwork
		if ctx.Err() != nil {
			kind = domain.KindTimeout
		}
		observability.ObserveAIAttempt(provider, operation, strings.ToLower(string(kind)), time.Since(start))
		return nil, domain.NewError(kind, op, fmt.Errorf("read body: %w", err))
	}

	if kind, ok := classifyStatus(resp.StatusCode); ok {
		snippet := string(bodyBytes)
		if len(snippet) > maxErrorSnippet {
			snippet = snippet[:maxErrorSnippet]
		}
		observability.ObserveAIAttempt(provider, operation, fmt.Sprintf("status_%d", resp.StatusCode), time.Since(start))
		lg.Warn("ai provider non-2xx",
			slog.String("provider", provider),
			slog.Int("status", resp.StatusCode),
			slog.String("kind", string(kind)),
			slog.String("body", snippet))
		return nil, domain.NewStatusError(kind, op, resp.StatusCode, fmt.Errorf("generateContent status %d", resp.StatusCode))
	}

	if !isObject(bodyBytes) {
		observability.ObserveAIAttempt(provider, operation, "invalid", time.Since(start))
		return nil, domain.NewError(domain.KindValidation, op, errNotObject)
	}
	var out Response
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		observability.ObserveAIAttempt(provider, operation, "invalid", time.Since(start))
		lg.Error("ai provider decode error", slog.String("provider", provider), slog.Any("error", err))
		return nil, domain.NewError(domain.KindValidation, op, err)
	}
	if err := Validate(&out); err != nil {
		observability.ObserveAIAttempt(provider, operation, "invalid", time.Since(start))
		lg.Warn("ai provider response failed validation", slog.String("provider", provider), slog.Any("error", err))
		return nil, domain.NewError(domain.KindValidation, op, err)
	}
	observability.ObserveAIAttempt(provider, operation, "ok", time.Since(start))
	return &out, nil
}

// classifyStatus maps non-2xx statuses to error kinds.
func classifyStatus(status int) (domain.Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindAuth, true
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimit, true
	case status >= 500:
		return domain.KindServer, true
	default:
		return domain.KindInvalidRequest, true
	}
}
