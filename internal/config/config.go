// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv       string   `env:"APP_ENV" envDefault:"dev"`
	Port         int      `env:"PORT" envDefault:"8080"`
	DBURL        string   `env:"DB_URL"`
	RedisURL     string   `env:"REDIS_URL"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	// TurnEventsTopic receives one JSON record per completed provider turn.
	TurnEventsTopic string `env:"TURN_EVENTS_TOPIC" envDefault:"assistant-turns"`

	// Provider
	GeminiModel   string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`

	// Resilience
	AIMaxRetries        int           `env:"AI_MAX_RETRIES" envDefault:"3"`
	AIRetryBaseDelay    time.Duration `env:"AI_RETRY_BASE_DELAY" envDefault:"1s"`
	AIRetryMaxDelay     time.Duration `env:"AI_RETRY_MAX_DELAY" envDefault:"30s"`
	AIRetryMaxJitter    time.Duration `env:"AI_RETRY_MAX_JITTER" envDefault:"1s"`
	AIRequestTimeout    time.Duration `env:"AI_REQUEST_TIMEOUT" envDefault:"30s"`
	AIRequestsPerMinute int           `env:"AI_REQUESTS_PER_MINUTE" envDefault:"60"`
	AIRequestsPerHour   int           `env:"AI_REQUESTS_PER_HOUR" envDefault:"1000"`
	LimiterBackend      string        `env:"LIMITER_BACKEND" envDefault:"memory"`
	DisableFallback     bool          `env:"AI_DISABLE_FALLBACK" envDefault:"false"`
	ProviderHTTPTimeout time.Duration `env:"AI_HTTP_TIMEOUT" envDefault:"60s"`

	// Cache
	CacheMaxEntries    int           `env:"CACHE_MAX_ENTRIES" envDefault:"1000"`
	CacheTTLOverrides  string        `env:"CACHE_TTL_OVERRIDES"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"5m"`

	// Conversation and input handling
	DefaultMode     string `env:"DEFAULT_MODE" envDefault:"general"`
	HistoryWindow   int    `env:"HISTORY_WINDOW" envDefault:"10"`
	MaxInputChars   int    `env:"MAX_INPUT_CHARS" envDefault:"8000"`
	MaxInputBytes   int    `env:"MAX_INPUT_BYTES" envDefault:"65536"`
	ModePromptsPath string `env:"MODE_PROMPTS_PATH"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"exam-assistant"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"180s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// AdminEnabled returns true if admin features should be enabled
func (c Config) AdminEnabled() bool {
	return c.AdminUsername != "" && c.AdminPassword != ""
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if _, err := cfg.TTLOverrides(); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if _, err := domain.ParseMode(cfg.DefaultMode); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: DEFAULT_MODE: %w", err)
	}
	switch cfg.LimiterBackend {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("op=config.Load: LIMITER_BACKEND must be memory or redis, got %q", cfg.LimiterBackend)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// TTLOverrides parses CACHE_TTL_OVERRIDES, a comma separated list of
// category=duration pairs such as "news_summaries=30m,essay_feedback=6h".
func (c Config) TTLOverrides() (map[domain.Category]time.Duration, error) {
	out := map[domain.Category]time.Duration{}
	if strings.TrimSpace(c.CacheTTLOverrides) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(c.CacheTTLOverrides, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("CACHE_TTL_OVERRIDES: malformed pair %q", pair)
		}
		cat, err := domain.ParseCategory(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("CACHE_TTL_OVERRIDES: %w", err)
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("CACHE_TTL_OVERRIDES: invalid duration for %s: %q", cat, v)
		}
		out[cat] = d
	}
	return out, nil
}
