package config

import (
	"time"
)

// RetryConfig holds the provider retry policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is multiplied by 2^attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff wait.
	MaxDelay time.Duration
	// MaxJitter bounds the random component added to each wait.
	MaxJitter time.Duration
	// AttemptTimeout cancels an in-flight attempt.
	AttemptTimeout time.Duration
}

// GetRetryConfig returns the retry configuration. Test environments get
// short delays so suites run quickly.
func (c Config) GetRetryConfig() RetryConfig {
	if c.IsTest() {
		return RetryConfig{
			MaxRetries:     c.AIMaxRetries,
			BaseDelay:      10 * time.Millisecond,
			MaxDelay:       100 * time.Millisecond,
			MaxJitter:      5 * time.Millisecond,
			AttemptTimeout: 2 * time.Second,
		}
	}
	return RetryConfig{
		MaxRetries:     c.AIMaxRetries,
		BaseDelay:      c.AIRetryBaseDelay,
		MaxDelay:       c.AIRetryMaxDelay,
		MaxJitter:      c.AIRetryMaxJitter,
		AttemptTimeout: c.AIRequestTimeout,
	}
}
