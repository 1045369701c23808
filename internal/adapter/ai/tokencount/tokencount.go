// Package tokencount estimates token usage when the provider omits it.
//
// Gemini models do not ship a public tokenizer, so cl100k_base from
// tiktoken-go is used as an approximation. The BPE ranks are loaded from the
// embedded offline loader so estimation never touches the network.
package tokencount

import (
	"sync"

	"log/slog"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

const defaultEncoding = "cl100k_base"

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Counter provides thread-safe token counting.
type Counter struct {
	mu       sync.Mutex
	enc      *tiktoken.Tiktoken
	loadErr  error
	attempts int
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter { return &Counter{} }

// DefaultCounter is a global token counter instance.
var DefaultCounter = NewCounter()

func (c *Counter) encoding() (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc != nil {
		return c.enc, nil
	}
	// a failed load is retried at most once more
	if c.attempts >= 2 {
		return nil, c.loadErr
	}
	c.attempts++
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		c.loadErr = err
		return nil, err
	}
	c.enc = enc
	return enc, nil
}

// CountTokens counts the tokens of text. When the encoding is unavailable it
// falls back to roughly four characters per token.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := c.encoding()
	if err != nil {
		slog.Debug("token encoding unavailable, using estimate", slog.Any("error", err))
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// Estimate builds an estimated usage record for a prompt/completion pair.
func (c *Counter) Estimate(prompt, completion string) domain.Usage {
	p := c.CountTokens(prompt)
	o := c.CountTokens(completion)
	return domain.Usage{
		PromptUnits: p,
		OutputUnits: o,
		TotalUnits:  p + o,
		Estimated:   true,
	}
}

// EstimateDefault uses the default counter.
func EstimateDefault(prompt, completion string) domain.Usage {
	return DefaultCounter.Estimate(prompt, completion)
}
