// Package cache implements the response cache: category-scoped TTLs,
// priority eviction, a separate conversation-context namespace and
// persistence through a domain.KVStore.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sarangn19/exam-assistant/internal/domain"
	"github.com/sarangn19/exam-assistant/pkg/textx"
)

// Fingerprint returns the cache key for a request. Text is normalized so
// calls differing only in case or whitespace share a key.
func Fingerprint(mode domain.ModeID, text string, temperature float64, maxOutputTokens int) string {
	raw := fmt.Sprintf("%s|%s|%.2f|%d", mode, textx.Normalize(text), temperature, maxOutputTokens)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
