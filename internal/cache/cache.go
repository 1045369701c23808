package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/clock"
	"github.com/sarangn19/exam-assistant/internal/domain"
	"github.com/sarangn19/exam-assistant/pkg/textx"
)

// DefaultCapacity bounds each namespace when Options.Capacity is unset.
const DefaultCapacity = 1000

const (
	respPrefix     = "cache:resp:"
	ctxPrefix      = "cache:ctx:"
	lastCleanupKey = "cache:meta:last_cleanup"

	nsResponses = "responses"
	nsContexts  = "contexts"
)

// Options configures a Cache.
type Options struct {
	Capacity     int
	TTLOverrides map[domain.Category]time.Duration
	// Store persists entries across restarts and processes. Optional.
	Store domain.KVStore
}

// Stats are running counters plus current sizes.
type Stats struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Evictions     int64     `json:"evictions"`
	TotalLookups  int64     `json:"total_lookups"`
	ContextHits   int64     `json:"context_hits"`
	ContextMisses int64     `json:"context_misses"`
	Entries       int       `json:"entries"`
	Contexts      int       `json:"contexts"`
	HitRate       float64   `json:"hit_rate"`
	LastCleanup   time.Time `json:"last_cleanup"`
}

// SweepResult counts what a sweep removed.
type SweepResult struct {
	Responses int       `json:"responses"`
	Contexts  int       `json:"contexts"`
	At        time.Time `json:"at"`
}

// LoadResult counts what Load restored and dropped.
type LoadResult struct {
	Responses int
	Contexts  int
	Dropped   int
}

// Cache is the process-wide response cache. A single mutex guards both
// namespaces and is never held across KV I/O.
type Cache struct {
	clk      clock.Clock
	kv       domain.KVStore
	capacity int
	policies map[domain.Category]domain.CategoryPolicy

	mu          sync.Mutex
	entries     map[string]*Entry
	contexts    map[string]*contextEntry
	stats       Stats
	lastCleanup time.Time
}

// New constructs a cache. TTL overrides replace the default TTL of their
// category; priorities are fixed.
func New(clk clock.Clock, opts Options) *Cache {
	if clk == nil {
		clk = clock.System()
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	policies := make(map[domain.Category]domain.CategoryPolicy, len(domain.CategoryPolicies))
	for cat, p := range domain.CategoryPolicies {
		if ttl, ok := opts.TTLOverrides[cat]; ok && ttl > 0 {
			p.TTL = ttl
		}
		policies[cat] = p
	}
	return &Cache{
		clk:      clk,
		kv:       opts.Store,
		capacity: opts.Capacity,
		policies: policies,
		entries:  make(map[string]*Entry),
		contexts: make(map[string]*contextEntry),
	}
}

// Policy returns the effective policy for a category.
func (c *Cache) Policy(cat domain.Category) (domain.CategoryPolicy, bool) {
	p, ok := c.policies[cat]
	return p, ok
}

// Lookup returns the live entry for fp. Expired entries are purged on
// discovery. On an in-memory miss the KV store is consulted so entries
// written by other processes are served too.
func (c *Cache) Lookup(ctx context.Context, fp string) (Hit, bool) {
	now := c.clk.Now()
	c.mu.Lock()
	c.stats.TotalLookups++
	if e, ok := c.entries[fp]; ok {
		if now.Before(e.ExpiresAt) {
			hit := c.touchLocked(e, now)
			c.mu.Unlock()
			observability.RecordCacheLookup(nsResponses, true)
			return hit, true
		}
		delete(c.entries, fp)
		c.stats.Misses++
		c.gaugeLocked()
		c.mu.Unlock()
		observability.CacheExpiredTotal.WithLabelValues(nsResponses).Inc()
		observability.RecordCacheLookup(nsResponses, false)
		c.kvDelete(ctx, respPrefix+fp)
		return Hit{}, false
	}
	c.mu.Unlock()

	loaded, found := readEntry[Entry](ctx, c, respPrefix+fp, now)

	c.mu.Lock()
	if !found {
		c.stats.Misses++
		c.mu.Unlock()
		observability.RecordCacheLookup(nsResponses, false)
		return Hit{}, false
	}
	var stale []string
	cur, exists := c.entries[fp]
	if !exists || !now.Before(cur.ExpiresAt) {
		if !exists {
			stale = c.makeRoomLocked(now)
		}
		c.entries[fp] = loaded
		cur = loaded
	}
	hit := c.touchLocked(cur, now)
	c.gaugeLocked()
	c.mu.Unlock()

	c.kvDeleteAll(ctx, stale)
	observability.RecordCacheLookup(nsResponses, true)
	return hit, true
}

func (c *Cache) touchLocked(e *Entry, now time.Time) Hit {
	e.LastAccessedAt = now
	e.AccessCount++
	c.stats.Hits++
	return Hit{Entry: *e, FromCache: true}
}

// Store inserts a response under fp, evicting first when the namespace is at
// capacity. The entry is written through to the KV store; persistence
// failures are logged only.
func (c *Cache) Store(ctx context.Context, fp string, category domain.Category, mode domain.ModeID, prompt string, payload domain.Envelope) (Entry, error) {
	pol, ok := c.policies[category]
	if !ok {
		return Entry{}, fmt.Errorf("op=cache.Store: unknown category %q", category)
	}
	now := c.clk.Now()
	norm := textx.Normalize(prompt)
	e := &Entry{
		Fingerprint:    fp,
		Category:       category,
		Priority:       pol.Priority,
		Mode:           mode,
		Prompt:         norm,
		CreatedAt:      now,
		ExpiresAt:      now.Add(pol.TTL),
		LastAccessedAt: now,
		Payload:        payload,
		SizeBytes:      len(payload.Text) + len(norm),
	}

	c.mu.Lock()
	var stale []string
	if _, exists := c.entries[fp]; !exists {
		stale = c.makeRoomLocked(now)
	}
	c.entries[fp] = e
	out := *e
	c.gaugeLocked()
	c.mu.Unlock()

	c.kvDeleteAll(ctx, stale)
	c.kvPut(ctx, respPrefix+fp, out)
	return out, nil
}

// CacheContext stores the recent history of a conversation.
func (c *Cache) CacheContext(ctx context.Context, conversationID string, snap ContextSnapshot) ContextSnapshot {
	pol := c.policies[domain.CategoryConversationContext]
	now := c.clk.Now()
	snap.ConversationID = conversationID
	snap.CachedAt = now
	snap.RecentHistory = append([]domain.Message(nil), snap.RecentHistory...)
	e := &contextEntry{Snapshot: snap, ExpiresAt: now.Add(pol.TTL), LastAccessedAt: now}

	c.mu.Lock()
	var stale []string
	if _, exists := c.contexts[conversationID]; !exists {
		stale = c.makeContextRoomLocked(now)
	}
	c.contexts[conversationID] = e
	c.gaugeLocked()
	c.mu.Unlock()

	c.kvDeleteAll(ctx, stale)
	c.kvPut(ctx, ctxPrefix+conversationID, e)
	return snap
}

// GetContext returns the cached history of a conversation, with the same
// expiry and read-through rules as Lookup.
func (c *Cache) GetContext(ctx context.Context, conversationID string) (ContextSnapshot, bool) {
	now := c.clk.Now()
	c.mu.Lock()
	if e, ok := c.contexts[conversationID]; ok {
		if now.Before(e.ExpiresAt) {
			snap := c.touchContextLocked(e, now)
			c.mu.Unlock()
			observability.RecordCacheLookup(nsContexts, true)
			return snap, true
		}
		delete(c.contexts, conversationID)
		c.stats.ContextMisses++
		c.gaugeLocked()
		c.mu.Unlock()
		observability.CacheExpiredTotal.WithLabelValues(nsContexts).Inc()
		observability.RecordCacheLookup(nsContexts, false)
		c.kvDelete(ctx, ctxPrefix+conversationID)
		return ContextSnapshot{}, false
	}
	c.mu.Unlock()

	loaded, found := readEntry[contextEntry](ctx, c, ctxPrefix+conversationID, now)

	c.mu.Lock()
	if !found {
		c.stats.ContextMisses++
		c.mu.Unlock()
		observability.RecordCacheLookup(nsContexts, false)
		return ContextSnapshot{}, false
	}
	var stale []string
	cur, exists := c.contexts[conversationID]
	if !exists || !now.Before(cur.ExpiresAt) {
		if !exists {
			stale = c.makeContextRoomLocked(now)
		}
		c.contexts[conversationID] = loaded
		cur = loaded
	}
	snap := c.touchContextLocked(cur, now)
	c.gaugeLocked()
	c.mu.Unlock()

	c.kvDeleteAll(ctx, stale)
	observability.RecordCacheLookup(nsContexts, true)
	return snap, true
}

func (c *Cache) touchContextLocked(e *contextEntry, now time.Time) ContextSnapshot {
	e.LastAccessedAt = now
	e.AccessCount++
	c.stats.ContextHits++
	snap := e.Snapshot
	snap.RecentHistory = append([]domain.Message(nil), e.Snapshot.RecentHistory...)
	return snap
}

// Invalidate removes every entry matching any set criterion, in memory and
// in the KV store, and returns how many were removed. Empty criteria remove
// nothing.
func (c *Cache) Invalidate(ctx context.Context, cr Criteria) int {
	if cr.IsEmpty() {
		return 0
	}
	c.mu.Lock()
	var removed []string
	for k, e := range c.entries {
		if cr.matches(e) {
			delete(c.entries, k)
			removed = append(removed, respPrefix+k)
		}
	}
	for k, e := range c.contexts {
		if cr.matchesContext(e) {
			delete(c.contexts, k)
			removed = append(removed, ctxPrefix+k)
		}
	}
	c.gaugeLocked()
	c.mu.Unlock()

	c.kvDeleteAll(ctx, removed)
	n := len(removed)
	n += scanStored[Entry](ctx, c, respPrefix, c.residentEntry, cr.matches)
	n += scanStored[contextEntry](ctx, c, ctxPrefix, c.residentContext, cr.matchesContext)

	observability.CacheInvalidatedTotal.Add(float64(n))
	observability.LoggerFromContext(ctx).Info("cache invalidated",
		slog.String("category", string(cr.Category)),
		slog.String("mode", string(cr.Mode)),
		slog.Int("removed", n))
	return n
}

// Sweep purges every expired entry from both namespaces, including entries
// that only exist in the KV store, and records the cleanup time.
func (c *Cache) Sweep(ctx context.Context) SweepResult {
	now := c.clk.Now()
	res := SweepResult{At: now}

	c.mu.Lock()
	var removed []string
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
			removed = append(removed, respPrefix+k)
			res.Responses++
		}
	}
	for k, e := range c.contexts {
		if !now.Before(e.ExpiresAt) {
			delete(c.contexts, k)
			removed = append(removed, ctxPrefix+k)
			res.Contexts++
		}
	}
	c.lastCleanup = now
	c.gaugeLocked()
	c.mu.Unlock()

	c.kvDeleteAll(ctx, removed)
	res.Responses += scanStored[Entry](ctx, c, respPrefix, c.residentEntry, func(e *Entry) bool {
		return !now.Before(e.ExpiresAt)
	})
	res.Contexts += scanStored[contextEntry](ctx, c, ctxPrefix, c.residentContext, func(e *contextEntry) bool {
		return !now.Before(e.ExpiresAt)
	})
	c.kvPut(ctx, lastCleanupKey, now)

	observability.CacheExpiredTotal.WithLabelValues(nsResponses).Add(float64(res.Responses))
	observability.CacheExpiredTotal.WithLabelValues(nsContexts).Add(float64(res.Contexts))
	observability.LoggerFromContext(ctx).Info("cache sweep completed",
		slog.Int("responses_removed", res.Responses),
		slog.Int("contexts_removed", res.Contexts))
	return res
}

// Load restores both namespaces from the KV store, dropping expired and
// undecodable entries. It is meant to run once at startup.
func (c *Cache) Load(ctx context.Context) (LoadResult, error) {
	var res LoadResult
	if c.kv == nil {
		return res, nil
	}
	now := c.clk.Now()
	entries, dropped, err := loadStored[Entry](ctx, c, respPrefix, now)
	if err != nil {
		return res, fmt.Errorf("op=cache.Load: %w", err)
	}
	res.Dropped += dropped
	contexts, dropped, err := loadStored[contextEntry](ctx, c, ctxPrefix, now)
	if err != nil {
		return res, fmt.Errorf("op=cache.Load: %w", err)
	}
	res.Dropped += dropped

	var marker time.Time
	if raw, ok, err := c.kv.Get(ctx, lastCleanupKey); err == nil && ok {
		_ = json.Unmarshal(raw, &marker)
	}

	c.mu.Lock()
	for k, e := range entries {
		if _, ok := c.entries[k]; !ok {
			c.entries[k] = e
			res.Responses++
		}
	}
	for k, e := range contexts {
		if _, ok := c.contexts[k]; !ok {
			c.contexts[k] = e
			res.Contexts++
		}
	}
	var stale []string
	if over := len(c.entries) - c.capacity; over > 0 {
		victims := evict(c.entries, over)
		c.stats.Evictions += int64(len(victims))
		res.Responses -= len(victims)
		stale = append(stale, prefixed(respPrefix, victims)...)
	}
	if over := len(c.contexts) - c.capacity; over > 0 {
		victims := evict(c.contexts, over)
		c.stats.Evictions += int64(len(victims))
		res.Contexts -= len(victims)
		stale = append(stale, prefixed(ctxPrefix, victims)...)
	}
	if marker.After(c.lastCleanup) {
		c.lastCleanup = marker
	}
	c.gaugeLocked()
	c.mu.Unlock()

	c.kvDeleteAll(ctx, stale)
	observability.LoggerFromContext(ctx).Info("cache restored",
		slog.Int("responses", res.Responses),
		slog.Int("contexts", res.Contexts),
		slog.Int("dropped", res.Dropped))
	return res, nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.Contexts = len(c.contexts)
	s.LastCleanup = c.lastCleanup
	if s.TotalLookups > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalLookups)
	}
	return s
}

func (c *Cache) residentEntry(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

func (c *Cache) residentContext(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.contexts[id]
	return ok
}

func (c *Cache) makeRoomLocked(now time.Time) []string {
	expired, evicted := makeRoom(c.entries, c.capacity, now)
	c.recordRemovalsLocked(nsResponses, expired, evicted)
	return append(prefixed(respPrefix, expired), prefixed(respPrefix, evicted)...)
}

func (c *Cache) makeContextRoomLocked(now time.Time) []string {
	expired, evicted := makeRoom(c.contexts, c.capacity, now)
	c.recordRemovalsLocked(nsContexts, expired, evicted)
	return append(prefixed(ctxPrefix, expired), prefixed(ctxPrefix, evicted)...)
}

func (c *Cache) recordRemovalsLocked(ns string, expired, evicted []string) {
	if len(expired) > 0 {
		observability.CacheExpiredTotal.WithLabelValues(ns).Add(float64(len(expired)))
	}
	if len(evicted) > 0 {
		c.stats.Evictions += int64(len(evicted))
		observability.CacheEvictionsTotal.Add(float64(len(evicted)))
	}
}

func (c *Cache) gaugeLocked() {
	observability.CacheEntries.WithLabelValues(nsResponses).Set(float64(len(c.entries)))
	observability.CacheEntries.WithLabelValues(nsContexts).Set(float64(len(c.contexts)))
}

// makeRoom purges expired entries once m is at capacity and, if that was not
// enough, evicts max(1, capacity/10) of the lowest ranked.
func makeRoom[T ranked](m map[string]T, capacity int, now time.Time) (expired, evicted []string) {
	if len(m) < capacity {
		return nil, nil
	}
	for k, v := range m {
		if !now.Before(v.expiry()) {
			delete(m, k)
			expired = append(expired, k)
		}
	}
	if len(m) < capacity {
		return expired, nil
	}
	return expired, evict(m, max(1, capacity/10))
}

// evict removes n entries: highest priority number first, then least
// recently accessed.
func evict[T ranked](m map[string]T, n int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, li := m[keys[i]].rank()
		pj, lj := m[keys[j]].rank()
		if pi != pj {
			return pi > pj
		}
		if !li.Equal(lj) {
			return li.Before(lj)
		}
		return keys[i] < keys[j]
	})
	if n > len(keys) {
		n = len(keys)
	}
	victims := keys[:n]
	for _, k := range victims {
		delete(m, k)
	}
	return victims
}

func prefixed(prefix string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, prefix+id)
	}
	return out
}

// readEntry fetches and decodes one stored value. Undecodable or expired
// values are deleted and reported as absent.
func readEntry[T any, PT interface {
	*T
	ranked
}](ctx context.Context, c *Cache, key string, now time.Time) (PT, bool) {
	if c.kv == nil {
		return nil, false
	}
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("cache read-through failed", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	v := PT(new(T))
	if err := json.Unmarshal(raw, v); err != nil || !v.valid() {
		c.kvDelete(ctx, key)
		return nil, false
	}
	if !now.Before(v.expiry()) {
		c.kvDelete(ctx, key)
		return nil, false
	}
	return v, true
}

// scanStored deletes stored values under prefix that are not resident in
// memory and satisfy drop. Corrupt values are deleted without being counted.
func scanStored[T any, PT interface {
	*T
	ranked
}](ctx context.Context, c *Cache, prefix string, resident func(id string) bool, drop func(PT) bool) int {
	if c.kv == nil {
		return 0
	}
	keys, err := c.kv.Keys(ctx, prefix)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("cache key scan failed", slog.String("prefix", prefix), slog.Any("error", err))
		return 0
	}
	n := 0
	for _, key := range keys {
		if resident(strings.TrimPrefix(key, prefix)) {
			continue
		}
		raw, ok, err := c.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		v := PT(new(T))
		if err := json.Unmarshal(raw, v); err != nil || !v.valid() {
			c.kvDelete(ctx, key)
			continue
		}
		if drop(v) {
			c.kvDelete(ctx, key)
			n++
		}
	}
	return n
}

func loadStored[T any, PT interface {
	*T
	ranked
}](ctx context.Context, c *Cache, prefix string, now time.Time) (map[string]PT, int, error) {
	keys, err := c.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, 0, err
	}
	out := make(map[string]PT, len(keys))
	dropped := 0
	for _, key := range keys {
		v, ok := readEntry[T, PT](ctx, c, key, now)
		if !ok {
			dropped++
			continue
		}
		out[strings.TrimPrefix(key, prefix)] = v
	}
	return out, dropped, nil
}

func (c *Cache) kvPut(ctx context.Context, key string, v any) {
	if c.kv == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("cache encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.kv.Set(ctx, key, raw); err != nil {
		observability.LoggerFromContext(ctx).Warn("cache persist failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *Cache) kvDelete(ctx context.Context, key string) {
	if c.kv == nil {
		return
	}
	if err := c.kv.Delete(ctx, key); err != nil {
		observability.LoggerFromContext(ctx).Warn("cache delete failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *Cache) kvDeleteAll(ctx context.Context, keys []string) {
	for _, k := range keys {
		c.kvDelete(ctx, k)
	}
}
