package domain

import (
	"fmt"
	"time"
)

// ModeID identifies an assistant behavior profile.
type ModeID string

const (
	ModeGeneral ModeID = "general"
	ModeMCQ     ModeID = "mcq"
	ModeEssay   ModeID = "essay"
	ModeNews    ModeID = "news"
)

// AllModes lists the closed set of modes in display order.
var AllModes = []ModeID{ModeGeneral, ModeMCQ, ModeEssay, ModeNews}

// ParseMode validates a mode identifier.
func ParseMode(s string) (ModeID, error) {
	for _, m := range AllModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", NewError(KindInvalidMode, "domain.ParseMode", fmt.Errorf("unknown mode %q", s))
}

// Category is a cache partition with its own freshness policy.
type Category string

const (
	CategoryCommonQueries       Category = "common_queries"
	CategoryMCQExplanations     Category = "mcq_explanations"
	CategoryNewsSummaries       Category = "news_summaries"
	CategoryEssayFeedback       Category = "essay_feedback"
	CategoryConversationContext Category = "conversation_context"
)

// CategoryPolicy is the TTL and eviction priority of a category.
// Priority 1 is kept longest under capacity pressure.
type CategoryPolicy struct {
	TTL      time.Duration
	Priority int
}

// CategoryPolicies is the exhaustive default policy table.
var CategoryPolicies = map[Category]CategoryPolicy{
	CategoryCommonQueries:       {TTL: 24 * time.Hour, Priority: 1},
	CategoryMCQExplanations:     {TTL: 7 * 24 * time.Hour, Priority: 2},
	CategoryNewsSummaries:       {TTL: time.Hour, Priority: 3},
	CategoryEssayFeedback:       {TTL: 12 * time.Hour, Priority: 2},
	CategoryConversationContext: {TTL: 30 * time.Minute, Priority: 1},
}

// ParseCategory validates a category identifier.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := CategoryPolicies[c]; !ok {
		return "", fmt.Errorf("op=domain.ParseCategory: unknown category %q", s)
	}
	return c, nil
}
