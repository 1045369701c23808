package ai

import (
	"crypto/sha1"
	"encoding/binary"
	"strings"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

// FallbackModel is reported as the model of every degraded reply.
const FallbackModel = "offline-fallback"

// FallbackPrefix labels degraded replies so clients can tell them apart.
const FallbackPrefix = "[Offline answer]"

var modeGuidance = map[domain.ModeID]string{
	domain.ModeGeneral: "Try rephrasing the question in a minute, or look it up in your notes and standard references.",
	domain.ModeMCQ:     "Eliminate clearly wrong options first, then compare the remaining ones against the exact wording of the question.",
	domain.ModeEssay:   "Outline your introduction, two or three arguments with examples and a balanced conclusion, then retry for detailed feedback.",
	domain.ModeNews:    "Check an official source such as the press information bureau for the latest update and retry later for a summary.",
}

var studyTips = []string{
	"Revise this topic again within 24 hours to lock it into memory.",
	"Write a three line summary of the topic from memory before checking notes.",
	"Link the topic to a recent current affairs event to make it stick.",
	"Make one flashcard for the key fact in this question.",
	"Explain the concept aloud as if teaching a friend.",
}

// FallbackResponder returns a canned, clearly labeled reply when the provider
// cannot be reached. Output is deterministic for a given mode and text.
type FallbackResponder struct{}

// NewFallbackResponder constructs a fallback responder.
func NewFallbackResponder() *FallbackResponder { return &FallbackResponder{} }

// Respond builds the degraded envelope for a failed request.
func (f *FallbackResponder) Respond(mode domain.ModeID, userText string, cause error) domain.Envelope {
	guidance, ok := modeGuidance[mode]
	if !ok {
		guidance = modeGuidance[domain.ModeGeneral]
	}
	reason := "the AI service is unavailable"
	switch domain.KindOf(cause) {
	case domain.KindRateLimit:
		reason = "the AI service is busy"
	case domain.KindTimeout, domain.KindNetwork:
		reason = "the AI service could not be reached in time"
	case domain.KindAuth:
		reason = "the AI service is not configured"
	case domain.KindValidation:
		reason = "the AI service returned an unreadable answer"
	}
	var b strings.Builder
	b.WriteString(FallbackPrefix)
	b.WriteString(" A live answer is not available because ")
	b.WriteString(reason)
	b.WriteString(". ")
	b.WriteString(guidance)
	b.WriteString(" Tip: ")
	b.WriteString(studyTips[pick(userText, len(studyTips))])
	return domain.Envelope{
		Text:         b.String(),
		Model:        FallbackModel,
		FinishReason: "FALLBACK",
	}
}

func pick(s string, n int) int {
	h := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(s))))
	return int(binary.BigEndian.Uint32(h[:4]) % uint32(n))
}
