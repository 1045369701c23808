package gemini

import (
	"bytes"
	"errors"
	"strings"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

// Request is the generateContent request body.
type Request struct {
	Contents         []Content              `json:"contents"`
	GenerationConfig GenerationConfig       `json:"generationConfig"`
	SafetySettings   []domain.SafetySetting `json:"safetySettings,omitempty"`
}

// Content is one message of the request, or the content of a candidate.
// Some API versions put text directly on the content instead of in parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Part is a text or inline binary fragment.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64 encoded media.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerationConfig holds sampling parameters.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// Response is the generateContent response body.
type Response struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
	Error         *APIError      `json:"error,omitempty"`
}

// Candidate is one generated alternative.
type Candidate struct {
	Content      *Content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
}

// UsageMetadata reports token accounting.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// APIError is the provider error object.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

var (
	errNotObject     = errors.New("response is not a JSON object")
	errNoCandidates  = errors.New("response has no candidates")
	errNoContent     = errors.New("first candidate has no content")
	errEmptyText     = errors.New("first candidate has no text")
	errProviderError = errors.New("response carries an error object")
)

// isObject reports whether body is a JSON object.
func isObject(body []byte) bool {
	b := bytes.TrimSpace(body)
	return len(b) > 0 && b[0] == '{'
}

// Validate checks the shape of a decoded response. It accepts both the nested
// content.parts[0].text and the flat content.text shapes.
func Validate(r *Response) error {
	if r == nil {
		return errNotObject
	}
	if r.Error != nil {
		msg := strings.TrimSpace(r.Error.Message)
		if msg == "" {
			return errProviderError
		}
		return errors.Join(errProviderError, errors.New(msg))
	}
	if len(r.Candidates) == 0 {
		return errNoCandidates
	}
	c := r.Candidates[0].Content
	if c == nil {
		return errNoContent
	}
	if len(c.Parts) > 0 && strings.TrimSpace(c.Parts[0].Text) != "" {
		return nil
	}
	if strings.TrimSpace(c.Text) != "" {
		return nil
	}
	return errEmptyText
}

// ExtractText returns the generated text of the first candidate, or "".
func ExtractText(r *Response) string {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return ""
	}
	c := r.Candidates[0].Content
	if len(c.Parts) > 0 && strings.TrimSpace(c.Parts[0].Text) != "" {
		return c.Parts[0].Text
	}
	return c.Text
}

// ExtractUsage returns the token counters and whether the provider reported them.
func ExtractUsage(r *Response) (domain.Usage, bool) {
	if r == nil || r.UsageMetadata == nil {
		return domain.Usage{}, false
	}
	u := r.UsageMetadata
	total := u.TotalTokenCount
	if total == 0 {
		total = u.PromptTokenCount + u.CandidatesTokenCount
	}
	return domain.Usage{
		PromptUnits: u.PromptTokenCount,
		OutputUnits: u.CandidatesTokenCount,
		TotalUnits:  total,
	}, true
}

// FinishReason returns the finish reason of the first candidate.
func FinishReason(r *Response) string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}
