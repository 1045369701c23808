package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

var (
	errInvalidArgument = errors.New("invalid argument")
	errBodyTooLarge    = errors.New("request body too large")
)

const maxAdminBody = 16 << 10

type imageRequest struct {
	Data     string `json:"data" validate:"required,base64"`
	MIMEType string `json:"mime_type" validate:"omitempty,max=100"`
}

type chatRequest struct {
	// Message is checked by the assistant so empty input surfaces as
	// InputRejected rather than a schema error.
	Message         string        `json:"message"`
	ConversationID  string        `json:"conversation_id" validate:"omitempty,max=64"`
	Mode            string        `json:"mode" validate:"omitempty,exam_mode"`
	Title           string        `json:"title" validate:"max=200"`
	UserID          string        `json:"user_id" validate:"max=128"`
	Temperature     *float64      `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxOutputTokens int           `json:"max_output_tokens" validate:"omitempty,min=1,max=8192"`
	Image           *imageRequest `json:"image"`
	DisableFallback bool          `json:"disable_fallback"`
}

type modeRequest struct {
	Mode string `json:"mode" validate:"required,exam_mode"`
}

type invalidateRequest struct {
	Category       string     `json:"category" validate:"omitempty,cache_category"`
	Mode           string     `json:"mode" validate:"omitempty,exam_mode"`
	PromptContains string     `json:"prompt_contains" validate:"max=500"`
	CreatedBefore  *time.Time `json:"created_before"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("exam_mode", func(fl validator.FieldLevel) bool {
			_, err := domain.ParseMode(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("cache_category", func(fl validator.FieldLevel) bool {
			_, err := domain.ParseCategory(fl.Field().String())
			return err == nil
		})
		vld = v
	})
	return vld
}

// decodeJSON reads one JSON object of at most maxBytes into v and validates
// it. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: invalid json: %v", errInvalidArgument, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after json object", errInvalidArgument)
	}
	return validate(v)
}

// validate runs struct validation and returns per-field tags. A failing mode
// field is reported as an invalid mode.
func validate(v any) (map[string]string, error) {
	err := getValidator().Struct(v)
	if err == nil {
		return nil, nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil, fmt.Errorf("%w: %v", errInvalidArgument, err)
	}
	details := make(map[string]string, len(ve))
	badMode := false
	for _, fe := range ve {
		details[fe.Field()] = fe.Tag()
		if fe.Tag() == "exam_mode" {
			badMode = true
		}
	}
	if badMode {
		return details, domain.NewError(domain.KindInvalidMode, "httpserver.validate", fmt.Errorf("mode must be one of %v", domain.AllModes))
	}
	return details, fmt.Errorf("%w: validation failed", errInvalidArgument)
}
