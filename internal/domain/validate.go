package domain

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxPromptRunes     = 2000
	MaxReferenceImages = 10

	DefaultMaxPixels        = 4096 * 4096
	DefaultMaxImagesPerJob  = 4
	defaultDimensionOnEmpty = 1024
)

// Limits bounds what a GenerationRequest may ask for.
type Limits struct {
	MaxPixels int
	MaxImages int
}

// RequestValidator normalizes and validates GenerationRequests.
type RequestValidator struct {
	validate *validator.Validate
	limits   Limits
}

// NewRequestValidator creates a validator; zero limits fall back to defaults.
func NewRequestValidator(limits Limits) *RequestValidator {
	if limits.MaxPixels <= 0 {
		limits.MaxPixels = DefaultMaxPixels
	}
	if limits.MaxImages <= 0 {
		limits.MaxImages = DefaultMaxImagesPerJob
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validate: validate, limits: limits}
}

// Normalize trims and NFC-normalizes the prompt, fills defaults and orders
// reference images by priority, re-numbering priorities to their position.
func (v *RequestValidator) Normalize(req GenerationRequest) GenerationRequest {
	out := req.Clone()
	out.Prompt = norm.NFC.String(strings.TrimSpace(out.Prompt))
	out.Mode = NormalizeMode(Mode(strings.ToLower(strings.TrimSpace(string(out.Mode)))))
	if out.Count == 0 {
		out.Count = 1
	}
	if out.Width == 0 && out.Height == 0 {
		out.Width, out.Height = defaultDimensionOnEmpty, defaultDimensionOnEmpty
	}
	if len(out.References) > 0 {
		sort.SliceStable(out.References, func(i, j int) bool {
			return out.References[i].Priority < out.References[j].Priority
		})
		for i := range out.References {
			out.References[i].URL = strings.TrimSpace(out.References[i].URL)
			out.References[i].Priority = i
		}
	}
	return out
}

// Validate checks a normalized request.
func (v *RequestValidator) Validate(req GenerationRequest) error {
	if err := v.validate.Struct(req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return &ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
			}
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if n := utf8.RuneCountInString(req.Prompt); n > MaxPromptRunes {
		return &ValidationError{Field: "prompt", Message: fmt.Sprintf("must be at most %d characters, got %d", MaxPromptRunes, n)}
	}
	if !req.FitsPixels(v.limits.MaxPixels) {
		return &ValidationError{Field: "width", Message: fmt.Sprintf("resolution %d*%d exceeds %d pixels", req.Width, req.Height, v.limits.MaxPixels)}
	}
	if req.Count > v.limits.MaxImages {
		return &ValidationError{Field: "count", Message: fmt.Sprintf("must be at most %d", v.limits.MaxImages)}
	}
	for i, ref := range req.References {
		if !isReferenceURL(ref.URL) {
			return &ValidationError{Field: fmt.Sprintf("references[%d].url", i), Message: "must be an http(s) URL or data URI"}
		}
	}
	return nil
}

// Prepare normalizes then validates.
func (v *RequestValidator) Prepare(req GenerationRequest) (GenerationRequest, error) {
	out := v.Normalize(req)
	if err := v.Validate(out); err != nil {
		return GenerationRequest{}, err
	}
	return out, nil
}

func isReferenceURL(raw string) bool {
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		return len(raw) > len("https://")
	case strings.HasPrefix(lower, "data:image/"):
		return strings.Contains(raw, ",")
	default:
		return false
	}
}
