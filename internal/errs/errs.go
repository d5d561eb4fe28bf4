// Package errs defines the error taxonomy shared by both pipeline stages.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry and reporting decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputValidation
	KindUpstream
	KindBudgetExceeded
	KindMalformedOutput
	KindPartialAsset
	KindNotFound
	KindEmptySynthesis
)

func (k Kind) String() string {
	switch k {
	case KindInputValidation:
		return "input validation"
	case KindUpstream:
		return "upstream service"
	case KindBudgetExceeded:
		return "budget exceeded"
	case KindMalformedOutput:
		return "malformed output"
	case KindPartialAsset:
		return "partial asset failure"
	case KindNotFound:
		return "not found"
	case KindEmptySynthesis:
		return "empty synthesis"
	default:
		return "unknown"
	}
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat     = errors.New("unsupported format")
	ErrOversizeDocument      = errors.New("document exceeds size limit")
	ErrInvalidInput          = errors.New("invalid input")
	ErrContextNotFound       = errors.New("client context not found")
	ErrRequestNotFound       = errors.New("carousel request not found")
	ErrBudgetExceeded        = errors.New("run budget exceeded")
	ErrMalformedSlideOutput  = errors.New("model output could not be parsed into slides")
	ErrEmptySynthesis        = errors.New("synthesis returned no usable content")
	ErrGenerationService     = errors.New("text generation failed")
	ErrImageGenerationFailed = errors.New("image generation failed")
	ErrPublishFailed         = errors.New("asset publishing failed")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrTimeout               = errors.New("operation timed out")
	ErrRateLimit             = errors.New("rate limit exceeded")
	ErrUnavailable           = errors.New("service unavailable")
)

var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnsupportedFormat, KindInputValidation},
	{ErrOversizeDocument, KindInputValidation},
	{ErrInvalidInput, KindInputValidation},
	{ErrInvalidTransition, KindInputValidation},
	{ErrContextNotFound, KindNotFound},
	{ErrRequestNotFound, KindNotFound},
	{ErrBudgetExceeded, KindBudgetExceeded},
	{ErrMalformedSlideOutput, KindMalformedOutput},
	{ErrEmptySynthesis, KindEmptySynthesis},
	{ErrPublishFailed, KindPartialAsset},
	{ErrGenerationService, KindUpstream},
	{ErrImageGenerationFailed, KindUpstream},
	{ErrTimeout, KindUpstream},
	{ErrRateLimit, KindUpstream},
	{ErrUnavailable, KindUpstream},
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// KindOf returns the outermost Kind attached to err, falling back to the
// sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return KindUpstream
	}
	return KindUnknown
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable) {
		return true
	}
	return KindOf(err) == KindUpstream
}

// Reason renders err as the human-readable cause stored on a failed record.
// Budget trips are worded distinctly from service outages.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindBudgetExceeded:
		return "too expensive: " + err.Error()
	case KindUpstream:
		return "service unavailable: " + err.Error()
	case KindInputValidation:
		return "invalid input: " + err.Error()
	case KindMalformedOutput:
		return "unusable model output: " + err.Error()
	case KindPartialAsset:
		return "publishing incomplete: " + err.Error()
	case KindNotFound:
		return "missing data: " + err.Error()
	case KindEmptySynthesis:
		return "empty model output: " + err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out: " + err.Error()
	}
	return err.Error()
}
