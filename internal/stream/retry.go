package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrorKind classifies a stream error for retry/reporting decisions,
// grounded on the reference agent loop's LLMErrorKind taxonomy.
type ErrorKind int

const (
	ErrKindTransient ErrorKind = iota
	ErrKindAuth
	ErrKindBadRequest
	ErrKindContentFilter
	ErrKindBudget
	ErrKindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransient:
		return "transient"
	case ErrKindAuth:
		return "auth"
	case ErrKindBadRequest:
		return "bad_request"
	case ErrKindContentFilter:
		return "content_filter"
	case ErrKindBudget:
		return "budget"
	case ErrKindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether errors of this kind should be retried.
func (k ErrorKind) IsRetryable() bool { return k == ErrKindTransient }

// StreamError wraps an underlying error with retry-relevant classification.
type StreamError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Provider   string
	Model      string
	Cause      error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *StreamError) Unwrap() error { return e.Cause }

func (e *StreamError) IsRetryable() bool { return e.Kind.IsRetryable() }

// ClassifyError pattern-matches a raw error into a StreamError, the way
// the reference gateway's ClassifyError inspects provider error strings
// since most HTTP client libraries don't expose structured codes.
func ClassifyError(err error, provider, model string) *StreamError {
	if err == nil {
		return nil
	}
	var se *StreamError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &StreamError{Kind: ErrKindCancelled, Message: "request cancelled", Provider: provider, Model: model, Cause: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		return &StreamError{Kind: ErrKindAuth, Message: "authentication failed", Provider: provider, Model: model, Cause: err}
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid") || strings.Contains(msg, "model not found"):
		return &StreamError{Kind: ErrKindBadRequest, Message: "bad request", Provider: provider, Model: model, Cause: err}
	case strings.Contains(msg, "content policy") || strings.Contains(msg, "safety"):
		return &StreamError{Kind: ErrKindContentFilter, Message: "blocked by content policy", Provider: provider, Model: model, Cause: err}
	case strings.Contains(msg, "429") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "reset") || strings.Contains(msg, "rate limit"):
		return &StreamError{Kind: ErrKindTransient, Message: "transient provider error", Provider: provider, Model: model, Cause: err}
	default:
		return &StreamError{Kind: ErrKindTransient, Message: "unclassified error, treated as transient", Provider: provider, Model: model, Cause: err}
	}
}

// RetryPolicy carries MAX_API_RETRIES and the exponential backoff base,
// per SPEC_FULL.md's configuration-file section.
type RetryPolicy struct {
	MaxRetries int
	BaseWait   time.Duration
}

// DefaultRetryPolicy mirrors DefaultAgentLoopConfig's backoff base, but
// raises MaxRetries to 4 (MAX_API_RETRIES) to match the configuration
// file's documented default rather than the teacher's own value of 3.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 4, BaseWait: 2 * time.Second}
}

// BackoffFor returns the exponential backoff delay before retry attempt
// n (1-indexed): BaseWait * 2^(n-1).
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseWait) * math.Pow(2, float64(attempt-1)))
}
