package agent

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// FailoverReason classifies why a model call failed, grounded on the
// teacher's FailoverOrchestrator.classifyProviderError string taxonomy but
// narrowed to the two reasons this engine retries on (§4.6 step 5: only
// HTTP 429/5xx equivalents trigger a fallback attempt).
type FailoverReason string

const (
	ReasonRateLimited FailoverReason = "rate_limited"
	ReasonServerError FailoverReason = "server_error"
	ReasonOther       FailoverReason = "other"
)

// FailoverError carries enough structure for the engine to decide whether a
// model-call failure should advance to the next fallback candidate.
type FailoverError struct {
	Reason FailoverReason
	Status int
	Code   string
	Model  string
	Err    error
}

func (e *FailoverError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Reason)
}

func (e *FailoverError) Unwrap() error { return e.Err }

// Retriable reports whether this failure is the 429/5xx-equivalent class
// the engine is permitted to fall back across (§4.6 step 5 restricts
// retries to exactly this).
func (e *FailoverError) Retriable() bool {
	return e.Reason == ReasonRateLimited || e.Reason == ReasonServerError
}

// ClassifyFailure turns a raw model-call error into a FailoverError, using
// an HTTP status if the caller has one (most accurate) and falling back to
// matching the error string (grounded on the teacher's string-pattern
// classifier) when it doesn't.
func ClassifyFailure(model string, status int, err error) *FailoverError {
	fe := &FailoverError{Model: model, Status: status, Err: err}

	switch {
	case status == 429:
		fe.Reason = ReasonRateLimited
		return fe
	case status >= 500 && status < 600:
		fe.Reason = ReasonServerError
		return fe
	case status != 0:
		fe.Reason = ReasonOther
		return fe
	}

	if err == nil {
		fe.Reason = ReasonOther
		return fe
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "429"):
		fe.Reason = ReasonRateLimited
	case containsAny(lower, "internal server", "server error", "502", "503", "504", "500"):
		fe.Reason = ReasonServerError
	default:
		fe.Reason = ReasonOther
	}
	return fe
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Candidate is one entry in an ordered model fallback chain.
type Candidate[T any] struct {
	Model string
	Call  func(ctx context.Context) (T, int, error) // returns (result, httpStatus, err)
}

// RunWithModelFallback walks candidates in order, returning the first
// success. A failure only advances to the next candidate when
// ClassifyFailure marks it Retriable (429/5xx); any other error aborts
// immediately and is returned as-is.
func RunWithModelFallback[T any](ctx context.Context, candidates []Candidate[T]) (T, string, error) {
	var zero T
	var lastErr error

	for _, c := range candidates {
		if ctx.Err() != nil {
			return zero, "", ctx.Err()
		}
		result, status, err := c.Call(ctx)
		if err == nil {
			return result, c.Model, nil
		}

		fe := ClassifyFailure(c.Model, status, err)
		if !fe.Retriable() {
			return zero, c.Model, fe
		}
		lastErr = fe
	}

	if lastErr == nil {
		lastErr = &FailoverError{Reason: ReasonOther, Err: errNoCandidates}
	}
	return zero, "", lastErr
}

var errNoCandidates = errors.New("no model fallback candidates configured")

// StatusFromString extracts a 3-digit HTTP status code embedded in an error
// string, for callers whose SDK errors only expose it as text.
func StatusFromString(s string) int {
	for i := 0; i+3 <= len(s); i++ {
		if s[i] < '1' || s[i] > '5' {
			continue
		}
		chunk := s[i : i+3]
		if status, err := strconv.Atoi(chunk); err == nil && status >= 100 && status < 600 {
			return status
		}
	}
	return 0
}
