package retry

import (
	"context"
	"errors"
	"regexp"
)

var (
	nonRetryablePatterns = compile(
		`invalid.*input`,
		`validation.*failed`,
		`unauthorized`,
		`forbidden`,
		`not.*found`,
		`already.*exists`,
		`duplicate`,
	)
	retryablePatterns = compile(
		`timeout`,
		`timed.*out`,
		`econnreset`,
		`econnrefused`,
		`enotfound`,
		`rate.*limit`,
		`too.*many.*requests`,
		`service.*unavailable`,
		`internal.*server.*error`,
		`gateway`,
		`temporarily`,
	)
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// StatusCoder is implemented by errors carrying an HTTP-style status code.
type StatusCoder interface {
	StatusCode() int
}

// Retryabler is implemented by errors that know their own retryability.
type Retryabler interface {
	Retryable() bool
}

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }

// Permanent marks err as never retryable. It returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable classifies err under cfg. A custom predicate wins; then
// non-retryable message patterns, explicit markers, retryable message
// patterns and status codes are consulted in that order. Unrecognized
// errors are retryable.
func IsRetryable(err error, cfg Config) bool {
	if err == nil {
		return false
	}
	if cfg.IsRetryable != nil {
		return cfg.IsRetryable(err)
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := err.Error()
	if matchAny(nonRetryablePatterns, msg) {
		return false
	}

	var r Retryabler
	if errors.As(err, &r) {
		return r.Retryable()
	}

	if matchAny(retryablePatterns, msg) {
		return true
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return retryableStatus(sc.StatusCode())
	}

	return true
}

// Kind names the classification used in error records.
func Kind(err error, cfg Config) string {
	if IsRetryable(err, cfg) {
		return "transient"
	}
	return "permanent"
}

func retryableStatus(code int) bool {
	switch {
	case code == 429:
		return true
	case code >= 500:
		return true
	case code >= 400:
		return false
	default:
		return true
	}
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
