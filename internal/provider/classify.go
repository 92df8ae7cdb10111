package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/jorge-barreto/docgen/internal/failure"
)

var (
	rateLimitMarkers = []string{"rate limit", "rate_limit", "too many requests", "overloaded", "429"}
	permanentMarkers = []string{
		"authentication", "api key", "api_key", "unauthorized", "permission denied",
		"context length", "maximum context", "content filter", "content_filter", "invalid request",
	}
)

// classifyOutput turns a failed process's output into a classified error.
// Rate-limit wording wins over everything else; authentication and request
// errors are permanent; anything unrecognised is assumed transient.
func classifyOutput(msg string) error {
	lower := strings.ToLower(msg)
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return failure.RateLimitedf(0, "%s", msg)
		}
	}
	for _, m := range permanentMarkers {
		if strings.Contains(lower, m) {
			return failure.Permanentf("%s", msg)
		}
	}
	return failure.Transientf("%s", msg)
}

// contextErr maps a context failure after a call. The caller's cancellation
// is passed through unchanged (with its cause); a per-call timeout is
// Transient.
func contextErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		if cause := context.Cause(parent); cause != nil {
			return cause
		}
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Transientf("provider call timed out")
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
