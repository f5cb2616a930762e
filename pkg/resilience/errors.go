package resilience

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitError is a vendor's 429. RetryAfter is zero when the vendor gave
// no hint.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	msg := "rate limited"
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.RetryAfter > 0 {
		msg += " (retry after " + e.RetryAfter.String() + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// StatusError is any other non-2xx vendor answer.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

const maxErrorBody = 4096

// CheckResponse maps a vendor HTTP response to nil, RateLimitError or
// StatusError. The body is only read on failure.
func CheckResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body string
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		body = strings.TrimSpace(string(b))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return RateLimitError{
			Provider:   provider,
			Message:    body,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return StatusError{Provider: provider, Status: resp.StatusCode, Body: body}
}

// ParseRetryAfter accepts delay-seconds or an HTTP date. Anything else,
// including dates in the past, yields zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
