package providers

import (
	"fmt"
	"strconv"
	"time"
)

// HTTPError is returned by a wire client when the upstream responds with a
// non-200 status. Status >= 500 or 429 marks it retryable by RetryDo.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

func (e *HTTPError) Retryable() bool { return httpStatusRetryable(e.Status) }

// ParseRetryAfter parses a Retry-After header value (seconds, per RFC 7231);
// returns 0 if absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
