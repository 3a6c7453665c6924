package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"conductor/internal/ratelimit"
)

var (
	// ErrRetriesExhausted wraps the last underlying error after every attempt
	// of a retryable operation failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrNonRetryable wraps an error classified as fatal for the attempt;
	// the operation fails fast without further attempts.
	ErrNonRetryable = errors.New("non-retryable error")
)

// Operation is one invocation of the external dependency.
type Operation func(ctx context.Context) (json.RawMessage, error)

// Executor wraps one external call with rate-limited attempts, transient
// error classification and exponential backoff. Every API client shares this
// single retry path instead of rolling its own loop.
type Executor struct {
	MaxRetries int           // total attempts, default 3
	BaseDelay  time.Duration // first backoff delay
	MaxDelay   time.Duration // backoff ceiling, also caps server hints
	Limiter    *ratelimit.Limiter
}

// New returns an Executor with the default retry policy in front of the given
// limiter. A nil limiter disables admission control.
func New(limiter *ratelimit.Limiter) *Executor {
	return &Executor{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Limiter:    limiter,
	}
}

// Do runs op until it succeeds, a non-retryable error occurs, the attempt
// budget is exhausted, or ctx is cancelled. Each attempt acquires the rate
// limiter first. Backoff sleeps block only the calling worker.
//
// The int result is the number of retry attempts beyond the first.
func (e *Executor) Do(ctx context.Context, op Operation) (json.RawMessage, int, error) {
	maxRetries := e.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt-1, lastErr)
			log.Debugf("retrying in %s (attempt %d/%d): %v", delay, attempt+1, maxRetries, lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, attempt - 1, ctx.Err()
			case <-timer.C:
			}
		}

		if e.Limiter != nil {
			if err := e.Limiter.Acquire(ctx); err != nil {
				return nil, attempt, err
			}
		}

		payload, err := op(ctx)
		if err == nil {
			return payload, attempt, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, attempt, fmt.Errorf("%w: %w", ErrNonRetryable, err)
		}
	}

	return nil, maxRetries - 1, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxRetries, lastErr)
}

// backoff computes the delay before the next attempt. A server-provided
// retry hint embedded in the error overrides the exponential schedule.
func (e *Executor) backoff(attempt int, err error) time.Duration {
	if hint, ok := RetryHint(err); ok {
		d := hint + time.Second
		if d > e.MaxDelay {
			d = e.MaxDelay
		}
		return d
	}

	d := e.BaseDelay << uint(attempt)
	if d <= 0 || d > e.MaxDelay {
		d = e.MaxDelay
	}
	// Up to 30% jitter so concurrent retriers don't stampede.
	jitter := time.Duration(rand.Int63n(int64(d)*3/10 + 1))
	return d + jitter
}

var retryHintRe = regexp.MustCompile(`(?i)retry(?:ing)?\s+(?:in|after)\s+(\d+(?:\.\d+)?)\s*s`)

// RetryHint extracts a server-provided "retry in Ns" delay from an error
// message, when present.
func RetryHint(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	m := retryHintRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	secs, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

var retryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryable classifies transient errors. Rate-limit and 5xx API responses
// plus network-level timeout/connection failures are retryable; decode errors
// and anything unclassified fail fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus[apiErr.HTTPStatusCode]
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus[reqErr.HTTPStatusCode]
	}

	// Malformed responses won't get better on retry.
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, signal := range []string{
		"rate limit",
		"too many requests",
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"broken pipe",
		"unavailable",
		"overloaded",
		"temporarily",
	} {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}
