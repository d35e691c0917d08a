// Package retry wraps fallible operations in bounded exponential-backoff
// retry, classifying failures as transient or fatal.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// HTTPStatusError marks a non-2xx upstream response so the executor can
// decide whether the status is worth retrying.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("http status %s", e.Status)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Retryable HTTP statuses. 403 is included because the upstream serves it
// from its rate limiter, not its auth layer.
var transientHTTPStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusForbidden:           true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Postgres SQLSTATE codes worth retrying: serialization failure, deadlock,
// and lock-wait timeout. Class 08 (connection exceptions) is handled as a
// prefix below.
var transientPgCode = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// IsTransient reports whether err is a failure class that a retry may cure.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return transientHTTPStatus[httpErr.StatusCode]
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCode[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.ETIMEDOUT,
		syscall.EPIPE,
		syscall.EHOSTUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Policy bounds and shapes the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// OnRetry, if set, is invoked before each backoff sleep.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// Do runs op until it succeeds, fails non-transiently, or exhausts the
// attempt budget. The last error is surfaced to the caller either way.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == attempts {
			return lastErr
		}

		delay := p.backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// backoff computes min(maxDelay, base*2^(attempt-1)), optionally scaled by a
// jitter factor drawn from [0.7, 1.3].
func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if maxd := float64(p.MaxDelay); maxd > 0 && delay > maxd {
		delay = maxd
	}
	if p.Jitter {
		delay *= jitterFactor()
	}
	return time.Duration(delay)
}

func jitterFactor() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(600))
	if err != nil {
		return 1
	}
	return 0.7 + float64(n.Int64())/1000
}
