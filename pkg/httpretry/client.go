package httpretry

import (
	"net/http"
	"time"

	"github.com/ybbus/httpretry"
)

// Client retries cheap idempotent requests. Expensive queries should use a
// plain client with a timeout instead, so that a slow store isn't hammered.
var Client = New(10, 2*time.Second)

// New returns a client that retries errors, 5xx, 429 and 0 status codes with
// an incremental backoff of step per attempt.
func New(maxRetries int, step time.Duration) *http.Client {
	return httpretry.NewDefaultClient(
		httpretry.WithMaxRetryCount(maxRetries),

		// Retry on any error, 5xx status codes and 0 status codes.
		httpretry.WithRetryPolicy(func(statusCode int, err error) bool {
			return err != nil || statusCode >= 500 || statusCode == 0 || statusCode == 429
		}),

		// Retry with an incremental backoff policy.
		httpretry.WithBackoffPolicy(func(attemptNum int) time.Duration {
			return time.Duration(attemptNum+1) * step
		}),
	)
}
