package pipeline

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryBackoff is the fixed short back-off between the first attempt and the
// single retry spec §7.2 allows for a transient resource failure (embedder
// load, store write). It is deliberately small: the retry exists to ride
// out a momentary blip, not to wait out a real outage.
const retryBackoff = 50 * time.Millisecond

// retryOnce runs fn and, if it fails, retries it exactly once after
// retryBackoff. The caller is still responsible for wrapping a final
// failure in TransientError; retryOnce only implements the "retry once with
// back-off" half of spec §7.2's policy.
func retryOnce(fn func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(retryBackoff), 1)
	return backoff.Retry(fn, policy)
}
