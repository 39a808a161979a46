package sweep

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devsweep/devsweep/internal/domain/directory"
)

// Retrier executes remote operations with classified retries. Rate-limit,
// transient-backend, and remote-internal failures are retried with
// exponential backoff; any other failure aborts immediately without
// consuming the remaining attempts. The retrier is a pure function of the
// operation's outcomes and the attempt budget: it never logs and never
// persists state, leaving counting and reporting to its caller.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration

	// notify observes each backoff delay before it is slept. Tests use it
	// to assert the delay sequence; it stays nil in production.
	notify backoff.Notify
}

// NewRetrier creates a Retrier that calls an operation at most maxAttempts
// times with delays of baseDelay * 2^(attempt-1) between failures.
func NewRetrier(maxAttempts int, baseDelay time.Duration) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// exhausts the attempt budget. The error of the final attempt is returned
// unwrapped so callers can classify it with the directory error taxonomy.
func (r *Retrier) Execute(ctx context.Context, op func() error) error {
	// A single-attempt budget means no retries at all; WithMaxRetries
	// treats zero as unlimited, so short-circuit instead.
	if r.maxAttempts == 1 {
		return op()
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.baseDelay
	expBackoff.Multiplier = 2
	// Zero randomization keeps the delay sequence exact: base, 2*base, ...
	expBackoff.RandomizationFactor = 0
	expBackoff.MaxElapsedTime = 0

	classified := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !directory.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(r.maxAttempts-1)), ctx)

	return backoff.RetryNotify(classified, policy, r.notify)
}
