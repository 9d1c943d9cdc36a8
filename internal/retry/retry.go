// Package retry wraps github.com/cenkalti/backoff/v4 into the
// exponential-backoff retry policy the state backend call sites use
// (provider operations are not retried; they get a per-operation timeout
// instead): the general expectation is that backend I/O is flaky and
// should be retried rather than failing a whole convergence run on the
// first transient error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures one retry run. MaxElapsed bounds total wall time spent
// retrying; zero means backoff.DefaultMaxElapsedTime.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultPolicy starts at a 200ms interval, backs off to at most 5s between
// attempts, and gives up after 30s in total rather than retrying forever.
var DefaultPolicy = Policy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	MaxElapsed:      30 * time.Second,
}

// Do runs op, retrying with exponential backoff under policy until it
// succeeds, op returns a Permanent error (via backoff.Permanent, which
// stops retrying immediately), ctx is cancelled, or the elapsed-time budget
// is exhausted.
func Do(ctx context.Context, policy Policy, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}
	if policy.MaxElapsed > 0 {
		b.MaxElapsedTime = policy.MaxElapsed
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Permanent marks err as non-retryable, stopping Do immediately instead of
// continuing to back off.
func Permanent(err error) error { return backoff.Permanent(err) }
