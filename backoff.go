// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// BackoffFunc is a callback that returns a backoff. It is configurable
// via SetBackoffFunc on the manager. It is used to vary the timespan
// between retries of a failed job that has MaxRetry configured.
type BackoffFunc func(attempts int) time.Duration

// exponentialBackoff is the default backoff function for job retries.
func exponentialBackoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := 100 * time.Millisecond
	for i := 1; i < attempts; i++ {
		d *= 2
		if d > 30*time.Second {
			return 30 * time.Second
		}
	}
	return d
}

// retryOnTransient runs fn, retrying with bounded exponential backoff
// (100ms, 200ms, 400ms, ... capped at 5s, each wait randomized by the
// library's default +/-50% jitter) as long as fn returns a
// transient error (see Transient) and ctx is not done. It returns the
// first non-transient error, or nil on success, or ctx.Err() if
// cancelled mid-retry. This generalizes the teacher's mysql.Store
// runWithRetry to the spec's "infinite attempts while not cancelled"
// policy (spec.md §4.A), by leaving MaxElapsedTime at its zero value.
func retryOnTransient(ctx context.Context, logger Logger, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0 // infinite attempts; cancellation is the only exit

	return backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !Transient(err) {
			// Logical/permanent error: stop retrying, surface as-is by
			// wrapping in backoff.Permanent so RetryNotify returns it
			// directly instead of continuing the backoff loop.
			return backoff.Permanent(err)
		}
		return err
	}, contextBackOff{b, ctx}, func(err error, wait time.Duration) {
		if logger != nil {
			logger.Printf("jobserver: retrying %s after transient error: %v (next attempt in %v)", op, err, wait)
		}
	})
}

// contextBackOff wraps a backoff.BackOff so that NextBackOff returns
// backoff.Stop once ctx is done. RetryNotify does not interrupt a wait
// already in progress: cancellation takes effect when that wait ends (at
// most one interval, up to the 5s cap plus jitter), and no further
// attempt or wait follows.
type contextBackOff struct {
	backoff.BackOff
	ctx context.Context
}

func (c contextBackOff) NextBackOff() time.Duration {
	if c.ctx.Err() != nil {
		return backoff.Stop
	}
	return c.BackOff.NextBackOff()
}
