// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned by Gateway lookups when the job or server
	// does not exist. This is a logical error: it is never retried.
	ErrNotFound = errors.New("jobserver: not found")

	// ErrNoJob is returned internally by DequeueJobID when the blocking
	// wait elapsed without a job becoming available. It is not a failure;
	// callers loop back around it.
	ErrNoJob = errors.New("jobserver: no job available")

	// ErrValidation wraps a construction-time argument error (spec error
	// taxonomy class 1). The manager never starts when this is returned.
	ErrValidation = errors.New("jobserver: invalid configuration")
)

// Transient reports whether err is a connectivity/timeout class error
// from the backing store that is worth retrying with backoff, as opposed
// to a logical or permanent error that should fail fast. This mirrors
// the teacher's wrapError/runWithRetry split in its MySQL store, widened
// to the error shapes a Redis client surfaces.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoJob) || errors.Is(err, ErrValidation) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.EOF) {
		return true
	}
	return false
}
