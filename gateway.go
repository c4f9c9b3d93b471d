// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"time"
)

// Gateway is a typed facade over the backing store (spec.md §4.A, §6).
// It generalizes the teacher's Store interface (store.go) from "single
// job table, polled by priority" to the operations a Redis-like store
// must expose: blocking queues, per-(server,queue) processing sets, and
// a time-ordered schedule.
//
// Implementations are responsible for making each method linearizable
// with respect to other callers acting on the same keys (the backing
// store's job, not the gateway's). Implementations do not retry; the
// manager wraps its announce, recovery, dequeue, heartbeat, schedule
// poll, completion and hide calls in retryOnTransient (see errors.go
// for the retry/fail-fast split). The worker's job-record reads and
// writes and Manager.Add call the gateway once, without retry.
type Gateway interface {
	// AnnounceServer idempotently registers server as consuming queue at
	// the given concurrency, refreshing its heartbeat timestamp.
	AnnounceServer(ctx context.Context, server, queue string, concurrency int) error

	// HideServer idempotently removes server's announcement.
	HideServer(ctx context.Context, server, queue string) error

	// RequeueProcessingJobs moves every job in server's processing set
	// for queue back to the tail of queue, removing each from the
	// processing set as it is moved. It respects ctx between items and
	// returns the count successfully moved before any cancellation.
	RequeueProcessingJobs(ctx context.Context, server, queue string) (int, error)

	// DequeueJobID pops the head of queue and atomically records it as
	// in-flight on (server, queue), blocking up to timeout. It returns
	// ErrNoJob (not an error the caller should log) if timeout elapses
	// with nothing to dequeue.
	DequeueJobID(ctx context.Context, server, queue string, timeout time.Duration) (JobID, error)

	// RemoveProcessingJob removes id from server's processing set for
	// queue. Called after a terminal state has been recorded.
	RemoveProcessingJob(ctx context.Context, server, queue string, id JobID) error

	// CreateJob persists a new job descriptor. A job whose State is
	// Scheduled is placed in the schedule keyed by job.ScheduledAt; any
	// other job is placed at the tail of job.Queue. CreateJob does not
	// set State itself (Manager.Add sets it from ScheduledAt).
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns the full job record, or ErrNotFound.
	GetJob(ctx context.Context, id JobID) (*Job, error)

	// UpdateJob persists changes to an existing job record (state
	// transitions, retry bookkeeping, timestamps, LastError). It must not
	// be used to move a job into or out of the schedule or a queue; use
	// Reschedule or PromoteScheduledJob for those transitions.
	UpdateJob(ctx context.Context, job *Job) error

	// Reschedule persists job (already mutated to State == Scheduled,
	// with ScheduledAt set) and atomically places its ID into the
	// schedule keyed by ScheduledAt. Used by the worker's retry path.
	Reschedule(ctx context.Context, job *Job) error

	// DueScheduledJobs returns the IDs of scheduled jobs whose due time
	// is <= now.
	DueScheduledJobs(ctx context.Context, now time.Time) ([]JobID, error)

	// PromoteScheduledJob atomically moves id from the schedule to the
	// tail of its own recorded target queue (job.Queue), transitioning
	// Scheduled -> Enqueued. It must be all-or-nothing: if id is no
	// longer scheduled (e.g. promoted by a concurrent poller on another
	// server), PromoteScheduledJob returns ErrNotFound.
	PromoteScheduledJob(ctx context.Context, id JobID) error

	// Stats returns aggregate counts, optionally filtered by req.
	Stats(ctx context.Context, req *StatsRequest) (*Stats, error)

	// Lookup returns a job by ID, or ErrNotFound.
	Lookup(ctx context.Context, id JobID) (*Job, error)

	// LookupByCorrelationID returns all jobs sharing a correlation ID.
	LookupByCorrelationID(ctx context.Context, correlationID string) ([]*Job, error)

	// List returns jobs matching req.
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)

	// Close releases the gateway's connection(s).
	Close() error
}
