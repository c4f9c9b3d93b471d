// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import "encoding/json"

// JobID uniquely identifies a Job. It is assigned by the manager when
// the job is created and never changes afterwards.
type JobID string

// State is the lifecycle state of a Job. A job moves through these
// states at most once per transition, though Processing/Succeeded/Failed
// may repeat across retry cycles.
type State string

const (
	// Scheduled jobs are not yet eligible for dequeue; they wait in the
	// schedule until their due time, then the schedule poller promotes
	// them to Enqueued.
	Scheduled State = "scheduled"
	// Enqueued jobs are waiting at the tail of a queue for a free worker.
	Enqueued State = "enqueued"
	// Processing jobs are checked out by a server and running on one of
	// its workers.
	Processing State = "processing"
	// Succeeded jobs completed without error.
	Succeeded State = "succeeded"
	// Failed jobs exhausted their retries (or have none configured) and
	// returned an error from the last attempt.
	Failed State = "failed"
)

// Job is a unit of work that a server executes. Its identity (ID) is
// immutable; all other fields may be rewritten by the gateway as the job
// moves through its lifecycle. The descriptor (TargetType, Method, Args)
// is opaque to the server: it is handed to a JobActivator/JobInvoker pair
// without interpretation.
type Job struct {
	ID    JobID  `json:"id"`
	Queue string `json:"queue"`
	State State  `json:"state"`

	// Descriptor: what to run.
	TargetType string            `json:"targetType"`
	Method     string            `json:"method"`
	Args       []json.RawMessage `json:"args"`

	// Retry bookkeeping. MaxRetry == 0 means "record Failed, do not
	// auto-retry" (the default policy, see package doc).
	Retry    int `json:"retry"`
	MaxRetry int `json:"maxRetry"`

	// CorrelationGroup/CorrelationID let an external producer group
	// related jobs (e.g. all jobs from one batch) without the server
	// interpreting the value.
	CorrelationGroup string `json:"correlationGroup,omitempty"`
	CorrelationID    string `json:"correlationId,omitempty"`

	// Bookkeeping timestamps, all UnixNano, 0 if not yet reached.
	Created     int64 `json:"created"`
	Updated     int64 `json:"updated"`
	Started     int64 `json:"started"`
	Completed   int64 `json:"completed"`
	ScheduledAt int64 `json:"scheduledAt,omitempty"`

	// Server/queue that last (or currently) processed this job.
	Server string `json:"server,omitempty"`

	// LastError carries the failure that produced the current Failed
	// state, or the most recent retry's failure.
	LastError *JobError `json:"lastError,omitempty"`
}

// JobError captures the outcome of a failed invocation. Type and
// Message come from the target's exception/error; Stack is best-effort
// and may be empty if the invoker could not capture one.
type JobError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}
