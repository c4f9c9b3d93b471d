// Package jobserver implements the long-lived orchestration loop of a
// distributed background job server: announce presence, recover jobs
// abandoned by a crashed previous incarnation of the same server,
// dequeue jobs with blocking semantics, dispatch them to a bounded
// worker pool, propagate completions back to the store, and poll a
// time-ordered schedule to promote due jobs into their queue.
//
// Applications create a Manager with New, configure it with
// ManagerOption values (SetServerName is required; SetQueueName,
// SetConcurrency, and SetPollInterval have defaults), register how jobs
// run -- either RegisterFunc for the common "one function per target
// type" case, or SetActivator/SetInvoker for DI-container-backed
// activation -- and call Start. Start returns once the server has begun
// dispatching; Close (or Stop, an alias) signals cancellation, waits for
// every component to finish, and removes the server from the registry.
//
// A Manager needs a Gateway: a typed facade over a Redis-like backing
// store offering blocking FIFO queues, atomic sets, sorted sets, and
// hashes. The manager retries transient errors of its own loop's gateway
// calls; the worker's job-record calls are not retried. The "redisstore" subpackage implements Gateway against
// Redis; the "inmemory" subpackage implements it purely in memory and is
// the default used by tests.
//
// Jobs move through at most these states: Scheduled (optional, for
// jobs with a future ScheduledAt) -> Enqueued -> Processing ->
// {Succeeded | Failed}. A job can be configured to retry on failure by
// setting MaxRetry; retries are rescheduled with exponential backoff by
// default (see backoff.go), or with a custom BackoffFunc set via
// SetBackoffFunc. The default policy, matching a server restart with no
// MaxRetry set, is to record Failed and not auto-retry.
//
// If a server crashes, the jobs it had checked out are left in its
// per-(server,queue) processing set. The next time a server with the
// same name starts, RequeueProcessingJobs moves them back onto the
// queue before the server begins dispatching new work -- this is what
// makes the system at-least-once: jobs must be idempotent.
package jobserver
