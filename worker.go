// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// worker executes a single job end-to-end (spec.md §4.B). It holds no
// state between jobs: m and p are long-lived references to the owning
// manager and pool, everything else is local to one Process call. This
// generalizes the teacher's worker (worker.go), which ran a fixed
// Processor looked up by topic, into one that activates a target
// instance and invokes a method on it via the manager's
// JobActivator/JobInvoker.
type worker struct {
	m *Manager
	p *pool
}

func newWorker(m *Manager, p *pool) *worker {
	return &worker{m: m, p: p}
}

// Process hands job id to the worker and returns immediately; the job
// runs on its own goroutine. Process never blocks on the job itself, only
// on bookkeeping (pool.wg.Add), matching spec.md's "fire and forget"
// contract for Worker.Process.
func (w *worker) Process(ctx context.Context, id JobID) {
	w.p.mu.Lock()
	w.p.wg.Add(1)
	w.p.mu.Unlock()
	go func() {
		defer w.p.wg.Done()
		defer w.p.release(w)
		defer w.p.notifyCompleted(id)
		w.run(ctx, id)
	}()
}

// run executes one job and never panics out: every error returned by the
// job, including a panic recovered from the target method, is captured
// and converted into a Failed (or retried) state (spec.md §4.B point 6-7,
// "Worker must never throw out of its run loop"). A job whose record
// cannot be loaded, or a panic outside the invocation, is only logged.
func (w *worker) run(ctx context.Context, id JobID) {
	defer func() {
		if r := recover(); r != nil {
			w.m.logger.Printf("jobserver: recovered panic processing job %s: %v\n%s", id, r, debug.Stack())
		}
	}()

	job, err := w.m.gw.GetJob(ctx, id)
	if err != nil {
		w.m.logger.Printf("jobserver: worker could not load job %s: %v", id, err)
		return
	}

	job.State = Processing
	job.Server = w.m.serverName
	job.Started = time.Now().UnixNano()
	job.Updated = job.Started
	if err := w.m.gw.UpdateJob(ctx, job); err != nil {
		w.m.logger.Printf("jobserver: worker could not mark job %s processing: %v", id, err)
	}

	w.m.testJobStarted() // testing hook

	var invokeErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				invokeErr = fmt.Errorf("jobserver: panic: %v", r)
			}
		}()
		if fn, found := w.m.lookupFunc(job.TargetType); found {
			invokeErr = fn(ctx, job.Args)
		} else {
			instance, actErr := w.m.activator.Activate(ctx, job.TargetType)
			if actErr != nil {
				invokeErr = actErr
			} else {
				invokeErr = w.m.invoker.Invoke(ctx, instance, job.Method, job.Args)
			}
		}
	}()

	now := time.Now().UnixNano()
	if invokeErr == nil {
		job.State = Succeeded
		job.Completed = now
		job.Updated = now
		job.LastError = nil
		if err := w.m.gw.UpdateJob(ctx, job); err != nil {
			w.m.logger.Printf("jobserver: worker could not record success for job %s: %v", id, err)
		}
		w.m.testJobSucceeded() // testing hook
		return
	}

	job.LastError = &JobError{Type: fmt.Sprintf("%T", invokeErr), Message: invokeErr.Error()}
	w.m.logger.Printf("jobserver: job %s failed: %v", id, invokeErr)

	if job.Retry < job.MaxRetry {
		// Retry: reschedule rather than finalize. Default policy (spec.md
		// §9(c)) is MaxRetry == 0, which skips this branch entirely.
		job.Retry++
		job.State = Scheduled
		job.ScheduledAt = time.Now().Add(w.m.backoff(job.Retry)).UnixNano()
		job.Updated = now
		if err := w.m.gw.Reschedule(ctx, job); err != nil {
			w.m.logger.Printf("jobserver: worker could not schedule retry for job %s: %v", id, err)
		}
		w.m.testJobRetry() // testing hook
		return
	}

	job.State = Failed
	job.Completed = now
	job.Updated = now
	if err := w.m.gw.UpdateJob(ctx, job); err != nil {
		w.m.logger.Printf("jobserver: worker could not record failure for job %s: %v", id, err)
	}
	w.m.testJobFailed() // testing hook
}
