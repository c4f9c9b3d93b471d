// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"sync"
)

// pool is a bounded set of idle workers (spec.md §4.C). It generalizes
// the teacher's inline worker slice + jobc channel (manager.go, worker.go)
// into a standalone component so the manager's dispatch loop only has to
// ask for a free worker and hand it a job id.
//
// Invariant: at any time len(busy)+len(free channel contents) == concurrency.
type pool struct {
	m           *Manager
	concurrency int

	free chan *worker // buffered, concurrency slots; a worker sits here while idle

	completions chan JobID // fan-in of JobCompleted events, one consumer (drain)

	mu       sync.Mutex
	disposed bool
	workers  []*worker
	wg       sync.WaitGroup

	testTakeFree func()
}

// newPool creates a pool of concurrency idle workers, all placed in the
// free set. A worker starts a goroutine only when Process hands it a job.
func newPool(m *Manager, concurrency int) *pool {
	p := &pool{
		m:            m,
		concurrency:  concurrency,
		free:         make(chan *worker, concurrency),
		completions:  make(chan JobID, concurrency),
		testTakeFree: nop,
	}
	p.workers = make([]*worker, concurrency)
	for i := 0; i < concurrency; i++ {
		w := newWorker(m, p)
		p.workers[i] = w
		p.free <- w
	}
	return p
}

// TakeFree blocks until a free worker is available or ctx is done, in
// which case it returns ctx.Err().
func (p *pool) TakeFree(ctx context.Context) (*worker, error) {
	p.testTakeFree() // testing hook
	select {
	case w := <-p.free:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns w to the free set. Called by worker once it has
// finished processing a job.
func (p *pool) release(w *worker) {
	p.free <- w
}

// notifyCompleted publishes id on the completions channel for the drain
// to pick up. Called by worker exactly once per job it processes,
// regardless of outcome.
func (p *pool) notifyCompleted(id JobID) {
	p.completions <- id
}

// Completions exposes the JobCompleted event stream (spec.md §4.C) for
// the completion drain to consume.
func (p *pool) Completions() <-chan JobID {
	return p.completions
}

// Dispose stops accepting new work implicitly (callers must stop calling
// TakeFree themselves) and waits for all in-flight workers to finish,
// then closes the completions channel so the drain can exit. Idempotent
// (spec.md P7).
func (p *pool) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()

	p.wg.Wait()
	close(p.completions)
}
