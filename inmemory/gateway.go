// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package inmemory implements jobserver.Gateway purely in memory. It
// generalizes the teacher's InMemoryStore (in_memory_store.go) from a
// single priority-ordered job table into the queue/processing-set/
// schedule shape spec.md requires. Do not use in production: state is
// lost on process exit and nothing is shared across processes, which
// defeats the entire point of a distributed server.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowqueue/jobserver"
)

// Gateway is an in-process, mutex-guarded implementation of
// jobserver.Gateway. It is safe for concurrent use and is the default
// test double for the manager's test suite.
type Gateway struct {
	mu sync.Mutex

	jobs map[jobserver.JobID]*jobserver.Job

	// queues maps queue name to an ordered slice of job IDs, head first.
	queues map[string][]jobserver.JobID

	// processing maps "server\x00queue" to the set of job IDs checked out
	// by that server on that queue.
	processing map[string]map[jobserver.JobID]bool

	// schedule maps job ID to its due time; iterated and sorted on demand.
	schedule map[jobserver.JobID]time.Time

	servers map[string]serverEntry

	// notify is closed and replaced whenever something is pushed to a
	// queue, letting DequeueJobID's blocking wait wake up promptly
	// instead of only on timeout.
	notify chan struct{}
}

type serverEntry struct {
	queue       string
	concurrency int
	lastSeen    time.Time
}

// New creates an empty Gateway.
func New() *Gateway {
	return &Gateway{
		jobs:       make(map[jobserver.JobID]*jobserver.Job),
		queues:     make(map[string][]jobserver.JobID),
		processing: make(map[string]map[jobserver.JobID]bool),
		schedule:   make(map[jobserver.JobID]time.Time),
		servers:    make(map[string]serverEntry),
		notify:     make(chan struct{}),
	}
}

func processingKey(server, queue string) string { return server + "\x00" + queue }

// wakeLocked closes the current notify channel (waking anyone selecting
// on it) and installs a fresh one. Must be called with mu held.
func (g *Gateway) wakeLocked() {
	close(g.notify)
	g.notify = make(chan struct{})
}

// Close implements jobserver.Gateway. The in-memory gateway owns no
// external connection, so Close is a no-op.
func (g *Gateway) Close() error { return nil }

// AnnounceServer implements jobserver.Gateway.
func (g *Gateway) AnnounceServer(_ context.Context, server, queue string, concurrency int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.servers[server] = serverEntry{queue: queue, concurrency: concurrency, lastSeen: time.Now()}
	return nil
}

// HideServer implements jobserver.Gateway.
func (g *Gateway) HideServer(_ context.Context, server, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.servers, server)
	return nil
}

// RequeueProcessingJobs implements jobserver.Gateway.
func (g *Gateway) RequeueProcessingJobs(ctx context.Context, server, queue string) (int, error) {
	g.mu.Lock()
	key := processingKey(server, queue)
	ids := make([]jobserver.JobID, 0, len(g.processing[key]))
	for id := range g.processing[key] {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	var n int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		g.mu.Lock()
		delete(g.processing[key], id)
		g.queues[queue] = append(g.queues[queue], id)
		if job, found := g.jobs[id]; found {
			job.State = jobserver.Enqueued
			job.Updated = time.Now().UnixNano()
		}
		g.wakeLocked()
		g.mu.Unlock()
		n++
	}
	return n, nil
}

// DequeueJobID implements jobserver.Gateway.
func (g *Gateway) DequeueJobID(ctx context.Context, server, queue string, timeout time.Duration) (jobserver.JobID, error) {
	deadline := time.Now().Add(timeout)
	for {
		g.mu.Lock()
		if id, ok := g.popLocked(queue); ok {
			key := processingKey(server, queue)
			if g.processing[key] == nil {
				g.processing[key] = make(map[jobserver.JobID]bool)
			}
			g.processing[key][id] = true
			g.mu.Unlock()
			return id, nil
		}
		wait := g.notify
		g.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", jobserver.ErrNoJob
		}
		timer := time.NewTimer(remaining)
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return "", jobserver.ErrNoJob
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
}

// popLocked removes and returns the head of queue. Must be called with
// mu held.
func (g *Gateway) popLocked(queue string) (jobserver.JobID, bool) {
	ids := g.queues[queue]
	if len(ids) == 0 {
		return "", false
	}
	id := ids[0]
	g.queues[queue] = ids[1:]
	return id, true
}

// RemoveProcessingJob implements jobserver.Gateway.
func (g *Gateway) RemoveProcessingJob(_ context.Context, server, queue string, id jobserver.JobID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.processing[processingKey(server, queue)], id)
	return nil
}

// CreateJob implements jobserver.Gateway.
func (g *Gateway) CreateJob(_ context.Context, job *jobserver.Job) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *job
	g.jobs[job.ID] = &cp
	switch job.State {
	case jobserver.Scheduled:
		g.schedule[job.ID] = time.Unix(0, job.ScheduledAt)
	default:
		g.queues[job.Queue] = append(g.queues[job.Queue], job.ID)
		g.wakeLocked()
	}
	return nil
}

// GetJob implements jobserver.Gateway.
func (g *Gateway) GetJob(_ context.Context, id jobserver.JobID) (*jobserver.Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, found := g.jobs[id]
	if !found {
		return nil, jobserver.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// UpdateJob implements jobserver.Gateway.
func (g *Gateway) UpdateJob(_ context.Context, job *jobserver.Job) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, found := g.jobs[job.ID]; !found {
		return jobserver.ErrNotFound
	}
	cp := *job
	g.jobs[job.ID] = &cp
	return nil
}

// Reschedule implements jobserver.Gateway.
func (g *Gateway) Reschedule(_ context.Context, job *jobserver.Job) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, found := g.jobs[job.ID]; !found {
		return jobserver.ErrNotFound
	}
	cp := *job
	g.jobs[job.ID] = &cp
	g.schedule[job.ID] = time.Unix(0, job.ScheduledAt)
	return nil
}

// DueScheduledJobs implements jobserver.Gateway.
func (g *Gateway) DueScheduledJobs(_ context.Context, now time.Time) ([]jobserver.JobID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var due []jobserver.JobID
	for id, at := range g.schedule {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return g.schedule[due[i]].Before(g.schedule[due[j]]) })
	return due, nil
}

// PromoteScheduledJob implements jobserver.Gateway.
func (g *Gateway) PromoteScheduledJob(_ context.Context, id jobserver.JobID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, found := g.schedule[id]; !found {
		return jobserver.ErrNotFound
	}
	job, found := g.jobs[id]
	if !found {
		delete(g.schedule, id)
		return jobserver.ErrNotFound
	}
	delete(g.schedule, id)
	job.State = jobserver.Enqueued
	job.Updated = time.Now().UnixNano()
	g.queues[job.Queue] = append(g.queues[job.Queue], id)
	g.wakeLocked()
	return nil
}

// Stats implements jobserver.Gateway.
func (g *Gateway) Stats(_ context.Context, req *jobserver.StatsRequest) (*jobserver.Stats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := &jobserver.Stats{}
	for _, job := range g.jobs {
		if req != nil {
			if req.Queue != "" && job.Queue != req.Queue {
				continue
			}
			if req.CorrelationGroup != "" && job.CorrelationGroup != req.CorrelationGroup {
				continue
			}
		}
		switch job.State {
		case jobserver.Scheduled:
			stats.Scheduled++
		case jobserver.Enqueued:
			stats.Enqueued++
		case jobserver.Processing:
			stats.Processing++
		case jobserver.Succeeded:
			stats.Succeeded++
		case jobserver.Failed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Lookup implements jobserver.Gateway.
func (g *Gateway) Lookup(ctx context.Context, id jobserver.JobID) (*jobserver.Job, error) {
	return g.GetJob(ctx, id)
}

// LookupByCorrelationID implements jobserver.Gateway.
func (g *Gateway) LookupByCorrelationID(_ context.Context, correlationID string) ([]*jobserver.Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*jobserver.Job
	for _, job := range g.jobs {
		if job.CorrelationID == correlationID {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

// List implements jobserver.Gateway.
func (g *Gateway) List(_ context.Context, req *jobserver.ListRequest) (*jobserver.ListResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var matched []*jobserver.Job
	for _, job := range g.jobs {
		if req.Queue != "" && job.Queue != req.Queue {
			continue
		}
		if req.CorrelationGroup != "" && job.CorrelationGroup != req.CorrelationGroup {
			continue
		}
		if req.CorrelationID != "" && job.CorrelationID != req.CorrelationID {
			continue
		}
		if req.State != "" && job.State != req.State {
			continue
		}
		cp := *job
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Created < matched[j].Created })

	rsp := &jobserver.ListResponse{Total: len(matched)}
	lo := req.Offset
	if lo < 0 || lo > len(matched) {
		lo = len(matched)
	}
	hi := len(matched)
	if req.Limit > 0 && lo+req.Limit < hi {
		hi = lo + req.Limit
	}
	rsp.Jobs = matched[lo:hi]
	return rsp, nil
}
