// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package redisstore implements jobserver.Gateway against Redis,
// generalizing the teacher's mysql.Store and mongodb.Store (table/
// collection-backed job storage with a runWithRetry wrapper) to the
// list/sorted-set/hash primitives spec.md's data model calls for.
// Queues and processing sets are both Redis lists, moved between with
// LMOVE/BLMOVE so the pop-and-record step is a single atomic command;
// the schedule is a sorted set keyed by due time, and job descriptors
// are JSON blobs stored under per-job keys.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowqueue/jobserver"
)

// Gateway implements jobserver.Gateway against a Redis instance reached
// through client. All keys are namespaced under prefix (default
// "jobserver") so multiple logical deployments can share one Redis
// instance without colliding.
type Gateway struct {
	client *redis.Client
	prefix string
}

// Option configures a Gateway constructed by New.
type Option func(*Gateway)

// WithKeyPrefix overrides the default "jobserver" key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(g *Gateway) { g.prefix = prefix }
}

// New wraps an already-configured *redis.Client. The caller owns
// connecting and retains responsibility for calling Close.
func New(client *redis.Client, opts ...Option) *Gateway {
	g := &Gateway{client: client, prefix: "jobserver"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) queueKey(queue string) string    { return fmt.Sprintf("%s:queue:%s", g.prefix, queue) }
func (g *Gateway) jobKey(id jobserver.JobID) string { return fmt.Sprintf("%s:job:%s", g.prefix, id) }
func (g *Gateway) scheduleKey() string              { return fmt.Sprintf("%s:schedule", g.prefix) }
func (g *Gateway) serversKey() string               { return fmt.Sprintf("%s:servers", g.prefix) }
func (g *Gateway) processingKey(server, queue string) string {
	return fmt.Sprintf("%s:processing:%s:%s", g.prefix, server, queue)
}

// Close implements jobserver.Gateway.
func (g *Gateway) Close() error { return g.client.Close() }

type serverRecord struct {
	Queue       string `json:"queue"`
	Concurrency int    `json:"concurrency"`
	LastSeen    int64  `json:"lastSeen"`
}

// AnnounceServer implements jobserver.Gateway.
func (g *Gateway) AnnounceServer(ctx context.Context, server, queue string, concurrency int) error {
	rec := serverRecord{Queue: queue, Concurrency: concurrency, LastSeen: time.Now().UnixNano()}
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return g.client.HSet(ctx, g.serversKey(), server, buf).Err()
}

// HideServer implements jobserver.Gateway.
func (g *Gateway) HideServer(ctx context.Context, server, _ string) error {
	return g.client.HDel(ctx, g.serversKey(), server).Err()
}

// RequeueProcessingJobs implements jobserver.Gateway. It atomically
// drains the processing list one item at a time with LMOVE, moving each
// straight onto the tail of queue in a single command, so a job is
// never observed missing from both lists at once.
func (g *Gateway) RequeueProcessingJobs(ctx context.Context, server, queue string) (int, error) {
	key := g.processingKey(server, queue)
	dest := g.queueKey(queue)
	var n int
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		id, err := g.client.LMove(ctx, key, dest, "LEFT", "RIGHT").Result()
		if err == redis.Nil {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := g.touchState(ctx, jobserver.JobID(id), jobserver.Enqueued); err != nil {
			return n, err
		}
		n++
	}
}

// DequeueJobID implements jobserver.Gateway. BLMOVE blocks on the queue
// list and, the instant an element is available, atomically moves it
// onto the tail of the processing list in the same command -- the pop
// and the processing-set record happen together, so a crash can never
// observe the job missing from both.
func (g *Gateway) DequeueJobID(ctx context.Context, server, queue string, timeout time.Duration) (jobserver.JobID, error) {
	val, err := g.client.BLMove(ctx, g.queueKey(queue), g.processingKey(server, queue), "LEFT", "RIGHT", timeout).Result()
	if err == redis.Nil {
		return "", jobserver.ErrNoJob
	}
	if err != nil {
		return "", err
	}
	return jobserver.JobID(val), nil
}

// RemoveProcessingJob implements jobserver.Gateway.
func (g *Gateway) RemoveProcessingJob(ctx context.Context, server, queue string, id jobserver.JobID) error {
	return g.client.LRem(ctx, g.processingKey(server, queue), 0, string(id)).Err()
}

// CreateJob implements jobserver.Gateway.
func (g *Gateway) CreateJob(ctx context.Context, job *jobserver.Job) error {
	if err := g.putJob(ctx, job); err != nil {
		return err
	}
	if job.State == jobserver.Scheduled {
		return g.client.ZAdd(ctx, g.scheduleKey(), redis.Z{
			Score:  float64(job.ScheduledAt),
			Member: string(job.ID),
		}).Err()
	}
	return g.client.RPush(ctx, g.queueKey(job.Queue), string(job.ID)).Err()
}

func (g *Gateway) putJob(ctx context.Context, job *jobserver.Job) error {
	buf, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return g.client.Set(ctx, g.jobKey(job.ID), buf, 0).Err()
}

// GetJob implements jobserver.Gateway.
func (g *Gateway) GetJob(ctx context.Context, id jobserver.JobID) (*jobserver.Job, error) {
	buf, err := g.client.Get(ctx, g.jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, jobserver.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job jobserver.Job
	if err := json.Unmarshal(buf, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJob implements jobserver.Gateway.
func (g *Gateway) UpdateJob(ctx context.Context, job *jobserver.Job) error {
	exists, err := g.client.Exists(ctx, g.jobKey(job.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return jobserver.ErrNotFound
	}
	return g.putJob(ctx, job)
}

// Reschedule implements jobserver.Gateway. The job record and its
// schedule entry are written in one MULTI/EXEC transaction.
func (g *Gateway) Reschedule(ctx context.Context, job *jobserver.Job) error {
	exists, err := g.client.Exists(ctx, g.jobKey(job.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return jobserver.ErrNotFound
	}
	buf, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, g.jobKey(job.ID), buf, 0)
		pipe.ZAdd(ctx, g.scheduleKey(), redis.Z{Score: float64(job.ScheduledAt), Member: string(job.ID)})
		return nil
	})
	return err
}

// touchState loads, mutates, and stores a job's State/Updated fields.
func (g *Gateway) touchState(ctx context.Context, id jobserver.JobID, state jobserver.State) error {
	job, err := g.GetJob(ctx, id)
	if err != nil {
		return err
	}
	job.State = state
	job.Updated = time.Now().UnixNano()
	return g.putJob(ctx, job)
}

// DueScheduledJobs implements jobserver.Gateway.
func (g *Gateway) DueScheduledJobs(ctx context.Context, now time.Time) ([]jobserver.JobID, error) {
	members, err := g.client.ZRangeByScore(ctx, g.scheduleKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]jobserver.JobID, len(members))
	for i, m := range members {
		ids[i] = jobserver.JobID(m)
	}
	return ids, nil
}

// promoteScript atomically removes id from the schedule and pushes it to
// the tail of queue, returning 0 if id was not scheduled (already
// promoted by a concurrent poller) or 1 on success.
var promoteScript = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
if removed == 0 then
	return 0
end
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1
`)

// PromoteScheduledJob implements jobserver.Gateway.
func (g *Gateway) PromoteScheduledJob(ctx context.Context, id jobserver.JobID) error {
	job, err := g.GetJob(ctx, id)
	if err != nil {
		return err
	}
	n, err := promoteScript.Run(ctx, g.client, []string{g.scheduleKey(), g.queueKey(job.Queue)}, string(id)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobserver.ErrNotFound
	}
	job.State = jobserver.Enqueued
	job.Updated = time.Now().UnixNano()
	return g.putJob(ctx, job)
}

// Stats implements jobserver.Gateway. It scans every job key, which is
// acceptable for the moderate job counts this server targets (spec.md's
// size budget; no separate counters are maintained) but would need
// dedicated counters at a larger scale.
func (g *Gateway) Stats(ctx context.Context, req *jobserver.StatsRequest) (*jobserver.Stats, error) {
	jobs, err := g.scanJobs(ctx)
	if err != nil {
		return nil, err
	}
	stats := &jobserver.Stats{}
	for _, job := range jobs {
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
func (g *Gateway) LookupByCorrelationID(ctx context.Context, correlationID string) ([]*jobserver.Job, error) {
	jobs, err := g.scanJobs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*jobserver.Job
	for _, job := range jobs {
		if job.CorrelationID == correlationID {
			out = append(out, job)
		}
	}
	return out, nil
}

// List implements jobserver.Gateway.
func (g *Gateway) List(ctx context.Context, req *jobserver.ListRequest) (*jobserver.ListResponse, error) {
	jobs, err := g.scanJobs(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*jobserver.Job
	for _, job := range jobs {
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
		matched = append(matched, job)
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

// scanJobs walks every "<prefix>:job:*" key with SCAN (non-blocking,
// bounded cursor batches) and decodes each one.
func (g *Gateway) scanJobs(ctx context.Context) ([]*jobserver.Job, error) {
	var jobs []*jobserver.Job
	pattern := fmt.Sprintf("%s:job:*", g.prefix)
	iter := g.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		buf, err := g.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var job jobserver.Job
		if err := json.Unmarshal(buf, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}
