// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/flowqueue/jobserver"
)

func TestDequeueJobIDBlocksThenReturnsNewlyCreatedJob(t *testing.T) {
	gw := New()
	ctx := context.Background()

	done := make(chan jobserver.JobID, 1)
	go func() {
		id, err := gw.DequeueJobID(ctx, "server-1", "q", 2*time.Second)
		if err != nil {
			t.Errorf("DequeueJobID failed with %v", err)
			return
		}
		done <- id
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine start waiting
	if err := gw.CreateJob(ctx, &jobserver.Job{ID: "job-1", Queue: "q", TargetType: "widget", State: jobserver.Enqueued}); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}

	select {
	case id := <-done:
		if id != "job-1" {
			t.Fatalf("got %q, want job-1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("DequeueJobID did not wake up after CreateJob")
	}
}

func TestDequeueJobIDTimesOutWithErrNoJob(t *testing.T) {
	gw := New()
	_, err := gw.DequeueJobID(context.Background(), "server-1", "empty", 20*time.Millisecond)
	if err != jobserver.ErrNoJob {
		t.Fatalf("err = %v, want ErrNoJob", err)
	}
}

func TestRequeueProcessingJobsMovesJobsBackToQueue(t *testing.T) {
	gw := New()
	ctx := context.Background()

	if err := gw.CreateJob(ctx, &jobserver.Job{ID: "job-1", Queue: "q", TargetType: "widget", State: jobserver.Enqueued}); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}
	if _, err := gw.DequeueJobID(ctx, "server-1", "q", time.Second); err != nil {
		t.Fatalf("DequeueJobID failed with %v", err)
	}

	n, err := gw.RequeueProcessingJobs(ctx, "server-1", "q")
	if err != nil {
		t.Fatalf("RequeueProcessingJobs failed with %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d job(s), want 1", n)
	}

	id, err := gw.DequeueJobID(ctx, "server-2", "q", time.Second)
	if err != nil {
		t.Fatalf("second DequeueJobID failed with %v", err)
	}
	if id != "job-1" {
		t.Fatalf("got %q, want job-1", id)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	gw := New()
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	if err := gw.CreateJob(ctx, &jobserver.Job{ID: "job-1", Queue: "q", TargetType: "widget", State: jobserver.Scheduled, ScheduledAt: future.UnixNano()}); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}

	due, err := gw.DueScheduledJobs(ctx, time.Now())
	if err != nil {
		t.Fatalf("DueScheduledJobs failed with %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("got %d due job(s), want 0 (not due yet)", len(due))
	}

	due, err = gw.DueScheduledJobs(ctx, future.Add(time.Second))
	if err != nil {
		t.Fatalf("DueScheduledJobs failed with %v", err)
	}
	if len(due) != 1 || due[0] != "job-1" {
		t.Fatalf("got %v, want [job-1]", due)
	}

	if err := gw.PromoteScheduledJob(ctx, "job-1"); err != nil {
		t.Fatalf("PromoteScheduledJob failed with %v", err)
	}
	if err := gw.PromoteScheduledJob(ctx, "job-1"); err != jobserver.ErrNotFound {
		t.Fatalf("second PromoteScheduledJob = %v, want ErrNotFound", err)
	}

	id, err := gw.DequeueJobID(ctx, "server-1", "q", time.Second)
	if err != nil {
		t.Fatalf("DequeueJobID after promotion failed with %v", err)
	}
	if id != "job-1" {
		t.Fatalf("got %q, want job-1", id)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	gw := New()
	ctx := context.Background()

	for i, state := range []jobserver.State{jobserver.Enqueued, jobserver.Enqueued, jobserver.Failed} {
		job := &jobserver.Job{ID: jobserver.JobID(string(rune('a' + i))), Queue: "q", TargetType: "widget", State: state}
		if state != jobserver.Scheduled {
			if err := gw.CreateJob(ctx, job); err != nil {
				t.Fatalf("CreateJob failed with %v", err)
			}
			if err := gw.UpdateJob(ctx, job); err != nil {
				t.Fatalf("UpdateJob failed with %v", err)
			}
		}
	}

	rsp, err := gw.List(ctx, &jobserver.ListRequest{Queue: "q", State: jobserver.Enqueued})
	if err != nil {
		t.Fatalf("List failed with %v", err)
	}
	if rsp.Total != 2 {
		t.Fatalf("Total = %d, want 2", rsp.Total)
	}

	rsp, err = gw.List(ctx, &jobserver.ListRequest{Queue: "q", Limit: 1})
	if err != nil {
		t.Fatalf("List failed with %v", err)
	}
	if rsp.Total != 3 {
		t.Fatalf("Total = %d, want 3", rsp.Total)
	}
	if len(rsp.Jobs) != 1 {
		t.Fatalf("len(Jobs) = %d, want 1", len(rsp.Jobs))
	}
}

func TestStatsCountsByState(t *testing.T) {
	gw := New()
	ctx := context.Background()

	if err := gw.CreateJob(ctx, &jobserver.Job{ID: "job-1", Queue: "q", TargetType: "widget", State: jobserver.Enqueued}); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}
	if err := gw.CreateJob(ctx, &jobserver.Job{ID: "job-2", Queue: "q", TargetType: "widget", State: jobserver.Scheduled, ScheduledAt: time.Now().Add(time.Hour).UnixNano()}); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}

	stats, err := gw.Stats(ctx, &jobserver.StatsRequest{Queue: "q"})
	if err != nil {
		t.Fatalf("Stats failed with %v", err)
	}
	if stats.Enqueued != 1 || stats.Scheduled != 1 {
		t.Fatalf("stats = %+v, want Enqueued=1 Scheduled=1", stats)
	}
}

func TestAnnounceAndHideServer(t *testing.T) {
	gw := New()
	ctx := context.Background()
	if err := gw.AnnounceServer(ctx, "server-1", "q", 4); err != nil {
		t.Fatalf("AnnounceServer failed with %v", err)
	}
	if err := gw.HideServer(ctx, "server-1", "q"); err != nil {
		t.Fatalf("HideServer failed with %v", err)
	}
}

func TestLookupByCorrelationID(t *testing.T) {
	gw := New()
	ctx := context.Background()
	if err := gw.CreateJob(ctx, &jobserver.Job{ID: "job-1", Queue: "q", TargetType: "widget", State: jobserver.Enqueued, CorrelationID: "batch-1"}); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}
	if err := gw.CreateJob(ctx, &jobserver.Job{ID: "job-2", Queue: "q", TargetType: "widget", State: jobserver.Enqueued, CorrelationID: "batch-2"}); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}

	jobs, err := gw.LookupByCorrelationID(ctx, "batch-1")
	if err != nil {
		t.Fatalf("LookupByCorrelationID failed with %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" {
		t.Fatalf("got %v, want [job-1]", jobs)
	}
}
