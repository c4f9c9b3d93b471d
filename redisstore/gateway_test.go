// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowqueue/jobserver"
)

const testRedisAddr = "127.0.0.1:6379"

var testClient *redis.Client

// TestMain mirrors the teacher's mysql.Store integration tests
// (mysql/store_test.go): it requires a live backing instance rather than
// mocking the wire protocol. Here that instance is Redis; every key
// written under testKeyPrefix is flushed afterwards instead of dropping
// a whole database.
func TestMain(m *testing.M) {
	testClient = redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := testClient.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "redisstore: skipping integration tests, no Redis at %s: %v\n", testRedisAddr, err)
		os.Exit(0)
	}

	code := m.Run()

	cleanupCtx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	iter := testClient.Scan(cleanupCtx, 0, testKeyPrefix+":*", 1000).Iterator()
	for iter.Next(cleanupCtx) {
		testClient.Del(cleanupCtx, iter.Val())
	}
	testClient.Close()

	os.Exit(code)
}

const testKeyPrefix = "jobserver_test"

func newTestGateway() *Gateway {
	return New(testClient, WithKeyPrefix(testKeyPrefix))
}

func TestCreateAndGetJob(t *testing.T) {
	gw := newTestGateway()
	ctx := context.Background()

	job := &jobserver.Job{ID: jobserver.JobID(fmt.Sprintf("job-%d", time.Now().UnixNano())), Queue: "q", TargetType: "widget", State: jobserver.Enqueued}
	if err := gw.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}

	got, err := gw.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed with %v", err)
	}
	if got.ID != job.ID || got.TargetType != "widget" {
		t.Fatalf("got %+v, want matching ID/TargetType for %+v", got, job)
	}
}

func TestGetJobNotFound(t *testing.T) {
	gw := newTestGateway()
	if _, err := gw.GetJob(context.Background(), "does-not-exist"); err != jobserver.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDequeueAndRequeueProcessingJobs(t *testing.T) {
	gw := newTestGateway()
	ctx := context.Background()
	queue := fmt.Sprintf("q-%d", time.Now().UnixNano())

	job := &jobserver.Job{ID: jobserver.JobID(fmt.Sprintf("job-%d", time.Now().UnixNano())), Queue: queue, TargetType: "widget", State: jobserver.Enqueued}
	if err := gw.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}

	id, err := gw.DequeueJobID(ctx, "server-1", queue, time.Second)
	if err != nil {
		t.Fatalf("DequeueJobID failed with %v", err)
	}
	if id != job.ID {
		t.Fatalf("got %q, want %q", id, job.ID)
	}

	n, err := gw.RequeueProcessingJobs(ctx, "server-1", queue)
	if err != nil {
		t.Fatalf("RequeueProcessingJobs failed with %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d job(s), want 1", n)
	}

	id, err = gw.DequeueJobID(ctx, "server-2", queue, time.Second)
	if err != nil {
		t.Fatalf("second DequeueJobID failed with %v", err)
	}
	if id != job.ID {
		t.Fatalf("got %q, want %q", id, job.ID)
	}
	if err := gw.RemoveProcessingJob(ctx, "server-2", queue, id); err != nil {
		t.Fatalf("RemoveProcessingJob failed with %v", err)
	}
}

func TestDequeueJobIDTimesOutWithErrNoJob(t *testing.T) {
	gw := newTestGateway()
	queue := fmt.Sprintf("empty-%d", time.Now().UnixNano())
	_, err := gw.DequeueJobID(context.Background(), "server-1", queue, 20*time.Millisecond)
	if err != jobserver.ErrNoJob {
		t.Fatalf("err = %v, want ErrNoJob", err)
	}
}

func TestScheduleAndPromote(t *testing.T) {
	gw := newTestGateway()
	ctx := context.Background()
	queue := fmt.Sprintf("q-%d", time.Now().UnixNano())

	job := &jobserver.Job{
		ID:          jobserver.JobID(fmt.Sprintf("job-%d", time.Now().UnixNano())),
		Queue:       queue,
		TargetType:  "widget",
		State:       jobserver.Scheduled,
		ScheduledAt: time.Now().Add(-time.Minute).UnixNano(),
	}
	if err := gw.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed with %v", err)
	}

	due, err := gw.DueScheduledJobs(ctx, time.Now())
	if err != nil {
		t.Fatalf("DueScheduledJobs failed with %v", err)
	}
	var found bool
	for _, id := range due {
		if id == job.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("due jobs %v did not include %q", due, job.ID)
	}

	if err := gw.PromoteScheduledJob(ctx, job.ID); err != nil {
		t.Fatalf("PromoteScheduledJob failed with %v", err)
	}
	if err := gw.PromoteScheduledJob(ctx, job.ID); err != jobserver.ErrNotFound {
		t.Fatalf("second PromoteScheduledJob = %v, want ErrNotFound", err)
	}

	id, err := gw.DequeueJobID(ctx, "server-1", queue, time.Second)
	if err != nil {
		t.Fatalf("DequeueJobID after promotion failed with %v", err)
	}
	if id != job.ID {
		t.Fatalf("got %q, want %q", id, job.ID)
	}
}
