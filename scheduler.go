// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"time"
)

// scheduler is the schedule poller (spec.md §4.D). It runs independently
// of the manager's dispatch loop, owns its own ticker, and promotes due
// scheduled jobs into their own recorded target queue on every tick.
// This generalizes the teacher's inline scheduling loop (manager.go's
// schedule method, which polled the Store directly for Waiting jobs)
// into a standalone component that instead polls the gateway's
// time-ordered schedule -- which is global, not per-queue, so a
// scheduler started by one server can promote jobs destined for a queue
// no server local to it even consumes.
type scheduler struct {
	gw           Gateway
	logger       Logger
	pollInterval time.Duration

	testTicked   func()
	testPromoted func()
}

func newScheduler(gw Gateway, logger Logger, pollInterval time.Duration) *scheduler {
	return &scheduler{
		gw:           gw,
		logger:       logger,
		pollInterval: pollInterval,
		testTicked:   nop,
		testPromoted: nop,
	}
}

// run loops until ctx is done. Each tick it promotes every currently due
// job; a slow tick simply means the next one processes whatever is now
// due (spec.md: "missed ticks are coalesced; no catch-up multiplication").
func (s *scheduler) run(ctx context.Context) {
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.tick(ctx)
			s.testTicked() // testing hook
		case <-ctx.Done():
			return
		}
	}
}

func (s *scheduler) tick(ctx context.Context) {
	ids, err := s.due(ctx)
	if err != nil {
		s.logger.Printf("jobserver: schedule poller could not list due jobs: %v", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		err := retryOnTransient(ctx, s.logger, "promote scheduled job", func() error {
			return s.gw.PromoteScheduledJob(ctx, id)
		})
		if err != nil {
			if err == ErrNotFound {
				// Already promoted by a concurrent poller (e.g. during a
				// rolling deploy with two servers sharing a schedule
				// poll); not an error.
				continue
			}
			s.logger.Printf("jobserver: schedule poller could not promote job %s: %v", id, err)
			continue
		}
		s.testPromoted() // testing hook
	}
}

func (s *scheduler) due(ctx context.Context) ([]JobID, error) {
	var ids []JobID
	err := retryOnTransient(ctx, s.logger, "list due scheduled jobs", func() error {
		var err error
		ids, err = s.gw.DueScheduledJobs(ctx, time.Now())
		return err
	})
	return ids, err
}
