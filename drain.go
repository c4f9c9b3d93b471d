// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import "context"

// drain is the single consumer of the pool's completion events (spec.md
// §4.E). For each JobID it receives, it removes the job from the
// server's processing set through the non-blocking gateway, with the
// same retry semantics as everything else that talks to the store. It
// has no equivalent in the teacher (which kept the processing set
// implicitly in memory via the working counter); it exists here because
// spec.md's processing set lives in the store and must converge to
// empty on clean shutdown (P1).
type drain struct {
	gw     Gateway
	logger Logger
	server string
	queue  string

	testDrained func()
}

func newDrain(gw Gateway, logger Logger, server, queue string) *drain {
	return &drain{gw: gw, logger: logger, server: server, queue: queue, testDrained: nop}
}

// run consumes completions until the channel is closed (which pool.Dispose
// does only after every in-flight worker has finished), so run drains
// whatever is left before returning -- this is what lets Dispose's
// waiters observe an empty processing set. It deliberately does not tie
// the store write to the manager's shared cancellation: once a job has
// completed, removing it from the processing set is what makes P1 hold,
// so the drain keeps retrying on a background context even after the
// server as a whole has been asked to stop.
func (d *drain) run(completions <-chan JobID) {
	for id := range completions {
		if err := retryOnTransient(context.Background(), d.logger, "remove processing job", func() error {
			return d.gw.RemoveProcessingJob(context.Background(), d.server, d.queue, id)
		}); err != nil {
			d.logger.Printf("jobserver: completion drain could not remove job %s from processing set: %v", id, err)
		}
		d.testDrained() // testing hook
	}
}
