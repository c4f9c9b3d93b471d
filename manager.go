// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueName    = "default"
	defaultPollInterval = 15 * time.Second
	dequeueTimeout      = 5 * time.Second // liveness device, spec.md §4.F
)

func nop() {}

// ManagerState is one of the states of the server loop described in
// spec.md §4.F.
type ManagerState string

const (
	StateInit        ManagerState = "init"
	StateAnnounced   ManagerState = "announced"
	StateRecovering  ManagerState = "recovering"
	StateDispatching ManagerState = "dispatching"
	StateStopping    ManagerState = "stopping"
	StateStopped     ManagerState = "stopped"
)

// GatewayFactory constructs one Gateway connection. The manager calls it
// twice at Start -- once for the blocking dequeue path, once for
// everything else -- so that a long BLMOVE-style wait can never stall
// completions or recovery (spec.md §3 Ownership, §5 "two independent
// store gateways per server").
type GatewayFactory func() (Gateway, error)

// ProcessorFunc is a shortcut for registering a target type's behavior
// as a single function, generalizing the teacher's Processor
// (processor.go) from "the only way to run a job" to "a convenience on
// top of JobActivator/JobInvoker".
type ProcessorFunc func(ctx context.Context, args []json.RawMessage) error

// Manager runs one server: it announces presence, recovers jobs
// abandoned by a previous incarnation of itself, dequeues and dispatches
// jobs to a bounded worker pool, and tears everything down on
// cancellation (spec.md §4.F). Create one via New.
type Manager struct {
	logger    Logger
	backoff   BackoffFunc
	activator JobActivator
	invoker   JobInvoker

	gwFactory GatewayFactory
	gw        Gateway // non-blocking path: Add, recovery, completions
	blockingGW Gateway // blocking path: DequeueJobID only

	serverName   string
	queueName    string
	concurrency  int
	pollIntervalNanos int64 // nanoseconds

	mu     sync.Mutex
	state  ManagerState
	cancel context.CancelFunc
	doneCh chan struct{} // closed once the dispatch loop + pool have stopped
	eg     *errgroup.Group

	funcsMu sync.RWMutex
	funcs   map[string]ProcessorFunc

	pool      *pool
	drain     *drain
	scheduler *scheduler

	testManagerStarted   func()
	testManagerStopped   func()
	testRecovered        func(n int)
	testJobAdded         func()
	testJobStarted       func()
	testJobRetry         func()
	testJobFailed        func()
	testJobSucceeded     func()
}

// New creates a new, unstarted Manager. Pass options to configure it;
// ServerName is required (spec.md §6 Configuration).
func New(options ...ManagerOption) *Manager {
	m := &Manager{
		logger:               newZeroLogger(),
		backoff:              exponentialBackoff,
		activator:            NewDefaultActivator(),
		invoker:              NewDefaultInvoker(),
		queueName:            defaultQueueName,
		concurrency:          2 * runtime.NumCPU(),
		pollIntervalNanos:    int64(defaultPollInterval),
		state:                StateInit,
		funcs:                make(map[string]ProcessorFunc),
		testManagerStarted:   nop,
		testManagerStopped:   nop,
		testRecovered:        func(int) {},
		testJobAdded:         nop,
		testJobStarted:       nop,
		testJobRetry:         nop,
		testJobFailed:        nop,
		testJobSucceeded:     nop,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// -- Configuration --

// ManagerOption is the signature of an options provider.
type ManagerOption func(*Manager)

// SetLogger specifies the logger to use when e.g. reporting errors.
func SetLogger(logger Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// SetServerName sets the server's cluster-unique identity. Required.
func SetServerName(name string) ManagerOption {
	return func(m *Manager) { m.serverName = name }
}

// SetQueueName sets the queue this server consumes from. Defaults to
// "default".
func SetQueueName(name string) ManagerOption {
	return func(m *Manager) { m.queueName = name }
}

// SetConcurrency sets the number of workers run at the same time. Must
// be >= 1; defaults to 2x the number of logical CPUs.
func SetConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 1 {
			m.concurrency = n
		}
	}
}

// SetPollInterval sets the schedule poller's period. Must be positive;
// defaults to 15s.
func SetPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.pollIntervalNanos = int64(d)
		}
	}
}

// SetGateway configures a single Gateway instance to use for both the
// blocking and non-blocking paths. Suitable for tests and for gateways
// like the in-memory one that have no head-of-line blocking concern; a
// production Redis-backed deployment should prefer SetGatewayFactory.
func SetGateway(gw Gateway) ManagerOption {
	return func(m *Manager) {
		m.gwFactory = func() (Gateway, error) { return gw, nil }
	}
}

// SetGatewayFactory configures the manager to dial a fresh Gateway
// connection for each of its two internal roles (spec.md §3, §5).
func SetGatewayFactory(f GatewayFactory) ManagerOption {
	return func(m *Manager) { m.gwFactory = f }
}

// SetBackoffFunc specifies the backoff function that returns the time
// span between retries of a failed job that has MaxRetry configured.
func SetBackoffFunc(fn BackoffFunc) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.backoff = fn
		} else {
			m.backoff = exponentialBackoff
		}
	}
}

// SetActivator configures the JobActivator used to materialize target
// instances. Defaults to an empty DefaultActivator.
func SetActivator(a JobActivator) ManagerOption {
	return func(m *Manager) {
		if a != nil {
			m.activator = a
		}
	}
}

// SetInvoker configures the JobInvoker used to call methods on activated
// instances. Defaults to DefaultInvoker.
func SetInvoker(i JobInvoker) ManagerOption {
	return func(m *Manager) {
		if i != nil {
			m.invoker = i
		}
	}
}

// RegisterFunc registers fn as the behavior for targetType, bypassing
// JobActivator/JobInvoker entirely. This is the generalized form of the
// teacher's Register(topic, Processor): a convenience for the common
// case of "one function handles this kind of job" without writing an
// Activator/Invoker pair.
func (m *Manager) RegisterFunc(targetType string, fn ProcessorFunc) error {
	if targetType == "" {
		return fmt.Errorf("%w: no target type specified", ErrValidation)
	}
	m.funcsMu.Lock()
	defer m.funcsMu.Unlock()
	if _, found := m.funcs[targetType]; found {
		return fmt.Errorf("jobserver: target type %s already registered", targetType)
	}
	m.funcs[targetType] = fn
	return nil
}

func (m *Manager) lookupFunc(targetType string) (ProcessorFunc, bool) {
	m.funcsMu.RLock()
	defer m.funcsMu.RUnlock()
	fn, found := m.funcs[targetType]
	return fn, found
}

func (m *Manager) pollInterval() time.Duration {
	return time.Duration(m.pollIntervalNanos)
}

// -- State --

// State returns the manager's current lifecycle state.
func (m *Manager) State() ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s ManagerState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// -- Start and Stop --

// validate checks construction-time arguments (spec.md error taxonomy
// class 1: validation errors fail fast, the server never starts).
func (m *Manager) validate() error {
	if m.serverName == "" {
		return fmt.Errorf("%w: serverName must be non-empty", ErrValidation)
	}
	if m.queueName == "" {
		return fmt.Errorf("%w: queueName must be non-empty", ErrValidation)
	}
	if m.concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1", ErrValidation)
	}
	if m.pollIntervalNanos <= 0 {
		return fmt.Errorf("%w: pollInterval must be positive", ErrValidation)
	}
	if m.gwFactory == nil {
		return fmt.Errorf("%w: no gateway configured (use SetGateway or SetGatewayFactory)", ErrValidation)
	}
	return nil
}

// Start validates configuration, announces the server, recovers any
// jobs abandoned by a previous incarnation of this serverName, and
// begins dispatching. It returns once the server has reached the
// DISPATCHING state; the dispatch loop itself runs on its own goroutine
// until Stop/Close is called or a fatal error occurs.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.state != StateInit {
		m.mu.Unlock()
		return errors.New("jobserver: manager already started")
	}
	m.mu.Unlock()

	if err := m.validate(); err != nil {
		return err
	}

	var err error
	m.gw, err = m.gwFactory()
	if err != nil {
		return fmt.Errorf("jobserver: dialing gateway: %w", err)
	}
	m.blockingGW, err = m.gwFactory()
	if err != nil {
		return fmt.Errorf("jobserver: dialing blocking gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.doneCh = make(chan struct{})

	m.pool = newPool(m, m.concurrency)
	m.drain = newDrain(m.gw, m.logger, m.serverName, m.queueName)
	m.scheduler = newScheduler(m.gw, m.logger, m.pollInterval())

	// ANNOUNCED
	m.setState(StateAnnounced)
	err = retryOnTransient(ctx, m.logger, "announce server", func() error {
		return m.gw.AnnounceServer(ctx, m.serverName, m.queueName, m.concurrency)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		cancel()
		m.teardown()
		close(m.doneCh)
		return fmt.Errorf("jobserver: announcing server: %w", err)
	}

	// RECOVERING
	m.setState(StateRecovering)
	n, err := m.recover(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Fatalf("jobserver: fatal error during recovery, stopping: %v", err)
		cancel()
	}
	m.testRecovered(n)
	if n > 0 {
		m.logger.Printf("jobserver: requeued %d job(s) abandoned by a previous incarnation of %q", n, m.serverName)
	}

	// Schedule poller, completion drain, and heartbeat are independent
	// long-running loops joined together via errgroup.Group -- the
	// manager's shutdown sequence (spec.md §4.F: "join the completion
	// drain") waits on m.eg.Wait() for all three, the idiomatic Go stand-in
	// for the teacher's go.mod requirement on golang.org/x/sync that the
	// excerpt we started from never exercised.
	eg := &errgroup.Group{}
	m.eg = eg
	eg.Go(func() error { m.heartbeat(ctx); return nil })
	eg.Go(func() error { m.scheduler.run(ctx); return nil })
	eg.Go(func() error { m.drain.run(m.pool.Completions()); return nil })

	// DISPATCHING
	m.setState(StateDispatching)
	go m.dispatch(ctx)

	m.testManagerStarted() // testing hook
	return nil
}

// recover requeues anything left in this server's processing set by a
// crashed previous incarnation (spec.md §4.F ANNOUNCED -> RECOVERING).
func (m *Manager) recover(ctx context.Context) (int, error) {
	var n int
	err := retryOnTransient(ctx, m.logger, "requeue processing jobs", func() error {
		var err error
		n, err = m.gw.RequeueProcessingJobs(ctx, m.serverName, m.queueName)
		return err
	})
	return n, err
}

// dispatch is the manager's main loop (spec.md §4.F RECOVERING ->
// DISPATCHING). It blocks on pool.TakeFree and gw.DequeueJobID in turn,
// fires jobs at free workers, and returns once ctx is cancelled or a
// fatal, non-transient error occurs.
func (m *Manager) dispatch(ctx context.Context) {
	defer close(m.doneCh)
	for {
		w, err := m.pool.TakeFree(ctx)
		if err != nil {
			// Cancelled while waiting for capacity.
			m.teardown()
			return
		}

		id, err := m.dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				m.pool.release(w)
				m.teardown()
				return
			}
			// Fatal, non-transient store error (spec error taxonomy
			// class 3): stop this server's loop, let a supervisor
			// restart the process. Other servers are unaffected.
			m.logger.Fatalf("jobserver: fatal error in dispatch loop, stopping: %v", err)
			m.pool.release(w)
			m.teardown()
			return
		}

		w.Process(ctx, id)
	}
}

// dequeue retries DequeueJobID until either a job id is obtained or ctx
// is cancelled. The 5s per-call timeout is the liveness device described
// in spec.md §4.F point 2: it bounds how long a single blocking wait can
// delay observing cancellation.
func (m *Manager) dequeue(ctx context.Context) (JobID, error) {
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var id JobID
		err := retryOnTransient(ctx, m.logger, "dequeue job", func() error {
			var err error
			id, err = m.blockingGW.DequeueJobID(ctx, m.serverName, m.queueName, dequeueTimeout)
			return err
		})
		if err != nil {
			if errors.Is(err, ErrNoJob) {
				continue
			}
			return "", err
		}
		return id, nil
	}
}

// heartbeat periodically re-announces the server so its registry entry
// stays fresh (spec.md §9(b), a supplemented feature: the excerpt this
// spec was distilled from did not show heartbeat refresh).
func (m *Manager) heartbeat(ctx context.Context) {
	t := time.NewTicker(m.pollInterval())
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := retryOnTransient(ctx, m.logger, "refresh heartbeat", func() error {
				return m.gw.AnnounceServer(ctx, m.serverName, m.queueName, m.concurrency)
			}); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Printf("jobserver: heartbeat refresh failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// teardown is called exactly once: from within dispatch, once the
// manager loop itself has decided to exit (spec.md §4.F "any state ->
// STOPPING"), or from Start when announcing the server fails. Stop/Close
// wait on m.doneCh, which is closed right after this returns.
func (m *Manager) teardown() {
	m.setState(StateStopping)
	m.pool.Dispose()
	m.setState(StateStopped)
}

// Stop stops the manager. It is an alias for Close.
func (m *Manager) Stop() error { return m.Close() }

// Close signals cancellation, waits for the dispatch loop, the pool, the
// schedule poller, the completion drain, and the heartbeat to finish (in
// that dependency order), hides the server from the registry, and
// returns. Idempotent: a second and subsequent call returns nil
// immediately (spec.md P7).
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil // later calls see nil and return at once
	eg := m.eg
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-m.doneCh // dispatch loop exited and pool.Dispose() has returned
	if eg != nil {
		_ = eg.Wait() // join schedule poller, completion drain, heartbeat
	}

	err := retryOnTransient(context.Background(), m.logger, "hide server", func() error {
		return m.gw.HideServer(context.Background(), m.serverName, m.queueName)
	})
	m.testManagerStopped() // testing hook
	return err
}

// -- Add --

// Add gives the manager a new job to execute. If ScheduledAt is zero (or
// in the past), the job starts Enqueued; otherwise it is placed in the
// schedule and promoted by the schedule poller once due.
func (m *Manager) Add(ctx context.Context, job *Job) error {
	if job.TargetType == "" {
		return fmt.Errorf("%w: no target type specified", ErrValidation)
	}
	if job.Queue == "" {
		job.Queue = m.queueName
	}
	job.ID = JobID(uuid.NewV4().String())
	job.Retry = 0
	job.Created = time.Now().UnixNano()
	job.Updated = job.Created
	if job.ScheduledAt > time.Now().UnixNano() {
		job.State = Scheduled
	} else {
		job.State = Enqueued
		job.ScheduledAt = 0
	}
	if err := m.gw.CreateJob(ctx, job); err != nil {
		return err
	}
	m.testJobAdded() // testing hook
	return nil
}

// -- Stats, Lookup and List --

func (m *Manager) Stats(ctx context.Context, req *StatsRequest) (*Stats, error) {
	return m.gw.Stats(ctx, req)
}

func (m *Manager) Lookup(ctx context.Context, id JobID) (*Job, error) {
	return m.gw.Lookup(ctx, id)
}

func (m *Manager) LookupByCorrelationID(ctx context.Context, correlationID string) ([]*Job, error) {
	return m.gw.LookupByCorrelationID(ctx, correlationID)
}

func (m *Manager) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	return m.gw.List(ctx, req)
}
