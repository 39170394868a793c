// Package threadpool implements the fabric's thread pool: a bounded job
// queue drained by a resizable set of worker goroutines, generalized from the
// teacher's internal/batch.Processor semaphore/flush pattern (batched S3
// operations) down to arbitrary closures.
package threadpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kernelfabric/fabric/pkg/fabricerr"
	"github.com/kernelfabric/fabric/pkg/logging"
)

// AffinityHints are advisory CPU affinity hints. Go's scheduler exposes no
// portable sched_setaffinity-equivalent hook, so hints are recorded and
// reported through AffinityHints but never change actual scheduling.
type AffinityHints struct {
	PreferredCPUs []int
}

// Config configures a Pool.
type Config struct {
	MinThreads    int
	MaxThreads    int
	QueueSize     int
	AffinityHints AffinityHints
}

// DefaultConfig returns the configuration the fabric starts a thread pool
// with.
func DefaultConfig() Config {
	return Config{MinThreads: 2, MaxThreads: 8, QueueSize: 256}
}

// Stats reports the pool's current load.
type Stats struct {
	ActiveThreads int
	QueueSize     int
	TotalThreads  int
}

// Pool is a worker pool draining a bounded job queue. Its worker count
// starts at MaxThreads and can grow or shrink at runtime via SetMaxThreads
// (PARENT kernels use this to adapt pool size to aggregate child load).
type Pool struct {
	config Config
	logger *logging.Logger

	jobs    chan func()
	stopOne chan struct{}

	mu       sync.Mutex
	running  bool
	wg       sync.WaitGroup
	workers  int

	active atomic.Int64
}

// New creates a Pool. Workers are not started until Start is called.
func New(config Config, logger *logging.Logger) *Pool {
	if logger == nil {
		logger, _ = logging.New(logging.DefaultConfig())
	}
	if config.MinThreads <= 0 {
		config.MinThreads = DefaultConfig().MinThreads
	}
	if config.MaxThreads < config.MinThreads {
		config.MaxThreads = config.MinThreads
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	return &Pool{
		config: config,
		logger: logger.WithComponent("threadpool"),
	}
}

// Start launches MaxThreads worker goroutines draining the job queue.
// Calling Start on an already-running pool is a no-op.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.jobs = make(chan func(), p.config.QueueSize)
	p.stopOne = make(chan struct{})
	p.running = true
	p.workers = 0

	p.addWorkersLocked(p.config.MaxThreads)

	return nil
}

// addWorkersLocked starts n more worker goroutines. Caller holds p.mu.
func (p *Pool) addWorkersLocked(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		p.workers++
		go p.worker()
	}
}

// Restart starts the pool again. Legal only after Stop.
func (p *Pool) Restart() error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	if running {
		return fabricerr.New(fabricerr.AlreadyStarted, "thread pool is running")
	}
	return p.Start()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopOne:
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.active.Add(1)
			p.runJob(job)
			p.active.Add(-1)
		}
	}
}

// SetMaxThreads grows or shrinks the running worker count to n, floored
// at MinThreads. A no-op before Start.
func (p *Pool) SetMaxThreads(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < p.config.MinThreads {
		n = p.config.MinThreads
	}
	if !p.running {
		p.config.MaxThreads = n
		return
	}

	switch {
	case n > p.workers:
		p.addWorkersLocked(n - p.workers)
	case n < p.workers:
		for i := 0; i < p.workers-n; i++ {
			p.stopOne <- struct{}{}
		}
		p.workers = n
	}
	p.config.MaxThreads = n
}

func (p *Pool) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("thread pool job panicked", map[string]interface{}{"recovered": r})
		}
	}()
	job()
}

// Enqueue submits job for execution, returning QueueFull immediately when
// the bounded channel is full.
func (p *Pool) Enqueue(job func()) error {
	p.mu.Lock()
	running := p.running
	jobs := p.jobs
	p.mu.Unlock()

	if !running {
		return fabricerr.New(fabricerr.NotInitialized, "thread pool is not started")
	}

	select {
	case jobs <- job:
		return nil
	default:
		return fabricerr.New(fabricerr.QueueFull, "thread pool queue is full")
	}
}

// Stop is idempotent: it discards the remainder of the queue, closes the
// job queue, and waits for workers to finish the job each is running.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	jobs := p.jobs
	p.mu.Unlock()

	for len(jobs) > 0 {
		select {
		case <-jobs:
		default:
		}
	}
	close(jobs)
	p.wg.Wait()
	return nil
}

// WaitForCompletion blocks until the queue is empty and no worker is
// active, polling at the given interval.
func (p *Pool) WaitForCompletion(poll time.Duration) {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	for {
		p.mu.Lock()
		jobs := p.jobs
		p.mu.Unlock()

		if jobs == nil || (len(jobs) == 0 && p.active.Load() == 0) {
			return
		}
		time.Sleep(poll)
	}
}

// Stats reports the pool's current load.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	queueSize := 0
	total := p.config.MaxThreads
	if p.jobs != nil {
		queueSize = len(p.jobs)
	}
	if p.running {
		total = p.workers
	}

	return Stats{
		ActiveThreads: int(p.active.Load()),
		QueueSize:     queueSize,
		TotalThreads:  total,
	}
}

// AffinityHints returns the advisory affinity hints the pool was configured
// with.
func (p *Pool) AffinityHints() AffinityHints {
	return p.config.AffinityHints
}
