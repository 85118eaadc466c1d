package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/queue"
)

// Pool runs a fixed number of execution slots. Each slot leases one job at
// a time, so the pool never holds more than Concurrency leases. A sweep
// loop reclaims leases held by crashed workers.
type Pool struct {
	queue    *queue.Queue
	executor *Executor
	limiter  *queue.Limiter
	workerID id.WorkerID
	logger   *slog.Logger

	concurrency     int
	pollInterval    time.Duration
	sweepInterval   time.Duration
	leaseGrace      time.Duration
	shutdownTimeout time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool

	activeMu   sync.Mutex
	activeJobs map[string]context.CancelCauseFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of execution slots.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long an idle slot waits when no wake signal
// arrives.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithSweepInterval sets how often expired leases are reclaimed. Zero
// disables the sweep.
func WithSweepInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.sweepInterval = d }
}

// WithLeaseGrace sets the slack added to the longest handler timeout
// before a lease counts as expired.
func WithLeaseGrace(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseGrace = d }
}

// WithShutdownTimeout bounds Stop when its context has no deadline.
func WithShutdownTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.shutdownTimeout = d }
}

// WithLimiter shapes the leased job types by per-type rate and
// concurrency limits.
func WithLimiter(l *queue.Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// WithWorkerID sets the identity recorded on leases.
func WithWorkerID(wid id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = wid }
}

// NewPool creates a worker pool.
func NewPool(q *queue.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:           q,
		executor:        executor,
		limiter:         queue.NewLimiter(),
		workerID:        id.NewWorkerID(),
		logger:          logger,
		concurrency:     10,
		pollInterval:    time.Second,
		sweepInterval:   15 * time.Second,
		leaseGrace:      5 * time.Second,
		shutdownTimeout: 30 * time.Second,
		stopCh:          make(chan struct{}),
		activeJobs:      make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p
}

// WorkerID returns the identity recorded on this pool's leases.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Limiter returns the pool's limiter.
func (p *Pool) Limiter() *queue.Limiter { return p.limiter }

// ActiveCount returns the number of jobs currently executing.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Start launches the slots and the sweep loop. It returns immediately.
// A stopped pool cannot be restarted.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return jobs.ErrPoolStopped
	}
	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("job_types", p.queue.Registry().Types()),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.slotLoop()
	}
	if p.sweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop()
	}
	return nil
}

// Stop stops leasing and waits for in-flight handlers. When ctx (or the
// shutdown timeout, if ctx has no deadline) runs out first, in-flight
// handlers are cancelled and their attempts recorded as failed.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopped = true
	p.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && p.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.shutdownTimeout)
		defer cancel()
	}

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}
	return nil
}

// slotLoop is run by each execution slot.
func (p *Pool) slotLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		// Budget is claimed before leasing so concurrent slots cannot
		// all pass a per-type cap.
		res := p.limiter.Reserve(p.queue.Registry().Types())
		types := res.Types()
		if len(types) == 0 {
			res.Cancel()
			p.wait()
			continue
		}

		j, err := p.queue.Lease(context.Background(), p.workerID, types)
		if err != nil {
			res.Cancel()
			p.logger.Error("lease error", slog.String("error", err.Error()))
			p.wait()
			continue
		}
		if j == nil {
			res.Cancel()
			p.wait()
			continue
		}
		res.Commit(j.Type)

		// More work may be waiting; let another idle slot look.
		p.queue.Notify()

		ctx, cancel := context.WithCancelCause(context.Background())
		p.trackJob(j.ID.String(), cancel)

		if execErr := p.executor.Execute(ctx, j); execErr != nil {
			p.logger.Debug("job attempt failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel(nil)
		p.limiter.Release(j.Type)
	}
}

// Interrupt signals the handler of a job executing in this pool to stop,
// with jobs.ErrInterrupted as the cancellation cause. It reports whether
// the job was found.
func (p *Pool) Interrupt(jobID id.JobID) bool {
	p.activeMu.Lock()
	cancel, ok := p.activeJobs[jobID.String()]
	p.activeMu.Unlock()
	if !ok {
		return false
	}
	p.logger.Info("interrupting job", slog.String("job_id", jobID.String()))
	cancel(jobs.ErrInterrupted)
	return true
}

// sweepLoop periodically reclaims expired leases.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Sweep(context.Background())
		}
	}
}

// Sweep reclaims leases older than the longest handler timeout plus the
// lease grace and returns how many jobs were recovered.
func (p *Pool) Sweep(ctx context.Context) int {
	maxTimeout := p.queue.Registry().MaxTimeout() + p.leaseGrace
	n, err := p.queue.RecoverExpired(ctx, maxTimeout)
	if err != nil {
		p.logger.Error("lease sweep error", slog.String("error", err.Error()))
		return 0
	}
	if n > 0 {
		p.logger.Info("lease sweep recovered jobs", slog.Int("count", n))
	}
	return n
}

func (p *Pool) wait() {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	select {
	case <-p.queue.Wake():
	case <-timer.C:
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelCauseFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel(nil)
	}
}
