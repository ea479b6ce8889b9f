package processing

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/sourcegraph/conc/pool"
)

// DefaultQueueSize bounds the jobs waiting for a free worker.
const DefaultQueueSize = 1024

var ErrPoolClosed = errors.New("iş havuzu kapatıldı")

// Runner executes one conversion job.
type Runner interface {
	Run(ctx context.Context, job Job) (db.ProcessingState, error)
}

var _ Dispatcher = (*Pool)(nil)

// Pool runs jobs on a fixed number of workers. Jobs run on a context
// detached from the dispatching request so they outlive it.
type Pool struct {
	runner  Runner
	jobs    chan Job
	workers *pool.Pool

	mu     sync.RWMutex
	closed bool
}

func NewPool(runner Runner, maxWorkers, queueSize int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool{
		runner:  runner,
		jobs:    make(chan Job, queueSize),
		workers: pool.New().WithMaxGoroutines(maxWorkers),
	}
	for i := 0; i < maxWorkers; i++ {
		p.workers.Go(p.work)
	}

	slog.Info("Dönüşüm iş havuzu başlatıldı", "workers", maxWorkers, "queue", queueSize)
	return p
}

func (p *Pool) work() {
	for job := range p.jobs {
		ctx := context.Background()
		state, err := p.runner.Run(ctx, job)
		if err != nil {
			slog.Error("Dönüşüm işi başarısız", "id", job.MessageID, "state", state, "error", err)
			continue
		}
		slog.Debug("Dönüşüm işi bitti", "id", job.MessageID, "state", state)
	}
}

// Dispatch enqueues job, waiting for queue space until ctx is done.
func (p *Pool) Dispatch(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued and running jobs.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.workers.Wait()
	slog.Info("Dönüşüm iş havuzu kapatıldı")
}
