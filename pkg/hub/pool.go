package hub

import (
	"context"
	"sync"

	"github.com/grinbot/grinbot/pkg/logger"
)

// Pool runs jobs on a fixed number of workers.
type Pool struct {
	workers int
	jobs    chan func(context.Context)

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewPool creates a pool; queueSize bounds jobs waiting for a worker.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan func(context.Context), queueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the workers. Jobs receive root.
func (p *Pool) Start(root context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(root)
		}
	})
}

func (p *Pool) worker(root context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case job := <-p.jobs:
			p.runJob(root, job)
		}
	}
}

func (p *Pool) runJob(root context.Context, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("hub", "Worker panic", map[string]any{"panic": r})
		}
	}()
	job(root)
}

// Submit queues job, blocking while the queue is full. It reports false
// when ctx ends or the pool is stopped first.
func (p *Pool) Submit(ctx context.Context, job func(context.Context)) bool {
	select {
	case <-p.stop:
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	case <-p.stop:
		return false
	}
}

// Stop drops queued jobs and waits for running ones.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}
