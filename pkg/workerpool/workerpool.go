// Package workerpool runs provisioning jobs with bounded concurrency.
// Jobs are not retried here; transports own their own retry policy.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/avolk/remoteprov/internal/lg"
)

const TotalMaxWorkers = 10

type JobFunc[T any] func(T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

type Pool[T any] struct {
	Jobs          chan Job[T]
	activeWorkers int32
	wg            sync.WaitGroup
	quit          chan struct{}
	maxWorkers    int
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	pool := &Pool[T]{
		Jobs:       make(chan Job[T], maxWorkers),
		quit:       make(chan struct{}),
		maxWorkers: maxWorkers,
	}
	go pool.dispatch()
	return pool
}

func (p *Pool[T]) Stop() {
	close(p.quit)
	p.wg.Wait()
	close(p.Jobs)
}

func (p *Pool[T]) Submit(job Job[T]) {
	logger := lg.FromContext(job.Ctx)
	select {
	case p.Jobs <- job:
		logger.Info("job submitted", lg.Any("job", job.Payload))
	case <-p.quit:
		logger.Warn("worker pool is shutting down, job rejected")
	}
}

func (p *Pool[T]) dispatch() {
	for {
		select {
		case job := <-p.Jobs:
			p.wg.Add(1)
			atomic.AddInt32(&p.activeWorkers, 1)
			go p.worker(job)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool[T]) worker(job Job[T]) {
	defer p.wg.Done()
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()
	logger := lg.FromContext(job.Ctx).With(lg.Any("job", job.Payload))
	logger.Debug("worker started", lg.Int("workers", int(atomic.LoadInt32(&p.activeWorkers))))

	doneCh := make(chan error, 1)
	go func() { doneCh <- job.Fn(job.Payload) }()

	select {
	case <-job.Ctx.Done():
		logger.Warn("job canceled", lg.Err(job.Ctx.Err()))
	case err := <-doneCh:
		if err != nil {
			logger.Error("job failed", lg.Err(err))
		} else {
			logger.Info("job finished")
		}
	}
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
