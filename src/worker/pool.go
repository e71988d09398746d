package worker

import (
	"context"
	"log"
	"sync"
)

// Job is one unit of pipeline work run off the event loop.
type Job func(ctx context.Context)

// Pool is a fixed-size worker pool with a 1-slot input queue (strict
// back-pressure): a second Submit while a job is queued is refused rather
// than buffered.
type Pool struct {
	jobs chan queued
	wg   sync.WaitGroup
}

type queued struct {
	ctx context.Context
	job Job
}

// New creates a worker pool. Size defaults to 1; this application only ever
// has the two run kinds in flight.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{jobs: make(chan queued, 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for q := range p.jobs {
				if q.ctx.Err() != nil {
					log.Printf("Worker: dropping job, context already done: %v", q.ctx.Err())
					continue
				}
				q.job(q.ctx)
			}
		}()
	}
}

// Submit enqueues a job if the single-slot queue is free. Returns false if
// the job was dropped.
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	select {
	case p.jobs <- queued{ctx: ctx, job: job}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
