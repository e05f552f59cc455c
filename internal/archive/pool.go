package archive

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrPoolClosed is returned by Submit after Close; callers fall back to
// building in their own goroutine.
var ErrPoolClosed = errors.New("build pool closed")

// BuildPool runs archive assembly off the caller's goroutine. It is an
// explicitly constructed object so multiple archive requests can share one
// pool, and tests can inject their own (or none, forcing the synchronous
// path).
type BuildPool struct {
	jobs      chan buildJob
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type buildJob struct {
	ctx     context.Context
	run     func(context.Context) ([]byte, error)
	resultC chan buildResult
}

type buildResult struct {
	data []byte
	err  error
}

// NewBuildPool starts a pool with the given number of workers (minimum 1).
func NewBuildPool(workers int) *BuildPool {
	if workers < 1 {
		workers = 1
	}
	p := &BuildPool{
		jobs: make(chan buildJob),
		done: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *BuildPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			data, err := job.run(job.ctx)
			job.resultC <- buildResult{data: data, err: err}
		}
	}
}

// Submit runs fn on a pool worker and blocks until it finishes or ctx is
// cancelled. It returns ErrPoolClosed if the pool has been closed, letting
// the caller fall back to running fn itself.
func (p *BuildPool) Submit(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	job := buildJob{ctx: ctx, run: fn, resultC: make(chan buildResult, 1)}

	select {
	case p.jobs <- job:
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-job.resultC:
		return res.data, res.err
	case <-ctx.Done():
		// The worker will still finish and drop the buffered result.
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs and waits for workers to finish their current
// build. Safe to call more than once.
func (p *BuildPool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		log.Debug().Msg("build pool closed")
	})
}
