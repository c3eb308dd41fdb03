package runtimectx

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Job is a unit of CPU-bound work submitted to the thread pool. It runs
// off the main thread and posts its result back through a completion
// channel the main thread drains once per frame.
type Job func(ctx context.Context) (interface{}, error)

// Completion is one finished Job's outcome, tagged with the name it was
// submitted under so callers can route results without a type switch
// over the raw value.
type Completion struct {
	Name   string
	Result interface{}
	Err    error
}

// ThreadPool runs submitted Jobs on a bounded set of worker goroutines
// and buffers their Completions until the main thread drains them. This
// is the "worker pool" half of the concurrency model: workers never
// touch main-thread-only resources directly, they only ever produce a
// Completion for the main thread to act on.
type ThreadPool struct {
	workers int

	mu          sync.Mutex
	completions []Completion
	drained     []Completion

	submit chan submission
	group  *errgroup.Group
	ctx    context.Context
}

type submission struct {
	name string
	job  Job
}

// NewThreadPool builds a pool with the given number of worker
// goroutines. workers is clamped to at least 1.
func NewThreadPool(ctx context.Context, workers int) *ThreadPool {
	if workers < 1 {
		workers = 1
	}
	group, gctx := errgroup.WithContext(ctx)
	p := &ThreadPool{
		workers: workers,
		submit:  make(chan submission, workers*4),
		group:   group,
		ctx:     gctx,
	}
	for i := 0; i < workers; i++ {
		group.Go(p.runWorker)
	}
	return p
}

func (p *ThreadPool) runWorker() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case s, ok := <-p.submit:
			if !ok {
				return nil
			}
			result, err := s.job(p.ctx)
			p.mu.Lock()
			p.completions = append(p.completions, Completion{Name: s.name, Result: result, Err: err})
			p.mu.Unlock()
		}
	}
}

// Submit enqueues a job to run on a worker goroutine. It never blocks
// the caller beyond the queue's buffer filling up.
func (p *ThreadPool) Submit(name string, job Job) {
	select {
	case p.submit <- submission{name: name, job: job}:
	case <-p.ctx.Done():
	}
}

// DrainCompletions moves every buffered Completion into Drained. Satisfies
// orchestrator.ThreadPoolDrainer.
func (p *ThreadPool) DrainCompletions(_ context.Context) error {
	p.mu.Lock()
	p.drained = p.completions
	p.completions = nil
	p.mu.Unlock()
	return nil
}

// Drained returns the completions gathered by the most recent
// DrainCompletions call.
func (p *ThreadPool) Drained() []Completion {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drained
}

// Close stops accepting new submissions and waits for in-flight jobs to
// observe ctx cancellation.
func (p *ThreadPool) Close() error {
	close(p.submit)
	return p.group.Wait()
}
