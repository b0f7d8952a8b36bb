package controller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"assistant/pkg/logger"
)

const persistTimeout = 10 * time.Second

type persistJob struct {
	name string
	fn   func(ctx context.Context) error
	done chan struct{}
}

// persister runs store writes off the caller's path, one at a time and in
// submission order. Failures are logged; the in-memory state stays
// authoritative.
type persister struct {
	log  *logger.Logger
	jobs chan persistJob
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newPersister(log *logger.Logger) *persister {
	p := &persister{
		log:  log,
		jobs: make(chan persistJob, 256),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *persister) run() {
	defer p.wg.Done()

	for job := range p.jobs {
		if job.fn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := job.fn(ctx); err != nil {
				p.log.Warn("Session state write failed", zap.String("op", job.name), zap.Error(err))
			}
			cancel()
		}
		if job.done != nil {
			close(job.done)
		}
	}
}

func (p *persister) submit(name string, fn func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.log.Warn("Session state write dropped after close", zap.String("op", name))
		return
	}
	p.jobs <- persistJob{name: name, fn: fn}
}

func (p *persister) flush() {
	done := make(chan struct{})

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.jobs <- persistJob{name: "flush", done: done}
	p.mu.Unlock()

	<-done
}

func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
