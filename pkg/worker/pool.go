package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/lucilliform/lucilliform/pkg/messenger"
	"github.com/lucilliform/lucilliform/pkg/pipeline"
)

// Pool is a fixed-size set of Workers sharing one Messenger and Pipeline.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool builds size Workers, each with its own id, bound to msn and p.
func NewPool(size int, cfg Config, msn messenger.Messenger, p *pipeline.Pipeline) *Pool {
	if size < 1 {
		size = 1
	}
	pool := &Pool{workers: make([]*Worker, size)}
	for i := 0; i < size; i++ {
		pool.workers[i] = New(fmt.Sprintf("%s-%d", p.Name(), i), cfg, msn, p)
	}
	return pool
}

// Start launches every worker's Run loop on its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Stop signals every worker to drain and wait for them to finish their
// current document.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
}
