package gen

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

var ErrPoolClosed = errors.New("generation pool closed")

type poolJob struct {
	cx, cy int
	out    chan poolResult
}

type poolResult struct {
	payload *ChunkPayload
	err     error
}

// Pool generates chunks on a fixed set of worker goroutines so callers on a
// frame loop never pay for noise evaluation themselves.
type Pool struct {
	world     World
	chunkSize int

	jobs chan poolJob
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewPool starts workers goroutines (NumCPU when workers <= 0).
func NewPool(world World, chunkSize, workers int) *Pool {
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 1)
	}
	p := &Pool{
		world:     world,
		chunkSize: chunkSize,
		jobs:      make(chan poolJob, workers*4),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker()
		}()
	}
	return p
}

func (p *Pool) worker() {
	for job := range p.jobs {
		payload, err := p.world.GenerateChunk(job.cx, job.cy, p.chunkSize)
		job.out <- poolResult{payload: payload, err: err}
	}
}

// Load queues a chunk and waits for it. If ctx ends first, Load returns the
// context error; a job already queued still runs to completion.
func (p *Pool) Load(ctx context.Context, cx, cy int) (*ChunkPayload, error) {
	out := make(chan poolResult, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	select {
	case p.jobs <- poolJob{cx: cx, cy: cy, out: out}:
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case r := <-out:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs and waits for workers to drain.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
