package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-service/internal/core/ports"
)

const (
	defaultWorkers = 4
	channelBuffer  = 64
)

var ErrPoolClosed = errors.New("hash pool closed")

// DepthObserver receives the number of queued jobs after each change.
type DepthObserver func(depth int)

type jobKind int

const (
	jobHash jobKind = iota
	jobVerify
)

type hashJob struct {
	ctx    context.Context
	kind   jobKind
	plain  string
	digest string
	reply  chan hashResult
}

type hashResult struct {
	digest string
	ok     bool
	err    error
}

// HashPool bounds concurrent password hashing to a fixed set of workers.
// Callers block until their job is done or their context ends.
type HashPool struct {
	hasher  ports.PasswordHasher
	jobs    chan hashJob
	workers int
	observe DepthObserver
	log     zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewHashPool wraps hasher with numWorkers workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewHashPool(numWorkers int, hasher ports.PasswordHasher, observe DepthObserver, log zerolog.Logger) *HashPool {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	if observe == nil {
		observe = func(int) {}
	}
	return &HashPool{
		hasher:  hasher,
		jobs:    make(chan hashJob, channelBuffer),
		workers: numWorkers,
		observe: observe,
		log:     log,
		stopped: make(chan struct{}),
	}
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled
// or Close is called.
func (p *HashPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.stopped:
		}
	}()
}

// Close stops accepting jobs and waits for the workers to drain.
func (p *HashPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopped)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *HashPool) Hash(ctx context.Context, plain string) (string, error) {
	res := p.submit(ctx, hashJob{kind: jobHash, plain: plain})
	return res.digest, res.err
}

// Verify returns false when the pool is closed or ctx ends first.
func (p *HashPool) Verify(ctx context.Context, plain, digest string) bool {
	res := p.submit(ctx, hashJob{kind: jobVerify, plain: plain, digest: digest})
	if res.err != nil {
		p.log.Warn().Err(res.err).Msg("password verify not run")
		return false
	}
	return res.ok
}

func (p *HashPool) submit(ctx context.Context, job hashJob) hashResult {
	if err := ctx.Err(); err != nil {
		return hashResult{err: err}
	}
	job.ctx = ctx
	job.reply = make(chan hashResult, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return hashResult{err: ErrPoolClosed}
	}
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
		p.observe(len(p.jobs))
	case <-ctx.Done():
		p.mu.RUnlock()
		return hashResult{err: ctx.Err()}
	}

	select {
	case res := <-job.reply:
		return res
	case <-ctx.Done():
		return hashResult{err: ctx.Err()}
	case <-p.stopped:
		// a worker may still have picked the job up before stopping
		select {
		case res := <-job.reply:
			return res
		default:
			return hashResult{err: ErrPoolClosed}
		}
	}
}

func (p *HashPool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			return
		case job := <-p.jobs:
			p.observe(len(p.jobs))
			job.reply <- p.run(job, id)
		}
	}
}

func (p *HashPool) run(job hashJob, id int) hashResult {
	if err := job.ctx.Err(); err != nil {
		return hashResult{err: err}
	}
	switch job.kind {
	case jobHash:
		digest, err := p.hasher.Hash(job.ctx, job.plain)
		if err != nil {
			p.log.Debug().Err(err).Int("worker_id", id).Msg("hash job failed")
		}
		return hashResult{digest: digest, err: err}
	default:
		return hashResult{ok: p.hasher.Verify(job.ctx, job.plain, job.digest)}
	}
}
