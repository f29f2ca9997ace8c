package snapshotstore

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultWorkers is the default bounded persistence worker pool size
// (spec.md §9: "async persistence workers → bounded worker pool").
const DefaultWorkers = 4

// defaultQueueCapacity bounds how many distinct documents can have a
// persist job in flight before Enqueue starts dropping (logged, not
// fatal — the next accepted update reattempts, per spec.md §8).
const defaultQueueCapacity = 1024

// Pool is a bounded worker pool that persists snapshots asynchronously.
// Coalescing: if multiple saves are queued for the same docID before a
// worker picks it up, only the most recently enqueued record is
// written.
type Pool struct {
	store  Store
	log    logrus.FieldLogger
	jobs   chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]Record
	queued  map[string]struct{}
}

// NewPool creates a persistence pool with numWorkers goroutines. A
// numWorkers <= 0 falls back to DefaultWorkers.
func NewPool(store Store, numWorkers int, log logrus.FieldLogger) *Pool {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		store:   store,
		log:     log,
		jobs:    make(chan string, defaultQueueCapacity),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]Record),
		queued:  make(map[string]struct{}),
	}

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)

		go p.runWorker()
	}

	return p
}

func (p *Pool) runWorker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case docID := <-p.jobs:
			p.process(docID)
		}
	}
}

func (p *Pool) process(docID string) {
	p.mu.Lock()
	rec, ok := p.pending[docID]
	delete(p.pending, docID)
	delete(p.queued, docID)
	p.mu.Unlock()

	if !ok {
		return
	}

	if err := p.store.Save(p.ctx, docID, rec); err != nil {
		p.log.WithError(err).WithField("doc_id", docID).Warn("snapshot persist failed, next update will retry")
	}
}

// Enqueue schedules an asynchronous persist of rec for docID. Never
// blocks: the job is offered to a buffer of defaultQueueCapacity
// entries, and if that buffer is full the job is dropped and logged.
func (p *Pool) Enqueue(docID string, rec Record) {
	p.mu.Lock()
	p.pending[docID] = rec
	_, already := p.queued[docID]

	if !already {
		p.queued[docID] = struct{}{}
	}
	p.mu.Unlock()

	if already {
		// A job for this doc is already in flight; it will pick up
		// the newest pending record when it runs.
		return
	}

	select {
	case p.jobs <- docID:
	default:
		p.mu.Lock()
		delete(p.queued, docID)
		p.mu.Unlock()
		p.log.WithField("doc_id", docID).Warn("persistence queue full, dropping job; next update will retry")
	}
}

// Flush synchronously persists every currently pending record. Intended
// for best-effort drain on shutdown.
func (p *Pool) Flush(ctx context.Context) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]Record)
	p.queued = make(map[string]struct{})
	p.mu.Unlock()

	for docID, rec := range pending {
		if err := p.store.Save(ctx, docID, rec); err != nil {
			p.log.WithError(err).WithField("doc_id", docID).Warn("snapshot flush failed on shutdown")
		}
	}
}

// Stop halts all workers and waits for them to exit. Callers should
// call Flush first to persist any work still pending.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
