package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JaimeStill/assay/pkg/lifecycle"
)

// callbackTimeout bounds terminal callbacks, which run after the job context may
// already have expired.
const callbackTimeout = 30 * time.Second

type job struct {
	req Request
	cb  Callback
}

// Queue is a Runner backed by a bounded channel and a fixed pool of workers.
type Queue struct {
	engine  Engine
	source  Source
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent extractions.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets the number of accepted requests that may wait for a worker.
func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan job, n)
		}
	}
}

// WithTimeout bounds each extraction, including the document download.
func WithTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewQueue creates a queue that reads documents from source and extracts them
// with engine. Workers run once Start is called.
func NewQueue(engine Engine, source Source, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		engine:  engine,
		source:  source,
		logger:  logger.With("system", "extraction"),
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the workers and registers a drain hook that stops accepting
// work and finishes what was already accepted. Terminal callbacks therefore
// land before any close hook releases the database pool.
func (q *Queue) Start(lc *lifecycle.Coordinator) error {
	q.logger.Info("starting extraction queue", "workers", q.workers, "queue_size", cap(q.ch))
	q.start()

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		q.Shutdown(context.Background())
	})
	return nil
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := range q.workers {
			q.wg.Go(func() {
				workerID := i + 1
				q.logger.Debug("worker started", "worker_id", workerID)
				for j := range q.ch {
					q.process(workerID, j)
				}
				q.logger.Debug("worker stopped", "worker_id", workerID)
			})
		}
	})
}

// Run enqueues req. It blocks while the queue is full until a slot frees up or
// ctx is done.
func (q *Queue) Run(ctx context.Context, req Request, cb Callback) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	j := job{req: req, cb: cb}
	select {
	case q.ch <- j:
	default:
		q.logger.Warn("queue full, applying backpressure", "audit_id", req.AuditID)
		select {
		case q.ch <- j:
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", req.AuditID, ctx.Err())
		}
	}

	q.logger.Info("extraction queued", "audit_id", req.AuditID, "attempt", req.Attempt)
	return nil
}

// Shutdown stops accepting work and waits for the workers to drain the queue or
// for ctx to be done.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("extraction queue shutdown interrupted")
	case <-done:
		q.logger.Info("extraction queue drained")
	}
}

func (q *Queue) process(workerID int, j job) {
	req := j.req
	logger := q.logger.With("worker_id", workerID, "audit_id", req.AuditID, "attempt", req.Attempt)

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	if err := j.cb.Start(ctx, req.AuditID, req.Attempt); err != nil {
		logger.Warn("extraction start rejected", "error", err)
		q.fail(logger, j, fmt.Sprintf("start extraction: %v", err))
		return
	}

	result, err := q.extract(ctx, req)
	if err != nil {
		logger.Warn("extraction failed", "error", err)
		q.fail(logger, j, err.Error())
		return
	}

	cctx, ccancel := q.callbackContext(ctx)
	defer ccancel()
	if err := j.cb.Complete(cctx, req.AuditID, req.Attempt, result); err != nil {
		logger.Error("extraction complete callback failed", "error", err)
		return
	}
	logger.Info("extraction completed", "classification", result.Classification)
}

func (q *Queue) extract(ctx context.Context, req Request) (*Result, error) {
	body, err := q.source.Open(ctx, req.DocumentRef)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer body.Close()

	return q.engine.Extract(ctx, Document{Request: req, Body: body})
}

func (q *Queue) fail(logger *slog.Logger, j job, reason string) {
	ctx, cancel := q.callbackContext(context.Background())
	defer cancel()
	if err := j.cb.Fail(ctx, j.req.AuditID, j.req.Attempt, reason); err != nil {
		logger.Error("extraction fail callback failed", "error", err)
	}
}

func (q *Queue) callbackContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), callbackTimeout)
}
