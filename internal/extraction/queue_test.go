package extraction_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/internal/extraction"
	"github.com/JaimeStill/assay/pkg/lifecycle"
)

type source struct {
	err error
}

func (s source) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(bytes.NewReader([]byte("%PDF-1.7 " + ref))), nil
}

type engineFunc func(ctx context.Context, doc extraction.Document) (*extraction.Result, error)

func (f engineFunc) Extract(ctx context.Context, doc extraction.Document) (*extraction.Result, error) {
	return f(ctx, doc)
}

type outcome struct {
	id      uuid.UUID
	attempt int
	result  *extraction.Result
	reason  string
}

type recorder struct {
	startErr error

	mu      sync.Mutex
	started []uuid.UUID
	done    chan outcome
}

func newRecorder() *recorder {
	return &recorder{done: make(chan outcome, 16)}
}

func (r *recorder) Start(_ context.Context, id uuid.UUID, _ int) error {
	r.mu.Lock()
	r.started = append(r.started, id)
	r.mu.Unlock()
	return r.startErr
}

func (r *recorder) Complete(_ context.Context, id uuid.UUID, attempt int, result *extraction.Result) error {
	r.done <- outcome{id: id, attempt: attempt, result: result}
	return nil
}

func (r *recorder) Fail(_ context.Context, id uuid.UUID, attempt int, reason string) error {
	r.done <- outcome{id: id, attempt: attempt, reason: reason}
	return nil
}

func (r *recorder) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-r.done:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal callback")
		return outcome{}
	}
}

func newCoordinator(t *testing.T) *lifecycle.Coordinator {
	t.Helper()
	lc := lifecycle.New()
	t.Cleanup(func() { lc.Shutdown(5 * time.Second) })
	return lc
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func request() extraction.Request {
	return extraction.Request{
		AuditID:     uuid.New(),
		Attempt:     1,
		DocumentRef: "suppliers/S1/audits/x/audit.pdf",
		Filename:    "audit.pdf",
		ContentType: "application/pdf",
		AuditType:   audits.FactoryAudit,
	}
}

func startQueue(t *testing.T, engine extraction.Engine, src extraction.Source, opts ...extraction.Option) *extraction.Queue {
	t.Helper()
	q := extraction.NewQueue(engine, src, discard(), opts...)
	lc := newCoordinator(t)
	require.NoError(t, q.Start(lc))
	return q
}

func TestQueueCompletes(t *testing.T) {
	q := startQueue(t, extraction.Stub{Grade: audits.GradeA}, source{})
	rec := newRecorder()
	req := request()

	require.NoError(t, q.Run(context.Background(), req, rec))

	o := rec.wait(t)
	assert.Equal(t, req.AuditID, o.id)
	assert.Equal(t, 1, o.attempt)
	require.NotNil(t, o.result)
	assert.Equal(t, audits.GradeA, o.result.Classification)
	assert.Contains(t, o.result.Reason, "audit.pdf")
	assert.Equal(t, []uuid.UUID{req.AuditID}, rec.started)
}

func TestQueueFailures(t *testing.T) {
	t.Run("engine error", func(t *testing.T) {
		boom := engineFunc(func(context.Context, extraction.Document) (*extraction.Result, error) {
			return nil, errors.New("model unavailable")
		})
		q := startQueue(t, boom, source{})
		rec := newRecorder()

		require.NoError(t, q.Run(context.Background(), request(), rec))
		o := rec.wait(t)
		assert.Nil(t, o.result)
		assert.Equal(t, "model unavailable", o.reason)
	})

	t.Run("document missing", func(t *testing.T) {
		q := startQueue(t, extraction.Stub{Grade: audits.GradeB}, source{err: errors.New("blob not found")})
		rec := newRecorder()

		require.NoError(t, q.Run(context.Background(), request(), rec))
		o := rec.wait(t)
		assert.Contains(t, o.reason, "open document")
	})

	t.Run("start rejected still fails", func(t *testing.T) {
		q := startQueue(t, extraction.Stub{Grade: audits.GradeB}, source{})
		rec := newRecorder()
		rec.startErr = errors.New("stale attempt")

		require.NoError(t, q.Run(context.Background(), request(), rec))
		o := rec.wait(t)
		assert.Nil(t, o.result)
		assert.Contains(t, o.reason, "stale attempt")
	})

	t.Run("timeout", func(t *testing.T) {
		slow := engineFunc(func(ctx context.Context, _ extraction.Document) (*extraction.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		q := startQueue(t, slow, source{}, extraction.WithTimeout(20*time.Millisecond))
		rec := newRecorder()

		require.NoError(t, q.Run(context.Background(), request(), rec))
		o := rec.wait(t)
		assert.Equal(t, context.DeadlineExceeded.Error(), o.reason)
	})
}

func TestQueueBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	release := make(chan struct{})

	engine := engineFunc(func(ctx context.Context, doc extraction.Document) (*extraction.Result, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return extraction.Stub{Grade: audits.GradeC}.Extract(ctx, doc)
	})

	q := startQueue(t, engine, source{}, extraction.WithWorkers(2), extraction.WithQueueSize(8))
	rec := newRecorder()

	for range 6 {
		require.NoError(t, q.Run(context.Background(), request(), rec))
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	for range 6 {
		o := rec.wait(t)
		assert.NotNil(t, o.result)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestQueueShutdown(t *testing.T) {
	q := extraction.NewQueue(extraction.Stub{Grade: audits.GradeA}, source{}, discard(), extraction.WithWorkers(1))
	require.NoError(t, q.Start(newCoordinator(t)))
	rec := newRecorder()

	for range 3 {
		require.NoError(t, q.Run(context.Background(), request(), rec))
	}

	q.Shutdown(context.Background())
	assert.Len(t, rec.done, 3, "accepted work is drained before shutdown returns")

	err := q.Run(context.Background(), request(), rec)
	assert.ErrorIs(t, err, extraction.ErrClosed)

	q.Shutdown(context.Background())
}

func TestQueueRunHonorsContextWhenFull(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	engine := engineFunc(func(context.Context, extraction.Document) (*extraction.Result, error) {
		<-block
		return nil, errors.New("released")
	})
	q := startQueue(t, engine, source{}, extraction.WithWorkers(1), extraction.WithQueueSize(1))
	rec := newRecorder()

	require.NoError(t, q.Run(context.Background(), request(), rec))
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.started) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Run(context.Background(), request(), rec))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Run(ctx, request(), rec)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// poolGuard fails callbacks that arrive after the shared pool was closed.
type poolGuard struct {
	*recorder
	closed *atomic.Bool
	late   atomic.Int32
}

func (g *poolGuard) Complete(ctx context.Context, id uuid.UUID, attempt int, result *extraction.Result) error {
	if g.closed.Load() {
		g.late.Add(1)
		return errors.New("pool closed")
	}
	return g.recorder.Complete(ctx, id, attempt, result)
}

func TestQueueDrainsBeforeClose(t *testing.T) {
	lc := lifecycle.New()
	var closed atomic.Bool
	lc.OnClose(func() { closed.Store(true) })

	slow := engineFunc(func(ctx context.Context, doc extraction.Document) (*extraction.Result, error) {
		time.Sleep(10 * time.Millisecond)
		return extraction.Stub{Grade: audits.GradeB}.Extract(ctx, doc)
	})
	q := extraction.NewQueue(slow, source{}, discard(), extraction.WithWorkers(1), extraction.WithQueueSize(8))
	require.NoError(t, q.Start(lc))

	g := &poolGuard{recorder: newRecorder(), closed: &closed}
	for range 4 {
		require.NoError(t, q.Run(context.Background(), request(), g))
	}

	require.NoError(t, lc.Shutdown(5*time.Second))
	assert.True(t, closed.Load())
	assert.Len(t, g.done, 4, "every accepted job reports before close hooks run")
	assert.Zero(t, g.late.Load())
}
