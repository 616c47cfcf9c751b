package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/internal/documents"
	"github.com/JaimeStill/assay/internal/extraction"
	"github.com/JaimeStill/assay/internal/pipeline"
	"github.com/JaimeStill/assay/pkg/lifecycle"
	"github.com/JaimeStill/assay/pkg/locks"
	"github.com/JaimeStill/assay/pkg/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type runner struct {
	mu   sync.Mutex
	reqs []extraction.Request
	err  error
}

func (r *runner) Run(_ context.Context, req extraction.Request, _ extraction.Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *runner) requests() []extraction.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]extraction.Request{}, r.reqs...)
}

type env struct {
	sys    pipeline.System
	store  *audits.Memory
	blobs  *storage.Memory
	runner *runner
	clock  *clock
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := audits.NewMemory(audits.WithClock(c.Now))
	return build(t, store, c, &runner{})
}

func build(t *testing.T, store audits.System, c *clock, r extraction.Runner) *env {
	t.Helper()
	blobs := storage.NewMemory()
	docs := documents.New(blobs, documents.Config{MaxSize: 25 << 20, AcceptedTypes: []string{"application/pdf"}}, discard())

	sys := pipeline.New(store, docs, r, locks.NewMemory(), discard(), pipeline.Options{
		StaleTimeout: 30 * time.Minute,
		Now:          c.Now,
	})

	e := &env{sys: sys, blobs: blobs, clock: c}
	if m, ok := store.(*audits.Memory); ok {
		e.store = m
	}
	if rr, ok := r.(*runner); ok {
		e.runner = rr
	}
	return e
}

func upload(size int64) documents.Upload {
	return documents.Upload{
		Filename:    "factory-audit.pdf",
		ContentType: "application/pdf",
		Size:        size,
		Data:        []byte("%PDF-1.7\n%fixture"),
	}
}

func submit(t *testing.T, e *env, supplierID string) *audits.Audit {
	t.Helper()
	a, err := e.sys.Submit(context.Background(), pipeline.SubmitCommand{
		SupplierID: supplierID,
		AuditType:  string(audits.FactoryAudit),
		Upload:     upload(2 << 20),
	})
	require.NoError(t, err)
	return a
}

func result(g audits.Grade) *extraction.Result {
	supplierType := "manufacturer"
	employees := 310
	return &extraction.Result{
		Extraction: audits.Extraction{
			SupplierType:   &supplierType,
			EmployeeCount:  &employees,
			Certifications: []string{"ISO 9001"},
			MarketsServed:  map[string]float64{"EU": 70},
			PositivePoints: []string{"Organized warehouse"},
			NegativePoints: []string{},
		},
		Classification: g,
		Reason:         "grade " + string(g),
	}
}

func complete(t *testing.T, e *env, a *audits.Audit, g audits.Grade) *audits.Audit {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.sys.Start(ctx, a.ID, a.Attempt))
	require.NoError(t, e.sys.Complete(ctx, a.ID, a.Attempt, result(g)))
	return find(t, e, a.ID)
}

func find(t *testing.T, e *env, id uuid.UUID) *audits.Audit {
	t.Helper()
	a, err := e.store.Find(context.Background(), id)
	require.NoError(t, err)
	return a
}

func assertInvariants(t *testing.T, a *audits.Audit) {
	t.Helper()
	if a.Status != audits.StatusCompleted {
		assert.True(t, a.Extraction.Empty(), "extracted fields must be null while %s", a.Status)
		assert.Nil(t, a.AIClassification)
	}
	if a.ManualClassification != nil {
		require.NotNil(t, a.ClassificationNotes)
		assert.GreaterOrEqual(t, len([]rune(*a.ClassificationNotes)), 10)
	}
	assert.Equal(t, audits.EffectiveGrade(a.ManualClassification, a.AIClassification), a.EffectiveGrade())
}

func TestSubmitAndComplete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := submit(t, e, "S1")
	assert.Equal(t, audits.StatusPending, a.Status)
	assert.Equal(t, 1, a.Attempt)
	assert.Equal(t, "suppliers/S1/audits/"+a.ID.String()+"/factory-audit.pdf", a.DocumentRef)
	assert.Equal(t, int64(2<<20), a.SizeBytes)
	assertInvariants(t, a)

	reqs := e.runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, a.ID, reqs[0].AuditID)
	assert.Equal(t, 1, reqs[0].Attempt)
	assert.Equal(t, a.DocumentRef, reqs[0].DocumentRef)

	require.NoError(t, e.sys.Start(ctx, a.ID, 1))
	assert.Equal(t, audits.StatusProcessing, find(t, e, a.ID).Status)

	require.NoError(t, e.sys.Complete(ctx, a.ID, 1, result(audits.GradeA)))
	done := find(t, e, a.ID)
	assert.Equal(t, audits.StatusCompleted, done.Status)
	require.NotNil(t, done.AIClassification)
	assert.Equal(t, audits.GradeA, *done.AIClassification)
	assert.Equal(t, audits.GradeA, *done.EffectiveGrade())
	assert.Equal(t, 310, *done.EmployeeCount)
	assertInvariants(t, done)

	attempts, err := e.store.Attempts(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, audits.StatusCompleted, attempts[0].Status)
}

func TestSubmitRejectionHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name    string
		cmd     pipeline.SubmitCommand
		wantErr error
		message string
	}{
		{
			name:    "oversize",
			cmd:     pipeline.SubmitCommand{SupplierID: "S1", AuditType: "factory_audit", Upload: upload(30 << 20)},
			wantErr: documents.ErrPayloadTooLarge,
			message: "File size exceeds maximum of 25MB (30.0MB)",
		},
		{
			name: "wrong media type",
			cmd: pipeline.SubmitCommand{SupplierID: "S1", AuditType: "factory_audit", Upload: documents.Upload{
				Filename: "photo.png", ContentType: "image/png", Size: 1024, Data: []byte("png"),
			}},
			wantErr: documents.ErrUnsupportedMediaType,
		},
		{
			name:    "unknown audit type",
			cmd:     pipeline.SubmitCommand{SupplierID: "S1", AuditType: "desk_review", Upload: upload(1024)},
			wantErr: audits.ErrInvalidAuditType,
		},
		{
			name:    "missing supplier",
			cmd:     pipeline.SubmitCommand{AuditType: "factory_audit", Upload: upload(1024)},
			wantErr: audits.ErrInvalidSupplier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)

			_, err := e.sys.Submit(context.Background(), tt.cmd)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.message != "" {
				assert.EqualError(t, err, tt.message)
			}

			list, err := e.store.List(context.Background(), "S1")
			require.NoError(t, err)
			assert.Empty(t, list)
			assert.Zero(t, e.blobs.Len())
			assert.Empty(t, e.runner.requests())
		})
	}
}

type failingCreate struct {
	*audits.Memory
}

func (failingCreate) Create(context.Context, *audits.Audit) (*audits.Audit, error) {
	return nil, errors.New("connection reset")
}

func TestSubmitRemovesDocumentWhenRecordFails(t *testing.T) {
	c := &clock{now: time.Now()}
	e := build(t, failingCreate{audits.NewMemory()}, c, &runner{})

	_, err := e.sys.Submit(context.Background(), pipeline.SubmitCommand{
		SupplierID: "S1", AuditType: "factory_audit", Upload: upload(1024),
	})
	require.Error(t, err)
	assert.Zero(t, e.blobs.Len())
	assert.Empty(t, e.runner.requests())
}

func TestSubmitFailsAuditWhenDispatchRefused(t *testing.T) {
	e := newEnv(t)
	e.runner.err = extraction.ErrClosed

	a, err := e.sys.Submit(context.Background(), pipeline.SubmitCommand{
		SupplierID: "S1", AuditType: "container_inspection", Upload: upload(1024),
	})
	require.NoError(t, err)
	assert.Equal(t, audits.StatusFailed, a.Status)
	require.NotNil(t, a.ExtractionError)
	assert.Contains(t, *a.ExtractionError, "dispatch extraction")
	assertInvariants(t, a)
}

func TestFailAndReprocess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := submit(t, e, "S1")

	require.NoError(t, e.sys.Start(ctx, a.ID, 1))
	require.NoError(t, e.sys.Fail(ctx, a.ID, 1, "engine returned 502"))

	failed := find(t, e, a.ID)
	assert.Equal(t, audits.StatusFailed, failed.Status)
	assert.Equal(t, "engine returned 502", *failed.ExtractionError)
	assert.Equal(t, a.DocumentRef, failed.DocumentRef)
	assertInvariants(t, failed)

	again, err := e.sys.Reprocess(ctx, "S1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, audits.StatusPending, again.Status)
	assert.Equal(t, 2, again.Attempt)
	assert.Nil(t, again.ExtractionError)

	reqs := e.runner.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 2, reqs[1].Attempt)
	assert.Equal(t, a.DocumentRef, reqs[1].DocumentRef)

	done := complete(t, e, again, audits.GradeC)
	assert.Equal(t, audits.StatusCompleted, done.Status)
	assert.Equal(t, audits.GradeC, *done.AIClassification)
	assertInvariants(t, done)

	attempts, err := e.store.Attempts(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, audits.StatusFailed, attempts[0].Status)
	assert.Equal(t, audits.StatusCompleted, attempts[1].Status)
}

func TestReprocessClearsResultsAndOverride(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := complete(t, e, submit(t, e, "S1"), audits.GradeA)

	notes := "Manual review of dye house"
	_, err := e.store.Mutate(ctx, a.ID, func(rec *audits.Audit) (audits.Journal, error) {
		g := audits.GradeB
		rec.ManualClassification = &g
		rec.ClassificationNotes = &notes
		return audits.Journal{}, nil
	})
	require.NoError(t, err)

	again, err := e.sys.Reprocess(ctx, "S1", a.ID)
	require.NoError(t, err)
	assert.True(t, again.Extraction.Empty())
	assert.Nil(t, again.AIClassification)
	assert.Nil(t, again.AIClassificationReason)
	assert.Nil(t, again.ManualClassification)
	assert.Nil(t, again.ClassificationNotes)
	assert.Nil(t, again.EffectiveGrade())

	attempts, err := e.store.Attempts(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1, "prior completed attempt stays in the history")
	assert.Equal(t, audits.GradeA, *attempts[0].AIClassification)
}

func TestReprocessRejectedWhileInFlight(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := submit(t, e, "S1")

	_, err := e.sys.Reprocess(ctx, "S1", a.ID)
	assert.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	assert.Equal(t, a, find(t, e, a.ID))

	require.NoError(t, e.sys.Start(ctx, a.ID, 1))
	before := find(t, e, a.ID)
	_, err = e.sys.Reprocess(ctx, "S1", a.ID)
	assert.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	assert.Equal(t, before, find(t, e, a.ID))
	assert.Len(t, e.runner.requests(), 1)
}

func TestReprocessOtherSupplier(t *testing.T) {
	e := newEnv(t)
	a := complete(t, e, submit(t, e, "S1"), audits.GradeA)

	_, err := e.sys.Reprocess(context.Background(), "S2", a.ID)
	assert.ErrorIs(t, err, audits.ErrNotFound)
}

func TestConcurrentReprocessAcceptsOne(t *testing.T) {
	e := newEnv(t)
	a := complete(t, e, submit(t, e, "S1"), audits.GradeB)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Go(func() {
			_, errs[i] = e.sys.Reprocess(context.Background(), "S1", a.ID)
		})
	}
	wg.Wait()

	var accepted int
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 2, find(t, e, a.ID).Attempt)
}

func TestCallbackTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("start is idempotent", func(t *testing.T) {
		e := newEnv(t)
		a := submit(t, e, "S1")
		require.NoError(t, e.sys.Start(ctx, a.ID, 1))
		require.NoError(t, e.sys.Start(ctx, a.ID, 1))
		assert.Equal(t, audits.StatusProcessing, find(t, e, a.ID).Status)
	})

	t.Run("complete requires processing", func(t *testing.T) {
		e := newEnv(t)
		a := submit(t, e, "S1")
		err := e.sys.Complete(ctx, a.ID, 1, result(audits.GradeA))
		assert.ErrorIs(t, err, pipeline.ErrInvalidTransition)
		assert.Equal(t, audits.StatusPending, find(t, e, a.ID).Status)
	})

	t.Run("fail from pending", func(t *testing.T) {
		e := newEnv(t)
		a := submit(t, e, "S1")
		require.NoError(t, e.sys.Fail(ctx, a.ID, 1, "document unreadable"))
		assert.Equal(t, audits.StatusFailed, find(t, e, a.ID).Status)
	})

	t.Run("fail after completion rejected", func(t *testing.T) {
		e := newEnv(t)
		a := complete(t, e, submit(t, e, "S1"), audits.GradeA)
		err := e.sys.Fail(ctx, a.ID, 1, "late failure")
		assert.ErrorIs(t, err, pipeline.ErrInvalidTransition)
		assert.Equal(t, a, find(t, e, a.ID))
	})

	t.Run("invalid grade fails attempt", func(t *testing.T) {
		e := newEnv(t)
		a := submit(t, e, "S1")
		require.NoError(t, e.sys.Start(ctx, a.ID, 1))
		require.NoError(t, e.sys.Complete(ctx, a.ID, 1, result("D")))

		got := find(t, e, a.ID)
		assert.Equal(t, audits.StatusFailed, got.Status)
		assert.Contains(t, *got.ExtractionError, "invalid classification grade")
		assertInvariants(t, got)
	})

	t.Run("unknown audit", func(t *testing.T) {
		e := newEnv(t)
		assert.ErrorIs(t, e.sys.Start(ctx, uuid.New(), 1), audits.ErrNotFound)
	})
}

func TestStaleAttemptRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := submit(t, e, "S1")

	require.NoError(t, e.sys.Start(ctx, a.ID, 1))
	require.NoError(t, e.sys.Fail(ctx, a.ID, 1, "timeout"))
	_, err := e.sys.Reprocess(ctx, "S1", a.ID)
	require.NoError(t, err)
	require.NoError(t, e.sys.Start(ctx, a.ID, 2))

	before := find(t, e, a.ID)
	assert.ErrorIs(t, e.sys.Complete(ctx, a.ID, 1, result(audits.GradeA)), pipeline.ErrStaleAttempt)
	assert.ErrorIs(t, e.sys.Fail(ctx, a.ID, 1, "late"), pipeline.ErrStaleAttempt)
	assert.ErrorIs(t, e.sys.Start(ctx, a.ID, 1), pipeline.ErrStaleAttempt)
	assert.Equal(t, before, find(t, e, a.ID))
}

func TestSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	stuck := submit(t, e, "S1")
	require.NoError(t, e.sys.Start(ctx, stuck.ID, 1))

	e.clock.Advance(20 * time.Minute)
	fresh := submit(t, e, "S2")
	finished := complete(t, e, submit(t, e, "S3"), audits.GradeA)

	e.clock.Advance(15 * time.Minute)
	n, err := e.sys.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := find(t, e, stuck.ID)
	assert.Equal(t, audits.StatusFailed, got.Status)
	assert.Equal(t, pipeline.TimedOutReason, *got.ExtractionError)
	assertInvariants(t, got)

	assert.Equal(t, audits.StatusPending, find(t, e, fresh.ID).Status)
	assert.Equal(t, audits.StatusCompleted, find(t, e, finished.ID).Status)

	err = e.sys.Complete(ctx, stuck.ID, 1, result(audits.GradeA))
	assert.ErrorIs(t, err, pipeline.ErrInvalidTransition, "a late callback cannot revive a swept audit")

	_, err = e.sys.Reprocess(ctx, "S1", stuck.ID)
	assert.NoError(t, err)
}

func TestSweepDisabled(t *testing.T) {
	c := &clock{now: time.Now()}
	store := audits.NewMemory(audits.WithClock(c.Now))
	docs := documents.New(storage.NewMemory(), documents.Config{}, discard())
	sys := pipeline.New(store, docs, &runner{}, locks.NewMemory(), discard(), pipeline.Options{Now: c.Now})

	n, err := sys.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	lc := lifecycle.New()
	require.NoError(t, sys.StartSweeper(lc))
	require.NoError(t, lc.Shutdown(time.Second))
}

func TestQueueEndToEnd(t *testing.T) {
	c := &clock{now: time.Now()}
	store := audits.NewMemory(audits.WithClock(c.Now))
	blobs := storage.NewMemory()
	docs := documents.New(blobs, documents.Config{}, discard())

	queue := extraction.NewQueue(extraction.Stub{Grade: audits.GradeA}, docs, discard(), extraction.WithWorkers(2))
	lc := lifecycle.New()
	require.NoError(t, queue.Start(lc))
	t.Cleanup(func() { lc.Shutdown(5 * time.Second) })

	sys := pipeline.New(store, docs, queue, locks.NewMemory(), discard(), pipeline.Options{Now: c.Now})

	a, err := sys.Submit(context.Background(), pipeline.SubmitCommand{
		SupplierID: "S1", AuditType: "factory_audit", Upload: upload(2 << 20),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.Find(context.Background(), a.ID)
		return err == nil && got.Status == audits.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	poll, err := audits.Poll(context.Background(), store, "S1", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, poll.AnyInFlight)
	require.Len(t, poll.Audits, 1)
	assert.Equal(t, audits.GradeA, *poll.Audits[0].EffectiveGrade())
}
