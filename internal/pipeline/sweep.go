package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/pkg/lifecycle"
)

func (m *machine) Sweep(ctx context.Context) (int, error) {
	if m.opts.StaleTimeout <= 0 {
		return 0, nil
	}

	cutoff := m.opts.Now().Add(-m.opts.StaleTimeout)
	stale, err := m.store.Stale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var swept atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.SweepConcurrency)

	for _, a := range stale {
		g.Go(func() error {
			failed, err := m.expire(gctx, a.ID, cutoff)
			if err != nil {
				return err
			}
			if failed {
				swept.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	return int(swept.Load()), err
}

// expire fails id if it is still in flight and has not been updated since cutoff.
// The check is repeated under the lock since a callback may have landed after
// the stale query ran.
func (m *machine) expire(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	var failed bool
	_, err := m.transition(ctx, id, func(a *audits.Audit) (audits.Journal, error) {
		if !a.InFlight() || a.UpdatedAt.After(cutoff) {
			return audits.Journal{}, audits.ErrNoChange
		}
		markFailed(a, TimedOutReason)
		failed = true
		return audits.Journal{Attempt: audits.Snapshot(a)}, nil
	})
	return failed, err
}

func (m *machine) StartSweeper(lc *lifecycle.Coordinator) error {
	if m.opts.StaleTimeout <= 0 {
		m.logger.Info("stale sweep disabled")
		return nil
	}

	m.logger.Info("starting stale sweep", "stale_timeout", m.opts.StaleTimeout, "interval", m.opts.SweepInterval)
	lc.Go(func(ctx context.Context) {
		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.Sweep(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					m.logger.Error("stale sweep failed", "error", err)
				}
				if n > 0 {
					m.logger.Warn("stale audits failed", "count", n)
				}
			}
		}
	})
	return nil
}
