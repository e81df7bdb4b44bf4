// Package scheduler runs the two periodic background tasks the ingest core depends on: reaping batches whose
// owning agent went silent, and keeping the error log's monthly partitions ahead of the write path.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/batch"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/errorlog"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/metrics"
)

// Reaper transitions IN_PROGRESS batches that have sat past their timeout to NOT_COMPLETED. Ticks never overlap
// themselves: a tick that is still running when the next one fires is skipped rather than queued.
type Reaper struct {
	batches  batch.Repository
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
	running  atomic.Bool
}

// NewReaper creates a Reaper that ticks every interval and reaps batches started more than timeout ago.
func NewReaper(batches batch.Repository, interval, timeout time.Duration, logger zerolog.Logger) *Reaper {
	return &Reaper{batches: batches, interval: interval, timeout: timeout, log: logger}
}

// Run blocks, ticking until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Warn().Msg("reaper tick skipped, previous tick still running")
		return
	}
	defer r.running.Store(false)

	cutoff := time.Now().UTC().Add(-r.timeout)
	reaped, err := r.batches.ReapTimedOut(ctx, cutoff)
	if err != nil {
		metrics.ReaperRunsTotal.WithLabelValues("error").Inc()
		r.log.Error().Err(err).Msg("batch reaper tick failed")
		return
	}
	metrics.ReaperRunsTotal.WithLabelValues("ok").Inc()
	if reaped > 0 {
		metrics.BatchesReapedTotal.Add(float64(reaped))
		r.log.Info().Int("reaped", reaped).Time("cutoff", cutoff).Msg("reaped timed-out batches")
	}
}

// PartitionMaintainer pre-creates the error_logs partition for the next calendar month so the write path never
// lands on a month with no partition. It ticks daily: every tick ensures the current month's partition, and a tick
// on the 1st of the month also creates the next month's. The daily tick (rather than a once-a-month one) keeps it
// self-healing if the process was down across a month boundary.
type PartitionMaintainer struct {
	errors  errorlog.Repository
	log     zerolog.Logger
	running atomic.Bool
}

// NewPartitionMaintainer creates a PartitionMaintainer.
func NewPartitionMaintainer(errors errorlog.Repository, logger zerolog.Logger) *PartitionMaintainer {
	return &PartitionMaintainer{errors: errors, log: logger}
}

// Run blocks, checking once a day until ctx is cancelled. It creates the current month's partition immediately on
// startup (covering the case where the process starts mid-month on a fresh database) and the next month's
// partition every time the tick lands on the 1st.
func (m *PartitionMaintainer) Run(ctx context.Context) {
	m.tick(ctx, time.Now().UTC())

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.tick(ctx, now.UTC())
		}
	}
}

func (m *PartitionMaintainer) tick(ctx context.Context, now time.Time) {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Warn().Msg("partition maintainer tick skipped, previous tick still running")
		return
	}
	defer m.running.Store(false)

	if err := m.errors.EnsurePartition(ctx, now); err != nil {
		metrics.PartitionMaintainerRunsTotal.WithLabelValues("error").Inc()
		m.log.Error().Err(err).Msg("ensure current month partition failed")
	} else {
		metrics.PartitionMaintainerRunsTotal.WithLabelValues("ok").Inc()
	}

	if now.Day() != 1 {
		return
	}

	next := now.AddDate(0, 1, 0)
	if err := m.errors.EnsurePartition(ctx, next); err != nil {
		metrics.PartitionMaintainerRunsTotal.WithLabelValues("error").Inc()
		m.log.Error().Err(err).Msg("ensure next month partition failed")
		return
	}
	metrics.PartitionMaintainerRunsTotal.WithLabelValues("ok").Inc()
	m.log.Info().Str("month", next.Format("2006-01")).Msg("pre-created next month's error log partition")
}
