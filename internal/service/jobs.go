package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voyagen/livevault/internal/cache"
)

// RunJob executes one background job by kind.
func (c *Catalog) RunJob(ctx context.Context, job cache.Job) error {
	log := c.log.With().Str("job_id", job.ID).Str("kind", job.Kind).Logger()
	log.Info().Msg("job started")
	switch job.Kind {
	case cache.JobCleanup:
		res, err := c.Cleanup(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		log.Info().Int("deleted", res.Deleted).Int("checked", res.Checked).Msg("job done")
	case cache.JobReload:
		res := c.ReloadSaved(ctx)
		log.Info().Int("inserted", res.Inserted).Msg("job done")
	case cache.JobEnrich:
		n, err := c.Enrich(ctx)
		if err != nil {
			return fmt.Errorf("enrich: %w", err)
		}
		log.Info().Int("updated", n).Msg("job done")
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	return nil
}

// Dispatcher hands background jobs to a worker. With a Redis queue the job is
// enqueued for whichever process runs the worker; without one it runs on a
// goroutine in this process.
type Dispatcher struct {
	catalog *Catalog
	queue   *cache.Redis
	log     zerolog.Logger

	bg      context.Context
	running sync.WaitGroup

	// cleanupPending is set from Submit until an in-process cleanup job returns.
	cleanupPending atomic.Bool
}

// NewDispatcher creates a Dispatcher. queue may be nil. bg bounds jobs run in process.
func NewDispatcher(bg context.Context, c *Catalog, queue *cache.Redis, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		catalog: c,
		queue:   queue,
		log:     log.With().Str("component", "jobs").Logger(),
		bg:      bg,
	}
}

// Submit schedules a job of the given kind and returns it.
//
// A cleanup job is refused with ErrScanInProgress while a scan runs. In
// process the refusal is exact. With a Redis queue it is best-effort: two
// workers may still dequeue cleanups back to back, and the later one fails
// on the scan lock.
func (d *Dispatcher) Submit(ctx context.Context, kind string) (cache.Job, error) {
	job := cache.Job{ID: uuid.NewString(), Kind: kind, EnqueuedAt: time.Now().UTC()}
	cleanup := kind == cache.JobCleanup
	if cleanup && d.catalog.ScanRunning(ctx) {
		return job, ErrScanInProgress
	}
	if d.queue != nil {
		if err := cache.Enqueue(ctx, d.queue, cache.DefaultQueue, job); err != nil {
			return job, fmt.Errorf("enqueue %s: %w", kind, err)
		}
		d.log.Debug().Str("job_id", job.ID).Str("kind", kind).Msg("job enqueued")
		return job, nil
	}
	if cleanup && !d.cleanupPending.CompareAndSwap(false, true) {
		return job, ErrScanInProgress
	}
	d.running.Add(1)
	go func() {
		defer d.running.Done()
		if cleanup {
			defer d.cleanupPending.Store(false)
		}
		if err := d.catalog.RunJob(d.bg, job); err != nil {
			d.log.Error().Err(err).Str("job_id", job.ID).Msg("job failed")
		}
	}()
	return job, nil
}

// Wait blocks until in-process jobs have finished.
func (d *Dispatcher) Wait() {
	d.running.Wait()
}

// RunWorker dequeues jobs from Redis and runs them until ctx is cancelled.
func (d *Dispatcher) RunWorker(ctx context.Context) {
	if d.queue == nil {
		return
	}
	d.log.Info().Msg("job worker started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("job worker stopping")
			return
		default:
		}

		job, err := cache.Dequeue(ctx, d.queue, cache.DefaultQueue, 5*time.Second)
		if err != nil {
			d.log.Error().Err(err).Msg("dequeue")
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		if err := d.catalog.RunJob(ctx, *job); err != nil {
			d.log.Error().Err(err).Str("job_id", job.ID).Msg("job failed")
		}
	}
}
