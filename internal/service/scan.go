package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/voyagen/livevault/internal/cache"
	"github.com/voyagen/livevault/internal/metrics"
	"github.com/voyagen/livevault/internal/models"
	"github.com/voyagen/livevault/internal/store"
)

// ErrScanInProgress is returned when a liveness scan is already running.
var ErrScanInProgress = errors.New("scan already in progress")

// scanLockKey is the Redis lock held for the duration of a scan.
const scanLockKey = "scan"

// Prober reports whether a stream URL is reachable.
type Prober interface {
	Alive(ctx context.Context, url string) bool
}

// Locker provides cross-process mutual exclusion. *cache.Redis implements it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error)
	IsLocked(ctx context.Context, key string) bool
}

// ScannerOptions configures a Scanner. Zero values select the defaults.
type ScannerOptions struct {
	Workers       int           // concurrent probes, default 4
	ProgressEvery int           // publish progress every n processed records, default 5
	Rate          float64       // probes started per second, 0 = unlimited
	Locker        Locker        // optional, guards against scans in other processes
	LockTTL       time.Duration // default 1h
	Logger        zerolog.Logger
}

// ScanResult summarises one liveness scan.
type ScanResult struct {
	ID        uuid.UUID     `json:"id"`
	Total     int           `json:"total"`
	Checked   int           `json:"checked"`
	Deleted   int           `json:"deleted"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// Scanner probes every catalogued URL and deletes the unreachable ones.
type Scanner struct {
	store  store.Store
	prober Prober
	state  *State
	opts   ScannerOptions
	log    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewScanner creates a Scanner publishing its flags and progress to state.
func NewScanner(s store.Store, p Prober, state *State, opts ScannerOptions) *Scanner {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = 5
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Hour
	}
	return &Scanner{
		store:  s,
		prober: p,
		state:  state,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "scanner").Logger(),
	}
}

type probeResult struct {
	idx   int
	alive bool
}

// Run scans a snapshot of the catalog. Dead channels are deleted as soon as
// their probe completes, so deletions already made survive a later failure or
// cancellation. Progress is published after every ProgressEvery processed
// records and cleared when the scan ends.
//
// Cancellation (Cancel or ctx) stops new probes. Probes that had already
// reached a verdict are still applied, and Run returns a result with
// Cancelled set and a nil error.
func (sc *Scanner) Run(ctx context.Context) (ScanResult, error) {
	if !sc.state.BeginScan() {
		return ScanResult{}, ErrScanInProgress
	}
	defer sc.state.EndScan()

	if sc.opts.Locker != nil {
		unlock, err := sc.opts.Locker.TryLock(ctx, scanLockKey, sc.opts.LockTTL)
		if errors.Is(err, cache.ErrLocked) {
			return ScanResult{}, ErrScanInProgress
		}
		if err != nil {
			return ScanResult{}, fmt.Errorf("scan lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	res := ScanResult{ID: uuid.New()}
	log := sc.log.With().Str("scan_id", res.ID.String()).Logger()

	snapshot, err := sc.store.Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("Snapshot: %w", err)
	}
	res.Total = len(snapshot)
	log.Info().Int("total", res.Total).Int("workers", sc.opts.Workers).Msg("scan started")

	// probeCtx governs probing only. Deletions of decided channels run on
	// storeCtx so a cancel cannot interrupt them halfway.
	probeCtx, cancel := context.WithCancel(ctx)
	storeCtx := context.WithoutCancel(ctx)
	sc.mu.Lock()
	sc.cancel = cancel
	sc.mu.Unlock()
	defer func() {
		sc.mu.Lock()
		sc.cancel = nil
		sc.mu.Unlock()
		cancel()
	}()

	results := sc.probeAll(probeCtx, snapshot)
	for r := range results {
		metrics.RecordProbe(r.alive)
		processed := res.Checked
		res.Checked++
		if !r.alive {
			ch := snapshot[r.idx]
			if err := sc.store.DeleteChannel(storeCtx, ch.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				cancel()
				for range results {
				}
				res.Duration = time.Since(start)
				log.Error().Err(err).Int64("channel_id", ch.ID).Msg("scan aborted")
				return res, fmt.Errorf("DeleteChannel %d: %w", ch.ID, err)
			}
			res.Deleted++
			metrics.ChannelsPruned.Inc()
			log.Debug().Int64("channel_id", ch.ID).Str("url", ch.URL).Msg("removed dead channel")
		}
		if processed%sc.opts.ProgressEvery == 0 {
			sc.state.SetProgress(models.ScanProgress{
				Current: processed,
				Total:   res.Total,
				Status:  fmt.Sprintf("Checking %d / %d (removed %d)", processed+1, res.Total, res.Deleted),
			})
		}
	}

	res.Cancelled = probeCtx.Err() != nil
	res.Duration = time.Since(start)
	metrics.ScanDuration.Observe(res.Duration.Seconds())
	log.Info().
		Int("checked", res.Checked).
		Int("deleted", res.Deleted).
		Bool("cancelled", res.Cancelled).
		Dur("duration", res.Duration).
		Msg("scan finished")
	return res, nil
}

// probeAll fans the snapshot out to a bounded pool of probes. Every verdict
// reached before ctx is done is delivered; the caller must drain the channel,
// which is closed once every started probe has returned.
func (sc *Scanner) probeAll(ctx context.Context, snapshot []models.Channel) <-chan probeResult {
	results := make(chan probeResult)
	limit := rate.Inf
	if sc.opts.Rate > 0 {
		limit = rate.Limit(sc.opts.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(sc.opts.Workers)
		for i, ch := range snapshot {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
			g.Go(func() error {
				alive := sc.prober.Alive(ctx, ch.URL)
				// A probe that ends after cancellation may have been cut short;
				// its verdict says nothing about the stream.
				if ctx.Err() != nil {
					return nil
				}
				results <- probeResult{idx: i, alive: alive}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return results
}

// Running reports whether a scan is in progress in this process or, when a
// Locker is configured, holds the lock in another one.
func (sc *Scanner) Running(ctx context.Context) bool {
	if sc.state.Current().Scanning {
		return true
	}
	return sc.opts.Locker != nil && sc.opts.Locker.IsLocked(ctx, scanLockKey)
}

// Cancel stops the running scan, if any. No new probes start; verdicts
// already reached are still applied. It reports whether a scan was running.
func (sc *Scanner) Cancel() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cancel == nil {
		return false
	}
	sc.cancel()
	return true
}
