package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/livevault/internal/models"
	"github.com/voyagen/livevault/internal/prefs"
	"github.com/voyagen/livevault/internal/store"
)

// fakeProber decides liveness with a function.
type fakeProber struct {
	aliveFunc func(ctx context.Context, url string) bool
}

func (f *fakeProber) Alive(ctx context.Context, url string) bool {
	return f.aliveFunc(ctx, url)
}

// fakeLogos returns a fixed mapping or error.
type fakeLogos struct {
	mapping models.LogoMapping
	err     error
	calls   int
	mu      sync.Mutex
}

func (f *fakeLogos) FetchLogos(ctx context.Context) (models.LogoMapping, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.mapping, f.err
}

// fakeLocker is a Locker driven by functions. A nil isLockedFunc reports unlocked.
type fakeLocker struct {
	tryLockFunc  func(ctx context.Context, key string, ttl time.Duration) (func(), error)
	isLockedFunc func(ctx context.Context, key string) bool
}

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return f.tryLockFunc(ctx, key, ttl)
}

func (f *fakeLocker) IsLocked(ctx context.Context, key string) bool {
	if f.isLockedFunc == nil {
		return false
	}
	return f.isLockedFunc(ctx, key)
}

// faultyStore wraps Memory and lets a test inject failures into single operations.
type faultyStore struct {
	*store.Memory

	mu            sync.Mutex
	deleteCalls   int
	insertCalls   int
	deleteFunc    func(call int, id int64) error
	setLogosErr   error
	snapshotErr   error
	insertBatches []int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Memory: store.NewMemory()}
}

func (f *faultyStore) DeleteChannel(ctx context.Context, id int64) error {
	f.mu.Lock()
	f.deleteCalls++
	call := f.deleteCalls
	f.mu.Unlock()
	if f.deleteFunc != nil {
		if err := f.deleteFunc(call, id); err != nil {
			return err
		}
	}
	return f.Memory.DeleteChannel(ctx, id)
}

func (f *faultyStore) InsertChannels(ctx context.Context, channels []models.Channel) (int, error) {
	f.mu.Lock()
	f.insertCalls++
	f.insertBatches = append(f.insertBatches, len(channels))
	f.mu.Unlock()
	return f.Memory.InsertChannels(ctx, channels)
}

func (f *faultyStore) SetLogos(ctx context.Context, logos map[int64]string) (int, error) {
	if f.setLogosErr != nil {
		return 0, f.setLogosErr
	}
	return f.Memory.SetLogos(ctx, logos)
}

func (f *faultyStore) Snapshot(ctx context.Context) ([]models.Channel, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.Memory.Snapshot(ctx)
}

// seedChannels inserts n channels named ch-0..ch-(n-1) with URLs http://streams/0.. and returns them.
func seedChannels(t *testing.T, s store.Store, n int) []models.Channel {
	t.Helper()
	in := make([]models.Channel, n)
	for i := range in {
		in[i] = models.Channel{
			Name:  fmt.Sprintf("ch-%d", i),
			URL:   fmt.Sprintf("http://streams/%d", i),
			Group: models.DefaultGroup,
		}
	}
	if _, err := s.InsertChannels(context.Background(), in); err != nil {
		t.Fatalf("seed: %v", err)
	}
	all, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	return all
}

// drain collects every status currently buffered on ch.
func drain(ch <-chan Status) []Status {
	var out []Status
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, st)
		default:
			return out
		}
	}
}

type catalogDeps struct {
	store   *faultyStore
	prefs   *prefs.Memory
	logos   *fakeLogos
	prober  *fakeProber
	state   *State
	catalog *Catalog
}

func newTestCatalog(t *testing.T) *catalogDeps {
	t.Helper()
	d := &catalogDeps{
		store:  newFaultyStore(),
		prefs:  &prefs.Memory{},
		logos:  &fakeLogos{mapping: models.LogoMapping{}},
		prober: &fakeProber{aliveFunc: func(context.Context, string) bool { return true }},
		state:  NewState(),
	}
	log := zerolog.Nop()
	enricher := NewEnricher(d.store, d.logos, log)
	scanner := NewScanner(d.store, d.prober, d.state, ScannerOptions{Workers: 1, Logger: log})
	d.catalog = NewCatalog(d.store, d.prefs, enricher, scanner, d.state, CatalogOptions{
		Now:    func() time.Time { return time.UnixMilli(1_700_000_000_000) },
		Logger: log,
	})
	t.Cleanup(d.catalog.Close)
	return d
}
