package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/livevault/internal/fetcher"
	"github.com/voyagen/livevault/internal/metrics"
	"github.com/voyagen/livevault/internal/models"
	"github.com/voyagen/livevault/internal/store"
)

var (
	// ErrImportInProgress is returned when an import is already running.
	ErrImportInProgress = errors.New("import already in progress")
	// ErrInvalidPlaylistURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidPlaylistURL = errors.New("playlist url must be an absolute http or https url")
)

const defaultBatchSize = 500

// Prefs persists the last successfully imported playlist URL.
type Prefs interface {
	PlaylistURL(ctx context.Context) (string, error)
	SetPlaylistURL(ctx context.Context, url string) error
}

// CatalogOptions configures a Catalog. Zero values select the defaults.
type CatalogOptions struct {
	Parser    *fetcher.Parser
	UserAgent string
	Timeout   time.Duration // playlist download timeout, default 30s
	BatchSize int           // channels per insert, default 500
	Now       func() time.Time
	Logger    zerolog.Logger
}

// ImportResult reports how many channels a playlist held and how many were new.
type ImportResult struct {
	Parsed   int `json:"parsed"`
	Inserted int `json:"inserted"`
}

// Catalog composes parsing, storage, enrichment and liveness scanning.
// Enrichment after an import runs in the background; Wait blocks until it is done.
type Catalog struct {
	store    store.Store
	prefs    Prefs
	enricher *Enricher
	scanner  *Scanner
	state    *State
	opts     CatalogOptions
	log      zerolog.Logger

	bg       context.Context
	stopBG   context.CancelFunc
	enriches sync.WaitGroup
}

// NewCatalog wires a Catalog. state must be the State the scanner publishes to.
func NewCatalog(s store.Store, prefs Prefs, enricher *Enricher, scanner *Scanner, state *State, opts CatalogOptions) *Catalog {
	if opts.Parser == nil {
		opts.Parser = fetcher.NewParser(fetcher.ParseOptions{Now: opts.Now})
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	bg, stop := context.WithCancel(context.Background())
	return &Catalog{
		store:    s,
		prefs:    prefs,
		enricher: enricher,
		scanner:  scanner,
		state:    state,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "catalog").Logger(),
		bg:       bg,
		stopBG:   stop,
	}
}

// State returns the observable loading/scanning state.
func (c *Catalog) State() *State { return c.state }

// Store returns the underlying catalog store.
func (c *Catalog) Store() store.Store { return c.store }

// --- import ---

// ImportReader parses a playlist from r and adds its channels to the catalog.
// Channels whose URL is already catalogued are left untouched.
func (c *Catalog) ImportReader(ctx context.Context, r io.Reader) (ImportResult, error) {
	if !c.state.BeginLoading() {
		return ImportResult{}, ErrImportInProgress
	}
	defer c.state.EndLoading()

	res, err := c.ingest(ctx, r)
	if err != nil {
		metrics.ImportFailures.Inc()
		return res, err
	}
	c.log.Info().Int("parsed", res.Parsed).Int("inserted", res.Inserted).Msg("playlist imported")
	c.enrichAsync()
	return res, nil
}

// ImportURL downloads and imports the playlist at rawURL. On success the URL
// is saved for ReloadSaved.
func (c *Catalog) ImportURL(ctx context.Context, rawURL string) (ImportResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := validatePlaylistURL(rawURL); err != nil {
		return ImportResult{}, err
	}
	if !c.state.BeginLoading() {
		return ImportResult{}, ErrImportInProgress
	}
	defer c.state.EndLoading()

	res, err := c.importURL(ctx, rawURL)
	if err != nil {
		metrics.ImportFailures.Inc()
		return res, err
	}
	if err := c.prefs.SetPlaylistURL(ctx, rawURL); err != nil {
		c.log.Warn().Err(err).Msg("could not save playlist url")
	}
	c.log.Info().Str("url", rawURL).Int("parsed", res.Parsed).Int("inserted", res.Inserted).Msg("playlist imported")
	c.enrichAsync()
	return res, nil
}

// ReloadSaved re-imports the saved playlist URL, if any. Failures are logged
// and otherwise ignored; the catalog keeps whatever it already holds.
func (c *Catalog) ReloadSaved(ctx context.Context) ImportResult {
	saved, err := c.prefs.PlaylistURL(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("could not read saved playlist url")
		return ImportResult{}
	}
	if saved == "" {
		return ImportResult{}
	}
	res, err := c.ImportURL(ctx, saved)
	if err != nil {
		c.log.Warn().Err(err).Str("url", saved).Msg("reload of saved playlist failed")
		return res
	}
	return res
}

func (c *Catalog) importURL(ctx context.Context, rawURL string) (ImportResult, error) {
	body, err := fetcher.OpenM3U(ctx, rawURL, c.opts.UserAgent, c.opts.Timeout)
	if err != nil {
		return ImportResult{}, fmt.Errorf("fetch: %w", err)
	}
	defer body.Close()
	return c.ingest(ctx, body)
}

// ingest streams channels from r into the store in batches.
func (c *Catalog) ingest(ctx context.Context, r io.Reader) (ImportResult, error) {
	var res ImportResult
	batch := make([]models.Channel, 0, c.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.store.InsertChannels(ctx, batch)
		if err != nil {
			return fmt.Errorf("InsertChannels: %w", err)
		}
		res.Inserted += n
		metrics.ChannelsImported.Add(float64(n))
		batch = batch[:0]
		return nil
	}

	for ch, err := range c.opts.Parser.Channels(r) {
		if err != nil {
			// Keep what was parsed before the read failed.
			if ferr := flush(); ferr != nil {
				return res, ferr
			}
			return res, fmt.Errorf("read playlist: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("import cancelled: %w", err)
		}
		res.Parsed++
		batch = append(batch, ch)
		if len(batch) == c.opts.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

func validatePlaylistURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidPlaylistURL, raw)
	}
	return nil
}

// --- enrichment ---

// Enrich runs logo enrichment synchronously.
func (c *Catalog) Enrich(ctx context.Context) (int, error) {
	if c.enricher == nil {
		return 0, nil
	}
	return c.enricher.Run(ctx)
}

func (c *Catalog) enrichAsync() {
	if c.enricher == nil {
		return
	}
	c.enriches.Add(1)
	go func() {
		defer c.enriches.Done()
		if _, err := c.enricher.Run(c.bg); err != nil {
			c.log.Warn().Err(err).Msg("background enrichment failed")
		}
	}()
}

// Wait blocks until background enrichment started by imports has finished.
func (c *Catalog) Wait() {
	c.enriches.Wait()
}

// Close cancels background enrichment and waits for it to stop.
func (c *Catalog) Close() {
	c.stopBG()
	c.enriches.Wait()
}

// --- cleanup ---

// Cleanup runs a liveness scan over the whole catalog.
func (c *Catalog) Cleanup(ctx context.Context) (ScanResult, error) {
	return c.scanner.Run(ctx)
}

// ScanRunning reports whether a liveness scan is running here or elsewhere.
func (c *Catalog) ScanRunning(ctx context.Context) bool {
	return c.scanner.Running(ctx)
}

// CancelCleanup stops a running scan. It reports whether one was running.
func (c *Catalog) CancelCleanup() bool {
	return c.scanner.Cancel()
}

// --- queries ---

func (c *Catalog) Channels(ctx context.Context, filter store.ChannelFilter) ([]models.Channel, error) {
	return c.store.ListChannels(ctx, filter)
}

func (c *Catalog) Favorites(ctx context.Context) ([]models.Channel, error) {
	return c.store.ListFavorites(ctx)
}

func (c *Catalog) Recent(ctx context.Context, limit int) ([]models.Channel, error) {
	return c.store.ListRecent(ctx, limit)
}

func (c *Catalog) Groups(ctx context.Context) ([]models.Group, error) {
	return c.store.ListGroups(ctx)
}

func (c *Catalog) Channel(ctx context.Context, id int64) (*models.Channel, error) {
	return c.store.GetChannel(ctx, id)
}

// --- user actions ---

// ToggleFavorite flips the favorite flag of a channel and returns the updated channel.
func (c *Catalog) ToggleFavorite(ctx context.Context, id int64) (*models.Channel, error) {
	ch, err := c.store.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	ch.Favorite = !ch.Favorite
	if err := c.store.SetFavorite(ctx, id, ch.Favorite); err != nil {
		return nil, err
	}
	return ch, nil
}

// MarkWatched stamps a channel with the current time.
func (c *Catalog) MarkWatched(ctx context.Context, id int64) error {
	return c.store.MarkWatched(ctx, id, c.opts.Now().UnixMilli())
}

func (c *Catalog) Delete(ctx context.Context, id int64) error {
	return c.store.DeleteChannel(ctx, id)
}

func (c *Catalog) DeleteAll(ctx context.Context) error {
	return c.store.DeleteAll(ctx)
}

func (c *Catalog) ClearFavorites(ctx context.Context) error {
	return c.store.ClearFavorites(ctx)
}

func (c *Catalog) ClearHistory(ctx context.Context) error {
	return c.store.ClearHistory(ctx)
}
