package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/voyagen/livevault/internal/metrics"
	"github.com/voyagen/livevault/internal/models"
	"github.com/voyagen/livevault/internal/store"
)

// LogoSource fetches the broadcaster id to logo URL mapping.
type LogoSource interface {
	FetchLogos(ctx context.Context) (models.LogoMapping, error)
}

// Enricher backfills missing channel logos from a LogoSource.
type Enricher struct {
	store store.Store
	logos LogoSource
	log   zerolog.Logger
}

// NewEnricher creates an Enricher.
func NewEnricher(s store.Store, logos LogoSource, log zerolog.Logger) *Enricher {
	return &Enricher{
		store: s,
		logos: logos,
		log:   log.With().Str("component", "enricher").Logger(),
	}
}

// Run fetches the mapping and fills the logo of every channel that has none
// and carries a tvg-id found in the mapping. All updates are written in one
// batch after the whole catalog has been examined, so an interrupted run
// changes nothing. A failed fetch is logged and reported as zero updates;
// only store failures are returned.
func (e *Enricher) Run(ctx context.Context) (int, error) {
	mapping, err := e.logos.FetchLogos(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("logo mapping unavailable, skipping enrichment")
		return 0, nil
	}

	snapshot, err := e.store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("Snapshot: %w", err)
	}

	staged := make(map[int64]string)
	for i := range snapshot {
		ch := &snapshot[i]
		if ch.HasLogo() {
			continue
		}
		if logo, ok := mapping.Lookup(ch.TvgID); ok {
			staged[ch.ID] = logo
		}
	}
	if len(staged) == 0 {
		e.log.Debug().Int("mapping", len(mapping)).Msg("no logos to backfill")
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n, err := e.store.SetLogos(ctx, staged)
	if err != nil {
		return 0, fmt.Errorf("SetLogos: %w", err)
	}
	metrics.LogosBackfilled.Add(float64(n))
	e.log.Info().Int("staged", len(staged)).Int("updated", n).Msg("logos backfilled")
	return n, nil
}
