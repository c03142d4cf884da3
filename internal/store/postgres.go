package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voyagen/livevault/internal/models"
)

const channelColumns = `id, name, url, logo_url, group_title, tvg_id, favorite, last_updated, playback_position`

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// InsertChannels inserts channels in one transaction; rows whose url already exists are skipped.
func (p *Postgres) InsertChannels(ctx context.Context, channels []models.Channel) (int, error) {
	if len(channels) == 0 {
		return 0, nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("InsertChannels: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	batch := &pgx.Batch{}
	for _, ch := range channels {
		batch.Queue(
			`INSERT INTO channels (name, url, logo_url, group_title, tvg_id, favorite, last_updated, playback_position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (url) DO NOTHING`,
			ch.Name, ch.URL, ch.LogoURL, ch.Group, ch.TvgID, ch.Favorite, ch.LastUpdated, ch.PlaybackPosition,
		)
	}
	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range channels {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("InsertChannels: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("InsertChannels: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("InsertChannels: commit: %w", err)
	}
	return inserted, nil
}

// ListChannels returns channels matching filter, ordered by id.
func (p *Postgres) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error) {
	var (
		where []string
		args  []any
	)
	if filter.Group != "" {
		args = append(args, filter.Group)
		where = append(where, fmt.Sprintf("group_title = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.Favorite != nil {
		args = append(args, *filter.Favorite)
		where = append(where, fmt.Sprintf("favorite = $%d", len(args)))
	}
	q := `SELECT ` + channelColumns + ` FROM channels`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id`
	return p.queryChannels(ctx, "ListChannels", q, args...)
}

// ListFavorites returns favorite channels, ordered by id.
func (p *Postgres) ListFavorites(ctx context.Context) ([]models.Channel, error) {
	return p.queryChannels(ctx, "ListFavorites",
		`SELECT `+channelColumns+` FROM channels WHERE favorite ORDER BY id`)
}

// ListRecent returns up to limit channels with a non-zero timestamp, newest first.
func (p *Postgres) ListRecent(ctx context.Context, limit int) ([]models.Channel, error) {
	if limit <= 0 {
		limit = models.DefaultRecentLimit
	}
	return p.queryChannels(ctx, "ListRecent",
		`SELECT `+channelColumns+` FROM channels WHERE last_updated > 0
		 ORDER BY last_updated DESC, id DESC LIMIT $1`, limit)
}

// ListGroups returns group labels with channel counts, sorted by name.
func (p *Postgres) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT group_title, COUNT(*) FROM channels GROUP BY group_title ORDER BY group_title`)
	if err != nil {
		return nil, fmt.Errorf("ListGroups: %w", err)
	}
	defer rows.Close()
	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.Name, &g.Count); err != nil {
			return nil, fmt.Errorf("ListGroups: scan: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListGroups: %w", err)
	}
	return groups, nil
}

// GetChannel returns one channel by id.
func (p *Postgres) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetChannel: %w", err)
	}
	return &ch, nil
}

// Snapshot returns the full catalog in id order.
func (p *Postgres) Snapshot(ctx context.Context) ([]models.Channel, error) {
	return p.queryChannels(ctx, "Snapshot", `SELECT `+channelColumns+` FROM channels ORDER BY id`)
}

// SetFavorite sets the favorite flag on a channel.
func (p *Postgres) SetFavorite(ctx context.Context, id int64, favorite bool) error {
	return p.execOne(ctx, "SetFavorite", `UPDATE channels SET favorite = $2 WHERE id = $1`, id, favorite)
}

// MarkWatched sets the last-interaction timestamp of a channel.
func (p *Postgres) MarkWatched(ctx context.Context, id int64, at int64) error {
	return p.execOne(ctx, "MarkWatched", `UPDATE channels SET last_updated = $2 WHERE id = $1`, id, at)
}

// SetLogos fills blank logos in one transaction.
func (p *Postgres) SetLogos(ctx context.Context, logos map[int64]string) (int, error) {
	if len(logos) == 0 {
		return 0, nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("SetLogos: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	updated := 0
	for id, logo := range logos {
		tag, err := tx.Exec(ctx,
			`UPDATE channels SET logo_url = $2 WHERE id = $1 AND (logo_url IS NULL OR logo_url = '')`,
			id, logo)
		if err != nil {
			return 0, fmt.Errorf("SetLogos: %w", err)
		}
		updated += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("SetLogos: commit: %w", err)
	}
	return updated, nil
}

// DeleteChannel removes one channel.
func (p *Postgres) DeleteChannel(ctx context.Context, id int64) error {
	return p.execOne(ctx, "DeleteChannel", `DELETE FROM channels WHERE id = $1`, id)
}

// DeleteAll removes every channel.
func (p *Postgres) DeleteAll(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM channels`); err != nil {
		return fmt.Errorf("DeleteAll: %w", err)
	}
	return nil
}

// ClearFavorites resets every favorite flag.
func (p *Postgres) ClearFavorites(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `UPDATE channels SET favorite = false WHERE favorite`); err != nil {
		return fmt.Errorf("ClearFavorites: %w", err)
	}
	return nil
}

// ClearHistory resets every last-interaction timestamp.
func (p *Postgres) ClearHistory(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `UPDATE channels SET last_updated = 0 WHERE last_updated <> 0`); err != nil {
		return fmt.Errorf("ClearHistory: %w", err)
	}
	return nil
}

// --- helpers ---

func (p *Postgres) queryChannels(ctx context.Context, op, q string, args ...any) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var out []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (p *Postgres) execOne(ctx context.Context, op, q string, args ...any) error {
	tag, err := p.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanChannel(row pgx.Row) (models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.URL, &ch.LogoURL, &ch.Group, &ch.TvgID,
		&ch.Favorite, &ch.LastUpdated, &ch.PlaybackPosition)
	return ch, err
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
