package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/voyagen/livevault/internal/models"
)

const sqliteDriver = "sqlite3"

var channelCols = []string{
	"id", "name", "url", "logo_url", "group_title", "tvg_id", "favorite", "last_updated", "playback_position",
}

// SQLite implements Store on an embedded SQLite file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite migrates and opens the database file at path. Caller must call Close when done.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := RunSQLiteMigrations(path); err != nil {
		return nil, fmt.Errorf("migrate %q: %w", path, err)
	}
	db, err := sql.Open(sqliteDriver, path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at path %q: %w", path, err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// InsertChannels inserts channels in one transaction using INSERT OR IGNORE on the url key.
func (s *SQLite) InsertChannels(ctx context.Context, channels []models.Channel) (n int, err error) {
	if len(channels) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("InsertChannels: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, ch := range channels {
		query, args, err := squirrel.Insert("channels").
			Options("OR IGNORE").
			Columns("name", "url", "logo_url", "group_title", "tvg_id", "favorite", "last_updated", "playback_position").
			Values(ch.Name, ch.URL, ch.LogoURL, ch.Group, ch.TvgID, ch.Favorite, ch.LastUpdated, ch.PlaybackPosition).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("InsertChannels: build: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert channel %q: %w", ch.URL, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("InsertChannels: %w", err)
		}
		n += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("InsertChannels: commit: %w", err)
	}
	return n, nil
}

// ListChannels returns channels matching filter, ordered by id.
func (s *SQLite) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error) {
	q := squirrel.Select(channelCols...).From("channels").OrderBy("id")
	if filter.Group != "" {
		q = q.Where(squirrel.Eq{"group_title": filter.Group})
	}
	if filter.Search != "" {
		q = q.Where(squirrel.Expr(`name LIKE ? ESCAPE '\'`, "%"+escapeLike(filter.Search)+"%"))
	}
	if filter.Favorite != nil {
		q = q.Where(squirrel.Eq{"favorite": *filter.Favorite})
	}
	return s.queryChannels(ctx, "ListChannels", q)
}

// ListFavorites returns favorite channels, ordered by id.
func (s *SQLite) ListFavorites(ctx context.Context) ([]models.Channel, error) {
	fav := true
	return s.ListChannels(ctx, ChannelFilter{Favorite: &fav})
}

// ListRecent returns up to limit channels with a non-zero timestamp, newest first.
func (s *SQLite) ListRecent(ctx context.Context, limit int) ([]models.Channel, error) {
	if limit <= 0 {
		limit = models.DefaultRecentLimit
	}
	q := squirrel.Select(channelCols...).From("channels").
		Where(squirrel.Gt{"last_updated": 0}).
		OrderBy("last_updated DESC", "id DESC").
		Limit(uint64(limit))
	return s.queryChannels(ctx, "ListRecent", q)
}

// ListGroups returns group labels with channel counts, sorted by name.
func (s *SQLite) ListGroups(ctx context.Context) ([]models.Group, error) {
	query, args, err := squirrel.Select("group_title", "COUNT(*)").From("channels").
		GroupBy("group_title").OrderBy("group_title").ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListGroups: build: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLite) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	query, args, err := squirrel.Select(channelCols...).From("channels").
		Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("GetChannel: build: %w", err)
	}
	ch, err := scanSQLiteChannel(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetChannel: %w", err)
	}
	return &ch, nil
}

// Snapshot returns the full catalog in id order.
func (s *SQLite) Snapshot(ctx context.Context) ([]models.Channel, error) {
	return s.queryChannels(ctx, "Snapshot", squirrel.Select(channelCols...).From("channels").OrderBy("id"))
}

// SetFavorite sets the favorite flag on a channel.
func (s *SQLite) SetFavorite(ctx context.Context, id int64, favorite bool) error {
	return s.execOne(ctx, "SetFavorite",
		squirrel.Update("channels").Set("favorite", favorite).Where(squirrel.Eq{"id": id}))
}

// MarkWatched sets the last-interaction timestamp of a channel.
func (s *SQLite) MarkWatched(ctx context.Context, id int64, at int64) error {
	return s.execOne(ctx, "MarkWatched",
		squirrel.Update("channels").Set("last_updated", at).Where(squirrel.Eq{"id": id}))
}

// SetLogos fills blank logos in one transaction.
func (s *SQLite) SetLogos(ctx context.Context, logos map[int64]string) (n int, err error) {
	if len(logos) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("SetLogos: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for id, logo := range logos {
		query, args, err := squirrel.Update("channels").
			Set("logo_url", logo).
			Where(squirrel.Eq{"id": id}).
			Where(squirrel.Or{squirrel.Eq{"logo_url": nil}, squirrel.Eq{"logo_url": ""}}).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("SetLogos: build: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("SetLogos: channel %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("SetLogos: %w", err)
		}
		n += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("SetLogos: commit: %w", err)
	}
	return n, nil
}

// DeleteChannel removes one channel.
func (s *SQLite) DeleteChannel(ctx context.Context, id int64) error {
	return s.execOne(ctx, "DeleteChannel", squirrel.Delete("channels").Where(squirrel.Eq{"id": id}))
}

// DeleteAll removes every channel.
func (s *SQLite) DeleteAll(ctx context.Context) error {
	return s.exec(ctx, "DeleteAll", squirrel.Delete("channels"))
}

// ClearFavorites resets every favorite flag.
func (s *SQLite) ClearFavorites(ctx context.Context) error {
	return s.exec(ctx, "ClearFavorites",
		squirrel.Update("channels").Set("favorite", false).Where(squirrel.Eq{"favorite": true}))
}

// ClearHistory resets every last-interaction timestamp.
func (s *SQLite) ClearHistory(ctx context.Context) error {
	return s.exec(ctx, "ClearHistory",
		squirrel.Update("channels").Set("last_updated", 0).Where(squirrel.NotEq{"last_updated": 0}))
}

// --- helpers ---

func (s *SQLite) queryChannels(ctx context.Context, op string, q squirrel.SelectBuilder) ([]models.Channel, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build: %w", op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var out []models.Channel
	for rows.Next() {
		ch, err := scanSQLiteChannel(rows)
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

func (s *SQLite) exec(ctx context.Context, op string, q squirrel.Sqlizer) error {
	_, err := s.execResult(ctx, op, q)
	return err
}

func (s *SQLite) execOne(ctx context.Context, op string, q squirrel.Sqlizer) error {
	n, err := s.execResult(ctx, op, q)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) execResult(ctx context.Context, op string, q squirrel.Sqlizer) (int64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: build: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteChannel(row rowScanner) (models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.URL, &ch.LogoURL, &ch.Group, &ch.TvgID,
		&ch.Favorite, &ch.LastUpdated, &ch.PlaybackPosition)
	return ch, err
}
