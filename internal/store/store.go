package store

import (
	"context"
	"errors"

	"github.com/voyagen/livevault/internal/models"
)

// ErrNotFound is returned when a channel id does not exist.
var ErrNotFound = errors.New("not found")

// Store is the channel catalog. Channels are unique by URL.
type Store interface {
	// InsertChannels adds channels, leaving any channel whose URL already exists untouched.
	// It returns how many were actually inserted.
	InsertChannels(ctx context.Context, channels []models.Channel) (int, error)

	// ListChannels returns channels matching the filter, ordered by id.
	ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error)
	// ListFavorites returns channels flagged as favorite.
	ListFavorites(ctx context.Context) ([]models.Channel, error)
	// ListRecent returns up to limit channels by last interaction, newest first.
	// Channels whose timestamp was cleared are excluded.
	ListRecent(ctx context.Context, limit int) ([]models.Channel, error)
	// ListGroups returns the distinct group labels, sorted by name.
	ListGroups(ctx context.Context) ([]models.Group, error)
	// GetChannel returns one channel by id.
	GetChannel(ctx context.Context, id int64) (*models.Channel, error)
	// Snapshot returns the whole catalog in id order. It always reads the backing store.
	Snapshot(ctx context.Context) ([]models.Channel, error)

	// SetFavorite sets the favorite flag on a channel.
	SetFavorite(ctx context.Context, id int64, favorite bool) error
	// MarkWatched sets the last-interaction timestamp (epoch millis) of a channel.
	MarkWatched(ctx context.Context, id int64, at int64) error
	// SetLogos fills the logo of each channel id in one transaction.
	// Channels that already carry a logo are left unchanged.
	SetLogos(ctx context.Context, logos map[int64]string) (int, error)

	// DeleteChannel removes one channel.
	DeleteChannel(ctx context.Context, id int64) error
	// DeleteAll removes every channel.
	DeleteAll(ctx context.Context) error
	// ClearFavorites resets the favorite flag on every channel.
	ClearFavorites(ctx context.Context) error
	// ClearHistory resets the last-interaction timestamp on every channel.
	ClearHistory(ctx context.Context) error
}

// ChannelFilter holds optional filters for listing channels.
type ChannelFilter struct {
	Group    string // exact group label; empty = all
	Search   string // case-insensitive substring match on channel name
	Favorite *bool
}
