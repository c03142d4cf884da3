// Package prefs persists small user preferences, currently the last playlist URL.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	prefsBucket    = "prefs"
	keyPlaylistURL = "playlist_url"
)

// Bolt stores preferences in a BoltDB file.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if needed) the preferences file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open prefs %q: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(prefsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init prefs bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close closes the underlying file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// PlaylistURL returns the saved playlist URL, or "" when none was saved.
func (b *Bolt) PlaylistURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var url string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(prefsBucket))
		if bucket == nil {
			return errors.New("prefs bucket not found")
		}
		url = string(bucket.Get([]byte(keyPlaylistURL)))
		return nil
	})
	return url, err
}

// SetPlaylistURL saves url, replacing any previous value.
func (b *Bolt) SetPlaylistURL(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(prefsBucket))
		if bucket == nil {
			return errors.New("prefs bucket not found")
		}
		return bucket.Put([]byte(keyPlaylistURL), []byte(url))
	})
}

// Memory keeps preferences in process memory.
type Memory struct {
	mu  sync.Mutex
	url string
}

func (m *Memory) PlaylistURL(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url, nil
}

func (m *Memory) SetPlaylistURL(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	return nil
}
