package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/voyagen/livevault/internal/models"
)

// Memory is an in-process Store. Ids are assigned from a counter and never reused.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	rows   []models.Channel // id order
	byURL  map[string]int64
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{byURL: make(map[string]int64)}
}

func (m *Memory) InsertChannels(ctx context.Context, channels []models.Channel) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ch := range channels {
		if _, ok := m.byURL[ch.URL]; ok {
			continue
		}
		m.nextID++
		ch.ID = m.nextID
		ch.LogoURL = cloneString(ch.LogoURL)
		m.rows = append(m.rows, ch)
		m.byURL[ch.URL] = ch.ID
		n++
	}
	return n, nil
}

func (m *Memory) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	search := strings.ToLower(filter.Search)
	return m.collect(func(ch *models.Channel) bool {
		if filter.Group != "" && ch.Group != filter.Group {
			return false
		}
		if search != "" && !strings.Contains(strings.ToLower(ch.Name), search) {
			return false
		}
		if filter.Favorite != nil && ch.Favorite != *filter.Favorite {
			return false
		}
		return true
	}), nil
}

func (m *Memory) ListFavorites(ctx context.Context) ([]models.Channel, error) {
	fav := true
	return m.ListChannels(ctx, ChannelFilter{Favorite: &fav})
}

func (m *Memory) ListRecent(ctx context.Context, limit int) ([]models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := m.collect(func(ch *models.Channel) bool { return ch.LastUpdated > 0 })
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated != out[j].LastUpdated {
			return out[i].LastUpdated > out[j].LastUpdated
		}
		return out[i].ID > out[j].ID
	})
	if limit <= 0 {
		limit = models.DefaultRecentLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListGroups(ctx context.Context) ([]models.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	counts := make(map[string]int)
	for _, ch := range m.rows {
		counts[ch.Group]++
	}
	m.mu.RUnlock()

	groups := make([]models.Group, 0, len(counts))
	for name, n := range counts {
		groups = append(groups, models.Group{Name: name, Count: n})
	}
	slices.SortFunc(groups, func(a, b models.Group) int { return strings.Compare(a.Name, b.Name) })
	return groups, nil
}

func (m *Memory) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	ch := copyChannel(m.rows[i])
	return &ch, nil
}

func (m *Memory) Snapshot(ctx context.Context) ([]models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.collect(func(*models.Channel) bool { return true }), nil
}

func (m *Memory) SetFavorite(ctx context.Context, id int64, favorite bool) error {
	return m.update(ctx, id, func(ch *models.Channel) { ch.Favorite = favorite })
}

func (m *Memory) MarkWatched(ctx context.Context, id int64, at int64) error {
	return m.update(ctx, id, func(ch *models.Channel) { ch.LastUpdated = at })
}

func (m *Memory) SetLogos(ctx context.Context, logos map[int64]string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, logo := range logos {
		i := m.index(id)
		if i < 0 || m.rows[i].HasLogo() {
			continue
		}
		v := logo
		m.rows[i].LogoURL = &v
		n++
	}
	return n, nil
}

func (m *Memory) DeleteChannel(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return ErrNotFound
	}
	delete(m.byURL, m.rows[i].URL)
	m.rows = slices.Delete(m.rows, i, i+1)
	return nil
}

func (m *Memory) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	m.byURL = make(map[string]int64)
	return nil
}

func (m *Memory) ClearFavorites(ctx context.Context) error {
	return m.updateAll(ctx, func(ch *models.Channel) { ch.Favorite = false })
}

func (m *Memory) ClearHistory(ctx context.Context) error {
	return m.updateAll(ctx, func(ch *models.Channel) { ch.LastUpdated = 0 })
}

// --- helpers ---

func (m *Memory) index(id int64) int {
	i, ok := slices.BinarySearchFunc(m.rows, id, func(ch models.Channel, id int64) int {
		switch {
		case ch.ID < id:
			return -1
		case ch.ID > id:
			return 1
		}
		return 0
	})
	if !ok {
		return -1
	}
	return i
}

func (m *Memory) collect(keep func(*models.Channel) bool) []models.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Channel, 0, len(m.rows))
	for i := range m.rows {
		if keep(&m.rows[i]) {
			out = append(out, copyChannel(m.rows[i]))
		}
	}
	return out
}

func (m *Memory) update(ctx context.Context, id int64, fn func(*models.Channel)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return ErrNotFound
	}
	fn(&m.rows[i])
	return nil
}

func (m *Memory) updateAll(ctx context.Context, fn func(*models.Channel)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		fn(&m.rows[i])
	}
	return nil
}

func copyChannel(ch models.Channel) models.Channel {
	ch.LogoURL = cloneString(ch.LogoURL)
	return ch
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
