package service

import (
	"sync"

	"github.com/voyagen/livevault/internal/models"
)

// Status is a point-in-time view of the background work flags.
type Status struct {
	Loading  bool                 `json:"loading"`
	Scanning bool                 `json:"scanning"`
	Progress *models.ScanProgress `json:"progress,omitempty"`
}

// State owns the loading/scanning flags and scan progress. Every change is
// published to subscribers; a subscriber that falls behind only loses
// intermediate values, never the latest one.
type State struct {
	mu     sync.Mutex
	cur    Status
	subs   map[int]chan Status
	nextID int
}

// NewState returns an idle State.
func NewState() *State {
	return &State{subs: make(map[int]chan Status)}
}

// Current returns a copy of the current status.
func (s *State) Current() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.clone()
}

// Subscribe returns a channel that receives the current status immediately and
// every change after it. buf is the channel capacity (minimum 1). Call cancel
// to stop receiving; the channel is closed.
func (s *State) Subscribe(buf int) (updates <-chan Status, cancel func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Status, buf)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.cur.clone()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// BeginLoading sets the loading flag. It returns false when an import is already running.
func (s *State) BeginLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Loading {
		return false
	}
	s.cur.Loading = true
	s.publish()
	return true
}

// EndLoading clears the loading flag.
func (s *State) EndLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Loading = false
	s.publish()
}

// BeginScan sets the scanning flag. It returns false when a scan is already running.
func (s *State) BeginScan() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Scanning {
		return false
	}
	s.cur.Scanning = true
	s.cur.Progress = nil
	s.publish()
	return true
}

// SetProgress publishes scan progress.
func (s *State) SetProgress(p models.ScanProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Progress = &p
	s.publish()
}

// EndScan clears the scanning flag and progress.
func (s *State) EndScan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Scanning = false
	s.cur.Progress = nil
	s.publish()
}

// publish must be called with mu held.
func (s *State) publish() {
	for _, ch := range s.subs {
		st := s.cur.clone()
		select {
		case ch <- st:
			continue
		default:
		}
		// Full: drop the oldest value so the newest always lands.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func (st Status) clone() Status {
	if st.Progress != nil {
		p := *st.Progress
		st.Progress = &p
	}
	return st
}
