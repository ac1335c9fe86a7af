package cache

import (
	"sync"

	"bridgesync/internal/application/port"
)

// Store is the in-memory topic-keyed read cache. The message router is
// the sole writer; the UI layer and notifiers only read. Entries are
// never deleted, the latest value persists for the session.
type Store struct {
	mu        sync.RWMutex
	entries   map[port.Topic]any
	notifiers []port.Notifier
}

func New() *Store {
	return &Store{
		entries: make(map[port.Topic]any),
	}
}

// Subscribe registers a change notifier. Register before the session
// starts; the notifier list is not guarded afterwards.
func (s *Store) Subscribe(n port.Notifier) {
	if n != nil {
		s.notifiers = append(s.notifiers, n)
	}
}

func (s *Store) Get(topic port.Topic) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[topic]
	return v, ok
}

func (s *Store) Set(topic port.Topic, value any) {
	s.mu.Lock()
	s.entries[topic] = value
	s.mu.Unlock()

	for _, n := range s.notifiers {
		n.Notify(topic, value)
	}
}

// Snapshot returns a copy of the current entry map for UI reads.
func (s *Store) Snapshot() map[port.Topic]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[port.Topic]any, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
