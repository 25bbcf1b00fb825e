package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/journal"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	events map[string][]journal.Event
}

var _ storage.EventStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID: 1,
		events: make(map[string][]journal.Event),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func (s *Store) AppendEvent(_ context.Context, evt journal.Event) (journal.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.ContractID == "" {
		return journal.Event{}, fmt.Errorf("event requires a contract id")
	}
	if evt.ID == "" {
		evt.ID = s.nextIDLocked()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	evt.Detail = cloneMap(evt.Detail)

	s.events[evt.ContractID] = append(s.events[evt.ContractID], evt)
	return cloneEvent(evt), nil
}

func (s *Store) ListEvents(_ context.Context, contractID string) ([]journal.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.events[contractID]
	result := make([]journal.Event, 0, len(entries))
	for _, evt := range entries {
		result = append(result, cloneEvent(evt))
	}
	return result, nil
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneEvent(evt journal.Event) journal.Event {
	evt.Detail = cloneMap(evt.Detail)
	return evt
}
