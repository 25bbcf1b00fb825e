package storage

import (
	"context"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/journal"
)

// EventStore persists the append-only contract history. Journal writes are
// best-effort from the caller's point of view; a failed append never fails
// the contract operation that produced it.
type EventStore interface {
	AppendEvent(ctx context.Context, evt journal.Event) (journal.Event, error)
	ListEvents(ctx context.Context, contractID string) ([]journal.Event, error)
}
