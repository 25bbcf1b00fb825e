package memory

import (
	"context"
	"testing"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/journal"
)

func TestAppendAndList(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.AppendEvent(ctx, journal.Event{Type: journal.EventFulfillment}); err == nil {
		t.Fatal("expected error for missing contract id")
	}

	first, err := s.AppendEvent(ctx, journal.Event{
		ContractID: "c1",
		Type:       journal.EventContractCreated,
		Detail:     map[string]string{"funding": "500"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("identity not assigned: %+v", first)
	}

	second, err := s.AppendEvent(ctx, journal.Event{ContractID: "c1", Type: journal.EventRoundDispatched})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("duplicate event id %s", second.ID)
	}

	if _, err := s.AppendEvent(ctx, journal.Event{ContractID: "c2", Type: journal.EventContractCreated}); err != nil {
		t.Fatalf("append other contract: %v", err)
	}

	evts, err := s.ListEvents(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].Type != journal.EventContractCreated || evts[1].Type != journal.EventRoundDispatched {
		t.Fatalf("events out of order: %+v", evts)
	}

	// Mutating a returned event must not corrupt the store.
	evts[0].Detail["funding"] = "tampered"
	again, _ := s.ListEvents(ctx, "c1")
	if again[0].Detail["funding"] != "500" {
		t.Fatalf("store mutated through a returned event: %v", again[0].Detail)
	}
}

func TestListEvents_UnknownContract(t *testing.T) {
	s := New()
	evts, err := s.ListEvents(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evts) != 0 {
		t.Fatalf("expected empty history, got %d", len(evts))
	}
}
