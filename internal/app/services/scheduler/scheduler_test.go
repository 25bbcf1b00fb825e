package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/contract"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/provider"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/services/ledger"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/storage/memory"
)

type countingDispatcher struct {
	ch chan struct{}
}

func (d *countingDispatcher) Dispatch(_ context.Context, contractID string, _ contract.Terms, jobs []contract.Job) ([]string, error) {
	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = contractID + "/" + job.JobID
	}
	select {
	case d.ch <- struct{}{}:
	default:
	}
	return ids, nil
}

func TestAutoEvaluator_TriggersDueContract(t *testing.T) {
	bank := ledger.NewMemory()
	bank.Mint("provider", 10_000)
	d := &countingDispatcher{ch: make(chan struct{}, 1)}
	p := provider.New(provider.Config{
		Admin:             "admin",
		Account:           "provider",
		DefaultJob:        contract.Job{Endpoint: "weather.primary", JobID: "station-readout"},
		PaymentPerRequest: 100,
	}, bank, d, memory.New(), nil)

	terms := contract.Terms{
		DatasetID:     "noaa-ghcnd",
		Option:        contract.OptionCall,
		Locations:     []contract.Location{{StationID: "USW00023174"}},
		CoverageStart: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		CoverageEnd:   time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC),
	}
	if _, err := p.CreateContract(context.Background(), "admin", "c1", terms); err != nil {
		t.Fatalf("create: %v", err)
	}

	a := New(p, "@every 100ms", nil)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop(context.Background())

	select {
	case <-d.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled evaluation never fired")
	}

	st, err := p.Status("c1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != contract.StateEvaluating {
		t.Fatalf("contract state after sweep: %s", st.State)
	}
}

func TestAutoEvaluator_RejectsBadSpec(t *testing.T) {
	p := provider.New(provider.Config{Admin: "admin"}, ledger.NewMemory(), nil, memory.New(), nil)
	a := New(p, "not a schedule", nil)
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestAutoEvaluator_StartStopIdempotent(t *testing.T) {
	p := provider.New(provider.Config{Admin: "admin"}, ledger.NewMemory(), nil, memory.New(), nil)
	a := New(p, "@every 1h", nil)

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("double start: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
