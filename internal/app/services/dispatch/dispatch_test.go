package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/contract"
)

func sampleTerms() contract.Terms {
	start := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	return contract.Terms{
		DatasetID:     "noaa-ghcnd",
		Option:        contract.OptionCall,
		Locations:     []contract.Location{{StationID: "USW00023174"}},
		CoverageStart: start,
		CoverageEnd:   start.AddDate(0, 3, 0),
		Strike:        85 * contract.Scale,
		Limit:         250_000 * contract.Scale,
		Tick:          5_000 * contract.Scale,
	}
}

func TestDispatch_OnePerJob(t *testing.T) {
	var sent []Request
	d := New(SenderFunc(func(_ context.Context, req Request) error {
		sent = append(sent, req)
		return nil
	}), "http://callback/fulfillments", nil)

	jobs := []contract.Job{
		{Endpoint: "ep-a", JobID: "j1"},
		{Endpoint: "ep-b", JobID: "j2"},
		{Endpoint: "ep-c", JobID: "j3"},
	}
	ids, err := d.Dispatch(context.Background(), "c1", sampleTerms(), jobs)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(ids) != len(jobs) || len(sent) != len(jobs) {
		t.Fatalf("expected %d requests, got %d ids / %d sent", len(jobs), len(ids), len(sent))
	}

	seen := make(map[string]bool)
	for i, req := range sent {
		if req.CorrelationID != ids[i] {
			t.Fatalf("request %d: id %s not in issue order", i, req.CorrelationID)
		}
		if seen[req.CorrelationID] {
			t.Fatalf("duplicate correlation ID %s", req.CorrelationID)
		}
		seen[req.CorrelationID] = true
		if req.Endpoint != jobs[i].Endpoint || req.JobID != jobs[i].JobID {
			t.Fatalf("request %d routed wrong: %+v", i, req)
		}
		if req.ContractID != "c1" || req.CallbackURL != "http://callback/fulfillments" {
			t.Fatalf("request %d payload wrong: %+v", i, req)
		}
	}
}

func TestDispatch_NoJobs(t *testing.T) {
	d := New(SenderFunc(func(context.Context, Request) error {
		t.Fatal("sender must not be called")
		return nil
	}), "", nil)
	if _, err := d.Dispatch(context.Background(), "c1", sampleTerms(), nil); !errors.Is(err, contract.ErrNoJobs) {
		t.Fatalf("expected ErrNoJobs, got %v", err)
	}
}

func TestDispatch_SendFailureAborts(t *testing.T) {
	calls := 0
	d := New(SenderFunc(func(_ context.Context, req Request) error {
		calls++
		if req.JobID == "j2" {
			return errors.New("connection refused")
		}
		return nil
	}), "", nil)

	jobs := []contract.Job{
		{Endpoint: "ep-a", JobID: "j1"},
		{Endpoint: "ep-b", JobID: "j2"},
		{Endpoint: "ep-c", JobID: "j3"},
	}
	ids, err := d.Dispatch(context.Background(), "c1", sampleTerms(), jobs)
	if err == nil {
		t.Fatal("expected send error")
	}
	if ids != nil {
		t.Fatalf("failed fan-out returned ids: %v", ids)
	}
	if calls != 2 {
		t.Fatalf("fan-out should stop at the failure: %d calls", calls)
	}
}

func TestHTTPSender(t *testing.T) {
	var got Request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.Client(), "secret-key")
	req := Request{
		Endpoint:      srv.URL,
		CorrelationID: "corr-1",
		ContractID:    "c1",
		JobID:         "j1",
		Terms:         sampleTerms(),
		CallbackURL:   "http://callback/fulfillments",
	}
	if err := s.Send(context.Background(), req); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer secret-key" {
		t.Fatalf("authorization header: %q", auth)
	}
	if got.CorrelationID != "corr-1" || got.ContractID != "c1" || got.JobID != "j1" {
		t.Fatalf("payload: %+v", got)
	}
	if got.Terms.DatasetID != "noaa-ghcnd" {
		t.Fatalf("terms not carried: %+v", got.Terms)
	}
}

func TestHTTPSender_RejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "oracle overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.Client(), "")
	err := s.Send(context.Background(), Request{Endpoint: srv.URL, CorrelationID: "x"})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}
