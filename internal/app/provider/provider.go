// Package provider owns the identifier-to-contract registry: contract
// creation and funding, administrative pass-through calls and fulfillment
// routing.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/contract"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/journal"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/metrics"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/storage"
	"github.com/WeatherVane-Labs/derivative_layer/pkg/logger"
)

// Registry errors at the provider level.
var (
	ErrDuplicateID = errors.New("contract identifier already registered")
	ErrUnknownID   = errors.New("contract identifier not registered")
)

// Notifier receives journal events as they happen. Used to push live updates
// to subscribers; implementations must not block.
type Notifier interface {
	Notify(evt journal.Event)
}

// Config carries the provider's operating parameters.
type Config struct {
	Admin             string       // administrator identity, sweep destination
	Account           string       // provider escrow account
	DefaultJob        contract.Job // seeded into every new contract
	PaymentPerRequest uint64       // escrow paid to each oracle per request
	FundingBuffer     uint64       // extra payments of headroom funded at creation
}

// Provider is the contract registry. Mutating operations are restricted to
// the administrator identity; reads are open.
type Provider struct {
	cfg        Config
	ledger     contract.Ledger
	dispatcher contract.Dispatcher
	events     storage.EventStore
	log        *logger.Logger

	mu         sync.RWMutex
	contracts  map[string]*contract.Contract
	pending    map[string]string // correlation ID -> contract ID
	roundStart map[string]time.Time
	notifier   Notifier
	clock      func() time.Time
}

// New constructs a provider.
func New(cfg Config, ledger contract.Ledger, dispatcher contract.Dispatcher, events storage.EventStore, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.NewDefault("provider")
	}
	if cfg.Account == "" {
		cfg.Account = "provider"
	}
	return &Provider{
		cfg:        cfg,
		ledger:     ledger,
		dispatcher: dispatcher,
		events:     events,
		log:        log,
		contracts:  make(map[string]*contract.Contract),
		pending:    make(map[string]string),
		roundStart: make(map[string]time.Time),
		clock:      time.Now,
	}
}

// WithNotifier attaches a live event subscriber. Call before serving traffic.
func (p *Provider) WithNotifier(n Notifier) *Provider {
	p.mu.Lock()
	p.notifier = n
	p.mu.Unlock()
	return p
}

// Admin returns the administrator identity.
func (p *Provider) Admin() string { return p.cfg.Admin }

// CreateContract registers a new contract under the identifier, initializes
// its terms, seeds the default oracle job and funds its escrow with enough
// for one evaluation round plus the configured buffer. A funding failure
// aborts the whole creation; no partially-initialized contract is ever
// registered.
func (p *Provider) CreateContract(ctx context.Context, caller, id string, terms contract.Terms) (contract.Status, error) {
	if caller != p.cfg.Admin {
		return contract.Status{}, contract.ErrNotAuthorized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return contract.Status{}, fmt.Errorf("contract identifier is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.contracts[id]; exists {
		return contract.Status{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	c := contract.New(id, p.cfg.Admin, p.ledger, p.cfg.PaymentPerRequest)
	if err := c.Initialize(p.cfg.Admin, terms); err != nil {
		return contract.Status{}, err
	}
	if p.cfg.DefaultJob.Endpoint != "" && p.cfg.DefaultJob.JobID != "" {
		if err := c.AddJob(p.cfg.Admin, p.cfg.DefaultJob.Endpoint, p.cfg.DefaultJob.JobID); err != nil {
			return contract.Status{}, err
		}
	}

	funding := p.cfg.PaymentPerRequest * (1 + p.cfg.FundingBuffer)
	if funding > 0 {
		if err := p.ledger.Transfer(ctx, p.cfg.Account, c.EscrowAccountName(), funding); err != nil {
			return contract.Status{}, fmt.Errorf("fund contract %s: %w", id, err)
		}
	}

	p.contracts[id] = c
	metrics.RecordContractCreated()
	p.recordLocked(ctx, journal.Event{
		ContractID: id,
		Type:       journal.EventContractCreated,
		Detail: map[string]string{
			"dataset": terms.DatasetID,
			"option":  string(terms.Option),
			"funding": fmt.Sprintf("%d", funding),
		},
	})
	p.log.WithField("contract_id", id).
		WithField("funding", funding).
		Info("contract created")
	return c.Status(), nil
}

// AddJob registers an oracle/job pair on the named contract.
func (p *Provider) AddJob(ctx context.Context, caller, id, endpoint, jobID string) error {
	c, err := p.get(id)
	if err != nil {
		return err
	}
	if err := c.AddJob(caller, endpoint, jobID); err != nil {
		return err
	}
	p.record(ctx, journal.Event{
		ContractID: id,
		Type:       journal.EventJobAdded,
		Detail:     map[string]string{"endpoint": endpoint, "job_id": jobID},
	})
	return nil
}

// RemoveJob unregisters a job from the named contract.
func (p *Provider) RemoveJob(ctx context.Context, caller, id, jobID string) error {
	c, err := p.get(id)
	if err != nil {
		return err
	}
	if err := c.RemoveJob(caller, jobID); err != nil {
		return err
	}
	p.record(ctx, journal.Event{
		ContractID: id,
		Type:       journal.EventJobRemoved,
		Detail:     map[string]string{"job_id": jobID},
	})
	return nil
}

// InitiateEvaluation triggers the named contract's single evaluation round
// and records the issued correlation IDs for fulfillment routing.
func (p *Provider) InitiateEvaluation(ctx context.Context, caller, id string) ([]string, error) {
	c, err := p.get(id)
	if err != nil {
		return nil, err
	}

	ids, err := c.Evaluate(ctx, caller, p.dispatcher)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	for _, corrID := range ids {
		p.pending[corrID] = id
	}
	p.roundStart[id] = p.clock()
	p.mu.Unlock()

	metrics.RecordRoundDispatched()
	p.record(ctx, journal.Event{
		ContractID: id,
		Type:       journal.EventRoundDispatched,
		Detail:     map[string]string{"requests": fmt.Sprintf("%d", len(ids))},
	})
	return ids, nil
}

// Fulfill routes one oracle result to its contract by correlation ID.
// Returns the contract identifier and whether this delivery finalized it.
func (p *Provider) Fulfill(ctx context.Context, correlationID string, result uint64) (string, bool, error) {
	p.mu.RLock()
	id, ok := p.pending[correlationID]
	p.mu.RUnlock()
	if !ok {
		metrics.RecordFulfillment("unknown")
		return "", false, fmt.Errorf("%w: %s", contract.ErrUnknownRequest, correlationID)
	}

	c, err := p.get(id)
	if err != nil {
		return "", false, err
	}

	finalized, err := c.Fulfill(ctx, correlationID, result)
	if err != nil {
		metrics.RecordFulfillment("rejected")
		return id, false, err
	}

	p.mu.Lock()
	delete(p.pending, correlationID)
	started, hasStart := p.roundStart[id]
	if finalized {
		delete(p.roundStart, id)
	}
	p.mu.Unlock()

	metrics.RecordFulfillment("accepted")
	p.record(ctx, journal.Event{
		ContractID:    id,
		Type:          journal.EventFulfillment,
		CorrelationID: correlationID,
		Result:        result,
	})

	if finalized {
		if hasStart {
			metrics.RecordRoundDuration(p.clock().Sub(started))
		}
		st := c.Status()
		p.record(ctx, journal.Event{
			ContractID: id,
			Type:       journal.EventFinalized,
			Payout:     st.Payout,
		})
		p.log.WithField("contract_id", id).
			WithField("payout", st.Payout).
			Info("contract evaluated")
	}
	return id, finalized, nil
}

// EvaluateDue initiates evaluation for every contract whose coverage window
// has closed and that is still Active. Invoked by the time trigger; runs
// under the administrator identity. Returns the number of rounds started.
func (p *Provider) EvaluateDue(ctx context.Context) int {
	now := p.clock()

	p.mu.RLock()
	due := make([]string, 0)
	for id, c := range p.contracts {
		st := c.Status()
		if st.State == contract.StateActive && st.Terms != nil && !now.Before(st.Terms.CoverageEnd) {
			due = append(due, id)
		}
	}
	p.mu.RUnlock()

	started := 0
	for _, id := range due {
		if _, err := p.InitiateEvaluation(ctx, p.cfg.Admin, id); err != nil {
			// ErrNoJobs and racing manual triggers are expected here.
			p.log.WithError(err).WithField("contract_id", id).Warn("scheduled evaluation skipped")
			continue
		}
		started++
	}
	return started
}

// Status returns a snapshot of the named contract.
func (p *Provider) Status(id string) (contract.Status, error) {
	c, err := p.get(id)
	if err != nil {
		return contract.Status{}, err
	}
	return c.Status(), nil
}

// Payout returns the final or running payout of the named contract.
func (p *Provider) Payout(id string) (uint64, error) {
	c, err := p.get(id)
	if err != nil {
		return 0, err
	}
	return c.Payout(), nil
}

// Balance returns the escrow balance of the named contract.
func (p *Provider) Balance(ctx context.Context, id string) (uint64, error) {
	c, err := p.get(id)
	if err != nil {
		return 0, err
	}
	return c.Balance(ctx)
}

// ProviderBalance returns the provider's own escrow balance.
func (p *Provider) ProviderBalance(ctx context.Context) (uint64, error) {
	return p.ledger.Balance(ctx, p.cfg.Account)
}

// Events returns the journal history of the named contract.
func (p *Provider) Events(ctx context.Context, id string) ([]journal.Event, error) {
	if _, err := p.get(id); err != nil {
		return nil, err
	}
	return p.events.ListEvents(ctx, id)
}

// List returns snapshots of every registered contract.
func (p *Provider) List() []contract.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]contract.Status, 0, len(p.contracts))
	for _, c := range p.contracts {
		result = append(result, c.Status())
	}
	return result
}

func (p *Provider) get(id string) (*contract.Contract, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	return c, nil
}

// record appends a journal event and fans it out to the notifier. Journal
// failures are logged, never surfaced: history must not break settlement.
func (p *Provider) record(ctx context.Context, evt journal.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordLocked(ctx, evt)
}

func (p *Provider) recordLocked(ctx context.Context, evt journal.Event) {
	stored, err := p.events.AppendEvent(ctx, evt)
	if err != nil {
		p.log.WithError(err).WithField("contract_id", evt.ContractID).Warn("journal append failed")
		stored = evt
	}
	if p.notifier != nil {
		p.notifier.Notify(stored)
	}
}
