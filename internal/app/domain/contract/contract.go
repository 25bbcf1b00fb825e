// Package contract implements the parametric weather-derivative contract
// aggregate: its oracle job registry, evaluation round accounting and the
// one-shot lifecycle state machine that gates evaluation and releases
// escrowed funds on completion.
package contract

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle phase of a contract.
type State string

const (
	StateCreated    State = "created"    // terms unset
	StateActive     State = "active"     // terms set, no round dispatched
	StateEvaluating State = "evaluating" // round in flight, outstanding > 0
	StateEvaluated  State = "evaluated"  // terminal, payout fixed
)

// Job pairs an oracle endpoint with the job identifier the node executes.
type Job struct {
	Endpoint string `json:"endpoint"`
	JobID    string `json:"job_id"`
}

// Ledger is the value-settlement capability used for escrow movements. The
// token-transfer mechanics behind it are external to this layer.
type Ledger interface {
	Transfer(ctx context.Context, from, to string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, error)
}

// Dispatcher fans one evaluation request out per registered job and returns
// the correlation IDs it issued.
type Dispatcher interface {
	Dispatch(ctx context.Context, contractID string, terms Terms, jobs []Job) ([]string, error)
}

// Status is a read-only snapshot of a contract.
type Status struct {
	ID          string `json:"id"`
	Admin       string `json:"admin"`
	State       State  `json:"state"`
	Terms       *Terms `json:"terms,omitempty"`
	Jobs        []Job  `json:"jobs"`
	Dispatched  int    `json:"dispatched"`
	Outstanding int    `json:"outstanding"`
	Received    int    `json:"received"`
	Payout      uint64 `json:"payout"`
}

// Contract is one derivative contract instance. All methods are safe for
// concurrent use; every external call runs to completion under the contract
// mutex, which gives the serialized-transaction semantics the state machine
// guards rely on.
type Contract struct {
	mu sync.Mutex

	id      string
	admin   string // administrator identity, also the sweep destination account
	account string // escrow account
	payment uint64 // per-request oracle payment
	ledger  Ledger
	now     func() time.Time

	state    State
	terms    Terms
	hasTerms bool

	// Job registry: ordered endpoint/job lists plus a jobID -> position index
	// for O(1) swap-with-last removal.
	endpoints []string
	jobIDs    []string
	jobIndex  map[string]int

	// Evaluation round.
	round       map[string]bool // correlation ID -> fulfilled
	dispatched  int
	outstanding int
	received    int
	sum         uint64
	payout      uint64
}

// New creates a contract in the Created state. The escrow account is derived
// from the contract identifier.
func New(id, admin string, ledger Ledger, payment uint64) *Contract {
	return &Contract{
		id:       id,
		admin:    admin,
		account:  EscrowAccount(id),
		payment:  payment,
		ledger:   ledger,
		now:      time.Now,
		state:    StateCreated,
		jobIndex: make(map[string]int),
	}
}

// EscrowAccount returns the ledger account holding a contract's escrow.
func EscrowAccount(contractID string) string {
	return "contract:" + contractID
}

// OracleAccount returns the ledger account credited for an oracle endpoint.
func OracleAccount(endpoint string) string {
	return "oracle:" + endpoint
}

// WithClock overrides the time source. Intended for tests.
func (c *Contract) WithClock(now func() time.Time) *Contract {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// ID returns the contract identifier.
func (c *Contract) ID() string { return c.id }

// Admin returns the administrator identity.
func (c *Contract) Admin() string { return c.admin }

// EscrowAccountName returns the contract's escrow ledger account.
func (c *Contract) EscrowAccountName() string { return c.account }

// Initialize sets the contract terms exactly once and moves the contract to
// Active. Any later attempt fails with ErrTermsAlreadySet.
func (c *Contract) Initialize(caller string, terms Terms) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.admin {
		return ErrNotAuthorized
	}
	if c.hasTerms {
		return ErrTermsAlreadySet
	}
	if err := terms.Validate(); err != nil {
		return fmt.Errorf("invalid terms: %w", err)
	}

	c.terms = cloneTerms(terms)
	c.hasTerms = true
	c.state = StateActive
	return nil
}

// AddJob registers an oracle/job pair. Fails with ErrDuplicateJob when the
// job identifier is already present and refuses mutation mid-round.
func (c *Contract) AddJob(caller, endpoint, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.admin {
		return ErrNotAuthorized
	}
	if err := c.registryMutable(); err != nil {
		return err
	}
	if endpoint == "" || jobID == "" {
		return fmt.Errorf("endpoint and job id are required")
	}
	if _, exists := c.jobIndex[jobID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
	}

	c.jobIndex[jobID] = len(c.jobIDs)
	c.endpoints = append(c.endpoints, endpoint)
	c.jobIDs = append(c.jobIDs, jobID)
	return nil
}

// RemoveJob unregisters a job by identifier using swap-with-last removal.
// The moved element's index entry is re-pointed before the removed entry is
// deleted; the index map and the lists stay in agreement.
func (c *Contract) RemoveJob(caller, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.admin {
		return ErrNotAuthorized
	}
	if err := c.registryMutable(); err != nil {
		return err
	}
	pos, exists := c.jobIndex[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	last := len(c.jobIDs) - 1
	if pos != last {
		moved := c.jobIDs[last]
		c.jobIDs[pos] = moved
		c.endpoints[pos] = c.endpoints[last]
		c.jobIndex[moved] = pos
	}
	c.jobIDs = c.jobIDs[:last]
	c.endpoints = c.endpoints[:last]
	delete(c.jobIndex, jobID)
	return nil
}

func (c *Contract) registryMutable() error {
	switch c.state {
	case StateEvaluating:
		return ErrRoundInFlight
	case StateEvaluated:
		return ErrAlreadyEvaluated
	default:
		return nil
	}
}

// Jobs returns the ordered job list for dispatch.
func (c *Contract) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobsLocked()
}

func (c *Contract) jobsLocked() []Job {
	jobs := make([]Job, len(c.jobIDs))
	for i := range c.jobIDs {
		jobs[i] = Job{Endpoint: c.endpoints[i], JobID: c.jobIDs[i]}
	}
	return jobs
}

// Evaluate triggers the single evaluation round. The guard (coverage ended
// AND state Active) is checked under the same lock that flips the state, so
// a duplicate trigger can never dispatch a second round. Each oracle is paid
// from escrow before its request is sent; a failed fan-out refunds the
// payments and leaves the contract Active.
func (c *Contract) Evaluate(ctx context.Context, caller string, d Dispatcher) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.admin {
		return nil, ErrNotAuthorized
	}
	switch c.state {
	case StateCreated:
		return nil, fmt.Errorf("%w: terms not initialized", ErrNotActive)
	case StateEvaluating:
		return nil, ErrAlreadyEvaluating
	case StateEvaluated:
		return nil, ErrAlreadyEvaluated
	}
	if c.now().Before(c.terms.CoverageEnd) {
		return nil, ErrCoverageNotEnded
	}
	jobs := c.jobsLocked()
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}

	total := c.payment * uint64(len(jobs))
	if total > 0 {
		bal, err := c.ledger.Balance(ctx, c.account)
		if err != nil {
			return nil, fmt.Errorf("escrow balance: %w", err)
		}
		if bal < total {
			return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, bal, total)
		}
		for _, job := range jobs {
			if err := c.ledger.Transfer(ctx, c.account, OracleAccount(job.Endpoint), c.payment); err != nil {
				return nil, fmt.Errorf("oracle payment: %w", err)
			}
		}
	}

	ids, err := d.Dispatch(ctx, c.id, cloneTerms(c.terms), jobs)
	if err != nil {
		// No partial dispatch may stand. Return the oracle payments and
		// stay Active so the trigger can be retried.
		for _, job := range jobs {
			_ = c.ledger.Transfer(ctx, OracleAccount(job.Endpoint), c.account, c.payment)
		}
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	c.state = StateEvaluating
	c.round = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.round[id] = false
	}
	c.dispatched = len(ids)
	c.outstanding = len(ids)
	c.received = 0
	c.sum = 0
	return ids, nil
}

// Fulfill records one oracle result. Duplicate or unknown correlation IDs are
// rejected without touching the accumulated sum or the outstanding counter.
// When the last outstanding request resolves, the payout is fixed as the
// truncating average over the dispatched count, the contract becomes
// Evaluated and the remaining escrow is swept to the administrator in the
// same transition. Returns true when this call finalized the contract.
func (c *Contract) Fulfill(ctx context.Context, correlationID string, result uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateEvaluated:
		return false, ErrAlreadyEvaluated
	case StateEvaluating:
	default:
		return false, ErrUnknownRequest
	}

	fulfilled, issued := c.round[correlationID]
	if !issued || fulfilled {
		return false, fmt.Errorf("%w: %s", ErrUnknownRequest, correlationID)
	}

	c.round[correlationID] = true
	c.sum += result
	c.received++
	c.outstanding--

	if c.outstanding > 0 {
		return false, nil
	}

	c.payout = c.sum / uint64(c.dispatched)
	c.state = StateEvaluated

	bal, err := c.ledger.Balance(ctx, c.account)
	if err != nil {
		return true, fmt.Errorf("sweep balance: %w", err)
	}
	if bal > 0 {
		if err := c.ledger.Transfer(ctx, c.account, c.admin, bal); err != nil {
			return true, fmt.Errorf("sweep transfer: %w", err)
		}
	}
	return true, nil
}

// Payout returns the final payout once Evaluated. Before that it returns the
// running average over the results received so far; with nothing received it
// returns 0 rather than dividing by zero.
func (c *Contract) Payout() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEvaluated {
		return c.payout
	}
	if c.received == 0 {
		return 0
	}
	return c.sum / uint64(c.received)
}

// Balance reports the current escrow balance.
func (c *Contract) Balance(ctx context.Context) (uint64, error) {
	return c.ledger.Balance(ctx, c.account)
}

// State returns the current lifecycle state.
func (c *Contract) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a consistent snapshot for queries.
func (c *Contract) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		ID:          c.id,
		Admin:       c.admin,
		State:       c.state,
		Jobs:        c.jobsLocked(),
		Dispatched:  c.dispatched,
		Outstanding: c.outstanding,
		Received:    c.received,
	}
	if c.hasTerms {
		terms := cloneTerms(c.terms)
		st.Terms = &terms
	}
	switch {
	case c.state == StateEvaluated:
		st.Payout = c.payout
	case c.received > 0:
		st.Payout = c.sum / uint64(c.received)
	}
	return st
}
