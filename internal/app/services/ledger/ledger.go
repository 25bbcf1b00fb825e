// Package ledger provides the in-process value-settlement capability backing
// contract escrow. Real token mechanics live outside this layer; everything
// here reduces to transfer(amount) succeeding or failing.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/contract"
)

// ErrInsufficientFunds rejects a transfer exceeding the source balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Memory is an in-memory ledger keyed by account name. Safe for concurrent
// use.
type Memory struct {
	mu       sync.Mutex
	balances map[string]uint64
}

var _ contract.Ledger = (*Memory)(nil)

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[string]uint64)}
}

// Mint credits an account out of thin air. Used to seed the provider account
// at startup and by tests.
func (m *Memory) Mint(account string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
}

// Transfer moves amount from one account to another. The debit and credit
// are applied atomically.
func (m *Memory) Transfer(_ context.Context, from, to string, amount uint64) error {
	if from == "" || to == "" {
		return fmt.Errorf("transfer requires source and destination accounts")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[from] < amount {
		return fmt.Errorf("%w: account %s has %d, need %d", ErrInsufficientFunds, from, m.balances[from], amount)
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}

// Balance reports an account's balance. Unknown accounts hold zero.
func (m *Memory) Balance(_ context.Context, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}
