package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestTransfer(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Mint("provider", 100)

	if err := m.Transfer(ctx, "provider", "contract:c1", 60); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	from, _ := m.Balance(ctx, "provider")
	to, _ := m.Balance(ctx, "contract:c1")
	if from != 40 || to != 60 {
		t.Fatalf("balances after transfer: %d / %d", from, to)
	}

	err := m.Transfer(ctx, "provider", "contract:c1", 41)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	from, _ = m.Balance(ctx, "provider")
	if from != 40 {
		t.Fatalf("failed transfer moved funds: %d", from)
	}

	if err := m.Transfer(ctx, "", "contract:c1", 1); err == nil {
		t.Fatal("expected error for missing source account")
	}
}

func TestBalance_UnknownAccountIsZero(t *testing.T) {
	m := NewMemory()
	bal, err := m.Balance(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 0 {
		t.Fatalf("unknown account balance: %d", bal)
	}
}
