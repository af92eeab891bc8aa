// internal/payments/accounts.go
package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrInsufficientBalance = errors.New("payments: insufficient balance")

// Accounts is an in-memory balance book. Accounts listed as unbounded may go
// negative (the treasury in development setups).
type Accounts struct {
	mu        sync.Mutex
	balances  map[string]int64
	unbounded map[string]bool
}

func NewAccounts(initial map[string]int64, unbounded ...string) *Accounts {
	a := &Accounts{
		balances:  make(map[string]int64, len(initial)),
		unbounded: make(map[string]bool, len(unbounded)),
	}
	for k, v := range initial {
		a.balances[k] = v
	}
	for _, acct := range unbounded {
		a.unbounded[acct] = true
	}
	return a
}

func (a *Accounts) Transfer(_ context.Context, from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("payments: negative amount %d", amount)
	}
	if amount == 0 || from == to {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.unbounded[from] && a.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, a.balances[from], amount)
	}
	a.balances[from] -= amount
	a.balances[to] += amount
	return nil
}

func (a *Accounts) Balance(account string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[account]
}

// Credit adds funds out of thin air; used by seeding and tests.
func (a *Accounts) Credit(account string, amount int64) {
	a.mu.Lock()
	a.balances[account] += amount
	a.mu.Unlock()
}
