package custody

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"TranchePool/internal/fpmath"
)

// Custody is the boundary to the fungible-token transfer primitive. The
// engine never takes an explicit inbound amount: callers deposit into
// custody first and the engine consumes the observed balance delta.
type Custody interface {
	// BalanceOf returns the pool's custodied balance of a token.
	BalanceOf(token string) (*big.Int, error)

	// Transfer pays raw token units out of the pool to a recipient.
	Transfer(token string, to uuid.UUID, amount *big.Int) error
}

// Memory is an in-memory Custody for tests and local simulation. It tracks
// the pool's balance per token and recipient balances for assertions.
type Memory struct {
	mu        sync.Mutex
	pool      map[string]*big.Int
	recipient map[string]map[uuid.UUID]*big.Int
}

func NewMemory() *Memory {
	return &Memory{
		pool:      make(map[string]*big.Int),
		recipient: make(map[string]map[uuid.UUID]*big.Int),
	}
}

// Deposit simulates an inbound transfer into the pool's custody. It must be
// called before the engine operation that consumes the amount.
func (m *Memory) Deposit(token string, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.pool[token]
	if !ok {
		bal = fpmath.Zero()
		m.pool[token] = bal
	}
	bal.Add(bal, amount)
}

func (m *Memory) BalanceOf(token string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fpmath.Clone(m.pool[token]), nil
}

func (m *Memory) Transfer(token string, to uuid.UUID, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.pool[token]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("custody: insufficient %s balance for transfer of %s", token, amount)
	}
	bal.Sub(bal, amount)

	byOwner, ok := m.recipient[token]
	if !ok {
		byOwner = make(map[uuid.UUID]*big.Int)
		m.recipient[token] = byOwner
	}
	rb, ok := byOwner[to]
	if !ok {
		rb = fpmath.Zero()
		byOwner[to] = rb
	}
	rb.Add(rb, amount)
	return nil
}

// RecipientBalance returns what a recipient has received, for assertions.
func (m *Memory) RecipientBalance(token string, owner uuid.UUID) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byOwner, ok := m.recipient[token]; ok {
		return fpmath.Clone(byOwner[owner])
	}
	return fpmath.Zero()
}
