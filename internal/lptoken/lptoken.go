package lptoken

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"TranchePool/internal/fpmath"
)

// ReceiptToken is the boundary to a tranche's liquidity-provider share
// token. The engine only mints, burns and reads supply; internal share
// bookkeeping belongs to the collaborator.
type ReceiptToken interface {
	Mint(to uuid.UUID, amount *big.Int) error
	BurnFrom(owner uuid.UUID, amount *big.Int) error
	TotalSupply() *big.Int
}

// Memory is an in-memory ReceiptToken.
type Memory struct {
	mu       sync.Mutex
	supply   *big.Int
	balances map[uuid.UUID]*big.Int
}

func NewMemory() *Memory {
	return &Memory{
		supply:   fpmath.Zero(),
		balances: make(map[uuid.UUID]*big.Int),
	}
}

func (m *Memory) Mint(to uuid.UUID, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("lptoken: negative mint amount %s", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[to]
	if !ok {
		bal = fpmath.Zero()
		m.balances[to] = bal
	}
	bal.Add(bal, amount)
	m.supply.Add(m.supply, amount)
	return nil
}

func (m *Memory) BurnFrom(owner uuid.UUID, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balances[owner]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("lptoken: burn of %s exceeds balance", amount)
	}
	bal.Sub(bal, amount)
	m.supply.Sub(m.supply, amount)
	return nil
}

func (m *Memory) TotalSupply() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fpmath.Clone(m.supply)
}

// BalanceOf returns an owner's share balance, for assertions.
func (m *Memory) BalanceOf(owner uuid.UUID) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fpmath.Clone(m.balances[owner])
}
