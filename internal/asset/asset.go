package asset

import (
	"fmt"
	"math/big"
	"sync"

	"TranchePool/internal/fpmath"
)

// Token describes a custodied asset.
type Token struct {
	Symbol   string
	Decimals int
	IsStable bool
}

// PriceScale returns the scale a price quote for this token must carry so
// that price * rawAmount yields a 30-decimal USD value.
func (t Token) PriceScale() *big.Int {
	return fpmath.Pow10(fpmath.ValueDecimals - t.Decimals)
}

// Registry tracks the tokens the pool recognizes and which of them are
// currently listed for new exposure. Delisted tokens remain recognized so
// existing positions can still be decreased and liquidated. Safe for
// concurrent use: admin operations list and delist tokens while queries
// read the registry.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]Token
	listed map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[string]Token),
		listed: make(map[string]bool),
	}
}

// Add registers a token and lists it.
func (r *Registry) Add(t Token) error {
	if t.Symbol == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if t.Decimals < 0 || t.Decimals > fpmath.ValueDecimals {
		return fmt.Errorf("token %s: unsupported decimals %d", t.Symbol, t.Decimals)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[t.Symbol]; ok {
		return fmt.Errorf("token %s already registered", t.Symbol)
	}
	r.tokens[t.Symbol] = t
	r.listed[t.Symbol] = true
	return nil
}

// Delist removes a token from the listed set without forgetting it.
func (r *Registry) Delist(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listed, symbol)
}

// Relist marks a known token as listed again.
func (r *Registry) Relist(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[symbol]; !ok {
		return fmt.Errorf("token %s not registered", symbol)
	}
	r.listed[symbol] = true
	return nil
}

// Get returns the token descriptor.
func (r *Registry) Get(symbol string) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[symbol]
	return t, ok
}

// IsKnown reports whether the token was ever registered.
func (r *Registry) IsKnown(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tokens[symbol]
	return ok
}

// IsListed reports whether the token accepts new exposure.
func (r *Registry) IsListed(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listed[symbol]
}

// IsStable reports whether the token is a stablecoin. Unknown tokens are not
// stable.
func (r *Registry) IsStable(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[symbol]
	return ok && t.IsStable
}

// Symbols returns all registered symbols in no particular order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tokens))
	for s := range r.tokens {
		out = append(out, s)
	}
	return out
}
