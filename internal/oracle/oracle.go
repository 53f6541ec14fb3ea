package oracle

import (
	"fmt"
	"math/big"
	"sync"

	"TranchePool/internal/fpmath"
)

// PriceFeed is the boundary to the external price source. Prices are scaled
// so that price * rawTokenAmount yields a 30-decimal USD value; useMax
// selects the upper bound of the feed's min/max band.
type PriceFeed interface {
	GetPrice(token string, useMax bool) (*big.Int, error)
	GetPrices(tokens []string, useMax bool) (map[string]*big.Int, error)
}

// FixedFeed is an in-memory PriceFeed with a settable min/max band per
// token. It backs tests and local simulation.
type FixedFeed struct {
	mu     sync.RWMutex
	minMax map[string][2]*big.Int
}

func NewFixedFeed() *FixedFeed {
	return &FixedFeed{minMax: make(map[string][2]*big.Int)}
}

// Set pins both bounds of a token's band to the same price.
func (f *FixedFeed) Set(token string, price *big.Int) {
	f.SetBand(token, price, price)
}

// SetBand pins the min and max prices of a token.
func (f *FixedFeed) SetBand(token string, min, max *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minMax[token] = [2]*big.Int{fpmath.Clone(min), fpmath.Clone(max)}
}

func (f *FixedFeed) GetPrice(token string, useMax bool) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	band, ok := f.minMax[token]
	if !ok {
		return nil, fmt.Errorf("no price for token %s", token)
	}
	if useMax {
		return fpmath.Clone(band[1]), nil
	}
	return fpmath.Clone(band[0]), nil
}

func (f *FixedFeed) GetPrices(tokens []string, useMax bool) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(tokens))
	for _, tok := range tokens {
		p, err := f.GetPrice(tok, useMax)
		if err != nil {
			return nil, err
		}
		out[tok] = p
	}
	return out, nil
}
