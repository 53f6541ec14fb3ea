package valuation

import (
	"fmt"
	"math/big"
	"sort"

	"TranchePool/internal/asset"
	"TranchePool/internal/fpmath"
	"TranchePool/internal/ledger"
	"TranchePool/internal/oracle"
	"TranchePool/internal/position"
)

// Engine values tranches and the whole pool from live prices.
type Engine struct {
	feed oracle.PriceFeed
	reg  *asset.Registry
}

func NewEngine(feed oracle.PriceFeed, reg *asset.Registry) *Engine {
	return &Engine{feed: feed, reg: reg}
}

// TrancheValue is the USD value of one tranche. Stablecoins contribute
// price * poolAmount; other tokens contribute
// (poolAmount - reservedAmount) * price + guaranteedValue - shortPnL, where
// shortPnL marks the tranche's pseudo aggregate short position at price.
func (e *Engine) TrancheValue(st *ledger.State, trancheIdx int, useMax bool) (*big.Int, error) {
	total := fpmath.Zero()
	for _, tok := range sortedTokens(st) {
		contribution, err := e.tokenContribution(st, trancheIdx, tok, useMax)
		if err != nil {
			return nil, err
		}
		total.Add(total, contribution)
	}
	return total, nil
}

func (e *Engine) tokenContribution(st *ledger.State, trancheIdx int, token string, useMax bool) (*big.Int, error) {
	price, err := e.feed.GetPrice(token, useMax)
	if err != nil {
		return nil, fmt.Errorf("price for %s: %w", token, err)
	}
	a := st.AssetAt(trancheIdx, token)

	if e.reg.IsStable(token) {
		return new(big.Int).Mul(price, a.PoolAmount), nil
	}

	free := fpmath.ZeroCapSub(a.PoolAmount, a.ReservedAmount)
	v := new(big.Int).Mul(free, price)
	v.Add(v, a.GuaranteedValue)

	shortPnL := position.PnL(position.SideShort, a.TotalShortSize, a.AverageShortPrice, price)
	v.Sub(v, shortPnL)
	return v, nil
}

// PoolValue sums TrancheValue over every tranche.
func (e *Engine) PoolValue(st *ledger.State, useMax bool) (*big.Int, error) {
	total := fpmath.Zero()
	for i := 0; i < st.TrancheCount(); i++ {
		v, err := e.TrancheValue(st, i, useMax)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// VirtualPoolValue averages the min and max pool valuations. It feeds only
// the fee curve, never settlement math.
func (e *Engine) VirtualPoolValue(st *ledger.State) (*big.Int, error) {
	lo, err := e.PoolValue(st, false)
	if err != nil {
		return nil, err
	}
	hi, err := e.PoolValue(st, true)
	if err != nil {
		return nil, err
	}
	avg := new(big.Int).Add(lo, hi)
	return avg.Rsh(avg, 1), nil
}

func sortedTokens(st *ledger.State) []string {
	toks := st.PoolTokenSymbols()
	sort.Strings(toks)
	return toks
}
