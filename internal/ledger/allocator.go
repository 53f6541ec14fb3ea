package ledger

import (
	"fmt"
	"math/big"

	"TranchePool/internal/fpmath"
)

// Allocation is a per-tranche share of a distributed amount, indexed by
// tranche index. Shares always sum exactly to the distributed amount.
type Allocation []*big.Int

// Total sums the allocation.
func (a Allocation) Total() *big.Int {
	total := fpmath.Zero()
	for _, s := range a {
		total.Add(total, s)
	}
	return total
}

// Allocate distributes amount across tranches proportional to each tranche's
// risk weight for the index token (equal weights when the index token is a
// stablecoin). When increasePool is false, each tranche's share is capped at
// its spare capacity for the collateral token (poolAmount - reservedAmount);
// capping a tranche removes it from subsequent rounds and shrinks the total
// weight, so the loop is inherently iterative. Fails with ErrCannotDistribute
// when the combined capacity cannot absorb the amount.
func (s *State) Allocate(indexToken, collateralToken string, amount *big.Int, stableIndex, increasePool bool) (Allocation, error) {
	n := len(s.tranches)
	alloc := make(Allocation, n)
	for i := range alloc {
		alloc[i] = fpmath.Zero()
	}
	if amount.Sign() == 0 {
		return alloc, nil
	}

	weights := make([]*big.Int, n)
	active := make([]bool, n)
	totalWeight := fpmath.Zero()
	for i := 0; i < n; i++ {
		var w *big.Int
		if stableIndex {
			w = big.NewInt(1)
		} else {
			w = s.RiskFactor(i, indexToken)
		}
		if w.Sign() > 0 {
			weights[i] = w
			active[i] = true
			totalWeight.Add(totalWeight, w)
		}
	}

	remaining := fpmath.Clone(amount)
	for remaining.Sign() > 0 && totalWeight.Sign() > 0 {
		// The highest-indexed active tranche takes the round's remainder so
		// shares sum exactly.
		last := -1
		for i := 0; i < n; i++ {
			if active[i] {
				last = i
			}
		}

		assigned := fpmath.Zero()
		anyCapped := false
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			var share *big.Int
			if i == last {
				share = new(big.Int).Sub(remaining, assigned)
			} else {
				share = fpmath.MulDiv(remaining, weights[i], totalWeight)
			}
			if !increasePool {
				a := s.Asset(i, collateralToken)
				capacity := fpmath.ZeroCapSub(a.PoolAmount, a.ReservedAmount)
				capacity.Sub(capacity, alloc[i])
				if capacity.Sign() < 0 {
					capacity.SetInt64(0)
				}
				if share.Cmp(capacity) >= 0 {
					share = capacity
					active[i] = false
					totalWeight = new(big.Int).Sub(totalWeight, weights[i])
					anyCapped = true
				}
			}
			alloc[i].Add(alloc[i], share)
			assigned.Add(assigned, share)
		}
		remaining.Sub(remaining, assigned)

		if !anyCapped {
			// No tranche hit capacity, so the full remainder was placed.
			break
		}
	}

	if remaining.Sign() > 0 {
		return nil, fmt.Errorf("%w: %s of %s left unplaced", ErrCannotDistribute, remaining, collateralToken)
	}
	return alloc, nil
}
