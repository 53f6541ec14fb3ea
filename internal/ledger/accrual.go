package ledger

import (
	"math/big"

	"TranchePool/internal/fpmath"
)

// AccrualParams configures the interest accrual step function.
type AccrualParams struct {
	// Interval is the accrual step in seconds.
	Interval int64

	// InterestRate is the rate charged per interval on the utilized fraction
	// of the pool, Precision scale.
	InterestRate *big.Int
}

// AccrueInterest advances the token's borrow index in discrete intervals and
// returns the current index. It must run before any operation that reads or
// changes reserved/pool amounts for the token.
//
// On first use, or while the token has no pooled liquidity, the accrual
// timestamp is pinned to the nearest interval boundary at or before now and
// the index is left at its base value.
func (s *State) AccrueInterest(token string, now int64, p AccrualParams) *big.Int {
	pt := s.PoolToken(token)
	totalPool := s.TotalPoolAmount(token)

	if pt.LastAccrualTimestamp == 0 || totalPool.Sign() == 0 {
		pt.LastAccrualTimestamp = (now / p.Interval) * p.Interval
		return fpmath.Clone(pt.BorrowIndex)
	}

	n := (now - pt.LastAccrualTimestamp) / p.Interval
	if n <= 0 {
		return fpmath.Clone(pt.BorrowIndex)
	}

	// index += n * rate * reserved / pool
	totalReserved := s.TotalReservedAmount(token)
	delta := new(big.Int).Mul(big.NewInt(n), p.InterestRate)
	delta.Mul(delta, totalReserved)
	delta.Div(delta, totalPool)

	pt.BorrowIndex.Add(pt.BorrowIndex, delta)
	pt.LastAccrualTimestamp += n * p.Interval
	return fpmath.Clone(pt.BorrowIndex)
}
