package ledger

import (
	"fmt"
	"math/big"
)

// balanceTolerance is the integer-rounding slack allowed between bookkeeping
// and the recorded custodied balance, in base token units.
var balanceTolerance = big.NewInt(10)

// ValidateToken checks the global invariant for one token:
//
//	Σ_tranches(poolAmount) + feeReserve == poolBalance
//
// within balanceTolerance, and reservedAmount <= poolAmount per tranche.
func (s *State) ValidateToken(token string) error {
	pt := s.PoolTokenAt(token)

	booked := s.TotalPoolAmount(token)
	booked.Add(booked, pt.FeeReserve)

	diff := new(big.Int).Sub(booked, pt.PoolBalance)
	if diff.CmpAbs(balanceTolerance) > 0 {
		return fmt.Errorf("token %s: pool bookkeeping %s diverges from recorded balance %s",
			token, booked, pt.PoolBalance)
	}

	for i := range s.assets {
		a, ok := s.assets[i][token]
		if !ok {
			continue
		}
		if a.ReservedAmount.Cmp(a.PoolAmount) > 0 {
			return fmt.Errorf("token %s tranche %d: reserved %s exceeds pool %s",
				token, i, a.ReservedAmount, a.PoolAmount)
		}
	}
	return nil
}

// ValidateAll runs ValidateToken over every token with a global record.
func (s *State) ValidateAll() error {
	for tok := range s.poolTokens {
		if err := s.ValidateToken(tok); err != nil {
			return err
		}
	}
	return nil
}
