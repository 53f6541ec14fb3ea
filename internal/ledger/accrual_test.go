package ledger

import (
	"math/big"
	"testing"

	"TranchePool/internal/fpmath"
)

func accrualParams() AccrualParams {
	// 0.01% per hour
	return AccrualParams{
		Interval:     3600,
		InterestRate: new(big.Int).Div(fpmath.Precision, big.NewInt(10_000)),
	}
}

func TestAccrueFirstUsePinsTimestamp(t *testing.T) {
	s := NewState()
	s.AddTranche("senior")

	idx := s.AccrueInterest("BTC", 7300, accrualParams())
	if idx.Sign() != 0 {
		t.Errorf("first accrual index = %s, want 0", idx)
	}
	pt := s.PoolToken("BTC")
	if pt.LastAccrualTimestamp != 7200 {
		t.Errorf("timestamp = %d, want 7200 (interval boundary)", pt.LastAccrualTimestamp)
	}
}

func TestAccrueEmptyPoolDoesNotAdvanceIndex(t *testing.T) {
	s := NewState()
	s.AddTranche("senior")
	s.AccrueInterest("BTC", 3600, accrualParams())

	// Still no liquidity hours later: index stays at base.
	idx := s.AccrueInterest("BTC", 36_000, accrualParams())
	if idx.Sign() != 0 {
		t.Errorf("index = %s, want 0 for empty pool", idx)
	}
}

func TestAccrueStepFunction(t *testing.T) {
	p := accrualParams()
	s := NewState()
	s.AddTranche("senior")
	s.AccrueInterest("BTC", 3600, p)

	s.IncreasePoolAmount(0, "BTC", big.NewInt(1000))
	if err := s.IncreaseReserve(0, "BTC", big.NewInt(500)); err != nil {
		t.Fatal(err)
	}

	// Within the same interval: no change.
	idx := s.AccrueInterest("BTC", 3600+1800, p)
	if idx.Sign() != 0 {
		t.Errorf("mid-interval index = %s, want 0", idx)
	}

	// Two full intervals: index += 2 * rate * reserved / pool.
	idx = s.AccrueInterest("BTC", 3600+2*3600, p)
	want := new(big.Int).Mul(big.NewInt(2), p.InterestRate)
	want.Mul(want, big.NewInt(500))
	want.Div(want, big.NewInt(1000))
	if idx.Cmp(want) != 0 {
		t.Errorf("index = %s, want %s", idx, want)
	}

	// Idempotent at the same timestamp.
	again := s.AccrueInterest("BTC", 3600+2*3600, p)
	if again.Cmp(want) != 0 {
		t.Errorf("repeat accrual moved index to %s", again)
	}

	// The timestamp advanced by whole intervals only.
	pt := s.PoolToken("BTC")
	if pt.LastAccrualTimestamp != 3600+2*3600 {
		t.Errorf("timestamp = %d, want %d", pt.LastAccrualTimestamp, 3600+2*3600)
	}
}

func TestAccruePartialIntervalCarriesOver(t *testing.T) {
	p := accrualParams()
	s := NewState()
	s.AddTranche("senior")
	s.AccrueInterest("BTC", 3600, p)
	s.IncreasePoolAmount(0, "BTC", big.NewInt(100))
	if err := s.IncreaseReserve(0, "BTC", big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	// 1.5 intervals: only one whole interval accrues, the half interval
	// stays pending.
	s.AccrueInterest("BTC", 3600+5400, p)
	pt := s.PoolToken("BTC")
	if pt.LastAccrualTimestamp != 7200 {
		t.Errorf("timestamp = %d, want 7200", pt.LastAccrualTimestamp)
	}
	if pt.BorrowIndex.Cmp(p.InterestRate) != 0 {
		t.Errorf("index = %s, want %s (one interval at full utilization)", pt.BorrowIndex, p.InterestRate)
	}
}
