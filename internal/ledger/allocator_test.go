package ledger

import (
	"errors"
	"math/big"
	"testing"
)

func newAllocState(t *testing.T, weights []int64) *State {
	t.Helper()
	s := NewState()
	for i, w := range weights {
		s.AddTranche("tranche")
		if err := s.SetRiskFactor(i, "BTC", big.NewInt(w)); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestAllocateProportional(t *testing.T) {
	s := newAllocState(t, []int64{1, 2, 5})

	alloc, err := s.Allocate("BTC", "BTC", big.NewInt(800), false, true)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{100, 200, 500}
	for i, w := range want {
		if alloc[i].Cmp(big.NewInt(w)) != 0 {
			t.Errorf("tranche %d share = %s, want %d", i, alloc[i], w)
		}
	}
	if alloc.Total().Cmp(big.NewInt(800)) != 0 {
		t.Errorf("total = %s, want 800", alloc.Total())
	}
}

func TestAllocateRemainderGoesToLastActive(t *testing.T) {
	s := newAllocState(t, []int64{1, 1, 1})

	alloc, err := s.Allocate("BTC", "BTC", big.NewInt(100), false, true)
	if err != nil {
		t.Fatal(err)
	}
	// 33 + 33 + 34: shares sum exactly.
	if alloc.Total().Cmp(big.NewInt(100)) != 0 {
		t.Errorf("total = %s, want 100", alloc.Total())
	}
	if alloc[2].Cmp(big.NewInt(34)) != 0 {
		t.Errorf("last tranche share = %s, want 34", alloc[2])
	}
}

func TestAllocateStableIndexIgnoresWeights(t *testing.T) {
	s := newAllocState(t, []int64{1, 9})

	alloc, err := s.Allocate("USDT", "USDT", big.NewInt(100), true, true)
	if err != nil {
		t.Fatal(err)
	}
	if alloc[0].Cmp(big.NewInt(50)) != 0 || alloc[1].Cmp(big.NewInt(50)) != 0 {
		t.Errorf("stable allocation = [%s %s], want equal split", alloc[0], alloc[1])
	}
}

func TestAllocateCapacityCapRedistributes(t *testing.T) {
	s := newAllocState(t, []int64{1, 1})
	s.IncreasePoolAmount(0, "BTC", big.NewInt(30))
	s.IncreasePoolAmount(1, "BTC", big.NewInt(1000))

	// Equal weights would give 50/50, but tranche 0 can only absorb 30;
	// the overflow lands on tranche 1.
	alloc, err := s.Allocate("BTC", "BTC", big.NewInt(100), false, false)
	if err != nil {
		t.Fatal(err)
	}
	if alloc[0].Cmp(big.NewInt(30)) != 0 {
		t.Errorf("capped tranche share = %s, want 30", alloc[0])
	}
	if alloc[1].Cmp(big.NewInt(70)) != 0 {
		t.Errorf("overflow tranche share = %s, want 70", alloc[1])
	}
}

func TestAllocateCapacityExcludesReserved(t *testing.T) {
	s := newAllocState(t, []int64{1, 1})
	s.IncreasePoolAmount(0, "BTC", big.NewInt(100))
	s.IncreasePoolAmount(1, "BTC", big.NewInt(100))
	if err := s.IncreaseReserve(0, "BTC", big.NewInt(80)); err != nil {
		t.Fatal(err)
	}

	alloc, err := s.Allocate("BTC", "BTC", big.NewInt(100), false, false)
	if err != nil {
		t.Fatal(err)
	}
	if alloc[0].Cmp(big.NewInt(20)) != 0 {
		t.Errorf("tranche 0 share = %s, want capacity 20", alloc[0])
	}
	if alloc[1].Cmp(big.NewInt(80)) != 0 {
		t.Errorf("tranche 1 share = %s, want 80", alloc[1])
	}
}

func TestAllocateCannotDistribute(t *testing.T) {
	s := newAllocState(t, []int64{1, 1})
	s.IncreasePoolAmount(0, "BTC", big.NewInt(10))
	s.IncreasePoolAmount(1, "BTC", big.NewInt(10))

	_, err := s.Allocate("BTC", "BTC", big.NewInt(100), false, false)
	if !errors.Is(err, ErrCannotDistribute) {
		t.Errorf("err = %v, want ErrCannotDistribute", err)
	}
}

func TestAllocateZeroAmount(t *testing.T) {
	s := newAllocState(t, []int64{1})
	alloc, err := s.Allocate("BTC", "BTC", big.NewInt(0), false, false)
	if err != nil {
		t.Fatal(err)
	}
	if alloc.Total().Sign() != 0 {
		t.Errorf("total = %s, want 0", alloc.Total())
	}
}

func TestAllocateNoWeights(t *testing.T) {
	s := NewState()
	s.AddTranche("senior")

	_, err := s.Allocate("BTC", "BTC", big.NewInt(100), false, true)
	if !errors.Is(err, ErrCannotDistribute) {
		t.Errorf("err = %v, want ErrCannotDistribute with no risk weights", err)
	}
}
