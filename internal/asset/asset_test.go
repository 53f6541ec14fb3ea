package asset

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"TranchePool/internal/fpmath"
)

func TestRegistryAddAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(Token{Symbol: "BTC", Decimals: 8}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(Token{Symbol: "USDT", Decimals: 6, IsStable: true}); err != nil {
		t.Fatal(err)
	}

	if !r.IsKnown("BTC") || !r.IsListed("BTC") {
		t.Error("BTC should be known and listed")
	}
	if r.IsStable("BTC") {
		t.Error("BTC should not be stable")
	}
	if !r.IsStable("USDT") {
		t.Error("USDT should be stable")
	}
	if tok, ok := r.Get("USDT"); !ok || tok.Decimals != 6 {
		t.Errorf("Get(USDT) = %+v, %v", tok, ok)
	}
	if got := len(r.Symbols()); got != 2 {
		t.Errorf("symbols = %d, want 2", got)
	}
}

func TestRegistryRejectsInvalidTokens(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(Token{Symbol: ""}); err == nil {
		t.Error("empty symbol should fail")
	}
	if err := r.Add(Token{Symbol: "BAD", Decimals: 31}); err == nil {
		t.Error("decimals beyond the value scale should fail")
	}
	if err := r.Add(Token{Symbol: "BTC", Decimals: 8}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(Token{Symbol: "BTC", Decimals: 8}); err == nil {
		t.Error("duplicate symbol should fail")
	}
}

func TestRegistryDelistRelist(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(Token{Symbol: "BTC", Decimals: 8}); err != nil {
		t.Fatal(err)
	}

	r.Delist("BTC")
	if r.IsListed("BTC") {
		t.Error("delisted token should not be listed")
	}
	if !r.IsKnown("BTC") {
		t.Error("delisted token should stay known")
	}

	if err := r.Relist("DOGE"); err == nil {
		t.Error("relisting an unknown token should fail")
	}
	if err := r.Relist("BTC"); err != nil {
		t.Fatal(err)
	}
	if !r.IsListed("BTC") {
		t.Error("relisted token should be listed again")
	}
}

func TestPriceScale(t *testing.T) {
	btc := Token{Symbol: "BTC", Decimals: 8}
	// A $20000 quote times one whole BTC in raw units lands on 30-decimal USD.
	price := new(big.Int).Mul(big.NewInt(20_000), btc.PriceScale())
	value := new(big.Int).Mul(price, fpmath.Pow10(8))
	want := new(big.Int).Mul(big.NewInt(20_000), fpmath.Pow10(30))
	if value.Cmp(want) != 0 {
		t.Errorf("value = %s, want %s", value, want)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(Token{Symbol: "BTC", Decimals: 8}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			sym := fmt.Sprintf("TOK%d", i)
			if err := r.Add(Token{Symbol: sym, Decimals: 18}); err != nil {
				t.Error(err)
				return
			}
			r.Delist(sym)
			if err := r.Relist(sym); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if !r.IsKnown("BTC") || !r.IsListed("BTC") || r.IsStable("BTC") {
				t.Error("BTC flags changed under concurrent admin traffic")
				return
			}
			_ = r.Symbols()
			_, _ = r.Get("BTC")
		}
	}()
	wg.Wait()
}
